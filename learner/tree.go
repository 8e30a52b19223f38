package learner

import (
	"math"
	"sort"
)

// node is a tree node stored by index. Internal nodes send rows with
// x[feature] < threshold to left, the others to right.
type node struct {
	feature     int
	threshold   float64
	left, right int
	value       float64
	leaf        bool
}

// regTree is a regression tree fitted on gradient statistics.
type regTree struct {
	nodes []node
}

func (t *regTree) predict(x []float64) float64 {
	i := 0
	for !t.nodes[i].leaf {
		n := t.nodes[i]
		if x[n.feature] < n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}

	return t.nodes[i].value
}

// treeParams bounds tree growth.
type treeParams struct {
	maxDepth        int // <= 0: unlimited
	maxLeaves       int // <= 0: unlimited
	minChildWeight  float64
	minChildSamples int
	lambda          float64
	alpha           float64
	gamma           float64
	leafwise        bool
}

// split is the best partition found for a set of rows.
type split struct {
	feature     int
	threshold   float64
	gain        float64
	left, right []int
}

// treeBuilder grows one tree from per-row gradients and hessians. Rows are
// indices into x, grad and hess.
type treeBuilder struct {
	x          [][]float64
	grad, hess []float64
	features   []int
	p          treeParams
	t          *regTree
}

func (b *treeBuilder) build(rows []int) *regTree {
	b.t = &regTree{}

	if b.p.leafwise {
		b.growLeafwise(rows)
	} else {
		b.growDepthwise(rows, 0)
	}

	return b.t
}

// growDepthwise expands every node until maxDepth or no split gains.
func (b *treeBuilder) growDepthwise(rows []int, depth int) int {
	id := b.addLeaf(rows)

	if b.p.maxDepth > 0 && depth >= b.p.maxDepth {
		return id
	}

	s := b.bestSplit(rows)
	if s == nil {
		return id
	}

	left := b.growDepthwise(s.left, depth+1)
	right := b.growDepthwise(s.right, depth+1)
	b.setSplit(id, s, left, right)

	return id
}

// growLeafwise repeatedly splits the open leaf with the largest gain until
// maxLeaves is reached or no leaf can be split.
func (b *treeBuilder) growLeafwise(rows []int) {
	type candidate struct {
		id    int
		depth int
		s     *split
	}

	consider := func(id, depth int, rows []int) *candidate {
		if b.p.maxDepth > 0 && depth >= b.p.maxDepth {
			return nil
		}

		s := b.bestSplit(rows)
		if s == nil {
			return nil
		}

		return &candidate{id: id, depth: depth, s: s}
	}

	var open []*candidate

	if c := consider(b.addLeaf(rows), 0, rows); c != nil {
		open = append(open, c)
	}

	leaves := 1

	for len(open) > 0 && (b.p.maxLeaves <= 0 || leaves < b.p.maxLeaves) {
		best := 0
		for i, c := range open {
			if c.s.gain > open[best].s.gain {
				best = i
			}
		}

		c := open[best]
		open = append(open[:best], open[best+1:]...)

		left := b.addLeaf(c.s.left)
		right := b.addLeaf(c.s.right)
		b.setSplit(c.id, c.s, left, right)
		leaves++

		if lc := consider(left, c.depth+1, c.s.left); lc != nil {
			open = append(open, lc)
		}

		if rc := consider(right, c.depth+1, c.s.right); rc != nil {
			open = append(open, rc)
		}
	}
}

func (b *treeBuilder) addLeaf(rows []int) int {
	g, h := b.sums(rows)
	b.t.nodes = append(b.t.nodes, node{leaf: true, value: leafWeight(g, h, b.p.lambda, b.p.alpha), left: -1, right: -1})

	return len(b.t.nodes) - 1
}

func (b *treeBuilder) setSplit(id int, s *split, left, right int) {
	n := &b.t.nodes[id]
	n.leaf = false
	n.feature = s.feature
	n.threshold = s.threshold
	n.left = left
	n.right = right
}

func (b *treeBuilder) sums(rows []int) (g, h float64) {
	for _, r := range rows {
		g += b.grad[r]
		h += b.hess[r]
	}

	return g, h
}

// bestSplit scans every allowed feature with the exact greedy algorithm and
// returns the split with the largest positive gain, or nil. Earlier features
// and thresholds win ties.
func (b *treeBuilder) bestSplit(rows []int) *split {
	n := len(rows)
	minSamples := b.p.minChildSamples
	if minSamples < 1 {
		minSamples = 1
	}

	if n < 2*minSamples {
		return nil
	}

	g, h := b.sums(rows)
	parent := objective(g, h, b.p.lambda, b.p.alpha)

	var best *split

	sorted := make([]int, n)

	for _, f := range b.features {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool { return b.x[sorted[i]][f] < b.x[sorted[j]][f] })

		var gl, hl float64

		for i := 0; i < n-1; i++ {
			r := sorted[i]
			gl += b.grad[r]
			hl += b.hess[r]

			lo, hi := b.x[r][f], b.x[sorted[i+1]][f]
			if lo == hi {
				continue
			}

			nl, nr := i+1, n-i-1
			if nl < minSamples || nr < minSamples {
				continue
			}

			gr, hr := g-gl, h-hl
			if hl < b.p.minChildWeight || hr < b.p.minChildWeight {
				continue
			}

			gain := 0.5*(objective(gl, hl, b.p.lambda, b.p.alpha)+objective(gr, hr, b.p.lambda, b.p.alpha)-parent) - b.p.gamma
			if gain <= 1e-12 || (best != nil && gain <= best.gain) {
				continue
			}

			threshold := lo + (hi-lo)/2
			if threshold <= lo {
				threshold = hi
			}

			best = &split{feature: f, threshold: threshold, gain: gain}
			best.left = append(best.left[:0], sorted[:nl]...)
			best.right = append(best.right[:0], sorted[nl:]...)
		}
	}

	return best
}

// softThreshold applies L1 shrinkage to a gradient sum.
func softThreshold(g, alpha float64) float64 {
	switch {
	case g > alpha:
		return g - alpha
	case g < -alpha:
		return g + alpha
	default:
		return 0
	}
}

// leafWeight is the optimal leaf output for gradient sum g and hessian sum h.
func leafWeight(g, h, lambda, alpha float64) float64 {
	if h+lambda == 0 {
		return 0
	}

	return -softThreshold(g, alpha) / (h + lambda)
}

// objective is the loss reduction a leaf with sums (g, h) achieves.
func objective(g, h, lambda, alpha float64) float64 {
	if h+lambda == 0 {
		return 0
	}

	t := softThreshold(g, alpha)

	return t * t / (h + lambda)
}

// isFinite reports whether every value of row is a finite number.
func isFinite(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	return true
}
