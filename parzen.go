package tune

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/c-bata/goptuna"
	"gonum.org/v1/gonum/floats"
)

// parzenSampler is a Tree-structured Parzen Estimator for goptuna studies.
// Every draw, startup or model-based, comes from one seeded source, so a
// study replays identically for the same seed and the same history.
type parzenSampler struct {
	mu  sync.Mutex
	rng *rand.Rand

	// startup trials are sampled uniformly before the estimator kicks in.
	startup int

	// candidates drawn from the good-trials mixture per suggestion.
	candidates int

	priorWeight float64
}

var _ goptuna.Sampler = (*parzenSampler)(nil)

func newParzenSampler(seed int64, startup int) *parzenSampler {
	return &parzenSampler{
		rng:         rand.New(rand.NewSource(seed)),
		startup:     startup,
		candidates:  24,
		priorWeight: 1.0,
	}
}

// Sample implements goptuna.Sampler. It returns the internal representation
// goptuna expects: the value itself for numeric distributions and the choice
// index for categorical ones.
func (p *parzenSampler) Sample(study *goptuna.Study, _ goptuna.FrozenTrial, name string, distribution interface{}) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	values, scores, err := observations(study, name)
	if err != nil {
		return 0, err
	}

	if len(values) < p.startup {
		return p.sampleUniform(distribution)
	}

	below, above := splitObservations(values, scores)

	switch d := distribution.(type) {
	case goptuna.UniformDistribution:
		if d.Single() {
			return d.Low, nil
		}

		return p.sampleNumeric(d.Low, d.High, below, above, 0), nil
	case goptuna.LogUniformDistribution:
		if d.Single() {
			return d.Low, nil
		}

		v := p.sampleNumeric(math.Log(d.Low), math.Log(d.High), logAll(below), logAll(above), 0)

		return clamp(math.Exp(v), d.Low, d.High), nil
	case goptuna.IntUniformDistribution:
		if d.Single() {
			return float64(d.Low), nil
		}

		// Each integer owns the unit interval around it.
		v := p.sampleNumeric(float64(d.Low)-0.5, float64(d.High)+0.5, below, above, 1)

		return clamp(v, float64(d.Low), float64(d.High)), nil
	case goptuna.CategoricalDistribution:
		if d.Single() {
			return 0, nil
		}

		return p.sampleCategorical(len(d.Choices), below, above), nil
	}

	return 0, goptuna.ErrUnknownDistribution
}

func (p *parzenSampler) sampleUniform(distribution interface{}) (float64, error) {
	switch d := distribution.(type) {
	case goptuna.UniformDistribution:
		return d.Low + p.rng.Float64()*(d.High-d.Low), nil
	case goptuna.LogUniformDistribution:
		lo, hi := math.Log(d.Low), math.Log(d.High)

		return clamp(math.Exp(lo+p.rng.Float64()*(hi-lo)), d.Low, d.High), nil
	case goptuna.IntUniformDistribution:
		return float64(d.Low + p.rng.Intn(d.High-d.Low+1)), nil
	case goptuna.CategoricalDistribution:
		return float64(p.rng.Intn(len(d.Choices))), nil
	}

	return 0, goptuna.ErrUnknownDistribution
}

// sampleNumeric draws candidates from the mixture fitted on the good trials
// and keeps the one maximizing l(x)/g(x). A positive q rounds candidates to
// multiples of q and scores the mass of the q-wide bin around them.
func (p *parzenSampler) sampleNumeric(low, high float64, below, above []float64, q float64) float64 {
	good := newMixture(below, low, high, p.priorWeight)
	bad := newMixture(above, low, high, p.priorWeight)

	best, bestScore := 0.0, math.Inf(-1)

	for i := 0; i < p.candidates; i++ {
		x := good.draw(p.rng)
		if q > 0 {
			x = math.Round(x/q) * q
		}

		score := good.logDensity(x, q) - bad.logDensity(x, q)
		if i == 0 || score > bestScore {
			best, bestScore = x, score
		}
	}

	return best
}

func (p *parzenSampler) sampleCategorical(n int, below, above []float64) float64 {
	good := categoricalWeights(below, n, p.priorWeight)
	bad := categoricalWeights(above, n, p.priorWeight)

	// Small choice sets are scored exhaustively.
	var candidates []int
	if n <= p.candidates {
		candidates = make([]int, n)
		for i := range candidates {
			candidates[i] = i
		}
	} else {
		candidates = make([]int, p.candidates)
		for i := range candidates {
			candidates[i] = pickWeighted(p.rng, good)
		}
	}

	best, bestScore := candidates[0], math.Inf(-1)

	for _, c := range candidates {
		if score := math.Log(good[c]) - math.Log(bad[c]); score > bestScore {
			best, bestScore = c, score
		}
	}

	return float64(best)
}

// observations returns, in trial order, the internal value of name and the
// score of every completed trial that suggested it.
func observations(study *goptuna.Study, name string) (values, scores []float64, err error) {
	trials, err := study.GetTrials()
	if err != nil {
		return nil, nil, err
	}

	sort.SliceStable(trials, func(i, j int) bool { return trials[i].Number < trials[j].Number })

	for _, t := range trials {
		if t.State != goptuna.TrialStateComplete {
			continue
		}

		v, ok := t.InternalParams[name]
		if !ok {
			continue
		}

		values = append(values, v)
		scores = append(scores, t.Value)
	}

	return values, scores, nil
}

// splitObservations separates the best gamma(n) observations from the rest.
// Equal scores keep trial order. Both halves stay in trial order, which the
// recency weights rely on.
func splitObservations(values, scores []float64) (below, above []float64) {
	n := len(values)

	nBelow := int(math.Ceil(0.1 * float64(n)))
	if nBelow > 25 {
		nBelow = 25
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] < scores[order[j]] })

	isBelow := make([]bool, n)
	for _, i := range order[:nBelow] {
		isBelow[i] = true
	}

	for i, v := range values {
		if isBelow[i] {
			below = append(below, v)
		} else {
			above = append(above, v)
		}
	}

	return below, above
}

// recencyWeights gives the 25 most recent observations full weight and
// ramps older ones down linearly.
func recencyWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}

	if n <= 25 {
		return w
	}

	ramp := n - 25
	for i := 0; i < ramp; i++ {
		if ramp == 1 {
			w[i] = 1 / float64(n)
			continue
		}

		w[i] = 1/float64(n) + float64(i)*(1-1/float64(n))/float64(ramp-1)
	}

	return w
}

// mixture is a truncated Gaussian mixture on [low, high): one component per
// observation plus a wide prior centered on the range.
type mixture struct {
	low, high float64
	weights   []float64
	mus       []float64
	sigmas    []float64
}

func newMixture(obs []float64, low, high, priorWeight float64) *mixture {
	type component struct{ mu, w float64 }

	weights := recencyWeights(len(obs))

	comps := make([]component, 0, len(obs)+1)
	for i, v := range obs {
		comps = append(comps, component{v, weights[i]})
	}

	sort.SliceStable(comps, func(i, j int) bool { return comps[i].mu < comps[j].mu })

	priorMu := 0.5 * (low + high)
	prior := sort.Search(len(comps), func(i int) bool { return comps[i].mu >= priorMu })
	comps = append(comps, component{})
	copy(comps[prior+1:], comps[prior:])
	comps[prior] = component{priorMu, priorWeight}

	m := &mixture{
		low:     low,
		high:    high,
		weights: make([]float64, len(comps)),
		mus:     make([]float64, len(comps)),
		sigmas:  make([]float64, len(comps)),
	}

	for i, c := range comps {
		m.mus[i], m.weights[i] = c.mu, c.w
	}

	floats.Scale(1/floats.Sum(m.weights), m.weights)

	// Bandwidth: distance to the farther neighbour, one-sided at the ends,
	// clipped so no component is wider than the range or vanishingly thin.
	span := high - low
	minSigma := span / math.Min(100, 1+float64(len(comps)))

	for i := range m.mus {
		var left, right float64
		if i > 0 {
			left = m.mus[i] - m.mus[i-1]
		} else {
			left = m.mus[i] - low
		}

		if i < len(m.mus)-1 {
			right = m.mus[i+1] - m.mus[i]
		} else {
			right = high - m.mus[i]
		}

		switch {
		case len(m.mus) == 1:
			m.sigmas[i] = span
		case i == 0:
			m.sigmas[i] = right
		case i == len(m.mus)-1:
			m.sigmas[i] = left
		default:
			m.sigmas[i] = math.Max(left, right)
		}

		m.sigmas[i] = clamp(m.sigmas[i], minSigma, span)
	}

	m.sigmas[prior] = span

	return m
}

// draw samples the mixture by rejection inside [low, high).
func (m *mixture) draw(rng *rand.Rand) float64 {
	for {
		k := pickWeighted(rng, m.weights)

		x := m.mus[k] + rng.NormFloat64()*m.sigmas[k]
		if x >= m.low && x < m.high {
			return x
		}
	}
}

// logDensity is the log of the truncated mixture density at x, or of the
// probability mass of [x-q/2, x+q/2] when q is positive.
func (m *mixture) logDensity(x, q float64) float64 {
	var mass, accept float64

	for k, w := range m.weights {
		mu, sigma := m.mus[k], math.Max(m.sigmas[k], 1e-12)
		cdf := func(v float64) float64 { return normalCDF((v - mu) / sigma) }

		accept += w * (cdf(m.high) - cdf(m.low))

		if q > 0 {
			lo, hi := math.Max(x-q/2, m.low), math.Min(x+q/2, m.high)
			mass += w * (cdf(hi) - cdf(lo))
		} else {
			mass += w * normalPDF((x-mu)/sigma) / sigma
		}
	}

	return math.Log(mass+1e-12) - math.Log(accept+1e-12)
}

// categoricalWeights turns observed choice indices into a smoothed,
// recency-weighted distribution over n choices.
func categoricalWeights(obs []float64, n int, priorWeight float64) []float64 {
	p := make([]float64, n)
	for i := range p {
		p[i] = priorWeight
	}

	for i, w := range recencyWeights(len(obs)) {
		if c := int(obs[i]); c >= 0 && c < n {
			p[c] += w
		}
	}

	floats.Scale(1/floats.Sum(p), p)

	return p
}

// pickWeighted draws an index with probability proportional to weights.
func pickWeighted(rng *rand.Rand, weights []float64) int {
	r := rng.Float64() * floats.Sum(weights)

	for i, w := range weights {
		if r < w {
			return i
		}

		r -= w
	}

	return len(weights) - 1
}

func logAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Log(v)
	}

	return out
}
