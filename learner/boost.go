package learner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/thalesfsp/tune"
)

// Parameter names understood by the boosted-tree learners.
const (
	ParamEstimators          = "n_estimators"
	ParamLearningRate        = "learning_rate"
	ParamMaxDepth            = "max_depth"
	ParamNumLeaves           = "num_leaves"
	ParamMinChildWeight      = "min_child_weight"
	ParamMinChildSamples     = "min_child_samples"
	ParamGamma               = "gamma"
	ParamSubsample           = "subsample"
	ParamColsampleByTree     = "colsample_bytree"
	ParamRegAlpha            = "reg_alpha"
	ParamRegLambda           = "reg_lambda"
	ParamEarlyStoppingRounds = "early_stopping_rounds"
	ParamValidationFraction  = "validation_fraction"
	ParamSeed                = "seed"
)

// ErrInvalidParams is returned for configurations a learner cannot honour.
var ErrInvalidParams = errors.New("invalid learner parameters")

// BoostParams configures gradient boosting of regression trees on squared
// error.
type BoostParams struct {
	Estimators      int
	LearningRate    float64
	MaxDepth        int // <= 0: unlimited
	NumLeaves       int // leaf-wise only, <= 0: unlimited
	MinChildWeight  float64
	MinChildSamples int
	Gamma           float64
	Subsample       float64
	ColsampleByTree float64
	RegAlpha        float64
	RegLambda       float64

	// EarlyStoppingRounds stops boosting once the holdout RMSE has not
	// improved for that many rounds. Zero disables early stopping.
	EarlyStoppingRounds int

	// ValidationFraction is the share of the rows given to Fit held out
	// for early stopping.
	ValidationFraction float64

	Seed     int64
	Leafwise bool
}

// Validate rejects out-of-range values.
func (p BoostParams) Validate() error {
	switch {
	case p.Estimators < 1:
		return fmt.Errorf("%w: %s must be >= 1, got %d", ErrInvalidParams, ParamEstimators, p.Estimators)
	case p.LearningRate <= 0 || math.IsNaN(p.LearningRate):
		return fmt.Errorf("%w: %s must be > 0, got %v", ErrInvalidParams, ParamLearningRate, p.LearningRate)
	case p.Subsample <= 0 || p.Subsample > 1:
		return fmt.Errorf("%w: %s must be in (0, 1], got %v", ErrInvalidParams, ParamSubsample, p.Subsample)
	case p.ColsampleByTree <= 0 || p.ColsampleByTree > 1:
		return fmt.Errorf("%w: %s must be in (0, 1], got %v", ErrInvalidParams, ParamColsampleByTree, p.ColsampleByTree)
	case p.RegAlpha < 0 || p.RegLambda < 0 || p.Gamma < 0 || p.MinChildWeight < 0:
		return fmt.Errorf("%w: regularization terms must be >= 0", ErrInvalidParams)
	case p.Leafwise && p.NumLeaves == 1:
		return fmt.Errorf("%w: %s must be >= 2", ErrInvalidParams, ParamNumLeaves)
	case p.EarlyStoppingRounds < 0:
		return fmt.Errorf("%w: %s must be >= 0", ErrInvalidParams, ParamEarlyStoppingRounds)
	case p.ValidationFraction < 0 || p.ValidationFraction >= 1:
		return fmt.Errorf("%w: %s must be in [0, 1), got %v", ErrInvalidParams, ParamValidationFraction, p.ValidationFraction)
	}

	return nil
}

// defaultBoostParams mirrors the library defaults of the depth-wise family.
func defaultBoostParams() BoostParams {
	return BoostParams{
		Estimators:         100,
		LearningRate:       0.1,
		MaxDepth:           6,
		MinChildWeight:     1,
		MinChildSamples:    1,
		Subsample:          1,
		ColsampleByTree:    1,
		RegLambda:          1,
		ValidationFraction: 0.1,
		Seed:               42,
	}
}

func boostParamsFrom(p tune.Params, leafwise bool) BoostParams {
	bp := defaultBoostParams()
	if leafwise {
		bp.MaxDepth = -1
		bp.NumLeaves = 31
		bp.MinChildSamples = 20
		bp.MinChildWeight = 1e-3
		bp.RegLambda = 0
	}

	bp.Leafwise = leafwise
	bp.Estimators = p.Int(ParamEstimators, bp.Estimators)
	bp.LearningRate = p.Float(ParamLearningRate, bp.LearningRate)
	bp.MaxDepth = p.Int(ParamMaxDepth, bp.MaxDepth)
	bp.NumLeaves = p.Int(ParamNumLeaves, bp.NumLeaves)
	bp.MinChildWeight = p.Float(ParamMinChildWeight, bp.MinChildWeight)
	bp.MinChildSamples = p.Int(ParamMinChildSamples, bp.MinChildSamples)
	bp.Gamma = p.Float(ParamGamma, bp.Gamma)
	bp.Subsample = p.Float(ParamSubsample, bp.Subsample)
	bp.ColsampleByTree = p.Float(ParamColsampleByTree, bp.ColsampleByTree)
	bp.RegAlpha = p.Float(ParamRegAlpha, bp.RegAlpha)
	bp.RegLambda = p.Float(ParamRegLambda, bp.RegLambda)
	bp.EarlyStoppingRounds = p.Int(ParamEarlyStoppingRounds, bp.EarlyStoppingRounds)
	bp.ValidationFraction = p.Float(ParamValidationFraction, bp.ValidationFraction)
	bp.Seed = int64(p.Int(ParamSeed, int(bp.Seed)))

	return bp
}

// Booster is a gradient-boosted regression tree learner. Depth-wise boosters
// grow each tree level by level up to MaxDepth; leaf-wise boosters split the
// most promising leaf first up to NumLeaves.
type Booster struct {
	Params BoostParams
}

// NewDepthwise builds a depth-wise booster from a configuration.
func NewDepthwise(p tune.Params) (*Booster, error) {
	return newBooster(boostParamsFrom(p, false))
}

// NewLeafwise builds a leaf-wise booster from a configuration.
func NewLeafwise(p tune.Params) (*Booster, error) {
	return newBooster(boostParamsFrom(p, true))
}

func newBooster(bp BoostParams) (*Booster, error) {
	if err := bp.Validate(); err != nil {
		return nil, err
	}

	return &Booster{Params: bp}, nil
}

// Fit boosts trees on (x, y). With early stopping enabled the holdout is
// drawn from these rows only, and the returned model keeps the trees up to
// the best holdout round.
func (b *Booster) Fit(ctx context.Context, x [][]float64, y []float64) (tune.Predictor, error) {
	if err := checkXY(x, y); err != nil {
		return nil, err
	}

	p := b.Params
	rng := rand.New(rand.NewSource(p.Seed))
	nf := len(x[0])

	trainRows, holdout := splitHoldout(len(x), p, rng)

	var base float64
	for _, r := range trainRows {
		base += y[r]
	}

	base /= float64(len(trainRows))

	pred := make([]float64, len(x))
	for i := range pred {
		pred[i] = base
	}

	grad := make([]float64, len(x))
	hess := make([]float64, len(x))

	for i := range hess {
		hess[i] = 1
	}

	model := &Ensemble{Base: base, LearningRate: p.LearningRate, Features: nf}

	bestLoss, bestRound, sinceBest := math.Inf(1), 0, 0

	tp := treeParams{
		maxDepth:        p.MaxDepth,
		maxLeaves:       p.NumLeaves,
		minChildWeight:  p.MinChildWeight,
		minChildSamples: p.MinChildSamples,
		lambda:          p.RegLambda,
		alpha:           p.RegAlpha,
		gamma:           p.Gamma,
		leafwise:        p.Leafwise,
	}

	for round := 0; round < p.Estimators; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, r := range trainRows {
			grad[r] = pred[r] - y[r]
		}

		tb := &treeBuilder{
			x:        x,
			grad:     grad,
			hess:     hess,
			features: sampleColumns(nf, p.ColsampleByTree, rng),
			p:        tp,
		}

		tree := tb.build(sampleRows(trainRows, p.Subsample, rng))
		model.Trees = append(model.Trees, tree)

		for i := range x {
			pred[i] += p.LearningRate * tree.predict(x[i])
		}

		if len(holdout) == 0 {
			continue
		}

		var loss float64
		for _, r := range holdout {
			d := pred[r] - y[r]
			loss += d * d
		}

		if loss < bestLoss {
			bestLoss, bestRound, sinceBest = loss, round+1, 0
		} else if sinceBest++; sinceBest >= p.EarlyStoppingRounds {
			break
		}
	}

	if len(holdout) > 0 {
		model.Trees = model.Trees[:bestRound]
	}

	return model, nil
}

// splitHoldout separates the early-stopping holdout from the training rows.
// Without early stopping, or with too few rows, every row trains.
func splitHoldout(n int, p BoostParams, rng *rand.Rand) (train, holdout []int) {
	nv := int(math.Ceil(float64(n) * p.ValidationFraction))
	if p.EarlyStoppingRounds == 0 || nv == 0 || nv >= n {
		train = make([]int, n)
		for i := range train {
			train[i] = i
		}

		return train, nil
	}

	perm := rng.Perm(n)

	return perm[nv:], perm[:nv]
}

// sampleRows draws ceil(fraction * len(rows)) rows without replacement.
func sampleRows(rows []int, fraction float64, rng *rand.Rand) []int {
	if fraction >= 1 {
		return rows
	}

	k := int(math.Ceil(fraction * float64(len(rows))))
	out := make([]int, k)

	for i, j := range rng.Perm(len(rows))[:k] {
		out[i] = rows[j]
	}

	return out
}

// sampleColumns draws ceil(fraction * n) feature indices, in ascending order.
func sampleColumns(n int, fraction float64, rng *rand.Rand) []int {
	if fraction >= 1 {
		cols := make([]int, n)
		for i := range cols {
			cols[i] = i
		}

		return cols
	}

	k := int(math.Ceil(fraction * float64(n)))
	chosen := make([]bool, n)

	for _, j := range rng.Perm(n)[:k] {
		chosen[j] = true
	}

	cols := make([]int, 0, k)

	for i, ok := range chosen {
		if ok {
			cols = append(cols, i)
		}
	}

	return cols
}

// Ensemble is a fitted booster: Base plus LearningRate times the sum of the
// tree outputs.
type Ensemble struct {
	Base         float64
	LearningRate float64
	Features     int
	Trees        []*regTree
}

// Predict implements tune.Predictor.
func (e *Ensemble) Predict(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))

	for i, row := range x {
		if len(row) != e.Features {
			return nil, fmt.Errorf("%w: row %d has %d features, model has %d", tune.ErrRaggedFeatures, i, len(row), e.Features)
		}

		v := e.Base
		for _, t := range e.Trees {
			v += e.LearningRate * t.predict(row)
		}

		out[i] = v
	}

	return out, nil
}

// checkXY validates training input.
func checkXY(x [][]float64, y []float64) error {
	if len(x) == 0 {
		return tune.ErrEmptyDataset
	}

	if len(x) != len(y) {
		return fmt.Errorf("%w: %d rows vs %d targets", tune.ErrLengthMismatch, len(x), len(y))
	}

	nf := len(x[0])

	for i, row := range x {
		if len(row) != nf {
			return fmt.Errorf("%w: row %d has %d features, want %d", tune.ErrRaggedFeatures, i, len(row), nf)
		}

		if !isFinite(row) {
			return fmt.Errorf("row %d has non-finite features", i)
		}
	}

	if !isFinite(y) {
		return errors.New("non-finite targets")
	}

	return nil
}
