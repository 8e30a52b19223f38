package tune

import "context"

// Learner fits a model on training rows. Fit must not retain or modify x or
// y, and every call must produce an independent Predictor.
//
// Learners that need an internal validation slice (early stopping) carve it
// out of the rows they are given; they never see the caller's held-out rows.
type Learner interface {
	Fit(ctx context.Context, x [][]float64, y []float64) (Predictor, error)
}

// Predictor is a fitted model.
type Predictor interface {
	Predict(x [][]float64) ([]float64, error)
}

// LearnerFactory builds a fresh Learner from a configuration. It returns an
// error for configurations the learner cannot honour.
type LearnerFactory func(params Params) (Learner, error)

// LearnerFunc adapts a function to the Learner interface.
type LearnerFunc func(ctx context.Context, x [][]float64, y []float64) (Predictor, error)

// Fit implements Learner.
func (f LearnerFunc) Fit(ctx context.Context, x [][]float64, y []float64) (Predictor, error) {
	return f(ctx, x, y)
}

// PredictorFunc adapts a function to the Predictor interface.
type PredictorFunc func(x [][]float64) ([]float64, error)

// Predict implements Predictor.
func (f PredictorFunc) Predict(x [][]float64) ([]float64, error) {
	return f(x)
}
