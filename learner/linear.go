package learner

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/thalesfsp/tune"
	"gonum.org/v1/gonum/mat"
)

// ParamAlpha is the L2 penalty of the ridge learner.
const ParamAlpha = "alpha"

// Ridge is linear least squares with an L2 penalty on the weights. The
// intercept is not penalized.
type Ridge struct {
	Alpha float64
}

// NewRidge builds a ridge learner from a configuration. alpha defaults to 0,
// plain least squares.
func NewRidge(p tune.Params) (*Ridge, error) {
	alpha := p.Float(ParamAlpha, 0)
	if alpha < 0 || math.IsNaN(alpha) {
		return nil, fmt.Errorf("%w: %s must be >= 0, got %v", ErrInvalidParams, ParamAlpha, alpha)
	}

	return &Ridge{Alpha: alpha}, nil
}

// Fit solves the penalized problem as an augmented least squares system
//
//	[ X        1 ] w = [ y ]
//	[ sqrt(a)I 0 ]     [ 0 ]
//
// with a QR (or LQ, when underdetermined) factorization.
func (r *Ridge) Fit(ctx context.Context, x [][]float64, y []float64) (tune.Predictor, error) {
	if err := checkXY(x, y); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, nf := len(x), len(x[0])

	rows := n
	if r.Alpha > 0 {
		rows += nf
	}

	a := mat.NewDense(rows, nf+1, nil)
	b := mat.NewDense(rows, 1, nil)

	for i, row := range x {
		for j, v := range row {
			a.Set(i, j, v)
		}

		a.Set(i, nf, 1)
		b.Set(i, 0, y[i])
	}

	if r.Alpha > 0 {
		s := math.Sqrt(r.Alpha)
		for j := 0; j < nf; j++ {
			a.Set(n+j, j, s)
		}
	}

	var w mat.Dense
	if err := w.Solve(a, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("solving least squares: %w", err)
		}
		// Ill-conditioned systems still yield a usable solution.
	}

	model := &Linear{Weights: make([]float64, nf), Intercept: w.At(nf, 0)}
	for j := range model.Weights {
		model.Weights[j] = w.At(j, 0)
	}

	if !isFinite(model.Weights) || !isFinite([]float64{model.Intercept}) {
		return nil, errors.New("least squares produced non-finite weights")
	}

	return model, nil
}

// Linear is a fitted linear model.
type Linear struct {
	Weights   []float64
	Intercept float64
}

// Predict implements tune.Predictor.
func (l *Linear) Predict(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))

	for i, row := range x {
		if len(row) != len(l.Weights) {
			return nil, fmt.Errorf("%w: row %d has %d features, model has %d", tune.ErrRaggedFeatures, i, len(row), len(l.Weights))
		}

		v := l.Intercept
		for j, w := range l.Weights {
			v += w * row[j]
		}

		out[i] = v
	}

	return out, nil
}
