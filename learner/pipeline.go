package learner

import (
	"context"
	"fmt"

	"github.com/thalesfsp/tune"
	"gonum.org/v1/gonum/stat"
)

// ParamPolyDegree selects the polynomial expansion degree of a Pipeline.
const ParamPolyDegree = "poly_degree"

// maxPolyDegree bounds the expansion; higher degrees blow up the feature
// count combinatorially.
const maxPolyDegree = 4

// Pipeline standardizes features, expands them into polynomial terms and
// hands the result to Inner. Scaling statistics come from the rows given to
// Fit only.
type Pipeline struct {
	// Degree of the polynomial expansion. 1 keeps the scaled features.
	Degree int

	Inner tune.Learner
}

// NewPipeline wraps inner with scaling and an expansion of the given degree.
func NewPipeline(degree int, inner tune.Learner) (*Pipeline, error) {
	if degree < 1 || degree > maxPolyDegree {
		return nil, fmt.Errorf("%w: %s must be in [1, %d], got %d", ErrInvalidParams, ParamPolyDegree, maxPolyDegree, degree)
	}

	return &Pipeline{Degree: degree, Inner: inner}, nil
}

// Fit implements tune.Learner.
func (p *Pipeline) Fit(ctx context.Context, x [][]float64, y []float64) (tune.Predictor, error) {
	if err := checkXY(x, y); err != nil {
		return nil, err
	}

	nf := len(x[0])
	s := &scaler{mean: make([]float64, nf), std: make([]float64, nf)}
	col := make([]float64, len(x))

	for j := 0; j < nf; j++ {
		for i, row := range x {
			col[i] = row[j]
		}

		s.mean[j], s.std[j] = stat.PopMeanStdDev(col, nil)
		// Constant columns can come back as a rounding-level NaN.
		if !(s.std[j] > 0) {
			s.std[j] = 1
		}
	}

	terms := polyTerms(nf, p.Degree)

	inner, err := p.Inner.Fit(ctx, transform(x, s, terms), y)
	if err != nil {
		return nil, err
	}

	return &pipelineModel{scaler: s, terms: terms, inner: inner}, nil
}

type scaler struct {
	mean, std []float64
}

type pipelineModel struct {
	scaler *scaler
	terms  [][]int
	inner  tune.Predictor
}

// Predict implements tune.Predictor.
func (m *pipelineModel) Predict(x [][]float64) ([]float64, error) {
	for i, row := range x {
		if len(row) != len(m.scaler.mean) {
			return nil, fmt.Errorf("%w: row %d has %d features, model has %d", tune.ErrRaggedFeatures, i, len(row), len(m.scaler.mean))
		}
	}

	return m.inner.Predict(transform(x, m.scaler, m.terms))
}

// polyTerms lists every monomial of degree 1..degree over nf features as the
// multiset of feature indices it multiplies, in graded lexicographic order.
func polyTerms(nf, degree int) [][]int {
	var terms [][]int

	var walk func(start int, cur []int)
	walk = func(start int, cur []int) {
		if len(cur) > 0 {
			terms = append(terms, append([]int(nil), cur...))
		}

		if len(cur) == degree {
			return
		}

		for j := start; j < nf; j++ {
			walk(j, append(cur, j))
		}
	}

	walk(0, nil)

	// walk yields depth-first order; regroup by degree.
	byDegree := make([][][]int, degree+1)
	for _, t := range terms {
		byDegree[len(t)] = append(byDegree[len(t)], t)
	}

	terms = terms[:0]
	for _, group := range byDegree {
		terms = append(terms, group...)
	}

	return terms
}

func transform(x [][]float64, s *scaler, terms [][]int) [][]float64 {
	out := make([][]float64, len(x))
	scaled := make([]float64, len(s.mean))

	for i, row := range x {
		for j, v := range row {
			scaled[j] = (v - s.mean[j]) / s.std[j]
		}

		out[i] = make([]float64, len(terms))

		for k, t := range terms {
			v := 1.0
			for _, j := range t {
				v *= scaled[j]
			}

			out[i][k] = v
		}
	}

	return out
}
