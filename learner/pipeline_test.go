package learner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thalesfsp/tune"
)

func TestPolyTerms(t *testing.T) {
	assert.Equal(t, [][]int{{0}, {1}}, polyTerms(2, 1))
	assert.Equal(t, [][]int{{0}, {1}, {0, 0}, {0, 1}, {1, 1}}, polyTerms(2, 2))

	// 3 features, degree 3: 3 + 6 + 10 terms.
	assert.Len(t, polyTerms(3, 3), 19)
}

func TestPipelineFitsQuadratic(t *testing.T) {
	var (
		x [][]float64
		y []float64
	)

	for v := -2.0; v <= 2.0; v += 0.25 {
		x = append(x, []float64{v})
		y = append(y, v*v-v+3)
	}

	ridge, err := NewRidge(tune.Params{})
	require.NoError(t, err)

	p, err := NewPipeline(2, ridge)
	require.NoError(t, err)

	model, err := p.Fit(context.Background(), x, y)
	require.NoError(t, err)

	pred, err := model.Predict([][]float64{{1.1}, {3}})
	require.NoError(t, err)

	assert.InDelta(t, 1.1*1.1-1.1+3, pred[0], 1e-8)
	assert.InDelta(t, 9.0, pred[1], 1e-8)

	// Degree 1 cannot bend.
	p1, err := NewPipeline(1, ridge)
	require.NoError(t, err)

	linear, err := p1.Fit(context.Background(), x, y)
	require.NoError(t, err)

	pred, err = linear.Predict([][]float64{{3}})
	require.NoError(t, err)
	assert.Greater(t, 9.0-pred[0], 1.0)
}

func TestPipelineConstantFeature(t *testing.T) {
	x := [][]float64{{1, 5}, {2, 5}, {3, 5}, {4, 5}}
	y := []float64{2, 4, 6, 8}

	// The constant column expands to all-zero terms; a small penalty keeps
	// the system full rank.
	ridge, err := NewRidge(tune.Params{ParamAlpha: 1e-8})
	require.NoError(t, err)

	p, err := NewPipeline(2, ridge)
	require.NoError(t, err)

	model, err := p.Fit(context.Background(), x, y)
	require.NoError(t, err)

	pred, err := model.Predict([][]float64{{5, 5}})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, pred[0], 1e-6)
}

func TestPipelineErrors(t *testing.T) {
	ridge, err := NewRidge(tune.Params{})
	require.NoError(t, err)

	_, err = NewPipeline(0, ridge)
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewPipeline(maxPolyDegree+1, ridge)
	assert.ErrorIs(t, err, ErrInvalidParams)

	p, err := NewPipeline(1, ridge)
	require.NoError(t, err)

	model, err := p.Fit(context.Background(), [][]float64{{1}, {2}}, []float64{1, 2})
	require.NoError(t, err)

	_, err = model.Predict([][]float64{{1, 2}})
	assert.ErrorIs(t, err, tune.ErrRaggedFeatures)
}

func TestPipelineScalerUsesPopulationStatistics(t *testing.T) {
	x := [][]float64{{2, 7}, {4, 7}, {4, 7}, {4, 7}, {5, 7}, {5, 7}, {7, 7}, {9, 7}}
	y := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	ridge, err := NewRidge(tune.Params{ParamAlpha: 1e-3})
	require.NoError(t, err)

	p, err := NewPipeline(1, ridge)
	require.NoError(t, err)

	model, err := p.Fit(context.Background(), x, y)
	require.NoError(t, err)

	s := model.(*pipelineModel).scaler

	assert.InDeltaSlice(t, []float64{5, 7}, s.mean, 1e-12)

	// Population std of the first column is exactly 2; the constant column
	// falls back to 1.
	assert.InDeltaSlice(t, []float64{2, 1}, s.std, 1e-12)
}
