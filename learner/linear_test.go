package learner

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thalesfsp/tune"
)

func planeData() ([][]float64, []float64) {
	var (
		x [][]float64
		y []float64
	)

	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			a, b := float64(i), float64(j)*0.5
			x = append(x, []float64{a, b})
			y = append(y, 3*a-2*b+1)
		}
	}

	return x, y
}

func TestRidgeRecoversPlane(t *testing.T) {
	x, y := planeData()

	r, err := NewRidge(tune.Params{})
	require.NoError(t, err)

	model, err := r.Fit(context.Background(), x, y)
	require.NoError(t, err)

	lin := model.(*Linear)
	assert.InDelta(t, 3.0, lin.Weights[0], 1e-9)
	assert.InDelta(t, -2.0, lin.Weights[1], 1e-9)
	assert.InDelta(t, 1.0, lin.Intercept, 1e-9)

	pred, err := model.Predict([][]float64{{10, 10}})
	require.NoError(t, err)
	assert.InDelta(t, 11.0, pred[0], 1e-8)
}

func TestRidgeShrinks(t *testing.T) {
	x, y := planeData()

	r, err := NewRidge(tune.Params{ParamAlpha: 1e6})
	require.NoError(t, err)

	model, err := r.Fit(context.Background(), x, y)
	require.NoError(t, err)

	lin := model.(*Linear)
	for _, w := range lin.Weights {
		assert.Less(t, math.Abs(w), 0.1)
	}
}

func TestRidgeErrors(t *testing.T) {
	_, err := NewRidge(tune.Params{ParamAlpha: -1.0})
	assert.ErrorIs(t, err, ErrInvalidParams)

	r, err := NewRidge(tune.Params{})
	require.NoError(t, err)

	_, err = r.Fit(context.Background(), [][]float64{{1, math.NaN()}}, []float64{1})
	assert.Error(t, err)

	model, err := r.Fit(context.Background(), [][]float64{{1}, {2}, {3}}, []float64{1, 2, 3})
	require.NoError(t, err)

	_, err = model.Predict([][]float64{{1, 2}})
	assert.ErrorIs(t, err, tune.ErrRaggedFeatures)
}
