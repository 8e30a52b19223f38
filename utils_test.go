package tune

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStandardize(t *testing.T) {
	out, mean, std := standardize([]float64{2, 4, 4, 4, 5, 5, 7, 9})

	assert.Equal(t, 5.0, mean)
	assert.Equal(t, 2.0, std)
	assert.InDeltaSlice(t, []float64{-1.5, -0.5, -0.5, -0.5, 0, 0, 1, 2}, out, 1e-12)

	out, mean, std = standardize([]float64{3, 3, 3})
	assert.Equal(t, 3.0, mean)
	assert.Equal(t, 1.0, std)
	assert.Equal(t, []float64{0, 0, 0}, out)

	out, _, std = standardize(nil)
	assert.Empty(t, out)
	assert.Equal(t, 1.0, std)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, clamp(-3, 1, 8))
	assert.Equal(t, 8, clamp(12, 1, 8))
	assert.Equal(t, 0.5, clamp(0.5, 0.0, 1.0))
}
