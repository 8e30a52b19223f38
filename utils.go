package tune

import (
	"math"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/stat"
)

//////
// Helper functions.
//////

// FailureScore is the score assigned to a failed trial. Half of MaxFloat64
// leaves headroom so that sums of sentinel scores do not overflow.
const FailureScore = math.MaxFloat64 / 2

// Helper function used by PI and EI to compute the cumulative distribution
// function of the standard normal distribution.
func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// Helper function used by EI to compute the probability density function
// of the standard normal distribution.
func normalPDF(x float64) float64 {
	return math.Exp(-x*x/2.0) / math.Sqrt(2.0*math.Pi)
}

// clamp limits v to [lo, hi].
func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// standardize returns (v - mean) / std for every value, together with the
// mean and population std used. A zero spread maps every value to 0.
func standardize(values []float64) (out []float64, mean, std float64) {
	out = make([]float64, len(values))
	if len(values) == 0 {
		return out, 0, 1
	}

	mean, std = stat.PopMeanStdDev(values, nil)
	if !(std > 0) {
		std = 1
	}

	for i, v := range values {
		out[i] = (v - mean) / std
	}

	return out, mean, std
}
