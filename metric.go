package tune

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrEmptyDataset is returned for empty inputs.
	ErrEmptyDataset = errors.New("empty dataset")

	// ErrLengthMismatch is returned when paired inputs differ in length.
	ErrLengthMismatch = errors.New("length mismatch")
)

// RMSE returns the root-mean-square error sqrt(mean((actual - predicted)^2)).
//
// The L2 distance is accumulated with scaling, so large differences do not
// overflow the intermediate sum of squares.
func RMSE(actual, predicted []float64) (float64, error) {
	if err := checkPair(actual, predicted); err != nil {
		return 0, err
	}

	return floats.Distance(actual, predicted, 2) / math.Sqrt(float64(len(actual))), nil
}

// R2 returns the coefficient of determination, the fraction of the variance
// of actual explained by predicted. A constant actual scores 1 when predicted
// matches it exactly and 0 otherwise.
func R2(actual, predicted []float64) (float64, error) {
	if err := checkPair(actual, predicted); err != nil {
		return 0, err
	}

	if stat.Variance(actual, nil) == 0 || len(actual) == 1 {
		if floats.Equal(actual, predicted) {
			return 1, nil
		}

		return 0, nil
	}

	return stat.RSquaredFrom(predicted, actual, nil), nil
}

func checkPair(actual, predicted []float64) error {
	if len(actual) != len(predicted) {
		return fmt.Errorf("%w: %d actual vs %d predicted", ErrLengthMismatch, len(actual), len(predicted))
	}

	if len(actual) == 0 {
		return ErrEmptyDataset
	}

	return nil
}
