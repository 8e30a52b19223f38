package tune

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// indexedDataset returns n rows whose only feature is the row index and
// whose target is twice the index.
func indexedDataset(t *testing.T, n int) *Dataset {
	t.Helper()

	features := make([][]float64, n)
	y := make([]float64, n)

	for i := range features {
		features[i] = []float64{float64(i)}
		y[i] = 2 * float64(i)
	}

	d, err := NewSingleTargetDataset(features, y)
	require.NoError(t, err)

	return d
}

// meanLearner predicts the mean of its training targets.
func meanLearner(Params) (Learner, error) {
	return LearnerFunc(func(_ context.Context, _ [][]float64, y []float64) (Predictor, error) {
		var mean float64
		for _, v := range y {
			mean += v
		}

		mean /= float64(len(y))

		return PredictorFunc(func(x [][]float64) ([]float64, error) {
			out := make([]float64, len(x))
			for i := range out {
				out[i] = mean
			}

			return out, nil
		}), nil
	}), nil
}

func TestCrossValidatorNoLeakage(t *testing.T) {
	data := indexedDataset(t, 23)

	var (
		mu      sync.Mutex
		fitted  [][]int
		scored  [][]int
		factory = func(Params) (Learner, error) {
			return LearnerFunc(func(_ context.Context, x [][]float64, _ []float64) (Predictor, error) {
				rows := make([]int, len(x))
				for i, r := range x {
					rows[i] = int(r[0])
				}

				mu.Lock()
				fitted = append(fitted, rows)
				mu.Unlock()

				return PredictorFunc(func(x [][]float64) ([]float64, error) {
					rows := make([]int, len(x))
					for i, r := range x {
						rows[i] = int(r[0])
					}

					mu.Lock()
					scored = append(scored, rows)
					mu.Unlock()

					return make([]float64, len(x)), nil
				}), nil
			}), nil
		}
	)

	cv, err := NewCrossValidator(data, 5, 42, factory)
	require.NoError(t, err)

	_, err = cv.Evaluate(context.Background(), Params{})
	require.NoError(t, err)

	require.Len(t, fitted, 5)
	require.Len(t, scored, 5)

	// Sequential evaluation fits and scores folds in order.
	for i, fold := range cv.Folds() {
		assert.Equal(t, fold.Train, fitted[i])
		assert.Equal(t, fold.Validation, scored[i])

		val := make(map[int]bool)
		for _, r := range fold.Validation {
			val[r] = true
		}

		for _, r := range fitted[i] {
			assert.False(t, val[r], "fold %d fitted on validation row %d", i, r)
		}
	}
}

func TestCrossValidatorScore(t *testing.T) {
	data := indexedDataset(t, 20)

	cv, err := NewCrossValidator(data, 4, 1, meanLearner)
	require.NoError(t, err)

	res, err := cv.Evaluate(context.Background(), Params{})
	require.NoError(t, err)

	require.Len(t, res.FoldScores, 4)

	var sum float64
	for _, s := range res.FoldScores {
		assert.Greater(t, s, 0.0)
		sum += s
	}

	assert.InDelta(t, sum/4, res.Score, 1e-12)

	// The objective reports the same score.
	score, err := cv.Objective()(context.Background(), Params{})
	require.NoError(t, err)
	assert.Equal(t, res.Score, score)
}

func TestCrossValidatorParallelMatchesSequential(t *testing.T) {
	defer goleak.VerifyNone(t)

	data := indexedDataset(t, 50)

	seq, err := NewCrossValidator(data, 5, 3, meanLearner)
	require.NoError(t, err)

	par, err := NewCrossValidator(data, 5, 3, meanLearner)
	require.NoError(t, err)

	par.Workers = 4

	a, err := seq.Evaluate(context.Background(), Params{})
	require.NoError(t, err)

	b, err := par.Evaluate(context.Background(), Params{})
	require.NoError(t, err)

	assert.Equal(t, a.FoldScores, b.FoldScores)
	assert.Equal(t, a.Score, b.Score)
}

func TestCrossValidatorMultiTarget(t *testing.T) {
	features := [][]float64{{0}, {1}, {2}, {3}, {4}, {5}}
	targets := [][]float64{{1, 10}, {1, 20}, {1, 30}, {1, 40}, {1, 50}, {1, 60}}

	data, err := NewDataset(features, targets)
	require.NoError(t, err)

	cv, err := NewCrossValidator(data, 3, 42, meanLearner)
	require.NoError(t, err)

	res, err := cv.Evaluate(context.Background(), Params{})
	require.NoError(t, err)

	// The constant first target is predicted exactly, so each fold score is
	// half the RMSE of the second target.
	single, err := NewSingleTargetDataset(features, []float64{10, 20, 30, 40, 50, 60})
	require.NoError(t, err)

	cvSingle, err := NewCrossValidator(single, 3, 42, meanLearner)
	require.NoError(t, err)

	resSingle, err := cvSingle.Evaluate(context.Background(), Params{})
	require.NoError(t, err)

	for i := range res.FoldScores {
		assert.InDelta(t, resSingle.FoldScores[i]/2, res.FoldScores[i], 1e-9)
	}
}

func TestCrossValidatorErrors(t *testing.T) {
	_, err := NewCrossValidator(indexedDataset(t, 3), 5, 42, meanLearner)
	assert.ErrorIs(t, err, ErrInvalidFolds)

	_, err = NewCrossValidator(&Dataset{}, 5, 42, meanLearner)
	assert.ErrorIs(t, err, ErrEmptyDataset)

	_, err = NewCrossValidator(indexedDataset(t, 10), 5, 42, nil)
	assert.Error(t, err)

	errBoom := errors.New("boom")

	cv, err := NewCrossValidator(indexedDataset(t, 10), 5, 42, func(Params) (Learner, error) {
		return nil, errBoom
	})
	require.NoError(t, err)

	_, err = cv.Evaluate(context.Background(), Params{})
	assert.ErrorIs(t, err, errBoom)
}
