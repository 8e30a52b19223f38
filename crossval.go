package tune

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// CVResult is the cross-validated score of one configuration.
type CVResult struct {
	// FoldScores holds the RMSE of each fold, in fold order.
	FoldScores []float64

	// Score is the mean of FoldScores.
	Score float64
}

// CrossValidator scores configurations by K-fold cross-validation.
//
// The folds are drawn once, at construction, so every configuration is
// compared on the same partition. For each fold and each target column a
// fresh learner is built from the configuration, fitted on the fold's
// training rows only and scored on its validation rows. Multi-target fold
// scores are the mean of per-target RMSEs.
type CrossValidator struct {
	// Workers bounds how many folds are fitted concurrently. Zero or one
	// fits folds sequentially.
	Workers int

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	data    *Dataset
	folds   []Fold
	factory LearnerFactory
}

// NewCrossValidator validates the dataset and draws k folds with seed.
// Data errors (empty or inconsistent dataset, k > rows) are returned here,
// before any search starts.
func NewCrossValidator(data *Dataset, k int, seed int64, factory LearnerFactory) (*CrossValidator, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	if factory == nil {
		return nil, errors.New("nil learner factory")
	}

	folds, err := KFold(data.Len(), k, seed)
	if err != nil {
		return nil, err
	}

	return &CrossValidator{data: data, folds: folds, factory: factory}, nil
}

// Folds returns the partition used for every evaluation.
func (cv *CrossValidator) Folds() []Fold {
	return cv.folds
}

// Objective adapts Evaluate to the search driver.
func (cv *CrossValidator) Objective() ObjectiveFunc {
	return func(ctx context.Context, params Params) (float64, error) {
		res, err := cv.Evaluate(ctx, params)
		if err != nil {
			return 0, err
		}

		return res.Score, nil
	}
}

// Evaluate returns the mean validation RMSE of params over all folds.
// Folds are independent: with Workers > 1 they are fitted concurrently and
// each writes only its own score slot.
func (cv *CrossValidator) Evaluate(ctx context.Context, params Params) (*CVResult, error) {
	logger := cv.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	scores := make([]float64, len(cv.folds))

	g, gctx := errgroup.WithContext(ctx)

	workers := cv.Workers
	if workers < 1 {
		workers = 1
	}

	g.SetLimit(workers)

	for i, fold := range cv.folds {
		i, fold := i, fold

		g.Go(func() error {
			score, err := cv.scoreFold(gctx, params, fold)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}

			scores[i] = score

			logger.Debug("fold scored", zap.Int("fold", i), zap.Float64("rmse", score))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &CVResult{FoldScores: scores, Score: stat.Mean(scores, nil)}, nil
}

func (cv *CrossValidator) scoreFold(ctx context.Context, params Params, fold Fold) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	train := cv.data.Subset(fold.Train)
	val := cv.data.Subset(fold.Validation)

	var total float64

	for j := 0; j < cv.data.NumTargets(); j++ {
		learner, err := cv.factory(params.Clone())
		if err != nil {
			return 0, fmt.Errorf("building learner: %w", err)
		}

		model, err := learner.Fit(ctx, train.Features, train.TargetColumn(j))
		if err != nil {
			return 0, fmt.Errorf("fitting target %d: %w", j, err)
		}

		pred, err := model.Predict(val.Features)
		if err != nil {
			return 0, fmt.Errorf("predicting target %d: %w", j, err)
		}

		rmse, err := RMSE(val.TargetColumn(j), pred)
		if err != nil {
			return 0, fmt.Errorf("scoring target %d: %w", j, err)
		}

		total += rmse
	}

	return total / float64(cv.data.NumTargets()), nil
}
