package tune

import (
	"context"
	"fmt"

	"github.com/c-bata/goptuna"
	"go.uber.org/zap"
)

// runTPE drives the search through a goptuna study sampled by a seeded
// Tree-structured Parzen Estimator. Objective failures never reach goptuna:
// they are scored with FailureScore like in the GP sampler, so the estimator
// sees them as the worst trials.
func (s *Search) runTPE(ctx context.Context) error {
	startup := s.config.InitialSamples
	if startup < 1 {
		startup = 1
	}

	study, err := goptuna.CreateStudy(
		s.config.Study,
		goptuna.StudyOptionSampler(newParzenSampler(s.config.Seed, startup)),
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMinimize),
		goptuna.StudyOptionLogger(&tpeLogger{s.logger}),
	)
	if err != nil {
		return fmt.Errorf("creating tpe study: %w", err)
	}

	number := 0

	objective := func(trial goptuna.Trial) (float64, error) {
		// goptuna has no early exit; burn the remaining budget without
		// scoring anything.
		if ctx.Err() != nil {
			return FailureScore, nil
		}

		params, err := s.suggest(trial)
		if err != nil {
			return 0, err
		}

		phase := phaseOptimization
		if number < startup {
			phase = phaseInitial
		}

		result := s.evaluate(ctx, number, params, phase)
		number++

		return result.Score, nil
	}

	if err := study.Optimize(objective, s.config.Trials); err != nil {
		return fmt.Errorf("running tpe study: %w", err)
	}

	if ctx.Err() != nil && number < s.config.Trials {
		s.logger.Info("search budget expired, no new trials issued", zap.Int("completed", number), zap.Error(ctx.Err()))
	}

	return nil
}

// suggest asks the trial for one value per dimension, in space order.
func (s *Search) suggest(trial goptuna.Trial) (Params, error) {
	params := make(Params, len(s.space))

	for _, d := range s.space {
		var (
			v   any
			err error
		)

		switch d.Kind {
		case KindInt:
			v, err = trial.SuggestInt(d.Name, int(d.Min), int(d.Max))
		case KindFloat:
			v, err = trial.SuggestFloat(d.Name, d.Min, d.Max)
		case KindLogFloat:
			v, err = trial.SuggestLogFloat(d.Name, d.Min, d.Max)
		case KindCategorical:
			v, err = trial.SuggestCategorical(d.Name, d.Choices)
		}

		if err != nil {
			return nil, fmt.Errorf("suggesting %q: %w", d.Name, err)
		}

		params[d.Name] = v
	}

	return params, nil
}

// tpeLogger routes goptuna's own logs to zap. goptuna hands over
// preformatted "key=value" strings rather than key/value pairs, so they are
// kept together under a single field.
type tpeLogger struct {
	l *zap.Logger
}

func (t *tpeLogger) Debug(msg string, fields ...interface{}) { t.l.Debug(msg, goptunaFields(fields)) }
func (t *tpeLogger) Info(msg string, fields ...interface{})  { t.l.Debug(msg, goptunaFields(fields)) }
func (t *tpeLogger) Warn(msg string, fields ...interface{})  { t.l.Warn(msg, goptunaFields(fields)) }
func (t *tpeLogger) Error(msg string, fields ...interface{}) { t.l.Error(msg, goptunaFields(fields)) }

func goptunaFields(fields []interface{}) zap.Field {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = fmt.Sprint(f)
	}

	return zap.Strings("goptuna", out)
}
