package tune

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// ErrAllTrialsFailed is returned by Finalize when a search has no successful
// trial to refit.
var ErrAllTrialsFailed = errors.New("every trial failed")

// Thresholds are the targets a finalized model is checked against. A nil
// threshold is not checked.
type Thresholds struct {
	// MaxRMSE passes when the test RMSE is strictly below it.
	MaxRMSE *float64 `json:"max_rmse,omitempty" yaml:"max_rmse,omitempty"`

	// MinR2 passes when the test R² is strictly above it.
	MinR2 *float64 `json:"min_r2,omitempty" yaml:"min_r2,omitempty"`
}

// Report is the outcome of refitting a configuration on the full training
// split and scoring it on the held-out test split.
type Report struct {
	Family       string     `json:"family" yaml:"family"`
	Params       Params     `json:"params,omitempty" yaml:"params,omitempty"`
	Members      []string   `json:"members,omitempty" yaml:"members,omitempty"`
	CVScore      float64    `json:"cv_score" yaml:"cv_score"`
	TrainRMSE    float64    `json:"train_rmse" yaml:"train_rmse"`
	TrainR2      float64    `json:"train_r2" yaml:"train_r2"`
	TestRMSE     float64    `json:"test_rmse" yaml:"test_rmse"`
	TestR2       float64    `json:"test_r2" yaml:"test_r2"`
	Thresholds   Thresholds `json:"thresholds" yaml:"thresholds"`
	PassRMSE     bool       `json:"pass_rmse" yaml:"pass_rmse"`
	PassR2       bool       `json:"pass_r2" yaml:"pass_r2"`
	Pass         bool       `json:"pass" yaml:"pass"`
	Trials       int        `json:"trials" yaml:"trials"`
	FailedTrials int        `json:"failed_trials" yaml:"failed_trials"`

	// Forecast is the prediction for the row after the data, one value per
	// target column. Set by Finalizer.Forecast.
	Forecast []float64 `json:"forecast,omitempty" yaml:"forecast,omitempty"`

	// predictions and trainPredictions hold the test and train predictions
	// per target column, kept for ensembling.
	predictions      [][]float64
	trainPredictions [][]float64

	factory LearnerFactory
	members []*Report
}

// WriteText writes a human readable summary.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "=== %s ===\n", r.Family)

	if len(r.Members) > 0 {
		fmt.Fprintf(&b, "members:      %s\n", strings.Join(r.Members, ", "))
	}

	if len(r.Params) > 0 {
		keys := make([]string, 0, len(r.Params))
		for k := range r.Params {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		b.WriteString("params:\n")

		for _, k := range keys {
			fmt.Fprintf(&b, "  %-20s %v\n", k, r.Params[k])
		}
	}

	if r.Trials > 0 {
		fmt.Fprintf(&b, "trials:       %d (%d failed)\n", r.Trials, r.FailedTrials)
		fmt.Fprintf(&b, "cv rmse:      %.4f\n", r.CVScore)
	}

	fmt.Fprintf(&b, "train rmse:   %.4f\n", r.TrainRMSE)
	fmt.Fprintf(&b, "train r2:     %.4f\n", r.TrainR2)
	fmt.Fprintf(&b, "test rmse:    %.4f%s\n", r.TestRMSE, thresholdNote(r.Thresholds.MaxRMSE, "<", r.PassRMSE))
	fmt.Fprintf(&b, "test r2:      %.4f%s\n", r.TestR2, thresholdNote(r.Thresholds.MinR2, ">", r.PassR2))

	if len(r.Forecast) > 0 {
		values := make([]string, len(r.Forecast))
		for i, v := range r.Forecast {
			values[i] = fmt.Sprintf("%.4f", v)
		}

		fmt.Fprintf(&b, "next row:     %s\n", strings.Join(values, ", "))
	}

	if r.Pass {
		b.WriteString("target:       achieved\n")
	} else {
		b.WriteString("target:       NOT met\n")
	}

	_, err := io.WriteString(w, b.String())

	return err
}

func thresholdNote(th *float64, op string, pass bool) string {
	if th == nil {
		return ""
	}

	verdict := "pass"
	if !pass {
		verdict = "fail"
	}

	return fmt.Sprintf(" (target %s %.4f: %s)", op, *th, verdict)
}

// Best returns the report with the lowest test RMSE. The first one wins ties.
// Nil reports are skipped; Best returns nil when there is none.
func Best(reports ...*Report) *Report {
	var best *Report

	for _, r := range reports {
		if r == nil {
			continue
		}

		if best == nil || r.TestRMSE < best.TestRMSE {
			best = r
		}
	}

	return best
}

//////
// Final training.
//////

// Finalizer refits the best configuration of a search on the full training
// split and scores it on a test split the search never saw.
type Finalizer struct {
	Train      *Dataset
	Test       *Dataset
	Thresholds Thresholds

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// NewFinalizer checks that train and test are compatible.
func NewFinalizer(train, test *Dataset, thresholds Thresholds) (*Finalizer, error) {
	if err := train.Validate(); err != nil {
		return nil, fmt.Errorf("training split: %w", err)
	}

	if err := test.Validate(); err != nil {
		return nil, fmt.Errorf("test split: %w", err)
	}

	if train.NumFeatures() != test.NumFeatures() || train.NumTargets() != test.NumTargets() {
		return nil, fmt.Errorf("%w: train is %dx%d, test is %dx%d (features x targets)", ErrLengthMismatch,
			train.NumFeatures(), train.NumTargets(), test.NumFeatures(), test.NumTargets())
	}

	return &Finalizer{Train: train, Test: test, Thresholds: thresholds}, nil
}

// Finalize fits one learner per target column with the best configuration of
// result and reports its train and test scores. Missing the thresholds is not
// an error; it is reported through the Pass fields. A search whose trials all
// failed has nothing to refit and yields ErrAllTrialsFailed.
func (f *Finalizer) Finalize(ctx context.Context, family string, factory LearnerFactory, result *Result) (*Report, error) {
	if result == nil || len(result.History) == 0 {
		return nil, fmt.Errorf("finalizing %s: %w", family, ErrNoTrials)
	}

	best := result.Best
	if best.Failed {
		return nil, fmt.Errorf("finalizing %s: %w (%d trials)", family, ErrAllTrialsFailed, len(result.History))
	}

	nt := f.Test.NumTargets()
	predictions := make([][]float64, nt)
	trainPredictions := make([][]float64, nt)

	for j := range predictions {
		model, err := fitTarget(ctx, factory, best.Params, f.Train, j)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", family, err)
		}

		if trainPredictions[j], err = model.Predict(f.Train.Features); err != nil {
			return nil, fmt.Errorf("predicting %s on training target %d: %w", family, j, err)
		}

		if predictions[j], err = model.Predict(f.Test.Features); err != nil {
			return nil, fmt.Errorf("predicting %s on target %d: %w", family, j, err)
		}
	}

	report := &Report{
		Family:           family,
		Params:           best.Params.Clone(),
		CVScore:          best.Score,
		Trials:           len(result.History),
		FailedTrials:     result.Failures(),
		predictions:      predictions,
		trainPredictions: trainPredictions,
		factory:          factory,
	}

	if err := f.score(report); err != nil {
		return nil, err
	}

	return report, nil
}

// Ensemble averages the train and test predictions of previously finalized
// reports and scores the average like a single model.
func (f *Finalizer) Ensemble(name string, members ...*Report) (*Report, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("ensemble %s has no members", name)
	}

	report := &Report{
		Family:           name,
		predictions:      zeros(f.Test.NumTargets(), f.Test.Len()),
		trainPredictions: zeros(f.Train.NumTargets(), f.Train.Len()),
	}

	for _, m := range members {
		if !sameShape(m.predictions, report.predictions) || !sameShape(m.trainPredictions, report.trainPredictions) {
			return nil, fmt.Errorf("%w: member %s was not finalized on these splits", ErrLengthMismatch, m.Family)
		}

		for j := range m.predictions {
			floats.AddScaled(report.predictions[j], 1/float64(len(members)), m.predictions[j])
			floats.AddScaled(report.trainPredictions[j], 1/float64(len(members)), m.trainPredictions[j])
		}

		report.Members = append(report.Members, m.Family)
		report.members = append(report.members, m)
	}

	if err := f.score(report); err != nil {
		return nil, err
	}

	return report, nil
}

// Forecast refits the configuration behind r on every row of data and stores
// in r.Forecast its prediction for data.Next, the row after the data.
// Ensembles average the forecasts of their members.
func (f *Finalizer) Forecast(ctx context.Context, r *Report, data *Dataset) error {
	if data == nil || len(data.Next) == 0 {
		return fmt.Errorf("%w: no row to forecast from", ErrEmptyDataset)
	}

	if err := data.Validate(); err != nil {
		return err
	}

	if len(data.Next) != data.NumFeatures() {
		return fmt.Errorf("%w: next row has %d features, want %d", ErrLengthMismatch, len(data.Next), data.NumFeatures())
	}

	if len(r.members) > 0 {
		forecast := make([]float64, data.NumTargets())

		for _, m := range r.members {
			if err := f.Forecast(ctx, m, data); err != nil {
				return err
			}

			floats.AddScaled(forecast, 1/float64(len(r.members)), m.Forecast)
		}

		r.Forecast = forecast

		return nil
	}

	if r.factory == nil {
		return fmt.Errorf("report %s was not produced by Finalize", r.Family)
	}

	forecast := make([]float64, data.NumTargets())

	for j := range forecast {
		model, err := fitTarget(ctx, r.factory, r.Params, data, j)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Family, err)
		}

		pred, err := model.Predict([][]float64{data.Next})
		if err != nil {
			return fmt.Errorf("forecasting %s on target %d: %w", r.Family, j, err)
		}

		forecast[j] = pred[0]
	}

	r.Forecast = forecast

	f.logger().Info("next row forecast", zap.String("family", r.Family), zap.Float64s("forecast", forecast))

	return nil
}

// fitTarget fits a fresh learner built from params on target j of data.
func fitTarget(ctx context.Context, factory LearnerFactory, params Params, data *Dataset, j int) (Predictor, error) {
	learner, err := factory(params.Clone())
	if err != nil {
		return nil, fmt.Errorf("building learner: %w", err)
	}

	model, err := learner.Fit(ctx, data.Features, data.TargetColumn(j))
	if err != nil {
		return nil, fmt.Errorf("fitting target %d: %w", j, err)
	}

	return model, nil
}

func zeros(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for j := range out {
		out[j] = make([]float64, cols)
	}

	return out
}

func sameShape(a, b [][]float64) bool {
	if len(a) != len(b) {
		return false
	}

	for j := range a {
		if len(a[j]) != len(b[j]) {
			return false
		}
	}

	return true
}

// score fills the train and test metrics and verdicts of r from its
// predictions. Thresholds apply to the test metrics only.
func (f *Finalizer) score(r *Report) error {
	var err error

	if r.TrainRMSE, r.TrainR2, err = meanScores(f.Train, r.trainPredictions); err != nil {
		return fmt.Errorf("scoring training split: %w", err)
	}

	if r.TestRMSE, r.TestR2, err = meanScores(f.Test, r.predictions); err != nil {
		return err
	}

	r.Thresholds = f.Thresholds

	r.PassRMSE = f.Thresholds.MaxRMSE == nil || r.TestRMSE < *f.Thresholds.MaxRMSE
	r.PassR2 = f.Thresholds.MinR2 == nil || r.TestR2 > *f.Thresholds.MinR2
	r.Pass = r.PassRMSE && r.PassR2

	f.logger().Info("model finalized",
		zap.String("family", r.Family),
		zap.Float64("train_rmse", r.TrainRMSE),
		zap.Float64("test_rmse", r.TestRMSE),
		zap.Float64("test_r2", r.TestR2),
		zap.Bool("pass", r.Pass))

	return nil
}

// meanScores is the RMSE and R² of predictions against the targets of d,
// averaged over target columns.
func meanScores(d *Dataset, predictions [][]float64) (rmse, r2 float64, err error) {
	for j, pred := range predictions {
		actual := d.TargetColumn(j)

		e, err := RMSE(actual, pred)
		if err != nil {
			return 0, 0, fmt.Errorf("scoring target %d: %w", j, err)
		}

		c, err := R2(actual, pred)
		if err != nil {
			return 0, 0, fmt.Errorf("scoring target %d: %w", j, err)
		}

		rmse += e
		r2 += c
	}

	nt := float64(len(predictions))

	return rmse / nt, r2 / nt, nil
}

func (f *Finalizer) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}

	return f.Logger
}
