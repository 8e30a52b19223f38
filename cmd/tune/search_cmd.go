package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/thalesfsp/tune"
	"github.com/thalesfsp/tune/config"
	"github.com/thalesfsp/tune/learner"
	"github.com/thalesfsp/tune/store"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// errTargetMissed is returned under --strict when the best model misses a
// threshold.
var errTargetMissed = errors.New("best model does not meet the targets")

type searchCmdConfig struct {
	*rootCmdConfig
	configInput string
	output      string
	strict      bool
}

// searchOutput is the machine readable outcome of a search.
type searchOutput struct {
	Reports  []*tune.Report `json:"reports" yaml:"reports"`
	Best     string         `json:"best" yaml:"best"`
	Pass     bool           `json:"pass" yaml:"pass"`
	Forecast []float64      `json:"forecast,omitempty" yaml:"forecast,omitempty"`
}

func searchCmd(rootConfig *rootCmdConfig) *cobra.Command {
	scc := &searchCmdConfig{rootCmdConfig: rootConfig}

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Tune every learner family of an experiment",
		Long: `Search the hyperparameters of each learner family by cross-validation on
the training split, refit the best configuration of each on the full training
split and report its test RMSE and R² against the experiment's targets`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := scc.Validate(); err != nil {
				return err
			}

			return scc.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&scc.configInput, "config", "c", "", "path to the experiment YAML file")
	cmd.Flags().StringVarP(&scc.output, "output", "o", "text", "output format: text, json or yaml")
	cmd.Flags().BoolVar(&scc.strict, "strict", false, "exit with an error when the best model misses a target")

	return cmd
}

func (scc *searchCmdConfig) Validate() error {
	if scc.configInput == "" {
		return fmt.Errorf("required config flag was not set")
	}

	switch scc.output {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", scc.output)
	}

	return nil
}

func (scc *searchCmdConfig) run(ctx context.Context, w io.Writer) error {
	exp, err := config.Load(scc.configInput)
	if err != nil {
		return err
	}

	if !scc.verbose {
		if err := scc.setLogger(exp.Logging.Level); err != nil {
			return err
		}
	}

	logger := scc.logger

	data, err := loadData(exp)
	if err != nil {
		return err
	}

	train, test, err := tune.TrainTestSplit(data, exp.TestFraction, exp.Seed)
	if err != nil {
		return err
	}

	logger.Info("data split",
		zap.String("data", exp.Data),
		zap.Int("train", train.Len()),
		zap.Int("test", test.Len()),
		zap.Int("features", data.NumFeatures()),
		zap.Int("targets", data.NumTargets()))

	var recorder tune.Recorder

	if exp.HistoryDB != "" {
		st, err := store.Open(exp.HistoryDB)
		if err != nil {
			return err
		}
		defer st.Close()

		recorder = st
	}

	finalizer, err := tune.NewFinalizer(train, test, exp.Thresholds)
	if err != nil {
		return err
	}

	finalizer.Logger = logger

	var reports []*tune.Report

	for _, name := range exp.FamilyNames() {
		report, err := tuneFamily(ctx, exp, name, train, finalizer, recorder, logger)
		if errors.Is(err, tune.ErrAllTrialsFailed) {
			logger.Warn("family skipped", zap.String("family", name), zap.Error(err))
			continue
		}

		if err != nil {
			return fmt.Errorf("tuning %s: %w", name, err)
		}

		reports = append(reports, report)
	}

	if len(reports) == 0 {
		return fmt.Errorf("no family produced a model: %w", tune.ErrAllTrialsFailed)
	}

	if exp.Ensemble && len(reports) > 1 {
		ensemble, err := finalizer.Ensemble("ensemble", reports...)
		if err != nil {
			return err
		}

		reports = append(reports, ensemble)
	}

	best := tune.Best(reports...)

	// Next-row data forecasts the row after the last one with the winner,
	// refitted on train and test rows together.
	if exp.NextRow {
		if err := finalizer.Forecast(ctx, best, data); err != nil {
			return fmt.Errorf("forecasting next row: %w", err)
		}
	}

	if err := writeReports(w, scc.output, reports, best); err != nil {
		return err
	}

	if scc.strict && !best.Pass {
		return errTargetMissed
	}

	return nil
}

// tuneFamily searches one family on the training split and finalizes its
// best configuration.
func tuneFamily(
	ctx context.Context,
	exp *config.Experiment,
	name string,
	train *tune.Dataset,
	finalizer *tune.Finalizer,
	recorder tune.Recorder,
	logger *zap.Logger,
) (*tune.Report, error) {
	family, err := learner.Lookup(name)
	if err != nil {
		return nil, err
	}

	cv, err := tune.NewCrossValidator(train, exp.Folds, exp.Seed, family.Factory)
	if err != nil {
		return nil, err
	}

	cv.Workers = exp.Search.Workers
	cv.Logger = logger.Named(name)

	searchConfig, err := exp.SearchConfig(name+"-"+uuid.NewString(), logger.Named(name))
	if err != nil {
		return nil, err
	}

	searchConfig.Recorder = recorder

	result, err := tune.Optimize(ctx, searchConfig, family.Space, cv.Objective())
	if err != nil {
		return nil, err
	}

	return finalizer.Finalize(ctx, name, family.Factory, result)
}

func loadData(exp *config.Experiment) (*tune.Dataset, error) {
	f, err := os.Open(exp.Data)
	if err != nil {
		return nil, fmt.Errorf("opening data: %w", err)
	}
	defer f.Close()

	data, err := tune.LoadCSV(f, exp.CSVOptions())
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", exp.Data, err)
	}

	return data, nil
}

func writeReports(w io.Writer, format string, reports []*tune.Report, best *tune.Report) error {
	out := searchOutput{Reports: reports}
	if best != nil {
		out.Best, out.Pass, out.Forecast = best.Family, best.Pass, best.Forecast
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()

		return enc.Encode(out)
	}

	for _, r := range reports {
		if err := r.WriteText(w); err != nil {
			return err
		}

		fmt.Fprintln(w)
	}

	if best != nil {
		fmt.Fprintf(w, "best: %s (test rmse %.4f, test r2 %.4f)\n", best.Family, best.TestRMSE, best.TestR2)
	}

	return nil
}
