// Package config loads experiment definitions for the tune command.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/thalesfsp/tune"
	"github.com/thalesfsp/tune/learner"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Experiment describes one end-to-end run: the data, the split, the search
// budget per learner family and the targets the final model must meet.
type Experiment struct {
	// Data
	Data          string   `yaml:"data"`
	Header        bool     `yaml:"header"`
	Targets       []string `yaml:"targets,omitempty"`
	TargetColumns []int    `yaml:"target_columns,omitempty"`
	NextRow       bool     `yaml:"next_row"`

	// Split
	TestFraction float64 `yaml:"test_fraction"`
	Folds        int     `yaml:"folds"`
	Seed         int64   `yaml:"seed"`

	// Search
	Search SearchConfig `yaml:"search"`

	// Families lists the learner families to tune. Empty means all.
	Families []string `yaml:"families,omitempty"`

	// Ensemble also reports the average of every tuned family.
	Ensemble bool `yaml:"ensemble"`

	Thresholds tune.Thresholds `yaml:"thresholds"`

	// HistoryDB, when set, records every trial in this SQLite file.
	HistoryDB string `yaml:"history_db,omitempty"`

	Logging LoggingConfig `yaml:"logging"`
}

// SearchConfig configures the search driver of each family.
type SearchConfig struct {
	Trials         int     `yaml:"trials"`
	InitialSamples int     `yaml:"initial_samples"`
	Candidates     int     `yaml:"candidates"`
	Sampler        string  `yaml:"sampler"`     // gp, tpe, random
	Acquisition    string  `yaml:"acquisition"` // ucb, pi, ei, thompson
	Beta           float64 `yaml:"beta"`
	Xi             float64 `yaml:"xi"`
	LengthScale    float64 `yaml:"length_scale,omitempty"`
	Workers        int     `yaml:"workers"`
	Timeout        string  `yaml:"timeout,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default experiment: 20% test split, 5 folds,
// seed 42 and 50 GP trials per family.
func DefaultConfig() *Experiment {
	search := tune.DefaultConfig()

	return &Experiment{
		TestFraction: 0.2,
		Folds:        5,
		Seed:         42,
		Search: SearchConfig{
			Trials:         search.Trials,
			InitialSamples: search.InitialSamples,
			Candidates:     search.NumCandidates,
			Sampler:        string(search.Sampler),
			Acquisition:    "ucb",
			Beta:           search.AcqParams.Beta,
			Xi:             search.AcqParams.Xi,
			Workers:        1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads an experiment from a YAML file on top of the defaults, applies
// TUNE_* environment overrides and validates the result.
func Load(path string) (*Experiment, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the experiment as YAML.
func (c *Experiment) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Experiment) applyEnvOverrides() error {
	if v := os.Getenv("TUNE_DATA"); v != "" {
		c.Data = v
	}

	if v := os.Getenv("TUNE_SAMPLER"); v != "" {
		c.Search.Sampler = v
	}

	if v := os.Getenv("TUNE_HISTORY_DB"); v != "" {
		c.HistoryDB = v
	}

	if v := os.Getenv("TUNE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	for name, dst := range map[string]*int{
		"TUNE_TRIALS":  &c.Search.Trials,
		"TUNE_FOLDS":   &c.Folds,
		"TUNE_WORKERS": &c.Search.Workers,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}

		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, name, v)
		}

		*dst = n
	}

	if v := os.Getenv("TUNE_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: TUNE_SEED=%q is not an integer", ErrInvalidConfig, v)
		}

		c.Seed = n
	}

	return nil
}

// Validate checks the experiment for values no run could honour.
func (c *Experiment) Validate() error {
	switch {
	case c.Data == "":
		return fmt.Errorf("%w: data is required", ErrInvalidConfig)
	case c.TestFraction <= 0 || c.TestFraction >= 1:
		return fmt.Errorf("%w: test_fraction must be in (0, 1), got %v", ErrInvalidConfig, c.TestFraction)
	case c.Folds < 2:
		return fmt.Errorf("%w: folds must be >= 2, got %d", ErrInvalidConfig, c.Folds)
	case c.Search.Trials < 1:
		return fmt.Errorf("%w: search.trials must be >= 1, got %d", ErrInvalidConfig, c.Search.Trials)
	case c.Search.InitialSamples < 0:
		return fmt.Errorf("%w: search.initial_samples must be >= 0", ErrInvalidConfig)
	case c.Search.LengthScale < 0:
		return fmt.Errorf("%w: search.length_scale must be >= 0", ErrInvalidConfig)
	case c.Search.Workers < 0:
		return fmt.Errorf("%w: search.workers must be >= 0", ErrInvalidConfig)
	case len(c.Targets) > 0 && !c.Header:
		return fmt.Errorf("%w: targets by name need header: true", ErrInvalidConfig)
	}

	switch tune.Sampler(c.Search.Sampler) {
	case tune.SamplerGP, tune.SamplerTPE, tune.SamplerRandom:
	default:
		return fmt.Errorf("%w: unknown sampler %q", ErrInvalidConfig, c.Search.Sampler)
	}

	if tune.AcquisitionByName(c.Search.Acquisition) == nil {
		return fmt.Errorf("%w: unknown acquisition %q", ErrInvalidConfig, c.Search.Acquisition)
	}

	if _, err := c.TimeoutDuration(); err != nil {
		return err
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %v", ErrInvalidConfig, err)
	}

	for _, name := range c.Families {
		if _, err := learner.Lookup(name); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	return nil
}

// TimeoutDuration parses Search.Timeout. Empty means no timeout.
func (c *Experiment) TimeoutDuration() (time.Duration, error) {
	if c.Search.Timeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.Search.Timeout)
	if err != nil {
		return 0, fmt.Errorf("%w: search.timeout: %v", ErrInvalidConfig, err)
	}

	return d, nil
}

// FamilyNames returns the families to tune, all registered ones when the
// experiment names none.
func (c *Experiment) FamilyNames() []string {
	if len(c.Families) == 0 {
		return learner.Names()
	}

	return c.Families
}

// CSVOptions returns the options to load Data with.
func (c *Experiment) CSVOptions() tune.CSVOptions {
	return tune.CSVOptions{
		Header:        c.Header,
		Targets:       c.Targets,
		TargetColumns: c.TargetColumns,
		NextRow:       c.NextRow,
	}
}

// SearchConfig returns the search driver configuration for one family.
func (c *Experiment) SearchConfig(study string, logger *zap.Logger) (tune.Config, error) {
	timeout, err := c.TimeoutDuration()
	if err != nil {
		return tune.Config{}, err
	}

	cfg := tune.DefaultConfig()
	cfg.Trials = c.Search.Trials
	cfg.InitialSamples = c.Search.InitialSamples
	cfg.Seed = c.Seed
	cfg.Sampler = tune.Sampler(c.Search.Sampler)
	cfg.AcquisitionFunc = tune.AcquisitionByName(c.Search.Acquisition)
	cfg.AcqParams.Beta = c.Search.Beta
	cfg.AcqParams.Xi = c.Search.Xi
	cfg.LengthScale = c.Search.LengthScale
	cfg.Timeout = timeout
	cfg.Study = study
	cfg.Logger = logger

	if c.Search.Candidates > 0 {
		cfg.NumCandidates = c.Search.Candidates
	}

	return cfg, nil
}
