package tune

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoTrials is returned when a search cannot run a single trial.
var ErrNoTrials = errors.New("no trials")

// ErrAlreadyStarted is returned by Run on a Search that already ran.
var ErrAlreadyStarted = errors.New("search already started")

const (
	phaseInitial      = "InitialSampling"
	phaseOptimization = "Optimization"
)

//////
// Exported functionalities.
//////

// DefaultConfig returns a default configuration.
//
// Returns:
// - Config: 50 trials, 10 of them initial random samples, 50 candidates per
// GP step, the GP sampler with UCB (Beta 2.0, Xi 0.01) and seed 42
//
// Usage example:
//
//	config := DefaultConfig()
//	config.Trials = 100
//	config.Sampler = SamplerTPE
func DefaultConfig() Config {
	return Config{
		Trials:          50,
		InitialSamples:  10,
		NumCandidates:   50,
		Seed:            42,
		Sampler:         SamplerGP,
		AcquisitionFunc: UCB,
		AcqParams: AcquisitionParams{
			Beta: 2.0,
			Xi:   0.01,
		},
	}
}

// Search is the search driver. It proposes configurations from the history
// of scored ones, scores each with the objective and tracks the best.
//
// A Search runs once: NOT_STARTED -> RUNNING -> COMPLETED.
type Search struct {
	config    Config
	space     Space
	objective ObjectiveFunc
	logger    *zap.Logger

	mu      sync.RWMutex
	state   State
	history []TrialResult
	best    int
}

// NewSearch validates its inputs and returns a search ready to Run.
func NewSearch(config Config, space Space, objective ObjectiveFunc) (*Search, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}

	if config.Trials <= 0 {
		return nil, fmt.Errorf("%w: budget is %d", ErrNoTrials, config.Trials)
	}

	if objective == nil {
		return nil, errors.New("nil objective")
	}

	switch config.Sampler {
	case "":
		config.Sampler = SamplerGP
	case SamplerGP, SamplerTPE, SamplerRandom:
	default:
		return nil, fmt.Errorf("unknown sampler %q", config.Sampler)
	}

	if config.AcquisitionFunc == nil {
		config.AcquisitionFunc = UCB
	}

	if config.NumCandidates <= 0 {
		config.NumCandidates = 1
	}

	if config.Study == "" {
		config.Study = uuid.NewString()
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Search{
		config:    config,
		space:     space,
		objective: objective,
		logger:    logger.With(zap.String("study", config.Study), zap.String("sampler", string(config.Sampler))),
		best:      -1,
	}, nil
}

// Optimize is a shortcut for NewSearch followed by Run.
//
// Parameters:
// - ctx: Stops the search between trials when done
// - config: Budget, sampler and seed of the search
// - space: Dimensions to search over
// - objective: Scores one configuration, lower is better
//
// Returns:
// - *Result: Best trial and full history, in proposal order
// - error: Invalid input, or ErrNoTrials when no trial could run
//
// Usage example:
//
//	space := Space{
//	    IntRange("max_depth", 3, 10),
//	    LogUniform("learning_rate", 0.01, 0.3),
//	}
//
//	result, err := Optimize(ctx, DefaultConfig(), space, cv.Objective())
//	if err != nil {
//	    return err
//	}
//
//	fmt.Println(result.Best.Params, result.Best.Score)
func Optimize(ctx context.Context, config Config, space Space, objective ObjectiveFunc) (*Result, error) {
	s, err := NewSearch(config, space, objective)
	if err != nil {
		return nil, err
	}

	return s.Run(ctx)
}

// State returns the current lifecycle state.
func (s *Search) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Study returns the study name used in logs and recorded history.
func (s *Search) Study() string {
	return s.config.Study
}

// Run executes the trial budget and returns the best trial with the full
// history.
//
// Trials run sequentially since every proposal depends on all previous
// scores. A trial whose objective fails is penalized with FailureScore and
// the search goes on. Once ctx is done or Config.Timeout elapses no new trial
// is issued; the search still completes with the trials run so far.
//
// How it works with the GP sampler:
//  1. Takes InitialSamples random samples to build the initial model
//  2. For each remaining trial:
//     - Generates NumCandidates random candidate points
//     - Uses the Gaussian Process to predict the score at each point
//     - Uses AcquisitionFunc to select the most promising one
//     - Scores it and updates the model.
func (s *Search) Run(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.state != NotStarted {
		s.mu.Unlock()

		return nil, ErrAlreadyStarted
	}

	s.state = Running
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = Completed
		s.mu.Unlock()
	}()

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	s.logger.Info("search started",
		zap.Int("trials", s.config.Trials),
		zap.Int64("seed", s.config.Seed),
		zap.Strings("params", s.space.Names()))

	var err error

	switch s.config.Sampler {
	case SamplerTPE:
		err = s.runTPE(ctx)
	default:
		s.runGP(ctx)
	}

	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return nil, fmt.Errorf("%w: search stopped before the first trial: %v", ErrNoTrials, ctx.Err())
	}

	result := &Result{
		Best:    s.history[s.best],
		History: append([]TrialResult(nil), s.history...),
	}

	s.logger.Info("search completed",
		zap.Int("trials", len(result.History)),
		zap.Int("failed", result.Failures()),
		zap.Float64("best_score", result.Best.Score),
		zap.Any("best_params", result.Best.Params))

	return result, nil
}

//////
// GP and random sampling.
//////

func (s *Search) runGP(ctx context.Context) {
	rng := rand.New(rand.NewSource(s.config.Seed))
	gp := newGaussianProcess()
	if s.config.LengthScale > 0 {
		gp.SetSigma(s.config.LengthScale)
	}

	for i := 0; i < s.config.Trials; i++ {
		if err := ctx.Err(); err != nil {
			s.logger.Info("search budget expired, no new trials issued", zap.Int("completed", i), zap.Error(err))

			return
		}

		phase := phaseOptimization

		var u []float64

		if s.config.Sampler == SamplerRandom || i < s.config.InitialSamples {
			phase = phaseInitial
			u = s.space.sample(rng)
		} else {
			u = s.propose(gp, rng)
		}

		params := s.space.decode(u)
		trial := s.evaluate(ctx, i, params, phase)

		gp.Update(s.space.encode(params), trial.Score, trial.Failed)
	}
}

// propose ranks NumCandidates random points with the acquisition function and
// returns the most promising one. The first candidate wins ties.
func (s *Search) propose(gp *gaussianProcess, rng *rand.Rand) []float64 {
	acq := s.config.AcqParams
	acq.BestSoFar = gp.Best()

	if acq.RandomState == nil {
		acq.RandomState = rng
	}

	var next []float64

	bestAcquisition := math.Inf(1)

	for j := 0; j < s.config.NumCandidates; j++ {
		candidate := s.space.sample(rng)

		mean, variance := gp.Predict(s.space.encode(s.space.decode(candidate)))

		acquisition := s.config.AcquisitionFunc(mean, variance, acq)
		if next == nil || acquisition < bestAcquisition {
			bestAcquisition = acquisition
			next = candidate
		}
	}

	return next
}

//////
// Scoring and bookkeeping.
//////

// evaluate scores one configuration, records it and reports progress.
func (s *Search) evaluate(ctx context.Context, number int, params Params, phase string) TrialResult {
	start := time.Now()
	score, err := s.objective(ctx, params.Clone())

	if err == nil && (math.IsNaN(score) || math.IsInf(score, 0)) {
		err = fmt.Errorf("objective returned non-finite score %v", score)
	}

	trial := TrialResult{
		Number:   number,
		ID:       uuid.NewString(),
		Params:   params,
		Score:    score,
		Duration: time.Since(start),
	}

	if err != nil {
		trial.Failed = true
		trial.Err = err
		trial.Score = FailureScore

		s.logger.Warn("trial failed",
			zap.Int("trial", number),
			zap.Any("params", params),
			zap.Error(err))
	} else {
		s.logger.Debug("trial completed",
			zap.Int("trial", number),
			zap.Any("params", params),
			zap.Float64("score", score),
			zap.Duration("duration", trial.Duration))
	}

	s.record(trial)

	if s.config.Recorder != nil {
		if rerr := s.config.Recorder.RecordTrial(ctx, s.config.Study, trial); rerr != nil {
			s.logger.Warn("recording trial", zap.Int("trial", number), zap.Error(rerr))
		}
	}

	s.sendProgress(phase, trial)

	return trial
}

func (s *Search) record(trial TrialResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, trial)

	if s.best < 0 || trial.Score < s.history[s.best].Score {
		s.best = len(s.history) - 1
	}
}

func (s *Search) sendProgress(phase string, trial TrialResult) {
	if s.config.ProgressChan == nil {
		return
	}

	s.mu.RLock()
	best := s.history[s.best]
	s.mu.RUnlock()

	update := ProgressUpdate{
		Phase:             phase,
		CurrentTrial:      trial.Number + 1,
		TotalTrials:       s.config.Trials,
		CurrentParams:     trial.Params.Clone(),
		CurrentBestParams: best.Params.Clone(),
		CurrentBestScore:  best.Score,
		LastScore:         trial.Score,
	}

	select {
	case s.config.ProgressChan <- update:
	default:
		// Skip update if channel is full.
	}
}
