package tune

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

//////
// Search space.
//////

// Kind identifies how a Dimension is sampled.
type Kind int

const (
	// KindInt is a closed integer range [Min, Max].
	KindInt Kind = iota

	// KindFloat is a uniform real range [Min, Max).
	KindFloat

	// KindLogFloat is a log-uniform real range [Min, Max). Both bounds must
	// be strictly positive.
	KindLogFloat

	// KindCategorical is a finite set of string choices.
	KindCategorical
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindLogFloat:
		return "log-float"
	case KindCategorical:
		return "categorical"
	default:
		return "unknown"
	}
}

// Dimension defines the valid range for one hyperparameter in the search.
//
// Use the constructors IntRange, FloatRange, LogUniform and Categorical
// rather than filling the struct by hand.
//
// Usage:
//
//	space := Space{
//	    IntRange("n_estimators", 100, 1000),
//	    LogUniform("learning_rate", 0.01, 0.2),
//	    Categorical("booster", "gbtree", "dart"),
//	}
type Dimension struct {
	// Name is the parameter name as seen by the learner factory.
	Name string `json:"name" yaml:"name"`

	// Kind selects the sampling distribution.
	Kind Kind `json:"kind" yaml:"kind"`

	// Min is the lower bound for numeric kinds.
	Min float64 `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the upper bound for numeric kinds.
	Max float64 `json:"max,omitempty" yaml:"max,omitempty"`

	// Choices lists the values of a categorical dimension.
	Choices []string `json:"choices,omitempty" yaml:"choices,omitempty"`
}

// IntRange declares an integer parameter in [lo, hi].
func IntRange(name string, lo, hi int) Dimension {
	return Dimension{Name: name, Kind: KindInt, Min: float64(lo), Max: float64(hi)}
}

// FloatRange declares a real parameter sampled uniformly in [lo, hi).
func FloatRange(name string, lo, hi float64) Dimension {
	return Dimension{Name: name, Kind: KindFloat, Min: lo, Max: hi}
}

// LogUniform declares a real parameter sampled log-uniformly in [lo, hi).
func LogUniform(name string, lo, hi float64) Dimension {
	return Dimension{Name: name, Kind: KindLogFloat, Min: lo, Max: hi}
}

// Categorical declares a parameter taking one of the given choices.
func Categorical(name string, choices ...string) Dimension {
	return Dimension{Name: name, Kind: KindCategorical, Choices: append([]string(nil), choices...)}
}

// Space is an ordered list of dimensions. Order matters: it fixes the order in
// which samplers draw values, and so the proposal sequence for a given seed.
type Space []Dimension

//////
// Parameters.
//////

// Params is one hyperparameter configuration. Values are int for KindInt,
// float64 for KindFloat and KindLogFloat, and string for KindCategorical.
type Params map[string]any

// Int returns the named parameter as an int, or dflt if it is absent.
func (p Params) Int(name string, dflt int) int {
	switch v := p[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return dflt
	}
}

// Float returns the named parameter as a float64, or dflt if it is absent.
func (p Params) Float(name string, dflt float64) float64 {
	switch v := p[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return dflt
	}
}

// String returns the named categorical parameter, or dflt if it is absent.
func (p Params) String(name, dflt string) string {
	if v, ok := p[name].(string); ok {
		return v
	}

	return dflt
}

// Clone returns a shallow copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}

	return out
}

//////
// Trials.
//////

// State is the lifecycle of a Search.
type State int

const (
	// NotStarted is the state of a freshly created Search.
	NotStarted State = iota

	// Running means trials are being proposed and scored.
	Running

	// Completed means the budget is exhausted (or the wall-clock budget
	// expired) and the best result is available.
	Completed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// TrialResult is one scored proposal.
type TrialResult struct {
	// Number is the zero-based position of the trial in the search.
	Number int `json:"number" yaml:"number"`

	// ID uniquely identifies the trial across studies.
	ID string `json:"id" yaml:"id"`

	// Params is the proposed configuration.
	Params Params `json:"params" yaml:"params"`

	// Score is the objective value, or FailureScore when Failed is set.
	Score float64 `json:"score" yaml:"score"`

	// Failed marks a trial whose objective returned an error.
	Failed bool `json:"failed" yaml:"failed"`

	// Err holds the objective error of a failed trial.
	Err error `json:"-" yaml:"-"`

	// Duration is the wall time spent in the objective.
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Result is the outcome of a completed search.
type Result struct {
	// Best is the lowest-scoring trial. The first one seen wins ties.
	Best TrialResult

	// History holds every trial in proposal order.
	History []TrialResult
}

// Failures counts failed trials in the history.
func (r *Result) Failures() int {
	var n int

	for _, t := range r.History {
		if t.Failed {
			n++
		}
	}

	return n
}

// ObjectiveFunc scores one configuration. Lower is better. A returned error
// marks the trial as failed; it never aborts the search.
type ObjectiveFunc func(ctx context.Context, params Params) (float64, error)

// Recorder receives every finished trial, e.g. to persist the study history.
type Recorder interface {
	RecordTrial(ctx context.Context, study string, trial TrialResult) error
}

// ProgressUpdate represents the current state of the search.
type ProgressUpdate struct {
	// Phase is "InitialSampling" or "Optimization".
	Phase string

	// CurrentTrial is the one-based number of the trial just scored.
	CurrentTrial int

	// TotalTrials is the trial budget.
	TotalTrials int

	// CurrentParams holds the configuration just scored.
	CurrentParams Params

	// CurrentBestParams holds the best configuration found so far.
	CurrentBestParams Params

	// CurrentBestScore holds the best score found so far.
	CurrentBestScore float64

	// LastScore holds the score of the trial just scored.
	LastScore float64
}

//////
// Acquisition.
//////

// AcquisitionFunc ranks a candidate from the GP posterior at that point.
// Lower values indicate more promising candidates.
//
// Built-in functions: UCB, ProbabilityOfImprovement, ExpectedImprovement,
// ThompsonSampling. Custom functions must be deterministic given params.
type AcquisitionFunc func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams holds parameters used by the acquisition functions.
type AcquisitionParams struct {
	// Beta controls the exploration-exploitation trade-off in UCB.
	// Higher values explore more. Typical values range from 0.1 to 5.0.
	Beta float64

	// Xi is the minimum improvement PI and EI look for over BestSoFar.
	Xi float64

	// BestSoFar is the best (lowest) standardized score seen so far. The
	// search driver keeps it up to date.
	BestSoFar float64

	// RandomState is the generator used by Thompson sampling. The search
	// driver sets it to its own seeded generator.
	RandomState *rand.Rand
}

//////
// Configuration.
//////

// Sampler selects the proposal strategy of a Search.
type Sampler string

const (
	// SamplerGP proposes with a Gaussian process and an acquisition function.
	SamplerGP Sampler = "gp"

	// SamplerTPE proposes with a Tree-structured Parzen Estimator.
	SamplerTPE Sampler = "tpe"

	// SamplerRandom proposes uniformly at random within the space.
	SamplerRandom Sampler = "random"
)

// Config holds all configuration parameters of a Search.
//
// Usage example:
//
//	config := DefaultConfig()
//	config.Trials = 50
//	config.Seed = 42
//	config.Sampler = SamplerTPE
type Config struct {
	// Trials is the total trial budget, initial samples included.
	Trials int

	// InitialSamples is the number of random proposals the GP sampler makes
	// before it starts modelling the objective. Also used as the number of
	// TPE startup trials.
	InitialSamples int

	// NumCandidates is how many random candidates the GP sampler ranks with
	// the acquisition function per trial.
	NumCandidates int

	// Seed drives every random choice of the search.
	Seed int64

	// Sampler is the proposal strategy.
	Sampler Sampler

	// AcquisitionFunc ranks GP candidates.
	AcquisitionFunc AcquisitionFunc

	// AcqParams holds the parameters for the acquisition function.
	AcqParams AcquisitionParams

	// LengthScale of the GP kernel over the unit cube. Zero uses 0.2.
	LengthScale float64

	// Timeout, when positive, stops issuing new trials once exceeded.
	Timeout time.Duration

	// Study names the search in recorded history. A random one is
	// generated when empty.
	Study string

	// ProgressChan receives progress updates. Full channels drop updates.
	ProgressChan chan<- ProgressUpdate

	// Recorder, when set, receives every trial.
	Recorder Recorder

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}
