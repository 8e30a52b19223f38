package tune

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Quadratic bowl with its minimum at x = 0.3, depth = 4.
func bowl(_ context.Context, p Params) (float64, error) {
	x := p.Float("x", 0)
	d := float64(p.Int("depth", 0) - 4)

	return (x-0.3)*(x-0.3) + 0.01*d*d, nil
}

func bowlSpace() Space {
	return Space{
		FloatRange("x", 0, 1),
		IntRange("depth", 1, 8),
	}
}

func testConfig(t *testing.T, sampler Sampler) Config {
	t.Helper()

	config := DefaultConfig()
	config.Trials = 20
	config.InitialSamples = 5
	config.Sampler = sampler
	config.Logger = zaptest.NewLogger(t)

	return config
}

// trace strips the run-specific fields of a history.
func trace(history []TrialResult) []TrialResult {
	out := make([]TrialResult, len(history))
	for i, h := range history {
		out[i] = TrialResult{Number: h.Number, Params: h.Params, Score: h.Score, Failed: h.Failed}
	}

	return out
}

func TestSearchDeterministic(t *testing.T) {
	for _, sampler := range []Sampler{SamplerGP, SamplerRandom, SamplerTPE} {
		t.Run(string(sampler), func(t *testing.T) {
			a, err := Optimize(context.Background(), testConfig(t, sampler), bowlSpace(), bowl)
			require.NoError(t, err)

			b, err := Optimize(context.Background(), testConfig(t, sampler), bowlSpace(), bowl)
			require.NoError(t, err)

			if diff := cmp.Diff(trace(a.History), trace(b.History)); diff != "" {
				t.Fatalf("same seed gave different histories (-first +second):\n%s", diff)
			}

			assert.Equal(t, a.Best.Number, b.Best.Number)
			assert.Len(t, a.History, 20)
		})
	}
}

func TestSearchSeedChangesProposals(t *testing.T) {
	config := testConfig(t, SamplerGP)

	a, err := Optimize(context.Background(), config, bowlSpace(), bowl)
	require.NoError(t, err)

	config.Seed = 7

	b, err := Optimize(context.Background(), config, bowlSpace(), bowl)
	require.NoError(t, err)

	assert.NotEqual(t, a.History[0].Params, b.History[0].Params)
}

func TestSearchFindsMinimum(t *testing.T) {
	for _, sampler := range []Sampler{SamplerGP, SamplerTPE} {
		t.Run(string(sampler), func(t *testing.T) {
			config := testConfig(t, sampler)
			config.Trials = 40
			config.InitialSamples = 10

			result, err := Optimize(context.Background(), config, bowlSpace(), bowl)
			require.NoError(t, err)

			assert.Less(t, result.Best.Score, 0.05)

			// Best is the minimum of the history.
			for _, h := range result.History {
				assert.GreaterOrEqual(t, h.Score, result.Best.Score)
			}
		})
	}
}

func TestSearchBudgetOfOne(t *testing.T) {
	config := testConfig(t, SamplerGP)
	config.Trials = 1

	result, err := Optimize(context.Background(), config, bowlSpace(), bowl)
	require.NoError(t, err)

	require.Len(t, result.History, 1)
	assert.Equal(t, result.History[0].Params, result.Best.Params)
	assert.Equal(t, 0, result.Best.Number)
}

func TestSearchPenalizesFailures(t *testing.T) {
	errUnstable := errors.New("unstable configuration")

	objective := func(ctx context.Context, p Params) (float64, error) {
		if p.Float("x", 0) > 0.5 {
			return 0, errUnstable
		}

		return bowl(ctx, p)
	}

	for _, sampler := range []Sampler{SamplerGP, SamplerRandom, SamplerTPE} {
		t.Run(string(sampler), func(t *testing.T) {
			result, err := Optimize(context.Background(), testConfig(t, sampler), bowlSpace(), objective)
			require.NoError(t, err)

			// Every trial ran despite the failures.
			require.Len(t, result.History, 20)

			for _, h := range result.History {
				if h.Params.Float("x", 0) > 0.5 {
					assert.True(t, h.Failed)
					assert.Equal(t, FailureScore, h.Score)
					assert.ErrorIs(t, h.Err, errUnstable)
				} else {
					assert.False(t, h.Failed)
				}
			}

			if result.Failures() < len(result.History) {
				assert.False(t, result.Best.Failed)
			}
		})
	}
}

func TestSearchNonFiniteScoreFails(t *testing.T) {
	config := testConfig(t, SamplerRandom)
	config.Trials = 3

	result, err := Optimize(context.Background(), config, bowlSpace(), func(context.Context, Params) (float64, error) {
		return math.NaN(), nil
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Failures())
	assert.Equal(t, FailureScore, result.Best.Score)
	assert.Equal(t, 0, result.Best.Number)
}

func TestSearchFirstSeenWinsTies(t *testing.T) {
	config := testConfig(t, SamplerGP)
	config.Trials = 8

	result, err := Optimize(context.Background(), config, bowlSpace(), func(context.Context, Params) (float64, error) {
		return 1, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Best.Number)
	assert.Equal(t, result.History[0].Params, result.Best.Params)
}

func TestSearchProgressChannel(t *testing.T) {
	config := testConfig(t, SamplerGP)

	progressChan := make(chan ProgressUpdate, config.Trials)
	config.ProgressChan = progressChan

	result, err := Optimize(context.Background(), config, bowlSpace(), bowl)
	require.NoError(t, err)

	close(progressChan)

	var updates []ProgressUpdate
	for u := range progressChan {
		updates = append(updates, u)
	}

	require.Len(t, updates, config.Trials)

	for i, u := range updates {
		assert.Equal(t, i+1, u.CurrentTrial)
		assert.Equal(t, config.Trials, u.TotalTrials)

		if i < config.InitialSamples {
			assert.Equal(t, phaseInitial, u.Phase)
		} else {
			assert.Equal(t, phaseOptimization, u.Phase)
		}

		// Best so far never gets worse.
		if i > 0 {
			assert.LessOrEqual(t, u.CurrentBestScore, updates[i-1].CurrentBestScore)
		}
	}

	assert.Equal(t, result.Best.Score, updates[len(updates)-1].CurrentBestScore)
}

func TestSearchProgressChannelNeverBlocks(t *testing.T) {
	config := testConfig(t, SamplerRandom)

	// Unbuffered and never read.
	config.ProgressChan = make(chan ProgressUpdate)

	done := make(chan struct{})

	go func() {
		defer close(done)

		_, err := Optimize(context.Background(), config, bowlSpace(), bowl)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("search blocked on the progress channel")
	}
}

func TestSearchStateMachine(t *testing.T) {
	config := testConfig(t, SamplerRandom)
	config.Trials = 3

	var (
		s        *Search
		observed []State
	)

	s, err := NewSearch(config, bowlSpace(), func(ctx context.Context, p Params) (float64, error) {
		observed = append(observed, s.State())

		return bowl(ctx, p)
	})
	require.NoError(t, err)

	assert.Equal(t, NotStarted, s.State())
	assert.NotEmpty(t, s.Study())

	_, err = s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []State{Running, Running, Running}, observed)
	assert.Equal(t, Completed, s.State())

	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestSearchStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int

	for _, sampler := range []Sampler{SamplerGP, SamplerTPE} {
		t.Run(string(sampler), func(t *testing.T) {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			calls = 0

			result, err := Optimize(ctx, testConfig(t, sampler), bowlSpace(), func(ctx context.Context, p Params) (float64, error) {
				calls++
				if calls == 3 {
					cancel()
				}

				return bowl(ctx, p)
			})
			require.NoError(t, err)

			// No trial is issued once the context is done.
			assert.Len(t, result.History, 3)
			assert.Equal(t, 3, calls)
		})
	}

	cancel()

	_, err := Optimize(ctx, testConfig(t, SamplerGP), bowlSpace(), bowl)
	assert.ErrorIs(t, err, ErrNoTrials)
}

func TestSearchTimeout(t *testing.T) {
	config := testConfig(t, SamplerRandom)
	config.Trials = 1000
	config.Timeout = 50 * time.Millisecond

	result, err := Optimize(context.Background(), config, bowlSpace(), func(ctx context.Context, p Params) (float64, error) {
		time.Sleep(10 * time.Millisecond)

		return bowl(ctx, p)
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.History)
	assert.Less(t, len(result.History), 1000)
}

type memoryRecorder struct {
	mu     sync.Mutex
	study  string
	trials []TrialResult
}

func (r *memoryRecorder) RecordTrial(_ context.Context, study string, trial TrialResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.study = study
	r.trials = append(r.trials, trial)

	return nil
}

func TestSearchRecorder(t *testing.T) {
	recorder := &memoryRecorder{}

	config := testConfig(t, SamplerGP)
	config.Study = "bowl"
	config.Recorder = recorder

	result, err := Optimize(context.Background(), config, bowlSpace(), bowl)
	require.NoError(t, err)

	assert.Equal(t, "bowl", recorder.study)

	if diff := cmp.Diff(trace(result.History), trace(recorder.trials)); diff != "" {
		t.Fatalf("recorded trials differ from history (-history +recorded):\n%s", diff)
	}

	ids := map[string]bool{}
	for _, tr := range recorder.trials {
		assert.False(t, ids[tr.ID], "duplicate trial id %s", tr.ID)
		ids[tr.ID] = true
	}
}

func TestSearchCategorical(t *testing.T) {
	space := Space{
		Categorical("loss", "l1", "l2", "huber"),
		LogUniform("rate", 1e-4, 1),
	}

	objective := func(_ context.Context, p Params) (float64, error) {
		score := math.Abs(math.Log10(p.Float("rate", 1)) + 2)
		if p.String("loss", "") != "huber" {
			score++
		}

		return score, nil
	}

	for _, sampler := range []Sampler{SamplerGP, SamplerTPE} {
		t.Run(string(sampler), func(t *testing.T) {
			config := testConfig(t, sampler)
			config.Trials = 30

			result, err := Optimize(context.Background(), config, space, objective)
			require.NoError(t, err)

			assert.Equal(t, "huber", result.Best.Params.String("loss", ""))
		})
	}
}

func TestNewSearchValidation(t *testing.T) {
	config := DefaultConfig()

	config.Trials = 0
	_, err := NewSearch(config, bowlSpace(), bowl)
	assert.ErrorIs(t, err, ErrNoTrials)

	config = DefaultConfig()
	_, err = NewSearch(config, Space{}, bowl)
	assert.ErrorIs(t, err, ErrInvalidSpace)

	_, err = NewSearch(config, bowlSpace(), nil)
	assert.Error(t, err)

	config.Sampler = "annealing"
	_, err = NewSearch(config, bowlSpace(), bowl)
	assert.Error(t, err)
}

func TestSearchAcquisitionFunctions(t *testing.T) {
	for name, fn := range map[string]AcquisitionFunc{
		"ucb":      UCB,
		"pi":       ProbabilityOfImprovement,
		"ei":       ExpectedImprovement,
		"thompson": ThompsonSampling,
	} {
		t.Run(name, func(t *testing.T) {
			config := testConfig(t, SamplerGP)
			config.AcquisitionFunc = fn

			a, err := Optimize(context.Background(), config, bowlSpace(), bowl)
			require.NoError(t, err)

			b, err := Optimize(context.Background(), config, bowlSpace(), bowl)
			require.NoError(t, err)

			assert.Equal(t, trace(a.History), trace(b.History))
		})
	}
}
