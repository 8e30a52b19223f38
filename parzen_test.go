package tune

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func mixedSpace() Space {
	return Space{
		FloatRange("x", 0, 1),
		LogUniform("rate", 1e-4, 1),
		IntRange("depth", 1, 8),
		Categorical("loss", "l1", "l2", "huber"),
	}
}

func mixedObjective(_ context.Context, p Params) (float64, error) {
	score := (p.Float("x", 0)-0.3)*(p.Float("x", 0)-0.3) + math.Abs(math.Log10(p.Float("rate", 1))+2)
	if p.String("loss", "") != "huber" {
		score++
	}

	d := float64(p.Int("depth", 0) - 4)

	return score + 0.01*d*d, nil
}

func TestParzenSamplerReplays(t *testing.T) {
	config := testConfig(t, SamplerTPE)
	config.Trials = 40

	first, err := Optimize(context.Background(), config, mixedSpace(), mixedObjective)
	require.NoError(t, err)

	// Replays must match well past the startup trials, on every kind of
	// dimension.
	for i := 0; i < 3; i++ {
		again, err := Optimize(context.Background(), config, mixedSpace(), mixedObjective)
		require.NoError(t, err)

		if diff := cmp.Diff(trace(first.History), trace(again.History)); diff != "" {
			t.Fatalf("replay %d diverged (-first +replay):\n%s", i, diff)
		}
	}

	for _, h := range first.History {
		assert.GreaterOrEqual(t, h.Params.Int("depth", 0), 1)
		assert.LessOrEqual(t, h.Params.Int("depth", 0), 8)

		rate := h.Params.Float("rate", 0)
		assert.GreaterOrEqual(t, rate, 1e-4)
		assert.LessOrEqual(t, rate, 1.0)
	}
}

func TestParzenSamplerSeedChangesProposals(t *testing.T) {
	config := testConfig(t, SamplerTPE)

	a, err := Optimize(context.Background(), config, mixedSpace(), mixedObjective)
	require.NoError(t, err)

	config.Seed = 7

	b, err := Optimize(context.Background(), config, mixedSpace(), mixedObjective)
	require.NoError(t, err)

	assert.NotEqual(t, a.History[0].Params, b.History[0].Params)
}

func TestSplitObservations(t *testing.T) {
	values := make([]float64, 20)
	scores := make([]float64, 20)

	for i := range values {
		values[i] = float64(i)
		scores[i] = 10
	}

	// Three trials tie for best; gamma(20) keeps the first two seen.
	scores[12], scores[3], scores[17] = 1, 1, 1

	below, above := splitObservations(values, scores)

	assert.Equal(t, []float64{3, 12}, below)
	require.Len(t, above, 18)
	assert.Contains(t, above, 17.0)
	assert.Equal(t, 0.0, above[0])
}

func TestRecencyWeights(t *testing.T) {
	assert.Equal(t, []float64{1, 1, 1}, recencyWeights(3))
	assert.Empty(t, recencyWeights(0))

	w := recencyWeights(30)
	require.Len(t, w, 30)

	assert.InDelta(t, 1.0/30, w[0], 1e-12)
	assert.InDelta(t, 1.0, w[4], 1e-12)

	for i := 1; i < 5; i++ {
		assert.Greater(t, w[i], w[i-1])
	}

	for _, v := range w[5:] {
		assert.Equal(t, 1.0, v)
	}
}

func TestMixtureIsNormalized(t *testing.T) {
	m := newMixture([]float64{0.1, 0.15, 0.8}, 0, 1, 1)

	const steps = 20000

	total := 0.0
	for i := 0; i < steps; i++ {
		x := (float64(i) + 0.5) / steps
		total += math.Exp(m.logDensity(x, 0)) / steps
	}

	assert.InDelta(t, 1.0, total, 1e-3)

	// Quantized: the unit bins of 1, 2 and 3 cover the whole range.
	q := newMixture([]float64{1, 1, 3}, 0.5, 3.5, 1)

	mass := 0.0
	for _, x := range []float64{1, 2, 3} {
		mass += math.Exp(q.logDensity(x, 1))
	}

	assert.InDelta(t, 1.0, mass, 1e-6)
}

func TestMixtureDrawStaysInRange(t *testing.T) {
	m := newMixture([]float64{0.01, 0.02}, 0, 1, 1)
	sampler := newParzenSampler(3, 1)

	for i := 0; i < 500; i++ {
		x := m.draw(sampler.rng)
		assert.GreaterOrEqual(t, x, 0.0)
		assert.Less(t, x, 1.0)
	}
}

func TestCategoricalWeights(t *testing.T) {
	p := categoricalWeights([]float64{2, 2, 0}, 3, 1)

	// Counts 1, 0, 2 plus the prior weight of one on every choice.
	assert.InDeltaSlice(t, []float64{2.0 / 6, 1.0 / 6, 3.0 / 6}, p, 1e-12)
}

func TestTPELogsThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	config := testConfig(t, SamplerTPE)
	config.Trials = 8
	config.Logger = zap.New(core)

	_, err := Optimize(context.Background(), config, bowlSpace(), bowl)
	require.NoError(t, err)

	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len(), "unexpected error entries: %v", logs.FilterLevelExact(zapcore.ErrorLevel).All())

	finished := logs.FilterMessage("Trial finished").All()
	require.Len(t, finished, 8)

	for _, entry := range finished {
		fields := entry.ContextMap()
		require.Contains(t, fields, "goptuna")

		for key := range fields {
			assert.NotContains(t, key, "=")
		}
	}
}
