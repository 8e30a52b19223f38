package tune

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpace() Space {
	return Space{
		IntRange("depth", 3, 10),
		FloatRange("subsample", 0.6, 1.0),
		LogUniform("rate", 1e-3, 1.0),
		Categorical("loss", "l2", "huber", "l1"),
	}
}

func TestSpaceValidate(t *testing.T) {
	require.NoError(t, testSpace().Validate())

	for name, s := range map[string]Space{
		"empty":        {},
		"unnamed":      {IntRange("", 1, 2)},
		"duplicate":    {IntRange("a", 1, 2), FloatRange("a", 0, 1)},
		"inverted":     {FloatRange("a", 1, 0)},
		"log at zero":  {LogUniform("a", 0, 1)},
		"no choices":   {Categorical("a")},
		"unknown kind": {{Name: "a", Kind: Kind(99)}},
	} {
		assert.ErrorIs(t, s.Validate(), ErrInvalidSpace, name)
	}
}

func TestSpaceDecodeWithinBounds(t *testing.T) {
	s := testSpace()
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		p := s.decode(s.sample(rng))

		depth := p["depth"].(int)
		assert.GreaterOrEqual(t, depth, 3)
		assert.LessOrEqual(t, depth, 10)

		sub := p["subsample"].(float64)
		assert.GreaterOrEqual(t, sub, 0.6)
		assert.LessOrEqual(t, sub, 1.0)

		rate := p["rate"].(float64)
		assert.GreaterOrEqual(t, rate, 1e-3)
		assert.LessOrEqual(t, rate, 1.0)

		assert.Contains(t, []string{"l2", "huber", "l1"}, p["loss"])
	}
}

func TestSpaceDecodeEdges(t *testing.T) {
	s := testSpace()

	lo := s.decode([]float64{0, 0, 0, 0})
	assert.Equal(t, 3, lo["depth"])
	assert.Equal(t, 0.6, lo["subsample"])
	assert.InDelta(t, 1e-3, lo["rate"], 1e-15)
	assert.Equal(t, "l2", lo["loss"])

	hi := s.decode([]float64{1, 1, 1, 1})
	assert.Equal(t, 10, hi["depth"])
	assert.Equal(t, 1.0, hi["subsample"])
	assert.InDelta(t, 1.0, hi["rate"], 1e-12)
	assert.Equal(t, "l1", hi["loss"])
}

func TestSpaceEncodeRoundTrip(t *testing.T) {
	s := testSpace()
	rng := rand.New(rand.NewSource(2))

	for i := 0; i < 100; i++ {
		p := s.decode(s.sample(rng))

		// Decoding an encoded configuration gives it back.
		assert.Equal(t, p["depth"], s.decode(s.encode(p))["depth"])
		assert.Equal(t, p["loss"], s.decode(s.encode(p))["loss"])
		assert.InDelta(t, p["subsample"], s.decode(s.encode(p))["subsample"], 1e-9)
		assert.InEpsilon(t, p["rate"], s.decode(s.encode(p))["rate"], 1e-9)
	}
}

func TestParamsAccessors(t *testing.T) {
	p := Params{"i": 3, "f": 0.5, "s": "x", "n": float64(7)}

	assert.Equal(t, 3, p.Int("i", 0))
	assert.Equal(t, 7, p.Int("n", 0))
	assert.Equal(t, 9, p.Int("missing", 9))
	assert.Equal(t, 0.5, p.Float("f", 0))
	assert.Equal(t, 3.0, p.Float("i", 0))
	assert.Equal(t, "x", p.String("s", ""))
	assert.Equal(t, "d", p.String("i", "d"))

	c := p.Clone()
	c["i"] = 4
	assert.Equal(t, 3, p.Int("i", 0))
}
