package tune

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrInvalidSpace is returned when a search space cannot be sampled.
var ErrInvalidSpace = errors.New("invalid search space")

// Validate checks every dimension of the space.
func (s Space) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: no dimensions", ErrInvalidSpace)
	}

	seen := make(map[string]struct{}, len(s))

	for _, d := range s {
		if d.Name == "" {
			return fmt.Errorf("%w: unnamed dimension", ErrInvalidSpace)
		}

		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("%w: duplicate dimension %q", ErrInvalidSpace, d.Name)
		}

		seen[d.Name] = struct{}{}

		switch d.Kind {
		case KindInt, KindFloat:
			if d.Min > d.Max {
				return fmt.Errorf("%w: %q has min %v > max %v", ErrInvalidSpace, d.Name, d.Min, d.Max)
			}
		case KindLogFloat:
			if d.Min <= 0 || d.Min > d.Max {
				return fmt.Errorf("%w: %q needs 0 < min <= max, got [%v, %v]", ErrInvalidSpace, d.Name, d.Min, d.Max)
			}
		case KindCategorical:
			if len(d.Choices) == 0 {
				return fmt.Errorf("%w: %q has no choices", ErrInvalidSpace, d.Name)
			}
		default:
			return fmt.Errorf("%w: %q has unknown kind %d", ErrInvalidSpace, d.Name, d.Kind)
		}
	}

	return nil
}

// Names returns the dimension names in declaration order.
func (s Space) Names() []string {
	names := make([]string, len(s))
	for i, d := range s {
		names[i] = d.Name
	}

	return names
}

// sample draws one uniformly random point of the unit cube, one coordinate
// per dimension.
func (s Space) sample(rng *rand.Rand) []float64 {
	u := make([]float64, len(s))
	for i := range s {
		u[i] = rng.Float64()
	}

	return u
}

// decode maps a unit-cube point to a configuration.
func (s Space) decode(u []float64) Params {
	p := make(Params, len(s))

	for i, d := range s {
		x := clamp(u[i], 0, 1)

		switch d.Kind {
		case KindInt:
			lo, hi := int(d.Min), int(d.Max)
			p[d.Name] = clamp(lo+int(math.Floor(x*float64(hi-lo+1))), lo, hi)
		case KindFloat:
			p[d.Name] = d.Min + x*(d.Max-d.Min)
		case KindLogFloat:
			lo, hi := math.Log(d.Min), math.Log(d.Max)
			p[d.Name] = clamp(math.Exp(lo+x*(hi-lo)), d.Min, d.Max)
		case KindCategorical:
			p[d.Name] = d.Choices[clamp(int(math.Floor(x*float64(len(d.Choices)))), 0, len(d.Choices)-1)]
		}
	}

	return p
}

// encode maps a configuration to the unit cube. It is the inverse of decode
// up to the discretization of integer and categorical dimensions, which are
// mapped to the centre of their cell.
func (s Space) encode(p Params) []float64 {
	u := make([]float64, len(s))

	for i, d := range s {
		switch d.Kind {
		case KindInt:
			n := d.Max - d.Min + 1
			u[i] = (float64(p.Int(d.Name, int(d.Min))) - d.Min + 0.5) / n
		case KindFloat:
			if d.Max > d.Min {
				u[i] = (p.Float(d.Name, d.Min) - d.Min) / (d.Max - d.Min)
			}
		case KindLogFloat:
			lo, hi := math.Log(d.Min), math.Log(d.Max)
			if hi > lo {
				u[i] = (math.Log(p.Float(d.Name, d.Min)) - lo) / (hi - lo)
			}
		case KindCategorical:
			v := p.String(d.Name, "")
			for j, c := range d.Choices {
				if c == v {
					u[i] = (float64(j) + 0.5) / float64(len(d.Choices))

					break
				}
			}
		}

		u[i] = clamp(u[i], 0, 1)
	}

	return u
}
