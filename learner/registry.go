// Package learner provides the regression learners tuned by the search:
// depth-wise and leaf-wise gradient-boosted trees and ridge regression, each
// optionally behind a scaling and polynomial-expansion pipeline.
package learner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/thalesfsp/tune"
)

// Family names.
const (
	FamilyDepthwise = "depthwise"
	FamilyLeafwise  = "leafwise"
	FamilyRidge     = "ridge"
)

// ErrUnknownFamily is returned by Lookup for unregistered names.
var ErrUnknownFamily = errors.New("unknown learner family")

// Family bundles a learner factory with its default search space.
type Family struct {
	Name        string
	Description string
	Space       tune.Space
	Factory     tune.LearnerFactory
}

var families = map[string]Family{
	FamilyDepthwise: {
		Name:        FamilyDepthwise,
		Description: "gradient-boosted trees grown level by level",
		Space: tune.Space{
			tune.IntRange(ParamEstimators, 100, 1000),
			tune.LogUniform(ParamLearningRate, 0.01, 0.2),
			tune.IntRange(ParamMaxDepth, 3, 10),
			tune.IntRange(ParamMinChildWeight, 1, 10),
			tune.LogUniform(ParamGamma, 1e-8, 1.0),
			tune.FloatRange(ParamSubsample, 0.6, 1.0),
			tune.FloatRange(ParamColsampleByTree, 0.6, 1.0),
			tune.LogUniform(ParamRegAlpha, 1e-8, 10.0),
			tune.LogUniform(ParamRegLambda, 1e-8, 10.0),
			tune.IntRange(ParamPolyDegree, 1, 2),
		},
		Factory: withPipeline(func(p tune.Params) (tune.Learner, error) {
			b, err := NewDepthwise(p)
			if err != nil {
				return nil, err
			}

			return b, nil
		}),
	},
	FamilyLeafwise: {
		Name:        FamilyLeafwise,
		Description: "gradient-boosted trees grown best leaf first",
		Space: tune.Space{
			tune.IntRange(ParamEstimators, 100, 1000),
			tune.LogUniform(ParamLearningRate, 0.01, 0.2),
			tune.IntRange(ParamNumLeaves, 20, 100),
			tune.IntRange(ParamMaxDepth, 3, 10),
			tune.IntRange(ParamMinChildSamples, 20, 100),
			tune.FloatRange(ParamSubsample, 0.6, 1.0),
			tune.FloatRange(ParamColsampleByTree, 0.6, 1.0),
			tune.LogUniform(ParamRegAlpha, 1e-8, 10.0),
			tune.LogUniform(ParamRegLambda, 1e-8, 10.0),
			tune.IntRange(ParamPolyDegree, 1, 2),
		},
		Factory: withPipeline(func(p tune.Params) (tune.Learner, error) {
			b, err := NewLeafwise(p)
			if err != nil {
				return nil, err
			}

			return b, nil
		}),
	},
	FamilyRidge: {
		Name:        FamilyRidge,
		Description: "linear least squares with an L2 penalty",
		Space: tune.Space{
			tune.LogUniform(ParamAlpha, 1e-8, 10.0),
			tune.IntRange(ParamPolyDegree, 1, 3),
		},
		Factory: withPipeline(func(p tune.Params) (tune.Learner, error) {
			r, err := NewRidge(p)
			if err != nil {
				return nil, err
			}

			return r, nil
		}),
	},
}

// Lookup returns the named family.
func Lookup(name string) (Family, error) {
	f, ok := families[name]
	if !ok {
		return Family{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownFamily, name, Names())
	}

	f.Space = append(tune.Space(nil), f.Space...)

	return f, nil
}

// Names lists the registered families in lexical order.
func Names() []string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// withPipeline wraps a factory so that a poly_degree parameter puts the
// learner behind a scaling and polynomial-expansion Pipeline.
func withPipeline(build tune.LearnerFactory) tune.LearnerFactory {
	return func(p tune.Params) (tune.Learner, error) {
		inner, err := build(p)
		if err != nil {
			return nil, err
		}

		if _, ok := p[ParamPolyDegree]; !ok {
			return inner, nil
		}

		return NewPipeline(p.Int(ParamPolyDegree, 1), inner)
	}
}
