package tune

import "math"

//////
// Available acquisition functions for the GP sampler.
// Each one ranks candidate configurations from the GP posterior, balancing
// exploration (uncertain regions) and exploitation (regions known to score
// well). Lower return values mark more promising candidates.
//////

// minVariance guards the divisions below against a degenerate posterior.
const minVariance = 1e-12

// UCB implements the (lower) confidence bound for minimization:
//
//	mean - Beta * sqrt(variance)
//
// Higher Beta explores more. The default acquisition function.
//
// Parameters:
// - mean: Posterior mean of the score at the candidate
// - variance: Posterior variance at the candidate
// - params.Beta: Exploration weight
//
// Returns:
// - float64: Optimistic score, lower is more promising
func UCB(mean, variance float64, params AcquisitionParams) float64 {
	return mean - params.Beta*math.Sqrt(variance)
}

// ProbabilityOfImprovement ranks a candidate by the probability that it does
// NOT improve on BestSoFar by at least Xi, so that lower is better.
//
// Conservative: prefers small, likely improvements.
//
// Parameters:
// - mean: Posterior mean of the score at the candidate
// - variance: Posterior variance at the candidate
// - params.BestSoFar: Best observed score
// - params.Xi: Minimum improvement desired
//
// Returns:
// - float64: Probability of no improvement, in [0, 1]
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	z := (mean - params.BestSoFar + params.Xi) / math.Sqrt(math.Max(variance, minVariance))

	return normalCDF(z)
}

// ExpectedImprovement ranks a candidate by the negated expected improvement
// over BestSoFar - Xi:
//
//	EI = (best - xi - mean) * Phi(z) + sigma * phi(z), z = (best - xi - mean) / sigma
//
// Balances how likely and how large an improvement is.
//
// Parameters:
// - mean: Posterior mean of the score at the candidate
// - variance: Posterior variance at the candidate
// - params.BestSoFar: Best observed score
// - params.Xi: Minimum improvement desired
//
// Returns:
// - float64: Negated expected improvement, never positive
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(math.Max(variance, minVariance))
	improvement := params.BestSoFar - params.Xi - mean
	z := improvement / sigma

	return -(improvement*normalCDF(z) + sigma*normalPDF(z))
}

// ThompsonSampling draws one sample from the posterior at the candidate.
//
// Parameters:
// - mean: Posterior mean of the score at the candidate
// - variance: Posterior variance at the candidate
// - params.RandomState: Random source (required); the search driver wires
// its own seeded generator
//
// Returns:
// - float64: One posterior draw
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	return mean + math.Sqrt(variance)*params.RandomState.NormFloat64()
}

// AcquisitionByName resolves the name of a built-in acquisition function:
// "ucb", "pi", "ei" or "thompson". Unknown names return nil.
func AcquisitionByName(name string) AcquisitionFunc {
	switch name {
	case "ucb", "":
		return UCB
	case "pi":
		return ProbabilityOfImprovement
	case "ei":
		return ExpectedImprovement
	case "thompson":
		return ThompsonSampling
	default:
		return nil
	}
}
