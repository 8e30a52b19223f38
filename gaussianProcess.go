package tune

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

//////
// Const, vars, types.
//////

const (
	// defaultLengthScale suits inputs normalized to the unit cube.
	defaultLengthScale = 0.2

	// defaultNoise is added to the kernel diagonal. It keeps the Cholesky
	// factorization stable when two proposals land on the same point.
	defaultNoise = 1e-6
)

// gaussianProcess is a Gaussian Process regression model over the unit cube.
// It predicts the standardized score of untested configurations from the
// scores observed so far.
//
// Failed observations carry no usable score. When the posterior is refitted
// they are given the worst successful score seen, so the model learns to
// avoid their region without the sentinel value wrecking the scale.
//
// Thread safety:
// - All fields are protected by the RWMutex
// - Predict takes a read lock, Update and SetSigma take the write lock.
type gaussianProcess struct {
	mu sync.RWMutex

	// X stores the observed unit-cube points.
	X [][]float64

	// Y stores the raw observed scores at each point of X.
	Y []float64

	// failed marks observations of failed trials.
	failed []bool

	// sigma is the RBF length scale.
	sigma float64

	// noise is the diagonal jitter.
	noise float64

	// chol and alpha cache the posterior: chol factors K + noise*I and
	// alpha = (K + noise*I)^-1 * y.
	chol  *mat.Cholesky
	alpha *mat.VecDense

	// best is the lowest standardized target among the observations.
	best float64
}

//////
// Methods.
//////

// RBFKernel implements the Radial Basis Function kernel:
//
//	k(x1, x2) = exp(-sum((x1 - x2)^2) / (2 * sigma^2))
//
// Panics if the input vectors have different lengths. The caller must hold
// the lock.
func (gp *gaussianProcess) RBFKernel(x1, x2 []float64) float64 {
	if len(x1) != len(x2) {
		panic("input vectors must have the same length")
	}

	var sum float64

	for i := range x1 {
		diff := x1[i] - x2[i]

		sum += diff * diff
	}

	return math.Exp(-sum / (2 * gp.sigma * gp.sigma))
}

// Predict returns the posterior mean and variance of the standardized score
// at x. Returns (0, 1) if no observations exist.
func (gp *gaussianProcess) Predict(x []float64) (mean, variance float64) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	if gp.chol == nil {
		return 0, 1
	}

	n := len(gp.X)

	k := mat.NewVecDense(n, nil)
	for i := range gp.X {
		k.SetVec(i, gp.RBFKernel(x, gp.X[i]))
	}

	mean = mat.Dot(k, gp.alpha)

	v := mat.NewVecDense(n, nil)
	if err := gp.chol.SolveVecTo(v, k); err != nil {
		return mean, 1
	}

	variance = 1 + gp.noise - mat.Dot(k, v)
	if variance < 1e-12 {
		variance = 1e-12
	}

	return mean, variance
}

// Best returns the lowest standardized target observed so far, the value
// acquisition functions compare against.
func (gp *gaussianProcess) Best() float64 {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	return gp.best
}

// Update adds an observation and refits the posterior. x is copied.
func (gp *gaussianProcess) Update(x []float64, y float64, failed bool) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	newX := make([]float64, len(x))
	copy(newX, x)

	gp.X = append(gp.X, newX)
	gp.Y = append(gp.Y, y)
	gp.failed = append(gp.failed, failed)

	gp.refit()
}

// SetSigma updates the kernel length scale and refits the posterior.
func (gp *gaussianProcess) SetSigma(sigma float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.sigma = sigma
	gp.refit()
}

// refit recomputes the cached posterior. The caller must hold the write lock.
func (gp *gaussianProcess) refit() {
	n := len(gp.X)
	if n == 0 {
		gp.chol, gp.alpha = nil, nil

		return
	}

	worst := math.Inf(-1)

	for i, y := range gp.Y {
		if !gp.failed[i] && y > worst {
			worst = y
		}
	}

	targets := make([]float64, n)

	for i, y := range gp.Y {
		switch {
		case !gp.failed[i]:
			targets[i] = y
		case math.IsInf(worst, -1):
			targets[i] = 1
		default:
			targets[i] = worst
		}
	}

	z, _, _ := standardize(targets)

	gp.best = math.Inf(1)
	for _, v := range z {
		gp.best = math.Min(gp.best, v)
	}

	// Retry with growing jitter if the kernel matrix is numerically singular.
	for jitter := gp.noise; jitter < 1; jitter *= 10 {
		k := mat.NewSymDense(n, nil)

		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := gp.RBFKernel(gp.X[i], gp.X[j])
				if i == j {
					v += jitter
				}

				k.SetSym(i, j, v)
			}
		}

		var chol mat.Cholesky
		if !chol.Factorize(k) {
			continue
		}

		alpha := mat.NewVecDense(n, nil)
		if err := chol.SolveVecTo(alpha, mat.NewVecDense(n, z)); err != nil {
			continue
		}

		gp.chol, gp.alpha = &chol, alpha

		return
	}

	gp.chol, gp.alpha = nil, nil
}

//////
// Factory.
//////

// newGaussianProcess creates a Gaussian Process with the default length
// scale and noise.
func newGaussianProcess() *gaussianProcess {
	return &gaussianProcess{
		sigma: defaultLengthScale,
		noise: defaultNoise,
	}
}
