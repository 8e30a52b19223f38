package tune

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// ErrInvalidFolds is returned when a dataset cannot be split into the
// requested number of folds.
var ErrInvalidFolds = errors.New("invalid fold count")

// Fold is one round of cross-validation: the rows to train on and the rows
// to score on. Both are sorted row indices and never overlap.
type Fold struct {
	Train      []int
	Validation []int
}

// KFold partitions the row indices 0..n-1 into k shuffled validation folds.
//
// Rows are shuffled with a generator seeded by seed, so the same (n, k, seed)
// always yields the same folds. The first n%k folds hold one row more than
// the others. Every row lands in exactly one validation set.
func KFold(n, k int, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("%w: need at least 2 folds, got %d", ErrInvalidFolds, k)
	}

	if n < k {
		return nil, fmt.Errorf("%w: %d folds over %d rows", ErrInvalidFolds, k, n)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)

	folds := make([]Fold, k)
	start := 0

	for i := range folds {
		size := n / k
		if i < n%k {
			size++
		}

		val := append([]int(nil), perm[start:start+size]...)
		sort.Ints(val)

		train := make([]int, 0, n-size)
		train = append(train, perm[:start]...)
		train = append(train, perm[start+size:]...)
		sort.Ints(train)

		folds[i] = Fold{Train: train, Validation: val}
		start += size
	}

	return folds, nil
}
