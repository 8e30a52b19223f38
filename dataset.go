package tune

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"strings"
)

// ErrRaggedFeatures is returned when rows have different feature counts.
var ErrRaggedFeatures = errors.New("ragged feature rows")

// Dataset is an ordered collection of rows, each with a feature vector and
// one or more targets.
//
// Datasets are read-only once built: Subset and TrainTestSplit share row
// slices with their source, and nothing in this module writes to them.
type Dataset struct {
	// Features holds one feature vector per row.
	Features [][]float64

	// Targets holds one target vector per row.
	Targets [][]float64

	// FeatureNames optionally names the feature columns.
	FeatureNames []string

	// TargetNames optionally names the target columns.
	TargetNames []string

	// Next is the feature vector that follows the last row, when the data
	// has one. NextRowDataset sets it to the final raw row so a model fitted
	// on every row can forecast the row after the data.
	Next []float64
}

// NewDataset builds and validates a dataset.
func NewDataset(features, targets [][]float64) (*Dataset, error) {
	d := &Dataset{Features: features, Targets: targets}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	return d, nil
}

// NewSingleTargetDataset builds a dataset with one target per row.
func NewSingleTargetDataset(features [][]float64, y []float64) (*Dataset, error) {
	targets := make([][]float64, len(y))
	for i, v := range y {
		targets[i] = []float64{v}
	}

	return NewDataset(features, targets)
}

// NextRowDataset turns a sequence of rows into a dataset where row i
// predicts every column of row i+1. The last row has no successor: it is
// kept as Next rather than paired.
func NextRowDataset(rows [][]float64) (*Dataset, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 rows, got %d", ErrEmptyDataset, len(rows))
	}

	d, err := NewDataset(rows[:len(rows)-1], rows[1:])
	if err != nil {
		return nil, err
	}

	d.Next = rows[len(rows)-1]

	return d, nil
}

// Validate checks that features and targets pair up row by row and that
// every row has the same dimensionality.
func (d *Dataset) Validate() error {
	if d == nil || len(d.Features) == 0 {
		return ErrEmptyDataset
	}

	if len(d.Features) != len(d.Targets) {
		return fmt.Errorf("%w: %d feature rows vs %d target rows", ErrLengthMismatch, len(d.Features), len(d.Targets))
	}

	nf, nt := len(d.Features[0]), len(d.Targets[0])
	if nf == 0 {
		return fmt.Errorf("%w: rows have no features", ErrRaggedFeatures)
	}

	if nt == 0 {
		return fmt.Errorf("%w: rows have no targets", ErrLengthMismatch)
	}

	for i := range d.Features {
		if len(d.Features[i]) != nf {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrRaggedFeatures, i, len(d.Features[i]), nf)
		}

		if len(d.Targets[i]) != nt {
			return fmt.Errorf("%w: row %d has %d targets, want %d", ErrLengthMismatch, i, len(d.Targets[i]), nt)
		}
	}

	if d.FeatureNames != nil && len(d.FeatureNames) != nf {
		return fmt.Errorf("%w: %d feature names for %d features", ErrLengthMismatch, len(d.FeatureNames), nf)
	}

	if d.TargetNames != nil && len(d.TargetNames) != nt {
		return fmt.Errorf("%w: %d target names for %d targets", ErrLengthMismatch, len(d.TargetNames), nt)
	}

	return nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Features) }

// NumFeatures returns the feature dimensionality.
func (d *Dataset) NumFeatures() int {
	if len(d.Features) == 0 {
		return 0
	}

	return len(d.Features[0])
}

// NumTargets returns the number of targets per row.
func (d *Dataset) NumTargets() int {
	if len(d.Targets) == 0 {
		return 0
	}

	return len(d.Targets[0])
}

// TargetColumn returns a fresh slice with target j of every row.
func (d *Dataset) TargetColumn(j int) []float64 {
	col := make([]float64, len(d.Targets))
	for i, t := range d.Targets {
		col[i] = t[j]
	}

	return col
}

// Subset returns the rows at the given indices, in that order.
func (d *Dataset) Subset(indices []int) *Dataset {
	sub := &Dataset{
		Features:     make([][]float64, len(indices)),
		Targets:      make([][]float64, len(indices)),
		FeatureNames: d.FeatureNames,
		TargetNames:  d.TargetNames,
	}

	for i, idx := range indices {
		sub.Features[i] = d.Features[idx]
		sub.Targets[i] = d.Targets[idx]
	}

	return sub
}

// TrainTestSplit holds out ceil(n * testFraction) shuffled rows for testing.
// The same seed always yields the same split.
func TrainTestSplit(d *Dataset, testFraction float64, seed int64) (train, test *Dataset, err error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}

	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0, 1), got %v", testFraction)
	}

	n := d.Len()

	nTest := int(math.Ceil(float64(n) * testFraction))
	if nTest >= n {
		return nil, nil, fmt.Errorf("%w: %d rows leave no training data at test fraction %v", ErrEmptyDataset, n, testFraction)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)

	return d.Subset(perm[nTest:]), d.Subset(perm[:nTest]), nil
}

//////
// CSV input.
//////

// CSVOptions controls LoadCSV.
type CSVOptions struct {
	// Header marks the first record as column names.
	Header bool

	// Targets names the target columns. Requires Header.
	Targets []string

	// TargetColumns gives target columns by zero-based index. Negative
	// indices count from the end. Ignored when Targets is set.
	TargetColumns []int

	// NextRow builds a NextRowDataset over all columns instead of splitting
	// columns into features and targets.
	NextRow bool

	// Comma is the field delimiter, ',' when zero.
	Comma rune
}

// LoadCSV reads a numeric CSV. Without target options the last column is the
// target.
func LoadCSV(r io.Reader, opts CSVOptions) (*Dataset, error) {
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}

	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}

	var header []string

	if opts.Header {
		if len(records) == 0 {
			return nil, fmt.Errorf("%w: missing header", ErrEmptyDataset)
		}

		header, records = records[0], records[1:]
	}

	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}

	rows := make([][]float64, len(records))

	for i, rec := range records {
		rows[i] = make([]float64, len(rec))

		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("parsing row %d column %d: %w", i+1, j+1, err)
			}

			rows[i][j] = v
		}
	}

	if opts.NextRow {
		d, err := NextRowDataset(rows)
		if err != nil {
			return nil, err
		}

		if header != nil {
			d.FeatureNames, d.TargetNames = header, header
		}

		return d, d.Validate()
	}

	targetCols, err := resolveTargets(header, len(rows[0]), opts)
	if err != nil {
		return nil, err
	}

	return splitColumns(rows, header, targetCols)
}

func resolveTargets(header []string, width int, opts CSVOptions) ([]int, error) {
	var cols []int

	switch {
	case len(opts.Targets) > 0:
		if header == nil {
			return nil, errors.New("target names need a header")
		}

		for _, name := range opts.Targets {
			idx := -1

			for j, h := range header {
				if h == name {
					idx = j

					break
				}
			}

			if idx < 0 {
				return nil, fmt.Errorf("target column %q not found", name)
			}

			cols = append(cols, idx)
		}
	case len(opts.TargetColumns) > 0:
		for _, c := range opts.TargetColumns {
			if c < 0 {
				c += width
			}

			if c < 0 || c >= width {
				return nil, fmt.Errorf("target column %d out of range for %d columns", c, width)
			}

			cols = append(cols, c)
		}
	default:
		cols = []int{width - 1}
	}

	if len(cols) >= width {
		return nil, fmt.Errorf("%w: all %d columns are targets", ErrRaggedFeatures, width)
	}

	return cols, nil
}

func splitColumns(rows [][]float64, header []string, targetCols []int) (*Dataset, error) {
	isTarget := make(map[int]bool, len(targetCols))
	for _, c := range targetCols {
		isTarget[c] = true
	}

	d := &Dataset{
		Features: make([][]float64, len(rows)),
		Targets:  make([][]float64, len(rows)),
	}

	for i, row := range rows {
		if len(row) != len(rows[0]) {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrRaggedFeatures, i+1, len(row), len(rows[0]))
		}

		for j, v := range row {
			if !isTarget[j] {
				d.Features[i] = append(d.Features[i], v)
			}
		}

		for _, c := range targetCols {
			d.Targets[i] = append(d.Targets[i], row[c])
		}
	}

	if header != nil {
		for j, h := range header {
			if !isTarget[j] {
				d.FeatureNames = append(d.FeatureNames, h)
			}
		}

		for _, c := range targetCols {
			d.TargetNames = append(d.TargetNames, header[c])
		}
	}

	return d, d.Validate()
}
