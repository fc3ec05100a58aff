// Package datasets reads and writes feature matrices in the svmlight / libsvm text format.
//
// Each line holds one sample:
//
//	<label> <index>:<value> <index>:<value> ... # optional comment
//
// Indices are 1-based unless WithZeroBased(true) is given. Features that are absent are
// zero, so the format maps directly onto *sparse.CSR.
package datasets

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sparsesgd/core/sparse"
	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

// maxLineBytes bounds a single svmlight line; wide text features easily exceed the
// bufio.Scanner default of 64 KiB.
const maxLineBytes = 16 << 20

// Option configures Load and Dump.
type Option func(*options)

type options struct {
	nFeatures int
	zeroBased bool
}

// WithNFeatures fixes the number of columns. By default it is inferred from the largest
// index seen, which may be too small for a test file that lacks the last features.
func WithNFeatures(n int) Option { return func(o *options) { o.nFeatures = n } }

// WithZeroBased treats indices as 0-based.
func WithZeroBased(zeroBased bool) Option { return func(o *options) { o.zeroBased = zeroBased } }

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LoadSVMLightFile loads a svmlight file into a sparse feature matrix and an n×1 label column.
func LoadSVMLightFile(path string, opts ...Option) (*sparse.CSR, *mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open svmlight file %s", path)
	}
	defer f.Close()

	X, y, err := LoadSVMLight(f, opts...)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%s", path)
	}
	return X, y, nil
}

// LoadSVMLight reads svmlight lines from r. Blank lines and lines starting with '#' are
// skipped; "qid:" tokens are ignored. Duplicate indices within a line are summed.
func LoadSVMLight(r io.Reader, opts ...Option) (*sparse.CSR, *mat.Dense, error) {
	o := newOptions(opts)
	if o.nFeatures < 0 {
		return nil, nil, errors.NewValidationError("n_features", "must not be negative", o.nFeatures)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	b := sparse.NewBuilder(o.nFeatures)
	var labels []float64
	var indices []int
	var values []float64
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		label, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, nil, errors.Wrapf(errors.NewValidationError("label", "not a number", fields[0]), "line %d", lineNo)
		}

		indices, values = indices[:0], values[:0]
		for _, tok := range fields[1:] {
			if strings.HasPrefix(tok, "qid:") {
				continue
			}
			idx, val, err := parseFeature(tok, o.zeroBased)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "line %d", lineNo)
			}
			indices = append(indices, idx)
			values = append(values, val)
		}
		if err := b.AddRow(indices, values); err != nil {
			return nil, nil, errors.Wrapf(err, "line %d", lineNo)
		}
		labels = append(labels, label)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "failed to read svmlight data")
	}
	if len(labels) == 0 {
		return nil, nil, errors.NewModelError("LoadSVMLight", "no samples", errors.ErrEmptyData)
	}

	X := b.Build()
	return X, mat.NewDense(len(labels), 1, labels), nil
}

func parseFeature(tok string, zeroBased bool) (int, float64, error) {
	colon := strings.IndexByte(tok, ':')
	if colon <= 0 || colon == len(tok)-1 {
		return 0, 0, errors.NewValidationError("feature", "expected index:value", tok)
	}
	idx, err := strconv.Atoi(tok[:colon])
	if err != nil {
		return 0, 0, errors.NewValidationError("feature", "index is not an integer", tok)
	}
	if !zeroBased {
		if idx < 1 {
			return 0, 0, errors.NewValidationError("feature", "indices are 1-based", tok)
		}
		idx--
	}
	if idx < 0 {
		return 0, 0, errors.NewValidationError("feature", "negative index", tok)
	}
	val, err := strconv.ParseFloat(tok[colon+1:], 64)
	if err != nil {
		return 0, 0, errors.NewValidationError("feature", "value is not a number", tok)
	}
	return idx, val, nil
}

// DumpSVMLightFile writes X and y to path in svmlight format.
func DumpSVMLightFile(path string, X, y mat.Matrix, opts ...Option) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create svmlight file %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to close svmlight file")
		}
	}()
	return DumpSVMLight(f, X, y, opts...)
}

// DumpSVMLight writes one line per row of X. Zero entries are omitted and numbers use the
// shortest representation that reads back to the same float64.
func DumpSVMLight(w io.Writer, X, y mat.Matrix, opts ...Option) error {
	o := newOptions(opts)
	n, _ := X.Dims()
	yr, yc := y.Dims()
	if yc != 1 {
		return errors.NewDimensionError("DumpSVMLight", 1, yc, 1)
	}
	if yr != n {
		return errors.NewDimensionError("DumpSVMLight", n, yr, 0)
	}

	offset := 1
	if o.zeroBased {
		offset = 0
	}
	csr := sparse.FromDense(X)
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 64)
	for i := 0; i < n; i++ {
		buf = strconv.AppendFloat(buf[:0], y.At(i, 0), 'g', -1, 64)
		idx, vals := csr.RowView(i)
		for k, c := range idx {
			buf = append(buf, ' ')
			buf = strconv.AppendInt(buf, int64(c)+int64(offset), 10)
			buf = append(buf, ':')
			buf = strconv.AppendFloat(buf, vals[k], 'g', -1, 64)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return errors.Wrap(err, "failed to write svmlight data")
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "failed to write svmlight data")
	}
	return nil
}
