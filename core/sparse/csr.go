// Package sparse は圧縮行形式 (CSR) の特徴量行列を提供します。
//
// CSR は mat.Matrix を実装するため、gonum の密行列と同じ場所で使えます。
// 推定器は入力が *CSR でなければ FromDense で変換してから学習・予測します。
package sparse

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

// CSR is an immutable compressed-sparse-row matrix.
//
// Row i owns the nonzeros data[indptr[i]:indptr[i+1]] at columns
// indices[indptr[i]:indptr[i+1]]. Column indices are strictly increasing within a row.
type CSR struct {
	rows, cols int
	data       []float64
	indices    []int32
	indptr     []int32
}

var _ mat.Matrix = (*CSR)(nil)

// MaxIndex is the largest column index a CSR can store. indices and indptr are int32,
// so it also bounds the number of stored entries.
const MaxIndex = math.MaxInt32

// CheckColumns reports a ValidationError when a matrix with cols columns has indices
// that do not fit in int32.
func CheckColumns(op string, cols int) error {
	if cols > 0 && cols-1 > MaxIndex {
		return errors.NewValidationError("n_features", fmt.Sprintf("%s: column indices must not exceed %d", op, MaxIndex), cols)
	}
	return nil
}

func checkNNZ(op string, nnz int) error {
	if nnz > MaxIndex {
		return errors.NewValidationError("nnz", fmt.Sprintf("%s: more than %d stored entries", op, MaxIndex), nnz)
	}
	return nil
}

// NewCSR validates the three arrays and wraps them without copying.
// The caller must not modify the slices afterwards.
func NewCSR(rows, cols int, data []float64, indices, indptr []int32) (*CSR, error) {
	if rows < 0 || cols < 0 {
		return nil, errors.NewValidationError("shape", "dimensions must be non-negative", [2]int{rows, cols})
	}
	if len(indptr) != rows+1 {
		return nil, errors.NewDimensionError("NewCSR", rows+1, len(indptr), 0)
	}
	if len(data) != len(indices) {
		return nil, errors.NewValidationError("indices", "must have the same length as data", len(indices))
	}
	if indptr[0] != 0 {
		return nil, errors.NewValidationError("indptr", "must start at 0", indptr[0])
	}
	if int(indptr[rows]) != len(data) {
		return nil, errors.NewValidationError("indptr", fmt.Sprintf("must end at nnz=%d", len(data)), indptr[rows])
	}
	for i := 0; i < rows; i++ {
		lo, hi := indptr[i], indptr[i+1]
		if hi < lo {
			return nil, errors.NewValidationError("indptr", fmt.Sprintf("must be non-decreasing (row %d)", i), hi)
		}
		prev := int32(-1)
		for _, c := range indices[lo:hi] {
			if c < 0 || int(c) >= cols {
				return nil, errors.NewValidationError("indices", fmt.Sprintf("column out of range [0,%d) in row %d", cols, i), c)
			}
			if c <= prev {
				return nil, errors.NewValidationError("indices", fmt.Sprintf("must be strictly increasing within row %d", i), c)
			}
			prev = c
		}
	}
	return &CSR{rows: rows, cols: cols, data: data, indices: indices, indptr: indptr}, nil
}

// Zeros returns an r×c matrix without stored entries.
func Zeros(r, c int) *CSR {
	return &CSR{rows: r, cols: c, indptr: make([]int32, r+1)}
}

// FromDense converts any mat.Matrix to CSR, dropping exact zeros.
// Like gonum constructors it panics when the shape cannot be represented; callers taking
// user input check CheckColumns first.
func FromDense(m mat.Matrix) *CSR {
	if s, ok := m.(*CSR); ok {
		return s
	}
	r, c := m.Dims()
	if err := CheckColumns("FromDense", c); err != nil {
		panic(err)
	}
	out := &CSR{rows: r, cols: c, indptr: make([]int32, r+1)}

	// RawRowView が使える場合は At を避ける
	raw, hasRaw := m.(mat.RawRowViewer)
	for i := 0; i < r; i++ {
		if hasRaw {
			for j, v := range raw.RawRowView(i) {
				if v != 0 {
					out.indices = append(out.indices, int32(j))
					out.data = append(out.data, v)
				}
			}
		} else {
			for j := 0; j < c; j++ {
				if v := m.At(i, j); v != 0 {
					out.indices = append(out.indices, int32(j))
					out.data = append(out.data, v)
				}
			}
		}
		if err := checkNNZ("FromDense", len(out.data)); err != nil {
			panic(err)
		}
		out.indptr[i+1] = int32(len(out.data))
	}
	return out
}

// FromVectors builds a CSR whose rows are the given dense vectors, dropping zeros.
// All vectors must have length cols.
func FromVectors(cols int, rows [][]float64) (*CSR, error) {
	if err := CheckColumns("FromVectors", cols); err != nil {
		return nil, err
	}
	out := &CSR{rows: len(rows), cols: cols, indptr: make([]int32, len(rows)+1)}
	for i, row := range rows {
		if len(row) != cols {
			return nil, errors.NewDimensionError("FromVectors", cols, len(row), 1)
		}
		for j, v := range row {
			if v != 0 {
				out.indices = append(out.indices, int32(j))
				out.data = append(out.data, v)
			}
		}
		if err := checkNNZ("FromVectors", len(out.data)); err != nil {
			return nil, err
		}
		out.indptr[i+1] = int32(len(out.data))
	}
	return out, nil
}

// Row is one sparse row given as (column, value) pairs in any order.
type Row struct {
	Indices []int
	Values  []float64
}

// FromRows builds a CSR from unordered sparse rows. Duplicate columns within a row are
// summed, and entries whose value is zero are dropped.
func FromRows(cols int, rows []Row) (*CSR, error) {
	b := NewBuilder(cols)
	for _, r := range rows {
		if err := b.AddRow(r.Indices, r.Values); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// Builder accumulates rows incrementally. It is used by the svmlight reader, which does
// not know the number of columns until every line has been read.
type Builder struct {
	cols    int
	data    []float64
	indices []int32
	indptr  []int32
}

// NewBuilder creates a Builder. cols <= 0 means "infer from the largest index".
func NewBuilder(cols int) *Builder {
	return &Builder{cols: cols, indptr: []int32{0}}
}

// AddRow appends one row.
func (b *Builder) AddRow(indices []int, values []float64) error {
	if len(indices) != len(values) {
		return errors.NewDimensionError("Builder.AddRow", len(indices), len(values), 1)
	}
	order := make([]int, len(indices))
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(a, c int) bool { return indices[order[a]] < indices[order[c]] })

	start := len(b.data)
	for _, k := range order {
		col := indices[k]
		if col > MaxIndex {
			b.data, b.indices = b.data[:start], b.indices[:start]
			return errors.NewValidationError("indices", fmt.Sprintf("column exceeds the int32 index range (max %d)", MaxIndex), col)
		}
		if col < 0 || (b.cols > 0 && col >= b.cols) {
			b.data, b.indices = b.data[:start], b.indices[:start]
			return errors.NewValidationError("indices", fmt.Sprintf("column out of range [0,%d)", b.cols), col)
		}
		if n := len(b.indices); n > start && int(b.indices[n-1]) == col {
			b.data[n-1] += values[k]
			continue
		}
		b.indices = append(b.indices, int32(col))
		b.data = append(b.data, values[k])
	}

	// 重複加算で 0 になった要素も含めて取り除く
	w := start
	for r := start; r < len(b.data); r++ {
		if b.data[r] != 0 {
			b.data[w], b.indices[w] = b.data[r], b.indices[r]
			w++
		}
	}
	b.data, b.indices = b.data[:w], b.indices[:w]
	if err := checkNNZ("Builder.AddRow", w); err != nil {
		b.data, b.indices = b.data[:start], b.indices[:start]
		return err
	}
	b.indptr = append(b.indptr, int32(w))
	return nil
}

// Rows returns the number of rows added so far.
func (b *Builder) Rows() int { return len(b.indptr) - 1 }

// MaxColumn returns the largest column index seen, or -1.
func (b *Builder) MaxColumn() int {
	maxCol := -1
	for _, c := range b.indices {
		if int(c) > maxCol {
			maxCol = int(c)
		}
	}
	return maxCol
}

// Build returns the matrix. When the Builder was created with cols <= 0 the column count
// is one past the largest index.
func (b *Builder) Build() *CSR {
	cols := b.cols
	if cols <= 0 {
		cols = b.MaxColumn() + 1
	}
	return &CSR{rows: b.Rows(), cols: cols, data: b.data, indices: b.indices, indptr: b.indptr}
}

// BuildWithCols returns the matrix with an explicit column count, which must cover every
// stored index.
func (b *Builder) BuildWithCols(cols int) (*CSR, error) {
	if m := b.MaxColumn(); m >= cols {
		return nil, errors.NewDimensionError("Builder.BuildWithCols", m+1, cols, 1)
	}
	return &CSR{rows: b.Rows(), cols: cols, data: b.data, indices: b.indices, indptr: b.indptr}, nil
}

// Dims implements mat.Matrix.
func (m *CSR) Dims() (r, c int) { return m.rows, m.cols }

// At implements mat.Matrix. It panics on out-of-range access like gonum does.
func (m *CSR) At(i, j int) float64 {
	if uint(i) >= uint(m.rows) {
		panic(mat.ErrRowAccess)
	}
	if uint(j) >= uint(m.cols) {
		panic(mat.ErrColAccess)
	}
	idx, vals := m.RowView(i)
	k := sort.Search(len(idx), func(k int) bool { return int(idx[k]) >= j })
	if k < len(idx) && int(idx[k]) == j {
		return vals[k]
	}
	return 0
}

// T implements mat.Matrix.
func (m *CSR) T() mat.Matrix { return mat.Transpose{Matrix: m} }

// NNZ returns the number of stored entries.
func (m *CSR) NNZ() int { return len(m.data) }

// RowNNZ returns the number of stored entries of row i.
func (m *CSR) RowNNZ(i int) int { return int(m.indptr[i+1] - m.indptr[i]) }

// RowView returns the column indices and values of row i. The slices alias the matrix
// storage and must not be modified.
func (m *CSR) RowView(i int) ([]int32, []float64) {
	lo, hi := m.indptr[i], m.indptr[i+1]
	return m.indices[lo:hi], m.data[lo:hi]
}

// Raw returns the underlying data, indices and indptr arrays. They must not be modified.
func (m *CSR) Raw() (data []float64, indices, indptr []int32) {
	return m.data, m.indices, m.indptr
}

// RowDot returns x_i · w for a dense w of length cols.
func (m *CSR) RowDot(i int, w []float64) float64 {
	idx, vals := m.RowView(i)
	var sum float64
	for k, c := range idx {
		sum += vals[k] * w[c]
	}
	return sum
}

// RowAxpy performs w += alpha * x_i.
func (m *CSR) RowAxpy(i int, alpha float64, w []float64) {
	idx, vals := m.RowView(i)
	for k, c := range idx {
		w[c] += alpha * vals[k]
	}
}

// RowNorm2Sq returns ||x_i||².
func (m *CSR) RowNorm2Sq(i int) float64 {
	_, vals := m.RowView(i)
	var sum float64
	for _, v := range vals {
		sum += v * v
	}
	return sum
}

// DenseRow returns row i as a newly allocated dense slice.
func (m *CSR) DenseRow(i int) []float64 {
	out := make([]float64, m.cols)
	idx, vals := m.RowView(i)
	for k, c := range idx {
		out[c] = vals[k]
	}
	return out
}

// ToDense returns a dense copy.
func (m *CSR) ToDense() *mat.Dense {
	if m.rows == 0 || m.cols == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(m.rows, m.cols, nil)
	for i := 0; i < m.rows; i++ {
		idx, vals := m.RowView(i)
		for k, c := range idx {
			out.Set(i, int(c), vals[k])
		}
	}
	return out
}

// ScaleColumns returns a new CSR with column j multiplied by scale[j].
// Zeros produced by the scaling are kept so the sparsity pattern is preserved.
func (m *CSR) ScaleColumns(scale []float64) (*CSR, error) {
	if len(scale) != m.cols {
		return nil, errors.NewDimensionError("CSR.ScaleColumns", m.cols, len(scale), 1)
	}
	data := make([]float64, len(m.data))
	for k, c := range m.indices {
		data[k] = m.data[k] * scale[c]
	}
	return &CSR{rows: m.rows, cols: m.cols, data: data, indices: m.indices, indptr: m.indptr}, nil
}

// MulTransposedInto writes rows [start, end) of X·Wᵗ into dst (rows × W.rows).
// Each row of W is scattered into a dense buffer once per call, so callers that split
// the row range across goroutines pay that cost once per chunk.
func (m *CSR) MulTransposedInto(w *CSR, dst *mat.Dense, start, end int) {
	k, _ := w.Dims()
	buf := make([]float64, m.cols)
	for j := 0; j < k; j++ {
		idx, vals := w.RowView(j)
		for p, c := range idx {
			buf[c] = vals[p]
		}
		for i := start; i < end; i++ {
			dst.Set(i, j, m.RowDot(i, buf))
		}
		for _, c := range idx {
			buf[c] = 0
		}
	}
}

// MulTransposed returns X·Wᵗ as a dense rows×W.rows matrix.
func (m *CSR) MulTransposed(w *CSR) (*mat.Dense, error) {
	if w.cols != m.cols {
		return nil, errors.NewDimensionError("CSR.MulTransposed", w.cols, m.cols, 1)
	}
	if m.rows == 0 || w.rows == 0 {
		return &mat.Dense{}, nil
	}
	dst := mat.NewDense(m.rows, w.rows, nil)
	m.MulTransposedInto(w, dst, 0, m.rows)
	return dst, nil
}
