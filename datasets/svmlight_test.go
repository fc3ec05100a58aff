package datasets

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sparsesgd/core/sparse"
	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

const sample = `# two features and a comment line
1 1:0.5 3:-2
-1 2:1e-3   # trailing comment

2 qid:4 1:1 2:2 3:3
0
`

func TestLoadSVMLight(t *testing.T) {
	X, y, err := LoadSVMLight(strings.NewReader(sample))
	require.NoError(t, err)

	r, c := X.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, []float64{1, -1, 2, 0}, mat.Col(nil, 0, y))

	want := mat.NewDense(4, 3, []float64{
		0.5, 0, -2,
		0, 1e-3, 0,
		1, 2, 3,
		0, 0, 0,
	})
	assert.True(t, mat.Equal(want, X.ToDense()))
	assert.Equal(t, 0, X.RowNNZ(3))
}

func TestLoadSVMLightOptions(t *testing.T) {
	X, _, err := LoadSVMLight(strings.NewReader("1 0:1 2:3\n"), WithZeroBased(true), WithNFeatures(5))
	require.NoError(t, err)
	_, c := X.Dims()
	assert.Equal(t, 5, c)
	assert.Equal(t, 3.0, X.At(0, 2))

	// 重複したインデックスは足し合わされる
	X, _, err = LoadSVMLight(strings.NewReader("1 2:1 2:2\n"))
	require.NoError(t, err)
	assert.Equal(t, 3.0, X.At(0, 1))
}

func TestLoadSVMLightErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  []Option
	}{
		{"bad label", "x 1:1\n", nil},
		{"missing colon", "1 11\n", nil},
		{"empty value", "1 1:\n", nil},
		{"bad index", "1 a:1\n", nil},
		{"bad value", "1 1:b\n", nil},
		{"zero index in one-based file", "1 0:1\n", nil},
		{"negative index", "1 -1:1\n", []Option{WithZeroBased(true)}},
		{"index beyond n_features", "1 4:1\n", []Option{WithNFeatures(3)}},
		{"negative n_features", "1 1:1\n", []Option{WithNFeatures(-1)}},
		{"index beyond int32", "1 4294967297:5\n0 1:1\n", nil},
		{"index wraps to negative int32", "1 2147483649:5\n", nil},
		{"zero-based index beyond int32", "1 2147483648:5\n", []Option{WithZeroBased(true)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := LoadSVMLight(strings.NewReader(tt.input), tt.opts...)
			var verr *errors.ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
		})
	}

	_, _, err := LoadSVMLight(strings.NewReader("# only a comment\n\n"))
	assert.True(t, errors.Is(err, errors.ErrEmptyData))

	_, _, err = LoadSVMLight(strings.NewReader("1 1:1\n1 x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, _, err = LoadSVMLightFile(filepath.Join(t.TempDir(), "missing.svm"))
	assert.Error(t, err)
}

func TestDumpSVMLightRoundTrip(t *testing.T) {
	X := mat.NewDense(3, 4, []float64{
		0.1, 0, 0, 1e-20,
		0, 0, 0, 0,
		-3, 2.5, 0, 7,
	})
	y := mat.NewDense(3, 1, []float64{1, -1, 3})

	var buf bytes.Buffer
	require.NoError(t, DumpSVMLight(&buf, X, y))
	assert.Equal(t, "1 1:0.1 4:1e-20\n-1\n3 1:-3 2:2.5 4:7\n", buf.String())

	Xs, ys, err := LoadSVMLight(&buf, WithNFeatures(4))
	require.NoError(t, err)
	assert.True(t, mat.Equal(X, Xs.ToDense()))
	assert.True(t, mat.Equal(y, ys))

	path := filepath.Join(t.TempDir(), "data.svm")
	require.NoError(t, DumpSVMLightFile(path, sparse.FromDense(X), y, WithZeroBased(true)))
	Xf, yf, err := LoadSVMLightFile(path, WithZeroBased(true), WithNFeatures(4))
	require.NoError(t, err)
	assert.True(t, mat.Equal(X, Xf))
	assert.True(t, mat.Equal(y, yf))
}

func TestDumpSVMLightShapeErrors(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	var derr *errors.DimensionError
	assert.True(t, errors.As(DumpSVMLight(&bytes.Buffer{}, X, mat.NewDense(3, 1, nil)), &derr))
	assert.True(t, errors.As(DumpSVMLight(&bytes.Buffer{}, X, mat.NewDense(2, 2, nil)), &derr))
}
