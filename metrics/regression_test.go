package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

func TestRegressionMetrics(t *testing.T) {
	yTrue := mat.NewVecDense(4, []float64{3, -0.5, 2, 7})
	yPred := mat.NewVecDense(4, []float64{2.5, 0, 2, 8})

	tests := []struct {
		name string
		fn   func(yTrue, yPred mat.Vector) (float64, error)
		want float64
	}{
		{"MSE", MSE, 0.375},
		{"RMSE", RMSE, math.Sqrt(0.375)},
		{"MAE", MAE, 0.5},
		{"R2Score", R2Score, 1 - 1.5/29.1875},
		{"ExplainedVarianceScore", ExplainedVarianceScore, 1 - 0.3125/7.296875},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(yTrue, yPred)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)

			perfect, err := tt.fn(yTrue, yTrue)
			require.NoError(t, err)
			if tt.name == "R2Score" || tt.name == "ExplainedVarianceScore" {
				assert.Equal(t, 1.0, perfect)
			} else {
				assert.Equal(t, 0.0, perfect)
			}

			var derr *errors.DimensionError
			_, err = tt.fn(yTrue, mat.NewVecDense(3, nil))
			assert.True(t, errors.As(err, &derr))

			var verr *errors.ValueError
			_, err = tt.fn(nil, yPred)
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestExplainedVarianceIgnoresBias(t *testing.T) {
	yTrue := mat.NewVecDense(3, []float64{1, 2, 3})
	shifted := mat.NewVecDense(3, []float64{2, 3, 4})

	ev, err := ExplainedVarianceScore(yTrue, shifted)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ev, 1e-12)

	r2, err := R2Score(yTrue, shifted)
	require.NoError(t, err)
	assert.InDelta(t, -0.5, r2, 1e-12)
}

func TestConstantTargets(t *testing.T) {
	y := mat.NewVecDense(3, []float64{2, 2, 2})
	var verr *errors.ValueError
	_, err := R2Score(y, y)
	assert.True(t, errors.As(err, &verr))
	_, err = ExplainedVarianceScore(y, y)
	assert.True(t, errors.As(err, &verr))
}

func TestRegressionMatrixMetrics(t *testing.T) {
	yTrue := mat.NewDense(4, 1, []float64{1, 2, 3, 4})

	got, err := R2ScoreMatrix(yTrue, mat.NewDense(4, 1, []float64{2.5, 2.5, 2.5, 2.5}))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, got, 1e-12)

	got, err = MSEMatrix(yTrue, mat.NewVecDense(4, []float64{1, 2, 3, 6}))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-12)

	_, err = MSEMatrix(yTrue, mat.NewDense(3, 1, nil))
	var derr *errors.DimensionError
	assert.True(t, errors.As(err, &derr))

	_, err = R2ScoreMatrix(nil, yTrue)
	assert.Error(t, err)
	_, err = MSEMatrix(&mat.Dense{}, yTrue)
	assert.Error(t, err)
}

func BenchmarkR2Score(b *testing.B) {
	n := 10000
	yTrue := mat.NewVecDense(n, nil)
	yPred := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		yTrue.SetVec(i, float64(i))
		yPred.SetVec(i, float64(i)+math.Sin(float64(i)))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = R2Score(yTrue, yPred)
	}
}
