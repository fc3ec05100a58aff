package linear_model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

func TestLossFunctions(t *testing.T) {
	tests := []struct {
		name      string
		loss      LossFunction
		p, y      float64
		wantLoss  float64
		wantDLoss float64
	}{
		{"hinge inside margin", Hinge{}, 0.5, 1, 0.5, 1},
		{"hinge on margin", Hinge{}, 1, 1, 0, 0},
		{"hinge on negative margin", Hinge{}, -1, -1, 0, 0},
		{"hinge just inside margin", Hinge{}, 0.999, 1, 0.001, 1},
		{"hinge outside margin", Hinge{}, 2, 1, 0, 0},
		{"hinge negative label", Hinge{}, 0.5, -1, 1.5, -1},
		{"log at zero", Log{}, 0, 1, math.Ln2, 0.5},
		{"log large margin", Log{}, 20, 1, math.Exp(-20), math.Exp(-20)},
		{"log large violation", Log{}, -20, 1, 20, 1},
		{"modified huber quadratic", ModifiedHuber{}, 0, 1, 1, 2},
		{"modified huber linear", ModifiedHuber{}, -2, 1, 8, 4},
		{"modified huber zero", ModifiedHuber{}, 1, 1, 0, 0},
		{"squared loss", SquaredLoss{}, 3, 1, 2, -2},
		{"huber quadratic", Huber{C: 1}, 1.5, 1, 0.125, -0.5},
		{"huber linear", Huber{C: 1}, 3, 1, 1.5, -1},
		{"huber linear below", Huber{C: 1}, -1, 1, 1.5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantLoss, tt.loss.Loss(tt.p, tt.y), 1e-12)
			assert.InDelta(t, tt.wantDLoss, tt.loss.DLoss(tt.p, tt.y), 1e-12)
		})
	}
}

func TestLogLossContinuousAtClamp(t *testing.T) {
	// 18 の前後で近似式と厳密式の差は十分小さい
	l := Log{}
	assert.InDelta(t, l.Loss(17.999999, 1), l.Loss(18.000001, 1), 1e-9)
	assert.InDelta(t, l.DLoss(-17.999999, 1), l.DLoss(-18.000001, 1), 1e-6)
}

func TestNewLossFunction(t *testing.T) {
	for _, name := range append(append([]string{}, classificationLosses...), regressionLosses...) {
		l, err := NewLossFunction(name, 0.1)
		require.NoError(t, err, name)
		assert.Equal(t, name, l.Name())
	}

	h, err := NewLossFunction("huber", 0.5)
	require.NoError(t, err)
	assert.Equal(t, Huber{C: 0.5}, h)

	_, err = NewLossFunction("huber", 0)
	var verr *errors.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = NewLossFunction("perceptron", 0.1)
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, "loss", verr.ParamName)
}

func TestScheduleOptimal(t *testing.T) {
	// alpha=1e-4: typw = 10, hinge の dloss(-10, 1) = 1 なので eta0' = 10, t0 = 1000
	s := newSchedule(Optimal, 1e-4, 0, 0.5, Hinge{})
	assert.InDelta(t, 1000.0, s.t, 1e-9)
	assert.InDelta(t, 10.0, s.eta(), 1e-9)
	s.step()
	assert.InDelta(t, 1.0/(1e-4*1001), s.eta(), 1e-12)

	// log loss: dloss(-10, 1) < 1 なので max で 1 に切り上げ
	s = newSchedule(Optimal, 1e-4, 0, 0.5, Log{})
	assert.InDelta(t, 1000.0, s.t, 1e-9)

	// modified huber: dloss(-10, 1) = 4
	s = newSchedule(Optimal, 1e-4, 0, 0.5, ModifiedHuber{})
	assert.InDelta(t, 4000.0, s.t, 1e-6)
}

func TestScheduleInvScalingAndConstant(t *testing.T) {
	s := newSchedule(InvScaling, 1e-4, 0.01, 0.25, SquaredLoss{})
	assert.Equal(t, 1.0, s.t)
	assert.InDelta(t, 0.01, s.eta(), 1e-15)
	s.step()
	assert.InDelta(t, 0.01/math.Pow(2, 0.25), s.eta(), 1e-15)

	c := newSchedule(Constant, 1e-4, 0.3, 0.25, SquaredLoss{})
	for i := 0; i < 5; i++ {
		assert.Equal(t, 0.3, c.eta())
		c.step()
	}
}

func TestParseNames(t *testing.T) {
	for _, lr := range []LearningRate{Constant, Optimal, InvScaling} {
		got, err := ParseLearningRate(lr.String())
		require.NoError(t, err)
		assert.Equal(t, lr, got)
	}
	_, err := ParseLearningRate("adaptive")
	assert.Error(t, err)

	for _, p := range []Penalty{L1, L2, ElasticNet} {
		got, err := ParsePenalty(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err = ParsePenalty("none")
	assert.Error(t, err)

	assert.Equal(t, 1.0, effectiveRho(L2, 0.85))
	assert.Equal(t, 0.0, effectiveRho(L1, 0.85))
	assert.Equal(t, 0.85, effectiveRho(ElasticNet, 0.85))
}
