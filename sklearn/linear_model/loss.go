package linear_model

import (
	"math"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

// LossFunction is a per-sample loss for the SGD kernel.
//
// DLoss returns the negative derivative of Loss with respect to the prediction p, so the
// kernel moves the weights by eta*DLoss(p, y)*x.
type LossFunction interface {
	Loss(p, y float64) float64
	DLoss(p, y float64) float64
	Name() string
}

// Hinge is the margin loss of linear SVMs. Labels are ±1.
// A sample exactly on the margin (p*y == 1) has zero loss and zero gradient.
type Hinge struct{}

func (Hinge) Loss(p, y float64) float64 {
	if z := p * y; z < 1.0 {
		return 1.0 - z
	}
	return 0.0
}

func (Hinge) DLoss(p, y float64) float64 {
	if p*y < 1.0 {
		return y
	}
	return 0.0
}

func (Hinge) Name() string { return "hinge" }

// Log is the logistic regression loss. Labels are ±1.
type Log struct{}

// |z| > 18 では log(1+exp(-z)) を近似して exp の計算を省く
func (Log) Loss(p, y float64) float64 {
	z := p * y
	switch {
	case z > 18:
		return math.Exp(-z)
	case z < -18:
		return -z
	}
	return math.Log1p(math.Exp(-z))
}

func (Log) DLoss(p, y float64) float64 {
	z := p * y
	switch {
	case z > 18:
		return math.Exp(-z) * y
	case z < -18:
		return y
	}
	return y / (math.Exp(z) + 1.0)
}

func (Log) Name() string { return "log" }

// ModifiedHuber is a smoothed hinge loss, quadratic on [-1, 1] and linear below.
type ModifiedHuber struct{}

func (ModifiedHuber) Loss(p, y float64) float64 {
	z := p * y
	switch {
	case z >= 1.0:
		return 0.0
	case z >= -1.0:
		return (1.0 - z) * (1.0 - z)
	}
	return -4.0 * z
}

func (ModifiedHuber) DLoss(p, y float64) float64 {
	z := p * y
	switch {
	case z >= 1.0:
		return 0.0
	case z >= -1.0:
		return 2.0 * (1.0 - z) * y
	}
	return 4.0 * y
}

func (ModifiedHuber) Name() string { return "modified_huber" }

// SquaredLoss is the ordinary least squares loss 0.5*(p-y)².
type SquaredLoss struct{}

func (SquaredLoss) Loss(p, y float64) float64 { return 0.5 * (p - y) * (p - y) }

func (SquaredLoss) DLoss(p, y float64) float64 { return y - p }

func (SquaredLoss) Name() string { return "squared_loss" }

// Huber is quadratic for residuals up to C and linear beyond.
type Huber struct {
	C float64
}

func (h Huber) Loss(p, y float64) float64 {
	r := math.Abs(p - y)
	if r <= h.C {
		return 0.5 * r * r
	}
	return h.C*r - 0.5*h.C*h.C
}

func (h Huber) DLoss(p, y float64) float64 {
	r := y - p
	switch {
	case math.Abs(r) <= h.C:
		return r
	case r > 0:
		return h.C
	}
	return -h.C
}

func (Huber) Name() string { return "huber" }

var (
	classificationLosses = []string{"hinge", "log", "modified_huber"}
	regressionLosses     = []string{"squared_loss", "huber"}
)

// NewLossFunction returns the loss registered under name. epsilon is used by "huber".
func NewLossFunction(name string, epsilon float64) (LossFunction, error) {
	switch name {
	case "hinge":
		return Hinge{}, nil
	case "log":
		return Log{}, nil
	case "modified_huber":
		return ModifiedHuber{}, nil
	case "squared_loss":
		return SquaredLoss{}, nil
	case "huber":
		if epsilon <= 0 {
			return nil, errors.NewValidationError("p", "huber epsilon must be greater than zero", epsilon)
		}
		return Huber{C: epsilon}, nil
	}
	return nil, errors.NewValidationError("loss", "unknown loss function", name)
}
