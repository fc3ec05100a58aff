package linear_model

import (
	"math"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

// LearningRate selects the step-size schedule of the kernel.
type LearningRate int

const (
	// Constant: eta = eta0
	Constant LearningRate = iota + 1
	// Optimal: eta = 1/(alpha*t), t starting at 1/(eta0'*alpha) with a heuristic eta0'
	Optimal
	// InvScaling: eta = eta0 / t^power_t, t starting at 1
	InvScaling
)

func (lr LearningRate) String() string {
	switch lr {
	case Constant:
		return "constant"
	case Optimal:
		return "optimal"
	case InvScaling:
		return "invscaling"
	}
	return "unknown"
}

// ParseLearningRate converts a sklearn schedule name.
func ParseLearningRate(name string) (LearningRate, error) {
	switch name {
	case "constant":
		return Constant, nil
	case "optimal":
		return Optimal, nil
	case "invscaling":
		return InvScaling, nil
	}
	return 0, errors.NewValidationError("learning_rate", "must be one of constant, optimal, invscaling", name)
}

// schedule holds the step counter t of one kernel run.
type schedule struct {
	kind   LearningRate
	alpha  float64
	eta0   float64
	powerT float64
	t      float64
}

// newSchedule initialises t. For Optimal the initial rate is derived from the loss
// so that the first step has a typical weight magnitude of sqrt(1/sqrt(alpha)).
func newSchedule(kind LearningRate, alpha, eta0, powerT float64, loss LossFunction) *schedule {
	s := &schedule{kind: kind, alpha: alpha, eta0: eta0, powerT: powerT, t: 1.0}
	if kind == Optimal {
		typw := math.Sqrt(1.0 / math.Sqrt(alpha))
		initEta := typw / math.Max(1.0, loss.DLoss(-typw, 1.0))
		s.t = 1.0 / (initEta * alpha)
	}
	return s
}

func (s *schedule) eta() float64 {
	switch s.kind {
	case Optimal:
		return 1.0 / (s.alpha * s.t)
	case InvScaling:
		return s.eta0 / math.Pow(s.t, s.powerT)
	}
	return s.eta0
}

func (s *schedule) step() { s.t++ }

// Penalty selects the regularizer.
type Penalty int

const (
	L1 Penalty = iota + 1
	L2
	ElasticNet
)

func (p Penalty) String() string {
	switch p {
	case L1:
		return "l1"
	case L2:
		return "l2"
	case ElasticNet:
		return "elasticnet"
	}
	return "unknown"
}

// ParsePenalty converts a sklearn penalty name.
func ParsePenalty(name string) (Penalty, error) {
	switch name {
	case "l1":
		return L1, nil
	case "l2":
		return L2, nil
	case "elasticnet":
		return ElasticNet, nil
	}
	return 0, errors.NewValidationError("penalty", "must be one of l1, l2, elasticnet", name)
}

// effectiveRho returns the mixing parameter the kernel actually uses:
// 1 for l2, 0 for l1, rho for elasticnet.
func effectiveRho(p Penalty, rho float64) float64 {
	switch p {
	case L2:
		return 1.0
	case L1:
		return 0.0
	}
	return rho
}
