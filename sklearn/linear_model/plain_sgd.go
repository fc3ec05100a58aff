package linear_model

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/sparsesgd/core/sparse"
	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
	"github.com/YuminosukeSato/sparsesgd/pkg/log"
)

// KernelParams are the inputs of one PlainSGD run over a binary or regression target.
type KernelParams struct {
	// Weights and Intercept are the starting point (warm start). Weights is copied.
	Weights   []float64
	Intercept float64

	Loss    LossFunction
	Penalty Penalty
	Alpha   float64
	// Rho is the l2 share of the elastic net penalty. Callers pass effectiveRho.
	Rho float64

	X *sparse.CSR
	// Y holds ±1 for classification or raw targets for regression.
	Y []float64

	NIter        int
	FitIntercept bool
	// InterceptDecay scales the intercept update. 1 applies the full update.
	InterceptDecay float64
	Verbose        int
	Shuffle        bool
	Seed           int64

	// WeightPos multiplies the update of samples with y > 0, WeightNeg all others.
	WeightPos float64
	WeightNeg float64
	// SampleWeight may be nil, meaning all ones.
	SampleWeight []float64

	LearningRate LearningRate
	Eta0         float64
	PowerT       float64
}

// KernelResult is the outcome of PlainSGD.
type KernelResult struct {
	Weights   []float64
	Intercept float64
	// LossHistory holds the average loss of every epoch.
	LossHistory []float64
	// T is the final value of the step counter.
	T float64
}

func (p *KernelParams) validate() error {
	if p.X == nil {
		return errors.NewValidationError("X", "must not be nil", nil)
	}
	if p.Loss == nil {
		return errors.NewValidationError("loss", "must not be nil", nil)
	}
	rows, cols := p.X.Dims()
	if len(p.Weights) != cols {
		return errors.NewInputShapeError("training", "weights", []int{cols}, []int{len(p.Weights)})
	}
	if len(p.Y) != rows {
		return errors.NewDimensionError("PlainSGD", rows, len(p.Y), 0)
	}
	if p.SampleWeight != nil && len(p.SampleWeight) != rows {
		return errors.NewDimensionError("PlainSGD", rows, len(p.SampleWeight), 0)
	}
	if p.NIter <= 0 {
		return errors.NewValidationError("n_iter", "must be greater than zero", p.NIter)
	}
	if p.Alpha <= 0 && p.LearningRate == Optimal {
		return errors.NewValidationError("alpha", "must be greater than zero for the optimal schedule", p.Alpha)
	}
	return nil
}

// PlainSGD runs NIter epochs of plain stochastic gradient descent over the rows of X.
//
// The weight vector is stored as w*wscale so that the l2 shrinkage of every step is a
// single multiplication. l1 uses the cumulative truncated penalty: u is the total
// penalty every weight could have received so far and q the penalty each weight
// actually received, so weights are clipped at zero instead of oscillating around it.
//
// After every epoch the weights and intercept are checked for NaN/Inf; on overflow the
// returned error wraps errors.ErrFloatingPoint. ctx is checked between epochs.
func PlainSGD(ctx context.Context, p KernelParams, logger log.Logger) (res KernelResult, err error) {
	defer errors.Recover(&err, "PlainSGD")

	if err := p.validate(); err != nil {
		return KernelResult{}, err
	}
	if logger == nil {
		logger = log.GetLogger()
	}

	nSamples, nFeatures := p.X.Dims()
	w := append([]float64(nil), p.Weights...)
	intercept := p.Intercept
	decay := p.InterceptDecay
	if decay == 0 {
		decay = 1.0
	}

	index := make([]int, nSamples)
	for i := range index {
		index[i] = i
	}

	var q []float64
	if p.Penalty != L2 {
		q = make([]float64, nFeatures)
	}
	var (
		wscale  = 1.0
		u       = 0.0
		count   = 0
		history = make([]float64, 0, p.NIter)
		sched   = newSchedule(p.LearningRate, p.Alpha, p.Eta0, p.PowerT, p.Loss)
		start   = time.Now()
	)

	for epoch := 0; epoch < p.NIter; epoch++ {
		if err := ctx.Err(); err != nil {
			return KernelResult{}, errors.WithStack(err)
		}
		if p.Shuffle {
			// 毎エポック同じシードで並べ替える（置換は累積する）
			rng := rand.New(rand.NewPCG(uint64(p.Seed), uint64(p.Seed)))
			rng.Shuffle(len(index), func(a, b int) { index[a], index[b] = index[b], index[a] })
		}

		sumLoss := 0.0
		for _, i := range index {
			eta := sched.eta()
			y := p.Y[i]
			pred := p.X.RowDot(i, w)*wscale + intercept
			sumLoss += p.Loss.Loss(pred, y)

			classWeight := p.WeightNeg
			if y > 0 {
				classWeight = p.WeightPos
			}
			sampleWeight := 1.0
			if p.SampleWeight != nil {
				sampleWeight = p.SampleWeight[i]
			}

			update := eta * p.Loss.DLoss(pred, y) * classWeight * sampleWeight
			if update != 0 {
				p.X.RowAxpy(i, update/wscale, w)
				if p.FitIntercept {
					intercept += update * decay
				}
			}

			if p.Penalty != L1 {
				wscale *= 1.0 - p.Rho*eta*p.Alpha
				if wscale < 1e-9 {
					floats.Scale(wscale, w)
					wscale = 1.0
				}
			}
			if p.Penalty == L1 || p.Penalty == ElasticNet {
				u += (1.0 - p.Rho) * eta * p.Alpha
				l1Penalty(p.X, i, w, wscale, q, u)
			}
			sched.step()
			count++
		}

		avgLoss := 0.0
		if nSamples > 0 {
			avgLoss = sumLoss / float64(nSamples)
		}
		history = append(history, avgLoss)

		if p.Verbose > 0 {
			logger.Info("-- Epoch",
				log.EpochKey, epoch+1,
				log.NormKey, floats.Norm(w, 2)*math.Abs(wscale),
				log.WeightNNZKey, countNonZero(w),
				log.BiasKey, intercept,
				log.StepKey, count,
				log.LossKey, avgLoss,
				log.DurationMsKey, time.Since(start).Milliseconds(),
			)
		}

		if err := errors.CheckNumericalStability("PlainSGD", w, epoch+1); err != nil {
			return KernelResult{}, err
		}
		if err := errors.CheckScalar("PlainSGD", intercept, epoch+1); err != nil {
			return KernelResult{}, err
		}
	}

	floats.Scale(wscale, w)
	return KernelResult{Weights: w, Intercept: intercept, LossHistory: history, T: sched.t}, nil
}

// l1Penalty applies the outstanding l1 penalty to the coordinates touched by row i.
func l1Penalty(X *sparse.CSR, i int, w []float64, wscale float64, q []float64, u float64) {
	idx, _ := X.RowView(i)
	for _, c := range idx {
		z := w[c]
		switch {
		case wscale*w[c] > 0:
			w[c] = math.Max(0, w[c]-(u+q[c])/wscale)
		case wscale*w[c] < 0:
			w[c] = math.Min(0, w[c]+(u-q[c])/wscale)
		}
		q[c] += wscale * (w[c] - z)
	}
}

func countNonZero(w []float64) int {
	n := 0
	for _, v := range w {
		if v != 0 {
			n++
		}
	}
	return n
}
