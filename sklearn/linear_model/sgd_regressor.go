package linear_model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sparsesgd/core/model"
	"github.com/YuminosukeSato/sparsesgd/core/sparse"
	"github.com/YuminosukeSato/sparsesgd/metrics"
	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
	"github.com/YuminosukeSato/sparsesgd/pkg/log"
)

// SGDRegressor is a linear regressor fitted with plain SGD over compressed sparse rows.
// Targets are used as given; there is a single weight vector and intercept.
type SGDRegressor struct {
	state  *model.StateManager
	params sgdParams

	coef_        []float64   // 重み係数
	intercept_   float64     // 切片
	sparseCoef_  *sparse.CSR // coef_ の 1 行 CSR
	lossHistory_ []float64

	mu sync.RWMutex
}

var (
	_ model.Regressor      = (*SGDRegressor)(nil)
	_ model.WeightExporter = (*SGDRegressor)(nil)
	_ model.ParamsAccessor = (*SGDRegressor)(nil)
)

// NewSGDRegressor は新しいSGDRegressorを作成
//
// Defaults: loss="squared_loss", penalty="l2", alpha=1e-4, n_iter=5,
// learning_rate="invscaling", eta0=0.01, power_t=0.25, p=0.1, n_jobs=1.
// n_jobs only splits prediction over row chunks; fitting is a single sequential pass.
func NewSGDRegressor(options ...Option) *SGDRegressor {
	r := &SGDRegressor{
		state:  model.NewStateManager(),
		params: defaultRegressorParams(),
	}
	for _, opt := range options {
		opt(&r.params)
	}
	return r
}

// Fit trains the regressor on X (n_samples × n_features) and y (n_samples × 1).
func (r *SGDRegressor) Fit(X, y mat.Matrix) error {
	return r.FitContext(context.Background(), X, y)
}

// FitContext is Fit with cancellation and per-call options. WithClassWeight is ignored.
func (r *SGDRegressor) FitContext(ctx context.Context, X, y mat.Matrix, opts ...FitOption) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer errors.Recover(&err, "SGDRegressor.Fit")

	const op = "SGDRegressor.Fit"
	if err := r.params.validate(regressionLosses); err != nil {
		return err
	}
	target, err := targetVector(op, y)
	if err != nil {
		return err
	}
	if err := checkTrainingShape(op, X, len(target)); err != nil {
		return err
	}

	cfg := newFitConfig(opts)
	sampleWeight, err := cfg.sampleWeights(op, len(target))
	if err != nil {
		return err
	}

	Xs := toCSR(X, true)
	nSamples, nFeatures := Xs.Dims()

	var current [][]float64
	var currentIntercept []float64
	if r.coef_ != nil {
		current = [][]float64{r.coef_}
		currentIntercept = []float64{r.intercept_}
	}
	coef, intercept, err := cfg.initialWeights(op, 1, nFeatures, current, currentIntercept, r.params.warmStart)
	if err != nil {
		return err
	}

	p, err := r.params.kernelParams()
	if err != nil {
		return err
	}
	p.X = Xs
	p.Y = target
	p.SampleWeight = sampleWeight
	p.Weights = coef[0]
	p.Intercept = intercept[0]

	logger := r.params.getLogger().With(
		log.ModelNameKey, "SGDRegressor",
		log.OperationKey, log.OperationFit,
	)
	start := time.Now()
	logger.Debug("fit started",
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.NNZKey, Xs.NNZ(),
		log.LossFunctionKey, r.params.loss,
		log.PenaltyKey, r.params.penalty,
		log.LearningRateKey, r.params.learningRate,
		log.RegularizationKey, r.params.alpha,
	)

	res, err := PlainSGD(ctx, p, logger)
	if err != nil {
		logger.Error("fit failed", err)
		return errors.Wrap(err, "SGDRegressor: fit")
	}

	r.setCoef(res.Weights)
	r.intercept_ = res.Intercept
	r.lossHistory_ = res.LossHistory
	r.state.SetDimensions(nFeatures, nSamples)
	r.state.SetFitted()

	logger.Debug("fit completed", log.DurationMsKey, time.Since(start).Milliseconds())
	return nil
}

func (r *SGDRegressor) setCoef(coef []float64) {
	r.coef_ = coef
	if coef == nil {
		r.sparseCoef_ = nil
		return
	}
	r.sparseCoef_ = denseRowsToCSR([][]float64{coef})
}

// DecisionFunction returns X·coef + intercept as an n×1 column.
func (r *SGDRegressor) DecisionFunction(X mat.Matrix) (mat.Matrix, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.decisionFunction("DecisionFunction", X)
}

func (r *SGDRegressor) decisionFunction(method string, X mat.Matrix) (*mat.Dense, error) {
	if err := r.state.RequireFitted("SGDRegressor", method); err != nil {
		return nil, err
	}
	Xs, err := predictInput("SGDRegressor."+method, X, r.state)
	if err != nil {
		return nil, err
	}
	return decisionScores(Xs, r.sparseCoef_, []float64{r.intercept_}, r.params.nJobs), nil
}

// Predict returns the predicted targets as an n×1 column.
func (r *SGDRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.decisionFunction("Predict", X)
}

// Score returns the coefficient of determination R² of the prediction.
func (r *SGDRegressor) Score(X, y mat.Matrix) (float64, error) {
	pred, err := r.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2ScoreMatrix(y, pred)
}

// Coef returns a copy of the weights.
func (r *SGDRegressor) Coef() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]float64(nil), r.coef_...)
}

// Intercept returns the intercept.
func (r *SGDRegressor) Intercept() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.intercept_
}

// SparseCoef returns the weights as a 1×n_features CSR.
func (r *SGDRegressor) SparseCoef() *sparse.CSR {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sparseCoef_
}

// LossHistory returns the average loss of every epoch of the last fit.
func (r *SGDRegressor) LossHistory() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]float64(nil), r.lossHistory_...)
}

// IsFitted returns whether the model has been fitted.
func (r *SGDRegressor) IsFitted() bool {
	return r.state.IsFitted()
}

// Reset drops the learned state.
func (r *SGDRegressor) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setCoef(nil)
	r.intercept_ = 0
	r.lossHistory_ = nil
	r.state.Reset()
}

// GetParams returns the hyperparameters under their sklearn names.
func (r *SGDRegressor) GetParams() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params.toMap()
}

// SetParams updates hyperparameters by sklearn name and validates the result.
func (r *SGDRegressor) SetParams(params map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.params
	if err := next.setFromMap(params); err != nil {
		return err
	}
	if err := next.validate(regressionLosses); err != nil {
		return err
	}
	r.params = next
	return nil
}

// ExportWeights はモデルの重みをエクスポート
func (r *SGDRegressor) ExportWeights() (*model.ModelWeights, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.state.RequireFitted("SGDRegressor", "ExportWeights"); err != nil {
		return nil, err
	}
	nFeatures, nSamples := r.state.GetDimensions()
	params := r.params.toMap()
	w := &model.ModelWeights{
		ModelType:       "SGDRegressor",
		Version:         modelVersion,
		Coefficients:    [][]float64{append([]float64(nil), r.coef_...)},
		Intercepts:      []float64{r.intercept_},
		IsFitted:        true,
		Hyperparameters: params,
		Metadata: map[string]interface{}{
			"n_features": nFeatures,
			"n_samples":  nSamples,
		},
	}
	w.Metadata["checksum"] = w.Checksum()
	return w, nil
}

// ImportWeights はモデルの重みをインポート
func (r *SGDRegressor) ImportWeights(w *model.ModelWeights) error {
	if w == nil {
		return errors.NewValidationError("weights", "cannot be nil", nil)
	}
	if w.ModelType != "SGDRegressor" {
		return errors.NewValidationError("model_type", "expected SGDRegressor", w.ModelType)
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if len(w.Coefficients) != 1 {
		return errors.NewInputShapeError("import", "coefficients", []int{1, w.NFeatures()}, []int{len(w.Coefficients), w.NFeatures()})
	}
	if sum, ok := w.Metadata["checksum"].(string); ok && sum != w.Checksum() {
		return errors.NewValueError("SGDRegressor.ImportWeights", "checksum mismatch: weights may be corrupted")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.params
	if err := next.setFromMap(w.Hyperparameters); err != nil {
		return err
	}
	if err := next.validate(regressionLosses); err != nil {
		return err
	}

	r.params = next
	r.setCoef(append([]float64(nil), w.Coefficients[0]...))
	r.intercept_ = w.Intercepts[0]
	r.lossHistory_ = nil
	nSamples := 0
	if v, err := asInt("n_samples", w.Metadata["n_samples"]); err == nil {
		nSamples = v
	}
	r.state.SetDimensions(w.NFeatures(), nSamples)
	r.state.SetFitted()
	return nil
}

// GetWeightHash returns the SHA-256 of the weights and intercept, or "" when not fitted.
func (r *SGDRegressor) GetWeightHash() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.state.IsFitted() {
		return ""
	}
	return model.HashWeights([][]float64{r.coef_}, []float64{r.intercept_})
}

// GobEncode lets model.SaveModel persist a fitted regressor.
func (r *SGDRegressor) GobEncode() ([]byte, error) {
	w, err := r.ExportWeights()
	if err != nil {
		return nil, err
	}
	return model.EncodeWeights(w)
}

// GobDecode restores a regressor written by GobEncode.
func (r *SGDRegressor) GobDecode(data []byte) error {
	w, err := model.DecodeWeights(data)
	if err != nil {
		return err
	}
	if r.state == nil {
		r.state = model.NewStateManager()
		r.params = defaultRegressorParams()
	}
	return r.ImportWeights(w)
}

func (r *SGDRegressor) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("SGDRegressor(loss=%q, penalty=%q, alpha=%g, rho=%g, n_iter=%d, learning_rate=%q, eta0=%g, power_t=%g, p=%g, n_jobs=%d)",
		r.params.loss, r.params.penalty, r.params.alpha, r.params.rho, r.params.nIter,
		r.params.learningRate, r.params.eta0, r.params.powerT, r.params.epsilon, r.params.nJobs)
}
