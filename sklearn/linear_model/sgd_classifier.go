package linear_model

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sparsesgd/core/model"
	"github.com/YuminosukeSato/sparsesgd/core/parallel"
	"github.com/YuminosukeSato/sparsesgd/core/sparse"
	"github.com/YuminosukeSato/sparsesgd/metrics"
	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
	"github.com/YuminosukeSato/sparsesgd/pkg/log"
)

// SGDClassifier is a linear classifier fitted by minimizing a regularized empirical loss
// with plain SGD over compressed sparse rows.
//
// Two classes are fitted as one binary problem with classes[1] as the positive class.
// K > 2 classes are fitted one-vs-all, with the K sub-problems dispatched to a pool of
// n_jobs workers. Repeated fits continue from the current weights unless warm start is
// disabled or Reset is called.
//
// Dense inputs are converted to *sparse.CSR before the kernel sees them.
type SGDClassifier struct {
	state  *model.StateManager
	params sgdParams

	coef_        [][]float64 // 重み係数 (1 x n_features または n_classes x n_features)
	intercept_   []float64   // 切片
	sparseCoef_  *sparse.CSR // coef_ の CSR 表現（予測用）
	classes_     []float64   // クラスラベル（昇順）
	lossHistory_ [][]float64 // 行ごとのエポック平均損失

	mu sync.RWMutex
}

var (
	_ model.Classifier     = (*SGDClassifier)(nil)
	_ model.WeightExporter = (*SGDClassifier)(nil)
	_ model.ParamsAccessor = (*SGDClassifier)(nil)
)

// NewSGDClassifier は新しいSGDClassifierを作成
//
// Defaults: loss="hinge", penalty="l2", alpha=1e-4, rho=0.85, n_iter=5,
// learning_rate="optimal", power_t=0.5, n_jobs=1, shuffle=false, seed=0.
func NewSGDClassifier(options ...Option) *SGDClassifier {
	c := &SGDClassifier{
		state:  model.NewStateManager(),
		params: defaultClassifierParams(),
	}
	for _, opt := range options {
		opt(&c.params)
	}
	return c
}

// Fit trains the classifier on X (n_samples × n_features) and y (n_samples × 1).
func (c *SGDClassifier) Fit(X, y mat.Matrix) error {
	return c.FitContext(context.Background(), X, y)
}

// FitContext is Fit with cancellation and per-call options (initial weights, class and
// sample weights). Cancelling ctx aborts the kernel between epochs.
//
// On error the stored weights are left as they were before the call.
func (c *SGDClassifier) FitContext(ctx context.Context, X, y mat.Matrix, opts ...FitOption) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer errors.Recover(&err, "SGDClassifier.Fit")

	const op = "SGDClassifier.Fit"
	if err := c.params.validate(classificationLosses); err != nil {
		return err
	}
	labels, err := targetVector(op, y)
	if err != nil {
		return err
	}
	if err := checkTrainingShape(op, X, len(labels)); err != nil {
		return err
	}
	classes := uniqueClasses(labels)
	if len(classes) < 2 {
		return errors.NewValueError(op, "the number of class labels must be greater than one")
	}

	cfg := newFitConfig(opts)
	classWeight, err := classWeights(classes, cfg.classWeight)
	if err != nil {
		return err
	}
	sampleWeight, err := cfg.sampleWeights(op, len(labels))
	if err != nil {
		return err
	}

	Xs := toCSR(X, true)
	nSamples, nFeatures := Xs.Dims()
	nRows := len(classes)
	if nRows == 2 {
		nRows = 1
	}

	logger := c.params.getLogger().With(
		log.ModelNameKey, "SGDClassifier",
		log.OperationKey, log.OperationFit,
	)

	// クラス集合が変わった場合は前回の重みを引き継がない
	current, currentIntercept := c.coef_, c.intercept_
	if !slices.Equal(classes, c.classes_) {
		if c.coef_ != nil && c.params.warmStart {
			logger.Debug("class set changed, starting from zero weights",
				log.ClassesKey, len(classes))
		}
		current, currentIntercept = nil, nil
	}
	coef, intercept, err := cfg.initialWeights(op, nRows, nFeatures, current, currentIntercept, c.params.warmStart)
	if err != nil {
		return err
	}

	base, err := c.params.kernelParams()
	if err != nil {
		return err
	}
	base.X = Xs
	base.SampleWeight = sampleWeight

	start := time.Now()
	logger.Debug("fit started",
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.NNZKey, Xs.NNZ(),
		log.ClassesKey, len(classes),
		log.LossFunctionKey, c.params.loss,
		log.PenaltyKey, c.params.penalty,
		log.LearningRateKey, c.params.learningRate,
		log.RegularizationKey, c.params.alpha,
	)

	var results []KernelResult
	if len(classes) == 2 {
		res, err := c.fitBinary(ctx, base, labels, classes, classWeight, coef[0], intercept[0], logger)
		if err != nil {
			logger.Error("binary fit failed", err)
			return err
		}
		results = []KernelResult{res}
	} else {
		results, err = c.fitMulticlass(ctx, base, labels, classes, classWeight, coef, intercept, logger)
		if err != nil {
			logger.Error("one-vs-all fit failed", err)
			return err
		}
	}

	// 全ての部分問題が成功してからクラス番号順に書き戻す
	history := make([][]float64, len(results))
	for i, res := range results {
		coef[i] = res.Weights
		intercept[i] = res.Intercept
		history[i] = res.LossHistory
	}
	c.setCoef(coef)
	c.intercept_ = intercept
	c.classes_ = classes
	c.lossHistory_ = history
	c.state.SetDimensions(nFeatures, nSamples)
	c.state.SetFitted()

	logger.Debug("fit completed",
		log.DurationMsKey, time.Since(start).Milliseconds(),
		log.ClassesKey, len(classes),
	)
	return nil
}

// fitBinary maps classes[1] to +1 and every other label to -1.
func (c *SGDClassifier) fitBinary(ctx context.Context, p KernelParams, labels []float64, classes []float64, classWeight []float64, w []float64, b float64, logger log.Logger) (KernelResult, error) {
	y := make([]float64, len(labels))
	pos := classes[1]
	for i, l := range labels {
		if l == pos {
			y[i] = 1.0
		} else {
			y[i] = -1.0
		}
	}
	p.Y = y
	p.Weights = w
	p.Intercept = b
	p.WeightPos = classWeight[1]
	p.WeightNeg = classWeight[0]

	res, err := PlainSGD(ctx, p, logger)
	if err != nil {
		return KernelResult{}, errors.Wrap(err, "SGDClassifier: binary fit")
	}
	return res, nil
}

// fitMulticlass trains one binary problem per class on the worker pool. Each task reads
// only its own row of coef and intercept; results come back ordered by class index.
func (c *SGDClassifier) fitMulticlass(ctx context.Context, base KernelParams, labels []float64, classes []float64, classWeight []float64, coef [][]float64, intercept []float64, logger log.Logger) ([]KernelResult, error) {
	nWorkers := parallel.ResolveNJobs(c.params.nJobs)
	logger.Debug("one-vs-all dispatch", log.ClassesKey, len(classes), log.NJobsKey, nWorkers)

	return parallel.Map(ctx, c.params.nJobs, len(classes), func(ctx context.Context, i int) (KernelResult, error) {
		label := classes[i]
		y := make([]float64, len(labels))
		for k, l := range labels {
			if l == label {
				y[k] = 1.0
			} else {
				y[k] = -1.0
			}
		}
		p := base
		p.Y = y
		p.Weights = coef[i]
		p.Intercept = intercept[i]
		p.WeightPos = classWeight[i]
		p.WeightNeg = 1.0

		res, err := PlainSGD(ctx, p, logger.With(log.ClassIndexKey, i, log.ClassLabelKey, classes[i]))
		if err != nil {
			return KernelResult{}, errors.Wrapf(err, "SGDClassifier: one-vs-all class %d (label %g)", i, classes[i])
		}
		return res, nil
	})
}

// setCoef stores coef and rebuilds the sparse cache used by DecisionFunction.
func (c *SGDClassifier) setCoef(coef [][]float64) {
	c.coef_ = coef
	if coef == nil {
		c.sparseCoef_ = nil
		return
	}
	c.sparseCoef_ = denseRowsToCSR(coef)
}

// DecisionFunction returns the signed distances X·coefᵗ + intercept: an n×1 column for
// binary problems and n×n_classes for one-vs-all.
func (c *SGDClassifier) DecisionFunction(X mat.Matrix) (mat.Matrix, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.decisionFunction("DecisionFunction", X)
}

func (c *SGDClassifier) decisionFunction(method string, X mat.Matrix) (*mat.Dense, error) {
	if err := c.state.RequireFitted("SGDClassifier", method); err != nil {
		return nil, err
	}
	Xs, err := predictInput("SGDClassifier."+method, X, c.state)
	if err != nil {
		return nil, err
	}
	return decisionScores(Xs, c.sparseCoef_, c.intercept_, c.params.nJobs), nil
}

// Predict returns the predicted label of every row as an n×1 column.
func (c *SGDClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	scores, err := c.decisionFunction("Predict", X)
	if err != nil {
		return nil, err
	}
	n, k := scores.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		if k == 1 {
			idx := 0
			if scores.At(i, 0) > 0 {
				idx = 1
			}
			out.Set(i, 0, c.classes_[idx])
			continue
		}
		best := 0
		row := scores.RawRowView(i)
		for j := 1; j < k; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		out.Set(i, 0, c.classes_[best])
	}
	return out, nil
}

// PredictProba returns [P(classes[0]), P(classes[1])] per row. Only binary problems
// fitted with loss="log" have probabilities.
func (c *SGDClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.predictProba("PredictProba", X)
}

func (c *SGDClassifier) predictProba(method string, X mat.Matrix) (*mat.Dense, error) {
	if err := c.state.RequireFitted("SGDClassifier", method); err != nil {
		return nil, err
	}
	if c.params.loss != "log" {
		return nil, errors.Wrapf(errors.ErrNotImplemented, "SGDClassifier.%s: only supported when loss=\"log\", got %q", method, c.params.loss)
	}
	if len(c.classes_) != 2 {
		return nil, errors.Wrapf(errors.ErrNotImplemented, "SGDClassifier.%s: only supported for binary classification", method)
	}
	scores, err := c.decisionFunction(method, X)
	if err != nil {
		return nil, err
	}
	n, _ := scores.Dims()
	out := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		p := errors.Sigmoid(scores.At(i, 0))
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

// PredictLogProba returns the natural log of PredictProba.
func (c *SGDClassifier) PredictLogProba(X mat.Matrix) (mat.Matrix, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	proba, err := c.predictProba("PredictLogProba", X)
	if err != nil {
		return nil, err
	}
	proba.Apply(func(_, _ int, v float64) float64 { return math.Log(v) }, proba)
	return proba, nil
}

// Score returns the mean accuracy on X and y.
func (c *SGDClassifier) Score(X, y mat.Matrix) (float64, error) {
	pred, err := c.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.AccuracyScore(y, pred)
}

// Coef returns a copy of the weights, one row per class (one row for binary problems).
func (c *SGDClassifier) Coef() [][]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneRows(c.coef_)
}

// Intercept returns a copy of the intercepts.
func (c *SGDClassifier) Intercept() []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]float64(nil), c.intercept_...)
}

// SparseCoef returns the CSR form of Coef. It is immutable and may be shared.
func (c *SGDClassifier) SparseCoef() *sparse.CSR {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sparseCoef_
}

// Classes returns the sorted class labels seen during fitting.
func (c *SGDClassifier) Classes() []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]float64(nil), c.classes_...)
}

// LossHistory returns the average loss of every epoch of the last fit, per coefficient row.
func (c *SGDClassifier) LossHistory() [][]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneRows(c.lossHistory_)
}

// IsFitted returns whether the model has been fitted.
func (c *SGDClassifier) IsFitted() bool {
	return c.state.IsFitted()
}

// Reset drops the learned state so that the next Fit starts from zero weights.
func (c *SGDClassifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCoef(nil)
	c.intercept_ = nil
	c.classes_ = nil
	c.lossHistory_ = nil
	c.state.Reset()
}

// GetParams returns the hyperparameters under their sklearn names.
func (c *SGDClassifier) GetParams() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	params := c.params.toMap()
	delete(params, "p")
	return params
}

// SetParams updates hyperparameters by sklearn name and validates the result.
func (c *SGDClassifier) SetParams(params map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.params
	if err := next.setFromMap(params); err != nil {
		return err
	}
	if err := next.validate(classificationLosses); err != nil {
		return err
	}
	c.params = next
	return nil
}

// ExportWeights はモデルの重みをエクスポート
func (c *SGDClassifier) ExportWeights() (*model.ModelWeights, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.state.RequireFitted("SGDClassifier", "ExportWeights"); err != nil {
		return nil, err
	}
	nFeatures, nSamples := c.state.GetDimensions()
	params := c.params.toMap()
	delete(params, "p")
	w := &model.ModelWeights{
		ModelType:       "SGDClassifier",
		Version:         modelVersion,
		Coefficients:    cloneRows(c.coef_),
		Intercepts:      append([]float64(nil), c.intercept_...),
		Classes:         append([]float64(nil), c.classes_...),
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

// ImportWeights はモデルの重みをインポートし、CSR キャッシュを再構築する
func (c *SGDClassifier) ImportWeights(w *model.ModelWeights) error {
	if w == nil {
		return errors.NewValidationError("weights", "cannot be nil", nil)
	}
	if w.ModelType != "SGDClassifier" {
		return errors.NewValidationError("model_type", "expected SGDClassifier", w.ModelType)
	}
	if len(w.Classes) < 2 {
		return errors.NewValidationError("classes", "a fitted classifier has at least two classes", w.Classes)
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if sum, ok := w.Metadata["checksum"].(string); ok && sum != w.Checksum() {
		return errors.NewValueError("SGDClassifier.ImportWeights", "checksum mismatch: weights may be corrupted")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.params
	hp := make(map[string]interface{}, len(w.Hyperparameters))
	for k, v := range w.Hyperparameters {
		if k != "p" {
			hp[k] = v
		}
	}
	if err := next.setFromMap(hp); err != nil {
		return err
	}
	if err := next.validate(classificationLosses); err != nil {
		return err
	}

	c.params = next
	c.setCoef(cloneRows(w.Coefficients))
	c.intercept_ = append([]float64(nil), w.Intercepts...)
	c.classes_ = append([]float64(nil), w.Classes...)
	c.lossHistory_ = nil
	nSamples := 0
	if v, err := asInt("n_samples", w.Metadata["n_samples"]); err == nil {
		nSamples = v
	}
	c.state.SetDimensions(w.NFeatures(), nSamples)
	c.state.SetFitted()
	return nil
}

// GetWeightHash returns the SHA-256 of the weights and intercepts, or "" when not fitted.
func (c *SGDClassifier) GetWeightHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.state.IsFitted() {
		return ""
	}
	return model.HashWeights(c.coef_, c.intercept_)
}

// GobEncode lets model.SaveModel persist a fitted classifier.
func (c *SGDClassifier) GobEncode() ([]byte, error) {
	w, err := c.ExportWeights()
	if err != nil {
		return nil, err
	}
	return model.EncodeWeights(w)
}

// GobDecode restores a classifier written by GobEncode.
func (c *SGDClassifier) GobDecode(data []byte) error {
	w, err := model.DecodeWeights(data)
	if err != nil {
		return err
	}
	if c.state == nil {
		c.state = model.NewStateManager()
		c.params = defaultClassifierParams()
	}
	return c.ImportWeights(w)
}

// String returns a short description in sklearn style.
func (c *SGDClassifier) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("SGDClassifier(loss=%q, penalty=%q, alpha=%g, rho=%g, n_iter=%d, learning_rate=%q, eta0=%g, power_t=%g, n_jobs=%d)",
		c.params.loss, c.params.penalty, c.params.alpha, c.params.rho, c.params.nIter,
		c.params.learningRate, c.params.eta0, c.params.powerT, c.params.nJobs)
}

// uniqueClasses returns the sorted distinct labels. Any finite value is a label;
// NaN and Inf are rejected earlier by targetVector.
func uniqueClasses(labels []float64) []float64 {
	classes := slices.Clone(labels)
	slices.Sort(classes)
	return slices.Compact(classes)
}

// classWeights returns one weight per class index. Labels not present in y are rejected.
func classWeights(classes []float64, weights map[float64]float64) ([]float64, error) {
	out := make([]float64, len(classes))
	for i := range out {
		out[i] = 1.0
	}
	for label, w := range weights {
		i, found := slices.BinarySearch(classes, label)
		if !found {
			return nil, errors.NewValidationError("class_weight", "contains a label that is not in y", label)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, errors.NewValidationError("class_weight", "must be finite", w)
		}
		out[i] = w
	}
	return out, nil
}

// predictInput converts X to CSR and checks its width against the fitted model.
func predictInput(op string, X mat.Matrix, state *model.StateManager) (*sparse.CSR, error) {
	if X == nil {
		return nil, errors.NewValidationError("X", "must not be nil", nil)
	}
	rows, cols := X.Dims()
	if rows == 0 {
		return nil, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if err := state.RequireFeatures(op, cols); err != nil {
		return nil, err
	}
	return toCSR(X, false), nil
}
