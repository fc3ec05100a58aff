package linear_model

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sparsesgd/core/parallel"
	"github.com/YuminosukeSato/sparsesgd/core/sparse"
	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
	"github.com/YuminosukeSato/sparsesgd/pkg/log"
)

const modelVersion = "1.0.0"

// sgdParams はSGDClassifierとSGDRegressorが共有するハイパーパラメータ
type sgdParams struct {
	loss           string  // 損失関数
	penalty        string  // 正則化: "l2", "l1", "elasticnet"
	alpha          float64 // 正則化の強度
	rho            float64 // Elastic Net の l2 の割合 (0 < rho <= 1)
	fitIntercept   bool    // 切片を学習するか
	nIter          int     // エポック数
	shuffle        bool    // 各エポックでデータをシャッフルするか
	seed           int64   // シャッフル用の乱数シード
	verbose        int     // 詳細出力レベル
	nJobs          int     // one-vs-all と予測のワーカー数 (-1 = 全CPU)
	learningRate   string  // 学習率スケジュール
	eta0           float64 // 初期学習率
	powerT         float64 // invscaling の指数
	epsilon        float64 // huber 損失の閾値 (p)
	warmStart      bool    // 前回の重みから学習を継続するか
	interceptDecay float64 // 切片の更新に掛ける係数

	logger log.Logger
}

func defaultClassifierParams() sgdParams {
	return sgdParams{
		loss:           "hinge",
		penalty:        "l2",
		alpha:          0.0001,
		rho:            0.85,
		fitIntercept:   true,
		nIter:          5,
		nJobs:          1,
		learningRate:   "optimal",
		eta0:           0.0,
		powerT:         0.5,
		epsilon:        0.1,
		warmStart:      true,
		interceptDecay: 1.0,
	}
}

func defaultRegressorParams() sgdParams {
	return sgdParams{
		loss:           "squared_loss",
		penalty:        "l2",
		alpha:          0.0001,
		rho:            0.85,
		fitIntercept:   true,
		nIter:          5,
		nJobs:          1,
		learningRate:   "invscaling",
		eta0:           0.01,
		powerT:         0.25,
		epsilon:        0.1,
		warmStart:      true,
		interceptDecay: 1.0,
	}
}

// Option configures SGDClassifier and SGDRegressor.
type Option func(*sgdParams)

// WithLoss は損失関数を設定
func WithLoss(loss string) Option { return func(p *sgdParams) { p.loss = loss } }

// WithPenalty は正則化を設定
func WithPenalty(penalty string) Option { return func(p *sgdParams) { p.penalty = penalty } }

// WithAlpha は正則化の強度を設定
func WithAlpha(alpha float64) Option { return func(p *sgdParams) { p.alpha = alpha } }

// WithRho は Elastic Net の混合比を設定
func WithRho(rho float64) Option { return func(p *sgdParams) { p.rho = rho } }

// WithFitIntercept は切片を学習するかを設定
func WithFitIntercept(fit bool) Option { return func(p *sgdParams) { p.fitIntercept = fit } }

// WithNIter はエポック数を設定
func WithNIter(n int) Option { return func(p *sgdParams) { p.nIter = n } }

// WithShuffle は各エポックでシャッフルするかを設定
func WithShuffle(shuffle bool) Option { return func(p *sgdParams) { p.shuffle = shuffle } }

// WithSeed は乱数シードを設定
func WithSeed(seed int64) Option { return func(p *sgdParams) { p.seed = seed } }

// WithVerbose sets the verbosity. Values above zero log one record per epoch at Info.
func WithVerbose(v int) Option { return func(p *sgdParams) { p.verbose = v } }

// WithNJobs sets the worker count for one-vs-all fitting and for chunked prediction of
// large inputs. -1 uses every CPU.
func WithNJobs(n int) Option { return func(p *sgdParams) { p.nJobs = n } }

// WithLearningRate は学習率スケジュールを設定
func WithLearningRate(lr string) Option { return func(p *sgdParams) { p.learningRate = lr } }

// WithEta0 は初期学習率を設定
func WithEta0(eta0 float64) Option { return func(p *sgdParams) { p.eta0 = eta0 } }

// WithPowerT は invscaling の指数を設定
func WithPowerT(powerT float64) Option { return func(p *sgdParams) { p.powerT = powerT } }

// WithEpsilon sets the huber threshold ("p" in GetParams).
func WithEpsilon(eps float64) Option { return func(p *sgdParams) { p.epsilon = eps } }

// WithWarmStart controls whether Fit continues from the current weights.
// With false every Fit starts from zero (or from WithCoefInit).
func WithWarmStart(warm bool) Option { return func(p *sgdParams) { p.warmStart = warm } }

// WithInterceptDecay scales every intercept update. Values below 1 slow the intercept
// down on very sparse data, where it is updated on every sample while most weights are not.
func WithInterceptDecay(d float64) Option { return func(p *sgdParams) { p.interceptDecay = d } }

// WithLogger sets the logger used for fit and epoch records.
func WithLogger(l log.Logger) Option { return func(p *sgdParams) { p.logger = l } }

// validate checks the hyperparameters against the loss names allowed for the estimator.
func (p *sgdParams) validate(allowedLosses []string) error {
	if !slices.Contains(allowedLosses, p.loss) {
		return errors.NewValidationError("loss", fmt.Sprintf("must be one of %v", allowedLosses), p.loss)
	}
	if _, err := ParsePenalty(p.penalty); err != nil {
		return err
	}
	lr, err := ParseLearningRate(p.learningRate)
	if err != nil {
		return err
	}
	if !(p.alpha > 0) || math.IsInf(p.alpha, 0) {
		return errors.NewValidationError("alpha", "must be greater than zero", p.alpha)
	}
	if p.penalty == "elasticnet" && !(p.rho > 0 && p.rho <= 1) {
		return errors.NewValidationError("rho", "must be in (0, 1]", p.rho)
	}
	if p.nIter <= 0 {
		return errors.NewValidationError("n_iter", "must be greater than zero", p.nIter)
	}
	if p.verbose < 0 {
		return errors.NewValidationError("verbose", "must be non-negative", p.verbose)
	}
	if p.nJobs == 0 {
		return errors.NewValidationError("n_jobs", "must be positive or negative, not zero", p.nJobs)
	}
	if lr != Optimal && !(p.eta0 > 0) {
		return errors.NewValidationError("eta0", "must be greater than zero for constant and invscaling", p.eta0)
	}
	if p.loss == "huber" && !(p.epsilon > 0) {
		return errors.NewValidationError("p", "must be greater than zero", p.epsilon)
	}
	if !(p.interceptDecay > 0) {
		return errors.NewValidationError("intercept_decay", "must be greater than zero", p.interceptDecay)
	}
	return nil
}

// kernelParams fills the hyperparameter part of KernelParams. validate must have passed.
func (p *sgdParams) kernelParams() (KernelParams, error) {
	loss, err := NewLossFunction(p.loss, p.epsilon)
	if err != nil {
		return KernelParams{}, err
	}
	penalty, _ := ParsePenalty(p.penalty)
	lr, _ := ParseLearningRate(p.learningRate)
	return KernelParams{
		Loss:           loss,
		Penalty:        penalty,
		Alpha:          p.alpha,
		Rho:            effectiveRho(penalty, p.rho),
		NIter:          p.nIter,
		FitIntercept:   p.fitIntercept,
		InterceptDecay: p.interceptDecay,
		Verbose:        p.verbose,
		Shuffle:        p.shuffle,
		Seed:           p.seed,
		WeightPos:      1.0,
		WeightNeg:      1.0,
		LearningRate:   lr,
		Eta0:           p.eta0,
		PowerT:         p.powerT,
	}, nil
}

func (p *sgdParams) getLogger() log.Logger {
	if p.logger != nil {
		return p.logger
	}
	return log.GetLogger()
}

// toMap returns the parameters under their sklearn names.
func (p *sgdParams) toMap() map[string]interface{} {
	return map[string]interface{}{
		"loss":            p.loss,
		"penalty":         p.penalty,
		"alpha":           p.alpha,
		"rho":             p.rho,
		"fit_intercept":   p.fitIntercept,
		"n_iter":          p.nIter,
		"shuffle":         p.shuffle,
		"seed":            p.seed,
		"verbose":         p.verbose,
		"n_jobs":          p.nJobs,
		"learning_rate":   p.learningRate,
		"eta0":            p.eta0,
		"power_t":         p.powerT,
		"p":               p.epsilon,
		"warm_start":      p.warmStart,
		"intercept_decay": p.interceptDecay,
	}
}

// setFromMap updates parameters by sklearn name. Numbers may be int or float64 so that
// maps decoded from JSON work. Unknown keys are rejected. The receiver is left
// unchanged when an error is returned.
func (p *sgdParams) setFromMap(params map[string]interface{}) error {
	next := *p
	for key, v := range params {
		var err error
		switch key {
		case "loss":
			next.loss, err = asString(key, v)
		case "penalty":
			next.penalty, err = asString(key, v)
		case "learning_rate":
			next.learningRate, err = asString(key, v)
		case "alpha":
			next.alpha, err = asFloat(key, v)
		case "rho":
			next.rho, err = asFloat(key, v)
		case "eta0":
			next.eta0, err = asFloat(key, v)
		case "power_t":
			next.powerT, err = asFloat(key, v)
		case "p", "epsilon":
			next.epsilon, err = asFloat(key, v)
		case "intercept_decay":
			next.interceptDecay, err = asFloat(key, v)
		case "fit_intercept":
			next.fitIntercept, err = asBool(key, v)
		case "shuffle":
			next.shuffle, err = asBool(key, v)
		case "warm_start":
			next.warmStart, err = asBool(key, v)
		case "n_iter":
			next.nIter, err = asInt(key, v)
		case "verbose":
			next.verbose, err = asInt(key, v)
		case "n_jobs":
			next.nJobs, err = asInt(key, v)
		case "seed":
			var s int
			s, err = asInt(key, v)
			next.seed = int64(s)
		default:
			err = errors.NewValidationError(key, "unknown parameter", v)
		}
		if err != nil {
			return err
		}
	}
	*p = next
	return nil
}

func asString(key string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.NewValidationError(key, "must be a string", v)
	}
	return s, nil
}

func asBool(key string, v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, errors.NewValidationError(key, "must be a bool", v)
	}
	return b, nil
}

func asFloat(key string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, errors.NewValidationError(key, "must be a number", v)
}

func asInt(key string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, errors.NewValidationError(key, "must be an integer", v)
		}
		return int(x), nil
	}
	return 0, errors.NewValidationError(key, "must be an integer", v)
}

// FitOption configures a single FitContext call.
type FitOption func(*fitConfig)

type fitConfig struct {
	coefInit      [][]float64
	interceptInit []float64
	classWeight   map[float64]float64
	sampleWeight  []float64
}

// WithCoefInit sets the initial weights: one row for binary classification and
// regression, one row per class for one-vs-all.
func WithCoefInit(rows ...[]float64) FitOption {
	return func(c *fitConfig) { c.coefInit = rows }
}

// WithInterceptInit sets the initial intercepts, one per coefficient row.
func WithInterceptInit(b ...float64) FitOption {
	return func(c *fitConfig) { c.interceptInit = b }
}

// WithClassWeight multiplies the update of samples of a class by its weight.
// Classes that are not listed get 1.0. Ignored by SGDRegressor.
func WithClassWeight(w map[float64]float64) FitOption {
	return func(c *fitConfig) { c.classWeight = w }
}

// WithSampleWeight multiplies the update of each sample by its weight.
func WithSampleWeight(w []float64) FitOption {
	return func(c *fitConfig) { c.sampleWeight = w }
}

func newFitConfig(opts []FitOption) *fitConfig {
	cfg := &fitConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// initialWeights decides the starting coef/intercept of a fit: explicit init, then the
// current weights when warm starting, then zeros. current may be nil.
func (c *fitConfig) initialWeights(op string, nRows, nFeatures int, current [][]float64, currentIntercept []float64, warm bool) ([][]float64, []float64, error) {
	coef := make([][]float64, nRows)
	intercept := make([]float64, nRows)

	switch {
	case c.coefInit != nil:
		if len(c.coefInit) != nRows {
			return nil, nil, errors.NewInputShapeError("training", "coef_init", []int{nRows, nFeatures}, []int{len(c.coefInit), -1})
		}
		for i, row := range c.coefInit {
			if len(row) != nFeatures {
				return nil, nil, errors.NewInputShapeError("training", "coef_init", []int{nRows, nFeatures}, []int{len(c.coefInit), len(row)})
			}
			coef[i] = append([]float64(nil), row...)
		}
	case warm && len(current) == nRows && len(current) > 0:
		if len(current[0]) != nFeatures {
			return nil, nil, errors.NewDimensionError(op, len(current[0]), nFeatures, 1)
		}
		for i, row := range current {
			coef[i] = append([]float64(nil), row...)
		}
	default:
		for i := range coef {
			coef[i] = make([]float64, nFeatures)
		}
	}

	switch {
	case c.interceptInit != nil:
		if len(c.interceptInit) != nRows {
			return nil, nil, errors.NewInputShapeError("training", "intercept_init", []int{nRows}, []int{len(c.interceptInit)})
		}
		copy(intercept, c.interceptInit)
	case warm && len(currentIntercept) == nRows && c.coefInit == nil:
		copy(intercept, currentIntercept)
	}
	return coef, intercept, nil
}

// sampleWeights validates the sample weights against n. nil means uniform.
func (c *fitConfig) sampleWeights(op string, n int) ([]float64, error) {
	if c.sampleWeight == nil {
		return nil, nil
	}
	if len(c.sampleWeight) != n {
		return nil, errors.NewDimensionError(op, n, len(c.sampleWeight), 0)
	}
	if err := errors.CheckNumericalStability(op, c.sampleWeight, 0); err != nil {
		return nil, err
	}
	return append([]float64(nil), c.sampleWeight...), nil
}

// toCSR converts X to CSR. A DataConversionWarning is raised for dense input when warn is set.
func toCSR(X mat.Matrix, warn bool) *sparse.CSR {
	if s, ok := X.(*sparse.CSR); ok {
		return s
	}
	if warn {
		errors.Warn(errors.NewDataConversionWarning(fmt.Sprintf("%T", X), "*sparse.CSR", "the SGD kernel operates on compressed rows"))
	}
	return sparse.FromDense(X)
}

// targetVector reads an n×1 matrix (or mat.Vector) into a slice.
func targetVector(op string, y mat.Matrix) ([]float64, error) {
	if y == nil {
		return nil, errors.NewValidationError("y", "must not be nil", nil)
	}
	r, c := y.Dims()
	if c != 1 {
		return nil, errors.NewDimensionError(op, 1, c, 1)
	}
	out := make([]float64, r)
	for i := range out {
		out[i] = y.At(i, 0)
	}
	if err := errors.CheckNumericalStability(op, out, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// checkTrainingShape validates X against the target length.
func checkTrainingShape(op string, X mat.Matrix, n int) error {
	if X == nil {
		return errors.NewValidationError("X", "must not be nil", nil)
	}
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if rows != n {
		return errors.NewDimensionError(op, rows, n, 0)
	}
	return sparse.CheckColumns(op, cols)
}

// denseRowsToCSR builds the sparse coefficient cache from coef rows.
func denseRowsToCSR(coef [][]float64) *sparse.CSR {
	if len(coef) == 0 {
		return nil
	}
	m, err := sparse.FromVectors(len(coef[0]), coef)
	if err != nil {
		// coef の行長は学習時に揃えているので到達しない
		panic(err)
	}
	return m
}

func cloneRows(rows [][]float64) [][]float64 {
	if rows == nil {
		return nil
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}

// predictParallelThreshold is the row count above which scores are computed in
// parallel chunks.
const predictParallelThreshold = 2048

// decisionScores returns X·coefᵗ + intercept as an n×k dense matrix.
func decisionScores(X, coef *sparse.CSR, intercept []float64, nJobs int) *mat.Dense {
	n, _ := X.Dims()
	k, _ := coef.Dims()
	scores := mat.NewDense(n, k, nil)
	parallel.ParallelizeWithThreshold(n, predictParallelThreshold, nJobs, func(start, end int) {
		X.MulTransposedInto(coef, scores, start, end)
		for i := start; i < end; i++ {
			row := scores.RawRowView(i)
			for j := range row {
				row[j] += intercept[j]
			}
		}
	})
	return scores
}
