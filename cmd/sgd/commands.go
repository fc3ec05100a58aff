package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/sparsesgd/core/model"
	"github.com/YuminosukeSato/sparsesgd/core/sparse"
	"github.com/YuminosukeSato/sparsesgd/datasets"
	"github.com/YuminosukeSato/sparsesgd/metrics"
	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
	"github.com/YuminosukeSato/sparsesgd/pkg/log"
	"github.com/YuminosukeSato/sparsesgd/plotting"
	"github.com/YuminosukeSato/sparsesgd/preprocessing"
	"github.com/YuminosukeSato/sparsesgd/sklearn/linear_model"
)

const (
	taskClassify = "classify"
	taskRegress  = "regress"
)

// errUsage is returned after a flag error has already been printed.
var errUsage = errors.New("usage")

// bundle is what "train" writes and "predict" reads. Exactly one of Classifier and
// Regressor is set.
type bundle struct {
	Task       string
	NFeatures  int
	Classifier *linear_model.SGDClassifier
	Regressor  *linear_model.SGDRegressor
	Scaler     *preprocessing.MaxAbsScaler
}

type estimator interface {
	FitContext(ctx context.Context, X, y mat.Matrix, opts ...linear_model.FitOption) error
	Predict(X mat.Matrix) (mat.Matrix, error)
	Score(X, y mat.Matrix) (float64, error)
	SetParams(params map[string]interface{}) error
}

func (b *bundle) estimator() (estimator, error) {
	switch {
	case b.Task == taskClassify && b.Classifier != nil:
		return b.Classifier, nil
	case b.Task == taskRegress && b.Regressor != nil:
		return b.Regressor, nil
	default:
		return nil, errors.NewValueError("bundle", fmt.Sprintf("model file holds no %s estimator", b.Task))
	}
}

func (b *bundle) transform(X *sparse.CSR) (*sparse.CSR, error) {
	if b.Scaler == nil {
		return X, nil
	}
	out, err := b.Scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	return out.(*sparse.CSR), nil
}

type commonFlags struct {
	data      string
	modelPath string
	logLevel  string
	zeroBased bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.data, "data", "", "svmlight file to read (required)")
	fs.StringVar(&c.modelPath, "model", "model.gob", "model file")
	fs.StringVar(&c.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.BoolVar(&c.zeroBased, "zero-based", false, "feature indices in the data file start at 0")
}

func parseFlags(fs *flag.FlagSet, args []string, c *commonFlags) error {
	if err := fs.Parse(args); err != nil {
		// flag はエラーと使い方を既に出力している
		return errUsage
	}
	if c.data == "" {
		fmt.Fprintln(fs.Output(), "-data is required")
		fs.Usage()
		return errUsage
	}
	return nil
}

func train(ctx context.Context, args []string, stdout, stderr io.Writer, console bool) error {
	var (
		c          commonFlags
		task       string
		configPath string
		scale      bool
		plotPath   string
		nFeatures  int
	)
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c.register(fs)
	fs.StringVar(&task, "task", taskClassify, "classify or regress")
	fs.StringVar(&configPath, "config", "", "JSON file of hyperparameters")
	fs.BoolVar(&scale, "scale", false, "scale every feature by its maximum absolute value")
	fs.StringVar(&plotPath, "plot", "", "write the per-epoch loss curve to this image file")
	fs.IntVar(&nFeatures, "n-features", 0, "number of features (default: inferred from the data)")
	if err := parseFlags(fs, args, &c); err != nil {
		return err
	}
	provider, err := loggerProvider(c.logLevel, stderr, console)
	if err != nil {
		return err
	}
	logger := provider.GetLoggerWithName("cmd/sgd").With(log.OperationKey, log.OperationFit)

	params, err := readConfig(configPath)
	if err != nil {
		return err
	}

	X, y, err := datasets.LoadSVMLightFile(c.data, datasets.WithZeroBased(c.zeroBased), datasets.WithNFeatures(nFeatures))
	if err != nil {
		return err
	}
	n, d := X.Dims()
	logger.Info("Loaded training data", log.SamplesKey, n, log.FeaturesKey, d, log.NNZKey, X.NNZ())

	b := &bundle{Task: task, NFeatures: d}
	switch task {
	case taskClassify:
		b.Classifier = linear_model.NewSGDClassifier(linear_model.WithLogger(logger))
	case taskRegress:
		b.Regressor = linear_model.NewSGDRegressor(linear_model.WithLogger(logger))
	default:
		return errors.NewValidationError("task", "must be classify or regress", task)
	}
	est, err := b.estimator()
	if err != nil {
		return err
	}
	if err := est.SetParams(params); err != nil {
		return err
	}

	if scale {
		b.Scaler = preprocessing.NewMaxAbsScaler()
		if err := b.Scaler.Fit(X); err != nil {
			return err
		}
		if X, err = b.transform(X); err != nil {
			return err
		}
	}

	start := time.Now()
	if err := est.FitContext(ctx, X, y); err != nil {
		return err
	}
	score, err := est.Score(X, y)
	if err != nil {
		return err
	}
	logger.Info("Training finished",
		log.DurationMsKey, time.Since(start).Milliseconds(),
		"train_score", score,
	)

	if plotPath != "" {
		if err := plotting.SaveLossCurve(plotPath, fmt.Sprintf("%s loss", task), lossSeries(b)...); err != nil {
			return err
		}
		logger.Info("Saved loss curve", "path", plotPath)
	}

	if err := model.SaveModel(b, c.modelPath); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "saved %s model to %s (train score %.4f)\n", task, c.modelPath, score)
	return nil
}

func lossSeries(b *bundle) []plotting.Series {
	if b.Classifier != nil {
		return plotting.ClassSeries(b.Classifier.Classes(), b.Classifier.LossHistory())
	}
	return []plotting.Series{{Name: "regressor", Loss: b.Regressor.LossHistory()}}
}

func predict(ctx context.Context, args []string, stdout, stderr io.Writer, console bool) (err error) {
	var (
		c         commonFlags
		outPath   string
		withScore bool
	)
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c.register(fs)
	fs.StringVar(&outPath, "out", "", "write predictions here instead of stdout")
	fs.BoolVar(&withScore, "score", false, "report accuracy and AUC (classify) or R² and RMSE (regress) against the file's labels")
	if err := parseFlags(fs, args, &c); err != nil {
		return err
	}
	provider, err := loggerProvider(c.logLevel, stderr, console)
	if err != nil {
		return err
	}
	logger := provider.GetLoggerWithName("cmd/sgd").With(log.OperationKey, log.OperationPredict)

	var b bundle
	if err := model.LoadModel(&b, c.modelPath); err != nil {
		return err
	}
	est, err := b.estimator()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}

	X, y, err := datasets.LoadSVMLightFile(c.data, datasets.WithZeroBased(c.zeroBased), datasets.WithNFeatures(b.NFeatures))
	if err != nil {
		return err
	}
	if X, err = b.transform(X); err != nil {
		return err
	}
	pred, err := est.Predict(X)
	if err != nil {
		return err
	}

	w := stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return errors.Wrapf(err, "failed to create %s", outPath)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = errors.Wrap(cerr, "failed to close predictions file")
			}
		}()
		w = f
	}
	if err := writePredictions(w, pred); err != nil {
		return err
	}

	if withScore {
		scores, err := evaluate(&b, X, y, pred)
		if err != nil {
			return err
		}
		fields := make([]any, 0, 2*len(scores))
		for _, m := range scores {
			fields = append(fields, m.key, m.value)
			fmt.Fprintf(stderr, "%s: %.4f\n", m.name, m.value)
		}
		logger.Info("Scored predictions", fields...)
	}
	return nil
}

type metric struct {
	name  string
	key   string
	value float64
}

// evaluate compares predictions against the labels of the data file: accuracy (plus AUC
// of the decision function for binary problems) or R² and RMSE.
func evaluate(b *bundle, X *sparse.CSR, y, pred mat.Matrix) ([]metric, error) {
	if b.Task == taskRegress {
		r2, err := metrics.R2ScoreMatrix(y, pred)
		if err != nil {
			return nil, err
		}
		mse, err := metrics.MSEMatrix(y, pred)
		if err != nil {
			return nil, err
		}
		return []metric{
			{"r2", log.R2ScoreKey, r2},
			{"rmse", "metrics.rmse", math.Sqrt(mse)},
		}, nil
	}

	acc, err := metrics.AccuracyScore(y, pred)
	if err != nil {
		return nil, err
	}
	out := []metric{{"accuracy", log.AccuracyKey, acc}}

	classes := b.Classifier.Classes()
	if len(classes) != 2 {
		return out, nil
	}
	scores, err := b.Classifier.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, _ := y.Dims()
	positive := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		if y.At(i, 0) == classes[1] {
			positive.SetVec(i, 1)
		}
	}
	auc, err := metrics.AUC(positive, mat.NewVecDense(n, mat.Col(nil, 0, scores)))
	if err != nil {
		return nil, err
	}
	return append(out, metric{"auc", "metrics.auc", auc}), nil
}

func writePredictions(w io.Writer, pred mat.Matrix) error {
	bw := bufio.NewWriter(w)
	r, _ := pred.Dims()
	buf := make([]byte, 0, 32)
	for i := 0; i < r; i++ {
		buf = strconv.AppendFloat(buf[:0], pred.At(i, 0), 'g', -1, 64)
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return errors.Wrap(err, "failed to write predictions")
		}
	}
	return errors.Wrap(bw.Flush(), "failed to write predictions")
}

// readConfig decodes a JSON object of hyperparameters. An empty path yields no overrides.
func readConfig(path string) (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if path == "" {
		return params, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return params, nil
}
