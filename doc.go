// Package sparsesgd provides linear models trained by stochastic gradient descent on
// sparse (CSR) data, for backend services that train and score text or image features
// in Go.
//
// The estimators follow a scikit-learn-like API: options at construction time, Fit or
// FitContext to train, then DecisionFunction, Predict and Score.
//
// # Features
//
//   - Binary and one-vs-all multiclass classification (hinge, log, modified_huber)
//   - Regression (squared_loss, huber)
//   - L2, L1 and elasticnet penalties with lazy weight scaling
//   - Parallel one-vs-all fitting and prediction over independent workers
//   - zerolog structured logging and cockroachdb/errors error types
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/sparsesgd/datasets"
//	    "github.com/YuminosukeSato/sparsesgd/sklearn/linear_model"
//	)
//
//	func main() {
//	    X, y, err := datasets.LoadSVMLightFile("train.svm")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    clf := linear_model.NewSGDClassifier(
//	        linear_model.WithLoss("hinge"),
//	        linear_model.WithAlpha(1e-4),
//	        linear_model.WithNJobs(-1),
//	    )
//	    if err := clf.Fit(X, y); err != nil {
//	        log.Fatal(err)
//	    }
//	    acc, _ := clf.Score(X, y)
//	    fmt.Println("accuracy:", acc)
//	}
//
// # Packages
//
//   - sklearn/linear_model: SGDClassifier, SGDRegressor and the plain SGD kernel
//   - sklearn/feature_extraction: image to sparse pixel features, pigo face cropping
//   - core/sparse: CSR matrix and row builder
//   - core/model: fitted state, weight export and gob persistence
//   - core/parallel: bounded worker fan-out with context cancellation
//   - preprocessing: StandardScaler and the sparsity-preserving MaxAbsScaler
//   - metrics: accuracy, AUC, log loss, MSE and R²
//   - datasets: svmlight/libsvm reader and writer
//   - plotting: per-epoch loss curves with gonum/plot
//   - pkg/errors, pkg/log: error types, warnings and structured logging
//
// The cmd/sgd command trains and applies models from svmlight files; cmd/facedetect
// runs a pigo cascade over images.
//
// # License
//
// sparsesgd is released under the MIT License.
package sparsesgd
