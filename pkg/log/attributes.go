// Package log defines standard attribute keys for sparse SGD operations.
//
// Keys follow a hierarchical naming convention (e.g. "model.name", "data.samples",
// "sgd.epoch") so that fit and kernel logs can be filtered consistently.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of estimator.
	// Examples: "SGDClassifier", "SGDRegressor"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "decision_function", "score"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is performing the operation.
	// Examples: "linear_model", "parallel", "datasets"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// NNZKey indicates the number of stored nonzero values of a sparse matrix.
	NNZKey = "data.nnz"

	// DataTypeKey specifies the matrix type received by an estimator.
	// Examples: "*sparse.CSR", "*mat.Dense"
	DataTypeKey = "data.type"

	// ClassesKey records the number of distinct classes seen at fit time.
	ClassesKey = "data.classes"
)

// Training Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// LossKey records the average loss over an epoch.
	LossKey = "metrics.loss"

	// AccuracyKey records classification accuracy.
	AccuracyKey = "metrics.accuracy"

	// R2ScoreKey records R² coefficient of determination for regression.
	R2ScoreKey = "metrics.r2_score"

	// EpochKey records the current epoch number during training.
	EpochKey = "training.epoch"
)

// SGD kernel state
const (
	// ClassIndexKey identifies the one-vs-all sub-problem (row of coef_).
	ClassIndexKey = "sgd.class_index"

	// ClassLabelKey records the label trained as the positive class.
	ClassLabelKey = "sgd.class_label"

	// NormKey records the L2 norm of the weight vector.
	NormKey = "sgd.norm"

	// WeightNNZKey records the number of nonzero weights.
	WeightNNZKey = "sgd.weight_nnz"

	// BiasKey records the intercept.
	BiasKey = "sgd.bias"

	// StepKey records the learning-rate step counter t.
	StepKey = "sgd.t"

	// NJobsKey records the resolved worker count of the one-vs-all pool.
	NJobsKey = "sgd.n_jobs"
)

// Hyperparameters and Configuration
const (
	// LossFunctionKey records the configured loss function name.
	LossFunctionKey = "hyperparams.loss"

	// PenaltyKey records the configured penalty name.
	PenaltyKey = "hyperparams.penalty"

	// LearningRateKey records the learning-rate schedule.
	LearningRateKey = "hyperparams.learning_rate"

	// RegularizationKey records the regularization strength alpha.
	RegularizationKey = "hyperparams.alpha"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Error and Warning Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// SuggestionKey provides helpful suggestions for resolving issues.
	SuggestionKey = "error.suggestion"
)

// Standard attribute values.
const (
	OperationFit              = "fit"
	OperationPredict          = "predict"
	OperationDecisionFunction = "decision_function"
	OperationScore            = "score"

	PhaseTraining  = "training"
	PhaseInference = "inference"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorInvalidInput      = "INVALID_INPUT"
	ErrorFloatingPoint     = "FLOATING_POINT"
)
