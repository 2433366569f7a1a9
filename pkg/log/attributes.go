// Standard attribute keys for training-job logging.
//
// Keys follow a hierarchical naming convention (e.g. "job.model",
// "data.samples") so the orchestrator-side log pipeline can filter and
// aggregate across trials.

package log

// Job and operation context.
const (
	// JobIDKey is the unique identifier of this trial run.
	JobIDKey = "job.id"

	// ModelKey is the model family, e.g. "GBT" or "RandomForest".
	ModelKey = "job.model"

	// ComputeKey is the compute mode, e.g. "single-CPU" or "multi-GPU".
	ComputeKey = "job.compute"

	// FoldKey is the zero-based cross-validation fold index.
	FoldKey = "job.fold"

	// OperationKey specifies the lifecycle stage being performed.
	// Standard values: "etl", "train", "predict", "save", "emit".
	OperationKey = "job.operation"

	// ComponentKey identifies which package is performing the operation.
	ComponentKey = "component"
)

// Data shape and characteristics.
const (
	// SamplesKey is the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey is the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// DataFilesKey is the number of partition files resolved as input.
	DataFilesKey = "data.files"

	// DroppedRowsKey is the number of rows dropped for missing values.
	DroppedRowsKey = "data.dropped_rows"
)

// Cluster context.
const (
	// WorkersKey is the provisioned worker count.
	WorkersKey = "cluster.workers"

	// DevicesKey is the detected device count (cores or GPUs).
	DevicesKey = "cluster.devices"
)

// Performance and scoring.
const (
	// DurationSecondsKey records the execution time of a stage in seconds.
	DurationSecondsKey = "perf.duration_seconds"

	// ScoreKey is a fold test score.
	ScoreKey = "score.fold"

	// FinalScoreKey is the averaged final score the orchestrator reads.
	FinalScoreKey = "score.final"
)
