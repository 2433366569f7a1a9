// Package job decodes the orchestrator-side job configuration: the job name
// embedded in the training environment variable selects the model family,
// compute mode and cross-validation fold count, and the process arguments
// carry the trial's hyper-parameters.
package job

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/cloudtree-ml/cloudtree/pkg/errors"
	"github.com/cloudtree-ml/cloudtree/pkg/log"
)

// TrainingEnvVar is the environment variable the orchestrator fills with a
// JSON blob describing the running trial.
const TrainingEnvVar = "CLOUDML_TRAINING_ENV"

// ModelType selects the training backend.
type ModelType int

const (
	// GBT trains gradient-boosted trees.
	GBT ModelType = iota
	// RandomForest trains a random forest.
	RandomForest
)

// String returns the canonical model family name.
func (m ModelType) String() string {
	switch m {
	case GBT:
		return "GBT"
	case RandomForest:
		return "RandomForest"
	default:
		return "unknown"
	}
}

// ComputeType selects one of the four execution modes.
type ComputeType int

const (
	// SingleCPU runs in-process on host cores without a cluster.
	SingleCPU ComputeType = iota
	// SingleGPU runs in-process against a single device.
	SingleGPU
	// MultiCPU runs on a worker pool sized by host cores.
	MultiCPU
	// MultiGPU runs on a worker pool sized by device count.
	MultiGPU
)

// String returns the canonical compute mode name.
func (c ComputeType) String() string {
	switch c {
	case SingleCPU:
		return "single-CPU"
	case SingleGPU:
		return "single-GPU"
	case MultiCPU:
		return "multi-CPU"
	case MultiGPU:
		return "multi-GPU"
	default:
		return "unknown"
	}
}

// IsMulti reports whether the mode uses a worker cluster.
func (c ComputeType) IsMulti() bool {
	return c == MultiCPU || c == MultiGPU
}

// IsGPU reports whether the mode targets GPU devices.
func (c ComputeType) IsGPU() bool {
	return c == SingleGPU || c == MultiGPU
}

// Defaults used when the training environment is absent or malformed.
const (
	DefaultModel   = GBT
	DefaultCompute = SingleGPU
	DefaultCVFolds = 1
)

// Spec is the decoded job configuration.
type Spec struct {
	Model   ModelType
	Compute ComputeType
	CVFolds int
}

// trainingEnv mirrors the orchestrator's environment blob; only the job
// name matters here.
type trainingEnv struct {
	JobName string `json:"job_name"`
}

// ParseJobName unpacks the dash-separated elements of the orchestrator job
// name to determine compute and algorithm settings.
//
// Convention: <project>-<compute>-<model>-<N>cv-<timestamp>, where the
// compute segment contains one of scpu/sgpu/mcpu/mgpu and the model segment
// contains one of xgb/rf. A missing or malformed name falls back to the
// defaults; the job must still train rather than fail the whole HPO sweep.
func ParseJobName() (Spec, error) {
	return parseJobName(os.Getenv(TrainingEnvVar))
}

func parseJobName(rawEnv string) (Spec, error) {
	logger := log.GetLoggerWithName("job")

	spec := Spec{
		Model:   DefaultModel,
		Compute: DefaultCompute,
		CVFolds: DefaultCVFolds,
	}

	if rawEnv == "" {
		logger.Info("no training environment found, using defaults",
			log.ModelKey, spec.Model.String(),
			log.ComputeKey, spec.Compute.String())
		return spec, nil
	}

	var env trainingEnv
	if err := json.Unmarshal([]byte(rawEnv), &env); err != nil {
		logger.Warn("unparseable training environment, using defaults",
			log.ErrAttrKey, err.Error())
		return spec, nil
	}

	segments := strings.Split(env.JobName, "-")
	if len(segments) >= 2 {
		compute, ok := parseComputeToken(strings.ToLower(segments[1]))
		if ok {
			spec.Compute = compute
		}
	}
	if len(segments) >= 3 {
		model, ok := parseModelToken(strings.ToLower(segments[2]))
		if ok {
			spec.Model = model
		}
	}
	if len(segments) >= 4 {
		if folds, ok := parseFoldsToken(segments[3]); ok {
			spec.CVFolds = folds
		}
	}

	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}

	logger.Info("job configuration parsed",
		log.ModelKey, spec.Model.String(),
		log.ComputeKey, spec.Compute.String(),
		"cv_folds", spec.CVFolds)

	return spec, nil
}

// Validate checks that the spec is inside the supported envelope.
func (s Spec) Validate() error {
	if s.Model != GBT && s.Model != RandomForest {
		return errors.NewValidationError("model_type", "unknown model family", int(s.Model))
	}
	if s.Compute < SingleCPU || s.Compute > MultiGPU {
		return errors.NewValidationError("compute_type", "unknown compute mode", int(s.Compute))
	}
	if s.CVFolds < 1 {
		return errors.NewValidationError("cv_folds", "must be >= 1", s.CVFolds)
	}
	return nil
}

func parseComputeToken(token string) (ComputeType, bool) {
	switch {
	case strings.Contains(token, "mgpu"):
		return MultiGPU, true
	case strings.Contains(token, "mcpu"):
		return MultiCPU, true
	case strings.Contains(token, "scpu"):
		return SingleCPU, true
	case strings.Contains(token, "sgpu"):
		return SingleGPU, true
	default:
		return 0, false
	}
}

func parseModelToken(token string) (ModelType, bool) {
	switch {
	case strings.Contains(token, "rf"):
		return RandomForest, true
	case strings.Contains(token, "xgb"):
		return GBT, true
	default:
		return 0, false
	}
}

func parseFoldsToken(token string) (int, bool) {
	numeric, _, found := strings.Cut(token, "cv")
	if !found {
		return 0, false
	}
	folds, err := strconv.Atoi(numeric)
	if err != nil {
		return 0, false
	}
	return folds, true
}
