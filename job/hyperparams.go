package job

import (
	"flag"
	"io"
	"runtime"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/cloudtree-ml/cloudtree/pkg/errors"
	"github.com/cloudtree-ml/cloudtree/pkg/log"
)

// Hyper-parameter defaults shared by both model families.
const (
	defaultMaxDepth    = 5
	defaultNEstimators = 10
)

// Device is the execution target recorded in the parameters, mirroring the
// tree_method selection of the original backends.
type Device int

const (
	// DeviceCPU uses the histogram method on host cores.
	DeviceCPU Device = iota
	// DeviceGPU pins workers to NVML-visible devices.
	DeviceGPU
)

// String returns the device name.
func (d Device) String() string {
	if d == DeviceGPU {
		return "gpu"
	}
	return "cpu"
}

// GBTParams are the gradient-boosted-tree hyper-parameters the orchestrator
// sweeps over, plus the derived execution settings.
type GBTParams struct {
	MaxDepth      int
	NumBoostRound int
	Subsample     float64
	LearningRate  float64
	Lambda        float64
	Gamma         float64
	Alpha         float64
	Seed          int

	// Derived, not swept.
	Objective  string
	NumThreads int
	Device     Device
}

// ForestParams are the random-forest hyper-parameters.
type ForestParams struct {
	MaxDepth    int
	NEstimators int
	MaxFeatures float64
	Seed        int

	// Derived, not swept.
	Device Device
}

// HyperParams carries the parameter set for whichever family the job trains.
// Exactly one of GBT or Forest is non-nil.
type HyperParams struct {
	GBT    *GBTParams
	Forest *ForestParams
}

// ParseHyperParams maps command-line-style arguments into a model-specific
// parameter set. Unknown flags are ignored: the orchestrator appends its own
// bookkeeping arguments and new sweep dimensions must not break old images.
func ParseHyperParams(spec Spec, args []string) (HyperParams, error) {
	logger := log.GetLoggerWithName("job")

	switch spec.Model {
	case GBT:
		p, err := parseGBTParams(spec, args)
		if err != nil {
			return HyperParams{}, err
		}
		logger.Info("hyper-parameters parsed",
			log.ModelKey, spec.Model.String(),
			"max_depth", p.MaxDepth,
			"num_boost_round", p.NumBoostRound,
			"learning_rate", p.LearningRate,
			"subsample", p.Subsample,
			"lambda_l2", p.Lambda,
			"gamma", p.Gamma,
			"alpha", p.Alpha,
			"seed", p.Seed,
			"device", p.Device.String())
		return HyperParams{GBT: p}, nil

	case RandomForest:
		p, err := parseForestParams(spec, args)
		if err != nil {
			return HyperParams{}, err
		}
		logger.Info("hyper-parameters parsed",
			log.ModelKey, spec.Model.String(),
			"max_depth", p.MaxDepth,
			"n_estimators", p.NEstimators,
			"max_features", p.MaxFeatures,
			"seed", p.Seed,
			"device", p.Device.String())
		return HyperParams{Forest: p}, nil

	default:
		return HyperParams{}, errors.NewValidationError("model_type", "unknown model family", spec.Model.String())
	}
}

func parseGBTParams(spec Spec, args []string) (*GBTParams, error) {
	fs := flag.NewFlagSet("hyperparameters", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	p := &GBTParams{}
	fs.IntVar(&p.MaxDepth, "max_depth", defaultMaxDepth, "maximum tree depth")
	fs.IntVar(&p.NumBoostRound, "num_boost_round", defaultNEstimators, "boosting rounds")
	fs.Float64Var(&p.Subsample, "subsample", 0.25, "row subsample fraction per round")
	fs.Float64Var(&p.LearningRate, "learning_rate", 0.3, "shrinkage rate")
	fs.Float64Var(&p.Lambda, "lambda_l2", 0.2, "L2 regularization")
	fs.Float64Var(&p.Gamma, "gamma", 0.0, "minimum split gain")
	fs.Float64Var(&p.Alpha, "alpha", 0.0, "L1 regularization")
	fs.IntVar(&p.Seed, "seed", 0, "random seed")

	if err := fs.Parse(knownArgs(fs, args)); err != nil {
		return nil, errors.Wrap(err, "parsing GBT hyper-parameters")
	}

	p.Objective = "binary:logistic"
	if spec.Compute == SingleCPU {
		p.NumThreads = logicalCores()
	}
	if spec.Compute.IsGPU() {
		p.Device = DeviceGPU
	}

	return p, nil
}

func parseForestParams(spec Spec, args []string) (*ForestParams, error) {
	fs := flag.NewFlagSet("hyperparameters", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	p := &ForestParams{}
	fs.IntVar(&p.MaxDepth, "max_depth", defaultMaxDepth, "maximum tree depth")
	fs.IntVar(&p.NEstimators, "n_estimators", defaultNEstimators, "number of trees")
	fs.Float64Var(&p.MaxFeatures, "max_features", 0.25, "feature fraction per split")
	fs.IntVar(&p.Seed, "seed", 0, "random seed")

	if err := fs.Parse(knownArgs(fs, args)); err != nil {
		return nil, errors.Wrap(err, "parsing RandomForest hyper-parameters")
	}

	if spec.Compute.IsGPU() {
		p.Device = DeviceGPU
	}

	return p, nil
}

// knownArgs filters args down to flags the set defines, in "--name value"
// or "--name=value" form. The stdlib FlagSet rejects unknown flags, but the
// orchestrator contract is parse-known-args.
func knownArgs(fs *flag.FlagSet, args []string) []string {
	known := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) { known[f.Name] = true })

	var kept []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, hasValue := flagName(arg)
		if name == "" || !known[name] {
			continue
		}
		kept = append(kept, arg)
		if !hasValue && i+1 < len(args) {
			next := args[i+1]
			if !strings.HasPrefix(next, "-") || isNumberToken(next) {
				kept = append(kept, next)
				i++
			}
		}
	}
	return kept
}

// isNumberToken reports whether a leading-dash token is a negative number
// rather than a flag, so "--seed -5" keeps -5 as the value.
func isNumberToken(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// flagName extracts the name from a "--name", "-name" or "--name=value"
// argument; non-flag tokens yield "".
func flagName(arg string) (name string, hasValue bool) {
	if !strings.HasPrefix(arg, "-") {
		return "", false
	}
	trimmed := strings.TrimLeft(arg, "-")
	if trimmed == "" {
		return "", false
	}
	if idx := strings.IndexByte(trimmed, '='); idx >= 0 {
		return trimmed[:idx], true
	}
	return trimmed, false
}

// logicalCores reports the host logical core count, preferring CPUID over
// GOMAXPROCS so container limits do not hide cores the trainer may pin.
func logicalCores() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}
