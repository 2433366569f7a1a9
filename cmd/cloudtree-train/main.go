// Command cloudtree-train is the container entry point for one HPO trial.
// The orchestrator configures it through the training environment variable,
// hyper-parameter command-line arguments and the mounted data and model
// directories, and parses the final-score line from its log stream.
package main

import (
	"context"
	"os"
	"strconv"

	"github.com/cloudtree-ml/cloudtree/job"
	"github.com/cloudtree-ml/cloudtree/pkg/log"
	"github.com/cloudtree-ml/cloudtree/runner"
)

// Default mount points inside the training container.
const (
	defaultDataDir  = "/opt/ml/input/data/training"
	defaultModelDir = "/opt/ml/model"
)

func main() {
	log.SetupLogger(envOr("CLOUDTREE_LOG_LEVEL", "info"))
	logger := log.GetLoggerWithName("main")

	if err := run(context.Background(), os.Args[1:]); err != nil {
		logger.Error("training job failed", log.ErrAttr(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	spec, err := job.ParseJobName()
	if err != nil {
		return err
	}
	params, err := job.ParseHyperParams(spec, args)
	if err != nil {
		return err
	}

	cfg := runner.Config{
		Spec:        spec,
		Params:      params,
		DataDir:     envOr("CLOUDTREE_DATA_DIR", defaultDataDir),
		ModelDir:    envOr("CLOUDTREE_MODEL_DIR", defaultModelDir),
		Target:      os.Getenv("CLOUDTREE_TARGET_COLUMN"),
		WorkerLimit: envInt("CLOUDTREE_WORKER_LIMIT"),
	}

	r, err := runner.New(cfg)
	if err != nil {
		return err
	}
	_, err = r.Run(ctx)
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt reads a non-negative integer from the environment; unset or
// malformed values mean zero.
func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
