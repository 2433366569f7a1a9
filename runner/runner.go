// Package runner drives one HPO trial end to end: stage and resolve the
// input data, provision the worker pool for cluster modes, run the
// ETL/train/score loop over the cross-validation folds, emit the averaged
// score for the sweep and persist the winning model.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/cloudtree-ml/cloudtree/cluster"
	"github.com/cloudtree-ml/cloudtree/core/model"
	"github.com/cloudtree-ml/cloudtree/dataset"
	"github.com/cloudtree-ml/cloudtree/ensemble/forest"
	"github.com/cloudtree-ml/cloudtree/ensemble/gbtree"
	"github.com/cloudtree-ml/cloudtree/job"
	"github.com/cloudtree-ml/cloudtree/pkg/errors"
	"github.com/cloudtree-ml/cloudtree/pkg/log"
	"github.com/cloudtree-ml/cloudtree/report"
	"github.com/cloudtree-ml/cloudtree/storage"
)

// SavedModelName is the file the final model is persisted under, relative
// to the model directory. The orchestrator collects exactly this path.
const SavedModelName = "saved_model"

// FoldChartName is the per-fold accuracy chart written next to the model.
const FoldChartName = "fold_scores.png"

// Config carries everything one trial needs.
type Config struct {
	Spec   job.Spec
	Params job.HyperParams

	// DataDir is the training input: a local directory of CSV partitions
	// or an s3:// prefix to stage first.
	DataDir  string
	ModelDir string

	// Target names the label column; empty means the last column.
	Target string

	// WorkerLimit optionally caps cluster workers; 0 means unlimited.
	WorkerLimit int

	// TestFraction overrides the holdout share; 0 means the default.
	TestFraction float64

	// Stager overrides the S3 client, for tests. Nil builds one from the
	// default AWS config chain when DataDir is an s3:// path.
	Stager *storage.Stager

	// ScoreWriter receives the final-score line; nil means stdout.
	ScoreWriter io.Writer
}


// Runner executes one trial.
type Runner struct {
	cfg    Config
	runID  string
	logger log.Logger

	pool    *cluster.Pool
	workers int

	input  dataset.Input
	scores []float64
	model  model.Trained
}

// New validates the configuration and creates a runner tagged with a fresh
// run ID.
func New(cfg Config) (*Runner, error) {
	if err := cfg.Spec.Validate(); err != nil {
		return nil, err
	}
	if cfg.Params.GBT == nil && cfg.Params.Forest == nil {
		return nil, errors.NewValidationError("params", "no hyper-parameters for model family", cfg.Spec.Model.String())
	}
	if cfg.DataDir == "" {
		return nil, errors.NewValidationError("data_dir", "must not be empty", cfg.DataDir)
	}
	if cfg.ModelDir == "" {
		return nil, errors.NewValidationError("model_dir", "must not be empty", cfg.ModelDir)
	}
	if cfg.TestFraction == 0 {
		cfg.TestFraction = dataset.DefaultTestFraction
	}

	runID := uuid.NewString()
	logger := log.GetLoggerWithName("runner").With(
		log.JobIDKey, runID,
		log.ModelKey, cfg.Spec.Model.String(),
		log.ComputeKey, cfg.Spec.Compute.String(),
	)

	return &Runner{cfg: cfg, runID: runID, logger: logger}, nil
}

// RunID returns the trial's identifier.
func (r *Runner) RunID() string {
	return r.runID
}

// Scores returns the per-fold accuracies recorded so far.
func (r *Runner) Scores() []float64 {
	return r.scores
}

// Run executes the whole trial and returns the final averaged score.
func (r *Runner) Run(ctx context.Context) (float64, error) {
	total := newStageTimer(r.logger, "trial")

	if err := r.prepareInput(ctx); err != nil {
		return 0, err
	}
	if err := r.prepareCluster(); err != nil {
		return 0, err
	}
	defer r.closeCluster()

	for fold := 0; fold < r.cfg.Spec.CVFolds; fold++ {
		foldLogger := r.logger.With(log.FoldKey, fold)

		split, err := r.etl(foldLogger, fold)
		if err != nil {
			return 0, err
		}

		model, err := r.train(foldLogger, split)
		if err != nil {
			return 0, err
		}
		r.model = model

		score, err := r.score(foldLogger, model, split)
		if err != nil {
			return 0, err
		}
		r.scores = append(r.scores, score)

		// Recycle the pool so per-fold state cannot leak across folds.
		if r.pool != nil && fold < r.cfg.Spec.CVFolds-1 {
			r.pool.Reinitialize()
		}
	}

	final, err := r.EmitFinalScore()
	if err != nil {
		return 0, err
	}
	if err := r.SaveModel(); err != nil {
		return 0, err
	}

	total.done(log.FinalScoreKey, final)
	return final, nil
}

// prepareInput stages S3 data when needed and resolves the partition list.
func (r *Runner) prepareInput(ctx context.Context) error {
	timer := newStageTimer(r.logger, "prepare input")

	dir := r.cfg.DataDir
	if storage.IsS3Path(dir) {
		stager := r.cfg.Stager
		if stager == nil {
			var err error
			stager, err = storage.NewStager(ctx)
			if err != nil {
				return err
			}
		}

		local := filepath.Join(os.TempDir(), "cloudtree-data-"+r.runID)
		if _, err := stager.Stage(ctx, dir, local); err != nil {
			return err
		}
		dir = local
	}

	input, err := dataset.Resolve(dir, r.cfg.Spec.Compute)
	if err != nil {
		return err
	}
	r.input = input

	timer.done(log.DataFilesKey, input.NFiles())
	return nil
}

// prepareCluster sizes and provisions the worker pool for cluster modes.
// Single-process modes size their in-process parallelism instead.
func (r *Runner) prepareCluster() error {
	devices := cluster.DeviceCount(r.cfg.Spec.Compute)

	if !r.cfg.Spec.Compute.IsMulti() {
		r.workers = 1
		if r.cfg.Spec.Compute == job.SingleCPU && r.cfg.Params.GBT != nil && r.cfg.Params.GBT.NumThreads > 0 {
			r.workers = r.cfg.Params.GBT.NumThreads
		}
		return nil
	}

	workers, err := cluster.WorkerCount(r.cfg.Spec, devices, r.input.NFiles(), r.cfg.WorkerLimit)
	if err != nil {
		return err
	}
	pool, err := cluster.Provision(workers)
	if err != nil {
		return err
	}
	r.pool = pool
	r.workers = workers
	return nil
}

func (r *Runner) closeCluster() {
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
}

// etl loads the partitions and splits them for one fold. Cluster modes read
// partitions on pool workers; the fold number seeds the split so each fold
// holds out different rows.
func (r *Runner) etl(logger log.Logger, fold int) (*dataset.Split, error) {
	timer := newStageTimer(logger, "ETL")

	var table *dataset.Table
	if r.pool != nil {
		tables := make([]*dataset.Table, r.input.NFiles())
		err := r.pool.Map(r.input.NFiles(), func(i int) error {
			t, err := dataset.Load([]string{r.input.Files[i]}, r.cfg.Target)
			if err != nil {
				return err
			}
			tables[i] = t
			return nil
		})
		if err != nil {
			return nil, err
		}
		table, err = dataset.Merge(tables...)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		table, err = dataset.Load(r.input.Files, r.cfg.Target)
		if err != nil {
			return nil, err
		}
	}

	seed := fold
	if r.cfg.Params.GBT != nil {
		seed += r.cfg.Params.GBT.Seed
	} else {
		seed += r.cfg.Params.Forest.Seed
	}

	split, err := dataset.TrainTestSplit(table, r.cfg.TestFraction, seed)
	if err != nil {
		return nil, err
	}

	timer.done(log.SamplesKey, table.Samples(), log.FeaturesKey, table.Features())
	return split, nil
}

// train fits the configured backend. Cluster modes run the fit as a pool
// task so a panicking trainer is isolated like any other worker failure.
func (r *Runner) train(logger log.Logger, split *dataset.Split) (model.Trained, error) {
	timer := newStageTimer(logger, "train")

	var (
		trained model.Trained
		fit     func() error
	)
	switch {
	case r.cfg.Params.GBT != nil:
		trainer := gbtree.NewTrainer(*r.cfg.Params.GBT, r.workers)
		fit = func() error {
			if err := trainer.Fit(split.XTrain, split.YTrain); err != nil {
				return err
			}
			trained = trainer.Model()
			return nil
		}
	default:
		clf := forest.NewClassifier(*r.cfg.Params.Forest, r.workers)
		fit = func() error {
			if err := clf.Fit(split.XTrain, split.YTrain); err != nil {
				return err
			}
			trained = clf.Model()
			return nil
		}
	}

	var err error
	if r.pool != nil {
		err = r.pool.Submit(fit)
	} else {
		err = fit()
	}
	if err != nil {
		return nil, errors.NewModelError("train", r.cfg.Spec.Model.String(), err)
	}

	timer.done(log.WorkersKey, r.workers)
	return trained, nil
}

// score evaluates accuracy on the fold's holdout.
func (r *Runner) score(logger log.Logger, trained model.Trained, split *dataset.Split) (float64, error) {
	timer := newStageTimer(logger, "score")

	score, err := trained.Score(split.XTest, mat.NewVecDense(len(split.YTest), split.YTest))
	if err != nil {
		return 0, err
	}

	timer.done(log.ScoreKey, score)
	return score, nil
}

// EmitFinalScore averages the fold scores and prints the line the sweep
// parses from the job log.
func (r *Runner) EmitFinalScore() (float64, error) {
	if len(r.scores) == 0 {
		return 0, errors.Wrap(errors.ErrNoScores, "emitting final score")
	}

	sum := 0.0
	for _, s := range r.scores {
		sum += s
	}
	final := sum / float64(len(r.scores))

	out := r.cfg.ScoreWriter
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, "final-score: %v;\n", final)

	r.logger.Info("final score emitted", log.FinalScoreKey, final, "folds", len(r.scores))
	return final, nil
}

// SaveModel persists the last fold's model and the fold chart under the
// model directory.
func (r *Runner) SaveModel() error {
	if r.model == nil {
		return errors.NewNotFittedError("runner", "SaveModel")
	}
	if err := os.MkdirAll(r.cfg.ModelDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating model directory %s", r.cfg.ModelDir)
	}

	path := filepath.Join(r.cfg.ModelDir, SavedModelName)
	if err := r.model.SaveModel(path); err != nil {
		return err
	}
	r.logger.Info("model saved", "path", path)

	// The chart is advisory: a headless rendering failure must not fail a
	// trial that already trained and scored.
	chartPath := filepath.Join(r.cfg.ModelDir, FoldChartName)
	if err := report.SaveFoldChart(r.scores, chartPath); err != nil {
		r.logger.Warn("fold chart rendering failed", log.ErrAttrKey, err.Error())
	}
	return nil
}

// stageTimer logs stage durations, the coarse profiling the job log keeps.
type stageTimer struct {
	logger log.Logger
	name   string
	start  time.Time
}

func newStageTimer(logger log.Logger, name string) *stageTimer {
	return &stageTimer{logger: logger, name: name, start: time.Now()}
}

func (t *stageTimer) done(extra ...any) {
	args := append([]any{
		log.OperationKey, t.name,
		log.DurationSecondsKey, time.Since(t.start).Seconds(),
	}, extra...)
	t.logger.Info("stage finished", args...)
}
