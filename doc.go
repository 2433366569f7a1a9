// Package cloudtree is a cloud HPO job wrapper for tree-model training.
//
// A hyper-parameter optimization orchestrator launches one process per
// trial. The process decodes its job name to pick a model family
// (gradient-boosted trees or random forest) and a compute mode
// (single-CPU, single-GPU, multi-CPU, multi-GPU), loads partitioned
// tabular data, trains, scores, saves the model, and emits a single
// scalar the orchestrator parses from the log stream.
//
// # Layout
//
//   - job: job-name and hyper-parameter parsing
//   - dataset: input resolution, CSV partition loading, splitting
//   - storage: staging of s3:// datasets into the input directory
//   - cluster: worker-pool sizing and lifecycle for the multi modes
//   - ensemble/gbtree, ensemble/forest: the two training backends
//   - metrics: classification scoring
//   - report: per-fold accuracy chart
//   - runner: the per-trial lifecycle driving all of the above
//   - cmd/cloudtree-train: the container entrypoint
//
// # Quick Start
//
//	spec, err := job.ParseJobName()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	params, err := job.ParseHyperParams(spec, os.Args[1:])
//	if err != nil {
//	    log.Fatal(err)
//	}
//	r, err := runner.New(runner.Config{
//	    Spec:     spec,
//	    Params:   params,
//	    DataDir:  "/opt/ml/input/data/training",
//	    ModelDir: "/opt/ml/model",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := r.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
package cloudtree
