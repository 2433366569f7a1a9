// Package dataset resolves, loads and splits the partitioned tabular input
// the orchestrator mounts into the training container.
package dataset

import (
	"path/filepath"
	"sort"

	"github.com/cloudtree-ml/cloudtree/job"
	"github.com/cloudtree-ml/cloudtree/pkg/errors"
	"github.com/cloudtree-ml/cloudtree/pkg/log"
)

// PartitionPattern matches the CSV partitions written by the upstream ETL.
const PartitionPattern = "*.csv"

// Input is the resolved set of data partitions for one training run. Dir is
// the mount root; Files lists every partition under it, sorted so that
// worker assignment is deterministic across folds.
type Input struct {
	Dir   string
	Files []string
}

// NFiles returns the partition count, which bounds the worker count for
// gradient-boosted training.
func (in Input) NFiles() int {
	return len(in.Files)
}

// Resolve expands the partition glob under dir. Every compute mode consumes
// the same file list; single-process modes stream it sequentially while
// cluster modes assign partitions to workers. Zero matches aborts the run:
// training on an empty directory would silently report a meaningless score
// to the sweep.
func Resolve(dir string, compute job.ComputeType) (Input, error) {
	logger := log.GetLoggerWithName("dataset")

	matches, err := filepath.Glob(filepath.Join(dir, PartitionPattern))
	if err != nil {
		return Input{}, errors.Wrapf(err, "globbing %s", dir)
	}
	if len(matches) == 0 {
		return Input{}, errors.Wrapf(errors.ErrNoDataFiles, "no %s partitions under %s", PartitionPattern, dir)
	}
	sort.Strings(matches)

	logger.Info("data partitions resolved",
		log.ComputeKey, compute.String(),
		log.DataFilesKey, len(matches),
		"dir", dir)

	return Input{Dir: dir, Files: matches}, nil
}
