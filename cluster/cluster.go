// Package cluster manages the in-process worker pool that stands in for the
// distributed scheduler of the managed service: sizing workers against
// devices and data partitions, provisioning and recycling the pool between
// cross-validation folds, and running submitted tasks with panic isolation.
package cluster

import (
	"sync"

	"github.com/cloudtree-ml/cloudtree/job"
	"github.com/cloudtree-ml/cloudtree/pkg/errors"
	"github.com/cloudtree-ml/cloudtree/pkg/log"
)

// WorkerCount sizes the pool for a cluster-mode run. The base is the device
// count for the mode; gradient-boosted training additionally caps workers at
// the partition count so no worker sits starved of data files, and an
// optional workerLimit (0 = unlimited) caps the result last. The count never
// drops below one.
func WorkerCount(spec job.Spec, devices, nFiles, workerLimit int) (int, error) {
	if devices < 1 {
		return 0, errors.NewClusterError("size", devices, errors.New("no compute devices"))
	}
	if nFiles < 1 {
		return 0, errors.NewClusterError("size", 0, errors.ErrNoDataFiles)
	}

	n := devices
	if spec.Model == job.GBT && nFiles < n {
		n = nFiles
	}
	if workerLimit > 0 && workerLimit < n {
		n = workerLimit
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}

type task struct {
	fn     func() error
	result chan<- error
}

// Pool is a fixed-size worker pool. Cluster modes provision one per run and
// recycle it between folds; single-process modes never create one.
type Pool struct {
	size  int
	mu    sync.Mutex
	tasks chan task
	wg    sync.WaitGroup
}

// Provision starts a pool of size workers.
func Provision(size int) (*Pool, error) {
	if size < 1 {
		return nil, errors.NewClusterError("provision", size, errors.New("pool size must be >= 1"))
	}

	p := &Pool{size: size}
	p.start()

	log.GetLoggerWithName("cluster").Info("worker pool provisioned", log.WorkersKey, size)
	return p, nil
}

// Size returns the worker count.
func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) start() {
	p.tasks = make(chan task)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(p.tasks)
	}
}

// worker runs tasks until the channel closes. Panics in a task surface as
// PanicError results instead of killing the pool.
func (p *Pool) worker(tasks <-chan task) {
	defer p.wg.Done()
	for t := range tasks {
		t.result <- errors.SafeExecute("cluster task", t.fn)
	}
}

// Submit runs fn on a pool worker and waits for its result.
func (p *Pool) Submit(fn func() error) error {
	p.mu.Lock()
	tasks := p.tasks
	p.mu.Unlock()
	if tasks == nil {
		return errors.NewClusterError("submit", p.size, errors.New("pool is closed"))
	}

	result := make(chan error, 1)
	tasks <- task{fn: fn, result: result}
	return <-result
}

// Map runs fn for each index in [0, n) across the pool and returns the
// first error, after every task has finished.
func (p *Pool) Map(n int, fn func(i int) error) error {
	results := make(chan error, n)
	var submitters sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		submitters.Add(1)
		go func() {
			defer submitters.Done()
			results <- p.Submit(func() error { return fn(i) })
		}()
	}
	submitters.Wait()
	close(results)

	for err := range results {
		if err != nil {
			return errors.NewClusterError("map", p.size, err)
		}
	}
	return nil
}

// Reinitialize drains the pool and starts fresh workers. Runs with more
// than one fold recycle the pool between folds so per-fold state cannot
// leak across iterations.
func (p *Pool) Reinitialize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tasks != nil {
		close(p.tasks)
		p.wg.Wait()
	}
	p.start()

	log.GetLoggerWithName("cluster").Info("worker pool reinitialized", log.WorkersKey, p.size)
}

// Close stops the workers. The pool cannot be used afterwards.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tasks == nil {
		return
	}
	close(p.tasks)
	p.wg.Wait()
	p.tasks = nil
}
