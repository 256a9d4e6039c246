package runtime

import (
	"context"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/types"
)

// Job is one independent run. An empty RunID gets a generated one.
type Job struct {
	RunID  string
	Graph  *types.Graph
	Inputs map[string]*types.File
}

type JobResult struct {
	RunID  string
	Result *types.RunResult
	Err    error
}

/**
 * BatchRunner executes independent runs on a bounded pool of workers.
 * Every run stays sequential inside, runs only share the resolver and
 * never a run id.
 */
type BatchRunner struct {
	mu sync.Mutex

	e       *Executor
	wp      *workerpool.WorkerPool
	active  map[string]bool
	stopped bool
}

func NewBatchRunner(e *Executor) *BatchRunner {
	concurrency := e.opts.MaxConcurrentRuns
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchRunner{
		e:      e,
		wp:     workerpool.New(concurrency),
		active: make(map[string]bool),
	}
}

// add marks runID in flight and queues task under the same lock, so
// StopWait never closes the pool between the two.
func (b *BatchRunner) add(runID string, task func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped || b.wp.Stopped() {
		return errors.NotValidf("batch runner stopped")
	}
	if b.active[runID] {
		return errors.AlreadyExistsf("run %s", runID)
	}
	b.active[runID] = true
	b.wp.Submit(task)
	return nil
}

func (b *BatchRunner) remove(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.active, runID)
}

// Submit queues job and returns a channel that receives its result once.
// A run id already in flight is rejected, and so is any job once StopWait
// was called.
func (b *BatchRunner) Submit(ctx context.Context, job *Job) (<-chan *JobResult, error) {
	if job == nil {
		return nil, errors.NotValidf("nil job")
	}
	runID := job.RunID
	if runID == "" {
		runID = b.e.NewRunID()
	}
	ch := make(chan *JobResult, 1)
	if err := b.add(runID, func() {
		result, err := b.e.ExecuteRun(ctx, runID, job.Graph, job.Inputs)
		b.remove(runID)
		ch <- &JobResult{RunID: runID, Result: result, Err: err}
		close(ch)
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return ch, nil
}

// Run executes jobs and returns their results in the order given.
func (b *BatchRunner) Run(ctx context.Context, jobs []*Job) []*JobResult {
	results := make([]*JobResult, len(jobs))
	pending := make([]<-chan *JobResult, len(jobs))
	for i, job := range jobs {
		ch, err := b.Submit(ctx, job)
		if err != nil {
			results[i] = &JobResult{Err: err}
			if job != nil {
				results[i].RunID = job.RunID
			}
			continue
		}
		pending[i] = ch
	}
	for i, ch := range pending {
		if ch != nil {
			results[i] = <-ch
		}
	}
	return results
}

// StopWait waits for queued runs and releases the workers.
func (b *BatchRunner) StopWait() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.wp.StopWait()
}
