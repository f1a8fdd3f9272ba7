// Package batch runs independent group decodes with bounded parallelism.
//
// A failing task is recorded and its siblings keep running; only context
// cancellation stops a batch early.
package batch

import (
	"cmp"
	"context"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Task is one unit of work, usually a group.
type Task struct {
	ID uint32

	// Size is the task's approximate memory cost in bytes, charged against
	// the memory budget while it runs.
	Size int64
}

// Failure records a task that returned an error.
type Failure struct {
	ID  uint32
	Err error
}

// Result summarizes a batch.
type Result struct {
	// Done counts tasks that returned nil.
	Done int

	// Failed lists failing tasks ordered by id.
	Failed []Failure
}

// Processor runs batches of tasks.
type Processor struct {
	workers int   // 0 = GOMAXPROCS, <0 = serial, >0 = fixed count
	budget  int64 // 0 = unlimited
}

// Option configures a Processor.
type Option func(*Processor)

// WithWorkers sets the number of concurrent tasks.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithMemoryBudget bounds the summed Size of running tasks.
// A task larger than the budget runs alone.
func WithMemoryBudget(n int64) Option {
	return func(p *Processor) {
		p.budget = n
	}
}

// NewProcessor creates a Processor.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process calls fn for every task and collects the outcomes.
//
// The returned error is non-nil only when ctx is done before every task has
// been started; the Result still describes the tasks that ran.
func (p *Processor) Process(ctx context.Context, tasks []Task, fn func(context.Context, Task) error) (Result, error) {
	var (
		done   atomic.Int64
		mu     sync.Mutex
		failed []Failure
	)
	record := func(t Task, err error) {
		if err == nil {
			done.Add(1)
			return
		}
		mu.Lock()
		failed = append(failed, Failure{ID: t.ID, Err: err})
		mu.Unlock()
	}

	var budget *semaphore.Weighted
	if p.budget > 0 {
		budget = semaphore.NewWeighted(p.budget)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workerCount(len(tasks)))
	scheduled := 0
	for _, task := range tasks {
		if egCtx.Err() != nil {
			break
		}
		scheduled++
		weight := min(max(task.Size, 1), p.budget)
		eg.Go(func() error {
			if budget != nil {
				if err := budget.Acquire(egCtx, weight); err != nil {
					return err
				}
				defer budget.Release(weight)
			}
			record(task, fn(egCtx, task))
			return nil
		})
	}
	err := eg.Wait()

	slices.SortFunc(failed, func(a, b Failure) int { return cmp.Compare(a.ID, b.ID) })
	res := Result{Done: int(done.Load()), Failed: failed}
	if err == nil && scheduled < len(tasks) {
		err = ctx.Err()
	}
	return res, err
}

func (p *Processor) workerCount(tasks int) int {
	if p.workers < 0 || tasks < 2 {
		return 1
	}
	workers := p.workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return max(1, min(workers, tasks))
}
