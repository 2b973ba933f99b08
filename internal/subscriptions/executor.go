package subscriptions

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Querier executes one subscription's query against the column store and
// returns its result. The concrete query dialect/formatter is an external
// collaborator out of scope for this module (spec.md §1).
type Querier interface {
	Query(ctx context.Context, task ScheduledTask) (QueryResult, error)
}

// QueryOutcome pairs a scheduled task with the result (or error) of
// evaluating it.
type QueryOutcome struct {
	Task   ScheduledTask
	Result QueryResult
	Err    error
}

// Executor is the bounded-concurrency query dispatch pool (spec C8): it
// never runs more than maxWorkers queries at once, regardless of how many
// tasks are submitted in a single batch (spec.md §4.7).
type Executor struct {
	querier Querier
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewExecutor constructs an Executor bounded to maxWorkers concurrent
// queries, each subject to perQueryTimeout.
func NewExecutor(querier Querier, maxWorkers int, perQueryTimeout time.Duration) *Executor {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Executor{querier: querier, sem: semaphore.NewWeighted(int64(maxWorkers)), timeout: perQueryTimeout}
}

// Submit dispatches task for evaluation and returns at once with a channel
// that receives exactly one QueryOutcome. The query runs in its own
// goroutine once a worker slot is free; if ctx ends before a slot is
// acquired, the outcome carries ctx's error.
func (e *Executor) Submit(ctx context.Context, task ScheduledTask) <-chan QueryOutcome {
	out := make(chan QueryOutcome, 1)
	go func() {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			out <- QueryOutcome{Task: task, Err: err}
			return
		}
		defer e.sem.Release(1)

		qctx := ctx
		var cancel context.CancelFunc
		if e.timeout > 0 {
			qctx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}

		result, err := e.querier.Query(qctx, task)
		out <- QueryOutcome{Task: task, Result: result, Err: err}
	}()
	return out
}
