package pipeline

import (
	"context"
	"sync"

	"github.com/kingrea/unwarp/internal/dataset"
	"github.com/kingrea/unwarp/internal/ledger"
	"github.com/kingrea/unwarp/internal/logging"
)

// EventType distinguishes progress events emitted during a batch.
type EventType int

const (
	EventStarted EventType = iota
	EventFinished
)

// Event reports task progress to an optional observer such as the live
// progress board. Result is set for EventFinished only.
type Event struct {
	Type   EventType
	Task   dataset.Task
	Result *Result
}

// Pool runs the task list with a bounded number of concurrent executors.
// Workers hand results to a single aggregator, which is the only writer of
// the ledger, so concurrent-append hazards cannot arise.
type Pool struct {
	Workers int
	// Exec runs one task to completion and never panics or blocks forever
	// beyond the engine's own runtime.
	Exec func(ctx context.Context, task dataset.Task) Result
	Log  *logging.Logger
}

// Run dispatches every task, appends one ledger record per completion, and
// returns the final tally. Launch order follows the task list; completion
// order is unconstrained. When events is non-nil the pool emits progress
// events and closes the channel once the batch is done; the consumer must
// keep draining it.
func (p *Pool) Run(ctx context.Context, tasks []dataset.Task, led *ledger.Ledger, events chan<- Event) ledger.Tally {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	taskCh := make(chan dataset.Task)
	resultCh := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				if events != nil {
					events <- Event{Type: EventStarted, Task: task}
				}
				resultCh <- p.Exec(ctx, task)
			}
		}()
	}

	go func() {
		for _, task := range tasks {
			taskCh <- task
		}
		close(taskCh)
		wg.Wait()
		close(resultCh)
	}()

	// Aggregation happens on the caller's goroutine: it owns the ledger.
	var tally ledger.Tally
	for res := range resultCh {
		tally.Add(res.Outcome)
		if err := led.Append(recordFor(res)); err != nil {
			p.Log.Printf("ledger append for %s failed: %v", res.Task, err)
		}
		if events != nil {
			res := res
			events <- Event{Type: EventFinished, Task: res.Task, Result: &res}
		}
	}
	if events != nil {
		close(events)
	}
	return tally
}

func recordFor(res Result) ledger.Record {
	return ledger.Record{
		Subject: res.Task.Subject,
		Session: res.Task.Session,
		Run:     res.Task.Run,
		Outcome: res.Outcome,
		Reason:  res.Reason,
		Output:  res.Output,
		Summary: res.Summary,
	}
}
