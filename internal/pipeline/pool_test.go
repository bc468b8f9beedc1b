package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kingrea/unwarp/internal/dataset"
	"github.com/kingrea/unwarp/internal/ledger"
)

func poolTasks(n int) []dataset.Task {
	tasks := make([]dataset.Task, n)
	for i := range tasks {
		tasks[i] = dataset.Task{Subject: fmt.Sprintf("sub-%02d", i), Run: "rest"}
	}
	return tasks
}

func TestPoolNeverExceedsWorkerBound(t *testing.T) {
	led, err := ledger.New(t.TempDir(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	const bound = 3
	var active, peak int64
	pool := &Pool{
		Workers: bound,
		Exec: func(ctx context.Context, task dataset.Task) Result {
			n := atomic.AddInt64(&active, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&active, -1)
			return Result{Task: task, Outcome: ledger.OutcomeOK}
		},
	}
	tally := pool.Run(context.Background(), poolTasks(12), led, nil)
	if tally.OK != 12 {
		t.Fatalf("tally = %+v, want 12 ok", tally)
	}
	if got := atomic.LoadInt64(&peak); got > bound {
		t.Fatalf("peak concurrency = %d, want <= %d", got, bound)
	}
}

func TestPoolWritesExactlyOneRecordPerTask(t *testing.T) {
	led, err := ledger.New(t.TempDir(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	pool := &Pool{
		Workers: 4,
		Exec: func(ctx context.Context, task dataset.Task) Result {
			switch task.Subject {
			case "sub-00":
				return Result{Task: task, Outcome: ledger.OutcomeSkip, Reason: "no primary series"}
			case "sub-01":
				return Result{Task: task, Outcome: ledger.OutcomeFail, Reason: "engine failed after retry"}
			default:
				return Result{Task: task, Outcome: ledger.OutcomeOK}
			}
		},
	}
	tally := pool.Run(context.Background(), poolTasks(8), led, nil)
	if tally.OK != 6 || tally.Skipped != 1 || tally.Failed != 1 {
		t.Fatalf("tally = %+v, want 6/1/1", tally)
	}

	records, err := led.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 8 {
		t.Fatalf("got %d records, want 8", len(records))
	}
	seen := map[string]int{}
	for _, rec := range records {
		seen[rec.Subject]++
		switch rec.Outcome {
		case ledger.OutcomeOK, ledger.OutcomeSkip, ledger.OutcomeFail:
		default:
			t.Fatalf("record %+v has invalid outcome", rec)
		}
	}
	for subject, n := range seen {
		if n != 1 {
			t.Fatalf("subject %s has %d records, want 1", subject, n)
		}
	}
}

func TestPoolEmitsStartAndFinishEvents(t *testing.T) {
	led, err := ledger.New(t.TempDir(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	pool := &Pool{
		Workers: 2,
		Exec: func(ctx context.Context, task dataset.Task) Result {
			return Result{Task: task, Outcome: ledger.OutcomeOK}
		},
	}

	events := make(chan Event)
	var wg sync.WaitGroup
	wg.Add(1)
	starts, finishes := 0, 0
	go func() {
		defer wg.Done()
		for ev := range events {
			switch ev.Type {
			case EventStarted:
				starts++
			case EventFinished:
				finishes++
				if ev.Result == nil || ev.Result.Outcome != ledger.OutcomeOK {
					panic("finish event missing result")
				}
			}
		}
	}()

	pool.Run(context.Background(), poolTasks(5), led, events)
	wg.Wait()
	if starts != 5 || finishes != 5 {
		t.Fatalf("events = %d starts / %d finishes, want 5/5", starts, finishes)
	}
}

func TestPoolWithWallClockSpeedup(t *testing.T) {
	if testing.Short() {
		t.Skip("timing-sensitive")
	}
	led, err := ledger.New(t.TempDir(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	const latency = 40 * time.Millisecond
	pool := &Pool{
		Workers: 8,
		Exec: func(ctx context.Context, task dataset.Task) Result {
			time.Sleep(latency)
			return Result{Task: task, Outcome: ledger.OutcomeOK}
		},
	}
	start := time.Now()
	pool.Run(context.Background(), poolTasks(8), led, nil)
	if elapsed := time.Since(start); elapsed > 4*latency {
		t.Fatalf("8 tasks on 8 workers took %s, want about one task latency", elapsed)
	}
}
