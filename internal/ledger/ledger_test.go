package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAppendAndReadRoundTrip(t *testing.T) {
	led, err := New(t.TempDir(), time.Now())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	rec := Record{Subject: "sub-01", Run: "rest", Outcome: OutcomeSkip, Reason: "no primary series"}
	if err := led.Append(rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	records, err := led.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	got := records[0]
	if got.Subject != "sub-01" || got.Outcome != OutcomeSkip || got.Reason != "no primary series" {
		t.Fatalf("record = %+v, want appended fields back", got)
	}
	if got.RunID != led.RunID() {
		t.Fatalf("record run id = %q, want %q", got.RunID, led.RunID())
	}
	if got.Timestamp.IsZero() {
		t.Fatal("record timestamp not stamped")
	}
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	led, err := New(t.TempDir(), time.Now())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := Record{
				Subject: fmt.Sprintf("sub-%02d", i),
				Run:     "rest",
				Outcome: OutcomeOK,
				Output:  fmt.Sprintf("sub-%02d_task-rest_bold_dc.nii.gz", i),
			}
			if err := led.Append(rec); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	records, err := led.Read()
	if err != nil {
		t.Fatalf("read after concurrent appends: %v", err)
	}
	if len(records) != n {
		t.Fatalf("got %d records, want %d", len(records), n)
	}
	seen := map[string]bool{}
	for _, rec := range records {
		if rec.Outcome != OutcomeOK {
			t.Fatalf("record %+v has unexpected outcome", rec)
		}
		if seen[rec.Subject] {
			t.Fatalf("subject %s recorded twice", rec.Subject)
		}
		seen[rec.Subject] = true
	}
}

func TestTallyCountsOutcomes(t *testing.T) {
	var tally Tally
	for _, o := range []Outcome{OutcomeOK, OutcomeOK, OutcomeSkip, OutcomeFail} {
		tally.Add(o)
	}
	if tally.OK != 2 || tally.Skipped != 1 || tally.Failed != 1 {
		t.Fatalf("tally = %+v, want 2/1/1", tally)
	}
	if tally.Total() != 4 {
		t.Fatalf("total = %d, want 4", tally.Total())
	}
	if got := tally.String(); got != "2 ok, 1 skipped, 1 failed (4 total)" {
		t.Fatalf("String() = %q", got)
	}
}
