// Package ledger persists one durable outcome record per processed task.
// The file is append-only JSON lines; a whole line is written under a lock
// so records from concurrently completing tasks never interleave.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal state of one task.
type Outcome string

const (
	OutcomeOK   Outcome = "OK"
	OutcomeSkip Outcome = "SKIP"
	OutcomeFail Outcome = "FAIL"
)

// Record is the persisted serialization of one task's result.
type Record struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Session   string    `json:"session,omitempty"`
	Run       string    `json:"run"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Output    string    `json:"output,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}

// Ledger writes records to a single append-only file. One Ledger exists per
// batch invocation; the aggregator goroutine is its only writer during a run,
// the mutex keeps direct use (tests, tooling) safe as well.
type Ledger struct {
	path  string
	runID string
	mu    sync.Mutex
}

// New creates a ledger file inside logDir, named after the batch start time.
func New(logDir string, start time.Time) (*Ledger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("ledger_%s.jsonl", start.Format("20060102-150405")))
	return &Ledger{path: path, runID: uuid.NewString()}, nil
}

// Path returns the file backing this ledger.
func (l *Ledger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RunID identifies this batch invocation; it is stamped into every record.
func (l *Ledger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// Append writes a single record. The run id and timestamp are filled in here
// so callers only describe the task and its outcome.
func (l *Ledger) Append(rec Record) error {
	if l == nil {
		return nil
	}
	rec.RunID = l.runID
	rec.Timestamp = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger: marshal record: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open %s: %w", l.path, err)
	}
	defer file.Close()
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("ledger: append record: %w", err)
	}
	return nil
}

// Read returns every record currently in the ledger file.
func (l *Ledger) Read() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("ledger: corrupt record: %w", err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// Tally aggregates outcomes across a batch.
type Tally struct {
	OK      int
	Skipped int
	Failed  int
}

// Add counts one outcome.
func (t *Tally) Add(o Outcome) {
	switch o {
	case OutcomeOK:
		t.OK++
	case OutcomeSkip:
		t.Skipped++
	case OutcomeFail:
		t.Failed++
	}
}

// Total is the number of counted tasks.
func (t Tally) Total() int {
	return t.OK + t.Skipped + t.Failed
}

func (t Tally) String() string {
	return fmt.Sprintf("%d ok, %d skipped, %d failed (%d total)", t.OK, t.Skipped, t.Failed, t.Total())
}
