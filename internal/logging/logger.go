package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger appends timestamped lines to the full-run log so operators can
// inspect a batch after the fact. Output from all workers is interleaved
// here; the ledger remains the authoritative machine-readable record.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	echo io.Writer
}

// New creates the run log file inside logDir. The filename carries the batch
// start time so successive runs never collide.
func New(logDir string, start time.Time) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("run_%s.log", start.Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{file: f}, nil
}

// Echo mirrors every line to w (typically stderr) in addition to the file.
func (l *Logger) Echo(w io.Writer) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.echo = w
}

// Path returns the file backing this logger.
func (l *Logger) Path() string {
	if l == nil || l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single timestamped line. Safe for concurrent use and safe
// on a nil receiver, so library code can log unconditionally.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	line = strings.TrimRight(line, "\n")
	timestamp := time.Now().Format(time.RFC3339)
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, line)
	if l.echo != nil {
		fmt.Fprintf(l.echo, "%s\n", line)
	}
}
