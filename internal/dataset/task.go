// Package dataset discovers work items in a BIDS-style directory tree and
// resolves the input files each item needs. Discovery and resolution are
// side-effect-free; they only read the filesystem.
package dataset

import "strings"

// Task identifies one unit of work: a (subject, session, run) triple.
// Session is empty for datasets without session subdirectories.
type Task struct {
	Subject string
	Session string
	Run     string
}

// Stem is the BIDS filename prefix shared by this task's files,
// e.g. "sub-01_ses-02_task-rest".
func (t Task) Stem() string {
	parts := []string{t.Subject}
	if t.Session != "" {
		parts = append(parts, t.Session)
	}
	parts = append(parts, "task-"+t.Run)
	return strings.Join(parts, "_")
}

// Key names this task's exclusive scratch workspace. It encodes the full
// task identity so two concurrently running tasks can never share one.
func (t Task) Key() string {
	return t.Stem()
}

func (t Task) String() string {
	if t.Session == "" {
		return t.Subject + " " + t.Run
	}
	return t.Subject + " " + t.Session + " " + t.Run
}
