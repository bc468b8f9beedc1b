package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	subjectPrefix = "sub-"
	sessionPrefix = "ses-"
)

// Scan walks the dataset root and expands the configured run labels into a
// flat, ordered task list. Subjects are directories named sub-*; sessions,
// when present, are ses-* subdirectories. A dataset with zero subject
// directories is a fatal configuration error.
func Scan(root string, runs []string) ([]Task, error) {
	subjects, err := matchingDirs(root, subjectPrefix)
	if err != nil {
		return nil, fmt.Errorf("dataset: scan %s: %w", root, err)
	}
	if len(subjects) == 0 {
		return nil, fmt.Errorf("dataset: no %s* directories under %s", subjectPrefix, root)
	}

	var tasks []Task
	for _, sub := range subjects {
		sessions, err := matchingDirs(filepath.Join(root, sub), sessionPrefix)
		if err != nil {
			return nil, fmt.Errorf("dataset: scan %s: %w", sub, err)
		}
		if len(sessions) == 0 {
			// Sessionless layout: run labels still expand per subject.
			sessions = []string{""}
		}
		for _, ses := range sessions {
			for _, run := range runs {
				tasks = append(tasks, Task{Subject: sub, Session: ses, Run: run})
			}
		}
	}
	return tasks, nil
}

// matchingDirs lists direct subdirectories of dir whose name carries the
// given prefix, in lexical order.
func matchingDirs(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
