package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScanSessionlessDataset(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "sub-01/func", "sub-02/func", "derivatives")

	tasks, err := Scan(root, []string{"rest", "nback"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []Task{
		{Subject: "sub-01", Run: "rest"},
		{Subject: "sub-01", Run: "nback"},
		{Subject: "sub-02", Run: "rest"},
		{Subject: "sub-02", Run: "nback"},
	}
	if !reflect.DeepEqual(tasks, want) {
		t.Fatalf("tasks = %v, want %v", tasks, want)
	}
}

func TestScanExpandsSessions(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "sub-01/ses-01/func", "sub-01/ses-02/func")

	tasks, err := Scan(root, []string{"rest"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []Task{
		{Subject: "sub-01", Session: "ses-01", Run: "rest"},
		{Subject: "sub-01", Session: "ses-02", Run: "rest"},
	}
	if !reflect.DeepEqual(tasks, want) {
		t.Fatalf("tasks = %v, want %v", tasks, want)
	}
}

func TestScanFailsWithZeroSubjects(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "derivatives", "code")

	if _, err := Scan(root, []string{"rest"}); err == nil {
		t.Fatal("expected error when no subject directories exist")
	}
}

func TestScanIgnoresNonSessionDirsInsideSubject(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "sub-01/func", "sub-01/fmap", "sub-01/anat")

	tasks, err := Scan(root, []string{"rest"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Session != "" {
		t.Fatalf("tasks = %v, want single sessionless task", tasks)
	}
}

func TestTaskStemAndKey(t *testing.T) {
	withSes := Task{Subject: "sub-01", Session: "ses-02", Run: "rest"}
	if got := withSes.Stem(); got != "sub-01_ses-02_task-rest" {
		t.Fatalf("Stem() = %q", got)
	}
	without := Task{Subject: "sub-01", Run: "rest"}
	if got := without.Key(); got != "sub-01_task-rest" {
		t.Fatalf("Key() = %q", got)
	}
}
