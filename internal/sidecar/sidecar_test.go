package sidecar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/unwarp/internal/logging"
)

func writeSidecar(t *testing.T, dir, stem, body string) string {
	t.Helper()
	image := filepath.Join(dir, stem+".nii.gz")
	if err := os.WriteFile(image, []byte("stub"), 0o644); err != nil {
		t.Fatal(err)
	}
	if body != "" {
		if err := os.WriteFile(filepath.Join(dir, stem+".json"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return image
}

func TestLoadParsesFields(t *testing.T) {
	dir := t.TempDir()
	image := writeSidecar(t, dir, "sub-01_dir-AP_epi",
		`{"TotalReadoutTime": 0.045, "PhaseEncodingDirection": "j-"}`)

	meta := Load(image)
	if meta.TotalReadoutTime == nil || *meta.TotalReadoutTime != 0.045 {
		t.Fatalf("TotalReadoutTime = %v, want 0.045", meta.TotalReadoutTime)
	}
	if meta.PhaseEncodingDirection == nil || *meta.PhaseEncodingDirection != "j-" {
		t.Fatalf("PhaseEncodingDirection = %v, want j-", meta.PhaseEncodingDirection)
	}
}

func TestLoadMissingOrMalformedSidecar(t *testing.T) {
	dir := t.TempDir()
	noSidecar := writeSidecar(t, dir, "sub-01_bold", "")
	if meta := Load(noSidecar); meta.TotalReadoutTime != nil || meta.PhaseEncodingDirection != nil {
		t.Fatalf("missing sidecar should yield empty metadata, got %+v", meta)
	}
	malformed := writeSidecar(t, dir, "sub-02_bold", `{"TotalReadoutTime": `)
	if meta := Load(malformed); meta.TotalReadoutTime != nil {
		t.Fatalf("malformed sidecar should yield empty metadata, got %+v", meta)
	}
}

func TestExtractReadoutTimeFromAuxSidecar(t *testing.T) {
	dir := t.TempDir()
	aux := writeSidecar(t, dir, "aux_ap", `{"TotalReadoutTime": 0.045}`)
	primary := writeSidecar(t, dir, "bold", "")

	params := Extract(primary, aux, "", nil)
	if params.ReadoutTime != 0.045 {
		t.Fatalf("ReadoutTime = %v, want 0.045", params.ReadoutTime)
	}
}

func TestExtractDefaultsReadoutTimeAndLogsIt(t *testing.T) {
	dir := t.TempDir()
	aux := writeSidecar(t, dir, "aux_ap", `{"PhaseEncodingDirection": "j"}`)
	primary := writeSidecar(t, dir, "bold", "")

	log, err := logging.New(t.TempDir(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	params := Extract(primary, aux, "", log)
	if params.ReadoutTime != DefaultReadoutTime {
		t.Fatalf("ReadoutTime = %v, want default %v", params.ReadoutTime, DefaultReadoutTime)
	}
	data, err := os.ReadFile(log.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "defaulting to 0.050") {
		t.Fatalf("default readout time not logged, log = %q", string(data))
	}
}

func TestExtractPhaseEncodePrecedence(t *testing.T) {
	dir := t.TempDir()
	aux := writeSidecar(t, dir, "aux_ap", `{"TotalReadoutTime": 0.05}`)

	// Override beats the sidecar regardless of its content.
	primaryJ := writeSidecar(t, dir, "bold_j", `{"PhaseEncodingDirection": "j"}`)
	if got := Extract(primaryJ, aux, "j-", nil).PhaseEncodeIndex; got != 1 {
		t.Fatalf("override j-: index = %d, want 1", got)
	}

	// No override: the primary sidecar decides.
	if got := Extract(primaryJ, aux, "", nil).PhaseEncodeIndex; got != 2 {
		t.Fatalf("sidecar j: index = %d, want 2", got)
	}

	// Unrecognized sidecar value falls back to index 1.
	primaryBad := writeSidecar(t, dir, "bold_bad", `{"PhaseEncodingDirection": "i"}`)
	if got := Extract(primaryBad, aux, "", nil).PhaseEncodeIndex; got != 1 {
		t.Fatalf("unrecognized direction: index = %d, want 1", got)
	}

	// No override, no sidecar at all.
	primaryNone := writeSidecar(t, dir, "bold_none", "")
	if got := Extract(primaryNone, aux, "", nil).PhaseEncodeIndex; got != 1 {
		t.Fatalf("no metadata: index = %d, want 1", got)
	}
}
