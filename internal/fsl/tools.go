package fsl

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kingrea/unwarp/internal/dataset"
	"github.com/kingrea/unwarp/internal/logging"
)

// Tools runs the real FSL binaries (topup, applytopup, fslmaths, fslmerge,
// fslnvols, fslval, fslmeants) via os/exec. It implements both Engine and
// ImageOps. Engine runtime is unbounded; the passed context is the only
// cancellation mechanism.
type Tools struct {
	Log *logging.Logger
}

// NewTools returns an exec-backed engine that logs every invocation.
func NewTools(log *logging.Logger) *Tools {
	return &Tools{Log: log}
}

var _ Engine = (*Tools)(nil)
var _ ImageOps = (*Tools)(nil)

// run executes one binary and returns its combined output. Failures carry a
// tail of the output so ledger reasons stay readable.
func (t *Tools) run(ctx context.Context, name string, args ...string) (string, error) {
	t.Log.Printf("exec: %s %s", name, strings.Join(args, " "))
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s: %w (%s)", name, err, outputTail(string(out)))
	}
	return string(out), nil
}

func outputTail(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return strings.Join(lines, " | ")
}

// Estimate invokes topup with one parameter configuration.
func (t *Tools) Estimate(ctx context.Context, req EstimateRequest, cfg EstimateConfig) error {
	args := []string{
		"--imain=" + req.Merged,
		"--datain=" + req.AcqParams,
		"--out=" + req.OutBase,
		"--fout=" + req.FieldMap,
		"--iout=" + req.Corrected,
	}
	if req.Threads > 0 {
		args = append(args, fmt.Sprintf("--nthr=%d", req.Threads))
	}
	args = append(args, cfg.Args...)
	_, err := t.run(ctx, "topup", args...)
	return err
}

// Apply invokes applytopup against one or more inputs.
func (t *Tools) Apply(ctx context.Context, req ApplyRequest) error {
	indices := make([]string, len(req.Indices))
	for i, idx := range req.Indices {
		indices[i] = strconv.Itoa(idx)
	}
	method := req.Method
	if method == "" {
		method = "jac"
	}
	args := []string{
		"--imain=" + strings.Join(req.Inputs, ","),
		"--inindex=" + strings.Join(indices, ","),
		"--datain=" + req.AcqParams,
		"--topup=" + req.TopupBase,
		"--method=" + method,
		"--out=" + req.Out,
	}
	_, err := t.run(ctx, "applytopup", args...)
	return err
}

// NumVolumes shells out to fslnvols.
func (t *Tools) NumVolumes(ctx context.Context, path string) (int, error) {
	out, err := t.run(ctx, "fslnvols", path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("fslnvols %s: unparseable output %q", path, strings.TrimSpace(out))
	}
	return n, nil
}

// TemporalMean shells out to fslmaths -Tmean.
func (t *Tools) TemporalMean(ctx context.Context, src, dst string) error {
	_, err := t.run(ctx, "fslmaths", src, "-Tmean", dst)
	return err
}

// Normalize rewrites the image through fslmaths, which fixes datatype and
// compression quirks without touching voxel data.
func (t *Tools) Normalize(ctx context.Context, src, dst string) error {
	_, err := t.run(ctx, "fslmaths", src, dst)
	return err
}

// Merge shells out to fslmerge -t.
func (t *Tools) Merge(ctx context.Context, dst string, srcs ...string) error {
	args := append([]string{"-t", dst}, srcs...)
	_, err := t.run(ctx, "fslmerge", args...)
	return err
}

// AbsDiff computes |a - b| with fslmaths.
func (t *Tools) AbsDiff(ctx context.Context, a, b, dst string) error {
	_, err := t.run(ctx, "fslmaths", a, "-sub", b, "-abs", dst)
	return err
}

// VolumeAbsDiff computes |vol0 - vol1| of one 2-volume image.
func (t *Tools) VolumeAbsDiff(ctx context.Context, src, dst string) error {
	stem := dataset.ImageStem(dst)
	vol0 := stem + "_vol0"
	vol1 := stem + "_vol1"
	if _, err := t.run(ctx, "fslroi", src, vol0, "0", "1"); err != nil {
		return err
	}
	if _, err := t.run(ctx, "fslroi", src, vol1, "1", "1"); err != nil {
		return err
	}
	return t.AbsDiff(ctx, vol0, vol1, dst)
}

// PixelSpacing reads pixdim2, the in-plane spacing along the phase-encode
// axis, via fslval.
func (t *Tools) PixelSpacing(ctx context.Context, path string) (float64, error) {
	out, err := t.run(ctx, "fslval", path, "pixdim2")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("fslval %s pixdim2: unparseable output %q", path, strings.TrimSpace(out))
	}
	return v, nil
}

// Values dumps voxel values with fslmeants --showall. The first three output
// rows are voxel coordinates and are skipped.
func (t *Tools) Values(ctx context.Context, path string) ([]float64, error) {
	out, err := t.run(ctx, "fslmeants", "-i", path, "--showall")
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) <= 3 {
		return nil, fmt.Errorf("fslmeants %s: no value rows in output", path)
	}
	var values []float64
	for _, line := range lines[3:] {
		for _, field := range strings.Fields(line) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("fslmeants %s: unparseable value %q", path, field)
			}
			values = append(values, v)
		}
	}
	return values, nil
}
