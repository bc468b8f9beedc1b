// Package pipeline runs one task through the full correction sequence and
// schedules many tasks across a bounded worker pool. All failures are caught
// at the task boundary and classified; nothing here aborts the batch.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kingrea/unwarp/internal/dataset"
	"github.com/kingrea/unwarp/internal/fsl"
	"github.com/kingrea/unwarp/internal/ledger"
	"github.com/kingrea/unwarp/internal/logging"
	"github.com/kingrea/unwarp/internal/sidecar"
)

// Output naming is a pure function of the primary series filename stem, so
// reruns land on the same paths and overwrite instead of duplicating.
const (
	correctedSuffix = "_dc.nii.gz"
	reportSuffix    = "_dc_report.txt"
	missingReport   = "missing_inputs.txt"
)

// Result is the terminal outcome of one task. Exactly one is produced per
// task; Reason is set for SKIP and FAIL.
type Result struct {
	Task    dataset.Task
	Outcome ledger.Outcome
	Reason  string
	Output  string
	Summary string
}

// Executor runs single tasks to completion. It is stateless across tasks and
// safe for concurrent use by multiple workers.
type Executor struct {
	Resolver *dataset.Resolver
	Engine   fsl.Engine
	Images   fsl.ImageOps
	// Attempts are the engine parameter configurations tried in order.
	Attempts []fsl.EstimateConfig
	// WorkRoot holds the per-task scratch workspaces.
	WorkRoot string
	// PEOverride optionally forces the primary phase-encoding direction.
	PEOverride string
	// Threads is handed to each engine invocation.
	Threads int
	Log     *logging.Logger
}

func (e *Executor) skip(task dataset.Task, reason string) Result {
	e.Log.Printf("task %s: SKIP (%s)", task, reason)
	return Result{Task: task, Outcome: ledger.OutcomeSkip, Reason: reason}
}

func (e *Executor) fail(task dataset.Task, reason string, err error) Result {
	if err != nil {
		e.Log.Printf("task %s: FAIL (%s): %v", task, reason, err)
	} else {
		e.Log.Printf("task %s: FAIL (%s)", task, reason)
	}
	return Result{Task: task, Outcome: ledger.OutcomeFail, Reason: reason}
}

// Run executes the per-task state machine and always returns a terminal
// Result; errors never escape the task boundary.
func (e *Executor) Run(ctx context.Context, task dataset.Task) Result {
	inputs := e.Resolver.Resolve(task)
	if inputs.Primary == "" {
		return e.skip(task, "no primary series")
	}
	if missing := inputs.MissingAux(); len(missing) > 0 {
		if err := e.writeMissingReport(task, inputs, missing); err != nil {
			e.Log.Printf("task %s: missing-inputs report not written: %v", task, err)
		}
		return e.skip(task, "missing "+strings.Join(missing, " and ")+" auxiliary")
	}

	workspace := filepath.Join(e.WorkRoot, task.Key())
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return e.fail(task, "workspace directory failed", err)
	}

	params := sidecar.Extract(inputs.Primary, inputs.AuxA, e.PEOverride, e.Log)
	e.Log.Printf("task %s: readout=%gs index=%d workspace=%s", task, params.ReadoutTime, params.PhaseEncodeIndex, workspace)

	// Reduce each auxiliary to a single representative volume.
	aVol := filepath.Join(workspace, "aux_a_vol.nii.gz")
	bVol := filepath.Join(workspace, "aux_b_vol.nii.gz")
	if err := e.reduceAux(ctx, inputs.AuxA, aVol); err != nil {
		return e.fail(task, "cannot read input", err)
	}
	if err := e.reduceAux(ctx, inputs.AuxB, bVol); err != nil {
		return e.fail(task, "cannot read input", err)
	}

	// Pre-correction divergence between the opposed-polarity pair. QA-only:
	// a failure here marks the metric missing instead of failing the task.
	preStats, preErr := e.divergence(ctx, aVol, bVol, filepath.Join(workspace, "pre_diff.nii.gz"))
	if preErr != nil {
		e.Log.Printf("task %s: before-divergence skipped: %v", task, preErr)
	}

	acqParams := filepath.Join(workspace, "acqparams.txt")
	if err := writeAcqParams(acqParams, params.ReadoutTime); err != nil {
		return e.fail(task, "workspace directory failed", err)
	}

	merged := filepath.Join(workspace, "both_epi.nii.gz")
	if err := e.Images.Merge(ctx, merged, aVol, bVol); err != nil {
		return e.fail(task, "volume-count mismatch", err)
	}
	if n, err := e.Images.NumVolumes(ctx, merged); err != nil || n != 2 {
		if err == nil {
			err = fmt.Errorf("merged image has %d volumes, want 2", n)
		}
		return e.fail(task, "volume-count mismatch", err)
	}

	est := fsl.EstimateRequest{
		Merged:    merged,
		AcqParams: acqParams,
		OutBase:   filepath.Join(workspace, "topup_out"),
		FieldMap:  filepath.Join(workspace, "field.nii.gz"),
		Corrected: filepath.Join(workspace, "unwarped_epi.nii.gz"),
		Threads:   e.Threads,
	}
	if !e.estimate(ctx, task, est) {
		return e.fail(task, "engine failed after retry", nil)
	}

	qa := e.fieldQA(ctx, task, est.FieldMap, inputs.Primary, params.ReadoutTime)

	// Apply the correction to the primary series.
	corrected := filepath.Join(workspace, "primary_dc.nii.gz")
	applyErr := e.Engine.Apply(ctx, fsl.ApplyRequest{
		Inputs:    []string{inputs.Primary},
		Indices:   []int{params.PhaseEncodeIndex},
		AcqParams: acqParams,
		TopupBase: est.OutBase,
		Method:    "jac",
		Out:       corrected,
	})
	if applyErr != nil {
		return e.fail(task, "apply step failed", applyErr)
	}
	if _, err := os.Stat(corrected); err != nil {
		return e.fail(task, "apply step failed", fmt.Errorf("no output file: %w", err))
	}

	// Best-estimate corrected pair for the after-divergence metric.
	// Non-fatal: the metric degrades to "skipped" on any error.
	postStats, postErr := e.afterDivergence(ctx, workspace, aVol, bVol, acqParams, est.OutBase)
	if postErr != nil {
		e.Log.Printf("task %s: after-divergence skipped: %v", task, postErr)
	}

	outDir := filepath.Dir(inputs.Primary)
	stem := dataset.ImageStem(filepath.Base(inputs.Primary))
	finalImage := filepath.Join(outDir, stem+correctedSuffix)
	finalReport := filepath.Join(outDir, stem+reportSuffix)

	summary := summaryData{
		task:    task,
		inputs:  inputs,
		params:  params,
		qa:      qa,
		pre:     preStats,
		preErr:  preErr,
		post:    postStats,
		postErr: postErr,
		output:  finalImage,
	}
	reportSrc := filepath.Join(workspace, "report.txt")
	if err := writeSummary(reportSrc, summary); err != nil {
		return e.fail(task, "workspace directory failed", err)
	}

	if err := copyFile(corrected, finalImage); err != nil {
		return e.fail(task, "apply step failed", fmt.Errorf("place corrected series: %w", err))
	}
	if err := copyFile(reportSrc, finalReport); err != nil {
		return e.fail(task, "apply step failed", fmt.Errorf("place summary: %w", err))
	}

	e.Log.Printf("task %s: OK -> %s", task, finalImage)
	return Result{Task: task, Outcome: ledger.OutcomeOK, Output: finalImage, Summary: finalReport}
}

// reduceAux collapses a multi-volume auxiliary to its temporal mean, or
// normalizes a single-volume one unchanged.
func (e *Executor) reduceAux(ctx context.Context, src, dst string) error {
	n, err := e.Images.NumVolumes(ctx, src)
	if err != nil {
		return fmt.Errorf("volume count of %s: %w", src, err)
	}
	if n > 1 {
		return e.Images.TemporalMean(ctx, src, dst)
	}
	return e.Images.Normalize(ctx, src, dst)
}

// estimate walks the attempt list until one configuration succeeds. Exactly
// one retry happens with the default attempt list.
func (e *Executor) estimate(ctx context.Context, task dataset.Task, req fsl.EstimateRequest) bool {
	for _, cfg := range e.Attempts {
		start := time.Now()
		err := e.Engine.Estimate(ctx, req, cfg)
		if err == nil {
			e.Log.Printf("task %s: estimate attempt %q succeeded in %s", task, cfg.Name, time.Since(start).Round(time.Millisecond))
			return true
		}
		e.Log.Printf("task %s: estimate attempt %q failed after %s: %v", task, cfg.Name, time.Since(start).Round(time.Millisecond), err)
	}
	return false
}

// qaReport carries the field statistics and both voxel-shift-map variants.
// All of it is QA-only and never fails a task.
type qaReport struct {
	field    Stats
	vsmVox   Stats
	vsmMM    Stats
	spacing  float64
	fieldErr error
}

// fieldQA derives the QA quantities from the engine's field output.
func (e *Executor) fieldQA(ctx context.Context, task dataset.Task, fieldMap, primary string, readout float64) qaReport {
	var report qaReport
	values, err := e.Images.Values(ctx, fieldMap)
	if err != nil {
		report.fieldErr = err
		e.Log.Printf("task %s: field QA skipped: %v", task, err)
		return report
	}
	report.field, report.fieldErr = fieldStats(values)
	if report.fieldErr != nil {
		return report
	}

	// Shift in voxels is field (Hz) scaled by the readout time; physical
	// shift additionally scales by the in-plane pixel spacing.
	report.vsmVox, _ = absStats(scale(values, readout))
	spacing, err := e.Images.PixelSpacing(ctx, primary)
	if err != nil {
		e.Log.Printf("task %s: pixel spacing unavailable, physical shift map skipped: %v", task, err)
		return report
	}
	report.spacing = spacing
	report.vsmMM, _ = absStats(scale(values, readout*spacing))
	return report
}

// divergence writes |a-b| and summarizes it.
func (e *Executor) divergence(ctx context.Context, a, b, diff string) (Stats, error) {
	if err := e.Images.AbsDiff(ctx, a, b, diff); err != nil {
		return Stats{}, err
	}
	values, err := e.Images.Values(ctx, diff)
	if err != nil {
		return Stats{}, err
	}
	return absStats(values)
}

// afterDivergence re-applies the correction to the reduced auxiliary pair
// (both table rows) and measures the residual divergence.
func (e *Executor) afterDivergence(ctx context.Context, workspace, aVol, bVol, acqParams, topupBase string) (Stats, error) {
	pair := filepath.Join(workspace, "aux_dc.nii.gz")
	err := e.Engine.Apply(ctx, fsl.ApplyRequest{
		Inputs:    []string{aVol, bVol},
		Indices:   []int{1, 2},
		AcqParams: acqParams,
		TopupBase: topupBase,
		Method:    "jac",
		Out:       pair,
	})
	if err != nil {
		return Stats{}, err
	}
	n, err := e.Images.NumVolumes(ctx, pair)
	if err != nil {
		return Stats{}, err
	}
	if n < 2 {
		return Stats{}, fmt.Errorf("corrected pair has %d volumes, want 2", n)
	}
	diff := filepath.Join(workspace, "post_diff.nii.gz")
	if err := e.Images.VolumeAbsDiff(ctx, pair, diff); err != nil {
		return Stats{}, err
	}
	values, err := e.Images.Values(ctx, diff)
	if err != nil {
		return Stats{}, err
	}
	return absStats(values)
}

// writeMissingReport records which inputs could not be resolved and where
// the search looked, so operators can fix the dataset.
func (e *Executor) writeMissingReport(task dataset.Task, inputs dataset.ResolvedInputs, missing []string) error {
	workspace := filepath.Join(e.WorkRoot, task.Key())
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "subject: %s\n", task.Subject)
	if task.Session != "" {
		fmt.Fprintf(&b, "session: %s\n", task.Session)
	}
	fmt.Fprintf(&b, "run: %s\n", task.Run)
	fmt.Fprintf(&b, "missing: %s\n", strings.Join(missing, ", "))
	fmt.Fprintf(&b, "searched: %s\n", inputs.FmapDir)
	fmt.Fprintf(&b, "ap keywords: %s\n", strings.Join(e.Resolver.APKeywords, ", "))
	fmt.Fprintf(&b, "pa keywords: %s\n", strings.Join(e.Resolver.PAKeywords, ", "))
	return os.WriteFile(filepath.Join(workspace, missingReport), []byte(b.String()), 0o644)
}

// writeAcqParams emits the two-row acquisition-parameter table. Row 1 is the
// AP (negative polarity) auxiliary, row 2 the PA one. Line endings are plain
// \n regardless of platform.
func writeAcqParams(path string, readout float64) error {
	body := fmt.Sprintf("0 -1 0 %.6g\n0 1 0 %.6g\n", readout, readout)
	return os.WriteFile(path, []byte(body), 0o644)
}

type summaryData struct {
	task    dataset.Task
	inputs  dataset.ResolvedInputs
	params  sidecar.Params
	qa      qaReport
	pre     Stats
	preErr  error
	post    Stats
	postErr error
	output  string
}

func statsLine(s Stats, err error) string {
	if err != nil {
		return "skipped"
	}
	return s.String()
}

// writeSummary emits the human-readable per-task report.
func writeSummary(path string, d summaryData) error {
	var b strings.Builder
	fmt.Fprintf(&b, "distortion correction summary\n")
	fmt.Fprintf(&b, "task: %s\n\n", d.task)
	fmt.Fprintf(&b, "primary series:   %s\n", d.inputs.Primary)
	fmt.Fprintf(&b, "auxiliary AP:     %s\n", d.inputs.AuxA)
	fmt.Fprintf(&b, "auxiliary PA:     %s\n", d.inputs.AuxB)
	fmt.Fprintf(&b, "readout time:     %g s\n", d.params.ReadoutTime)
	fmt.Fprintf(&b, "phase-enc index:  %d\n\n", d.params.PhaseEncodeIndex)
	fmt.Fprintf(&b, "field map:            %s\n", statsLine(d.qa.field, d.qa.fieldErr))
	fmt.Fprintf(&b, "shift map (voxels):   %s\n", statsLine(d.qa.vsmVox, d.qa.fieldErr))
	if d.qa.spacing > 0 {
		fmt.Fprintf(&b, "shift map (mm):       %s (pixel spacing %.3f mm)\n", d.qa.vsmMM.String(), d.qa.spacing)
	} else {
		fmt.Fprintf(&b, "shift map (mm):       skipped\n")
	}
	fmt.Fprintf(&b, "divergence before:    %s\n", statsLine(d.pre, d.preErr))
	fmt.Fprintf(&b, "divergence after:     %s\n\n", statsLine(d.post, d.postErr))
	fmt.Fprintf(&b, "corrected output: %s\n", d.output)
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
