// Package fsl wraps the external distortion-correction engine and the image
// utilities it ships with. Everything here is consumed through interfaces so
// the pipeline never depends on the binaries being installed; tests supply
// fakes instead.
package fsl

import (
	"context"
	"os"
	"path/filepath"
)

// EstimateConfig is one parameter configuration for the field-estimation
// step. Attempts are tried in order until one succeeds; each attempt is
// individually observable in the run log.
type EstimateConfig struct {
	// Name labels the attempt in logs and failure reasons.
	Name string
	// Args are appended verbatim to the engine command line.
	Args []string
}

// DefaultAttempts returns the standard attempt list: the bundled smoothing
// profile when discoverable on the host, then a degraded configuration with
// coarser warp resolution and no sub-sampling.
func DefaultAttempts() []EstimateConfig {
	primary := EstimateConfig{Name: "default"}
	if cfg := discoverTopupConfig(); cfg != "" {
		primary.Args = []string{"--config=" + cfg}
	}
	degraded := EstimateConfig{Name: "degraded", Args: []string{"--warpres=20", "--subsamp=1"}}
	return []EstimateConfig{primary, degraded}
}

// discoverTopupConfig looks for the bundled b02b0 profile under FSLDIR.
func discoverTopupConfig() string {
	fslDir := os.Getenv("FSLDIR")
	if fslDir == "" {
		return ""
	}
	path := filepath.Join(fslDir, "etc", "flirtsch", "b02b0.cnf")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// EstimateRequest describes one field-estimation invocation.
type EstimateRequest struct {
	// Merged is the 2-volume opposed-polarity input.
	Merged string
	// AcqParams is the two-row acquisition-parameter table.
	AcqParams string
	// OutBase is the basename for the engine's own output files.
	OutBase string
	// FieldMap receives the estimated field (Hz).
	FieldMap string
	// Corrected receives the engine's unwarped rendition of Merged.
	Corrected string
	// Threads caps the engine's internal parallelism.
	Threads int
}

// ApplyRequest describes one correction-application invocation.
type ApplyRequest struct {
	// Inputs are the images to correct; Indices holds the matching
	// acquisition-parameter row for each input.
	Inputs  []string
	Indices []int
	// AcqParams and TopupBase point at the estimation step's outputs.
	AcqParams string
	TopupBase string
	// Method selects the resampling scheme, normally "jac".
	Method string
	// Out is the corrected output image.
	Out string
}

// Engine is the distortion-correction engine contract.
type Engine interface {
	Estimate(ctx context.Context, req EstimateRequest, cfg EstimateConfig) error
	Apply(ctx context.Context, req ApplyRequest) error
}

// ImageOps are the black-box image arithmetic and introspection utilities
// the pipeline needs around the engine.
type ImageOps interface {
	// NumVolumes reports how many volumes an image holds.
	NumVolumes(ctx context.Context, path string) (int, error)
	// TemporalMean reduces a multi-volume image to its mean volume.
	TemporalMean(ctx context.Context, src, dst string) error
	// Normalize rewrites a single-volume image in the engine's preferred
	// format without changing its content.
	Normalize(ctx context.Context, src, dst string) error
	// Merge concatenates single-volume images along time.
	Merge(ctx context.Context, dst string, srcs ...string) error
	// AbsDiff writes the absolute voxel-wise difference of two images.
	AbsDiff(ctx context.Context, a, b, dst string) error
	// VolumeAbsDiff writes the absolute difference between the first two
	// volumes of one multi-volume image.
	VolumeAbsDiff(ctx context.Context, src, dst string) error
	// PixelSpacing reports the in-plane phase-encode pixel size in mm.
	PixelSpacing(ctx context.Context, path string) (float64, error)
	// Values returns the image's voxel values for statistics.
	Values(ctx context.Context, path string) ([]float64, error)
}
