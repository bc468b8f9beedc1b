package pipeline

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Stats summarizes the absolute values of one QA quantity.
type Stats struct {
	Mean   float64
	Median float64
	P95    float64
	P99    float64
	Min    float64
	Max    float64
	Std    float64
}

func (s Stats) String() string {
	return fmt.Sprintf("mean=%.4f median=%.4f p95=%.4f p99=%.4f range=[%.4f, %.4f] std=%.4f",
		s.Mean, s.Median, s.P95, s.P99, s.Min, s.Max, s.Std)
}

// absStats computes percentile statistics over the absolute values of the
// given samples.
func absStats(values []float64) (Stats, error) {
	if len(values) == 0 {
		return Stats{}, fmt.Errorf("qa: no samples")
	}
	abs := make([]float64, len(values))
	for i, v := range values {
		abs[i] = math.Abs(v)
	}
	sort.Float64s(abs)
	return Stats{
		Mean:   stat.Mean(abs, nil),
		Median: stat.Quantile(0.5, stat.Empirical, abs, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, abs, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, abs, nil),
		Min:    abs[0],
		Max:    abs[len(abs)-1],
		Std:    stat.StdDev(abs, nil),
	}, nil
}

// fieldStats summarizes the raw field map without the absolute-value fold:
// the field is signed and its range is diagnostic.
func fieldStats(values []float64) (Stats, error) {
	if len(values) == 0 {
		return Stats{}, fmt.Errorf("qa: no samples")
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return Stats{
		Mean:   stat.Mean(sorted, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, sorted, nil),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Std:    stat.StdDev(sorted, nil),
	}, nil
}

// scale multiplies every sample, used to turn the field map (Hz) into
// voxel-shift values (field * readout time) and physical shifts
// (additionally scaled by the in-plane pixel spacing).
func scale(values []float64, factor float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * factor
	}
	return out
}
