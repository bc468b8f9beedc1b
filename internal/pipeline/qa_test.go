package pipeline

import (
	"math"
	"testing"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAbsStatsFoldsSign(t *testing.T) {
	stats, err := absStats([]float64{-4, 1, -2, 3})
	if err != nil {
		t.Fatalf("absStats: %v", err)
	}
	if !almost(stats.Mean, 2.5) {
		t.Fatalf("Mean = %v, want 2.5", stats.Mean)
	}
	if !almost(stats.Min, 1) || !almost(stats.Max, 4) {
		t.Fatalf("range = [%v, %v], want [1, 4]", stats.Min, stats.Max)
	}
	if stats.Median < 1 || stats.Median > 4 {
		t.Fatalf("Median = %v out of range", stats.Median)
	}
	if stats.P99 < stats.P95 || stats.Max < stats.P99 {
		t.Fatalf("percentiles not ordered: %+v", stats)
	}
}

func TestFieldStatsKeepsSign(t *testing.T) {
	stats, err := fieldStats([]float64{-10, 0, 10})
	if err != nil {
		t.Fatalf("fieldStats: %v", err)
	}
	if !almost(stats.Mean, 0) {
		t.Fatalf("Mean = %v, want 0", stats.Mean)
	}
	if !almost(stats.Min, -10) || !almost(stats.Max, 10) {
		t.Fatalf("range = [%v, %v], want [-10, 10]", stats.Min, stats.Max)
	}
}

func TestStatsRejectEmptyInput(t *testing.T) {
	if _, err := absStats(nil); err == nil {
		t.Fatal("absStats(nil) should error")
	}
	if _, err := fieldStats(nil); err == nil {
		t.Fatal("fieldStats(nil) should error")
	}
}

func TestScale(t *testing.T) {
	// Field in Hz times readout time gives shift in voxels; times pixel
	// spacing gives millimetres.
	got := scale([]float64{100, -50}, 0.05)
	if !almost(got[0], 5) || !almost(got[1], -2.5) {
		t.Fatalf("scale = %v, want [5 -2.5]", got)
	}
}
