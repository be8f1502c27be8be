package retino

import (
	"math"
	"testing"
)

func TestSummary(t *testing.T) {
	f := makeTestField(t, 1, 2, 3, 4, 5)
	s, err := Summary(f)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if s.Voxels != 5 {
		t.Errorf("voxels = %d, want 5", s.Voxels)
	}
	if math.Abs(s.Mean-3) > 1e-12 {
		t.Errorf("mean = %v, want 3", s.Mean)
	}
	if math.Abs(s.Median-3) > 1e-12 {
		t.Errorf("median = %v, want 3", s.Median)
	}
	if s.Min != 1 || s.Max != 5 {
		t.Errorf("min/max = %v/%v, want 1/5", s.Min, s.Max)
	}
	if math.Abs(s.StdDev-math.Sqrt(2)) > 1e-9 {
		t.Errorf("stddev = %v, want sqrt(2)", s.StdDev)
	}
}

func TestCorrelate(t *testing.T) {
	a := makeTestField(t, 1, 2, 3, 4)
	b := makeTestField(t, 2, 4, 6, 8)
	r, err := Correlate(a, b)
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if math.Abs(r-1) > 1e-12 {
		t.Errorf("correlation = %v, want 1", r)
	}

	c := makeTestField(t, 8, 6, 4, 2)
	r, err = Correlate(a, c)
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if math.Abs(r+1) > 1e-12 {
		t.Errorf("correlation = %v, want -1", r)
	}
}

func TestCorrelate_ShapeMismatch(t *testing.T) {
	a := makeTestField(t, 1, 2, 3)
	b := makeTestField(t, 1, 2)
	if _, err := Correlate(a, b); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestCoverageAboveThreshold(t *testing.T) {
	f := makeTestField(t, 0.1, 0.25, 0.25, 0.9)

	if got := CoverageAboveThreshold(f, 0.25); got != 0.75 {
		t.Errorf("coverage at 0.25 = %v, want 0.75 (threshold is inclusive)", got)
	}
	if got := CoverageAboveThreshold(f, 0.95); got != 0 {
		t.Errorf("coverage at 0.95 = %v, want 0", got)
	}
	if got := CoverageAboveThreshold(f, 0); got != 1 {
		t.Errorf("coverage at 0 = %v, want 1", got)
	}
}
