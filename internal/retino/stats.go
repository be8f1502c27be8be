package retino

import (
	"fmt"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// FieldSummary carries the scalar statistics reported for one field in API
// responses and tool output.
type FieldSummary struct {
	Voxels int     `json:"voxels"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
}

// Summary computes summary statistics over a field's voxel values.
func Summary(f *Field) (FieldSummary, error) {
	s := FieldSummary{Voxels: len(f.Values)}

	mean, err := stats.Mean(f.Values)
	if err != nil {
		return s, fmt.Errorf("field mean: %w", err)
	}
	stdDev, err := stats.StandardDeviation(f.Values)
	if err != nil {
		return s, fmt.Errorf("field std dev: %w", err)
	}
	min, err := stats.Min(f.Values)
	if err != nil {
		return s, fmt.Errorf("field min: %w", err)
	}
	max, err := stats.Max(f.Values)
	if err != nil {
		return s, fmt.Errorf("field max: %w", err)
	}
	median, err := stats.Median(f.Values)
	if err != nil {
		return s, fmt.Errorf("field median: %w", err)
	}

	s.Mean = mean
	s.StdDev = stdDev
	s.Min = min
	s.Max = max
	s.Median = median
	return s, nil
}

// Correlate returns the Pearson correlation between two same-shape fields.
// Used to compare coherence volumes across scans of one session.
func Correlate(a, b *Field) (float64, error) {
	if a.Shape != b.Shape {
		return 0, &ShapeMismatchError{ScanIndex: 1, FieldName: "coherence", Got: b.Shape, Want: a.Shape}
	}
	return stat.Correlation(a.Values, b.Values, nil), nil
}

// CoverageAboveThreshold returns the fraction of voxels whose value meets or
// exceeds min. Display layers use it to report how much of a map survives a
// coherence mask.
func CoverageAboveThreshold(f *Field, min float64) float64 {
	if len(f.Values) == 0 {
		return 0
	}
	count := 0
	for _, v := range f.Values {
		if v >= min {
			count++
		}
	}
	return float64(count) / float64(len(f.Values))
}
