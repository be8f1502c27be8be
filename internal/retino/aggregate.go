package retino

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/meridian-data/retinotopy.report/internal/monitoring"
)

// ErrNoScans reports an empty scan list; aggregation requires N >= 1.
var ErrNoScans = errors.New("aggregation requires at least one scan")

// ShapeMismatchError reports a voxel-grid shape disagreement between scans.
// It is raised before any voxel values are touched.
type ShapeMismatchError struct {
	ScanIndex int
	FieldName string // "phase", "coherence", or "angles"
	Got       Shape
	Want      Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("scan %d %s field shape %s does not match scan 0 shape %s",
		e.ScanIndex, e.FieldName, e.Got, e.Want)
}

// ConvertedScan is one scan after phase conversion: its angle field and the
// coherence field that scores it.
type ConvertedScan struct {
	Angles    *Field
	Coherence *Field
}

// ScanObservation carries everything needed to convert one scan: the fitted
// phase field, its coherence field, and the resolved target angle range.
type ScanObservation struct {
	Phase     *Field
	Coherence *Field
	Range     AngleRange
}

// RawScan is a scan before range resolution, as loaded from storage.
type RawScan struct {
	Ref       ScanRef
	Phase     *Field
	Coherence *Field
}

// AggregateResult is the merged per-voxel consensus: Map holds the winning
// angle and Coherence the coherence that won it, voxel for voxel.
type AggregateResult struct {
	Map       *Field
	Coherence *Field
}

// parallelThreshold is the voxel count above which aggregation fans out
// across worker goroutines. Below it the fan-out costs more than the loops.
var parallelThreshold = 1 << 16

// SetParallelThreshold overrides the voxel count at which aggregation goes
// parallel. Call once at startup, before any aggregation runs; n < 1 restores
// the built-in default.
func SetParallelThreshold(n int) {
	if n < 1 {
		n = 1 << 16
	}
	parallelThreshold = n
}

// Aggregate merges converted scans into one consensus map by per-voxel
// winner-take-all on coherence.
//
// The merged coherence at each voxel is the maximum across scans of that
// scan's coherence there. The merged angle is taken verbatim from a scan
// achieving that maximum; scans are applied in increasing index order, so at
// tied voxels the highest-indexed scan wins. Equality against the running
// maximum is exact float comparison, never epsilon-based: the maximum is a
// copy of one of the compared values, so the winning scan always matches
// bit-for-bit, and a tolerance would change which scan wins near-ties.
//
// N == 1 short-circuits to an element-for-element copy of the single scan.
// An empty list or any shape disagreement fails before any voxel is read.
// Inputs are never aliased into the result.
func Aggregate(scans []ConvertedScan) (*AggregateResult, error) {
	if len(scans) == 0 {
		return nil, ErrNoScans
	}
	want := scans[0].Angles.Shape
	for i, s := range scans {
		if s.Angles.Shape != want {
			return nil, &ShapeMismatchError{ScanIndex: i, FieldName: "angles", Got: s.Angles.Shape, Want: want}
		}
		if s.Coherence.Shape != want {
			return nil, &ShapeMismatchError{ScanIndex: i, FieldName: "coherence", Got: s.Coherence.Shape, Want: want}
		}
	}

	// Single scan: nothing to compare against, so the merge degenerates to
	// identity and the multi-scan machinery is skipped entirely.
	if len(scans) == 1 {
		return &AggregateResult{
			Map:       scans[0].Angles.Clone(),
			Coherence: scans[0].Coherence.Clone(),
		}, nil
	}

	start := time.Now()
	n := want.Count()
	mapVals := make([]float64, n)
	covol := make([]float64, n)

	if n < parallelThreshold {
		aggregateRange(scans, mapVals, covol, 0, n)
	} else {
		aggregateParallel(scans, mapVals, covol, n)
	}

	monitoring.Debugf("[Aggregate] merged %d scans over %s (%d voxels) in %v",
		len(scans), want, n, time.Since(start))

	return &AggregateResult{
		Map:       &Field{Shape: want, Values: mapVals},
		Coherence: &Field{Shape: want, Values: covol},
	}, nil
}

// aggregateRange runs the winner-take-all merge for voxels in [lo, hi).
// Pass 1 computes the elementwise coherence maximum; pass 2 walks scans in
// increasing index order and overwrites the map wherever a scan's coherence
// equals that maximum exactly, so the highest-indexed maximal scan ends up
// owning each voxel. Voxels outside [lo, hi) are never touched, which keeps
// concurrent chunk workers disjoint.
func aggregateRange(scans []ConvertedScan, mapVals, covol []float64, lo, hi int) {
	copy(covol[lo:hi], scans[0].Coherence.Values[lo:hi])
	for _, s := range scans[1:] {
		vals := s.Coherence.Values
		for v := lo; v < hi; v++ {
			if vals[v] > covol[v] {
				covol[v] = vals[v]
			}
		}
	}

	for _, s := range scans {
		coh := s.Coherence.Values
		ang := s.Angles.Values
		for v := lo; v < hi; v++ {
			if coh[v] == covol[v] {
				mapVals[v] = ang[v]
			}
		}
	}
}

// aggregateParallel splits the voxel index space into one contiguous chunk
// per worker. Each chunk runs both merge passes independently; the scan-order
// tie-break is preserved because every voxel is decided wholly inside one
// chunk.
func aggregateParallel(scans []ConvertedScan, mapVals, covol []float64, n int) {
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			aggregateRange(scans, mapVals, covol, lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

// CombineScans converts each observation's phase field with its resolved
// range, then aggregates the results. Shape preconditions (phase vs
// coherence, and across scans) are all checked before any conversion runs,
// so a late mismatch can never leave partially converted output behind.
func CombineScans(scans []ScanObservation) (*AggregateResult, error) {
	if len(scans) == 0 {
		return nil, ErrNoScans
	}
	want := scans[0].Phase.Shape
	for i, s := range scans {
		if s.Phase.Shape != want {
			return nil, &ShapeMismatchError{ScanIndex: i, FieldName: "phase", Got: s.Phase.Shape, Want: want}
		}
		if s.Coherence.Shape != want {
			return nil, &ShapeMismatchError{ScanIndex: i, FieldName: "coherence", Got: s.Coherence.Shape, Want: want}
		}
	}

	converted := make([]ConvertedScan, len(scans))
	for i, s := range scans {
		converted[i] = ConvertedScan{
			Angles:    PhaseToAngle(s.Phase, s.Range),
			Coherence: s.Coherence,
		}
	}
	return Aggregate(converted)
}

// BuildMap resolves one angle range per scan in scan order, then converts
// and aggregates. A resolver cancellation aborts before any conversion with
// ErrRangeCancelled passed through untouched; nothing partial escapes.
func BuildMap(scans []RawScan, resolver RangeResolver) (*AggregateResult, error) {
	if len(scans) == 0 {
		return nil, ErrNoScans
	}
	if resolver == nil {
		return nil, errors.New("nil range resolver")
	}

	obs := make([]ScanObservation, len(scans))
	for i, s := range scans {
		r, err := resolver.Resolve(s.Ref)
		if err != nil {
			if errors.Is(err, ErrRangeCancelled) {
				return nil, err
			}
			return nil, fmt.Errorf("resolving range for scan %d: %w", i, err)
		}
		obs[i] = ScanObservation{Phase: s.Phase, Coherence: s.Coherence, Range: r}
	}
	return CombineScans(obs)
}
