package retino

import (
	"fmt"
	"math"
)

// AngleRange is the target angular interval, in degrees clockwise from the
// upper vertical meridian, that a scan's phase cycle maps onto. End < Start
// is legal and encodes a reversed (counterclockwise) stimulus traversal;
// Start == End collapses every phase to a single angle. No wraparound
// normalization is applied anywhere: values outside [0, 360) pass through
// untouched.
type AngleRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (r AngleRange) String() string { return fmt.Sprintf("[%g, %g]", r.Start, r.End) }

// Reversed reports whether the range encodes a counterclockwise traversal.
func (r AngleRange) Reversed() bool { return r.End < r.Start }

// phaseToAngle maps one phase value in [0, 2π) onto r. Pure affine: no
// clamping, so numerical slop outside the phase cycle extrapolates linearly.
func phaseToAngle(p float64, r AngleRange) float64 {
	return r.Start + (p/(2*math.Pi))*(r.End-r.Start)
}

// PhaseToAngle rescales a phase field from [0, 2π) onto the angle range,
// returning a fresh field of identical shape. Total function: every input
// value has a defined image, including reversed and degenerate ranges.
func PhaseToAngle(phase *Field, r AngleRange) *Field {
	out := &Field{Shape: phase.Shape, Values: make([]float64, len(phase.Values))}
	for i, p := range phase.Values {
		out.Values[i] = phaseToAngle(p, r)
	}
	return out
}
