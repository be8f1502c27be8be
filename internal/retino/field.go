package retino

import "fmt"

// Shape is the voxel-grid extent of a scan volume. All fields entering one
// conversion or aggregation share one Shape exactly; nothing here resamples.
type Shape struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Count returns the number of voxels in the shape.
func (s Shape) Count() int { return s.X * s.Y * s.Z }

// Valid reports whether every extent is positive.
func (s Shape) Valid() bool { return s.X > 0 && s.Y > 0 && s.Z > 0 }

func (s Shape) String() string { return fmt.Sprintf("%dx%dx%d", s.X, s.Y, s.Z) }

// Field is a dense per-voxel scalar volume: phase, coherence, or converted
// angle depending on context. Values are stored flat in x-fastest order.
type Field struct {
	Shape  Shape
	Values []float64 // len = Shape.Count()
}

// Helper to index Values: idx = (z*Y + y)*X + x
func (f *Field) Idx(x, y, z int) int { return (z*f.Shape.Y+y)*f.Shape.X + x }

// At returns the value at (x, y, z).
func (f *Field) At(x, y, z int) float64 { return f.Values[f.Idx(x, y, z)] }

// NewField allocates a zero-filled field of the given shape.
func NewField(shape Shape) (*Field, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("invalid field shape %s", shape)
	}
	return &Field{Shape: shape, Values: make([]float64, shape.Count())}, nil
}

// NewFieldFrom wraps an existing value slice, which must match the shape
// exactly. The slice is not copied.
func NewFieldFrom(shape Shape, values []float64) (*Field, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("invalid field shape %s", shape)
	}
	if len(values) != shape.Count() {
		return nil, fmt.Errorf("field values length %d does not match shape %s (%d voxels)",
			len(values), shape, shape.Count())
	}
	return &Field{Shape: shape, Values: values}, nil
}

// Clone returns an independent copy of the field.
func (f *Field) Clone() *Field {
	values := make([]float64, len(f.Values))
	copy(values, f.Values)
	return &Field{Shape: f.Shape, Values: values}
}

// SameShape reports whether two fields share an identical shape.
func (f *Field) SameShape(other *Field) bool {
	return f.Shape == other.Shape
}
