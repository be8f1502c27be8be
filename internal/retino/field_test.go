package retino

import "testing"

func TestNewField(t *testing.T) {
	f, err := NewField(Shape{X: 4, Y: 3, Z: 2})
	if err != nil {
		t.Fatalf("NewField: %v", err)
	}
	if len(f.Values) != 24 {
		t.Errorf("len(Values) = %d, want 24", len(f.Values))
	}

	if _, err := NewField(Shape{X: 0, Y: 3, Z: 2}); err == nil {
		t.Error("expected error for zero extent")
	}
	if _, err := NewField(Shape{X: 4, Y: -1, Z: 2}); err == nil {
		t.Error("expected error for negative extent")
	}
}

func TestNewFieldFrom_LengthMismatch(t *testing.T) {
	if _, err := NewFieldFrom(Shape{X: 2, Y: 2, Z: 2}, make([]float64, 7)); err == nil {
		t.Error("expected error for short values slice")
	}
	if _, err := NewFieldFrom(Shape{X: 2, Y: 2, Z: 2}, make([]float64, 8)); err != nil {
		t.Errorf("unexpected error for exact-length slice: %v", err)
	}
}

func TestFieldIndexing(t *testing.T) {
	shape := Shape{X: 3, Y: 2, Z: 2}
	f, err := NewField(shape)
	if err != nil {
		t.Fatalf("NewField: %v", err)
	}

	// x varies fastest, then y, then z
	if idx := f.Idx(0, 0, 0); idx != 0 {
		t.Errorf("Idx(0,0,0) = %d, want 0", idx)
	}
	if idx := f.Idx(1, 0, 0); idx != 1 {
		t.Errorf("Idx(1,0,0) = %d, want 1", idx)
	}
	if idx := f.Idx(0, 1, 0); idx != 3 {
		t.Errorf("Idx(0,1,0) = %d, want 3", idx)
	}
	if idx := f.Idx(0, 0, 1); idx != 6 {
		t.Errorf("Idx(0,0,1) = %d, want 6", idx)
	}
	if idx := f.Idx(2, 1, 1); idx != shape.Count()-1 {
		t.Errorf("Idx(2,1,1) = %d, want %d", idx, shape.Count()-1)
	}

	f.Values[f.Idx(2, 0, 1)] = 42
	if got := f.At(2, 0, 1); got != 42 {
		t.Errorf("At(2,0,1) = %g, want 42", got)
	}
}

func TestFieldClone(t *testing.T) {
	f, err := NewFieldFrom(Shape{X: 2, Y: 1, Z: 1}, []float64{1.5, 2.5})
	if err != nil {
		t.Fatalf("NewFieldFrom: %v", err)
	}

	c := f.Clone()
	if !c.SameShape(f) {
		t.Fatalf("clone shape %s != %s", c.Shape, f.Shape)
	}
	c.Values[0] = 99
	if f.Values[0] != 1.5 {
		t.Errorf("mutating clone changed original: %g", f.Values[0])
	}
}

func TestShapeString(t *testing.T) {
	if got := (Shape{X: 64, Y: 64, Z: 30}).String(); got != "64x64x30" {
		t.Errorf("String() = %q", got)
	}
}
