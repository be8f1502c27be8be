package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/meridian-data/retinotopy.report/internal/fsutil"
	"github.com/meridian-data/retinotopy.report/internal/retino"
	"github.com/meridian-data/retinotopy.report/internal/retinodb"
)

var pngMagic = []byte("\x89PNG")

func buildTestResult(t *testing.T) *retino.AggregateResult {
	t.Helper()
	shape := retino.Shape{X: 2, Y: 2, Z: 2}
	angles, err := retino.NewFieldFrom(shape, []float64{0, 90, 180, 270, 45, 135, 225, 315})
	if err != nil {
		t.Fatalf("NewFieldFrom(angles) failed: %v", err)
	}
	coh, err := retino.NewFieldFrom(shape, []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2})
	if err != nil {
		t.Fatalf("NewFieldFrom(coherence) failed: %v", err)
	}
	return &retino.AggregateResult{Map: angles, Coherence: coh}
}

func writeResultFixture(t *testing.T, fsys fsutil.FileSystem, path string, res *retino.AggregateResult) {
	t.Helper()
	w, err := fsys.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := retino.WriteResult(w, res); err != nil {
		t.Fatalf("WriteResult failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading rendered file failed: %v", err)
	}
	if !bytes.HasPrefix(data, pngMagic) {
		t.Errorf("expected a PNG file at %s", path)
	}
}

func TestRunRender_FromFile(t *testing.T) {
	mfs := fsutil.NewMemFS()
	writeResultFixture(t, mfs, "/maps/res.bin", buildTestResult(t))
	out := filepath.Join(t.TempDir(), "slice.png")

	got, err := RunRender(nil, mfs, RenderOptions{InFile: "/maps/res.bin", OutFile: out, Slice: -1})
	if err != nil {
		t.Fatalf("RunRender failed: %v", err)
	}
	if got != out {
		t.Errorf("expected output path %s, got %s", out, got)
	}
	assertPNG(t, out)
}

func TestRunRender_FromDB(t *testing.T) {
	db, err := retinodb.NewDB(filepath.Join(t.TempDir(), "render-test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	res := buildTestResult(t)
	mapID, err := retino.PersistResult(db, res, retino.MapMeta{
		Dataset: "rm-subj", Name: "render probe", ScanCount: 1, ColorMap: "hsv",
	})
	if err != nil {
		t.Fatalf("PersistResult failed: %v", err)
	}

	out := filepath.Join(t.TempDir(), "stored.png")
	got, err := RunRender(db, fsutil.OSFileSystem{}, RenderOptions{MapID: mapID, OutFile: out, Slice: 0})
	if err != nil {
		t.Fatalf("RunRender failed: %v", err)
	}
	assertPNG(t, got)
}

func TestRunRender_DerivedOutputName(t *testing.T) {
	t.Chdir(t.TempDir())

	mfs := fsutil.NewMemFS()
	writeResultFixture(t, mfs, "/maps/late session.bin", buildTestResult(t))

	got, err := RunRender(nil, mfs, RenderOptions{InFile: "/maps/late session.bin", Slice: -1})
	if err != nil {
		t.Fatalf("RunRender failed: %v", err)
	}
	if got != "late_session-z1.png" {
		t.Errorf("expected derived name late_session-z1.png, got %s", got)
	}
	assertPNG(t, got)
}

func TestRunRender_SliceOutOfRange(t *testing.T) {
	mfs := fsutil.NewMemFS()
	writeResultFixture(t, mfs, "/maps/res.bin", buildTestResult(t))

	_, err := RunRender(nil, mfs, RenderOptions{
		InFile:  "/maps/res.bin",
		OutFile: filepath.Join(t.TempDir(), "bad.png"),
		Slice:   5,
	})
	if err == nil {
		t.Fatal("expected an out of range slice to fail")
	}
	if !strings.Contains(err.Error(), "out of range") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunRender_RejectsStrayOutputPath(t *testing.T) {
	mfs := fsutil.NewMemFS()
	writeResultFixture(t, mfs, "/maps/res.bin", buildTestResult(t))

	_, err := RunRender(nil, mfs, RenderOptions{
		InFile:  "/maps/res.bin",
		OutFile: "/no-such-root/out.png",
		Slice:   0,
	})
	if err == nil {
		t.Fatal("expected an output path outside temp and cwd to be rejected")
	}
	if !strings.Contains(err.Error(), "output path") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunRender_SourceValidation(t *testing.T) {
	mfs := fsutil.NewMemFS()

	if _, err := RunRender(nil, mfs, RenderOptions{MapID: 1, InFile: "/x.bin"}); err == nil ||
		!strings.Contains(err.Error(), "use only one") {
		t.Errorf("expected a conflicting source error, got: %v", err)
	}
	if _, err := RunRender(nil, mfs, RenderOptions{}); err == nil ||
		!strings.Contains(err.Error(), "is required") {
		t.Errorf("expected a missing source error, got: %v", err)
	}
}

func TestRunRender_MapNotFound(t *testing.T) {
	db, err := retinodb.NewDB(filepath.Join(t.TempDir(), "render-missing.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = RunRender(db, fsutil.OSFileSystem{}, RenderOptions{MapID: 9999})
	if !errors.Is(err, retinodb.ErrMapNotFound) {
		t.Errorf("expected ErrMapNotFound, got: %v", err)
	}
}
