package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/meridian-data/retinotopy.report/internal/fsutil"
	"github.com/meridian-data/retinotopy.report/internal/retino"
	"github.com/meridian-data/retinotopy.report/internal/retinodb"
)

func setupImportDB(t *testing.T) *retinodb.DB {
	t.Helper()
	db, err := retinodb.NewDB(filepath.Join(t.TempDir(), "import-test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func writeScanFixture(t *testing.T, fsys fsutil.FileSystem, path string, ref retino.ScanRef, phase, coherence []float64) *retino.RawScan {
	t.Helper()
	shape := retino.Shape{X: len(phase), Y: 1, Z: 1}
	pf, err := retino.NewFieldFrom(shape, phase)
	if err != nil {
		t.Fatalf("NewFieldFrom(phase) failed: %v", err)
	}
	cf, err := retino.NewFieldFrom(shape, coherence)
	if err != nil {
		t.Fatalf("NewFieldFrom(coherence) failed: %v", err)
	}
	scan := &retino.RawScan{Ref: ref, Phase: pf, Coherence: cf}

	w, err := fsys.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := retino.WriteScan(w, scan); err != nil {
		t.Fatalf("WriteScan failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return scan
}

func TestRunImport_StoresScan(t *testing.T) {
	db := setupImportDB(t)
	mfs := fsutil.NewMemFS()
	ref := retino.ScanRef{DataType: "polar", ScanIndex: 0, Annotation: "wedge cw"}
	scan := writeScanFixture(t, mfs, "/inbox/run0.scan", ref, []float64{0, 1.5, 3}, []float64{0.9, 0.8, 0.7})

	rec, err := RunImport(mfs, db, ImportOptions{
		File: "/inbox/run0.scan", Dataset: "subject-77", ScanIndex: -1,
	})
	if err != nil {
		t.Fatalf("RunImport failed: %v", err)
	}
	if rec.ID == 0 {
		t.Error("expected stored analysis to have an ID")
	}
	if rec.Dataset != "subject-77" || rec.DataType != "polar" || rec.ScanIndex != 0 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Annotation != "wedge cw" {
		t.Errorf("expected file annotation kept, got %q", rec.Annotation)
	}

	loaded, err := db.LoadScans("subject-77", "polar")
	if err != nil {
		t.Fatalf("LoadScans failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 stored scan, got %d", len(loaded))
	}
	if diff := cmp.Diff(scan.Phase, loaded[0].Phase); diff != "" {
		t.Errorf("phase volume mismatch (-imported +stored):\n%s", diff)
	}
	if diff := cmp.Diff(scan.Coherence, loaded[0].Coherence); diff != "" {
		t.Errorf("coherence volume mismatch (-imported +stored):\n%s", diff)
	}
}

func TestRunImport_Overrides(t *testing.T) {
	db := setupImportDB(t)
	mfs := fsutil.NewMemFS()
	ref := retino.ScanRef{DataType: "polar", ScanIndex: 0, Annotation: "original"}
	writeScanFixture(t, mfs, "/inbox/run0.scan", ref, []float64{1, 2}, []float64{0.5, 0.6})

	rec, err := RunImport(mfs, db, ImportOptions{
		File:       "/inbox/run0.scan",
		Dataset:    "subject-78",
		DataType:   "eccentricity",
		ScanIndex:  4,
		Annotation: "ring sweep",
	})
	if err != nil {
		t.Fatalf("RunImport failed: %v", err)
	}
	if rec.DataType != "eccentricity" || rec.ScanIndex != 4 || rec.Annotation != "ring sweep" {
		t.Errorf("overrides not applied: %+v", rec)
	}
}

func TestRunImport_DuplicateAndReplace(t *testing.T) {
	db := setupImportDB(t)
	mfs := fsutil.NewMemFS()
	ref := retino.ScanRef{DataType: "polar", ScanIndex: 2}
	writeScanFixture(t, mfs, "/inbox/run2.scan", ref, []float64{1}, []float64{0.4})

	opts := ImportOptions{File: "/inbox/run2.scan", Dataset: "subject-79", ScanIndex: -1}
	if _, err := RunImport(mfs, db, opts); err != nil {
		t.Fatalf("first import failed: %v", err)
	}

	_, err := RunImport(mfs, db, opts)
	if err == nil {
		t.Fatal("expected duplicate import to fail")
	}
	if !strings.Contains(err.Error(), "-replace") {
		t.Errorf("expected a -replace hint, got: %v", err)
	}

	opts.Replace = true
	if _, err := RunImport(mfs, db, opts); err != nil {
		t.Fatalf("replace import failed: %v", err)
	}

	rows, err := db.ListAnalyses("subject-79")
	if err != nil {
		t.Fatalf("ListAnalyses failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected a single analysis after replace, got %d", len(rows))
	}
}

func TestRunImport_RejectsPathOutsideRoot(t *testing.T) {
	db := setupImportDB(t)
	mfs := fsutil.NewMemFS()
	root := t.TempDir()

	_, err := RunImport(mfs, db, ImportOptions{
		File:     filepath.Join(root, "..", "escape.scan"),
		DataRoot: root,
		Dataset:  "subject-80",
	})
	if err == nil {
		t.Fatal("expected an import outside the data root to be rejected")
	}
	if !strings.Contains(err.Error(), "escapes") {
		t.Errorf("expected a traversal error, got: %v", err)
	}
}

func TestRunImport_GarbageFile(t *testing.T) {
	db := setupImportDB(t)
	mfs := fsutil.NewMemFS()
	if err := mfs.WriteFile("/inbox/garbage.scan", []byte("not a scan file"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := RunImport(mfs, db, ImportOptions{File: "/inbox/garbage.scan", Dataset: "subject-81"})
	if err == nil {
		t.Fatal("expected a garbage scan file to be rejected")
	}
}

func TestRunImport_Validation(t *testing.T) {
	db := setupImportDB(t)
	mfs := fsutil.NewMemFS()

	if _, err := RunImport(mfs, db, ImportOptions{File: "/inbox/x.scan"}); err == nil {
		t.Error("expected missing dataset to be rejected")
	}
	if _, err := RunImport(mfs, db, ImportOptions{Dataset: "subject-82"}); err == nil {
		t.Error("expected missing file to be rejected")
	}
	if _, err := RunImport(mfs, db, ImportOptions{File: "/inbox/missing.scan", Dataset: "subject-82"}); err == nil {
		t.Error("expected a missing scan file to be rejected")
	}
}
