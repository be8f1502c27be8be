package retinodb

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/meridian-data/retinotopy.report/internal/retino"
)

// setupTestDB opens a fully migrated scratch database that is closed when
// the test finishes.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// setupEmptyTestDB opens a scratch database with no schema applied.
func setupEmptyTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// setupTestMigrations writes a two-step toy migration set and returns it as
// a filesystem, for migration tests that should not depend on the real
// schema.
func setupTestMigrations(t *testing.T) fs.FS {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"000001_create_scan_log.up.sql":   "CREATE TABLE scan_log (id INTEGER PRIMARY KEY, note TEXT);",
		"000001_create_scan_log.down.sql": "DROP TABLE scan_log;",
		"000002_add_note_index.up.sql":    "CREATE INDEX scan_log_note_idx ON scan_log (note);",
		"000002_add_note_index.down.sql":  "DROP INDEX scan_log_note_idx;",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write migration %s: %v", name, err)
		}
	}
	return os.DirFS(dir)
}

// makeBlobField builds a small deterministic field for blob round trips.
func makeBlobField(t *testing.T, shape retino.Shape, base float64) *retino.Field {
	t.Helper()
	f, err := retino.NewField(shape)
	if err != nil {
		t.Fatalf("NewField failed: %v", err)
	}
	for i := range f.Values {
		f.Values[i] = base + float64(i)*0.01
	}
	return f
}

// insertTestAnalysis stores one scan's phase and coherence volumes and
// returns the stored record.
func insertTestAnalysis(t *testing.T, db *DB, dataset string, scanIndex int, base float64) *HarmonicAnalysis {
	t.Helper()
	shape := retino.Shape{X: 4, Y: 3, Z: 2}
	phase := makeBlobField(t, shape, base)
	coherence := makeBlobField(t, shape, base/10)

	phaseBlob, err := retino.SerializeField(phase)
	if err != nil {
		t.Fatalf("SerializeField(phase) failed: %v", err)
	}
	cohBlob, err := retino.SerializeField(coherence)
	if err != nil {
		t.Fatalf("SerializeField(coherence) failed: %v", err)
	}

	a := &HarmonicAnalysis{
		Dataset:       dataset,
		DataType:      "polar",
		ScanIndex:     scanIndex,
		Annotation:    "test scan",
		Shape:         shape,
		PhaseBlob:     phaseBlob,
		CoherenceBlob: cohBlob,
	}
	if err := db.InsertAnalysis(a); err != nil {
		t.Fatalf("InsertAnalysis failed: %v", err)
	}
	return a
}
