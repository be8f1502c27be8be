package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_RoundTrip(t *testing.T) {
	osfs := OSFileSystem{}
	path := filepath.Join(t.TempDir(), "volume.bin")

	if osfs.Exists(path) {
		t.Fatalf("expected %s to not exist yet", path)
	}

	if err := osfs.WriteFile(path, []byte("phase data"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if !osfs.Exists(path) {
		t.Error("expected file to exist after write")
	}

	data, err := osfs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "phase data" {
		t.Errorf("expected 'phase data', got %q", data)
	}

	info, err := osfs.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Name() != "volume.bin" {
		t.Errorf("expected name 'volume.bin', got %q", info.Name())
	}
	if info.Size() != int64(len("phase data")) {
		t.Errorf("expected size %d, got %d", len("phase data"), info.Size())
	}
}

func TestOSFileSystem_CreateAndOpen(t *testing.T) {
	osfs := OSFileSystem{}
	path := filepath.Join(t.TempDir(), "streamed.bin")

	w, err := osfs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("streamed ")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := w.Write([]byte("content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := osfs.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "streamed content" {
		t.Errorf("expected 'streamed content', got %q", data)
	}
}

func TestOSFileSystem_MkdirAll(t *testing.T) {
	osfs := OSFileSystem{}
	nested := filepath.Join(t.TempDir(), "subject-01", "session-02")

	if err := osfs.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if !osfs.Exists(nested) {
		t.Error("expected nested directory to exist")
	}
}

func TestMemFS_WriteAndRead(t *testing.T) {
	mfs := NewMemFS()

	if err := mfs.WriteFile("/scans/run0.bin", []byte("wedge cw"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/scans/run0.bin")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "wedge cw" {
		t.Errorf("expected 'wedge cw', got %q", data)
	}
}

func TestMemFS_CreateCommitsOnClose(t *testing.T) {
	mfs := NewMemFS()

	w, err := mfs.Create("/scans/run1.bin")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// The file is visible but empty until the writer is closed.
	data, err := mfs.ReadFile("/scans/run1.bin")
	if err != nil {
		t.Fatalf("ReadFile before Close failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty file before Close, got %q", data)
	}

	if _, err := w.Write([]byte(" volume")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err = mfs.ReadFile("/scans/run1.bin")
	if err != nil {
		t.Fatalf("ReadFile after Close failed: %v", err)
	}
	if string(data) != "partial volume" {
		t.Errorf("expected 'partial volume', got %q", data)
	}
}

func TestMemFS_OpenServesSnapshot(t *testing.T) {
	mfs := NewMemFS()

	if err := mfs.WriteFile("/map.bin", []byte("first"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f, err := mfs.Open("/map.bin")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	if err := mfs.WriteFile("/map.bin", []byte("second"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "first" {
		t.Errorf("open reader should see the snapshot 'first', got %q", data)
	}

	info, err := f.Stat()
	if err != nil {
		t.Fatalf("reader Stat failed: %v", err)
	}
	if info.Name() != "map.bin" {
		t.Errorf("expected name 'map.bin', got %q", info.Name())
	}
	if info.Size() != int64(len("first")) {
		t.Errorf("expected snapshot size %d, got %d", len("first"), info.Size())
	}
}

func TestMemFS_MissingFile(t *testing.T) {
	mfs := NewMemFS()

	if _, err := mfs.Open("/no-such-scan.bin"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open: expected fs.ErrNotExist, got %v", err)
	}
	if _, err := mfs.ReadFile("/no-such-scan.bin"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile: expected fs.ErrNotExist, got %v", err)
	}
	if _, err := mfs.Stat("/no-such-scan.bin"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat: expected fs.ErrNotExist, got %v", err)
	}
}

func TestMemFS_StatFileAndDir(t *testing.T) {
	mfs := NewMemFS()

	if err := mfs.WriteFile("/data/run0.bin", []byte("volume"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := mfs.MkdirAll("/data/derived", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	info, err := mfs.Stat("/data/run0.bin")
	if err != nil {
		t.Fatalf("Stat file failed: %v", err)
	}
	if info.IsDir() {
		t.Error("expected a file, not a directory")
	}
	if info.Mode() != 0o600 {
		t.Errorf("expected mode 0600, got %v", info.Mode())
	}

	dirInfo, err := mfs.Stat("/data/derived")
	if err != nil {
		t.Fatalf("Stat dir failed: %v", err)
	}
	if !dirInfo.IsDir() {
		t.Error("expected a directory")
	}
}

func TestMemFS_MkdirAllMarksParents(t *testing.T) {
	mfs := NewMemFS()

	if err := mfs.MkdirAll("/data/subject-01/session-02", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	for _, dir := range []string{"/data/subject-01/session-02", "/data/subject-01", "/data"} {
		if !mfs.Exists(dir) {
			t.Errorf("expected %s to exist", dir)
		}
	}
}

func TestMemFS_PathCleaning(t *testing.T) {
	mfs := NewMemFS()

	if err := mfs.WriteFile("./scans/../run0.bin", []byte("clean"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("run0.bin")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "clean" {
		t.Errorf("expected 'clean', got %q", data)
	}
}

func TestMemFS_DataIsolation(t *testing.T) {
	mfs := NewMemFS()

	original := []byte("original")
	if err := mfs.WriteFile("/iso.bin", original, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	original[0] = 'X'

	data, err := mfs.ReadFile("/iso.bin")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if data[0] != 'o' {
		t.Error("stored data should be isolated from the caller's slice")
	}

	data[0] = 'Y'
	again, err := mfs.ReadFile("/iso.bin")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if again[0] != 'o' {
		t.Error("returned data should be isolated from later mutation")
	}
}
