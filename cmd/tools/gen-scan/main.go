// Command gen-scan writes synthetic harmonic-analysis scan files for
// exercising the import and map-build pipeline without a scanner session.
package main

import (
	"flag"
	"log"
	"path/filepath"

	"github.com/meridian-data/retinotopy.report/internal/fsutil"
	"github.com/meridian-data/retinotopy.report/internal/retino"
)

func main() {
	output := flag.String("o", "sample.scan", "output path; multi-scan runs insert the scan index before the extension")
	dimX := flag.Int("x", 32, "volume width in voxels")
	dimY := flag.Int("y", 32, "volume height in voxels")
	dimZ := flag.Int("z", 16, "volume depth in slices")
	seed := flag.Int64("seed", 1, "random seed; the same seed reproduces the same volumes")
	count := flag.Int("count", 1, "number of scans to generate")
	firstIndex := flag.Int("scan", 0, "scan index of the first generated scan")
	dataType := flag.String("type", "polar", "data type recorded in each scan")
	annotation := flag.String("annotation", "synthetic wedge sweep", "annotation recorded in each scan")
	flag.Parse()

	shape := retino.Shape{X: *dimX, Y: *dimY, Z: *dimZ}
	if !shape.Valid() {
		log.Fatalf("Invalid dimensions %s: all must be positive", shape)
	}
	if *count < 1 {
		log.Fatalf("Invalid count %d: need at least one scan", *count)
	}

	fsys := fsutil.OSFileSystem{}
	if dir := filepath.Dir(*output); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	gen := NewScanGenerator(shape, *seed)
	for i := 0; i < *count; i++ {
		ref := retino.ScanRef{DataType: *dataType, ScanIndex: *firstIndex + i, Annotation: *annotation}
		scan, err := gen.Scan(ref)
		if err != nil {
			log.Fatalf("Failed to generate scan %d: %v", ref.ScanIndex, err)
		}
		path := outputPath(*output, *count, ref.ScanIndex)
		if err := writeScanFile(fsys, path, scan); err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
		log.Printf("✓ Created: %s (%s, %d voxels)", path, shape, shape.Count())
	}
}
