// Command import-scan stores a scan file as a harmonic analysis, making it
// available to map builds. Scan files come from gen-scan or from an analysis
// pipeline export.
package main

import (
	"flag"
	"log"

	"github.com/meridian-data/retinotopy.report/internal/fsutil"
	"github.com/meridian-data/retinotopy.report/internal/retinodb"
)

func main() {
	dbFile := flag.String("db", "retinotopy.db", "path to the SQLite database")
	dataRoot := flag.String("data-root", "", "when set, the scan file must live inside this directory")
	file := flag.String("file", "", "scan file to import")
	dataset := flag.String("dataset", "", "dataset the scan belongs to")
	dataType := flag.String("type", "", "override the data type stored in the scan file")
	scanIndex := flag.Int("scan", -1, "override the scan index stored in the scan file")
	annotation := flag.String("annotation", "", "override the annotation stored in the scan file")
	replace := flag.Bool("replace", false, "overwrite an existing analysis at the same dataset/type/index")
	flag.Parse()

	if *dataset == "" {
		log.Fatal("dataset is required")
	}
	if *file == "" {
		log.Fatal("scan file is required")
	}

	db, err := retinodb.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	rec, err := RunImport(fsutil.OSFileSystem{}, db, ImportOptions{
		File:       *file,
		DataRoot:   *dataRoot,
		Dataset:    *dataset,
		DataType:   *dataType,
		ScanIndex:  *scanIndex,
		Annotation: *annotation,
		Replace:    *replace,
	})
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	log.Printf("✓ Imported: %s %s scan %d (%s, %d voxels) as analysis %d",
		rec.Dataset, rec.DataType, rec.ScanIndex, rec.Shape, rec.Shape.Count(), rec.ID)
}
