// Command render-map renders one axial slice of an angle map to PNG, from
// the database or from a compute-map result file.
package main

import (
	"flag"
	"log"

	"github.com/meridian-data/retinotopy.report/internal/fsutil"
	"github.com/meridian-data/retinotopy.report/internal/retinodb"
)

func main() {
	dbFile := flag.String("db", "retinotopy.db", "path to the SQLite database")
	mapID := flag.Int64("map", 0, "ID of the stored angle map to render")
	inFile := flag.String("in", "", "render from a result file instead of the database")
	outFile := flag.String("o", "", "output PNG path (default: derived from the map name)")
	slice := flag.Int("z", -1, "slice to render (default: the middle slice)")
	minCoherence := flag.Float64("min-coherence", 0, "hide voxels whose winning coherence is below this")
	flag.Parse()

	if *mapID == 0 && *inFile == "" {
		log.Fatal("one of -map or -in is required")
	}

	var db *retinodb.DB
	if *mapID != 0 {
		var err error
		db, err = retinodb.OpenDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
	}

	out, err := RunRender(db, fsutil.OSFileSystem{}, RenderOptions{
		MapID:        *mapID,
		InFile:       *inFile,
		OutFile:      *outFile,
		Slice:        *slice,
		MinCoherence: *minCoherence,
	})
	if err != nil {
		log.Fatalf("Render failed: %v", err)
	}
	log.Printf("✓ Rendered: %s", out)
}
