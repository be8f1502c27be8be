// Command compute-map builds a winner-take-all consensus map without going
// through the API server: scans come from a dataset's stored analyses or
// from scan files, and ranges come from the command line, a stored preset,
// or an interactive prompt. The result can be written to a file, stored as
// an angle map, or summarised on stdout.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/meridian-data/retinotopy.report/internal/fsutil"
	"github.com/meridian-data/retinotopy.report/internal/monitoring"
	"github.com/meridian-data/retinotopy.report/internal/retinodb"
)

// Config holds the command-line configuration for one build.
type Config struct {
	DBFile      string
	Dataset     string
	DataType    string
	ScanFiles   string
	Ranges      string
	Preset      string
	Interactive bool
	OutFile     string
	Save        bool
	Name        string
	ColorMap    string
	Stats       bool
	Verbose     bool
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.DBFile, "db", "retinotopy.db", "Path to the SQLite database")
	flag.StringVar(&cfg.Dataset, "dataset", "", "Build from this dataset's stored analyses")
	flag.StringVar(&cfg.DataType, "type", "polar", "Data type of the scans")
	flag.StringVar(&cfg.ScanFiles, "scans", "", "Comma-separated scan files to build from instead of the database")
	flag.StringVar(&cfg.Ranges, "ranges", "", `Angle ranges as "start:end,start:end"; a single range is shared by all scans`)
	flag.StringVar(&cfg.Preset, "preset", "", "Name of a stored range preset shared by all scans")
	flag.BoolVar(&cfg.Interactive, "interactive", false, "Prompt for each scan's range on stdin")
	flag.StringVar(&cfg.OutFile, "out", "", "Write the result to this file")
	flag.BoolVar(&cfg.Save, "save", false, "Store the result as an angle map (requires -dataset)")
	flag.StringVar(&cfg.Name, "name", "", "Name for the stored map (default: \"<dataset> <type> consensus\")")
	flag.StringVar(&cfg.ColorMap, "color-map", "", "Display color map for the stored map: hsv or viridis")
	flag.BoolVar(&cfg.Stats, "stats", false, "Print a summary of the built map")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")

	flag.Parse()

	return cfg
}

func main() {
	cfg := parseFlags()
	monitoring.Verbose = cfg.Verbose

	if cfg.Dataset == "" && cfg.ScanFiles == "" {
		log.Fatal("either -dataset or -scans is required")
	}
	if cfg.Save && cfg.Dataset == "" {
		log.Fatal("-save needs -dataset to label the stored map")
	}

	var db *retinodb.DB
	if needsDB(cfg) {
		var err error
		db, err = retinodb.OpenDB(cfg.DBFile)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
	}

	if err := runCompute(db, fsutil.OSFileSystem{}, cfg, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("compute-map: %v", err)
	}
}

// needsDB reports whether this invocation touches the database at all; a
// pure file-to-file build never opens it.
func needsDB(cfg Config) bool {
	return cfg.ScanFiles == "" || cfg.Preset != "" || cfg.Save
}
