package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-data/retinotopy.report/internal/fsutil"
	"github.com/meridian-data/retinotopy.report/internal/monitoring"
	"github.com/meridian-data/retinotopy.report/internal/retino"
	"github.com/meridian-data/retinotopy.report/internal/retinodb"
)

// runCompute loads scans, resolves ranges, builds the consensus map, and
// delivers it to whichever sinks the configuration names. A cancelled
// interactive build returns nil: the operator asked to stop, nothing was
// written, and the process exits cleanly.
func runCompute(db *retinodb.DB, fsys fsutil.FileSystem, cfg Config, in io.Reader, out io.Writer) error {
	colorMap := cfg.ColorMap
	if cfg.Save {
		if colorMap == "" {
			colorMap = "hsv"
		}
		if colorMap != "hsv" && colorMap != "viridis" {
			return fmt.Errorf("unknown color map %q (expected hsv or viridis)", colorMap)
		}
	}

	scans, err := loadInputScans(db, fsys, cfg)
	if err != nil {
		return err
	}
	monitoring.Debugf("[ComputeMap] Loaded %d scans (%s)", len(scans), scans[0].Phase.Shape)

	resolver, err := buildResolver(db, cfg, len(scans), in, out)
	if err != nil {
		return err
	}

	res, err := retino.BuildMap(scans, resolver)
	if err != nil {
		if errors.Is(err, retino.ErrRangeCancelled) {
			fmt.Fprintln(out, "Build cancelled; nothing written.")
			return nil
		}
		return fmt.Errorf("build map: %w", err)
	}

	if cfg.OutFile != "" {
		if err := writeResultFile(fsys, cfg.OutFile, res); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Wrote result: %s\n", cfg.OutFile)
	}

	if cfg.Save {
		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("%s %s consensus", cfg.Dataset, cfg.DataType)
		}
		mapID, err := retino.PersistResult(db, res, retino.MapMeta{
			Dataset:   cfg.Dataset,
			Name:      name,
			ScanCount: len(scans),
			ColorMap:  colorMap,
		})
		if err != nil {
			return fmt.Errorf("store map: %w", err)
		}
		fmt.Fprintf(out, "✓ Saved angle map %d (%s)\n", mapID, name)
	}

	if cfg.Stats {
		printStats(out, res, len(scans))
	}
	return nil
}

// loadInputScans reads scans from files when -scans is given, otherwise from
// the dataset's stored analyses.
func loadInputScans(db *retinodb.DB, fsys fsutil.FileSystem, cfg Config) ([]retino.RawScan, error) {
	if cfg.ScanFiles != "" {
		paths := splitList(cfg.ScanFiles)
		if len(paths) == 0 {
			return nil, fmt.Errorf("no scan files in %q", cfg.ScanFiles)
		}
		return loadScanFiles(fsys, paths)
	}
	return db.LoadScans(cfg.Dataset, cfg.DataType)
}

// splitList splits a comma-separated flag value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadScanFiles reads scan files concurrently, preserving the order given.
// Each loaded scan is re-keyed to its position in the list so that ranges
// pair with files in command-line order, whatever index the file carries.
func loadScanFiles(fsys fsutil.FileSystem, paths []string) ([]retino.RawScan, error) {
	scans := make([]retino.RawScan, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		g.Go(func() error {
			f, err := fsys.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()

			scan, err := retino.ReadScan(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			scan.Ref.ScanIndex = i
			scans[i] = *scan
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scans, nil
}

// buildResolver constructs the range resolver from exactly one of the three
// input modes.
func buildResolver(db *retinodb.DB, cfg Config, scanCount int, in io.Reader, out io.Writer) (retino.RangeResolver, error) {
	modes := 0
	for _, set := range []bool{cfg.Ranges != "", cfg.Preset != "", cfg.Interactive} {
		if set {
			modes++
		}
	}
	if modes == 0 {
		return nil, fmt.Errorf("one of -ranges, -preset, or -interactive is required")
	}
	if modes > 1 {
		return nil, fmt.Errorf("use only one of -ranges, -preset, and -interactive")
	}

	switch {
	case cfg.Interactive:
		return retino.NewInteractiveResolver(in, out), nil

	case cfg.Preset != "":
		preset, err := db.GetRangePresetByName(cfg.Preset)
		if err != nil {
			if errors.Is(err, retinodb.ErrPresetNotFound) {
				return nil, fmt.Errorf("unknown preset %q", cfg.Preset)
			}
			return nil, err
		}
		ranges := make([]retino.AngleRange, scanCount)
		for i := range ranges {
			ranges[i] = preset.Range()
		}
		return &retino.StaticResolver{Ranges: ranges}, nil

	default:
		ranges, err := retino.ParseAngleRangeList(cfg.Ranges)
		if err != nil {
			return nil, err
		}
		// A single range covers every scan of the session.
		if len(ranges) == 1 && scanCount > 1 {
			one := ranges[0]
			ranges = make([]retino.AngleRange, scanCount)
			for i := range ranges {
				ranges[i] = one
			}
		}
		if len(ranges) != scanCount {
			return nil, fmt.Errorf("range count %d does not match scan count %d", len(ranges), scanCount)
		}
		return &retino.StaticResolver{Ranges: ranges}, nil
	}
}

// writeResultFile streams the result through the gob codec onto fsys.
func writeResultFile(fsys fsutil.FileSystem, path string, res *retino.AggregateResult) error {
	w, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := retino.WriteResult(w, res); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return w.Close()
}

// printStats writes summary sections for the built map.
func printStats(out io.Writer, res *retino.AggregateResult, scanCount int) {
	fmt.Fprintln(out, "\n=== Consensus Map ===")
	fmt.Fprintf(out, "Shape: %s (%d voxels)\n", res.Map.Shape, res.Map.Shape.Count())
	fmt.Fprintf(out, "Scans: %d\n", scanCount)

	if s, err := retino.Summary(res.Map); err == nil {
		fmt.Fprintln(out, "\n--- Polar Angle ---")
		printSummary(out, s)
	}

	if s, err := retino.Summary(res.Coherence); err == nil {
		fmt.Fprintln(out, "\n--- Winning Coherence ---")
		printSummary(out, s)
		for _, min := range []float64{0.3, 0.5, 0.7} {
			covered := retino.CoverageAboveThreshold(res.Coherence, min)
			fmt.Fprintf(out, "Coverage >= %.1f: %.1f%%\n", min, covered*100)
		}
	}
}

func printSummary(out io.Writer, s retino.FieldSummary) {
	fmt.Fprintf(out, "Mean: %.3f\n", s.Mean)
	fmt.Fprintf(out, "StdDev: %.3f\n", s.StdDev)
	fmt.Fprintf(out, "Median: %.3f\n", s.Median)
	fmt.Fprintf(out, "Range: %.3f to %.3f\n", s.Min, s.Max)
}
