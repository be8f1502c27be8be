package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/meridian-data/retinotopy.report/internal/fsutil"
	"github.com/meridian-data/retinotopy.report/internal/retino"
	"github.com/meridian-data/retinotopy.report/internal/retino/monitor"
	"github.com/meridian-data/retinotopy.report/internal/retinodb"
	"github.com/meridian-data/retinotopy.report/internal/security"
)

// RenderOptions control one map render. Exactly one of MapID and InFile
// names the source.
type RenderOptions struct {
	MapID        int64
	InFile       string
	OutFile      string // empty derives a name from the source
	Slice        int    // below zero selects the middle slice
	MinCoherence float64
}

// RunRender loads a stored or file-carried map and renders one slice to PNG,
// returning the path actually written.
func RunRender(db *retinodb.DB, fsys fsutil.FileSystem, opts RenderOptions) (string, error) {
	res, label, err := loadRenderSource(db, fsys, opts)
	if err != nil {
		return "", err
	}

	z := opts.Slice
	if z < 0 {
		z = res.Map.Shape.Z / 2
	}

	out := opts.OutFile
	if out == "" {
		out = fmt.Sprintf("%s-z%d.png", security.SanitizeFilename(label), z)
	}
	if err := security.ValidateOutputPath(out); err != nil {
		return "", err
	}

	if err := monitor.PlotAngleSlice(res, z, opts.MinCoherence, out); err != nil {
		return "", err
	}
	return out, nil
}

// loadRenderSource resolves the map to render: a stored angle map by ID, or
// a result file written by compute-map. The label feeds the derived output
// name.
func loadRenderSource(db *retinodb.DB, fsys fsutil.FileSystem, opts RenderOptions) (*retino.AggregateResult, string, error) {
	switch {
	case opts.MapID != 0 && opts.InFile != "":
		return nil, "", fmt.Errorf("use only one of -map and -in")

	case opts.MapID != 0:
		rec, res, err := db.LoadAngleMap(opts.MapID)
		if err != nil {
			return nil, "", err
		}
		return res, rec.Name, nil

	case opts.InFile != "":
		f, err := fsys.Open(opts.InFile)
		if err != nil {
			return nil, "", fmt.Errorf("open %s: %w", opts.InFile, err)
		}
		defer f.Close()

		res, err := retino.ReadResult(f)
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", opts.InFile, err)
		}
		base := filepath.Base(opts.InFile)
		return res, strings.TrimSuffix(base, filepath.Ext(base)), nil

	default:
		return nil, "", fmt.Errorf("one of -map or -in is required")
	}
}
