package main

import (
	"fmt"
	"strings"

	"github.com/meridian-data/retinotopy.report/internal/fsutil"
	"github.com/meridian-data/retinotopy.report/internal/retino"
	"github.com/meridian-data/retinotopy.report/internal/retinodb"
	"github.com/meridian-data/retinotopy.report/internal/security"
)

// ImportOptions control one scan-file import. Empty DataType and Annotation
// keep the values carried in the scan file; a ScanIndex below zero keeps the
// file's index.
type ImportOptions struct {
	File     string
	DataRoot string // when set, File must resolve inside it
	Dataset  string

	DataType   string
	ScanIndex  int
	Annotation string

	Replace bool
}

// RunImport reads one scan file and stores it as a harmonic analysis.
func RunImport(fsys fsutil.FileSystem, db *retinodb.DB, opts ImportOptions) (*retinodb.HarmonicAnalysis, error) {
	if opts.Dataset == "" {
		return nil, fmt.Errorf("dataset is required")
	}
	if opts.File == "" {
		return nil, fmt.Errorf("scan file is required")
	}
	if opts.DataRoot != "" {
		if err := security.ValidateDataPath(opts.File, opts.DataRoot); err != nil {
			return nil, err
		}
	}

	f, err := fsys.Open(opts.File)
	if err != nil {
		return nil, fmt.Errorf("open scan file: %w", err)
	}
	defer f.Close()

	scan, err := retino.ReadScan(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", opts.File, err)
	}

	ref := scan.Ref
	if opts.DataType != "" {
		ref.DataType = opts.DataType
	}
	if ref.DataType == "" {
		ref.DataType = "polar"
	}
	if opts.ScanIndex >= 0 {
		ref.ScanIndex = opts.ScanIndex
	}
	if opts.Annotation != "" {
		ref.Annotation = opts.Annotation
	}

	phaseBlob, err := retino.SerializeField(scan.Phase)
	if err != nil {
		return nil, fmt.Errorf("serialize phase: %w", err)
	}
	cohBlob, err := retino.SerializeField(scan.Coherence)
	if err != nil {
		return nil, fmt.Errorf("serialize coherence: %w", err)
	}

	rec := &retinodb.HarmonicAnalysis{
		Dataset:       opts.Dataset,
		DataType:      ref.DataType,
		ScanIndex:     ref.ScanIndex,
		Annotation:    ref.Annotation,
		Shape:         scan.Phase.Shape,
		PhaseBlob:     phaseBlob,
		CoherenceBlob: cohBlob,
	}

	if opts.Replace {
		err = db.ReplaceAnalysis(rec)
	} else {
		err = db.InsertAnalysis(rec)
	}
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, fmt.Errorf("dataset %q already has a %s scan at index %d (rerun with -replace to overwrite)",
				opts.Dataset, ref.DataType, ref.ScanIndex)
		}
		return nil, err
	}
	return rec, nil
}
