package retinodb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-data/retinotopy.report/internal/retino"
)

// HarmonicAnalysis is one stored per-scan harmonic fit: the phase volume and
// the coherence volume that scores it. List results omit the blobs; Get and
// LoadScans include them.
type HarmonicAnalysis struct {
	ID          int64        `json:"id"`
	Dataset     string       `json:"dataset"`
	DataType    string       `json:"data_type"`
	ScanIndex   int          `json:"scan_index"`
	Annotation  string       `json:"annotation"`
	Shape       retino.Shape `json:"shape"`
	CreatedAtNs int64        `json:"created_at_ns"`

	PhaseBlob     []byte `json:"-"`
	CoherenceBlob []byte `json:"-"`
}

// InsertAnalysis stores a new harmonic analysis and sets a.ID. A second
// analysis for the same (dataset, data_type, scan_index) fails on the unique
// constraint; use ReplaceAnalysis to overwrite.
func (db *DB) InsertAnalysis(a *HarmonicAnalysis) error {
	return db.insertAnalysis(a, false)
}

// ReplaceAnalysis stores a harmonic analysis, overwriting any existing row
// for the same (dataset, data_type, scan_index).
func (db *DB) ReplaceAnalysis(a *HarmonicAnalysis) error {
	return db.insertAnalysis(a, true)
}

func (db *DB) insertAnalysis(a *HarmonicAnalysis, replace bool) error {
	if a.CreatedAtNs == 0 {
		a.CreatedAtNs = time.Now().UnixNano()
	}

	verb := "INSERT"
	if replace {
		verb = "INSERT OR REPLACE"
	}
	res, err := db.Exec(verb+` INTO harmonic_analyses (
			dataset, data_type, scan_index, annotation,
			shape_x, shape_y, shape_z,
			phase_blob, coherence_blob, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Dataset, a.DataType, a.ScanIndex, a.Annotation,
		a.Shape.X, a.Shape.Y, a.Shape.Z,
		a.PhaseBlob, a.CoherenceBlob, a.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert harmonic analysis: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	return nil
}

// ListAnalyses returns analysis metadata, newest datasets first and scans in
// index order within a dataset. An empty dataset lists everything.
func (db *DB) ListAnalyses(dataset string) ([]HarmonicAnalysis, error) {
	query := `
		SELECT id, dataset, data_type, scan_index, annotation,
		       shape_x, shape_y, shape_z, created_at_ns
		FROM harmonic_analyses
	`
	var args []interface{}
	if dataset != "" {
		query += " WHERE dataset = ?"
		args = append(args, dataset)
	}
	query += " ORDER BY dataset ASC, data_type ASC, scan_index ASC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query harmonic analyses: %w", err)
	}
	defer rows.Close()

	var analyses []HarmonicAnalysis
	for rows.Next() {
		var a HarmonicAnalysis
		if err := rows.Scan(
			&a.ID, &a.Dataset, &a.DataType, &a.ScanIndex, &a.Annotation,
			&a.Shape.X, &a.Shape.Y, &a.Shape.Z, &a.CreatedAtNs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan harmonic analysis: %w", err)
		}
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating harmonic analyses: %w", err)
	}

	return analyses, nil
}

// GetAnalysis retrieves one analysis by ID, blobs included.
func (db *DB) GetAnalysis(id int64) (*HarmonicAnalysis, error) {
	var a HarmonicAnalysis
	err := db.QueryRow(`
		SELECT id, dataset, data_type, scan_index, annotation,
		       shape_x, shape_y, shape_z, phase_blob, coherence_blob, created_at_ns
		FROM harmonic_analyses
		WHERE id = ?
	`, id).Scan(
		&a.ID, &a.Dataset, &a.DataType, &a.ScanIndex, &a.Annotation,
		&a.Shape.X, &a.Shape.Y, &a.Shape.Z, &a.PhaseBlob, &a.CoherenceBlob, &a.CreatedAtNs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("harmonic analysis %d: %w", id, ErrAnalysisNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query harmonic analysis: %w", err)
	}
	return &a, nil
}

// DeleteAnalysis removes one analysis by ID.
func (db *DB) DeleteAnalysis(id int64) error {
	res, err := db.Exec("DELETE FROM harmonic_analyses WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete harmonic analysis: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("harmonic analysis %d: %w", id, ErrAnalysisNotFound)
	}

	return nil
}

// LoadScans loads every analysis for a dataset and data type as decoded
// scans, ordered by scan index. Blob decompression dominates load time for
// big volumes, so the decode fans out across scans.
func (db *DB) LoadScans(dataset, dataType string) ([]retino.RawScan, error) {
	rows, err := db.Query(`
		SELECT scan_index, annotation, phase_blob, coherence_blob
		FROM harmonic_analyses
		WHERE dataset = ? AND data_type = ?
		ORDER BY scan_index ASC
	`, dataset, dataType)
	if err != nil {
		return nil, fmt.Errorf("failed to query harmonic analyses: %w", err)
	}
	defer rows.Close()

	type analysisRow struct {
		scanIndex  int
		annotation string
		phase      []byte
		coherence  []byte
	}
	var raws []analysisRow
	for rows.Next() {
		var r analysisRow
		if err := rows.Scan(&r.scanIndex, &r.annotation, &r.phase, &r.coherence); err != nil {
			return nil, fmt.Errorf("failed to scan harmonic analysis: %w", err)
		}
		raws = append(raws, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating harmonic analyses: %w", err)
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("no harmonic analyses for dataset %q type %q (import scans first): %w",
			dataset, dataType, ErrAnalysisNotFound)
	}

	scans := make([]retino.RawScan, len(raws))
	var g errgroup.Group
	for i, r := range raws {
		g.Go(func() error {
			phase, err := retino.DeserializeField(r.phase)
			if err != nil {
				return fmt.Errorf("scan %d phase: %w", r.scanIndex, err)
			}
			coherence, err := retino.DeserializeField(r.coherence)
			if err != nil {
				return fmt.Errorf("scan %d coherence: %w", r.scanIndex, err)
			}
			scans[i] = retino.RawScan{
				Ref: retino.ScanRef{
					DataType:   dataType,
					ScanIndex:  r.scanIndex,
					Annotation: r.annotation,
				},
				Phase:     phase,
				Coherence: coherence,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return scans, nil
}
