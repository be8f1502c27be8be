package retinodb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-data/retinotopy.report/internal/retino"
)

// AngleMapRecord is one stored consensus map row. List results omit the
// blobs; Get and Load include them.
type AngleMapRecord struct {
	ID          int64        `json:"id"`
	RunID       string       `json:"run_id"`
	Dataset     string       `json:"dataset"`
	Name        string       `json:"name"`
	Shape       retino.Shape `json:"shape"`
	ScanCount   int          `json:"scan_count"`
	ColorMap    string       `json:"color_map"`
	CreatedAtNs int64        `json:"created_at_ns"`

	MapBlob       []byte `json:"-"`
	CoherenceBlob []byte `json:"-"`
}

// InsertAngleMap stores a snapshot and returns its row id, also set on the
// snapshot. This satisfies retino.MapStore, so map persistence is driven from
// the retino package without a SQL dependency there.
func (db *DB) InsertAngleMap(s *retino.AngleMapSnapshot) (int64, error) {
	if s.ColorMap == "" {
		s.ColorMap = "hsv"
	}
	if s.TakenUnixNanos == 0 {
		s.TakenUnixNanos = time.Now().UnixNano()
	}

	res, err := db.Exec(`
		INSERT INTO angle_maps (
			run_id, dataset, name, shape_x, shape_y, shape_z,
			scan_count, map_blob, coherence_blob, color_map, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Dataset, s.Name, s.Shape.X, s.Shape.Y, s.Shape.Z,
		s.ScanCount, s.MapBlob, s.CoherenceBlob, s.ColorMap, s.TakenUnixNanos,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert angle map: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	s.ID = id
	return id, nil
}

// ListAngleMaps returns map metadata, newest first. An empty dataset lists
// everything.
func (db *DB) ListAngleMaps(dataset string) ([]AngleMapRecord, error) {
	query := `
		SELECT id, run_id, dataset, name, shape_x, shape_y, shape_z,
		       scan_count, color_map, created_at_ns
		FROM angle_maps
	`
	var args []interface{}
	if dataset != "" {
		query += " WHERE dataset = ?"
		args = append(args, dataset)
	}
	query += " ORDER BY created_at_ns DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query angle maps: %w", err)
	}
	defer rows.Close()

	var maps []AngleMapRecord
	for rows.Next() {
		var m AngleMapRecord
		if err := rows.Scan(
			&m.ID, &m.RunID, &m.Dataset, &m.Name,
			&m.Shape.X, &m.Shape.Y, &m.Shape.Z,
			&m.ScanCount, &m.ColorMap, &m.CreatedAtNs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan angle map: %w", err)
		}
		maps = append(maps, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating angle maps: %w", err)
	}

	return maps, nil
}

// GetAngleMap retrieves one map by ID, blobs included.
func (db *DB) GetAngleMap(id int64) (*AngleMapRecord, error) {
	var m AngleMapRecord
	err := db.QueryRow(`
		SELECT id, run_id, dataset, name, shape_x, shape_y, shape_z,
		       scan_count, map_blob, coherence_blob, color_map, created_at_ns
		FROM angle_maps
		WHERE id = ?
	`, id).Scan(
		&m.ID, &m.RunID, &m.Dataset, &m.Name,
		&m.Shape.X, &m.Shape.Y, &m.Shape.Z,
		&m.ScanCount, &m.MapBlob, &m.CoherenceBlob, &m.ColorMap, &m.CreatedAtNs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("angle map %d: %w", id, ErrMapNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query angle map: %w", err)
	}
	return &m, nil
}

// LoadAngleMap retrieves a map and decodes its blobs back into fields. The
// stored shape must agree with the decoded one; a disagreement means the row
// was corrupted.
func (db *DB) LoadAngleMap(id int64) (*AngleMapRecord, *retino.AggregateResult, error) {
	rec, err := db.GetAngleMap(id)
	if err != nil {
		return nil, nil, err
	}

	mapField, err := retino.DeserializeField(rec.MapBlob)
	if err != nil {
		return nil, nil, fmt.Errorf("angle map %d map blob: %w", id, err)
	}
	cohField, err := retino.DeserializeField(rec.CoherenceBlob)
	if err != nil {
		return nil, nil, fmt.Errorf("angle map %d coherence blob: %w", id, err)
	}
	if mapField.Shape != rec.Shape || cohField.Shape != rec.Shape {
		return nil, nil, fmt.Errorf("angle map %d blob shape %s does not match stored shape %s",
			id, mapField.Shape, rec.Shape)
	}

	return rec, &retino.AggregateResult{Map: mapField, Coherence: cohField}, nil
}

// DeleteAngleMap removes one map by ID.
func (db *DB) DeleteAngleMap(id int64) error {
	res, err := db.Exec("DELETE FROM angle_maps WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete angle map: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("angle map %d: %w", id, ErrMapNotFound)
	}

	return nil
}

// DeleteDuplicateAngleMaps removes maps whose map blob duplicates a later one
// in the same dataset, keeping the newest of each group. Returns the number
// of rows deleted.
func (db *DB) DeleteDuplicateAngleMaps(dataset string) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM angle_maps
		WHERE dataset = ?
		  AND id NOT IN (
			SELECT MAX(id) FROM angle_maps WHERE dataset = ? GROUP BY map_blob
		  )`, dataset, dataset)
	if err != nil {
		return 0, fmt.Errorf("failed to delete duplicate angle maps: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// CountUniqueAngleMapBlobs returns the number of distinct map blobs stored
// for a dataset.
func (db *DB) CountUniqueAngleMapBlobs(dataset string) (int64, error) {
	var count int64
	err := db.QueryRow(
		"SELECT COUNT(DISTINCT map_blob) FROM angle_maps WHERE dataset = ?", dataset,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count angle map blobs: %w", err)
	}
	return count, nil
}
