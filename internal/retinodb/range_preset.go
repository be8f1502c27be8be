package retinodb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/meridian-data/retinotopy.report/internal/retino"
)

// RangePreset is a named angle range for map building, e.g. the full polar
// wheel or one hemifield. System presets ship with the schema and cannot be
// edited or deleted.
type RangePreset struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	StartAngle float64 `json:"start_angle"`
	EndAngle   float64 `json:"end_angle"`
	IsSystem   bool    `json:"is_system"`
	CreatedAt  float64 `json:"created_at"`
	UpdatedAt  float64 `json:"updated_at"`
}

// Range returns the preset as an angle range.
func (p *RangePreset) Range() retino.AngleRange {
	return retino.AngleRange{Start: p.StartAngle, End: p.EndAngle}
}

// GetAllRangePresets retrieves all range presets
func (db *DB) GetAllRangePresets() ([]RangePreset, error) {
	query := `
		SELECT id, name, start_angle, end_angle, is_system, created_at, updated_at
		FROM range_presets
		ORDER BY name ASC
	`

	rows, err := db.DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query range presets: %w", err)
	}
	defer rows.Close()

	var presets []RangePreset
	for rows.Next() {
		var preset RangePreset
		var isSystem int
		err := rows.Scan(
			&preset.ID,
			&preset.Name,
			&preset.StartAngle,
			&preset.EndAngle,
			&isSystem,
			&preset.CreatedAt,
			&preset.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan range preset: %w", err)
		}
		preset.IsSystem = isSystem == 1
		presets = append(presets, preset)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating range presets: %w", err)
	}

	return presets, nil
}

// GetRangePreset retrieves a specific range preset by ID
func (db *DB) GetRangePreset(id int) (*RangePreset, error) {
	query := `
		SELECT id, name, start_angle, end_angle, is_system, created_at, updated_at
		FROM range_presets
		WHERE id = ?
	`

	var preset RangePreset
	var isSystem int
	err := db.DB.QueryRow(query, id).Scan(
		&preset.ID,
		&preset.Name,
		&preset.StartAngle,
		&preset.EndAngle,
		&isSystem,
		&preset.CreatedAt,
		&preset.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("range preset %d: %w", id, ErrPresetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query range preset: %w", err)
	}

	preset.IsSystem = isSystem == 1
	return &preset, nil
}

// GetRangePresetByName retrieves a preset by name. A missing name returns
// nil, nil so callers can probe without error handling.
func (db *DB) GetRangePresetByName(name string) (*RangePreset, error) {
	query := `
		SELECT id, name, start_angle, end_angle, is_system, created_at, updated_at
		FROM range_presets
		WHERE name = ?
	`

	var preset RangePreset
	var isSystem int
	err := db.DB.QueryRow(query, name).Scan(
		&preset.ID,
		&preset.Name,
		&preset.StartAngle,
		&preset.EndAngle,
		&isSystem,
		&preset.CreatedAt,
		&preset.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query range preset: %w", err)
	}

	preset.IsSystem = isSystem == 1
	return &preset, nil
}

// CreateRangePreset creates a new range preset
func (db *DB) CreateRangePreset(preset RangePreset) (*RangePreset, error) {
	if strings.TrimSpace(preset.Name) == "" {
		return nil, fmt.Errorf("range preset name cannot be empty")
	}

	query := `
		INSERT INTO range_presets (name, start_angle, end_angle, is_system)
		VALUES (?, ?, ?, ?)
	`

	isSystem := 0
	if preset.IsSystem {
		isSystem = 1
	}

	result, err := db.DB.Exec(query, preset.Name, preset.StartAngle, preset.EndAngle, isSystem)
	if err != nil {
		return nil, fmt.Errorf("failed to create range preset: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return db.GetRangePreset(int(id))
}

// UpdateRangePreset updates an existing range preset
func (db *DB) UpdateRangePreset(id int, preset RangePreset) (*RangePreset, error) {
	// First check if it's a system preset
	existing, err := db.GetRangePreset(id)
	if err != nil {
		return nil, err
	}

	if existing.IsSystem {
		return nil, fmt.Errorf("cannot update system preset")
	}

	name := preset.Name
	if strings.TrimSpace(name) == "" {
		name = existing.Name
	}

	query := `
		UPDATE range_presets
		SET name = ?, start_angle = ?, end_angle = ?, updated_at = unixepoch()
		WHERE id = ?
	`

	_, err = db.DB.Exec(query, name, preset.StartAngle, preset.EndAngle, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update range preset: %w", err)
	}

	return db.GetRangePreset(id)
}

// DeleteRangePreset deletes a range preset (only non-system presets)
func (db *DB) DeleteRangePreset(id int) error {
	// The trigger will prevent deletion of system presets
	query := `DELETE FROM range_presets WHERE id = ?`

	result, err := db.DB.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to delete range preset: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("range preset %d: %w", id, ErrPresetNotFound)
	}

	return nil
}
