// Package retinodb stores harmonic analyses, consensus angle maps, and range
// presets in SQLite. Schema changes are managed with golang-migrate against
// the embedded migrations directory.
package retinodb

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

// Sentinel errors for record lookups. Callers compare with errors.Is to
// distinguish a missing record from a query failure.
var (
	ErrAnalysisNotFound = errors.New("harmonic analysis not found")
	ErrMapNotFound      = errors.New("angle map not found")
	ErrPresetNotFound   = errors.New("range preset not found")
)

type DB struct {
	*sql.DB
}

// OpenDB opens the database and applies connection pragmas without touching
// the schema. Migration commands use this directly; normal startup should go
// through NewDB or NewDBWithMigrationCheck.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &DB{sqlDB}, nil
}

func applyPragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// NewDB opens the database and applies all pending migrations, creating the
// full schema on a fresh file.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migFS, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migFS); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// NewDBWithMigrationCheck opens the database for server startup. Fresh files
// get the full schema. Databases already under migration tracking must be at
// the latest version or the open fails with instructions to run migrations.
// Legacy databases without a schema_migrations table are schema-detected and,
// when autoBaseline is set and the match is exact, baselined in place.
func NewDBWithMigrationCheck(path string, autoBaseline bool) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migFS, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}

	// Fresh database: no user tables at all.
	var tableCount int
	err = db.QueryRow(`
		SELECT COUNT(*)
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
	`).Scan(&tableCount)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to inspect database: %w", err)
	}
	if tableCount == 0 {
		log.Printf("[retinodb] fresh database at %s, applying all migrations", path)
		if err := db.MigrateUp(migFS); err != nil {
			db.Close()
			return nil, fmt.Errorf("initial migration failed: %w", err)
		}
		return db, nil
	}

	// Existing database under migration tracking: verify it is current.
	var hasMigrations bool
	err = db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type = 'table' AND name = 'schema_migrations'
	`).Scan(&hasMigrations)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to check schema_migrations table: %w", err)
	}
	if hasMigrations {
		shouldExit, err := db.CheckAndPromptMigrations(migFS)
		if shouldExit || err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}

	// Legacy database: tables exist but nothing tracks their version. Detect
	// the closest migration point and baseline when the schema matches it
	// exactly.
	detected, score, diffs, err := db.DetectSchemaVersion(migFS)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("schema detection failed: %w", err)
	}
	if score != 100 {
		for _, diff := range diffs {
			log.Printf("[retinodb] schema diff: %s", diff)
		}
		db.Close()
		return nil, fmt.Errorf("database schema does not match any migration point (best: version %d at %d%%). Run 'retinotopy-report migrate detect' to diagnose", detected, score)
	}
	if !autoBaseline {
		db.Close()
		return nil, fmt.Errorf("database predates migration tracking (schema matches version %d). Run 'retinotopy-report migrate baseline %d'", detected, detected)
	}

	log.Printf("[retinodb] legacy database matches schema version %d, baselining", detected)
	if err := db.BaselineAtVersion(detected); err != nil {
		db.Close()
		return nil, err
	}
	shouldExit, err := db.CheckAndPromptMigrations(migFS)
	if shouldExit || err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
