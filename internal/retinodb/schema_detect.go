package retinodb

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// GetDatabaseSchema returns the database's user-visible schema objects as a
// name -> CREATE statement map. Internal SQLite objects and the migration
// bookkeeping table are excluded so schemas built by different paths compare
// cleanly.
func (db *DB) GetDatabaseSchema() (map[string]string, error) {
	rows, err := db.Query(`
		SELECT name, sql
		FROM sqlite_master
		WHERE sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND name NOT IN ('schema_migrations', 'version_unique')
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema: %w", err)
	}
	defer rows.Close()

	schema := make(map[string]string)
	for rows.Next() {
		var name, createSQL string
		if err := rows.Scan(&name, &createSQL); err != nil {
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		schema[name] = createSQL
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema rows: %w", err)
	}

	return schema, nil
}

// GetSchemaAtMigration builds the schema that migrations produce at the given
// version, by applying them to a scratch in-memory database.
func (db *DB) GetSchemaAtMigration(migrationsFS fs.FS, version uint) (map[string]string, error) {
	scratch, err := OpenDB(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open scratch database: %w", err)
	}
	defer scratch.Close()

	if err := scratch.MigrateTo(migrationsFS, version); err != nil {
		return nil, fmt.Errorf("failed to build schema at version %d: %w", version, err)
	}

	return scratch.GetDatabaseSchema()
}

// CompareSchemas scores how closely a database schema matches a
// migration-built one. The score is the percentage of schema objects (by
// name, across both sides) whose definitions agree; diffs lists every
// disagreement.
func CompareSchemas(dbSchema, migrationSchema map[string]string) (int, []string) {
	names := make(map[string]bool)
	for name := range dbSchema {
		names[name] = true
	}
	for name := range migrationSchema {
		names[name] = true
	}
	if len(names) == 0 {
		return 100, nil
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	matches := 0
	var diffs []string
	for _, name := range sorted {
		dbSQL, inDB := dbSchema[name]
		migSQL, inMigration := migrationSchema[name]
		switch {
		case inDB && inMigration && normalizeSQL(dbSQL) == normalizeSQL(migSQL):
			matches++
		case inDB && inMigration:
			diffs = append(diffs, fmt.Sprintf("definition differs: %s", name))
		case inDB:
			diffs = append(diffs, fmt.Sprintf("only in database: %s", name))
		default:
			diffs = append(diffs, fmt.Sprintf("missing from database: %s", name))
		}
	}

	return matches * 100 / len(names), diffs
}

// normalizeSQL collapses whitespace so formatting differences between a
// hand-built schema and a migration-built one do not count as mismatches.
func normalizeSQL(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DetectSchemaVersion finds the migration version whose schema best matches
// the database. Ties prefer the later version. Used to recover databases that
// predate migration tracking.
func (db *DB) DetectSchemaVersion(migrationsFS fs.FS) (uint, int, []string, error) {
	current, err := db.GetDatabaseSchema()
	if err != nil {
		return 0, 0, nil, err
	}

	latest, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		return 0, 0, nil, err
	}

	var bestVersion uint
	bestScore := -1
	var bestDiffs []string
	for v := uint(1); v <= latest; v++ {
		migrationSchema, err := db.GetSchemaAtMigration(migrationsFS, v)
		if err != nil {
			return 0, 0, nil, err
		}
		score, diffs := CompareSchemas(current, migrationSchema)
		if score >= bestScore {
			bestVersion, bestScore, bestDiffs = v, score, diffs
		}
	}

	return bestVersion, bestScore, bestDiffs, nil
}
