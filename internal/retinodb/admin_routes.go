package retinodb

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/meridian-data/retinotopy.report/internal/httputil"
)

// TableStats describes one table's row count and stored payload size.
type TableStats struct {
	Name      string `json:"name"`
	RowCount  int64  `json:"row_count"`
	DataBytes int64  `json:"data_bytes"`
}

// DatabaseStats summarizes database size for the admin stats endpoint.
type DatabaseStats struct {
	TotalSizeMB float64      `json:"total_size_mb"`
	Tables      []TableStats `json:"tables"`
}

// GetDatabaseStats reports the database file size plus per-table row counts.
// Blob-carrying tables also report their stored payload bytes.
func (db *DB) GetDatabaseStats() (*DatabaseStats, error) {
	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to query page_count: %w", err)
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to query page_size: %w", err)
	}

	stats := &DatabaseStats{
		TotalSizeMB: float64(pageCount*pageSize) / (1024 * 1024),
	}

	// Payload expressions for the blob-carrying tables; other tables report
	// row counts only.
	payloadExpr := map[string]string{
		"harmonic_analyses": "COALESCE(SUM(LENGTH(phase_blob) + LENGTH(coherence_blob)), 0)",
		"angle_maps":        "COALESCE(SUM(LENGTH(map_blob) + LENGTH(coherence_blob)), 0)",
	}

	rows, err := db.Query(`
		SELECT name FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		  AND name != 'schema_migrations'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	for _, name := range tables {
		ts := TableStats{Name: name}
		if err := db.QueryRow("SELECT COUNT(*) FROM " + name).Scan(&ts.RowCount); err != nil {
			return nil, fmt.Errorf("failed to count rows in %s: %w", name, err)
		}
		if expr, ok := payloadExpr[name]; ok {
			if err := db.QueryRow("SELECT " + expr + " FROM " + name).Scan(&ts.DataBytes); err != nil {
				return nil, fmt.Errorf("failed to size %s: %w", name, err)
			}
		}
		stats.Tables = append(stats.Tables, ts)
	}

	return stats, nil
}

// AttachAdminRoutes mounts the debug surface: live SQL, database stats, map
// deduplication, and on-demand backups.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://retinotopy.db", db.DB, &tailsql.DBOptions{
		Label: "Retinotopy DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("db-stats", "Database size and row counts", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := db.GetDatabaseStats()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to collect stats: %v", err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, stats)
	}))

	debug.Handle("dedup-maps", "Delete duplicate angle map snapshots for ?dataset=", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dataset := r.URL.Query().Get("dataset")
		if dataset == "" {
			httputil.BadRequest(w, "dataset query parameter is required")
			return
		}
		deleted, err := db.DeleteDuplicateAngleMaps(dataset)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to deduplicate: %v", err))
			return
		}
		unique, err := db.CountUniqueAngleMapBlobs(dataset)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to count blobs: %v", err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"dataset": dataset,
			"deleted": deleted,
			"unique":  unique,
		})
	}))

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		// Send the backup file to the client
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		// Copy the backup file content to the gzip writer
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
