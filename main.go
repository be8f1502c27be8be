package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meridian-data/retinotopy.report/internal/api"
	"github.com/meridian-data/retinotopy.report/internal/config"
	"github.com/meridian-data/retinotopy.report/internal/monitoring"
	"github.com/meridian-data/retinotopy.report/internal/retino"
	"github.com/meridian-data/retinotopy.report/internal/retinodb"
	"github.com/meridian-data/retinotopy.report/internal/units"
	"github.com/meridian-data/retinotopy.report/internal/version"
)

var (
	devMode      = flag.Bool("dev", false, "Run in dev mode (migrations load from local files)")
	listen       = flag.String("listen", ":8080", "Listen address")
	dbFile       = flag.String("db", "retinotopy.db", "Path to the SQLite database file")
	configPath   = flag.String("config", "", "Path to a tuning config JSON file (built-in defaults when empty)")
	angleUnits   = flag.String("units", "", "Default angle units for API responses (deg, rad, turn)")
	verbose      = flag.Bool("verbose", false, "Log per-chunk map build diagnostics")
	autoBaseline = flag.Bool("auto-baseline", false, "Adopt a legacy database by baselining its detected schema version")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("retinotopy-report %s (commit %s, built %s)\n",
			version.Version, version.GitSHA, version.BuildTime)
		return
	}

	retinodb.DevMode = *devMode
	monitoring.Verbose = *verbose

	// Database maintenance runs as a subcommand so operators can migrate
	// without starting the server.
	if flag.Arg(0) == "migrate" {
		retinodb.RunMigrateCommand(flag.Args()[1:], *dbFile)
		return
	}
	if flag.NArg() > 0 {
		log.Fatalf("Unknown command %q (did you mean \"migrate\"?)", flag.Arg(0))
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.DefaultTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		log.Printf("Loaded tuning config from %s", *configPath)
	}

	defaultUnits := cfg.GetAngleUnits()
	if *angleUnits != "" {
		defaultUnits = *angleUnits
	}
	if !units.IsValid(defaultUnits) {
		log.Fatalf("Invalid units %q (valid: %s)", defaultUnits, units.GetValidUnitsString())
	}

	retino.SetParallelThreshold(cfg.GetParallelVoxels())

	db, err := retinodb.NewDBWithMigrationCheck(*dbFile, *autoBaseline)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Wait group for the HTTP server routine
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or
		// over Tailscale)
		db.AttachAdminRoutes(mux)

		// mount the API handlers; the server registers full paths so no
		// prefix strip is needed
		mux.Handle("/", api.NewServer(db, cfg, defaultUnits).ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("retinotopy-report %s listening on %s (db %s, units %s)",
				version.Version, *listen, *dbFile, defaultUnits)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
