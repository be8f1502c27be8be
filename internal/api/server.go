package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/meridian-data/retinotopy.report/internal/config"
	"github.com/meridian-data/retinotopy.report/internal/retino"
	"github.com/meridian-data/retinotopy.report/internal/retinodb"
	"github.com/meridian-data/retinotopy.report/internal/units"
	"github.com/meridian-data/retinotopy.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	db    *retinodb.DB
	cfg   *config.TuningConfig
	units string
}

// NewServer wires the HTTP API to its database and display tuning. units is
// the default angle unit for responses; requests can override it per call
// with ?units=.
func NewServer(db *retinodb.DB, cfg *config.TuningConfig, units string) *Server {
	if cfg == nil {
		cfg = config.DefaultTuningConfig()
	}
	return &Server{
		db:    db,
		cfg:   cfg,
		units: units,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/analyses", s.handleAnalyses)
	mux.HandleFunc("/api/analyses/", s.handleAnalysisByID)
	mux.HandleFunc("/api/maps", s.handleListMaps)
	mux.HandleFunc("/api/maps/build", s.handleBuildMap)
	mux.HandleFunc("/api/maps/", s.handleMapByID)
	mux.HandleFunc("/api/runs", s.handleListRuns)
	mux.HandleFunc("/api/runs/", s.handleRunByID)
	mux.HandleFunc("/api/presets", s.handlePresets)
	mux.HandleFunc("/api/presets/", s.handlePresetByID)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] failed to write response: %v", err)
	}
}

// resolveUnits picks the angle unit for a response: the ?units= query
// parameter when present, the server default otherwise.
func (s *Server) resolveUnits(r *http.Request) (string, bool) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, true
	}
	if !units.IsValid(u) {
		return "", false
	}
	return u, true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cfg := map[string]interface{}{
		"units":            s.units,
		"color_map":        s.cfg.GetColorMap(),
		"min_coherence":    s.cfg.GetMinCoherence(),
		"chart_max_points": s.cfg.GetChartMaxPoints(),
		"plot_size_inches": s.cfg.GetPlotSizeInches(),
		"parallel_voxels":  s.cfg.GetParallelVoxels(),
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

// convertAngleSummary rescales angle statistics from degrees into the target
// units. The conversion is linear through zero, so spread statistics rescale
// the same way as locations.
func convertAngleSummary(sum retino.FieldSummary, targetUnits string) retino.FieldSummary {
	sum.Mean = units.ConvertAngle(sum.Mean, targetUnits)
	sum.StdDev = units.ConvertAngle(sum.StdDev, targetUnits)
	sum.Min = units.ConvertAngle(sum.Min, targetUnits)
	sum.Max = units.ConvertAngle(sum.Max, targetUnits)
	sum.Median = units.ConvertAngle(sum.Median, targetUnits)
	return sum
}
