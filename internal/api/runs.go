package api

import (
	"net/http"
	"strings"

	"github.com/meridian-data/retinotopy.report/internal/retino"
)

// handleListRuns lists map build runs, newest first. ?dataset= limits the
// listing to one dataset's runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var runs []retino.MapRun
	if dataset := r.URL.Query().Get("dataset"); dataset != "" {
		runs = retino.RunManagerFor(dataset).Runs()
	} else {
		runs = retino.AllRuns()
	}
	if runs == nil {
		runs = []retino.MapRun{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleRunByID reports the state of one build run.
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if runID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "run id is required")
		return
	}

	run, ok := retino.FindRun(runID)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}
