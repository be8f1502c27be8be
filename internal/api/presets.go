package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/meridian-data/retinotopy.report/internal/retinodb"
)

// handlePresets handles list and create operations for range presets.
func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListPresets(w, r)
	case http.MethodPost:
		s.handleCreatePreset(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.db.GetAllRangePresets()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list presets: %v", err))
		return
	}
	if presets == nil {
		presets = []retinodb.RangePreset{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"presets": presets,
		"count":   len(presets),
	})
}

func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	var preset retinodb.RangePreset
	if err := json.NewDecoder(r.Body).Decode(&preset); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if strings.TrimSpace(preset.Name) == "" {
		s.writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	// Clients cannot mint undeletable presets.
	preset.IsSystem = false

	created, err := s.db.CreateRangePreset(preset)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			s.writeJSONError(w, http.StatusConflict, fmt.Sprintf("preset %q already exists", preset.Name))
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create preset: %v", err))
		return
	}

	s.writeJSON(w, http.StatusCreated, created)
}

// handlePresetByID handles get, update, and delete operations for one
// preset. System presets reject updates and deletes.
func (s *Server) handlePresetByID(w http.ResponseWriter, r *http.Request) {
	idPart := strings.TrimPrefix(r.URL.Path, "/api/presets/")
	id, err := strconv.Atoi(idPart)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid preset id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetPreset(w, r, id)
	case http.MethodPut:
		s.handleUpdatePreset(w, r, id)
	case http.MethodDelete:
		s.handleDeletePreset(w, r, id)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleGetPreset(w http.ResponseWriter, r *http.Request, id int) {
	preset, err := s.db.GetRangePreset(id)
	if err != nil {
		if errors.Is(err, retinodb.ErrPresetNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "preset not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load preset: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, preset)
}

func (s *Server) handleUpdatePreset(w http.ResponseWriter, r *http.Request, id int) {
	var updates retinodb.RangePreset
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	updated, err := s.db.UpdateRangePreset(id, updates)
	if err != nil {
		switch {
		case errors.Is(err, retinodb.ErrPresetNotFound):
			s.writeJSONError(w, http.StatusNotFound, "preset not found")
		case strings.Contains(err.Error(), "system preset"):
			s.writeJSONError(w, http.StatusForbidden, "system presets cannot be modified")
		case strings.Contains(err.Error(), "UNIQUE constraint"):
			s.writeJSONError(w, http.StatusConflict, fmt.Sprintf("preset %q already exists", updates.Name))
		default:
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to update preset: %v", err))
		}
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request, id int) {
	if err := s.db.DeleteRangePreset(id); err != nil {
		switch {
		case errors.Is(err, retinodb.ErrPresetNotFound):
			s.writeJSONError(w, http.StatusNotFound, "preset not found")
		case strings.Contains(err.Error(), "system preset"):
			s.writeJSONError(w, http.StatusForbidden, "system presets cannot be deleted")
		default:
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to delete preset: %v", err))
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "deleted",
		"preset_id": id,
	})
}
