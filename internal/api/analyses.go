package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/meridian-data/retinotopy.report/internal/retino"
	"github.com/meridian-data/retinotopy.report/internal/retinodb"
)

// createAnalysisRequest is the JSON body for importing one scan's harmonic
// fit. Phase and coherence carry the flat voxel values in x-fastest order.
type createAnalysisRequest struct {
	Dataset    string       `json:"dataset"`
	DataType   string       `json:"data_type"`
	ScanIndex  int          `json:"scan_index"`
	Annotation string       `json:"annotation,omitempty"`
	Shape      retino.Shape `json:"shape"`
	Phase      []float64    `json:"phase"`
	Coherence  []float64    `json:"coherence"`
	Replace    bool         `json:"replace,omitempty"`
}

// handleAnalyses handles list and create operations for harmonic analyses.
func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListAnalyses(w, r)
	case http.MethodPost:
		s.handleCreateAnalysis(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	dataset := r.URL.Query().Get("dataset")

	analyses, err := s.db.ListAnalyses(dataset)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list analyses: %v", err))
		return
	}
	if analyses == nil {
		analyses = []retinodb.HarmonicAnalysis{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": analyses,
		"count":    len(analyses),
	})
}

func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req createAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if req.Dataset == "" {
		s.writeJSONError(w, http.StatusBadRequest, "dataset is required")
		return
	}
	if req.DataType == "" {
		s.writeJSONError(w, http.StatusBadRequest, "data_type is required")
		return
	}
	if req.ScanIndex < 0 {
		s.writeJSONError(w, http.StatusBadRequest, "scan_index must not be negative")
		return
	}

	phase, err := retino.NewFieldFrom(req.Shape, req.Phase)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("phase: %v", err))
		return
	}
	coherence, err := retino.NewFieldFrom(req.Shape, req.Coherence)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("coherence: %v", err))
		return
	}

	phaseBlob, err := retino.SerializeField(phase)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to encode phase: %v", err))
		return
	}
	cohBlob, err := retino.SerializeField(coherence)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to encode coherence: %v", err))
		return
	}

	analysis := &retinodb.HarmonicAnalysis{
		Dataset:       req.Dataset,
		DataType:      req.DataType,
		ScanIndex:     req.ScanIndex,
		Annotation:    req.Annotation,
		Shape:         req.Shape,
		PhaseBlob:     phaseBlob,
		CoherenceBlob: cohBlob,
	}

	insert := s.db.InsertAnalysis
	if req.Replace {
		insert = s.db.ReplaceAnalysis
	}
	if err := insert(analysis); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			s.writeJSONError(w, http.StatusConflict,
				fmt.Sprintf("analysis already exists for dataset %q type %q scan %d (set replace to overwrite)",
					req.Dataset, req.DataType, req.ScanIndex))
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to store analysis: %v", err))
		return
	}

	s.writeJSON(w, http.StatusCreated, analysis)
}

// handleAnalysisByID dispatches /api/analyses/{id}.
func (s *Server) handleAnalysisByID(w http.ResponseWriter, r *http.Request) {
	idPart := strings.TrimPrefix(r.URL.Path, "/api/analyses/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid analysis id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetAnalysis(w, r, id)
	case http.MethodDelete:
		s.handleDeleteAnalysis(w, r, id)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request, id int64) {
	a, err := s.db.GetAnalysis(id)
	if err != nil {
		if errors.Is(err, retinodb.ErrAnalysisNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "analysis not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load analysis: %v", err))
		return
	}

	coherence, err := retino.DeserializeField(a.CoherenceBlob)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to decode coherence: %v", err))
		return
	}
	cohStats, err := retino.Summary(coherence)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to summarize coherence: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"analysis":        a,
		"coherence_stats": cohStats,
	})
}

func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.db.DeleteAnalysis(id); err != nil {
		if errors.Is(err, retinodb.ErrAnalysisNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "analysis not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to delete analysis: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "deleted",
		"analysis_id": id,
	})
}
