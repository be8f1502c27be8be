package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-data/retinotopy.report/internal/retino"
	"github.com/meridian-data/retinotopy.report/internal/retino/monitor"
	"github.com/meridian-data/retinotopy.report/internal/retinodb"
)

// buildMapRequest is the JSON body for building a consensus angle map from a
// dataset's stored analyses. Exactly one of Ranges, RangeList, or Preset
// supplies the per-scan target ranges; a single range is repeated across all
// scans.
type buildMapRequest struct {
	Dataset   string              `json:"dataset"`
	DataType  string              `json:"data_type,omitempty"`
	Name      string              `json:"name,omitempty"`
	Ranges    []retino.AngleRange `json:"ranges,omitempty"`
	RangeList string              `json:"range_list,omitempty"`
	Preset    string              `json:"preset,omitempty"`
	ColorMap  string              `json:"color_map,omitempty"`
}

func (s *Server) handleListMaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	maps, err := s.db.ListAngleMaps(r.URL.Query().Get("dataset"))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list maps: %v", err))
		return
	}
	if maps == nil {
		maps = []retinodb.AngleMapRecord{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"maps":  maps,
		"count": len(maps),
	})
}

// handleBuildMap builds a consensus map from stored analyses. With
// ?async=true the build runs in the background and the response carries the
// run ID to poll; otherwise the response waits for the stored map ID.
func (s *Server) handleBuildMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req buildMapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Dataset == "" {
		s.writeJSONError(w, http.StatusBadRequest, "dataset is required")
		return
	}
	dataType := req.DataType
	if dataType == "" {
		dataType = "polar"
	}

	ranges, ok := s.resolveBuildRanges(w, &req)
	if !ok {
		return
	}

	colorMap := req.ColorMap
	if colorMap == "" {
		colorMap = s.cfg.GetColorMap()
	}
	if colorMap != "hsv" && colorMap != "viridis" {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown color map %q (expected hsv or viridis)", colorMap))
		return
	}

	scans, err := s.db.LoadScans(req.Dataset, dataType)
	if err != nil {
		if errors.Is(err, retinodb.ErrAnalysisNotFound) {
			s.writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load scans: %v", err))
		return
	}

	// A single range covers every scan of the session.
	if len(ranges) == 1 && len(scans) > 1 {
		one := ranges[0]
		ranges = make([]retino.AngleRange, len(scans))
		for i := range ranges {
			ranges[i] = one
		}
	}
	if len(ranges) != len(scans) {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("range count %d does not match scan count %d", len(ranges), len(scans)))
		return
	}
	resolver := &retino.StaticResolver{Ranges: ranges}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s %s consensus", req.Dataset, dataType)
	}

	if r.URL.Query().Get("async") == "true" {
		mgr := retino.RunManagerFor(req.Dataset)
		runID := mgr.StartRun(name, len(scans), func(runID string) (int64, error) {
			res, err := retino.BuildMap(scans, resolver)
			if err != nil {
				return 0, err
			}
			return retino.PersistResult(s.db, res, retino.MapMeta{
				RunID:     runID,
				Dataset:   req.Dataset,
				Name:      name,
				ScanCount: len(scans),
				ColorMap:  colorMap,
			})
		})
		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"run_id":     runID,
			"status":     string(retino.RunRunning),
			"dataset":    req.Dataset,
			"name":       name,
			"scan_count": len(scans),
		})
		return
	}

	res, err := retino.BuildMap(scans, resolver)
	if err != nil {
		if errors.Is(err, retino.ErrRangeCancelled) {
			// A cancelled build is a clean abort, not a failure.
			s.writeJSON(w, http.StatusOK, map[string]interface{}{
				"status":  string(retino.RunCancelled),
				"dataset": req.Dataset,
			})
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build map: %v", err))
		return
	}

	mapID, err := retino.PersistResult(s.db, res, retino.MapMeta{
		Dataset:   req.Dataset,
		Name:      name,
		ScanCount: len(scans),
		ColorMap:  colorMap,
	})
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to store map: %v", err))
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"map_id":     mapID,
		"dataset":    req.Dataset,
		"name":       name,
		"scan_count": len(scans),
		"shape":      res.Map.Shape,
	})
}

// resolveBuildRanges extracts the target ranges from whichever request field
// carries them, writing the error response itself when the request is bad.
func (s *Server) resolveBuildRanges(w http.ResponseWriter, req *buildMapRequest) ([]retino.AngleRange, bool) {
	if len(req.Ranges) > 0 {
		return req.Ranges, true
	}
	if req.RangeList != "" {
		ranges, err := retino.ParseAngleRangeList(req.RangeList)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("range_list: %v", err))
			return nil, false
		}
		return ranges, true
	}
	if req.Preset != "" {
		preset, err := s.db.GetRangePresetByName(req.Preset)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to look up preset: %v", err))
			return nil, false
		}
		if preset == nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown preset %q", req.Preset))
			return nil, false
		}
		return []retino.AngleRange{preset.Range()}, true
	}
	s.writeJSONError(w, http.StatusBadRequest, "ranges, range_list, or preset is required")
	return nil, false
}

// handleMapByID dispatches /api/maps/{id} and its chart and plot
// sub-resources.
func (s *Server) handleMapByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/maps/")
	idPart, sub, _ := strings.Cut(path, "/")

	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid map id")
		return
	}

	switch sub {
	case "":
		switch r.Method {
		case http.MethodGet:
			s.handleGetMap(w, r, id)
		case http.MethodDelete:
			s.handleDeleteMap(w, r, id)
		default:
			s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "chart":
		s.handleMapChart(w, r, id, true)
	case "coherence-chart":
		s.handleMapChart(w, r, id, false)
	case "plot.png":
		s.handleMapPlot(w, r, id)
	default:
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown map resource %q", sub))
	}
}

func (s *Server) handleGetMap(w http.ResponseWriter, r *http.Request, id int64) {
	targetUnits, ok := s.resolveUnits(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "invalid units (expected deg, rad, turn)")
		return
	}
	minCoherence, ok := s.resolveMinCoherence(w, r)
	if !ok {
		return
	}

	rec, res, err := s.db.LoadAngleMap(id)
	if err != nil {
		if errors.Is(err, retinodb.ErrMapNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "map not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load map: %v", err))
		return
	}

	angleStats, err := retino.Summary(res.Map)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to summarize angles: %v", err))
		return
	}
	cohStats, err := retino.Summary(res.Coherence)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to summarize coherence: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"map":             rec,
		"units":           targetUnits,
		"angle_stats":     convertAngleSummary(angleStats, targetUnits),
		"coherence_stats": cohStats,
		"min_coherence":   minCoherence,
		"coverage":        retino.CoverageAboveThreshold(res.Coherence, minCoherence),
	})
}

func (s *Server) handleDeleteMap(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.db.DeleteAngleMap(id); err != nil {
		if errors.Is(err, retinodb.ErrMapNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "map not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to delete map: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "deleted",
		"map_id": id,
	})
}

// resolveMinCoherence reads the display mask threshold from the query,
// falling back to the configured default. It writes the error response
// itself on a malformed value.
func (s *Server) resolveMinCoherence(w http.ResponseWriter, r *http.Request) (float64, bool) {
	raw := r.URL.Query().Get("min_coherence")
	if raw == "" {
		return s.cfg.GetMinCoherence(), true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		s.writeJSONError(w, http.StatusBadRequest, "invalid min_coherence (expected 0..1)")
		return 0, false
	}
	return v, true
}

// resolveSlice reads the axial slice from the query, defaulting to the
// middle slice.
func (s *Server) resolveSlice(w http.ResponseWriter, r *http.Request, shape retino.Shape) (int, bool) {
	raw := r.URL.Query().Get("z")
	if raw == "" {
		return shape.Z / 2, true
	}
	z, err := strconv.Atoi(raw)
	if err != nil || z < 0 || z >= shape.Z {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid slice z (expected 0..%d)", shape.Z-1))
		return 0, false
	}
	return z, true
}

func (s *Server) handleMapChart(w http.ResponseWriter, r *http.Request, id int64, angleChart bool) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rec, res, err := s.db.LoadAngleMap(id)
	if err != nil {
		if errors.Is(err, retinodb.ErrMapNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "map not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load map: %v", err))
		return
	}

	z, ok := s.resolveSlice(w, r, rec.Shape)
	if !ok {
		return
	}
	minCoherence, ok := s.resolveMinCoherence(w, r)
	if !ok {
		return
	}

	opts := monitor.ChartOptions{
		Z:            z,
		MinCoherence: minCoherence,
		MaxPoints:    s.cfg.GetChartMaxPoints(),
	}
	title := fmt.Sprintf("%s: %s (z=%d)", rec.Dataset, rec.Name, z)

	// Render to a buffer first so a failed render can still produce an error
	// status.
	var buf bytes.Buffer
	if angleChart {
		err = monitor.RenderAngleChart(&buf, res, title, opts)
	} else {
		err = monitor.RenderCoherenceChart(&buf, res, title, opts)
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handleMapPlot(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rec, res, err := s.db.LoadAngleMap(id)
	if err != nil {
		if errors.Is(err, retinodb.ErrMapNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "map not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load map: %v", err))
		return
	}

	z, ok := s.resolveSlice(w, r, rec.Shape)
	if !ok {
		return
	}
	minCoherence, ok := s.resolveMinCoherence(w, r)
	if !ok {
		return
	}

	outPath := filepath.Join(os.TempDir(),
		fmt.Sprintf("angle-map-%d-z%d-%d.png", id, z, time.Now().UnixNano()))
	defer os.Remove(outPath)

	if err := monitor.PlotAngleSlice(res, z, minCoherence, outPath); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to plot slice: %v", err))
		return
	}

	png, err := os.ReadFile(outPath)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read plot: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("inline; filename=angle_map_%d_z%d.png", id, z))
	w.Write(png)
}
