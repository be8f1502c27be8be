package api

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/meridian-data/retinotopy.report/internal/retino"
	"github.com/meridian-data/retinotopy.report/internal/retinodb"
)

// insertConsensusScans stores two overlapping scans whose winner-take-all
// consensus is known in advance. With a 0:360 target range the phases below
// convert to angles [0, 180] and [180, 180]; coherence picks scan 0 for the
// first voxel and scan 1 for the second, so the consensus map is [0, 180]
// with coherence [0.9, 0.8].
func insertConsensusScans(t *testing.T, db *retinodb.DB, dataset string) retino.Shape {
	t.Helper()

	shape := retino.Shape{X: 2, Y: 1, Z: 1}
	insertTestScan(t, db, dataset, 0, shape,
		[]float64{0, math.Pi}, []float64{0.9, 0.2})
	insertTestScan(t, db, dataset, 1, shape,
		[]float64{math.Pi, math.Pi}, []float64{0.3, 0.8})
	return shape
}

type buildMapResponse struct {
	MapID     int64        `json:"map_id"`
	RunID     string       `json:"run_id"`
	Status    string       `json:"status"`
	Dataset   string       `json:"dataset"`
	Name      string       `json:"name"`
	ScanCount int          `json:"scan_count"`
	Shape     retino.Shape `json:"shape"`
}

// buildTestMap runs a synchronous consensus build over the dataset's scans
// and returns the stored map ID.
func buildTestMap(t *testing.T, server *Server, dataset string) int64 {
	t.Helper()

	w := postJSON(t, server.handleBuildMap, "/api/maps/build", buildMapRequest{
		Dataset:   dataset,
		RangeList: "0:360",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 from build, got %d: %s", w.Code, w.Body.String())
	}

	var resp buildMapResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode build response: %v", err)
	}
	if resp.MapID == 0 {
		t.Fatal("Expected a non-zero map ID")
	}
	return resp.MapID
}

func waitForRun(t *testing.T, runID string) retino.MapRun {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, ok := retino.FindRun(runID)
		if !ok {
			t.Fatalf("Run %s not registered", runID)
		}
		if run.Status != retino.RunRunning {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Run %s did not finish within 5s", runID)
	return retino.MapRun{}
}

func TestHandleBuildMap_Sync(t *testing.T) {
	server, dbInst := setupTestServer(t)
	insertConsensusScans(t, dbInst, "subj-sync")

	w := postJSON(t, server.handleBuildMap, "/api/maps/build", buildMapRequest{
		Dataset:   "subj-sync",
		RangeList: "0:360",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp buildMapResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode build response: %v", err)
	}
	if resp.Dataset != "subj-sync" || resp.ScanCount != 2 {
		t.Errorf("Unexpected build response: %+v", resp)
	}
	if resp.Name != "subj-sync polar consensus" {
		t.Errorf("Expected default map name, got %q", resp.Name)
	}
	if resp.Shape != (retino.Shape{X: 2, Y: 1, Z: 1}) {
		t.Errorf("Unexpected shape: %+v", resp.Shape)
	}

	// The stored consensus must carry the winning angles and the combined
	// coherence volume.
	_, res, err := dbInst.LoadAngleMap(resp.MapID)
	if err != nil {
		t.Fatalf("Failed to load stored map: %v", err)
	}
	wantAngles := []float64{0, 180}
	wantCoherence := []float64{0.9, 0.8}
	for i := range wantAngles {
		if math.Abs(res.Map.Values[i]-wantAngles[i]) > 1e-9 {
			t.Errorf("Voxel %d: expected angle %v, got %v", i, wantAngles[i], res.Map.Values[i])
		}
		if math.Abs(res.Coherence.Values[i]-wantCoherence[i]) > 1e-9 {
			t.Errorf("Voxel %d: expected coherence %v, got %v", i, wantCoherence[i], res.Coherence.Values[i])
		}
	}
}

func TestHandleBuildMap_PresetRanges(t *testing.T) {
	server, dbInst := setupTestServer(t)
	insertConsensusScans(t, dbInst, "subj-preset")

	w := postJSON(t, server.handleBuildMap, "/api/maps/build", buildMapRequest{
		Dataset: "subj-preset",
		Name:    "preset build",
		Preset:  "polar-full",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp buildMapResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode build response: %v", err)
	}
	if resp.Name != "preset build" {
		t.Errorf("Expected requested name to win, got %q", resp.Name)
	}

	// polar-full spans 0..360, so the consensus matches the explicit-range
	// build.
	_, res, err := dbInst.LoadAngleMap(resp.MapID)
	if err != nil {
		t.Fatalf("Failed to load stored map: %v", err)
	}
	if math.Abs(res.Map.Values[1]-180) > 1e-9 {
		t.Errorf("Expected 180 at voxel 1, got %v", res.Map.Values[1])
	}
}

func TestHandleBuildMap_Validation(t *testing.T) {
	server, dbInst := setupTestServer(t)
	insertConsensusScans(t, dbInst, "subj-valid")

	tests := []struct {
		name     string
		body     buildMapRequest
		wantCode int
		wantMsg  string
	}{
		{
			name:     "missing dataset",
			body:     buildMapRequest{RangeList: "0:360"},
			wantCode: http.StatusBadRequest,
			wantMsg:  "dataset is required",
		},
		{
			name:     "no range source",
			body:     buildMapRequest{Dataset: "subj-valid"},
			wantCode: http.StatusBadRequest,
			wantMsg:  "ranges, range_list, or preset is required",
		},
		{
			name:     "malformed range list",
			body:     buildMapRequest{Dataset: "subj-valid", RangeList: "zero:360"},
			wantCode: http.StatusBadRequest,
			wantMsg:  "range_list",
		},
		{
			name:     "unknown preset",
			body:     buildMapRequest{Dataset: "subj-valid", Preset: "no-such-preset"},
			wantCode: http.StatusBadRequest,
			wantMsg:  `unknown preset "no-such-preset"`,
		},
		{
			name: "unknown color map",
			body: buildMapRequest{
				Dataset: "subj-valid", RangeList: "0:360", ColorMap: "plasma",
			},
			wantCode: http.StatusBadRequest,
			wantMsg:  "unknown color map",
		},
		{
			name: "range count mismatch",
			body: buildMapRequest{
				Dataset:   "subj-valid",
				RangeList: "0:360,0:360,0:360",
			},
			wantCode: http.StatusBadRequest,
			wantMsg:  "range count 3 does not match scan count 2",
		},
		{
			name:     "dataset without scans",
			body:     buildMapRequest{Dataset: "subj-empty", RangeList: "0:360"},
			wantCode: http.StatusNotFound,
			wantMsg:  "subj-empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, server.handleBuildMap, "/api/maps/build", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if msg := errorMessage(t, w); !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.wantMsg, msg)
			}
		})
	}
}

func TestHandleBuildMap_ShapeMismatchNoPartialWrites(t *testing.T) {
	server, dbInst := setupTestServer(t)

	// Two stored scans that disagree in shape: the build must fail before
	// any map row is written.
	insertTestScan(t, dbInst, "subj-mismatch", 0, retino.Shape{X: 2, Y: 1, Z: 1},
		[]float64{0, math.Pi}, []float64{0.9, 0.2})
	insertTestScan(t, dbInst, "subj-mismatch", 1, retino.Shape{X: 3, Y: 1, Z: 1},
		[]float64{0, 1, 2}, []float64{0.3, 0.4, 0.5})

	w := postJSON(t, server.handleBuildMap, "/api/maps/build", buildMapRequest{
		Dataset:   "subj-mismatch",
		RangeList: "0:360",
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d: %s", w.Code, w.Body.String())
	}
	if msg := errorMessage(t, w); !strings.Contains(msg, "does not match scan 0 shape") {
		t.Errorf("Expected shape mismatch error, got %q", msg)
	}

	maps, err := dbInst.ListAngleMaps("subj-mismatch")
	if err != nil {
		t.Fatalf("Failed to list maps: %v", err)
	}
	if len(maps) != 0 {
		t.Errorf("Expected no stored maps after a failed build, got %d", len(maps))
	}
}

func TestHandleBuildMap_Async(t *testing.T) {
	server, dbInst := setupTestServer(t)
	insertConsensusScans(t, dbInst, "subj-async")

	payload, err := json.Marshal(buildMapRequest{
		Dataset:   "subj-async",
		RangeList: "0:360",
	})
	if err != nil {
		t.Fatalf("Failed to marshal build request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/maps/build?async=true", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	server.handleBuildMap(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp buildMapResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode async response: %v", err)
	}
	if resp.RunID == "" {
		t.Fatal("Expected a run ID in the async response")
	}
	if resp.Status != string(retino.RunRunning) {
		t.Errorf("Expected status running, got %q", resp.Status)
	}

	run := waitForRun(t, resp.RunID)
	if run.Status != retino.RunDone {
		t.Fatalf("Expected run to finish done, got %s (error %q)", run.Status, run.Error)
	}
	if run.MapID == 0 {
		t.Fatal("Expected the finished run to carry a map ID")
	}

	// The stored record points back at the run that produced it.
	rec, res, err := dbInst.LoadAngleMap(run.MapID)
	if err != nil {
		t.Fatalf("Failed to load map from async run: %v", err)
	}
	if rec.RunID != resp.RunID {
		t.Errorf("Expected stored run ID %q, got %q", resp.RunID, rec.RunID)
	}
	if math.Abs(res.Map.Values[1]-180) > 1e-9 {
		t.Errorf("Expected 180 at voxel 1, got %v", res.Map.Values[1])
	}

	// The run is visible through the runs API.
	runReq := httptest.NewRequest(http.MethodGet, "/api/runs/"+resp.RunID, nil)
	runW := httptest.NewRecorder()
	server.handleRunByID(runW, runReq)
	if runW.Code != http.StatusOK {
		t.Fatalf("Expected status 200 from runs API, got %d", runW.Code)
	}
	var apiRun retino.MapRun
	if err := json.NewDecoder(runW.Body).Decode(&apiRun); err != nil {
		t.Fatalf("Failed to decode run: %v", err)
	}
	if apiRun.RunID != resp.RunID || apiRun.Status != retino.RunDone {
		t.Errorf("Unexpected run from API: %+v", apiRun)
	}
}

func TestHandleGetMap(t *testing.T) {
	server, dbInst := setupTestServer(t)
	insertConsensusScans(t, dbInst, "subj-detail")
	mapID := buildTestMap(t, server, "subj-detail")

	type detailResponse struct {
		Map            retinodb.AngleMapRecord `json:"map"`
		Units          string                  `json:"units"`
		AngleStats     retino.FieldSummary     `json:"angle_stats"`
		CoherenceStats retino.FieldSummary     `json:"coherence_stats"`
		MinCoherence   float64                 `json:"min_coherence"`
		Coverage       float64                 `json:"coverage"`
	}

	getDetail := func(query string) (*httptest.ResponseRecorder, detailResponse) {
		req := httptest.NewRequest(http.MethodGet, "/api/maps/1"+query, nil)
		w := httptest.NewRecorder()
		server.handleGetMap(w, req, mapID)
		var d detailResponse
		if w.Code == http.StatusOK {
			if err := json.NewDecoder(w.Body).Decode(&d); err != nil {
				t.Fatalf("Failed to decode detail response: %v", err)
			}
		}
		return w, d
	}

	w, d := getDetail("")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if d.Units != "deg" {
		t.Errorf("Expected default units deg, got %q", d.Units)
	}
	if d.Map.ID != mapID || d.Map.Dataset != "subj-detail" {
		t.Errorf("Unexpected map record: %+v", d.Map)
	}
	if d.AngleStats.Voxels != 2 {
		t.Errorf("Expected 2 voxels, got %d", d.AngleStats.Voxels)
	}
	if math.Abs(d.AngleStats.Mean-90) > 1e-9 {
		t.Errorf("Expected mean angle 90, got %v", d.AngleStats.Mean)
	}
	if d.AngleStats.Min != 0 || math.Abs(d.AngleStats.Max-180) > 1e-9 {
		t.Errorf("Expected angle range [0, 180], got [%v, %v]", d.AngleStats.Min, d.AngleStats.Max)
	}
	if math.Abs(d.CoherenceStats.Mean-0.85) > 1e-9 {
		t.Errorf("Expected mean coherence 0.85, got %v", d.CoherenceStats.Mean)
	}
	if d.MinCoherence != 0 {
		t.Errorf("Expected default min coherence 0, got %v", d.MinCoherence)
	}
	if d.Coverage != 1 {
		t.Errorf("Expected full coverage at threshold 0, got %v", d.Coverage)
	}

	// Angle statistics rescale with the requested units; coherence does not.
	w, d = getDetail("?units=rad")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for rad, got %d", w.Code)
	}
	if d.Units != "rad" {
		t.Errorf("Expected units rad, got %q", d.Units)
	}
	if math.Abs(d.AngleStats.Mean-math.Pi/2) > 1e-9 {
		t.Errorf("Expected mean angle pi/2, got %v", d.AngleStats.Mean)
	}
	if math.Abs(d.AngleStats.Max-math.Pi) > 1e-9 {
		t.Errorf("Expected max angle pi, got %v", d.AngleStats.Max)
	}
	if math.Abs(d.CoherenceStats.Mean-0.85) > 1e-9 {
		t.Errorf("Expected coherence untouched by units, got %v", d.CoherenceStats.Mean)
	}

	// A raised threshold drops the weaker voxel from coverage.
	w, d = getDetail("?min_coherence=0.85")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if d.MinCoherence != 0.85 {
		t.Errorf("Expected min coherence 0.85, got %v", d.MinCoherence)
	}
	if math.Abs(d.Coverage-0.5) > 1e-9 {
		t.Errorf("Expected coverage 0.5 at threshold 0.85, got %v", d.Coverage)
	}

	w, _ = getDetail("?units=furlongs")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad units, got %d", w.Code)
	}

	w, _ = getDetail("?min_coherence=1.5")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for out-of-range threshold, got %d", w.Code)
	}
}

func TestHandleGetMap_NotFound(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/maps/9999", nil)
	w := httptest.NewRecorder()
	server.handleMapByID(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
}

func TestHandleMapByID_UnknownResource(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/maps/1/widget", nil)
	w := httptest.NewRecorder()
	server.handleMapByID(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
	if msg := errorMessage(t, w); !strings.Contains(msg, "unknown map resource") {
		t.Errorf("Expected unknown resource error, got %q", msg)
	}
}

func TestHandleDeleteMap(t *testing.T) {
	server, dbInst := setupTestServer(t)
	insertConsensusScans(t, dbInst, "subj-del")
	mapID := buildTestMap(t, server, "subj-del")

	target := "/api/maps/" + strconv.FormatInt(mapID, 10)
	req := httptest.NewRequest(http.MethodDelete, target, nil)
	w := httptest.NewRecorder()
	server.handleMapByID(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
		MapID  int64  `json:"map_id"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode delete response: %v", err)
	}
	if resp.Status != "deleted" || resp.MapID != mapID {
		t.Errorf("Unexpected delete response: %+v", resp)
	}

	req = httptest.NewRequest(http.MethodDelete, target, nil)
	w = httptest.NewRecorder()
	server.handleMapByID(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 on double delete, got %d", w.Code)
	}
}

func TestHandleListMaps(t *testing.T) {
	server, dbInst := setupTestServer(t)
	insertConsensusScans(t, dbInst, "subj-list-a")
	insertConsensusScans(t, dbInst, "subj-list-b")
	buildTestMap(t, server, "subj-list-a")
	buildTestMap(t, server, "subj-list-b")

	req := httptest.NewRequest(http.MethodGet, "/api/maps?dataset=subj-list-a", nil)
	w := httptest.NewRecorder()
	server.handleListMaps(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp struct {
		Maps  []retinodb.AngleMapRecord `json:"maps"`
		Count int                       `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode list response: %v", err)
	}
	if resp.Count != 1 || len(resp.Maps) != 1 {
		t.Fatalf("Expected 1 map for subj-list-a, got count=%d", resp.Count)
	}
	if resp.Maps[0].Dataset != "subj-list-a" {
		t.Errorf("Expected subj-list-a, got %q", resp.Maps[0].Dataset)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/maps", nil)
	w = httptest.NewRecorder()
	server.handleListMaps(w, req)
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode unfiltered list: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("Expected 2 maps in total, got %d", resp.Count)
	}
}

func TestHandleListMaps_Empty(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/maps", nil)
	w := httptest.NewRecorder()
	server.handleListMaps(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"maps":[]`) {
		t.Errorf("Expected empty array in response, got %s", w.Body.String())
	}
}

func TestHandleMapChart(t *testing.T) {
	server, dbInst := setupTestServer(t)
	insertConsensusScans(t, dbInst, "subj-chart")
	mapID := buildTestMap(t, server, "subj-chart")

	base := "/api/maps/" + strconv.FormatInt(mapID, 10)
	req := httptest.NewRequest(http.MethodGet, base+"/chart", nil)
	w := httptest.NewRecorder()
	server.handleMapByID(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected HTML content type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "echarts") {
		t.Error("Expected rendered chart HTML to reference echarts")
	}

	req = httptest.NewRequest(http.MethodGet, base+"/coherence-chart", nil)
	w = httptest.NewRecorder()
	server.handleMapByID(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for coherence chart, got %d", w.Code)
	}

	// The test volume has a single slice, so any other z is out of bounds.
	req = httptest.NewRequest(http.MethodGet, base+"/chart?z=3", nil)
	w = httptest.NewRecorder()
	server.handleMapByID(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for out-of-range slice, got %d", w.Code)
	}
}

func TestHandleMapPlot(t *testing.T) {
	server, dbInst := setupTestServer(t)
	insertConsensusScans(t, dbInst, "subj-plot")
	mapID := buildTestMap(t, server, "subj-plot")

	req := httptest.NewRequest(http.MethodGet, "/api/maps/"+strconv.FormatInt(mapID, 10)+"/plot.png", nil)
	w := httptest.NewRecorder()
	server.handleMapByID(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("Expected response body to start with the PNG signature")
	}
}
