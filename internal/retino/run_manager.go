package retino

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-data/retinotopy.report/internal/monitoring"
	"github.com/meridian-data/retinotopy.report/internal/timeutil"
)

// RunStatus is the lifecycle state of one asynchronous map build.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunDone      RunStatus = "done"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// MapRun records one map build: its identity, progress state, and outcome.
type MapRun struct {
	RunID      string    `json:"run_id"`
	Dataset    string    `json:"dataset"`
	Name       string    `json:"name"`
	ScanCount  int       `json:"scan_count"`
	Status     RunStatus `json:"status"`
	MapID      int64     `json:"map_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// RunManager coordinates asynchronous map builds for one dataset.
// It is safe for concurrent use.
type RunManager struct {
	mu      sync.RWMutex
	dataset string
	clock   timeutil.Clock
	runs    map[string]*MapRun
}

// runManagers stores per-dataset run managers.
var (
	rmMu       sync.RWMutex
	rmRegistry = make(map[string]*RunManager)
)

// NewRunManager creates a manager for one dataset's builds. A nil clock
// falls back to the real clock.
func NewRunManager(dataset string, clock timeutil.Clock) *RunManager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RunManager{
		dataset: dataset,
		clock:   clock,
		runs:    make(map[string]*MapRun),
	}
}

// RunManagerFor returns the registered manager for a dataset, creating and
// registering one on first use.
func RunManagerFor(dataset string) *RunManager {
	rmMu.RLock()
	mgr := rmRegistry[dataset]
	rmMu.RUnlock()
	if mgr != nil {
		return mgr
	}

	rmMu.Lock()
	defer rmMu.Unlock()
	if mgr = rmRegistry[dataset]; mgr == nil {
		mgr = NewRunManager(dataset, nil)
		rmRegistry[dataset] = mgr
	}
	return mgr
}

// StartRun begins an asynchronous build and returns its run ID. The build
// callback does the whole load-resolve-aggregate-persist sequence and
// returns the stored map ID; it receives the run ID so persisted snapshots
// can reference the run that produced them. ErrRangeCancelled marks the run
// cancelled rather than failed.
func (m *RunManager) StartRun(name string, scanCount int, build func(runID string) (int64, error)) string {
	runID := uuid.New().String()

	m.mu.Lock()
	m.runs[runID] = &MapRun{
		RunID:     runID,
		Dataset:   m.dataset,
		Name:      name,
		ScanCount: scanCount,
		Status:    RunRunning,
		CreatedAt: m.clock.Now(),
	}
	m.mu.Unlock()

	monitoring.Logf("[RunManager] started run %s: dataset=%s name=%s scans=%d",
		runID, m.dataset, name, scanCount)

	go func() {
		mapID, err := build(runID)
		m.finishRun(runID, mapID, err)
	}()

	return runID
}

// finishRun records a build outcome.
func (m *RunManager) finishRun(runID string, mapID int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return
	}
	run.FinishedAt = m.clock.Now()
	switch {
	case err == nil:
		run.Status = RunDone
		run.MapID = mapID
	case errors.Is(err, ErrRangeCancelled):
		run.Status = RunCancelled
	default:
		run.Status = RunFailed
		run.Error = err.Error()
	}
	monitoring.Logf("[RunManager] run %s finished: status=%s map_id=%d elapsed=%v",
		runID, run.Status, run.MapID, run.FinishedAt.Sub(run.CreatedAt))
}

// GetRun returns a copy of one run's state.
func (m *RunManager) GetRun(runID string) (MapRun, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return MapRun{}, false
	}
	return *run, true
}

// Runs returns copies of this manager's runs, newest first.
func (m *RunManager) Runs() []MapRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MapRun, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// AllRuns returns every registered dataset's runs, newest first.
func AllRuns() []MapRun {
	rmMu.RLock()
	managers := make([]*RunManager, 0, len(rmRegistry))
	for _, mgr := range rmRegistry {
		managers = append(managers, mgr)
	}
	rmMu.RUnlock()

	var out []MapRun
	for _, mgr := range managers {
		out = append(out, mgr.Runs()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// FindRun looks a run ID up across every registered manager.
func FindRun(runID string) (MapRun, bool) {
	rmMu.RLock()
	defer rmMu.RUnlock()
	for _, mgr := range rmRegistry {
		if run, ok := mgr.GetRun(runID); ok {
			return run, true
		}
	}
	return MapRun{}, false
}
