// Package controlsurface exposes a running test's live state to the REST layer
// without the API importing engine internals.
package controlsurface

import (
	"context"
	"sort"
	"sync"
	"time"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// MetricsEngineInterface abstracts the metrics engine to avoid importing internal packages.
type MetricsEngineInterface interface {
	Snapshot() *metrics.Snapshot
	GetTimeSeriesData() []*TimeSeriesPoint
	GetLatestSnapshot() *TimeSeriesPoint
	BuildRealtimeMetrics(status string, getVUs func() int64, getIterations func() int64) *RealtimeMetrics
	GetBreachedThresholdsCount() uint32
}

// TimeSeriesPoint captures a snapshot of key metrics at a point in time.
type TimeSeriesPoint struct {
	Timestamp  string  `json:"timestamp"`
	ElapsedMs  int64   `json:"elapsed_ms"`
	Iterations int64   `json:"iterations"`
	ActiveVUs  int64   `json:"active_vus"`
	QPS        float64 `json:"qps"`
	ErrorRate  float64 `json:"error_rate"`
	AvgRT      float64 `json:"avg_rt_ms"`
	P50RT      float64 `json:"p50_rt_ms"`
	P90RT      float64 `json:"p90_rt_ms"`
	P95RT      float64 `json:"p95_rt_ms"`
	P99RT      float64 `json:"p99_rt_ms"`

	DataSentPerSec     float64 `json:"data_sent_per_sec"`
	DataReceivedPerSec float64 `json:"data_received_per_sec"`
}

// RealtimeMetrics is the live metrics view.
type RealtimeMetrics struct {
	Status          string                        `json:"status"`
	ElapsedMs       int64                         `json:"elapsed_ms"`
	TotalVUs        int64                         `json:"total_vus"`
	TotalIterations int64                         `json:"total_iterations"`
	QPS             float64                       `json:"qps"`
	ErrorRate       float64                       `json:"error_rate"`
	Metrics         map[string]map[string]float64 `json:"metrics,omitempty"`
	Errors          []string                      `json:"errors,omitempty"`
}

// ExecutionStatus represents the current test execution status.
type ExecutionStatus struct {
	RunID            string      `json:"run_id"`
	Status           string      `json:"status"`
	Phase            types.Phase `json:"phase"`
	Running          bool        `json:"running"`
	Stage            int         `json:"stage"`
	VUs              int64       `json:"vus"`
	TargetVUs        int64       `json:"target_vus"`
	MaxVUs           int64       `json:"max_vus"`
	Iterations       int64       `json:"iterations"`
	DurationMs       int64       `json:"duration_ms"`
	StartedAt        time.Time   `json:"started_at"`
	ThresholdsFailed int         `json:"thresholds_failed"`
}

// ControlSurface provides access to a running test's internal state.
type ControlSurface struct {
	RunID         string
	RunCtx        context.Context
	Plan          types.StagePlan
	MetricsEngine MetricsEngineInterface

	GetStatus     func() *ExecutionStatus
	StopExecution func() error
	GetVUs        func() int64
	GetIterations func() int64
}

// --- Global registry ---

var registry = struct {
	mu       sync.RWMutex
	surfaces map[string]*ControlSurface
}{
	surfaces: make(map[string]*ControlSurface),
}

// Register registers a ControlSurface for a run.
func Register(runID string, cs *ControlSurface) {
	registry.mu.Lock()
	registry.surfaces[runID] = cs
	registry.mu.Unlock()
}

// Unregister removes a ControlSurface for a run.
func Unregister(runID string) {
	registry.mu.Lock()
	delete(registry.surfaces, runID)
	registry.mu.Unlock()
}

// Get retrieves the ControlSurface for a run.
func Get(runID string) *ControlSurface {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return registry.surfaces[runID]
}

// List returns the IDs of all registered runs, sorted.
func List() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	ids := make([]string, 0, len(registry.surfaces))
	for id := range registry.surfaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
