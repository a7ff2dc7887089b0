// Package engine contains the metrics engine: it turns finished iterations into
// samples, feeds them to the registry and any outputs, and evaluates thresholds
// against registry snapshots.
package engine

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

const (
	thresholdsRate = 2 * time.Second
	timeSeriesRate = time.Second
	maxErrors      = 20
)

// ThresholdConfig defines a single threshold.
type ThresholdConfig struct {
	Expression  string `json:"expression" yaml:"threshold"`
	AbortOnFail bool   `json:"abort_on_fail" yaml:"abort_on_fail"`
}

// TimeSeriesPoint is an alias for the controlsurface type.
type TimeSeriesPoint = controlsurface.TimeSeriesPoint

// RealtimeMetrics is an alias for the controlsurface type.
type RealtimeMetrics = controlsurface.RealtimeMetrics

// MetricsEngine owns the registry for a run.
type MetricsEngine struct {
	registry *metrics.Registry
	builtin  *metrics.BuiltinMetrics

	rules                   []*Rule
	breachedThresholdsCount atomic.Uint32

	samples chan<- metrics.SampleContainer

	droppedSamples atomic.Int64
	errMu          sync.Mutex
	recentErrors   []string

	timeSeriesMu   sync.Mutex
	timeSeriesData []*TimeSeriesPoint
	snapshotStop   chan struct{}
	snapshotDone   chan struct{}
}

// NewMetricsEngine creates a MetricsEngine with a fresh registry holding the builtin metrics.
func NewMetricsEngine() *MetricsEngine {
	registry := metrics.NewRegistry()
	return &MetricsEngine{
		registry: registry,
		builtin:  metrics.RegisterBuiltinMetrics(registry),
	}
}

// Registry returns the engine's registry.
func (me *MetricsEngine) Registry() *metrics.Registry {
	return me.registry
}

// SetSampleOutput makes the engine forward every sample to ch as well. Sends block
// when the channel is full; the output manager drains it continuously.
func (me *MetricsEngine) SetSampleOutput(ch chan<- metrics.SampleContainer) {
	me.samples = ch
}

// InitThresholds parses threshold definitions. Syntax errors are returned; rules on
// metrics that do not exist are kept and fail at evaluation.
func (me *MetricsEngine) InitThresholds(thresholds map[string][]ThresholdConfig) error {
	rules, err := ParseRules(thresholds)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if me.registry.Get(r.Metric) == nil {
			logger.Warn("threshold references unknown metric", "metric", r.Metric, "threshold", r.Expression)
		}
	}
	me.rules = rules
	return nil
}

// Rules returns the parsed threshold rules.
func (me *MetricsEngine) Rules() []*Rule {
	return me.rules
}

// Start marks the beginning of the run.
func (me *MetricsEngine) Start(t time.Time) {
	me.registry.Start(t)
}

// Stop freezes the run duration so later snapshots are stable.
func (me *MetricsEngine) Stop(t time.Time) {
	me.registry.Stop(t)
}

// RecordIteration ingests the samples of one finished iteration. Safe for concurrent use.
func (me *MetricsEngine) RecordIteration(res types.IterationResult) {
	cs := SamplesFromIteration(res, me.registry.StartTime())
	me.Ingest(cs)
	if res.Err != nil {
		me.recordError(res.Err.Error())
	}
}

// RecordVUs records the current and peak worker counts.
func (me *MetricsEngine) RecordVUs(active, peak int) {
	now := time.Now()
	offset := now.Sub(me.registry.StartTime())
	me.Ingest(metrics.Samples{
		{Metric: metrics.VUsName, Value: float64(active), Time: now, Offset: offset},
		{Metric: metrics.VUsMaxName, Value: float64(peak), Time: now, Offset: offset},
	})
}

// Ingest writes samples to the registry and forwards them to outputs. Samples the
// registry rejects are logged and dropped.
func (me *MetricsEngine) Ingest(c metrics.SampleContainer) {
	for _, s := range c.GetSamples() {
		if err := me.registry.Ingest(s); err != nil {
			me.droppedSamples.Add(1)
			logger.Warn("drop sample", "metric", s.Metric, "error", err)
		}
	}
	if me.samples != nil {
		me.samples <- c
	}
}

// DroppedSamples returns how many samples the registry rejected.
func (me *MetricsEngine) DroppedSamples() int64 {
	return me.droppedSamples.Load()
}

func (me *MetricsEngine) recordError(msg string) {
	me.errMu.Lock()
	defer me.errMu.Unlock()
	if len(me.recentErrors) == maxErrors {
		me.recentErrors = me.recentErrors[1:]
	}
	me.recentErrors = append(me.recentErrors, msg)
}

// RecentErrors returns the most recent workload errors.
func (me *MetricsEngine) RecentErrors() []string {
	me.errMu.Lock()
	defer me.errMu.Unlock()
	out := make([]string, len(me.recentErrors))
	copy(out, me.recentErrors)
	return out
}

// Snapshot returns the current registry snapshot.
func (me *MetricsEngine) Snapshot() *metrics.Snapshot {
	return me.registry.Snapshot()
}

// EvaluateThresholds evaluates every rule against snap.
func (me *MetricsEngine) EvaluateThresholds(snap *metrics.Snapshot) ([]types.ThresholdResult, bool) {
	results, passed := EvaluateRules(me.rules, snap)
	breached := 0
	for _, r := range results {
		if !r.Passed {
			breached++
		}
	}
	me.breachedThresholdsCount.Store(uint32(breached))
	return results, passed
}

// GetBreachedThresholdsCount returns the number of breached thresholds.
func (me *MetricsEngine) GetBreachedThresholdsCount() uint32 {
	return me.breachedThresholdsCount.Load()
}

// StartThresholdCalculations evaluates abortOnFail rules every interval and calls
// abortRun once when one of them is breached. The returned func stops the loop.
func (me *MetricsEngine) StartThresholdCalculations(interval time.Duration, abortRun func(error)) (stop func()) {
	var abortRules []*Rule
	for _, r := range me.rules {
		if r.AbortOnFail {
			abortRules = append(abortRules, r)
		}
	}
	if len(abortRules) == 0 || abortRun == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = thresholdsRate
	}

	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				results, passed := EvaluateRules(abortRules, me.registry.Snapshot())
				if passed {
					continue
				}
				var breached []string
				for _, r := range results {
					if !r.Passed {
						breached = append(breached, r.Metric+" "+r.Condition)
					}
				}
				abortRun(fmt.Errorf("thresholds %s were crossed; abortOnFail enabled", strings.Join(breached, ", ")))
				return
			case <-stopCh:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stopCh) })
		<-done
	}
}

// StartTimeSeriesCollection records a TimeSeriesPoint every second until
// StopTimeSeriesCollection is called.
func (me *MetricsEngine) StartTimeSeriesCollection(getVUs func() int64) {
	me.snapshotStop = make(chan struct{})
	me.snapshotDone = make(chan struct{})

	go func() {
		defer close(me.snapshotDone)
		ticker := time.NewTicker(timeSeriesRate)
		defer ticker.Stop()

		var last *metrics.Snapshot
		for {
			select {
			case <-ticker.C:
				snap := me.registry.Snapshot()
				point := buildPoint(snap, last, getVUs())
				last = snap

				me.timeSeriesMu.Lock()
				me.timeSeriesData = append(me.timeSeriesData, point)
				me.timeSeriesMu.Unlock()
			case <-me.snapshotStop:
				return
			}
		}
	}()
}

func buildPoint(snap, last *metrics.Snapshot, vus int64) *TimeSeriesPoint {
	reqs := snap.Stats(metrics.HTTPReqsName)
	dur := snap.Stats(metrics.HTTPReqDurationName)
	failed := snap.Stats(metrics.HTTPReqFailedName)
	sent := snap.Stats(metrics.DataSentName)
	recv := snap.Stats(metrics.DataReceivedName)

	point := &TimeSeriesPoint{
		Timestamp:  time.Now().Format(time.RFC3339),
		ElapsedMs:  snap.Elapsed.Milliseconds(),
		Iterations: snap.Stats(metrics.IterationsName).Count,
		ActiveVUs:  vus,
		QPS:        reqs.Sum,
		ErrorRate:  failed.Rate * 100,
		AvgRT:      dur.Avg,
		P50RT:      dur.Med,
		P90RT:      dur.P90,
		P95RT:      dur.P95,
		P99RT:      dur.P99,

		DataSentPerSec:     sent.Sum,
		DataReceivedPerSec: recv.Sum,
	}
	if last != nil {
		secs := (snap.Elapsed - last.Elapsed).Seconds()
		if secs > 0 {
			point.QPS = (reqs.Sum - last.Stats(metrics.HTTPReqsName).Sum) / secs
			point.DataSentPerSec = (sent.Sum - last.Stats(metrics.DataSentName).Sum) / secs
			point.DataReceivedPerSec = (recv.Sum - last.Stats(metrics.DataReceivedName).Sum) / secs
		}
	} else if secs := snap.Elapsed.Seconds(); secs > 0 {
		point.QPS /= secs
		point.DataSentPerSec /= secs
		point.DataReceivedPerSec /= secs
	}
	return point
}

// StopTimeSeriesCollection stops the periodic snapshots.
func (me *MetricsEngine) StopTimeSeriesCollection() {
	if me.snapshotStop == nil {
		return
	}
	select {
	case <-me.snapshotStop:
	default:
		close(me.snapshotStop)
	}
	<-me.snapshotDone
}

// GetTimeSeriesData returns a copy of all time-series snapshots.
func (me *MetricsEngine) GetTimeSeriesData() []*TimeSeriesPoint {
	me.timeSeriesMu.Lock()
	defer me.timeSeriesMu.Unlock()
	result := make([]*TimeSeriesPoint, len(me.timeSeriesData))
	copy(result, me.timeSeriesData)
	return result
}

// GetLatestSnapshot returns the most recent time-series point.
func (me *MetricsEngine) GetLatestSnapshot() *TimeSeriesPoint {
	me.timeSeriesMu.Lock()
	defer me.timeSeriesMu.Unlock()
	if len(me.timeSeriesData) == 0 {
		return nil
	}
	return me.timeSeriesData[len(me.timeSeriesData)-1]
}

// BuildRealtimeMetrics builds the live view served by the control surface.
func (me *MetricsEngine) BuildRealtimeMetrics(status string, getVUs func() int64, getIterations func() int64) *RealtimeMetrics {
	snap := me.registry.Snapshot()
	rm := &RealtimeMetrics{
		Status:          status,
		ElapsedMs:       snap.Elapsed.Milliseconds(),
		TotalVUs:        getVUs(),
		TotalIterations: getIterations(),
		Errors:          me.RecentErrors(),
		Metrics:         make(map[string]map[string]float64, len(snap.Metrics)),
	}

	if latest := me.GetLatestSnapshot(); latest != nil {
		rm.QPS = latest.QPS
		rm.ErrorRate = latest.ErrorRate
	} else {
		rm.QPS = snap.Stats(metrics.HTTPReqsName).Rate
		rm.ErrorRate = snap.Stats(metrics.HTTPReqFailedName).Rate * 100
	}

	for name, st := range snap.Metrics {
		if st.Count > 0 {
			rm.Metrics[name] = st.Values()
		}
	}
	return rm
}
