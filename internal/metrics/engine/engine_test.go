package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

func okResult(vu int, d time.Duration) types.IterationResult {
	return types.IterationResult{
		VU:    vu,
		Start: time.Now(),
		Outcome: &types.Outcome{
			Status: 200,
			OK:     true,
			Timings: types.Timings{
				Blocked: time.Millisecond, Connecting: time.Millisecond,
				Sending: time.Millisecond, Waiting: d - 2*time.Millisecond, Receiving: time.Millisecond,
				Duration: d,
			},
			Checks:        []types.CheckResult{{Name: "status is 200", Passed: true}},
			BytesSent:     100,
			BytesReceived: 2000,
		},
		Duration: d + time.Millisecond,
	}
}

func TestMetricsEngine_RecordIteration(t *testing.T) {
	me := NewMetricsEngine()
	start := time.Now()
	me.Start(start)

	var wg sync.WaitGroup
	for vu := 1; vu <= 10; vu++ {
		wg.Add(1)
		go func(vu int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if i == 0 {
					me.RecordIteration(types.IterationResult{
						VU:       vu,
						Start:    time.Now(),
						Err:      errors.New("connection reset"),
						Duration: 5 * time.Millisecond,
					})
					continue
				}
				me.RecordIteration(okResult(vu, 40*time.Millisecond))
			}
		}(vu)
	}
	wg.Wait()
	me.Stop(start.Add(10 * time.Second))

	snap := me.Snapshot()
	assert.Equal(t, int64(100), snap.Stats(metrics.HTTPReqsName).Count)
	assert.Equal(t, int64(10), snap.Stats(metrics.HTTPReqFailedName).NonZero)
	assert.InDelta(t, 0.1, snap.Stats(metrics.HTTPReqFailedName).Rate, 1e-9)
	assert.Equal(t, int64(10), snap.Stats(metrics.HTTPReqDurationName).Failures)
	assert.InDelta(t, 10, snap.Stats(metrics.HTTPReqsName).Rate, 1e-9)
	assert.Equal(t, float64(90*2000), snap.Stats(metrics.DataReceivedName).Sum)
	assert.Equal(t, int64(90), snap.Stats(metrics.ChecksName).Count)
	assert.Equal(t, float64(1), snap.Stats(metrics.ChecksName).Rate)
	assert.InDelta(t, 40, snap.Stats(metrics.HTTPReqDurationName).P95, 0.5)
	assert.InDelta(t, 5, snap.Stats(metrics.HTTPReqDurationName).Min, 0.01)
	assert.Equal(t, int64(100), snap.Stats(metrics.IterationsName).Count)
	assert.Len(t, me.RecentErrors(), 10)
	assert.Zero(t, me.DroppedSamples())
}

func TestMetricsEngine_DropsUnknownSamples(t *testing.T) {
	me := NewMetricsEngine()
	me.Ingest(metrics.Samples{
		{Metric: "bogus", Value: 1},
		{Metric: metrics.HTTPReqsName, Value: 1},
	})
	assert.Equal(t, int64(1), me.DroppedSamples())
	assert.Equal(t, int64(1), me.Snapshot().Stats(metrics.HTTPReqsName).Count)
}

func TestMetricsEngine_ForwardsToOutputs(t *testing.T) {
	me := NewMetricsEngine()
	ch := make(chan metrics.SampleContainer, 4)
	me.SetSampleOutput(ch)

	me.RecordIteration(okResult(1, 10*time.Millisecond))
	me.RecordVUs(3, 5)

	require.Len(t, ch, 2)
	first := <-ch
	assert.Len(t, first.GetSamples(), 14)
	snap := me.Snapshot()
	assert.Equal(t, float64(5), snap.Stats(metrics.VUsMaxName).Max)
	assert.Equal(t, float64(3), snap.Stats(metrics.VUsName).Last)
}

func TestMetricsEngine_AbortOnFail(t *testing.T) {
	me := NewMetricsEngine()
	me.Start(time.Now())
	require.NoError(t, me.InitThresholds(map[string][]ThresholdConfig{
		"http_req_failed":   {{Expression: "rate<0.1", AbortOnFail: true}},
		"http_req_duration": {{Expression: "p(95)<1"}},
	}))

	for i := 0; i < 10; i++ {
		me.RecordIteration(types.IterationResult{VU: 1, Start: time.Now(), Err: errors.New("refused"), Duration: time.Millisecond})
	}

	aborted := make(chan error, 1)
	stop := me.StartThresholdCalculations(10*time.Millisecond, func(err error) { aborted <- err })
	defer stop()

	select {
	case err := <-aborted:
		assert.Contains(t, err.Error(), "http_req_failed rate<0.1")
		assert.NotContains(t, err.Error(), "http_req_duration")
	case <-time.After(2 * time.Second):
		t.Fatal("abortOnFail threshold did not abort the run")
	}

	_, passed := me.EvaluateThresholds(me.Snapshot())
	assert.False(t, passed)
	assert.Equal(t, uint32(2), me.GetBreachedThresholdsCount())
}

func TestMetricsEngine_NoAbortRulesIsNoop(t *testing.T) {
	me := NewMetricsEngine()
	require.NoError(t, me.InitThresholds(map[string][]ThresholdConfig{
		"http_req_duration": {{Expression: "p(95)<1"}},
	}))
	stop := me.StartThresholdCalculations(time.Millisecond, func(error) { t.Fatal("must not abort") })
	time.Sleep(5 * time.Millisecond)
	stop()

	assert.Error(t, me.InitThresholds(map[string][]ThresholdConfig{"x": {{Expression: "nope"}}}))
}

func TestBuildPoint(t *testing.T) {
	r := metrics.NewRegistry()
	metrics.RegisterBuiltinMetrics(r)
	for i := 0; i < 20; i++ {
		_ = r.Ingest(metrics.Sample{Metric: metrics.HTTPReqsName, Value: 1})
	}
	first := r.SnapshotAt(2 * time.Second)
	for i := 0; i < 30; i++ {
		_ = r.Ingest(metrics.Sample{Metric: metrics.HTTPReqsName, Value: 1})
	}
	second := r.SnapshotAt(3 * time.Second)

	p := buildPoint(first, nil, 4)
	assert.InDelta(t, 10, p.QPS, 1e-9)
	assert.Equal(t, int64(4), p.ActiveVUs)

	p = buildPoint(second, first, 4)
	assert.InDelta(t, 30, p.QPS, 1e-9)
	assert.Equal(t, int64(3000), p.ElapsedMs)
}

func TestBuildRealtimeMetrics(t *testing.T) {
	me := NewMetricsEngine()
	me.Start(time.Now().Add(-time.Second))
	me.RecordIteration(okResult(1, 20*time.Millisecond))

	rm := me.BuildRealtimeMetrics("running", func() int64 { return 2 }, func() int64 { return 1 })
	assert.Equal(t, "running", rm.Status)
	assert.Equal(t, int64(2), rm.TotalVUs)
	assert.Contains(t, rm.Metrics, metrics.HTTPReqDurationName)
	assert.NotContains(t, rm.Metrics, metrics.VUsName)
	assert.Zero(t, rm.ErrorRate)
}
