package metrics

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	RegisterBuiltinMetrics(r)
	return r
}

func TestRegistry_NewMetric(t *testing.T) {
	r := NewRegistry()

	m, err := r.NewMetric("custom", Trend, Time)
	require.NoError(t, err)
	assert.Equal(t, "custom", m.Name)
	assert.Equal(t, Time, m.Contains)

	again, err := r.NewMetric("custom", Trend)
	require.NoError(t, err)
	assert.Same(t, m, again)

	_, err = r.NewMetric("custom", Counter)
	assert.ErrorIs(t, err, ErrMetricExists)

	_, err = r.NewMetric("", Counter)
	assert.ErrorIs(t, err, ErrInvalidMetricName)

	assert.Nil(t, r.Get("missing"))
	assert.Len(t, r.All(), 1)
}

func TestRegistry_IngestUnknownMetric(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Ingest(Sample{Metric: "no_such_metric", Value: 1})
	require.Error(t, err)

	var ingestErr *IngestionError
	require.True(t, errors.As(err, &ingestErr))
	assert.Equal(t, "no_such_metric", ingestErr.Metric)
	assert.ErrorIs(t, err, ErrUnknownMetric)

	// registry stays usable
	require.NoError(t, r.Ingest(Sample{Metric: HTTPReqsName, Value: 1}))
	assert.Equal(t, int64(1), r.SnapshotAt(time.Second).Stats(HTTPReqsName).Count)
}

func TestRegistry_IngestInvalidValue(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Ingest(Sample{Metric: HTTPReqDurationName, Value: math.NaN()})
	var ingestErr *IngestionError
	assert.True(t, errors.As(err, &ingestErr))
	assert.Zero(t, r.SnapshotAt(time.Second).Stats(HTTPReqDurationName).Count)
}

func TestRegistry_P95OfUniformRange(t *testing.T) {
	r := newTestRegistry(t)
	for i := 1; i <= 1000; i++ {
		require.NoError(t, r.Ingest(Sample{Metric: HTTPReqDurationName, Value: float64(i)}))
	}

	st := r.SnapshotAt(10 * time.Second).Stats(HTTPReqDurationName)
	assert.InDelta(t, 950, st.P95, 950*0.02)
	assert.InDelta(t, 500, st.Med, 500*0.02)
	assert.InDelta(t, 990, st.P99, 990*0.02)
	assert.Equal(t, float64(1), st.Min)
	assert.Equal(t, float64(1000), st.Max)
	assert.InDelta(t, 500.5, st.Avg, 1e-9)
	assert.Equal(t, int64(1000), st.Count)
	assert.InDelta(t, 100, st.Rate, 1e-9)
	assert.InDelta(t, 950, st.Percentile(95), 950*0.02)
	assert.Equal(t, st.Min, st.Percentile(0))
	assert.Equal(t, st.Max, st.Percentile(100))
}

func TestRegistry_ConcurrentIngestConservesCounts(t *testing.T) {
	r := newTestRegistry(t)

	const workers = 16
	const perWorker = 2000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				failed := 0.0
				tags := map[string]string{TagOutcome: OutcomeSuccess}
				if i%10 == 0 {
					failed = 1
					tags = map[string]string{TagOutcome: OutcomeFailure}
				}
				_ = r.Ingest(Sample{Metric: HTTPReqsName, Value: 1, Tags: tags})
				_ = r.Ingest(Sample{Metric: HTTPReqFailedName, Value: failed, Tags: tags})
				_ = r.Ingest(Sample{Metric: HTTPReqDurationName, Value: float64(i%100 + 1), Tags: tags})
			}
		}(w)
	}

	// snapshots taken concurrently with ingestion must not race
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = r.SnapshotAt(time.Second)
		}
	}()

	wg.Wait()
	<-done

	snap := r.SnapshotAt(time.Second)
	total := int64(workers * perWorker)
	assert.Equal(t, total, snap.Stats(HTTPReqsName).Count)
	assert.Equal(t, float64(total), snap.Stats(HTTPReqsName).Sum)
	assert.Equal(t, total, snap.Stats(HTTPReqDurationName).Count)
	assert.Equal(t, total/10, snap.Stats(HTTPReqFailedName).NonZero)
	assert.Equal(t, total/10, snap.Stats(HTTPReqsName).Failures)
	assert.InDelta(t, 0.1, snap.Stats(HTTPReqFailedName).Rate, 1e-9)
}

func TestRegistry_SnapshotIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	current := start
	r.SetClock(func() time.Time { return current })
	r.Start(start)

	for i := 1; i <= 200; i++ {
		require.NoError(t, r.Ingest(Sample{Metric: HTTPReqDurationName, Value: float64(i) * 1.5}))
		require.NoError(t, r.Ingest(Sample{Metric: HTTPReqsName, Value: 1}))
	}

	current = start.Add(20 * time.Second)
	r.Stop(current)
	first := r.Snapshot()

	current = start.Add(time.Hour)
	second := r.Snapshot()

	assert.Equal(t, first, second)
	assert.Equal(t, 20*time.Second, second.Elapsed)
	assert.InDelta(t, 10, second.Stats(HTTPReqsName).Rate, 1e-9)
}

func TestRegistry_EmptySnapshot(t *testing.T) {
	r := newTestRegistry(t)
	snap := r.Snapshot()

	assert.Equal(t, time.Duration(0), snap.Elapsed)
	for _, name := range snap.Names() {
		st := snap.Stats(name)
		assert.Zero(t, st.Count, name)
		assert.Zero(t, st.Avg, name)
		assert.Zero(t, st.Rate, name)
		assert.Zero(t, st.P95, name)
	}

	missing := snap.Stats("missing")
	assert.Zero(t, missing.Count)
	_, ok := snap.Get("missing")
	assert.False(t, ok)
}

func TestMetricStats_Value(t *testing.T) {
	r := newTestRegistry(t)
	for i := 1; i <= 100; i++ {
		_ = r.Ingest(Sample{Metric: HTTPReqDurationName, Value: float64(i)})
		_ = r.Ingest(Sample{Metric: HTTPReqsName, Value: 1})
	}
	_ = r.Ingest(Sample{Metric: HTTPReqFailedName, Value: 1})
	_ = r.Ingest(Sample{Metric: HTTPReqFailedName, Value: 0})
	_ = r.Ingest(Sample{Metric: HTTPReqFailedName, Value: 0})
	_ = r.Ingest(Sample{Metric: HTTPReqFailedName, Value: 0})
	_ = r.Ingest(Sample{Metric: VUsMaxName, Value: 3})
	_ = r.Ingest(Sample{Metric: VUsMaxName, Value: 7})
	_ = r.Ingest(Sample{Metric: VUsMaxName, Value: 5})

	snap := r.SnapshotAt(4 * time.Second)

	dur := snap.Stats(HTTPReqDurationName)
	v, ok := dur.Value("p(90)")
	require.True(t, ok)
	assert.InDelta(t, 90, v, 1)
	v, ok = dur.Value("avg")
	require.True(t, ok)
	assert.InDelta(t, 50.5, v, 1e-9)
	_, ok = dur.Value("p(101)")
	assert.False(t, ok)
	_, ok = dur.Value("bogus")
	assert.False(t, ok)

	reqs := snap.Stats(HTTPReqsName)
	v, _ = reqs.Value("count")
	assert.Equal(t, float64(100), v)
	v, _ = reqs.Value("rate")
	assert.InDelta(t, 25, v, 1e-9)
	_, ok = reqs.Value("p(95)")
	assert.False(t, ok)

	failed := snap.Stats(HTTPReqFailedName)
	v, _ = failed.Value("rate")
	assert.InDelta(t, 0.25, v, 1e-9)
	assert.Equal(t, map[string]float64{"rate": 0.25, "passes": 1, "fails": 3}, failed.Values())

	vus := snap.Stats(VUsMaxName)
	assert.Equal(t, float64(7), vus.Max)
	assert.Equal(t, float64(5), vus.Last)
}

func TestParsePercentile(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"p(95)", 95, true},
		{"p(99.9)", 99.9, true},
		{"p(0)", 0, true},
		{"p(100)", 100, true},
		{"p(101)", 0, false},
		{"p(x)", 0, false},
		{"p95", 0, false},
		{"avg", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePercentile(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
