package baseline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/internal/reporter/summary"
	"yqhp/load-engine/internal/workload"
	"yqhp/load-engine/pkg/types"
)

func TestRun_Validation(t *testing.T) {
	_, err := Run(context.Background(), Config{Requests: 1})
	assert.ErrorIs(t, err, ErrNilWorkload)

	ok := types.WorkloadFunc(func(ctx context.Context) (*types.Outcome, error) {
		return &types.Outcome{Status: 200, OK: true}, nil
	})
	_, err = Run(context.Background(), Config{Workload: ok})
	assert.ErrorIs(t, err, ErrNoRequests)
}

func TestRun_SequentialAndPaced(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	wl := types.WorkloadFunc(func(ctx context.Context) (*types.Outcome, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return &types.Outcome{Status: 200, OK: true}, nil
	})

	var seen []int
	res, err := Run(context.Background(), Config{
		Workload: wl,
		Requests: 5,
		Interval: 10 * time.Millisecond,
		OnSample: func(i int, s Sample) { seen = append(seen, i) },
	})
	require.NoError(t, err)

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
	require.Len(t, res.Samples, 5)
	assert.GreaterOrEqual(t, res.Elapsed, 50*time.Millisecond)
	for _, s := range res.Samples {
		assert.True(t, s.Success)
		assert.Equal(t, 200, s.StatusCode)
		assert.GreaterOrEqual(t, s.ResponseTime, 2.0)
	}
}

func TestRun_FailuresAndTimeout(t *testing.T) {
	var calls atomic.Int32
	wl := types.WorkloadFunc(func(ctx context.Context) (*types.Outcome, error) {
		switch calls.Add(1) {
		case 1:
			return &types.Outcome{Status: 500}, nil
		case 2:
			return nil, errors.New("connection refused")
		case 3:
			<-ctx.Done()
			return nil, ctx.Err()
		default:
			return &types.Outcome{Status: 200, OK: true}, nil
		}
	})

	res, err := Run(context.Background(), Config{Workload: wl, Requests: 4, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	require.Len(t, res.Samples, 4)

	assert.Equal(t, Sample{ResponseTime: res.Samples[0].ResponseTime, StatusCode: 500}, res.Samples[0])
	assert.False(t, res.Samples[1].Success)
	assert.Zero(t, res.Samples[1].StatusCode)
	assert.False(t, res.Samples[2].Success)
	assert.GreaterOrEqual(t, res.Samples[2].ResponseTime, 20.0)
	assert.True(t, res.Samples[3].Success)

	assert.Equal(t, 25.0, res.Stats().SuccessRate)
}

func TestRun_Canceled(t *testing.T) {
	wl := types.WorkloadFunc(func(ctx context.Context) (*types.Outcome, error) {
		return &types.Outcome{Status: 200, OK: true}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	res, err := Run(ctx, Config{
		Workload: wl,
		Requests: 100,
		Interval: time.Hour,
		OnSample: func(int, Sample) { cancel() },
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Len(t, res.Samples, 1)
}

func TestRun_HTTPWorkload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `[{"id":1}]`)
	}))
	defer srv.Close()

	for _, tt := range []struct {
		url     string
		success bool
		status  int
	}{
		{srv.URL + "/posts", true, http.StatusOK},
		{srv.URL + "/posts?fail=1", false, http.StatusServiceUnavailable},
	} {
		wl, err := workload.NewHTTPWorkload(workload.HTTPConfig{URL: tt.url})
		require.NoError(t, err)

		res, err := Run(context.Background(), Config{Workload: wl, Requests: 3})
		wl.Close()
		require.NoError(t, err)
		for _, s := range res.Samples {
			assert.Equal(t, tt.success, s.Success, tt.url)
			assert.Equal(t, tt.status, s.StatusCode, tt.url)
			assert.Positive(t, s.ResponseTime)
		}
	}
}

func TestResult_Stats(t *testing.T) {
	assert.Equal(t, Stats{}, (&Result{}).Stats())

	res := &Result{Elapsed: 50 * time.Second}
	for i := 1; i <= 100; i++ {
		res.Samples = append(res.Samples, Sample{ResponseTime: float64(i), StatusCode: 200, Success: i%10 != 0})
	}
	st := res.Stats()
	assert.Equal(t, 100, st.Requests)
	assert.InDelta(t, 50.5, st.AvgResponseTime, 1e-9)
	assert.InDelta(t, 95, st.P95ResponseTime, 1)
	assert.InDelta(t, 90, st.SuccessRate, 1e-9)
	assert.InDelta(t, 2, st.Throughput, 1e-9)
}

func TestCompare(t *testing.T) {
	load := &summary.Summary{AvgResponseTime: 150, P95ResponseTime: 300, Throughput: 20, SuccessRate: 99.5}
	base := Stats{Requests: 60, AvgResponseTime: 100, Throughput: 1, SuccessRate: 100}

	c := Compare(load, base)
	assert.InDelta(t, 50, c.ResponseTimeImpact, 1e-9)
	assert.InDelta(t, 20, c.ThroughputMultiple, 1e-9)
	assert.Equal(t, summary.AssessmentExcellent, c.Assessment)

	text := RenderComparison(c)
	for _, want := range []string{
		"   • Response Time Impact: +50.0%\n",
		"   • Throughput Improvement: 20.0x\n",
		"   • Baseline Avg Response: 100.0ms\n",
		"   • Baseline Success Rate: 100.0%\n",
		"🎉 Assessment: EXCELLENT\n",
	} {
		assert.Contains(t, text, want)
	}

	faster := Compare(&summary.Summary{AvgResponseTime: 80}, base)
	assert.Contains(t, RenderComparison(faster), "Response Time Impact: -20.0%")

	empty := Compare(load, Stats{})
	assert.Zero(t, empty.ResponseTimeImpact)
	assert.Zero(t, empty.ThroughputMultiple)

	none := Compare(nil, base)
	assert.Equal(t, summary.AssessmentNeedsImprovement, none.Assessment)
}

func TestCSVRoundTrip(t *testing.T) {
	res := &Result{Samples: []Sample{
		{ResponseTime: 101.234, StatusCode: 200, Success: true},
		{ResponseTime: 5000, StatusCode: 0},
	}}

	var buf bytes.Buffer
	require.NoError(t, res.WriteCSV(&buf))
	assert.Equal(t, "response_time,status_code,success\n101.23,200,1\n5000.00,0,0\n", buf.String())

	back, err := ReadCSV(strings.NewReader(buf.String()), DefaultInterval)
	require.NoError(t, err)
	require.Len(t, back.Samples, 2)
	assert.InDelta(t, 101.23, back.Samples[0].ResponseTime, 1e-9)
	assert.True(t, back.Samples[0].Success)
	assert.False(t, back.Samples[1].Success)
	assert.Equal(t, 2*time.Second, back.Elapsed)
}

func TestReadCSV_Errors(t *testing.T) {
	for _, in := range []string{
		"",
		"metric,value,unit\n",
		"response_time,status_code,success\nfast,200,1\n",
		"response_time,status_code,success\n1.0,ok,1\n",
		"response_time,status_code,success\n1.0,200\n",
	} {
		_, err := ReadCSV(strings.NewReader(in), DefaultInterval)
		assert.ErrorIs(t, err, ErrMalformedCSV, "%q", in)
	}
}
