package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/internal/config"
	"yqhp/load-engine/internal/reporter/summary"
	"yqhp/load-engine/internal/workload"
	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/types"
)

func newTarget(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `[{"id":1},{"id":2}]`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// testConfig returns the warm-up plan with every second mapped to a millisecond.
func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Target.URL = url
	cfg.Execution.Stages = config.Stages{
		{Duration: 30 * time.Millisecond, Target: 5},
		{Duration: 30 * time.Millisecond, Target: 5},
		{Duration: 30 * time.Millisecond, Target: 25},
		{Duration: 90 * time.Millisecond, Target: 25},
		{Duration: 30 * time.Millisecond, Target: 0},
	}
	cfg.Execution.GracefulRampDown = 20 * time.Millisecond
	cfg.Execution.Timeout = 2 * time.Second
	cfg.Execution.Tick = 5 * time.Millisecond
	cfg.Execution.ThresholdInterval = 10 * time.Millisecond
	cfg.Summary.CSV = filepath.Join(dir, config.DefaultSummaryCSV)
	cfg.Summary.Stdout = false
	return cfg
}

func longPlan(cfg *config.Config) {
	cfg.Execution.Stages = config.Stages{
		{Duration: time.Millisecond, Target: 3},
		{Duration: 10 * time.Second, Target: 3},
	}
	cfg.Execution.GracefulRampDown = 0
}

func TestRun_RequiresConfig(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	assert.Error(t, err)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Target.URL = ""

	res, err := Run(context.Background(), Options{Config: cfg})
	require.Error(t, err)
	assert.Nil(t, res)

	var cfgErr *types.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRun_UnknownOutput(t *testing.T) {
	srv := newTarget(t, http.StatusOK)
	cfg := testConfig(t, srv.URL)
	cfg.Outputs = []string{"carrier-pigeon"}

	_, err := Run(context.Background(), Options{Config: cfg})
	var cfgErr *types.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "outputs", cfgErr.Field)
}

func TestRun_CompressedWarmup(t *testing.T) {
	srv := newTarget(t, http.StatusOK)

	hooks := make(chan []byte, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		hooks <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	cfg := testConfig(t, srv.URL)
	dir := filepath.Dir(cfg.Summary.CSV)
	cfg.Summary.Text = filepath.Join(dir, "summary.txt")
	cfg.Summary.TimeSeries = filepath.Join(dir, "timeseries.csv")
	cfg.Summary.Stdout = true
	cfg.Outputs = []string{"json=" + filepath.Join(dir, "samples.json")}
	cfg.Webhook.URL = hook.URL
	cfg.Target.Checks = []workload.CheckConfig{{Status: 200}, {JSONPath: "$[0].id", Equals: "1"}}
	cfg.Thresholds = map[string][]config.Threshold{
		"http_req_duration": {{Expression: "p(95)<500"}},
		"http_req_failed":   {{Expression: "rate<0.1"}},
	}

	var stdout bytes.Buffer
	var registered atomic.Bool
	res, err := Run(context.Background(), Options{
		Config: cfg,
		Stdout: &stdout,
		OnStart: func(runID string) {
			registered.Store(controlsurface.Get(runID) != nil)
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, registered.Load())
	assert.Nil(t, controlsurface.Get(res.RunID))
	assert.False(t, res.Aborted)
	assert.True(t, res.ThresholdsPassed)
	assert.Len(t, res.Thresholds, 2)

	s := res.Summary
	assert.Positive(t, s.TotalRequests)
	assert.Zero(t, s.FailedRequests)
	assert.Equal(t, 100.0, s.SuccessRate)
	assert.Positive(t, s.MaxUsers)
	assert.LessOrEqual(t, s.MaxUsers, int64(25))
	assert.Equal(t, s.Checks, s.ChecksPassed)
	assert.Equal(t, 2*s.TotalRequests, s.Checks)
	assert.GreaterOrEqual(t, res.Duration, 210*time.Millisecond)

	data, err := os.ReadFile(cfg.Summary.CSV)
	require.NoError(t, err)
	parsed, err := summary.ParseCSV(string(data))
	require.NoError(t, err)
	assert.Equal(t, s.TotalRequests, parsed.TotalRequests)
	assert.Equal(t, s.MaxUsers, parsed.MaxUsers)

	text, err := os.ReadFile(cfg.Summary.Text)
	require.NoError(t, err)
	assert.Contains(t, string(text), "K6 Performance Test Results")
	assert.Contains(t, string(text), "🎉 Assessment: ")
	assert.Contains(t, stdout.String(), "Target: "+srv.URL)

	series, err := os.ReadFile(cfg.Summary.TimeSeries)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(series)), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "time_seconds,active_users,"))
	assert.Len(t, lines, 1+len(res.TimeSeries))

	samples, err := os.ReadFile(filepath.Join(dir, "samples.json"))
	require.NoError(t, err)
	assert.Contains(t, string(samples), `"http_req_duration"`)

	select {
	case body := <-hooks:
		var payload struct {
			Event  string `json:"event"`
			RunID  string `json:"run_id"`
			Passed bool   `json:"passed"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, res.RunID, payload.RunID)
		assert.True(t, payload.Passed)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestRun_FailedThresholdsStillReport(t *testing.T) {
	srv := newTarget(t, http.StatusInternalServerError)
	cfg := testConfig(t, srv.URL)
	cfg.Thresholds = map[string][]config.Threshold{
		"http_req_failed": {{Expression: "rate<0.1"}},
	}

	res, err := Run(context.Background(), Options{Config: cfg})
	require.NoError(t, err)

	assert.False(t, res.ThresholdsPassed)
	assert.False(t, res.Aborted)
	require.Len(t, res.Thresholds, 1)
	assert.False(t, res.Thresholds[0].Passed)
	assert.Equal(t, res.Summary.TotalRequests, res.Summary.FailedRequests)
	assert.Equal(t, 0.0, res.Summary.SuccessRate)

	_, err = os.Stat(cfg.Summary.CSV)
	assert.NoError(t, err)
}

func TestRun_AbortOnFail(t *testing.T) {
	srv := newTarget(t, http.StatusInternalServerError)
	cfg := testConfig(t, srv.URL)
	longPlan(cfg)
	cfg.Thresholds = map[string][]config.Threshold{
		"http_req_failed": {{Expression: "rate<0.1", AbortOnFail: true}},
	}

	res, err := Run(context.Background(), Options{Config: cfg})
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	require.Error(t, res.AbortReason)
	assert.Contains(t, res.AbortReason.Error(), "abortOnFail")
	assert.Less(t, res.Duration, 5*time.Second)
	assert.False(t, res.ThresholdsPassed)
}

func TestRun_StopThroughControlSurface(t *testing.T) {
	srv := newTarget(t, http.StatusOK)
	cfg := testConfig(t, srv.URL)
	longPlan(cfg)

	res, err := Run(context.Background(), Options{
		Config: cfg,
		OnStart: func(runID string) {
			go func() {
				time.Sleep(50 * time.Millisecond)
				if cs := controlsurface.Get(runID); cs != nil {
					_ = cs.StopExecution()
				}
			}()
		},
	})
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.ErrorIs(t, res.AbortReason, ErrStoppedByUser)
	assert.Less(t, res.Duration, 5*time.Second)
	assert.Positive(t, res.Summary.TotalRequests)
}

func TestRun_ContextCanceledStillWritesReports(t *testing.T) {
	srv := newTarget(t, http.StatusOK)
	cfg := testConfig(t, srv.URL)
	longPlan(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := Run(ctx, Options{Config: cfg})
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.ErrorIs(t, res.AbortReason, context.DeadlineExceeded)

	_, err = os.Stat(cfg.Summary.CSV)
	assert.NoError(t, err)
}

func TestRun_CustomWorkloadAndProgress(t *testing.T) {
	cfg := testConfig(t, "http://localhost:1/unused")
	cfg.Execution.Stages = config.Stages{
		{Duration: 50 * time.Millisecond, Target: 2},
		{Duration: 50 * time.Millisecond, Target: 2},
	}
	cfg.Execution.GracefulRampDown = 0

	var calls atomic.Int64
	wl := types.WorkloadFunc(func(ctx context.Context) (*types.Outcome, error) {
		calls.Add(1)
		time.Sleep(time.Millisecond)
		return &types.Outcome{Status: 200, OK: true, Timings: types.Timings{Duration: time.Millisecond}}, nil
	})

	var progress atomic.Int64
	var lastRunID atomic.Value
	res, err := Run(context.Background(), Options{
		Config:           cfg,
		Workload:         wl,
		ProgressInterval: 10 * time.Millisecond,
		OnProgress: func(p Progress) {
			progress.Add(1)
			lastRunID.Store(p.RunID)
			assert.Equal(t, 100*time.Millisecond, p.PlanDuration)
		},
	})
	require.NoError(t, err)

	assert.Positive(t, progress.Load())
	assert.Equal(t, res.RunID, lastRunID.Load())
	// every started iteration is recorded, including the ones in flight at the final stop
	assert.Equal(t, calls.Load(), res.Summary.TotalRequests)
	assert.Equal(t, int64(2), res.Summary.MaxUsers)
	assert.True(t, strings.HasSuffix(res.Summary.Meta.ResultsPath, config.DefaultSummaryCSV))
}
