package cmd

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/internal/reporter/summary"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := ExecuteArgs(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func newTarget(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `[{"id":1}]`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func shortRunArgs(url, csv string) []string {
	return []string{
		"run",
		"--url", url,
		"--stage", "20ms:2",
		"--stage", "20ms:0",
		"--graceful-ramp-down", "10ms",
		"--summary-csv", csv,
		"--set", "execution.tick=5ms",
		"--no-color",
	}
}

func TestVersion(t *testing.T) {
	code, stdout, _ := execute(t, "version")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "load-engine "+Version)
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warmup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target:
  url: https://jsonplaceholder.typicode.com/posts
execution:
  stages:
    - { duration: 30s, target: 5 }
    - { duration: 30s, target: 5 }
    - { duration: 30s, target: 25 }
    - { duration: 90s, target: 25 }
    - { duration: 30s, target: 0 }
  graceful_ramp_down: 1s
thresholds:
  http_req_failed:
    - threshold: rate<0.1
      abort_on_fail: true
`), 0o644))

	code, stdout, stderr := execute(t, "validate", path)
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "阶段 5: 30s → 0 VUs")
	assert.Contains(t, stdout, "计划时长: 3 minutes 30 seconds, 最大 VU: 25, ramp-up: 1 minute")
	assert.Contains(t, stdout, "http_req_failed rate<0.1 (abort on fail)")
}

func TestValidate_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		code, _, stderr := execute(t, "validate", filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Equal(t, ExitError, code)
		assert.Contains(t, stderr, "config error")
	})

	t.Run("invalid config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("execution:\n  stages:\n    - { duration: 10s, target: -1 }\n"), 0o644))

		code, _, stderr := execute(t, "validate", path)
		assert.Equal(t, ExitError, code)
		assert.Contains(t, stderr, "target.url")
		assert.Contains(t, stderr, "execution.stages[0].target")
	})

	t.Run("bad threshold", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
target: { url: "http://localhost:1" }
execution:
  stages: [{ duration: 10s, target: 1 }]
thresholds:
  http_req_duration: ["p95 less than 500"]
`), 0o644))

		code, _, _ := execute(t, "validate", path)
		assert.Equal(t, ExitError, code)
	})
}

func TestRun_FlagsOnly(t *testing.T) {
	srv := newTarget(t, http.StatusOK)
	csv := filepath.Join(t.TempDir(), "summary.csv")

	args := append(shortRunArgs(srv.URL, csv), "--threshold", "http_req_failed=rate<0.1")
	code, stdout, stderr := execute(t, args...)
	require.Equal(t, ExitOK, code, stderr)

	assert.Contains(t, stdout, "K6 Performance Test Results")
	assert.Contains(t, stdout, "Target: "+srv.URL)
	assert.Contains(t, stdout, "✓ thresholds: 1 passed")

	data, err := os.ReadFile(csv)
	require.NoError(t, err)
	assert.Contains(t, string(data), "metric,value,unit\n")
}

func TestRun_ThresholdsFailedExitCode(t *testing.T) {
	srv := newTarget(t, http.StatusInternalServerError)
	csv := filepath.Join(t.TempDir(), "summary.csv")

	args := append(shortRunArgs(srv.URL, csv), "--threshold", "http_req_failed=rate<0.1")
	code, stdout, _ := execute(t, args...)
	assert.Equal(t, ExitThresholdsFailed, code)
	assert.Contains(t, stdout, "✗ thresholds: 0 passed, 1 failed")

	_, err := os.Stat(csv)
	assert.NoError(t, err)
}

func TestRun_Quiet(t *testing.T) {
	srv := newTarget(t, http.StatusOK)
	csv := filepath.Join(t.TempDir(), "summary.csv")

	args := append(shortRunArgs(srv.URL, csv), "--quiet")
	code, stdout, stderr := execute(t, args...)
	require.Equal(t, ExitOK, code, stderr)
	assert.Empty(t, stdout)
}

func TestRun_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no url", []string{"run", "--stage", "1s:1"}},
		{"bad stage", []string{"run", "--url", "http://localhost:1", "--stage", "soon:5"}},
		{"bad set", []string{"run", "--url", "http://localhost:1", "--stage", "1s:1", "--set", "novalue"}},
		{"unknown set path", []string{"run", "--url", "http://localhost:1", "--stage", "1s:1", "--set", "target.nope=1"}},
		{"bad threshold flag", []string{"run", "--url", "http://localhost:1", "--stage", "1s:1", "--threshold", "rate<0.1"}},
		{"missing config file", []string{"run", filepath.Join(os.TempDir(), "does-not-exist.yaml")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, tt.args...)
			assert.Equal(t, ExitError, code)
			assert.NotEmpty(t, stderr)
		})
	}
}

func TestBaseline(t *testing.T) {
	srv := newTarget(t, http.StatusOK)
	dir := t.TempDir()
	out := filepath.Join(dir, "single_user_baseline.csv")

	code, stdout, stderr := execute(t, "baseline", "--url", srv.URL, "-n", "3", "--interval", "1ms", "--out", out, "--no-color")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "   • Requests: 3\n")
	assert.Contains(t, stdout, "   • Success Rate: 100.0%\n")
	assert.Contains(t, stdout, "✅ Baseline saved to: "+out)
	assert.NotContains(t, stdout, "Baseline Comparison")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "response_time,status_code,success", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",200,1"))
}

func TestBaseline_Compare(t *testing.T) {
	srv := newTarget(t, http.StatusOK)
	dir := t.TempDir()
	loadCSV := filepath.Join(dir, "k6_metrics_summary.csv")
	require.NoError(t, os.WriteFile(loadCSV, []byte(summary.RenderCSV(&summary.Summary{
		TotalRequests:   1000,
		SuccessRate:     99.5,
		AvgResponseTime: 120,
		P95ResponseTime: 300,
		Throughput:      25,
	})), 0o644))

	code, stdout, stderr := execute(t, "baseline", "--url", srv.URL, "-n", "2", "--interval", "1ms", "--out", "", "--compare", loadCSV)
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "📈 Baseline Comparison:")
	assert.Contains(t, stdout, "Throughput Improvement: ")
	assert.Contains(t, stdout, "🎉 Assessment: EXCELLENT")
	assert.NotContains(t, stdout, "Baseline saved to")
}

func TestBaseline_Errors(t *testing.T) {
	srv := newTarget(t, http.StatusOK)
	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("not,a,summary\n"), 0o644))

	tests := []struct {
		name string
		args []string
	}{
		{"no url", []string{"baseline", "--out", ""}},
		{"no requests", []string{"baseline", "--url", srv.URL, "-n", "0", "--out", ""}},
		{"missing compare file", []string{"baseline", "--url", srv.URL, "--compare", filepath.Join(t.TempDir(), "nope.csv")}},
		{"malformed compare file", []string{"baseline", "--url", srv.URL, "--compare", bad}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, tt.args...)
			assert.Equal(t, ExitError, code)
			assert.NotEmpty(t, stderr)
		})
	}
}
