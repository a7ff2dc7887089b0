package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/internal/reporter/summary"
)

func TestCSVReporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "k6_metrics_summary.csv")
	r := NewCSVReporter(path)
	assert.Equal(t, "csv-file", r.Name())
	assert.Equal(t, path, r.Path())

	s := &summary.Summary{TotalRequests: 100, FailedRequests: 10, SuccessRate: 90}
	require.NoError(t, r.Report(context.Background(), s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, summary.RenderCSV(s), string(data))

	back, err := summary.ParseCSV(string(data))
	require.NoError(t, err)
	assert.Equal(t, int64(10), back.FailedRequests)

	// 覆盖写入
	s.TotalRequests = 5
	require.NoError(t, r.Report(context.Background(), s))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "total_requests,5,count")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestTextReporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.txt")
	r := NewTextReporter(path)
	assert.Equal(t, "text-file", r.Name())

	s := &summary.Summary{TotalRequests: 1500}
	require.NoError(t, r.Report(context.Background(), s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Total Requests: 1,500")
}

func TestReporter_UnwritableDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	r := NewCSVReporter(filepath.Join(blocker, "summary.csv"))
	assert.Error(t, r.Report(context.Background(), &summary.Summary{}))
}
