package file

import (
	"bytes"
	"context"
	"encoding/csv"
	"strconv"

	"yqhp/load-engine/internal/reporter/summary"
	"yqhp/load-engine/pkg/controlsurface"
)

// TimeSeriesHeader is the column layout of the per-second CSV export.
var TimeSeriesHeader = []string{
	"time_seconds", "active_users", "iterations", "requests_per_sec", "error_rate",
	"avg_response_time", "p50_response_time", "p90_response_time", "p95_response_time",
	"p99_response_time", "data_sent_per_sec", "data_received_per_sec",
}

// TimeSeriesReporter writes the points collected during the run, one row per
// second. The summary passed to Report is not used.
type TimeSeriesReporter struct {
	path   string
	points func() []*controlsurface.TimeSeriesPoint
}

// NewTimeSeriesReporter creates a reporter writing the points returned by
// points to path.
func NewTimeSeriesReporter(path string, points func() []*controlsurface.TimeSeriesPoint) *TimeSeriesReporter {
	return &TimeSeriesReporter{path: path, points: points}
}

// Name returns the reporter name.
func (r *TimeSeriesReporter) Name() string {
	return "timeseries-file"
}

// Path returns the output file path.
func (r *TimeSeriesReporter) Path() string {
	return r.path
}

// Report writes the CSV file.
func (r *TimeSeriesReporter) Report(_ context.Context, _ *summary.Summary) error {
	var points []*controlsurface.TimeSeriesPoint
	if r.points != nil {
		points = r.points()
	}
	data, err := RenderTimeSeriesCSV(points)
	if err != nil {
		return err
	}
	return writeFileAtomic(r.path, data)
}

// RenderTimeSeriesCSV renders points under TimeSeriesHeader. Nil points are skipped.
func RenderTimeSeriesCSV(points []*controlsurface.TimeSeriesPoint) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(TimeSeriesHeader); err != nil {
		return nil, err
	}
	for _, p := range points {
		if p == nil {
			continue
		}
		rec := []string{
			strconv.FormatFloat(float64(p.ElapsedMs)/1000, 'f', 3, 64),
			strconv.FormatInt(p.ActiveVUs, 10),
			strconv.FormatInt(p.Iterations, 10),
			formatFloat(p.QPS),
			formatFloat(p.ErrorRate),
			formatFloat(p.AvgRT),
			formatFloat(p.P50RT),
			formatFloat(p.P90RT),
			formatFloat(p.P95RT),
			formatFloat(p.P99RT),
			formatFloat(p.DataSentPerSec),
			formatFloat(p.DataReceivedPerSec),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
