package summary

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CSV units.
const (
	UnitCount     = "count"
	UnitPercent   = "percent"
	UnitMs        = "ms"
	UnitReqPerSec = "req_per_sec"
	UnitSeconds   = "seconds"
)

var csvHeader = []string{"metric", "value", "unit"}

// ErrMalformedCSV is returned by ParseCSV for input that is not a summary.
var ErrMalformedCSV = errors.New("malformed summary csv")

type row struct {
	name    string
	unit    string
	integer bool
	get     func(*Summary) float64
	set     func(*Summary, float64)
}

// rows is the fixed CSV layout, in output order.
var rows = []row{
	{"total_requests", UnitCount, true,
		func(s *Summary) float64 { return float64(s.TotalRequests) },
		func(s *Summary, v float64) { s.TotalRequests = int64(v) }},
	{"failed_requests", UnitCount, true,
		func(s *Summary) float64 { return float64(s.FailedRequests) },
		func(s *Summary, v float64) { s.FailedRequests = int64(v) }},
	{"success_rate", UnitPercent, false,
		func(s *Summary) float64 { return s.SuccessRate },
		func(s *Summary, v float64) { s.SuccessRate = v }},
	{"avg_response_time", UnitMs, false,
		func(s *Summary) float64 { return s.AvgResponseTime },
		func(s *Summary, v float64) { s.AvgResponseTime = v }},
	{"min_response_time", UnitMs, false,
		func(s *Summary) float64 { return s.MinResponseTime },
		func(s *Summary, v float64) { s.MinResponseTime = v }},
	{"max_response_time", UnitMs, false,
		func(s *Summary) float64 { return s.MaxResponseTime },
		func(s *Summary, v float64) { s.MaxResponseTime = v }},
	{"median_response_time", UnitMs, false,
		func(s *Summary) float64 { return s.MedianResponseTime },
		func(s *Summary, v float64) { s.MedianResponseTime = v }},
	{"p90_response_time", UnitMs, false,
		func(s *Summary) float64 { return s.P90ResponseTime },
		func(s *Summary, v float64) { s.P90ResponseTime = v }},
	{"p95_response_time", UnitMs, false,
		func(s *Summary) float64 { return s.P95ResponseTime },
		func(s *Summary, v float64) { s.P95ResponseTime = v }},
	{"p99_response_time", UnitMs, false,
		func(s *Summary) float64 { return s.P99ResponseTime },
		func(s *Summary, v float64) { s.P99ResponseTime = v }},
	{"throughput", UnitReqPerSec, false,
		func(s *Summary) float64 { return s.Throughput },
		func(s *Summary, v float64) { s.Throughput = v }},
	{"max_users", UnitCount, true,
		func(s *Summary) float64 { return float64(s.MaxUsers) },
		func(s *Summary, v float64) { s.MaxUsers = int64(v) }},
	{"test_duration", UnitSeconds, false,
		func(s *Summary) float64 { return s.TestDuration },
		func(s *Summary, v float64) { s.TestDuration = v }},
	{"avg_blocked_time", UnitMs, false,
		func(s *Summary) float64 { return s.AvgBlockedTime },
		func(s *Summary, v float64) { s.AvgBlockedTime = v }},
	{"avg_connecting_time", UnitMs, false,
		func(s *Summary) float64 { return s.AvgConnectingTime },
		func(s *Summary, v float64) { s.AvgConnectingTime = v }},
	{"avg_tls_handshake_time", UnitMs, false,
		func(s *Summary) float64 { return s.AvgTLSHandshakeTime },
		func(s *Summary, v float64) { s.AvgTLSHandshakeTime = v }},
	{"avg_sending_time", UnitMs, false,
		func(s *Summary) float64 { return s.AvgSendingTime },
		func(s *Summary, v float64) { s.AvgSendingTime = v }},
	{"avg_waiting_time", UnitMs, false,
		func(s *Summary) float64 { return s.AvgWaitingTime },
		func(s *Summary, v float64) { s.AvgWaitingTime = v }},
	{"avg_receiving_time", UnitMs, false,
		func(s *Summary) float64 { return s.AvgReceivingTime },
		func(s *Summary, v float64) { s.AvgReceivingTime = v }},
}

// CSVMetrics returns the row names in output order.
func CSVMetrics() []string {
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.name
	}
	return names
}

func formatValue(r row, v float64) string {
	if r.integer {
		return strconv.FormatInt(int64(v), 10)
	}
	out := strconv.FormatFloat(v, 'f', 2, 64)
	if out == "-0.00" {
		out = "0.00"
	}
	return out
}

// RenderCSV renders the summary as "metric,value,unit" rows. Counts are integers,
// everything else has two decimals.
func RenderCSV(s *Summary) string {
	if s == nil {
		s = &Summary{}
	}
	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write(csvHeader)
	for _, r := range rows {
		_ = w.Write([]string{r.name, formatValue(r, r.get(s)), r.unit})
	}
	w.Flush()
	return b.String()
}

// ParseCSV reads a rendered summary back. Unknown rows are ignored, so files from
// newer versions still parse; missing rows read as zero.
func ParseCSV(data string) (*Summary, error) {
	records, err := csv.NewReader(strings.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCSV, err)
	}
	if len(records) == 0 || strings.Join(records[0], ",") != strings.Join(csvHeader, ",") {
		return nil, fmt.Errorf("%w: missing header", ErrMalformedCSV)
	}

	byName := make(map[string]row, len(rows))
	for _, r := range rows {
		byName[r.name] = r
	}

	s := &Summary{}
	for i, rec := range records[1:] {
		if len(rec) != len(csvHeader) {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrMalformedCSV, i+2, len(rec))
		}
		r, ok := byName[rec[0]]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedCSV, rec[0], err)
		}
		if rec[2] != r.unit {
			return nil, fmt.Errorf("%w: %s: unit %q, want %q", ErrMalformedCSV, rec[0], rec[2], r.unit)
		}
		r.set(s, v)
	}
	return s, nil
}
