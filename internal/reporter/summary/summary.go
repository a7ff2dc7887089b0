// Package summary turns a final metrics snapshot into the end-of-test report: a
// fixed set of key figures rendered as CSV and as human readable text.
package summary

import (
	"math"
	"time"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// Meta describes the run that produced a snapshot.
type Meta struct {
	RunID            string        `json:"run_id,omitempty"`
	Target           string        `json:"target"`
	Executor         string        `json:"executor"`
	PlannedDuration  time.Duration `json:"planned_duration"`
	MaxUsers         int           `json:"max_users"`
	RampUp           time.Duration `json:"ramp_up"`
	GracefulRampDown time.Duration `json:"graceful_ramp_down"`
	// Elapsed is the wall-clock run time.
	Elapsed     time.Duration `json:"elapsed"`
	StartedAt   time.Time     `json:"started_at"`
	ResultsPath string        `json:"results_path,omitempty"`
}

// MetaFromPlan fills the configuration echo from a stage plan.
func MetaFromPlan(target string, plan types.StagePlan) Meta {
	return Meta{
		Target:           target,
		Executor:         string(types.ModeRampingVUs),
		PlannedDuration:  plan.Duration(),
		MaxUsers:         plan.MaxTarget(),
		RampUp:           plan.RampUpDuration(),
		GracefulRampDown: plan.GracefulRampDown,
	}
}

// Summary holds the report figures. Times are milliseconds, TestDuration is
// seconds, SuccessRate is a percentage.
type Summary struct {
	Meta Meta `json:"meta"`

	TotalRequests      int64   `json:"total_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	SuccessRate        float64 `json:"success_rate"`
	AvgResponseTime    float64 `json:"avg_response_time"`
	MinResponseTime    float64 `json:"min_response_time"`
	MaxResponseTime    float64 `json:"max_response_time"`
	MedianResponseTime float64 `json:"median_response_time"`
	P90ResponseTime    float64 `json:"p90_response_time"`
	P95ResponseTime    float64 `json:"p95_response_time"`
	P99ResponseTime    float64 `json:"p99_response_time"`
	Throughput         float64 `json:"throughput"`
	MaxUsers           int64   `json:"max_users"`
	TestDuration       float64 `json:"test_duration"`

	AvgBlockedTime      float64 `json:"avg_blocked_time"`
	AvgConnectingTime   float64 `json:"avg_connecting_time"`
	AvgTLSHandshakeTime float64 `json:"avg_tls_handshake_time"`
	AvgSendingTime      float64 `json:"avg_sending_time"`
	AvgWaitingTime      float64 `json:"avg_waiting_time"`
	AvgReceivingTime    float64 `json:"avg_receiving_time"`

	Checks         int64   `json:"checks"`
	ChecksPassed   int64   `json:"checks_passed"`
	Iterations     int64   `json:"iterations"`
	DataSent       float64 `json:"data_sent"`
	DataReceived   float64 `json:"data_received"`
	DroppedSamples int64   `json:"dropped_samples,omitempty"`

	Thresholds       []types.ThresholdResult `json:"thresholds,omitempty"`
	ThresholdsPassed bool                    `json:"thresholds_passed"`
}

// Build computes the summary. It is total: any missing metric or undefined value
// reads as zero, so an empty snapshot yields an all-zero summary.
func Build(snap *metrics.Snapshot, meta Meta) *Summary {
	reqs := snap.Stats(metrics.HTTPReqsName)
	failed := snap.Stats(metrics.HTTPReqFailedName)
	dur := snap.Stats(metrics.HTTPReqDurationName)
	checks := snap.Stats(metrics.ChecksName)

	s := &Summary{
		Meta:             meta,
		TotalRequests:    int64(finite(reqs.Sum)),
		FailedRequests:   failed.NonZero,
		MinResponseTime:  finite(dur.Min),
		MaxResponseTime:  finite(dur.Max),
		AvgResponseTime:  finite(dur.Avg),
		ThresholdsPassed: true,

		AvgBlockedTime:      avg(snap, metrics.HTTPReqBlockedName),
		AvgConnectingTime:   avg(snap, metrics.HTTPReqConnectingName),
		AvgTLSHandshakeTime: avg(snap, metrics.HTTPReqTLSHandshakingName),
		AvgSendingTime:      avg(snap, metrics.HTTPReqSendingName),
		AvgWaitingTime:      avg(snap, metrics.HTTPReqWaitingName),
		AvgReceivingTime:    avg(snap, metrics.HTTPReqReceivingName),

		Checks:       checks.Count,
		ChecksPassed: checks.NonZero,
		Iterations:   int64(finite(snap.Stats(metrics.IterationsName).Sum)),
		DataSent:     finite(snap.Stats(metrics.DataSentName).Sum),
		DataReceived: finite(snap.Stats(metrics.DataReceivedName).Sum),
		MaxUsers:     int64(finite(snap.Stats(metrics.VUsMaxName).Max)),
	}

	if failed.Count > 0 {
		s.SuccessRate = finite(100 - failed.Rate*100)
	}
	if dur.Count > 0 {
		s.MedianResponseTime = finite(dur.Percentile(50))
		s.P90ResponseTime = finite(dur.Percentile(90))
		s.P95ResponseTime = finite(dur.Percentile(95))
		s.P99ResponseTime = finite(dur.Percentile(99))
	}

	elapsed := meta.Elapsed
	if elapsed <= 0 && snap != nil {
		elapsed = snap.Elapsed
	}
	s.TestDuration = elapsed.Seconds()
	if elapsed > 0 {
		s.Throughput = finite(float64(s.TotalRequests) / elapsed.Seconds())
	}
	return s
}

// WithThresholds attaches threshold results.
func (s *Summary) WithThresholds(results []types.ThresholdResult, passed bool) *Summary {
	s.Thresholds = results
	s.ThresholdsPassed = passed
	return s
}

// ChecksRate is the passed share of checks in [0, 1].
func (s *Summary) ChecksRate() float64 {
	if s.Checks == 0 {
		return 0
	}
	return float64(s.ChecksPassed) / float64(s.Checks)
}

func avg(snap *metrics.Snapshot, name string) float64 {
	return finite(snap.Stats(name).Avg)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
