// Package baseline measures the target with one sequential user so a load test
// can be compared with its unloaded response time.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"yqhp/load-engine/internal/reporter/summary"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// Defaults: sixty requests one second apart, each bounded by ten seconds.
const (
	DefaultRequests = 60
	DefaultInterval = time.Second
	DefaultTimeout  = 10 * time.Second
	DefaultOutput   = "single_user_baseline.csv"
)

var (
	ErrNilWorkload = errors.New("baseline workload is nil")
	ErrNoRequests  = errors.New("baseline needs at least one request")
)

// Config controls a baseline run.
type Config struct {
	Workload types.Workload
	// Requests is the number of sequential requests.
	Requests int
	// Interval paces the requests: the next one starts Interval after the
	// previous one started, or right away when the request took longer.
	Interval time.Duration
	// Timeout bounds each request.
	Timeout time.Duration
	// OnSample is called after every request with its 0-based index.
	OnSample func(i int, s Sample)
}

// Sample is one baseline request.
type Sample struct {
	// ResponseTime is in milliseconds.
	ResponseTime float64
	StatusCode   int
	Success      bool
}

// Result holds the samples of a baseline run. Elapsed is the paced wall time
// used as the throughput denominator.
type Result struct {
	Samples []Sample
	Elapsed time.Duration
}

// Stats are the baseline figures compared against a load test.
type Stats struct {
	Requests        int     `json:"requests"`
	AvgResponseTime float64 `json:"avg_response_time"`
	P95ResponseTime float64 `json:"p95_response_time"`
	SuccessRate     float64 `json:"success_rate"`
	Throughput      float64 `json:"throughput"`
}

// Run sends cfg.Requests requests one after another. On cancellation it returns
// the samples gathered so far together with the context error.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Workload == nil {
		return nil, ErrNilWorkload
	}
	if cfg.Requests <= 0 {
		return nil, ErrNoRequests
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	res := &Result{Samples: make([]Sample, 0, cfg.Requests)}
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	for i := 0; i < cfg.Requests; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		began := time.Now()
		s := request(ctx, cfg)
		res.Samples = append(res.Samples, s)
		if cfg.OnSample != nil {
			cfg.OnSample(i, s)
		}
		logger.Debug("baseline request", "index", i, "status", s.StatusCode, "response_time_ms", s.ResponseTime)

		if wait := cfg.Interval - time.Since(began); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return res, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return res, nil
}

func request(ctx context.Context, cfg Config) Sample {
	reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := cfg.Workload.Execute(reqCtx)
	elapsed := time.Since(start)

	s := Sample{ResponseTime: metrics.DurationToMs(elapsed)}
	if out != nil {
		s.StatusCode = out.Status
		if out.Timings.Duration > 0 {
			s.ResponseTime = metrics.DurationToMs(out.Timings.Duration)
		}
	}
	s.Success = err == nil && out != nil && out.OK
	if err != nil {
		logger.Warn("baseline request failed", "error", err)
	}
	return s
}

// Stats aggregates the samples. Percentiles come from the same histogram the
// load test uses.
func (r *Result) Stats() Stats {
	st := Stats{Requests: len(r.Samples)}
	if st.Requests == 0 {
		return st
	}

	acc := metrics.NewAccumulator(&metrics.Metric{Name: "baseline_response_time", Type: metrics.Trend, Contains: metrics.Time})
	ok := 0
	for _, s := range r.Samples {
		acc.Add(metrics.Sample{Metric: "baseline_response_time", Value: s.ResponseTime})
		if s.Success {
			ok++
		}
	}
	rt := acc.Stats(r.Elapsed)
	st.AvgResponseTime = rt.Avg
	st.P95ResponseTime = rt.Percentile(95)
	st.SuccessRate = float64(ok) / float64(st.Requests) * 100
	if r.Elapsed > 0 {
		st.Throughput = float64(st.Requests) / r.Elapsed.Seconds()
	}
	return st
}

// Comparison relates a load test summary to the baseline.
type Comparison struct {
	Baseline Stats `json:"baseline"`
	// ResponseTimeImpact is the load average over the baseline average, minus
	// one, in percent.
	ResponseTimeImpact float64 `json:"response_time_impact"`
	// ThroughputMultiple is the load throughput over the baseline throughput.
	ThroughputMultiple float64            `json:"throughput_multiple"`
	Assessment         summary.Assessment `json:"assessment"`
}

// Compare builds the comparison. Ratios against a zero baseline read as zero.
func Compare(load *summary.Summary, base Stats) Comparison {
	c := Comparison{Baseline: base, Assessment: summary.Assess(load)}
	if load == nil {
		return c
	}
	if base.AvgResponseTime > 0 {
		c.ResponseTimeImpact = (load.AvgResponseTime/base.AvgResponseTime - 1) * 100
	}
	if base.Throughput > 0 {
		c.ThroughputMultiple = load.Throughput / base.Throughput
	}
	return c
}

// RenderComparison renders the comparison block of the text report.
func RenderComparison(c Comparison) string {
	var b strings.Builder
	b.WriteString("📈 Baseline Comparison:\n")
	fmt.Fprintf(&b, "   • Response Time Impact: %+.1f%%\n", c.ResponseTimeImpact)
	fmt.Fprintf(&b, "   • Throughput Improvement: %.1fx\n", c.ThroughputMultiple)
	fmt.Fprintf(&b, "   • Baseline Avg Response: %.1fms\n", c.Baseline.AvgResponseTime)
	fmt.Fprintf(&b, "   • Baseline Success Rate: %.1f%%\n", c.Baseline.SuccessRate)
	b.WriteString("\n")
	fmt.Fprintf(&b, "🎉 Assessment: %s\n", c.Assessment)
	return b.String()
}
