package rest

import (
	"github.com/prometheus/client_golang/prometheus"

	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/metrics"
)

// MetricPrefix prefixes every exported metric name.
const MetricPrefix = "load_engine_"

var runLabels = []string{"run_id"}

var vusDesc = prometheus.NewDesc(
	MetricPrefix+"vus",
	"Number of live virtual users",
	runLabels,
	nil,
)

var targetVUsDesc = prometheus.NewDesc(
	MetricPrefix+"target_vus",
	"Virtual user target of the stage plan",
	runLabels,
	nil,
)

var iterationsDesc = prometheus.NewDesc(
	MetricPrefix+"iterations_total",
	"Completed iterations",
	runLabels,
	nil,
)

var requestsDesc = prometheus.NewDesc(
	MetricPrefix+"http_reqs_total",
	"HTTP requests sent",
	runLabels,
	nil,
)

var failedRequestsDesc = prometheus.NewDesc(
	MetricPrefix+"http_req_failed_total",
	"HTTP requests counted as failed",
	runLabels,
	nil,
)

var durationDesc = prometheus.NewDesc(
	MetricPrefix+"http_req_duration_ms",
	"HTTP request duration percentiles in milliseconds",
	[]string{"run_id", "quantile"},
	nil,
)

var thresholdsBreachedDesc = prometheus.NewDesc(
	MetricPrefix+"thresholds_breached",
	"Thresholds failing at the last evaluation",
	runLabels,
	nil,
)

var quantiles = []struct {
	label string
	p     float64
}{
	{"0.5", 50},
	{"0.9", 90},
	{"0.95", 95},
	{"0.99", 99},
}

// RunCollector exports the live state of every registered run.
type RunCollector struct{}

// NewRunCollector creates a RunCollector.
func NewRunCollector() *RunCollector {
	return &RunCollector{}
}

func (c *RunCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- vusDesc
	desc <- targetVUsDesc
	desc <- iterationsDesc
	desc <- requestsDesc
	desc <- failedRequestsDesc
	desc <- durationDesc
	desc <- thresholdsBreachedDesc
}

func (c *RunCollector) Collect(ch chan<- prometheus.Metric) {
	for _, id := range controlsurface.List() {
		cs := controlsurface.Get(id)
		if cs == nil {
			continue
		}

		if cs.GetStatus != nil {
			st := cs.GetStatus()
			ch <- prometheus.MustNewConstMetric(vusDesc, prometheus.GaugeValue, float64(st.VUs), id)
			ch <- prometheus.MustNewConstMetric(targetVUsDesc, prometheus.GaugeValue, float64(st.TargetVUs), id)
			ch <- prometheus.MustNewConstMetric(iterationsDesc, prometheus.CounterValue, float64(st.Iterations), id)
		}

		if cs.MetricsEngine == nil {
			continue
		}
		snap := cs.MetricsEngine.Snapshot()
		reqs := snap.Stats(metrics.HTTPReqsName)
		failed := snap.Stats(metrics.HTTPReqFailedName)
		dur := snap.Stats(metrics.HTTPReqDurationName)

		ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.CounterValue, reqs.Sum, id)
		ch <- prometheus.MustNewConstMetric(failedRequestsDesc, prometheus.CounterValue, float64(failed.NonZero), id)
		for _, q := range quantiles {
			ch <- prometheus.MustNewConstMetric(durationDesc, prometheus.GaugeValue, dur.Percentile(q.p), id, q.label)
		}
		ch <- prometheus.MustNewConstMetric(thresholdsBreachedDesc, prometheus.GaugeValue,
			float64(cs.MetricsEngine.GetBreachedThresholdsCount()), id)
	}
}
