package engine

import (
	"strconv"
	"time"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// SamplesFromIteration converts one iteration into the connected samples of a request.
// runStart anchors Sample.Offset.
func SamplesFromIteration(res types.IterationResult, runStart time.Time) metrics.ConnectedSamples {
	out := res.Outcome
	if out == nil {
		out = types.FailedOutcome(res.Duration, res.Err)
	}

	now := res.Start.Add(res.Duration)
	if res.Start.IsZero() {
		now = time.Now()
	}
	offset := time.Duration(0)
	if !runStart.IsZero() {
		offset = now.Sub(runStart)
	}

	outcome := metrics.OutcomeSuccess
	failed := 0.0
	if res.Failed() {
		outcome = metrics.OutcomeFailure
		failed = 1
	}
	tags := map[string]string{
		metrics.TagOutcome: outcome,
		metrics.TagVU:      strconv.Itoa(res.VU),
	}
	if out.Status > 0 {
		tags["status"] = strconv.Itoa(out.Status)
	}

	reqDuration := out.Timings.Duration
	if reqDuration <= 0 {
		reqDuration = res.Duration
	}

	sample := func(name string, value float64) metrics.Sample {
		return metrics.Sample{Metric: name, Value: value, Time: now, Offset: offset, Tags: tags}
	}

	samples := []metrics.Sample{
		sample(metrics.HTTPReqsName, 1),
		sample(metrics.HTTPReqFailedName, failed),
		sample(metrics.HTTPReqDurationName, metrics.DurationToMs(reqDuration)),
		sample(metrics.HTTPReqBlockedName, metrics.DurationToMs(out.Timings.Blocked)),
		sample(metrics.HTTPReqConnectingName, metrics.DurationToMs(out.Timings.Connecting)),
		sample(metrics.HTTPReqTLSHandshakingName, metrics.DurationToMs(out.Timings.TLSHandshaking)),
		sample(metrics.HTTPReqSendingName, metrics.DurationToMs(out.Timings.Sending)),
		sample(metrics.HTTPReqWaitingName, metrics.DurationToMs(out.Timings.Waiting)),
		sample(metrics.HTTPReqReceivingName, metrics.DurationToMs(out.Timings.Receiving)),
		sample(metrics.DataSentName, float64(out.BytesSent)),
		sample(metrics.DataReceivedName, float64(out.BytesReceived)),
		sample(metrics.IterationsName, 1),
		sample(metrics.IterationDurationName, metrics.DurationToMs(res.Duration)),
	}

	for _, c := range out.Checks {
		v := 0.0
		if c.Passed {
			v = 1
		}
		samples = append(samples, metrics.Sample{
			Metric: metrics.ChecksName,
			Value:  v,
			Time:   now,
			Offset: offset,
			Tags:   map[string]string{metrics.TagCheck: c.Name, metrics.TagVU: tags[metrics.TagVU]},
		})
	}

	return metrics.ConnectedSamples{Samples: samples, Tags: tags, Time: now}
}
