package summary

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const banner = "📊 K6 Performance Test Results"

// TextOptions tweaks RenderText.
type TextOptions struct {
	// Language selects the thousands separator for counts. Defaults to English.
	Language language.Tag
}

// RenderText renders the human readable report. The key metrics block always
// shows total requests, success rate, average, p95 and throughput.
func RenderText(s *Summary, opts ...TextOptions) string {
	if s == nil {
		s = &Summary{}
	}
	lang := language.English
	if len(opts) > 0 && opts[0].Language != language.Und {
		lang = opts[0].Language
	}
	p := message.NewPrinter(lang)

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(banner + "\n")
	b.WriteString(strings.Repeat("=", 30) + "\n\n")

	m := s.Meta
	b.WriteString("🎯 Test Configuration:\n")
	fmt.Fprintf(&b, "   • Target: %s\n", orDash(m.Target))
	fmt.Fprintf(&b, "   • Duration: %s\n", HumanDuration(m.PlannedDuration))
	fmt.Fprintf(&b, "   • Max Users: %d\n", m.MaxUsers)
	fmt.Fprintf(&b, "   • Ramp-up: %s\n", HumanDuration(m.RampUp))
	fmt.Fprintf(&b, "   • Executor: %s\n\n", executorLine(m))

	b.WriteString("📈 Key Metrics:\n")
	b.WriteString(p.Sprintf("   • Total Requests: %d\n", s.TotalRequests))
	fmt.Fprintf(&b, "   • Success Rate: %.2f%%\n", s.SuccessRate)
	fmt.Fprintf(&b, "   • Avg Response Time: %.1fms\n", s.AvgResponseTime)
	fmt.Fprintf(&b, "   • 95th Percentile: %.1fms\n", s.P95ResponseTime)
	fmt.Fprintf(&b, "   • Throughput: %.1f req/s\n", s.Throughput)
	if s.Checks > 0 {
		b.WriteString(p.Sprintf("   • Checks: %.2f%% (%d of %d)\n", s.ChecksRate()*100, s.ChecksPassed, s.Checks))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "🎉 Assessment: %s\n\n", Assess(s))

	if len(s.Thresholds) > 0 {
		b.WriteString("🚦 Thresholds:\n")
		for _, th := range s.Thresholds {
			mark := "✓"
			if !th.Passed {
				mark = "✗"
			}
			line := fmt.Sprintf("   %s %s: %s", mark, th.Metric, th.Condition)
			if th.Error != "" {
				line += " (" + th.Error + ")"
			} else {
				line += fmt.Sprintf(" (%.2f)", th.Value)
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	if m.ResultsPath != "" {
		fmt.Fprintf(&b, "✅ Results saved to: %s\n", m.ResultsPath)
	}
	return b.String()
}

func executorLine(m Meta) string {
	executor := m.Executor
	if executor == "" {
		executor = "ramping-vus"
	}
	if m.GracefulRampDown > 0 {
		return executor + " with graceful ramp down"
	}
	return executor
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// HumanDuration spells a duration out, e.g. "2 minutes" or "1 minute 30 seconds".
// Sub-second durations fall back to time.Duration formatting.
func HumanDuration(d time.Duration) string {
	if d <= 0 {
		return "0 seconds"
	}
	if d%time.Second != 0 {
		return d.String()
	}

	var parts []string
	add := func(n int64, unit string) {
		if n == 0 {
			return
		}
		if n == 1 {
			parts = append(parts, "1 "+unit)
			return
		}
		parts = append(parts, fmt.Sprintf("%d %ss", n, unit))
	}

	secs := int64(d / time.Second)
	add(secs/3600, "hour")
	add(secs%3600/60, "minute")
	add(secs%60, "second")
	return strings.Join(parts, " ")
}
