package metrics

import (
	"sort"
	"strconv"
	"strings"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// MetricStats 是单个指标在某一时刻的统计结果，零值表示没有样本
type MetricStats struct {
	Name     string     `json:"name"`
	Type     MetricType `json:"type"`
	Contains ValueType  `json:"contains,omitempty"`
	Count    int64      `json:"count"`
	Failures int64      `json:"failures"`
	NonZero  int64      `json:"non_zero"`
	Sum      float64    `json:"sum"`
	Avg      float64    `json:"avg"`
	Min      float64    `json:"min"`
	Max      float64    `json:"max"`
	Med      float64    `json:"med"`
	P90      float64    `json:"p90"`
	P95      float64    `json:"p95"`
	P99      float64    `json:"p99"`
	Last     float64    `json:"last"`
	// Rate 对 Rate 指标为非零样本占比，对 Counter 为每秒累计值，其余为每秒样本数
	Rate float64 `json:"rate"`

	hist *hdrhistogram.Histogram
}

// Percentile 返回第 p 百分位（0-100）的值，结果限制在 [Min, Max] 内
func (s MetricStats) Percentile(p float64) float64 {
	if s.hist == nil || s.Count == 0 {
		return 0
	}
	if p <= 0 {
		return s.Min
	}
	if p >= 100 {
		return s.Max
	}
	v := float64(s.hist.ValueAtQuantile(p)) / histogramScale
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// Value 按聚合名返回统计值，支持 count/sum/avg/min/max/med/rate/value/passes/fails/p(N)
func (s MetricStats) Value(agg string) (float64, bool) {
	switch agg {
	case "count":
		if s.Type == Counter {
			return s.Sum, true
		}
		return float64(s.Count), true
	case "sum":
		return s.Sum, true
	case "avg":
		return s.Avg, true
	case "min":
		return s.Min, true
	case "max":
		return s.Max, true
	case "med":
		if s.hist != nil {
			return s.Med, true
		}
		return 0, false
	case "rate":
		return s.Rate, true
	case "value":
		return s.Last, true
	case "passes":
		return float64(s.NonZero), true
	case "fails":
		return float64(s.Count - s.NonZero), true
	}
	if p, ok := ParsePercentile(agg); ok && s.hist != nil {
		return s.Percentile(p), true
	}
	return 0, false
}

// Values 返回指标类型对应的常用统计值
func (s MetricStats) Values() map[string]float64 {
	switch s.Type {
	case Counter:
		return map[string]float64{"count": s.Sum, "rate": s.Rate}
	case Gauge:
		return map[string]float64{"value": s.Last, "min": s.Min, "max": s.Max}
	case Rate:
		return map[string]float64{
			"rate":   s.Rate,
			"passes": float64(s.NonZero),
			"fails":  float64(s.Count - s.NonZero),
		}
	default:
		return map[string]float64{
			"count": float64(s.Count),
			"avg":   s.Avg,
			"min":   s.Min,
			"max":   s.Max,
			"med":   s.Med,
			"p(90)": s.P90,
			"p(95)": s.P95,
			"p(99)": s.P99,
		}
	}
}

// ParsePercentile 解析 "p(95)" / "p(99.9)" 形式的聚合名
func ParsePercentile(agg string) (float64, bool) {
	if !strings.HasPrefix(agg, "p(") || !strings.HasSuffix(agg, ")") {
		return 0, false
	}
	p, err := strconv.ParseFloat(agg[2:len(agg)-1], 64)
	if err != nil || p < 0 || p > 100 {
		return 0, false
	}
	return p, true
}

// Snapshot 是注册表在某一时刻的完整只读视图
type Snapshot struct {
	Elapsed time.Duration          `json:"elapsed"`
	Metrics map[string]MetricStats `json:"metrics"`
}

// Get 返回指标的统计，指标未注册时 ok 为 false
func (s *Snapshot) Get(name string) (MetricStats, bool) {
	if s == nil {
		return MetricStats{}, false
	}
	st, ok := s.Metrics[name]
	return st, ok
}

// Stats 返回指标的统计，缺失时返回零值
func (s *Snapshot) Stats(name string) MetricStats {
	st, _ := s.Get(name)
	return st
}

// Names 返回按字母排序的指标名
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
