package metrics

import (
	"math"
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// 直方图以 1/1000 单位（毫秒指标即微秒）记录，范围 [0, 1h]，
// 3 位有效数字保证分位数相对误差不超过 0.1%，内存占用与样本数无关。
const (
	histogramScale   = 1000.0
	histogramMax     = int64(time.Hour / time.Microsecond)
	histogramSigFigs = 3
)

// Accumulator 是单个指标的流式聚合器，每个指标持有独立的锁。
type Accumulator struct {
	metric *Metric

	mu       sync.Mutex
	count    int64
	sum      float64
	min      float64
	max      float64
	last     float64
	nonZero  int64
	failures int64
	hist     *hdrhistogram.Histogram
}

// NewAccumulator 为指标创建聚合器，仅 Trend 类型维护直方图
func NewAccumulator(m *Metric) *Accumulator {
	a := &Accumulator{metric: m}
	if m.Type == Trend {
		a.hist = hdrhistogram.New(1, histogramMax, histogramSigFigs)
	}
	return a
}

// Metric 返回聚合器对应的指标
func (a *Accumulator) Metric() *Metric {
	return a.metric
}

// Add 添加一个样本
func (a *Accumulator) Add(s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := s.Value
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.count++
	a.sum += v
	a.last = v
	if v != 0 {
		a.nonZero++
	}
	if s.Failed() {
		a.failures++
	}
	if a.hist != nil {
		// 值已被截断到直方图范围内，不会返回错误
		_ = a.hist.RecordValue(toHistogramValue(v))
	}
}

// Stats 返回当前统计的不可变副本，elapsed 用于计算每秒速率
func (a *Accumulator) Stats(elapsed time.Duration) MetricStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := MetricStats{
		Name:     a.metric.Name,
		Type:     a.metric.Type,
		Contains: a.metric.Contains,
		Count:    a.count,
		Failures: a.failures,
		NonZero:  a.nonZero,
		Sum:      a.sum,
		Min:      a.min,
		Max:      a.max,
		Last:     a.last,
	}
	if a.count > 0 {
		st.Avg = a.sum / float64(a.count)
	}

	secs := elapsed.Seconds()
	switch a.metric.Type {
	case Rate:
		if a.count > 0 {
			st.Rate = float64(a.nonZero) / float64(a.count)
		}
	case Counter:
		if secs > 0 {
			st.Rate = a.sum / secs
		}
	default:
		if secs > 0 {
			st.Rate = float64(a.count) / secs
		}
	}

	if a.hist != nil {
		st.hist = copyHistogram(a.hist)
		st.Med = st.Percentile(50)
		st.P90 = st.Percentile(90)
		st.P95 = st.Percentile(95)
		st.P99 = st.Percentile(99)
	}
	return st
}

func copyHistogram(h *hdrhistogram.Histogram) *hdrhistogram.Histogram {
	snap := h.Export()
	snap.Counts = append([]int64(nil), snap.Counts...)
	return hdrhistogram.Import(snap)
}

func toHistogramValue(v float64) int64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	x := v * histogramScale
	if x >= float64(histogramMax) {
		return histogramMax
	}
	return int64(math.Round(x))
}
