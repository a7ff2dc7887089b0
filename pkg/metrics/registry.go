package metrics

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Registry 管理所有已注册的指标及其聚合器。
// 写入路径只对指标表加读锁，聚合由各指标自己的锁保护。
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Accumulator
	order   []string

	clockMu sync.RWMutex
	now     func() time.Time
	start   time.Time
	end     time.Time
}

// NewRegistry 创建新的指标注册表
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Accumulator),
		now:     time.Now,
	}
}

// SetClock 替换注册表使用的时钟，主要用于测试
func (r *Registry) SetClock(now func() time.Time) {
	r.clockMu.Lock()
	defer r.clockMu.Unlock()
	r.now = now
}

// NewMetric 创建并注册新指标；同名同类型时返回已有指标
func (r *Registry) NewMetric(name string, metricType MetricType, contains ...ValueType) (*Metric, error) {
	if name == "" {
		return nil, ErrInvalidMetricName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if acc, ok := r.metrics[name]; ok {
		if acc.metric.Type != metricType {
			return nil, fmt.Errorf("%w: %s is %s", ErrMetricExists, name, acc.metric.Type)
		}
		return acc.metric, nil
	}

	vt := Default
	if len(contains) > 0 {
		vt = contains[0]
	}
	m := &Metric{Name: name, Type: metricType, Contains: vt}
	r.metrics[name] = NewAccumulator(m)
	r.order = append(r.order, name)
	return m, nil
}

// MustNewMetric 与 NewMetric 相同，出错时 panic
func (r *Registry) MustNewMetric(name string, metricType MetricType, contains ...ValueType) *Metric {
	m, err := r.NewMetric(name, metricType, contains...)
	if err != nil {
		panic(err)
	}
	return m
}

// Get 获取已注册的指标
func (r *Registry) Get(name string) *Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if acc, ok := r.metrics[name]; ok {
		return acc.metric
	}
	return nil
}

// All 按注册顺序返回所有指标
func (r *Registry) All() []*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Metric, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.metrics[name].metric)
	}
	return result
}

// Start 记录运行开始时间
func (r *Registry) Start(t time.Time) {
	r.clockMu.Lock()
	defer r.clockMu.Unlock()
	r.start = t
	r.end = time.Time{}
}

// Stop 冻结运行结束时间，之后的快照使用固定的耗时
func (r *Registry) Stop(t time.Time) {
	r.clockMu.Lock()
	defer r.clockMu.Unlock()
	if r.end.IsZero() {
		r.end = t
	}
}

// StartTime 返回运行开始时间
func (r *Registry) StartTime() time.Time {
	r.clockMu.RLock()
	defer r.clockMu.RUnlock()
	return r.start
}

// Elapsed 返回运行已持续的时间
func (r *Registry) Elapsed() time.Duration {
	r.clockMu.RLock()
	defer r.clockMu.RUnlock()
	if r.start.IsZero() {
		return 0
	}
	if !r.end.IsZero() {
		return r.end.Sub(r.start)
	}
	return r.now().Sub(r.start)
}

// Ingest 写入一个样本。并发安全；未知指标或非法值返回 *IngestionError。
func (r *Registry) Ingest(s Sample) error {
	r.mu.RLock()
	acc, ok := r.metrics[s.Metric]
	r.mu.RUnlock()

	if !ok {
		return &IngestionError{Metric: s.Metric, Err: ErrUnknownMetric}
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return &IngestionError{Metric: s.Metric, Err: fmt.Errorf("invalid value %v", s.Value)}
	}
	acc.Add(s)
	return nil
}

// IngestSamples 写入一组样本，返回所有失败样本的错误
func (r *Registry) IngestSamples(samples []Sample) error {
	var errs []error
	for _, s := range samples {
		if err := r.Ingest(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot 返回当前快照；运行结束后重复调用结果相同
func (r *Registry) Snapshot() *Snapshot {
	return r.SnapshotAt(r.Elapsed())
}

// SnapshotAt 以给定的耗时生成快照
func (r *Registry) SnapshotAt(elapsed time.Duration) *Snapshot {
	r.mu.RLock()
	accs := make([]*Accumulator, 0, len(r.order))
	for _, name := range r.order {
		accs = append(accs, r.metrics[name])
	}
	r.mu.RUnlock()

	snap := &Snapshot{
		Elapsed: elapsed,
		Metrics: make(map[string]MetricStats, len(accs)),
	}
	for _, acc := range accs {
		snap.Metrics[acc.metric.Name] = acc.Stats(elapsed)
	}
	return snap
}
