package metrics

import (
	"time"
)

// MetricType 定义指标类型
type MetricType string

const (
	// Counter 计数器类型，只增不减
	Counter MetricType = "counter"
	// Gauge 仪表盘类型，可增可减
	Gauge MetricType = "gauge"
	// Rate 比率类型，统计非零样本的占比
	Rate MetricType = "rate"
	// Trend 趋势类型，计算百分位数等统计值
	Trend MetricType = "trend"
)

// ValueType 定义值的类型
type ValueType string

const (
	// Default 默认值类型
	Default ValueType = "default"
	// Time 时间类型（毫秒）
	Time ValueType = "time"
	// Data 数据量类型（字节）
	Data ValueType = "data"
)

// 样本标签
const (
	TagOutcome = "outcome"
	TagCheck   = "check"
	TagVU      = "vu"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metric 定义一个指标
type Metric struct {
	Name        string     `json:"name"`
	Type        MetricType `json:"type"`
	Contains    ValueType  `json:"contains,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Sample 表示单个指标样本。Metric 为指标名，由注册表路由到对应的累加器。
type Sample struct {
	Metric string            `json:"metric"`
	Value  float64           `json:"value"`
	Time   time.Time         `json:"time"`
	Offset time.Duration     `json:"offset"` // 相对运行开始的偏移
	Tags   map[string]string `json:"tags,omitempty"`
}

// Failed 返回样本是否带有失败标签
func (s Sample) Failed() bool {
	return s.Tags[TagOutcome] == OutcomeFailure
}

// SampleContainer 是可以返回多个样本的接口
type SampleContainer interface {
	GetSamples() []Sample
}

// Samples 是 Sample 切片，实现 SampleContainer 接口
type Samples []Sample

// GetSamples 返回样本切片
func (s Samples) GetSamples() []Sample {
	return s
}

// ConnectedSamples 表示一组相关的样本（如同一个请求的多个指标）
type ConnectedSamples struct {
	Samples []Sample
	Tags    map[string]string
	Time    time.Time
}

// GetSamples 返回样本切片
func (cs ConnectedSamples) GetSamples() []Sample {
	return cs.Samples
}

// DurationToMs 将 time.Duration 转换为毫秒浮点数
func DurationToMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
