package metrics

import (
	"errors"
	"fmt"
)

var (
	// ErrMetricExists 同名指标已以不同类型注册
	ErrMetricExists = errors.New("metric already registered with a different type")
	// ErrInvalidMetricName 指标名为空
	ErrInvalidMetricName = errors.New("invalid metric name")
	// ErrUnknownMetric 指标未注册
	ErrUnknownMetric = errors.New("unknown metric")
)

// IngestionError 表示样本无法写入注册表。调用方记录日志后丢弃该样本即可。
type IngestionError struct {
	Metric string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest sample for metric %q: %v", e.Metric, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}
