package types

import (
	"context"
	"time"
)

// Workload 是每个 VU 每次迭代执行的工作单元。
// 实现必须是并发安全的，同一个 Workload 会被所有 VU 共享。
type Workload interface {
	Execute(ctx context.Context) (*Outcome, error)
}

// WorkloadFunc 将普通函数适配为 Workload
type WorkloadFunc func(ctx context.Context) (*Outcome, error)

// Execute 调用 f(ctx)
func (f WorkloadFunc) Execute(ctx context.Context) (*Outcome, error) {
	return f(ctx)
}

// Timings 是单个请求的各阶段耗时
type Timings struct {
	Blocked        time.Duration `json:"blocked"`
	Connecting     time.Duration `json:"connecting"`
	TLSHandshaking time.Duration `json:"tls_handshaking"`
	Sending        time.Duration `json:"sending"`
	Waiting        time.Duration `json:"waiting"`
	Receiving      time.Duration `json:"receiving"`
	Duration       time.Duration `json:"duration"` // sending + waiting + receiving
}

// CheckResult 是单个检查的结果
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// Outcome 是一次请求的结果
type Outcome struct {
	Status        int           `json:"status"`
	Timings       Timings       `json:"timings"`
	OK            bool          `json:"ok"` // false 表示该请求计为失败
	Checks        []CheckResult `json:"checks,omitempty"`
	BytesSent     int64         `json:"bytes_sent"`
	BytesReceived int64         `json:"bytes_received"`
	Error         string        `json:"error,omitempty"`
}

// FailedOutcome 构造一个失败结果，duration 作为请求耗时
func FailedOutcome(duration time.Duration, err error) *Outcome {
	o := &Outcome{
		Timings: Timings{Duration: duration},
	}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// IterationResult 是 VU 完成一次迭代后上报的结果
type IterationResult struct {
	VU        int
	Iteration int64
	Outcome   *Outcome
	Err       error
	TimedOut  bool
	Start     time.Time
	Duration  time.Duration // 迭代耗时，不含思考时间
}

// Failed 返回该迭代的请求是否计为失败
func (r IterationResult) Failed() bool {
	return r.Err != nil || r.TimedOut || r.Outcome == nil || !r.Outcome.OK
}
