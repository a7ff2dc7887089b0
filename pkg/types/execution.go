package types

import (
	"fmt"
	"time"
)

// ExecutionMode 定义执行模式
type ExecutionMode string

const (
	// ModeRampingVUs 按阶段调整 VU 数量
	ModeRampingVUs ExecutionMode = "ramping-vus"
)

// Stage 定义一个执行阶段：在 Duration 内从上一阶段的目标线性过渡到 Target。
type Stage struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
	Target   int           `yaml:"target" json:"target"` // 阶段结束时的目标 VU 数
	Name     string        `yaml:"name,omitempty" json:"name,omitempty"`
}

// StagePlan 是一次运行的完整阶段计划，运行开始后不可修改。
type StagePlan struct {
	Stages           []Stage       `json:"stages"`
	GracefulRampDown time.Duration `json:"graceful_ramp_down"`
}

// Duration 返回所有阶段时长之和（不含 graceful ramp down）
func (p StagePlan) Duration() time.Duration {
	var total time.Duration
	for _, s := range p.Stages {
		total += s.Duration
	}
	return total
}

// TotalDuration 返回包含 graceful ramp down 的总时长
func (p StagePlan) TotalDuration() time.Duration {
	return p.Duration() + p.GracefulRampDown
}

// MaxTarget 返回所有阶段中最大的目标 VU 数
func (p StagePlan) MaxTarget() int {
	max := 0
	for _, s := range p.Stages {
		if s.Target > max {
			max = s.Target
		}
	}
	return max
}

// RampUpDuration 返回目标 VU 上升阶段的时长之和
func (p StagePlan) RampUpDuration() time.Duration {
	var total time.Duration
	prev := 0
	for _, s := range p.Stages {
		if s.Target > prev {
			total += s.Duration
		}
		prev = s.Target
	}
	return total
}

// String 返回阶段计划的简短描述，如 "30s:5, 1m30s:25"
func (p StagePlan) String() string {
	out := ""
	for i, s := range p.Stages {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s:%d", s.Duration, s.Target)
	}
	return out
}

// Clone 返回阶段计划的深拷贝
func (p StagePlan) Clone() StagePlan {
	stages := make([]Stage, len(p.Stages))
	copy(stages, p.Stages)
	return StagePlan{Stages: stages, GracefulRampDown: p.GracefulRampDown}
}

// Phase 表示运行所处的阶段
type Phase string

const (
	PhaseStarting    Phase = "starting"
	PhaseRamping     Phase = "ramping"
	PhaseHolding     Phase = "holding"
	PhaseRampingDown Phase = "ramping-down"
	PhaseStopped     Phase = "stopped"
)

// AcceptsIterations 返回该阶段是否允许开始新的迭代
func (p Phase) AcceptsIterations() bool {
	return p != PhaseRampingDown && p != PhaseStopped
}

// Threshold 定义一条阈值配置
type Threshold struct {
	Metric      string `yaml:"metric" json:"metric"`
	Condition   string `yaml:"condition" json:"condition"`
	AbortOnFail bool   `yaml:"abort_on_fail,omitempty" json:"abort_on_fail,omitempty"`
}

// ThresholdResult 包含单条阈值的评估结果
type ThresholdResult struct {
	Metric    string  `json:"metric"`
	Condition string  `json:"condition"`
	Passed    bool    `json:"passed"`
	Value     float64 `json:"value"`
	Error     string  `json:"error,omitempty"`
}
