package execution

import (
	"context"
	"sync"
	"time"

	"yqhp/load-engine/pkg/types"
)

// Mode 定义执行模式的接口。
type Mode interface {
	// Name 返回执行模式的名称。
	Name() types.ExecutionMode

	// Run 使用给定配置启动执行模式。
	// 阻塞直到执行完成或上下文被取消，返回前所有 VU 均已退出。
	Run(ctx context.Context, config *ModeConfig) error

	// Stop 请求停止并等待执行结束。
	Stop(ctx context.Context) error

	// GetState 返回当前执行状态。
	GetState() *ModeState
}

// ModeConfig 包含执行模式的配置。
type ModeConfig struct {
	// Plan 是阶段计划，运行开始后不可修改。
	Plan types.StagePlan

	// Workload 是每次迭代执行的工作单元。
	Workload types.Workload

	// Timeout 是单次请求的超时。
	Timeout time.Duration

	// ThinkTime 是迭代之间的等待时间。
	ThinkTime   time.Duration
	ThinkJitter time.Duration

	// Tick 是调度器在目标不变时重新下发目标的周期。
	Tick time.Duration

	// OnIteration 在迭代完成时调用。
	OnIteration func(types.IterationResult)

	// OnUpdate 在调度器每次下发目标后调用。
	OnUpdate func(Update, *ModeState)

	// OnVUStart 在 VU 启动时调用。
	OnVUStart func(vuID int)

	// OnVUStop 在 VU 停止时调用。
	OnVUStop func(vuID int)
}

// ModeState 表示执行模式的当前状态。
type ModeState struct {
	Phase               types.Phase   `json:"phase"`
	Stage               int           `json:"stage"`
	TargetVUs           int           `json:"target_vus"`
	ActiveVUs           int           `json:"active_vus"`
	PeakVUs             int           `json:"peak_vus"`
	CompletedIterations int64         `json:"completed_iterations"`
	Running             bool          `json:"running"`
	Aborted             bool          `json:"aborted"`
	StartTime           time.Time     `json:"start_time"`
	ElapsedTime         time.Duration `json:"elapsed_time"`
}

// BaseMode 为执行模式提供通用功能。
type BaseMode struct {
	name    types.ExecutionMode
	state   ModeState
	stateMu sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBaseMode 创建一个新的基础模式。
func NewBaseMode(name types.ExecutionMode) *BaseMode {
	return &BaseMode{
		name:   name,
		state:  ModeState{Phase: types.PhaseStarting, Stage: -1},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Name 返回模式名称。
func (b *BaseMode) Name() types.ExecutionMode {
	return b.name
}

// GetState 返回当前状态的副本。
func (b *BaseMode) GetState() *ModeState {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	state := b.state
	return &state
}

// SetState 更新状态。
func (b *BaseMode) SetState(fn func(*ModeState)) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	fn(&b.state)
}

// IsStopped 如果已请求停止则返回 true。
func (b *BaseMode) IsStopped() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// RequestStop 发送停止信号。
func (b *BaseMode) RequestStop() {
	select {
	case <-b.stopCh:
		// 已停止
	default:
		close(b.stopCh)
	}
}

// SignalDone 发送完成信号。
func (b *BaseMode) SignalDone() {
	select {
	case <-b.doneCh:
		// 已完成
	default:
		close(b.doneCh)
	}
}

// WaitDone 等待模式完成。
func (b *BaseMode) WaitDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.doneCh:
		return nil
	}
}
