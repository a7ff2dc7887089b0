// Package reporter 提供测试结束后的报告输出框架。
package reporter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"yqhp/load-engine/internal/reporter/summary"
	"yqhp/load-engine/pkg/logger"
)

// Reporter 定义了最终报告输出的接口。
type Reporter interface {
	// Name 返回报告器名称。
	Name() string

	// Report 输出最终汇总。
	Report(ctx context.Context, s *summary.Summary) error
}

// ReporterFunc 将函数适配为 Reporter。
type ReporterFunc struct {
	ReporterName string
	Fn           func(ctx context.Context, s *summary.Summary) error
}

// Name 返回报告器名称。
func (f ReporterFunc) Name() string { return f.ReporterName }

// Report 调用 Fn。
func (f ReporterFunc) Report(ctx context.Context, s *summary.Summary) error {
	return f.Fn(ctx, s)
}

// Manager 管理多个报告器。
type Manager struct {
	reporters []Reporter
	mu        sync.RWMutex
}

// NewManager 创建报告器管理器。
func NewManager(reporters ...Reporter) *Manager {
	return &Manager{reporters: reporters}
}

// AddReporter 添加报告器。
func (m *Manager) AddReporter(r Reporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reporters = append(m.reporters, r)
}

// GetReporters 返回所有报告器。
func (m *Manager) GetReporters() []Reporter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Reporter, len(m.reporters))
	copy(out, m.reporters)
	return out
}

// Report 依次调用所有报告器。单个报告器失败不会阻止其余报告器执行。
func (m *Manager) Report(ctx context.Context, s *summary.Summary) error {
	var errs []error
	for _, r := range m.GetReporters() {
		if err := r.Report(ctx, s); err != nil {
			logger.Error("报告输出失败", "reporter", r.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
			continue
		}
		logger.Debug("报告已输出", "reporter", r.Name())
	}
	return errors.Join(errs...)
}
