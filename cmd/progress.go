package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"yqhp/load-engine/pkg/runner"
)

const progressBarWidth = 30

// progressPrinter 在终端中原地刷新运行进度
type progressPrinter struct {
	w         io.Writer
	disabled  bool
	mu        sync.Mutex
	lastLines int
}

func newProgressPrinter(w io.Writer, disabled bool) *progressPrinter {
	return &progressPrinter{w: w, disabled: disabled}
}

func (p *progressPrinter) update(pr runner.Progress) {
	if p.disabled || pr.State == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearLocked()

	elapsed := pr.State.ElapsedTime
	progress := 0.0
	if pr.PlanDuration > 0 {
		progress = float64(elapsed) / float64(pr.PlanDuration)
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * progressBarWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", progressBarWidth-filled)

	rps := 0.0
	if elapsed > 0 {
		rps = float64(pr.Requests) / elapsed.Seconds()
	}

	fmt.Fprintf(p.w, "  [%s] %5.1f%%  %s/%s  %s\n", bar, progress*100,
		elapsed.Round(time.Second), pr.PlanDuration.Round(time.Second), pr.State.Phase)
	fmt.Fprintf(p.w, "  VUs: %d/%d  请求数: %d  失败: %d  RPS: %.1f\n",
		pr.State.ActiveVUs, pr.State.TargetVUs, pr.Requests, pr.FailedRequests, rps)
	p.lastLines = 2

	fmt.Fprint(p.w, "\033[?25l")
}

func (p *progressPrinter) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLocked()
}

func (p *progressPrinter) clearLocked() {
	if p.disabled || p.lastLines == 0 {
		return
	}
	for i := 0; i < p.lastLines; i++ {
		fmt.Fprint(p.w, "\033[A\033[K")
	}
	fmt.Fprint(p.w, "\033[?25h")
	p.lastLines = 0
}
