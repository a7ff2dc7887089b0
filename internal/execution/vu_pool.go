package execution

import (
	"context"
	"errors"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/types"
)

// PoolConfig 是 VU 池的配置。
type PoolConfig struct {
	// Workload 是每次迭代执行的工作单元，所有 VU 共享。
	Workload types.Workload

	// Timeout 是单次请求的超时，0 表示不限制。
	Timeout time.Duration

	// ThinkTime 是两次迭代之间的等待时间，ThinkJitter 为其上浮的随机量。
	ThinkTime   time.Duration
	ThinkJitter time.Duration

	// OnIteration 在每次迭代结束后调用，必须并发安全。
	OnIteration func(types.IterationResult)

	// OnVUStart / OnVUStop 在工作协程启动、退出时调用。
	OnVUStart func(vuID int)
	OnVUStop  func(vuID int)
}

type worker struct {
	id       int
	draining bool
	wake     chan struct{}
}

// VUPool 把存活的工作协程数量调整到调度器给出的目标。
// 扩容立即生效；缩容时编号最大的 VU 进入 draining，完成当前迭代后退出。
// 进行中的迭代从不被中断，只由 PoolConfig.Timeout 限定。
type VUPool struct {
	cfg PoolConfig

	mu        sync.Mutex
	workers   map[int]*worker
	target    int
	accepting bool
	stopped   bool

	ctx context.Context
	wg  sync.WaitGroup

	live       atomic.Int64
	peak       atomic.Int64
	iterations atomic.Int64
}

// NewVUPool 创建一个新的 VU 池。
func NewVUPool(cfg PoolConfig) (*VUPool, error) {
	if cfg.Workload == nil {
		return nil, ErrNilWorkload
	}
	return &VUPool{
		cfg:       cfg,
		workers:   make(map[int]*worker),
		accepting: true,
	}, nil
}

// Start 绑定迭代使用的上下文。ctx 的取消不会传递给进行中的迭代，停止池请使用 Stop。
func (p *VUPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx = context.WithoutCancel(ctx)
}

// SetTarget 将 VU 数量调整为 n。
func (p *VUPool) SetTarget(n int) error {
	if n < 0 {
		n = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	if n == p.target {
		return nil
	}
	p.target = n

	for id := 1; id <= n; id++ {
		w, ok := p.workers[id]
		if !ok {
			// 不接受新迭代时启动的 VU 会立即退出
			if p.accepting {
				p.startWorkerLocked(id)
			}
			continue
		}
		if w.draining {
			// 仍在完成上一次迭代，直接复用
			w.draining = false
		}
	}

	for id, w := range p.workers {
		if id > n && !w.draining {
			w.draining = true
			signal(w.wake)
		}
	}

	logger.Debug("vu pool scaled", "target", n, "live", p.live.Load())
	return nil
}

// SetAccepting 控制是否允许开始新的迭代。为 false 时 VU 完成当前迭代后退出。
func (p *VUPool) SetAccepting(accepting bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accepting == accepting {
		return
	}
	p.accepting = accepting
	if accepting {
		if p.ctx == nil || p.stopped {
			return
		}
		for id := 1; id <= p.target; id++ {
			if _, ok := p.workers[id]; !ok {
				p.startWorkerLocked(id)
			}
		}
		return
	}
	for _, w := range p.workers {
		signal(w.wake)
	}
}

// Stop 停止接受新迭代，所有 VU 完成当前迭代后退出。调用 Wait 等待退出。
func (p *VUPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped = true
	p.accepting = false
	p.target = 0
	for _, w := range p.workers {
		w.draining = true
		signal(w.wake)
	}
}

// Wait 阻塞直到所有工作协程退出。
func (p *VUPool) Wait() {
	p.wg.Wait()
}

// Target 返回当前目标 VU 数。
func (p *VUPool) Target() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Live 返回存活的工作协程数，包括仍在 draining 的 VU。
func (p *VUPool) Live() int {
	return int(p.live.Load())
}

// Peak 返回运行期间的最大存活工作协程数。
func (p *VUPool) Peak() int {
	return int(p.peak.Load())
}

// Iterations 返回已完成的迭代数。
func (p *VUPool) Iterations() int64 {
	return p.iterations.Load()
}

// LiveIDs 返回存活 VU 的编号，按升序排列。
func (p *VUPool) LiveIDs() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (p *VUPool) startWorkerLocked(id int) {
	w := &worker{id: id, wake: make(chan struct{}, 1)}
	p.workers[id] = w
	p.wg.Add(1)

	live := p.live.Add(1)
	for {
		peak := p.peak.Load()
		if live <= peak || p.peak.CompareAndSwap(peak, live) {
			break
		}
	}
	if p.cfg.OnVUStart != nil {
		p.cfg.OnVUStart(id)
	}

	go p.runWorker(w)
}

// proceed 在持锁状态下决定 VU 是否继续；返回 false 时 VU 已从池中移除。
func (p *VUPool) proceed(w *worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !w.draining && p.accepting {
		select {
		case <-w.wake:
		default:
		}
		return true
	}
	if p.workers[w.id] == w {
		delete(p.workers, w.id)
	}
	return false
}

func (p *VUPool) runWorker(w *worker) {
	defer func() {
		p.live.Add(-1)
		if p.cfg.OnVUStop != nil {
			p.cfg.OnVUStop(w.id)
		}
		p.wg.Done()
	}()

	for iter := int64(0); ; iter++ {
		if !p.proceed(w) {
			return
		}
		p.runIteration(w.id, iter)
		if !p.proceed(w) {
			return
		}
		p.think(w)
	}
}

type iterationReturn struct {
	outcome *types.Outcome
	err     error
}

// runIteration 执行一次迭代。超时后不再等待工作负载返回，迭代记为失败。
func (p *VUPool) runIteration(vuID int, iter int64) {
	start := time.Now()

	var (
		iterCtx context.Context
		cancel  context.CancelFunc
	)
	if p.cfg.Timeout > 0 {
		iterCtx, cancel = context.WithTimeout(p.ctx, p.cfg.Timeout)
	} else {
		iterCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()

	done := make(chan iterationReturn, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("workload panic recovered", "vu", vuID, "iteration", iter, "panic", r, "stack", string(debug.Stack()))
				done <- iterationReturn{err: &WorkloadError{VU: vuID, Iteration: iter, Panic: r}}
			}
		}()
		out, err := p.cfg.Workload.Execute(iterCtx)
		done <- iterationReturn{outcome: out, err: err}
	}()

	res := types.IterationResult{VU: vuID, Iteration: iter, Start: start}
	returned := false
	select {
	case r := <-done:
		returned = true
		res.Outcome, res.Err = r.outcome, r.err
	case <-iterCtx.Done():
	}
	res.Duration = time.Since(start)

	if !returned || (errors.Is(iterCtx.Err(), context.DeadlineExceeded) && (res.Outcome == nil || res.Err != nil)) {
		res.TimedOut = true
		res.Err = ErrRequestTimeout
		res.Duration = p.cfg.Timeout
		res.Outcome = types.FailedOutcome(p.cfg.Timeout, ErrRequestTimeout)
	} else if res.Err != nil {
		var we *WorkloadError
		if !errors.As(res.Err, &we) {
			res.Err = &WorkloadError{VU: vuID, Iteration: iter, Err: res.Err}
		}
		if res.Outcome == nil {
			res.Outcome = types.FailedOutcome(res.Duration, res.Err)
		}
		res.Outcome.OK = false
	} else if res.Outcome == nil {
		res.Outcome = &types.Outcome{OK: true, Timings: types.Timings{Duration: res.Duration}}
	}

	p.iterations.Add(1)
	if p.cfg.OnIteration != nil {
		p.cfg.OnIteration(res)
	}
}

// think 等待思考时间，缩容或停止时被提前唤醒。
func (p *VUPool) think(w *worker) {
	d := p.cfg.ThinkTime
	if p.cfg.ThinkJitter > 0 {
		d += rand.N(p.cfg.ThinkJitter)
	}
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.wake:
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
