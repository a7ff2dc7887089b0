package execution

import (
	"context"
	"sync/atomic"
	"time"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/types"
)

// RampingVUsMode implements the ramping-vus execution mode.
// A Scheduler drives the target and a VUPool reconciles live workers to it.
type RampingVUsMode struct {
	*BaseMode

	running atomic.Bool
	pool    atomic.Pointer[VUPool]
}

// NewRampingVUsMode creates a new ramping VUs mode.
func NewRampingVUsMode() *RampingVUsMode {
	return &RampingVUsMode{
		BaseMode: NewBaseMode(types.ModeRampingVUs),
	}
}

// Run executes the stage plan. It returns after every worker has exited.
func (m *RampingVUsMode) Run(ctx context.Context, config *ModeConfig) error {
	if config == nil {
		return ErrNilConfig
	}
	if config.Workload == nil {
		return ErrNilWorkload
	}
	sched, err := NewScheduler(config.Plan, config.Tick)
	if err != nil {
		return err
	}
	if !m.running.CompareAndSwap(false, true) {
		return ErrModeAlreadyRunning
	}

	pool, err := NewVUPool(PoolConfig{
		Workload:    config.Workload,
		Timeout:     config.Timeout,
		ThinkTime:   config.ThinkTime,
		ThinkJitter: config.ThinkJitter,
		OnIteration: config.OnIteration,
		OnVUStart:   config.OnVUStart,
		OnVUStop:    config.OnVUStop,
	})
	if err != nil {
		return err
	}
	m.pool.Store(pool)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	start := time.Now()
	m.SetState(func(s *ModeState) {
		s.Running = true
		s.Phase = types.PhaseStarting
		s.StartTime = start
	})
	defer func() {
		m.SetState(func(s *ModeState) {
			s.Running = false
			s.Phase = types.PhaseStopped
			s.ActiveVUs = pool.Live()
			s.PeakVUs = pool.Peak()
			s.CompletedIterations = pool.Iterations()
			s.ElapsedTime = time.Since(s.StartTime)
		})
		m.SignalDone()
	}()

	pool.Start(runCtx)

	lastPhase := types.PhaseStarting
	sched.Run(runCtx, start, func(u Update) {
		if u.Phase == types.PhaseStopped {
			pool.Stop()
		} else {
			pool.SetAccepting(u.Phase.AcceptsIterations())
			if err := pool.SetTarget(u.Target); err != nil {
				logger.Warn("scale vu pool", "target", u.Target, "error", err)
			}
		}

		if u.Phase != lastPhase {
			logger.Debug("phase changed", "from", lastPhase, "to", u.Phase, "elapsed", u.Elapsed, "target", u.Target)
			lastPhase = u.Phase
		}

		m.SetState(func(s *ModeState) {
			s.Phase = u.Phase
			s.Stage = u.Stage
			s.TargetVUs = u.Target
			s.ActiveVUs = pool.Live()
			s.PeakVUs = pool.Peak()
			s.CompletedIterations = pool.Iterations()
			s.ElapsedTime = u.Elapsed
			if u.Aborted {
				s.Aborted = true
			}
		})
		if config.OnUpdate != nil {
			config.OnUpdate(u, m.GetState())
		}
	})

	pool.Wait()
	return nil
}

// Stop requests the run to stop and waits for it to finish.
func (m *RampingVUsMode) Stop(ctx context.Context) error {
	m.RequestStop()
	if !m.running.Load() {
		return nil
	}
	return m.WaitDone(ctx)
}

// GetActiveVUs returns the current number of live workers.
func (m *RampingVUsMode) GetActiveVUs() int {
	if p := m.pool.Load(); p != nil {
		return p.Live()
	}
	return 0
}

// GetCompletedIterations returns the number of completed iterations.
func (m *RampingVUsMode) GetCompletedIterations() int64 {
	if p := m.pool.Load(); p != nil {
		return p.Iterations()
	}
	return 0
}
