package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"yqhp/load-engine/pkg/types"
)

// DefaultTick is how often the scheduler re-emits the target when nothing changes.
const DefaultTick = time.Second

// minWait keeps the control loop from spinning on float rounding at change boundaries.
const minWait = time.Millisecond

// ValidatePlan checks a stage plan before any VU is started.
func ValidatePlan(plan types.StagePlan) error {
	if len(plan.Stages) == 0 {
		return types.NewConfigError("stages", ErrNoStages)
	}
	for i, s := range plan.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if s.Target < 0 {
			return types.NewConfigError(field+".target", fmt.Errorf("%w: %d", ErrNegativeTarget, s.Target))
		}
		if s.Duration < 0 || (s.Duration == 0 && i != len(plan.Stages)-1) {
			return types.NewConfigError(field+".duration", fmt.Errorf("%w: %s", ErrInvalidStageDuration, s.Duration))
		}
	}
	if plan.GracefulRampDown < 0 {
		return types.NewConfigError("graceful_ramp_down", ErrNegativeGracefulRampDown)
	}
	return nil
}

// TargetAt returns the VU target at elapsed time t. Inside a stage the target is
// interpolated linearly from the previous stage's target; past the last stage the
// last target is held. It does not apply the forced stop after gracefulRampDown.
func TargetAt(plan types.StagePlan, t time.Duration) int {
	prev := 0
	var start time.Duration
	for _, s := range plan.Stages {
		end := start + s.Duration
		if t < end {
			if t < start {
				t = start
			}
			progress := float64(t-start) / float64(s.Duration)
			return int(math.Round(float64(prev) + float64(s.Target-prev)*progress))
		}
		prev = s.Target
		start = end
	}
	return prev
}

// PhaseAt returns the run phase at elapsed time t.
func PhaseAt(plan types.StagePlan, t time.Duration) types.Phase {
	if t < 0 {
		return types.PhaseStarting
	}
	idx := StageAt(plan, t)
	if idx < 0 {
		if t < plan.Duration()+plan.GracefulRampDown {
			return types.PhaseRampingDown
		}
		return types.PhaseStopped
	}
	prev := 0
	if idx > 0 {
		prev = plan.Stages[idx-1].Target
	}
	if plan.Stages[idx].Target == prev {
		return types.PhaseHolding
	}
	return types.PhaseRamping
}

// StageAt returns the index of the stage active at t, or -1 once every stage has ended.
func StageAt(plan types.StagePlan, t time.Duration) int {
	var start time.Duration
	for i, s := range plan.Stages {
		start += s.Duration
		if t < start {
			return i
		}
	}
	return -1
}

// NextChange returns the earliest time after t at which TargetAt or PhaseAt changes.
// ok is false once the run is stopped.
func NextChange(plan types.StagePlan, t time.Duration) (next time.Duration, ok bool) {
	total := plan.Duration()
	if t >= total+plan.GracefulRampDown {
		return 0, false
	}
	if t >= total {
		return total + plan.GracefulRampDown, true
	}

	prev := 0
	var start time.Duration
	for _, s := range plan.Stages {
		end := start + s.Duration
		if t >= end {
			prev = s.Target
			start = end
			continue
		}

		delta := s.Target - prev
		if delta == 0 {
			return end, true
		}

		// round(x) steps when x crosses a half-integer.
		x := float64(prev) + float64(delta)*float64(t-start)/float64(s.Duration)
		var boundary float64
		if delta > 0 {
			boundary = math.Floor(x+0.5) + 0.5
		} else {
			boundary = math.Floor(x+0.5) - 0.5
		}
		e := time.Duration(math.Ceil((boundary - float64(prev)) * float64(s.Duration) / float64(delta)))
		next = start + e
		if next <= t {
			next = t + 1
		}
		if next > end {
			next = end
		}
		return next, true
	}
	return total, true
}

// Update is one emission of the scheduler control loop.
type Update struct {
	Elapsed time.Duration
	Target  int
	Phase   types.Phase
	Stage   int
	Aborted bool
}

// Scheduler drives the VU target over time according to a stage plan.
type Scheduler struct {
	plan types.StagePlan
	tick time.Duration
}

// NewScheduler validates the plan and returns a scheduler for it.
func NewScheduler(plan types.StagePlan, tick time.Duration) (*Scheduler, error) {
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{plan: plan.Clone(), tick: tick}, nil
}

// Plan returns a copy of the scheduler's stage plan.
func (s *Scheduler) Plan() types.StagePlan {
	return s.plan.Clone()
}

// At returns the update the scheduler would emit at elapsed time t.
func (s *Scheduler) At(t time.Duration) Update {
	phase := PhaseAt(s.plan, t)
	target := TargetAt(s.plan, t)
	if phase == types.PhaseStopped {
		target = 0
	}
	return Update{Elapsed: t, Target: target, Phase: phase, Stage: StageAt(s.plan, t)}
}

// Run emits updates to apply until the plan completes or ctx is cancelled.
// apply is always called a final time with PhaseStopped.
func (s *Scheduler) Run(ctx context.Context, start time.Time, apply func(Update)) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		elapsed := time.Since(start)
		u := s.At(elapsed)
		apply(u)
		if u.Phase == types.PhaseStopped {
			return
		}

		wait := s.tick
		if next, ok := NextChange(s.plan, elapsed); ok && next-elapsed < wait {
			wait = next - elapsed
		}
		if wait < minWait {
			wait = minWait
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			apply(Update{Elapsed: time.Since(start), Phase: types.PhaseStopped, Stage: -1, Aborted: true})
			return
		case <-timer.C:
		}
	}
}
