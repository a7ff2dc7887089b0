// Package runner is the single entry point for a load test run. The CLI and
// tests both go through Run.
//
// Pipeline: Config → Workload → RampingVUs → MetricsEngine → samplesChan → OutputManager
//
//	→ [Thresholds + Summary + Reporters]
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"yqhp/load-engine/internal/config"
	"yqhp/load-engine/internal/execution"
	"yqhp/load-engine/internal/metrics/engine"
	"yqhp/load-engine/internal/reporter"
	"yqhp/load-engine/internal/reporter/console"
	"yqhp/load-engine/internal/reporter/file"
	"yqhp/load-engine/internal/reporter/summary"
	"yqhp/load-engine/internal/reporter/webhook"
	"yqhp/load-engine/internal/workload"
	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
	"yqhp/load-engine/pkg/types"

	// registers the "json" output
	_ "yqhp/load-engine/pkg/output/json"
)

// ErrStoppedByUser is the abort reason when the run is stopped through the control surface.
var ErrStoppedByUser = errors.New("test run stopped by user")

// Options configures a run.
type Options struct {
	// Config is the validated run configuration (required).
	Config *config.Config

	// Workload replaces the HTTP workload built from Config.Target.
	Workload types.Workload

	// Stdout receives the text summary when Config.Summary.Stdout is set.
	Stdout io.Writer

	// TextOptions controls number formatting of the text summary.
	TextOptions summary.TextOptions

	// OnStart is called once the run ID is known and the control surface is registered.
	OnStart func(runID string)

	// OnProgress is called periodically while the run is active.
	OnProgress func(Progress)

	// ProgressInterval controls how often OnProgress is called. Defaults to 1s.
	ProgressInterval time.Duration
}

// Progress is the live view handed to Options.OnProgress.
type Progress struct {
	RunID          string
	State          *execution.ModeState
	PlanDuration   time.Duration
	Requests       int64
	FailedRequests int64
}

// Result contains the outcome of a run.
type Result struct {
	RunID            string
	Snapshot         *metrics.Snapshot
	Summary          *summary.Summary
	Thresholds       []types.ThresholdResult
	ThresholdsPassed bool
	Duration         time.Duration
	// TimeSeries holds the per-second points collected during the run.
	TimeSeries []*controlsurface.TimeSeriesPoint
	Aborted    bool
	// AbortReason is set when the run ended before the plan finished.
	AbortReason error
}

// Run executes one load test: it validates the configuration, drives the stage
// plan, evaluates thresholds on the final snapshot and writes every report.
// Failed thresholds are not an error; check Result.ThresholdsPassed.
func Run(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.NewConfigError("config", err)
	}
	plan, err := cfg.Plan()
	if err != nil {
		return nil, err
	}

	wl := opts.Workload
	if wl == nil {
		wcfg, err := cfg.Workload()
		if err != nil {
			return nil, err
		}
		httpWl, err := workload.NewHTTPWorkload(wcfg)
		if err != nil {
			return nil, err
		}
		defer httpWl.Close()
		wl = httpWl
	}

	runID := uuid.NewString()

	eng := engine.NewMetricsEngine()
	if err := eng.InitThresholds(cfg.EngineThresholds()); err != nil {
		return nil, types.NewConfigError("thresholds", err)
	}

	outputs, err := createOutputs(cfg, runID)
	if err != nil {
		return nil, err
	}

	mode, err := execution.GetMode(cfg.ExecutionMode())
	if err != nil {
		return nil, types.NewConfigError("execution.executor", err)
	}

	var samples chan metrics.SampleContainer
	finishOutputs := func(output.RunStatus) {}
	if len(outputs) > 0 {
		samples = output.NewSamplesChannel(0)
		_, finish, err := output.NewManager(outputs...).Start(samples)
		if err != nil {
			return nil, fmt.Errorf("start outputs: %w", err)
		}
		eng.SetSampleOutput(samples)
		finishOutputs = finish
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		abortOnce   sync.Once
		abortMu     sync.Mutex
		abortReason error
	)
	abort := func(reason error) {
		abortOnce.Do(func() {
			abortMu.Lock()
			abortReason = reason
			abortMu.Unlock()
			logger.Warn("aborting test run", "run_id", runID, "reason", reason)
			go func() { _ = mode.Stop(context.Background()) }()
		})
	}

	startedAt := time.Now()
	eng.Start(startedAt)
	logger.Info("test run started", "run_id", runID, "target", cfg.Target.URL, "plan", plan.String())

	getVUs := func() int64 { return int64(mode.GetState().ActiveVUs) }
	getIterations := func() int64 { return mode.GetState().CompletedIterations }

	controlsurface.Register(runID, &controlsurface.ControlSurface{
		RunID:         runID,
		RunCtx:        runCtx,
		Plan:          plan,
		MetricsEngine: eng,
		GetStatus: func() *controlsurface.ExecutionStatus {
			return executionStatus(runID, mode.GetState(), eng, startedAt)
		},
		StopExecution: func() error {
			abort(ErrStoppedByUser)
			return nil
		},
		GetVUs:        getVUs,
		GetIterations: getIterations,
	})
	defer controlsurface.Unregister(runID)

	if opts.OnStart != nil {
		opts.OnStart(runID)
	}

	stopThresholds := eng.StartThresholdCalculations(cfg.Execution.ThresholdInterval, abort)
	eng.StartTimeSeriesCollection(getVUs)

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(done)
		return mode.Run(gctx, &execution.ModeConfig{
			Plan:        plan,
			Workload:    wl,
			Timeout:     cfg.Execution.Timeout,
			ThinkTime:   cfg.Execution.ThinkTime,
			ThinkJitter: cfg.Execution.ThinkTimeJitter,
			Tick:        cfg.Execution.Tick,
			OnIteration: eng.RecordIteration,
			OnUpdate: func(_ execution.Update, s *execution.ModeState) {
				eng.RecordVUs(s.ActiveVUs, s.PeakVUs)
			},
		})
	})
	if opts.OnProgress != nil {
		g.Go(func() error {
			reportProgress(done, opts, runID, plan, mode, eng)
			return nil
		})
	}
	runErr := g.Wait()

	stopThresholds()
	eng.StopTimeSeriesCollection()
	elapsed := time.Since(startedAt)
	eng.Stop(startedAt.Add(elapsed))

	state := mode.GetState()
	abortMu.Lock()
	reason := abortReason
	abortMu.Unlock()
	if reason == nil && ctx.Err() != nil {
		reason = ctx.Err()
	}

	status := output.RunStatus{
		Duration:   elapsed,
		Iterations: state.CompletedIterations,
		MaxVUs:     state.PeakVUs,
		Status:     "completed",
	}
	switch {
	case runErr != nil:
		status.Status = "failed"
		status.Error = runErr
	case reason != nil:
		status.Status = "aborted"
		status.Error = reason
	}
	if samples != nil {
		close(samples)
	}
	finishOutputs(status)

	if runErr != nil {
		return nil, fmt.Errorf("run %s: %w", runID, runErr)
	}

	snap := eng.Snapshot()
	results, passed := eng.EvaluateThresholds(snap)
	for _, r := range results {
		if !r.Passed {
			logger.Warn("threshold crossed", "metric", r.Metric, "threshold", r.Condition, "value", r.Value, "error", r.Error)
		}
	}

	meta := summary.MetaFromPlan(cfg.Target.URL, plan)
	meta.RunID = runID
	meta.Executor = string(mode.Name())
	meta.Elapsed = elapsed
	meta.StartedAt = startedAt
	meta.ResultsPath = cfg.Summary.CSV
	sum := summary.Build(snap, meta).WithThresholds(results, passed)
	sum.DroppedSamples = eng.DroppedSamples()

	result := &Result{
		RunID:            runID,
		Snapshot:         snap,
		Summary:          sum,
		Thresholds:       results,
		ThresholdsPassed: passed,
		Duration:         elapsed,
		TimeSeries:       eng.GetTimeSeriesData(),
		Aborted:          reason != nil || state.Aborted,
		AbortReason:      reason,
	}
	logger.Info("test run finished",
		"run_id", runID,
		"duration", elapsed,
		"requests", sum.TotalRequests,
		"failed", sum.FailedRequests,
		"thresholds_passed", passed,
		"aborted", result.Aborted,
	)

	reporters, err := buildReporters(cfg, opts, eng)
	if err != nil {
		return result, err
	}
	// Reports are written even when the caller's context was canceled.
	if err := reporters.Report(context.WithoutCancel(ctx), sum); err != nil {
		return result, fmt.Errorf("write reports: %w", err)
	}
	return result, nil
}

func createOutputs(cfg *config.Config, runID string) ([]output.Output, error) {
	specs, err := cfg.OutputSpecs()
	if err != nil {
		return nil, err
	}
	outputs := make([]output.Output, 0, len(specs))
	for _, spec := range specs {
		out, err := output.Create(spec.Type, output.Params{
			ConfigArgument: spec.Argument,
			RunID:          runID,
			Tags:           map[string]string{"run_id": runID},
		})
		if err != nil {
			return nil, types.NewConfigError("outputs", err)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func buildReporters(cfg *config.Config, opts Options, eng *engine.MetricsEngine) (*reporter.Manager, error) {
	m := reporter.NewManager()
	if cfg.Summary.CSV != "" {
		m.AddReporter(file.NewCSVReporter(cfg.Summary.CSV))
	}
	if cfg.Summary.Text != "" {
		m.AddReporter(file.NewTextReporter(cfg.Summary.Text))
	}
	if cfg.Summary.TimeSeries != "" {
		m.AddReporter(file.NewTimeSeriesReporter(cfg.Summary.TimeSeries, eng.GetTimeSeriesData))
	}
	if cfg.Summary.Stdout && opts.Stdout != nil {
		m.AddReporter(console.New(opts.Stdout, opts.TextOptions))
	}
	if cfg.Webhook.URL != "" {
		wcfg := webhook.DefaultConfig()
		wcfg.URL = cfg.Webhook.URL
		if cfg.Webhook.Timeout > 0 {
			wcfg.Timeout = cfg.Webhook.Timeout
		}
		for k, v := range cfg.Webhook.Headers {
			wcfg.Headers[k] = v
		}
		w, err := webhook.New(wcfg)
		if err != nil {
			return nil, types.NewConfigError("webhook", err)
		}
		m.AddReporter(w)
	}
	return m, nil
}

func executionStatus(runID string, s *execution.ModeState, eng *engine.MetricsEngine, startedAt time.Time) *controlsurface.ExecutionStatus {
	status := "running"
	switch {
	case s.Aborted:
		status = "aborted"
	case !s.Running && s.Phase == types.PhaseStopped:
		status = "completed"
	}
	return &controlsurface.ExecutionStatus{
		RunID:            runID,
		Status:           status,
		Phase:            s.Phase,
		Running:          s.Running,
		Stage:            s.Stage,
		VUs:              int64(s.ActiveVUs),
		TargetVUs:        int64(s.TargetVUs),
		MaxVUs:           int64(s.PeakVUs),
		Iterations:       s.CompletedIterations,
		DurationMs:       time.Since(startedAt).Milliseconds(),
		StartedAt:        startedAt,
		ThresholdsFailed: int(eng.GetBreachedThresholdsCount()),
	}
}

func reportProgress(done <-chan struct{}, opts Options, runID string, plan types.StagePlan, mode execution.Mode, eng *engine.MetricsEngine) {
	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			snap := eng.Snapshot()
			opts.OnProgress(Progress{
				RunID:          runID,
				State:          mode.GetState(),
				PlanDuration:   plan.Duration(),
				Requests:       int64(snap.Stats(metrics.HTTPReqsName).Sum),
				FailedRequests: snap.Stats(metrics.HTTPReqFailedName).NonZero,
			})
		}
	}
}
