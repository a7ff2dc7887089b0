package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"yqhp/load-engine/api/rest"
	"yqhp/load-engine/internal/config"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/runner"
)

// runOptions 保存 run 命令的 flags
type runOptions struct {
	stages           []string
	gracefulRampDown time.Duration
	url              string
	timeout          time.Duration
	thinkTime        time.Duration
	thresholds       []string
	summaryCSV       string
	timeSeriesCSV    string
	outputs          []string
	webhook          string
	address          string
	sets             []string
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}

	runCmd := &cobra.Command{
		Use:   "run [config.yaml]",
		Short: "执行压测",
		Long: `按配置文件和命令行参数执行一次分阶段压测。

配置优先级：默认值 < 配置文件 < LE_ 环境变量 < 命令行参数。
阈值未通过时退出码为 99，配置错误时退出码为 1。`,
		Example: `  # 使用配置文件
  load-engine run warmup.yaml

  # 仅使用命令行参数
  load-engine run --url https://jsonplaceholder.typicode.com/posts \
    --stage 30s:5 --stage 30s:5 --stage 30s:25 --stage 90s:25 --stage 30s:0 \
    --graceful-ramp-down 1s --threshold 'http_req_duration=p(95)<500'

  # 输出原始样本并开启控制接口
  load-engine run --out json=samples.json --address localhost:6565 warmup.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, g, args)
		},
	}

	f := runCmd.Flags()
	f.StringArrayVarP(&o.stages, "stage", "s", nil, "阶段 duration:target，可多次指定 (如 30s:5)")
	f.DurationVar(&o.gracefulRampDown, "graceful-ramp-down", 0, "最后阶段结束后等待进行中请求的时长")
	f.StringVar(&o.url, "url", "", "目标 URL")
	f.DurationVar(&o.timeout, "timeout", 0, "单次请求超时")
	f.DurationVar(&o.thinkTime, "think-time", 0, "两次迭代之间的等待时间")
	f.StringArrayVar(&o.thresholds, "threshold", nil, "阈值 metric=expr，可多次指定 (如 http_req_failed=rate<0.1)")
	f.StringVar(&o.summaryCSV, "summary-csv", "", "CSV 汇总文件路径")
	f.StringVar(&o.timeSeriesCSV, "timeseries-csv", "", "逐秒时间序列 CSV 路径")
	f.StringArrayVarP(&o.outputs, "out", "o", nil, "样本输出目标 (可多次指定)，格式: type=config")
	f.StringVar(&o.webhook, "webhook", "", "测试结束后推送汇总的 URL")
	f.StringVar(&o.address, "address", "", "控制接口监听地址 (如 localhost:6565)")
	f.StringArrayVar(&o.sets, "set", nil, "按路径覆盖配置 key=value (如 execution.timeout=10s)")

	return runCmd
}

// overrides 把显式设置的 flags 转换为配置路径覆盖
func (o *runOptions) overrides(cmd *cobra.Command) (map[string]string, error) {
	out := make(map[string]string)
	for _, s := range o.sets {
		key, value, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", s)
		}
		out[strings.TrimSpace(key)] = value
	}

	changed := cmd.Flags().Changed
	if changed("stage") {
		out["execution.stages"] = strings.Join(o.stages, ",")
	}
	if changed("graceful-ramp-down") {
		out["execution.graceful_ramp_down"] = o.gracefulRampDown.String()
	}
	if changed("url") {
		out["target.url"] = o.url
	}
	if changed("timeout") {
		out["execution.timeout"] = o.timeout.String()
	}
	if changed("think-time") {
		out["execution.think_time"] = o.thinkTime.String()
	}
	if changed("summary-csv") {
		out["summary.csv"] = o.summaryCSV
	}
	if changed("timeseries-csv") {
		out["summary.timeseries"] = o.timeSeriesCSV
	}
	if changed("webhook") {
		out["webhook.url"] = o.webhook
	}
	if changed("address") {
		out["server.address"] = o.address
	}
	return out, nil
}

// loadConfig 合并配置文件、环境变量与命令行参数
func (o *runOptions) loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	overrides, err := o.overrides(cmd)
	if err != nil {
		return nil, err
	}

	loader := config.NewLoader().WithCmdArgs(overrides)
	if len(args) > 0 {
		loader = loader.WithConfigPath(args[0])
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	for _, t := range o.thresholds {
		metric, th, err := config.ParseThresholdFlag(t)
		if err != nil {
			return nil, err
		}
		cfg.AddThreshold(metric, th)
	}
	cfg.Outputs = append(cfg.Outputs, o.outputs...)
	return cfg, nil
}

func (o *runOptions) run(cmd *cobra.Command, g *globalOptions, args []string) error {
	stdout := cmd.OutOrStdout()

	cfg, err := o.loadConfig(cmd, args)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	if g.quiet {
		cfg.Summary.Stdout = false
	}
	g.initLogging(&cfg.Logging)

	// 处理关闭信号
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.Address != "" {
		srvCtx, cancelSrv := context.WithCancel(context.Background())
		defer cancelSrv()
		srv := rest.NewServer(&rest.Config{
			Address:       cfg.Server.Address,
			ReadTimeout:   cfg.Server.ReadTimeout,
			WriteTimeout:  cfg.Server.WriteTimeout,
			EnableCORS:    true,
			EnableMetrics: true,
			AccessLog:     g.debug,
		})
		go func() {
			if err := srv.StartWithContext(srvCtx); err != nil {
				logger.Error("control API stopped", "error", err)
			}
		}()
	}

	if !g.quiet {
		printRunInfo(stdout, cfg)
	}

	printer := newProgressPrinter(stdout, g.quiet || !isTerminal(stdout))
	result, err := runner.Run(ctx, runner.Options{
		Config:     cfg,
		Stdout:     stdout,
		OnProgress: printer.update,
	})
	printer.clear()
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}

	if !g.quiet {
		printVerdict(stdout, result)
	}
	if !result.ThresholdsPassed {
		return &exitError{code: ExitThresholdsFailed, err: errors.New("some thresholds have failed")}
	}
	return nil
}

func printRunInfo(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, Banner, Version)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  目标: %s %s\n", cfg.Target.Method, cfg.Target.URL)
	fmt.Fprintf(w, "  执行器: %s\n", cfg.ExecutionMode())
	if plan, err := cfg.Plan(); err == nil {
		fmt.Fprintf(w, "  阶段: %s\n", plan)
		fmt.Fprintf(w, "  最大 VU: %d, 计划时长: %s (+%s graceful ramp down)\n",
			plan.MaxTarget(), plan.Duration(), plan.GracefulRampDown)
	}
	for _, spec := range cfg.Outputs {
		fmt.Fprintf(w, "  输出: %s\n", spec)
	}
	if cfg.Server.Address != "" {
		fmt.Fprintf(w, "  控制接口: http://%s/v1/status\n", cfg.Server.Address)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "执行中...")
	fmt.Fprintln(w)
}

func printVerdict(w io.Writer, result *runner.Result) {
	fmt.Fprintln(w)
	if result.Aborted {
		color.New(color.FgYellow).Fprintf(w, "⚠ run %s aborted: %v\n", result.RunID, result.AbortReason)
	}
	passed, failed := 0, 0
	for _, t := range result.Thresholds {
		if t.Passed {
			passed++
		} else {
			failed++
		}
	}
	switch {
	case failed > 0:
		color.New(color.FgRed, color.Bold).Fprintf(w, "✗ thresholds: %d passed, %d failed\n", passed, failed)
	case passed > 0:
		color.New(color.FgGreen, color.Bold).Fprintf(w, "✓ thresholds: %d passed\n", passed)
	default:
		color.New(color.FgGreen).Fprintln(w, "✓ test finished")
	}
}
