package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"yqhp/load-engine/internal/baseline"
	"yqhp/load-engine/internal/config"
	"yqhp/load-engine/internal/reporter/summary"
	"yqhp/load-engine/internal/workload"
	"yqhp/load-engine/pkg/types"
)

// baselineOptions 保存 baseline 命令的 flags
type baselineOptions struct {
	url      string
	requests int
	interval time.Duration
	timeout  time.Duration
	out      string
	compare  string
}

func newBaselineCmd(g *globalOptions) *cobra.Command {
	o := &baselineOptions{}

	baselineCmd := &cobra.Command{
		Use:   "baseline [config.yaml]",
		Short: "单用户基线测试，并可与压测汇总对比",
		Long: `以单个用户顺序发送请求，测量目标在无负载时的响应时间。

请求配置取自配置文件的 target 段，--url 可覆盖目标地址。
指定 --compare 时读取压测生成的 CSV 汇总，输出响应时间变化、吞吐倍数与评估结论。`,
		Example: `  # 60 个请求，每秒一个
  load-engine baseline --url https://jsonplaceholder.typicode.com/posts

  # 与压测结果对比
  load-engine baseline warmup.yaml --compare k6_metrics_summary.csv`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, g, args)
		},
	}

	f := baselineCmd.Flags()
	f.StringVar(&o.url, "url", "", "目标 URL")
	f.IntVarP(&o.requests, "requests", "n", baseline.DefaultRequests, "请求数")
	f.DurationVar(&o.interval, "interval", baseline.DefaultInterval, "相邻两次请求开始的间隔")
	f.DurationVar(&o.timeout, "timeout", baseline.DefaultTimeout, "单次请求超时")
	f.StringVar(&o.out, "out", baseline.DefaultOutput, "基线 CSV 输出路径，为空时不写文件")
	f.StringVar(&o.compare, "compare", "", "压测 CSV 汇总路径")

	return baselineCmd
}

func (o *baselineOptions) run(cmd *cobra.Command, g *globalOptions, args []string) error {
	stdout := cmd.OutOrStdout()

	overrides := make(map[string]string)
	if cmd.Flags().Changed("url") {
		overrides["target.url"] = o.url
	}
	loader := config.NewLoader().WithCmdArgs(overrides)
	if len(args) > 0 {
		loader = loader.WithConfigPath(args[0])
	}
	cfg, err := loader.Load()
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	g.initLogging(&cfg.Logging)

	// 先读取对比文件，避免测量结束后才发现文件无效
	var load *summary.Summary
	if o.compare != "" {
		data, err := os.ReadFile(o.compare)
		if err != nil {
			return &exitError{code: ExitError, err: types.NewConfigError("compare", err)}
		}
		if load, err = summary.ParseCSV(string(data)); err != nil {
			return &exitError{code: ExitError, err: types.NewConfigError("compare", err)}
		}
	}

	hcfg, err := cfg.Workload()
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	wl, err := workload.NewHTTPWorkload(hcfg)
	if err != nil {
		return &exitError{code: ExitError, err: err}
	}
	defer wl.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !g.quiet {
		fmt.Fprintf(stdout, "🔄 单用户基线: %s %s, %d 个请求, 间隔 %s\n", hcfg.Method, hcfg.URL, o.requests, o.interval)
	}
	res, err := baseline.Run(ctx, baseline.Config{
		Workload: wl,
		Requests: o.requests,
		Interval: o.interval,
		Timeout:  o.timeout,
	})
	if res == nil {
		return &exitError{code: ExitError, err: types.NewConfigError("requests", err)}
	}
	if err != nil {
		color.New(color.FgYellow).Fprintf(stdout, "⚠ 基线测试中断: %v\n", err)
	}

	if o.out != "" {
		var buf bytes.Buffer
		if err := res.WriteCSV(&buf); err != nil {
			return &exitError{code: ExitError, err: err}
		}
		if err := os.WriteFile(o.out, buf.Bytes(), 0o644); err != nil {
			return &exitError{code: ExitError, err: fmt.Errorf("write baseline: %w", err)}
		}
	}
	if g.quiet {
		return nil
	}

	st := res.Stats()
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "   • Requests: %d\n", st.Requests)
	fmt.Fprintf(stdout, "   • Success Rate: %.1f%%\n", st.SuccessRate)
	fmt.Fprintf(stdout, "   • Avg Response Time: %.1fms\n", st.AvgResponseTime)
	fmt.Fprintf(stdout, "   • 95th Percentile: %.1fms\n", st.P95ResponseTime)
	fmt.Fprintf(stdout, "   • Throughput: %.2f req/s\n", st.Throughput)
	if o.out != "" {
		fmt.Fprintf(stdout, "✅ Baseline saved to: %s\n", o.out)
	}

	if load != nil {
		fmt.Fprintln(stdout)
		fmt.Fprint(stdout, baseline.RenderComparison(baseline.Compare(load, st)))
	}
	return nil
}
