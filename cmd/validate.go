package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"yqhp/load-engine/internal/config"
	"yqhp/load-engine/internal/reporter/summary"
)

func newValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "校验配置文件并打印阶段计划",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().WithConfigPath(args[0]).Load()
			if err != nil {
				return &exitError{code: ExitError, err: err}
			}
			if err := cfg.Validate(); err != nil {
				return &exitError{code: ExitError, err: err}
			}
			plan, err := cfg.Plan()
			if err != nil {
				return &exitError{code: ExitError, err: err}
			}
			rules, err := cfg.ThresholdRules()
			if err != nil {
				return &exitError{code: ExitError, err: err}
			}
			if g.quiet {
				return nil
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "目标: %s %s\n", cfg.Target.Method, cfg.Target.URL)
			fmt.Fprintf(w, "执行器: %s\n", cfg.ExecutionMode())
			for i, s := range plan.Stages {
				fmt.Fprintf(w, "  阶段 %d: %s → %d VUs\n", i+1, s.Duration, s.Target)
			}
			fmt.Fprintf(w, "graceful ramp down: %s\n", plan.GracefulRampDown)
			fmt.Fprintf(w, "计划时长: %s, 最大 VU: %d, ramp-up: %s\n",
				summary.HumanDuration(plan.Duration()), plan.MaxTarget(), summary.HumanDuration(plan.RampUpDuration()))
			for _, r := range rules {
				if r.AbortOnFail {
					fmt.Fprintf(w, "阈值: %s %s (abort on fail)\n", r.Metric, r.Expression)
				} else {
					fmt.Fprintf(w, "阈值: %s %s\n", r.Metric, r.Expression)
				}
			}
			color.New(color.FgGreen).Fprintln(w, "✓ 配置有效")
			return nil
		},
	}
}
