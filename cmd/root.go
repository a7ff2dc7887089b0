// Package cmd 提供 load-engine CLI 的命令实现
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"yqhp/load-engine/pkg/logger"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
          /\      |‾‾| Load Engine %s
     /\  /  \     |  |
    /  \/    \    |  |
   /          \   |  |
  / __________ \  |__|
`
)

// 进程退出码，与 k6 保持一致
const (
	ExitOK               = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
)

// exitError 携带退出码的错误
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// globalOptions 保存所有子命令共享的 flags
type globalOptions struct {
	debug     bool
	quiet     bool
	logFormat string
	noColor   bool
}

// NewRootCmd 创建根命令及全部子命令
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "load-engine",
		Short: "分阶段 HTTP 压测引擎",
		Long: `load-engine 按阶段计划驱动虚拟用户对目标发起 HTTP 请求，
实时汇总延迟与错误率，评估阈值并输出 CSV/文本报告。`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.noColor || !isTerminal(cmd.OutOrStdout()) {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "静默模式")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "日志格式 (console, json)")
	rootCmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "禁用彩色输出")

	// 禁用默认的 completion 命令
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// 自定义版本模板
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")

	rootCmd.AddCommand(newRunCmd(g), newValidateCmd(g), newBaselineCmd(g), newVersionCmd())
	return rootCmd
}

// Execute 执行根命令并返回进程退出码
func Execute() int {
	return ExecuteArgs(os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteArgs 使用给定参数与输出执行命令（用于测试）
func ExecuteArgs(args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.Execute()
	logger.Sync()
	if err == nil {
		return ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.code != ExitThresholdsFailed {
			fmt.Fprintln(stderr, color.RedString("错误: %v", ee.err))
		}
		return ee.code
	}
	fmt.Fprintln(stderr, color.RedString("错误: %v", err))
	return ExitError
}

// initLogging 按配置与全局 flags 初始化日志
func (g *globalOptions) initLogging(cfg *logger.Config) {
	c := *cfg
	if g.logFormat != "" {
		c.Format = g.logFormat
	}
	logger.Init(&c)
	switch {
	case g.debug:
		logger.EnableDebug()
	case g.quiet:
		logger.SetLevelFromString("error")
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
