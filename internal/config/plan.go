package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/load-engine/internal/execution"
	"yqhp/load-engine/internal/metrics/engine"
	"yqhp/load-engine/internal/workload"
	"yqhp/load-engine/pkg/types"
)

// StageConfig is one stage of the plan.
type StageConfig struct {
	Duration time.Duration `yaml:"duration"`
	Target   int           `yaml:"target"`
	Name     string        `yaml:"name,omitempty"`
}

// Stages is the ordered stage list. Besides the YAML sequence form it accepts the
// compact "30s:5,1m:25" form from flags and environment variables.
type Stages []StageConfig

// ParseStage parses "duration:target", e.g. "30s:5".
func ParseStage(s string) (StageConfig, error) {
	d, t, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return StageConfig{}, fmt.Errorf("invalid stage %q, expected duration:target", s)
	}
	duration, err := time.ParseDuration(strings.TrimSpace(d))
	if err != nil {
		return StageConfig{}, fmt.Errorf("invalid stage %q: %w", s, err)
	}
	target, err := strconv.Atoi(strings.TrimSpace(t))
	if err != nil {
		return StageConfig{}, fmt.Errorf("invalid stage %q: %w", s, err)
	}
	return StageConfig{Duration: duration, Target: target}, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stages) UnmarshalText(text []byte) error {
	var out Stages
	for _, part := range strings.Split(string(text), ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		st, err := ParseStage(part)
		if err != nil {
			return err
		}
		out = append(out, st)
	}
	*s = out
	return nil
}

// Threshold is one threshold entry. In YAML it is either a bare expression string
// or a mapping with threshold and abort_on_fail.
type Threshold struct {
	Expression  string `yaml:"threshold"`
	AbortOnFail bool   `yaml:"abort_on_fail,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Threshold) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Expression = node.Value
		t.AbortOnFail = false
		return nil
	}
	type plain Threshold
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = Threshold(p)
	return nil
}

// MarshalYAML keeps plain thresholds in their short form.
func (t Threshold) MarshalYAML() (any, error) {
	if !t.AbortOnFail {
		return t.Expression, nil
	}
	type plain Threshold
	return plain(t), nil
}

// ParseThresholdFlag parses "metric=expression", e.g. "http_req_duration=p(95)<500".
func ParseThresholdFlag(s string) (metric string, th Threshold, err error) {
	metric, expr, ok := strings.Cut(s, "=")
	metric, expr = strings.TrimSpace(metric), strings.TrimSpace(expr)
	if !ok || metric == "" || expr == "" {
		return "", Threshold{}, fmt.Errorf("invalid threshold %q, expected metric=expression", s)
	}
	return metric, Threshold{Expression: expr}, nil
}

// AddThreshold appends a threshold for metric.
func (c *Config) AddThreshold(metric string, th Threshold) {
	if c.Thresholds == nil {
		c.Thresholds = make(map[string][]Threshold)
	}
	c.Thresholds[metric] = append(c.Thresholds[metric], th)
}

// Plan builds the immutable stage plan.
func (c *Config) Plan() (types.StagePlan, error) {
	plan := types.StagePlan{GracefulRampDown: c.Execution.GracefulRampDown}
	for _, s := range c.Execution.Stages {
		plan.Stages = append(plan.Stages, types.Stage{Duration: s.Duration, Target: s.Target, Name: s.Name})
	}
	if err := execution.ValidatePlan(plan); err != nil {
		return types.StagePlan{}, err
	}
	return plan, nil
}

// EngineThresholds converts the thresholds to the metrics engine form.
func (c *Config) EngineThresholds() map[string][]engine.ThresholdConfig {
	out := make(map[string][]engine.ThresholdConfig, len(c.Thresholds))
	for metric, list := range c.Thresholds {
		for _, th := range list {
			out[metric] = append(out[metric], engine.ThresholdConfig{Expression: th.Expression, AbortOnFail: th.AbortOnFail})
		}
	}
	return out
}

// ThresholdRules parses every threshold expression.
func (c *Config) ThresholdRules() ([]*engine.Rule, error) {
	rules, err := engine.ParseRules(c.EngineThresholds())
	if err != nil {
		return nil, types.NewConfigError("thresholds", err)
	}
	return rules, nil
}

// ParseStatusRange parses "200-399" or "404".
func ParseStatusRange(s string) (workload.StatusRange, error) {
	lo, hi, isRange := strings.Cut(strings.TrimSpace(s), "-")
	low, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return workload.StatusRange{}, fmt.Errorf("invalid status %q", s)
	}
	high := low
	if isRange {
		if high, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return workload.StatusRange{}, fmt.Errorf("invalid status %q", s)
		}
	}
	if low < 100 || high > 599 || low > high {
		return workload.StatusRange{}, fmt.Errorf("invalid status range %q", s)
	}
	return workload.StatusRange{Min: low, Max: high}, nil
}

// Workload builds the HTTP workload configuration.
func (c *Config) Workload() (workload.HTTPConfig, error) {
	t := c.Target
	follow := t.FollowRedirects
	out := workload.HTTPConfig{
		Method:          t.Method,
		URL:             t.URL,
		Headers:         t.Headers,
		Body:            t.Body,
		Checks:          t.Checks,
		FailOnCheck:     t.FailOnCheck,
		DiscardBody:     t.DiscardBody,
		MaxBodyBytes:    t.MaxBodyBytes,
		Insecure:        t.InsecureSkipVerify,
		NoKeepAlive:     t.NoKeepAlive,
		FollowRedirects: &follow,
	}
	for _, s := range t.ExpectedStatuses {
		r, err := ParseStatusRange(s)
		if err != nil {
			return workload.HTTPConfig{}, types.NewConfigError("target.expected_statuses", err)
		}
		out.ExpectedStatuses = append(out.ExpectedStatuses, r)
	}
	return out, nil
}

// OutputSpec is one "--out type=argument" entry.
type OutputSpec struct {
	Type     string
	Argument string
}

var errEmptyOutput = errors.New("empty output type")

// ParseOutput parses "json=samples.json" or a bare type.
func ParseOutput(s string) (OutputSpec, error) {
	typ, arg, _ := strings.Cut(strings.TrimSpace(s), "=")
	if typ == "" {
		return OutputSpec{}, fmt.Errorf("invalid output %q: %w", s, errEmptyOutput)
	}
	return OutputSpec{Type: typ, Argument: arg}, nil
}

// OutputSpecs parses every configured output.
func (c *Config) OutputSpecs() ([]OutputSpec, error) {
	specs := make([]OutputSpec, 0, len(c.Outputs))
	for _, o := range c.Outputs {
		spec, err := ParseOutput(o)
		if err != nil {
			return nil, types.NewConfigError("outputs", err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func normalizeExecutor(name string) types.ExecutionMode {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return types.ModeRampingVUs
	}
	return types.ExecutionMode(name)
}

// ExecutionMode returns the configured executor, defaulting to ramping-vus.
func (c *Config) ExecutionMode() types.ExecutionMode {
	return normalizeExecutor(c.Execution.Executor)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
