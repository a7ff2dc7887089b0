package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"yqhp/load-engine/internal/execution"
	"yqhp/load-engine/internal/metrics/engine"
	"yqhp/load-engine/internal/workload"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields returns the failing field paths in order.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.Field
	}
	return out
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateTarget(&cfg.Target)
	v.validateExecution(&cfg.Execution)
	v.validateThresholds(cfg.Thresholds)
	v.validateOutputs(cfg.Outputs)
	v.validateWebhook(&cfg.Webhook)
	v.validateServer(&cfg.Server)
	v.validateLogging(cfg)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

var validMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"PATCH": true, "DELETE": true, "OPTIONS": true,
}

func (v *Validator) validateTarget(cfg *TargetConfig) {
	if strings.TrimSpace(cfg.URL) == "" {
		v.addError("target.url", "url is required")
	} else if u, err := url.Parse(cfg.URL); err != nil {
		v.addError("target.url", err.Error())
	} else if u.Scheme != "http" && u.Scheme != "https" {
		v.addError("target.url", fmt.Sprintf("unsupported scheme '%s', must be http or https", u.Scheme))
	} else if u.Host == "" {
		v.addError("target.url", "host is required")
	}

	if !validMethods[strings.ToUpper(cfg.Method)] {
		v.addError("target.method", fmt.Sprintf("invalid method '%s'", cfg.Method))
	}
	for _, s := range cfg.ExpectedStatuses {
		if _, err := ParseStatusRange(s); err != nil {
			v.addError("target.expected_statuses", err.Error())
		}
	}
	for i, c := range cfg.Checks {
		if _, err := workload.CompileCheck(c); err != nil {
			v.addError(fmt.Sprintf("target.checks[%d]", i), err.Error())
		}
	}
	if cfg.MaxBodyBytes < 0 {
		v.addError("target.max_body_bytes", "max body bytes must be non-negative")
	}
}

func (v *Validator) validateExecution(cfg *ExecutionConfig) {
	if _, err := execution.GetMode(normalizeExecutor(cfg.Executor)); err != nil {
		v.addError("execution.executor", err.Error())
	}

	if len(cfg.Stages) == 0 {
		v.addError("execution.stages", "at least one stage is required")
	}
	for i, s := range cfg.Stages {
		field := fmt.Sprintf("execution.stages[%d]", i)
		if s.Target < 0 {
			v.addError(field+".target", fmt.Sprintf("target must be non-negative, got %d", s.Target))
		}
		if s.Duration < 0 {
			v.addError(field+".duration", "duration must be non-negative")
		} else if s.Duration == 0 && i != len(cfg.Stages)-1 {
			v.addError(field+".duration", "only the last stage may have a zero duration")
		}
	}

	if cfg.GracefulRampDown < 0 {
		v.addError("execution.graceful_ramp_down", "graceful ramp down must be non-negative")
	}
	if cfg.Timeout <= 0 {
		v.addError("execution.timeout", "timeout must be positive")
	}
	if cfg.ThinkTime < 0 {
		v.addError("execution.think_time", "think time must be non-negative")
	}
	if cfg.ThinkTimeJitter < 0 {
		v.addError("execution.think_time_jitter", "think time jitter must be non-negative")
	}
	if cfg.Tick < 0 {
		v.addError("execution.tick", "tick must be non-negative")
	}
	if cfg.ThresholdInterval < 0 {
		v.addError("execution.threshold_interval", "threshold interval must be non-negative")
	}
}

func (v *Validator) validateThresholds(thresholds map[string][]Threshold) {
	for _, metric := range sortedKeys(thresholds) {
		for i, th := range thresholds[metric] {
			if _, err := engine.ParseRule(metric, th.Expression, th.AbortOnFail); err != nil {
				v.addError(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}
}

func (v *Validator) validateOutputs(outputs []string) {
	for i, o := range outputs {
		if _, err := ParseOutput(o); err != nil {
			v.addError(fmt.Sprintf("outputs[%d]", i), err.Error())
		}
	}
}

func (v *Validator) validateWebhook(cfg *WebhookConfig) {
	if cfg.URL == "" {
		return
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.addError("webhook.url", fmt.Sprintf("invalid webhook url '%s'", cfg.URL))
	}
	if cfg.Timeout < 0 {
		v.addError("webhook.timeout", "timeout must be non-negative")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Address != "" && !isValidAddress(cfg.Address) {
		v.addError("server.address", "invalid address format, expected host:port or :port")
	}
	if cfg.ReadTimeout < 0 {
		v.addError("server.read_timeout", "read timeout must be non-negative")
	}
	if cfg.WriteTimeout < 0 {
		v.addError("server.write_timeout", "write timeout must be non-negative")
	}
}

func (v *Validator) validateLogging(cfg *Config) {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", cfg.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		v.addError("logging.format", fmt.Sprintf("invalid log format '%s', must be one of: json, console", cfg.Logging.Format))
	}

	switch strings.ToLower(cfg.Logging.Output) {
	case "stderr", "stdout":
	case "file", "both":
		if cfg.Logging.FilePath == "" {
			v.addError("logging.file_path", "file path is required when logging to a file")
		}
	default:
		v.addError("logging.output", fmt.Sprintf("invalid log output '%s', must be one of: stderr, stdout, file, both", cfg.Logging.Output))
	}
}

// isValidAddress checks if the address is a valid host:port format.
func isValidAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil && !isValidHostname(host) {
		return false
	}
	return true
}

// isValidHostname performs basic hostname validation.
func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	for _, label := range strings.Split(hostname, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if !isAlphanumeric(label[0]) || !isAlphanumeric(label[len(label)-1]) {
			return false
		}
		for _, c := range label {
			if !isAlphanumeric(byte(c)) && c != '-' {
				return false
			}
		}
	}
	return true
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}
