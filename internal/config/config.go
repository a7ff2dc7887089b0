package config

import (
	"encoding"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/load-engine/internal/workload"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/types"
)

// DefaultEnvPrefix is the prefix used by the env tags below.
const DefaultEnvPrefix = "LE_"

// DefaultSummaryCSV is where the CSV summary is written unless configured otherwise.
const DefaultSummaryCSV = "k6_metrics_summary.csv"

// Config represents the complete configuration of a load test run.
type Config struct {
	Target     TargetConfig           `yaml:"target"`
	Execution  ExecutionConfig        `yaml:"execution"`
	Thresholds map[string][]Threshold `yaml:"thresholds,omitempty"`
	Outputs    []string               `yaml:"outputs,omitempty" env:"LE_OUTPUTS"`
	Summary    SummaryConfig          `yaml:"summary"`
	Webhook    WebhookConfig          `yaml:"webhook"`
	Server     ServerConfig           `yaml:"server"`
	Logging    logger.Config          `yaml:"logging"`
}

// TargetConfig describes the HTTP request every iteration sends.
type TargetConfig struct {
	Name               string                 `yaml:"name,omitempty" env:"LE_TARGET_NAME"`
	Method             string                 `yaml:"method" env:"LE_TARGET_METHOD"`
	URL                string                 `yaml:"url" env:"LE_TARGET_URL"`
	Headers            map[string]string      `yaml:"headers,omitempty" env:"LE_TARGET_HEADERS"`
	Body               string                 `yaml:"body,omitempty" env:"LE_TARGET_BODY"`
	ExpectedStatuses   []string               `yaml:"expected_statuses,omitempty" env:"LE_TARGET_EXPECTED_STATUSES"`
	Checks             []workload.CheckConfig `yaml:"checks,omitempty"`
	FailOnCheck        bool                   `yaml:"fail_on_check" env:"LE_TARGET_FAIL_ON_CHECK"`
	DiscardBody        bool                   `yaml:"discard_body" env:"LE_TARGET_DISCARD_BODY"`
	MaxBodyBytes       int64                  `yaml:"max_body_bytes,omitempty"`
	InsecureSkipVerify bool                   `yaml:"insecure_skip_verify" env:"LE_TARGET_INSECURE"`
	NoKeepAlive        bool                   `yaml:"no_keep_alive" env:"LE_TARGET_NO_KEEP_ALIVE"`
	FollowRedirects    bool                   `yaml:"follow_redirects" env:"LE_TARGET_FOLLOW_REDIRECTS"`
}

// ExecutionConfig holds the executor and its stage plan.
type ExecutionConfig struct {
	Executor          string        `yaml:"executor" env:"LE_EXECUTOR"`
	Stages            Stages        `yaml:"stages" env:"LE_STAGES"`
	GracefulRampDown  time.Duration `yaml:"graceful_ramp_down" env:"LE_GRACEFUL_RAMP_DOWN"`
	Timeout           time.Duration `yaml:"timeout" env:"LE_TIMEOUT"`
	ThinkTime         time.Duration `yaml:"think_time" env:"LE_THINK_TIME"`
	ThinkTimeJitter   time.Duration `yaml:"think_time_jitter" env:"LE_THINK_TIME_JITTER"`
	Tick              time.Duration `yaml:"tick"`
	ThresholdInterval time.Duration `yaml:"threshold_interval"`
}

// SummaryConfig controls the end-of-test report files.
type SummaryConfig struct {
	CSV    string `yaml:"csv" env:"LE_SUMMARY_CSV"`
	Text   string `yaml:"text,omitempty" env:"LE_SUMMARY_TEXT"`
	Stdout bool   `yaml:"stdout" env:"LE_SUMMARY_STDOUT"`

	// TimeSeries is the per-second CSV export path. Empty disables it.
	TimeSeries string `yaml:"timeseries,omitempty" env:"LE_SUMMARY_TIMESERIES"`
}

// WebhookConfig configures the summary push. An empty URL disables it.
type WebhookConfig struct {
	URL     string            `yaml:"url,omitempty" env:"LE_WEBHOOK_URL"`
	Timeout time.Duration     `yaml:"timeout" env:"LE_WEBHOOK_TIMEOUT"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// ServerConfig holds the live control API configuration. An empty address
// disables the server.
type ServerConfig struct {
	Address      string        `yaml:"address,omitempty" env:"LE_SERVER_ADDRESS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"LE_SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"LE_SERVER_WRITE_TIMEOUT"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			Method:          "GET",
			Headers:         make(map[string]string),
			FollowRedirects: true,
		},
		Execution: ExecutionConfig{
			Executor:          string(types.ModeRampingVUs),
			GracefulRampDown:  30 * time.Second,
			Timeout:           60 * time.Second,
			Tick:              time.Second,
			ThresholdInterval: 2 * time.Second,
		},
		Thresholds: make(map[string][]Threshold),
		Summary: SummaryConfig{
			CSV:    DefaultSummaryCSV,
			Stdout: true,
		},
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
		},
		Server: ServerConfig{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: *logger.DefaultConfig(),
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	cmdArgs    map[string]string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		cmdArgs:   make(map[string]string),
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix for environment variables.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithCmdArgs sets dot-path overrides, e.g. "execution.timeout" -> "5s".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// WithLookupEnv replaces the environment source.
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags.
// Unlike the server config of a long-running service, a missing file is an error.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, err
		}
	}

	if err := l.applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, err
	}

	if err := l.applyCmdOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return types.NewConfigError("file", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return types.NewConfigError(l.configPath, err)
	}
	return nil
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		name := l.envPrefix + strings.TrimPrefix(envTag, DefaultEnvPrefix)

		envValue, ok := l.lookupEnv(name)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return types.NewConfigError(name, err)
		}
	}

	return nil
}

func (l *Loader) applyCmdOverrides(cfg *Config) error {
	for key, value := range l.cmdArgs {
		if err := SetValue(cfg, key, value); err != nil {
			return types.NewConfigError(key, err)
		}
	}
	return nil
}

// SetValue sets a configuration value by dot-notation path, matching the yaml
// names ("execution.graceful_ramp_down") or the Go field names.
func SetValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByName(v, part)
		if !ok {
			return fmt.Errorf("unknown config path: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("expected %s to be a section, got %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

func fieldByName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	plain := strings.ReplaceAll(name, "_", "")
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if tag == name || strings.EqualFold(f.Name, plain) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var (
	durationType        = reflect.TypeOf(time.Duration(0))
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}

	if field.CanAddr() && field.Addr().Type().Implements(textUnmarshalerType) {
		return field.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(value))
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))

	case reflect.Map:
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported map type")
		}
		m := make(map[string]string)
		for _, pair := range strings.Split(value, ",") {
			kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(kv) == 2 {
				m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
		field.Set(reflect.ValueOf(m))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration from bytes on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, types.NewConfigError("", err)
	}
	return cfg, nil
}

// Load reads path (optional), applies env and overrides, then validates.
// Every failure is a *types.ConfigError.
func Load(path string, overrides map[string]string) (*Config, error) {
	cfg, err := NewLoader().WithConfigPath(path).WithCmdArgs(overrides).Load()
	if err != nil {
		return nil, err
	}
	if err := NewValidator().Validate(cfg); err != nil {
		return nil, types.NewConfigError("", err)
	}
	return cfg, nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := c.Serialize()
	clone, _ := ParseConfig(data)
	return clone
}
