package types

import "fmt"

// ConfigError 表示运行开始前发现的配置错误，属于致命错误
type ConfigError struct {
	Field string
	Err   error
}

// NewConfigError 创建配置错误
func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Err: err}
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %v", e.Err)
	}
	return fmt.Sprintf("config error: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
