package config

import (
	"errors"
	"fmt"
)

// ConfigError indicates a mapping document that is missing, unreadable, or
// failed validation. It is fatal to pipeline startup and recoverable only
// by operator correction.
type ConfigError struct {
	Table  Table
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config table %s: %s: %v", e.Table, e.Reason, e.Err)
	}
	return fmt.Sprintf("config table %s: %s", e.Table, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err (or any error in its chain) is a
// ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
