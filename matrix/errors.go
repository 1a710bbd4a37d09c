package matrix

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid matrix or pipeline definition. It is raised
// before any job runs and is never retried.
type ConfigError struct {
	// Field locates the offending element, e.g. "axes[1]" or "exclude[0].os".
	Field string
	// Reason describes what is wrong with it.
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Configf builds a ConfigError for field with a formatted reason.
func Configf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
