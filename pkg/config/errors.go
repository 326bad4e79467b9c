package config

import (
	"fmt"

	"github.com/polisai/polis-shape/pkg/domain"
)

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field       string
	Value       any
	Reason      string
	Suggestions []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in field '%s': %s", e.Field, e.Reason)
}

// Unwrap lets callers match every validation failure with domain.ErrInvalidConfig.
func (e *ConfigError) Unwrap() error {
	return domain.ErrInvalidConfig
}

// WithSuggestion appends a remediation hint shown to operators.
func (e *ConfigError) WithSuggestion(suggestion string) *ConfigError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// NewConfigMissingError reports a required field that was left empty.
func NewConfigMissingError(field string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf("required field '%s' is missing", field),
	}
}

// NewConfigValidationError reports a field holding an unusable value.
func NewConfigValidationError(field string, value any, reason string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}
