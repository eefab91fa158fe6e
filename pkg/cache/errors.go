package cache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Remote store errors
	ErrNotFound           = errors.New("key not found in cache")
	ErrNotConnected       = errors.New("remote cache not connected")
	ErrStorageUnavailable = errors.New("storage backend unavailable")
	ErrStorageTimeout     = errors.New("storage operation timeout")

	// Payload errors
	ErrSerializationFailed   = errors.New("serialization failed")
	ErrDeserializationFailed = errors.New("deserialization failed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ConfigurationError reports invalid construction parameters: malformed
// encryption keys, out-of-range compression levels, or values the cache
// cannot serialize. It surfaces at construction or at the offending call
// and indicates a deployment defect, never a runtime infrastructure issue.
type ConfigurationError struct {
	// Tag classifies the defect (e.g. "serialization_error", "encryption_key")
	Tag string
	// Violations lists every detected problem, not just the first
	Violations []string
	// Remediation tells the operator how to fix the deployment
	Remediation string
	Err         error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Tag != "" {
		msg += " [" + e.Tag + "]"
	}
	if len(e.Violations) > 0 {
		msg += ": " + strings.Join(e.Violations, "; ")
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Remediation != "" {
		msg += " (" + e.Remediation + ")"
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError builds a ConfigurationError from a violation list
func NewConfigurationError(tag string, violations ...string) *ConfigurationError {
	return &ConfigurationError{Tag: tag, Violations: violations}
}

// InfrastructureError reports remote-store connectivity, timeout, or protocol
// failures. The tiered cache catches these at its boundary and converts them
// to misses or no-ops; they surface only when fail_on_connection_error is set.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure error during %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// ValidationError reports malformed administrative input such as corrupt
// backup artifacts or unusable migration sources. It aborts the specific
// operation, never the process.
type ValidationError struct {
	Subject string
	Reason  string
	Err     error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation error: %s: %s", e.Subject, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsValidationError reports whether err is or wraps a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
