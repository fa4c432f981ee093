package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRetryable marks a transient failure the engine may retry.
	ErrRetryable = errors.New("retryable node error")

	// ErrFatal marks a failure that retrying cannot fix.
	ErrFatal = errors.New("fatal node error")

	// ErrInvalidConfig indicates a node configuration was rejected.
	ErrInvalidConfig = errors.New("invalid node configuration")
)

// RetryableError wraps a transient executor failure.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Is(target error) bool {
	return target == ErrRetryable
}

// FatalError wraps a permanent executor failure.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func (e *FatalError) Is(target error) bool {
	return target == ErrFatal
}

// Retryable marks err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}

	return &RetryableError{Err: err}
}

// Retryablef formats a transient error.
func Retryablef(format string, args ...any) error {
	return &RetryableError{Err: fmt.Errorf(format, args...)}
}

// Fatal marks err as permanent.
func Fatal(err error) error {
	if err == nil {
		return nil
	}

	return &FatalError{Err: err}
}

// Fatalf formats a permanent error.
func Fatalf(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsRetryable checks if an error may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable) && !errors.Is(err, ErrFatal)
}

// IsFatal checks if an error is permanent. Unclassified errors are fatal.
func IsFatal(err error) bool {
	return err != nil && !IsRetryable(err)
}

// ConfigError lists every problem of a rejected node configuration.
type ConfigError struct {
	NodeType string
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s config: %s", e.NodeType, strings.Join(e.Problems, "; "))
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NewConfigError creates a config error, or returns nil when there are no problems.
func NewConfigError(nodeType string, problems ...string) error {
	if len(problems) == 0 {
		return nil
	}

	return &ConfigError{NodeType: nodeType, Problems: problems}
}

// IsConfigError checks if an error is a rejected configuration.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
