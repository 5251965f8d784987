package driver

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnsupportedBackend = errors.New("unsupported browser backend")
	ErrUnsupportedMode    = errors.New("unsupported execution mode")
	ErrElementNotFound    = errors.New("element not found")
	ErrSessionClosed      = errors.New("browser session closed")
)

// ConfigurationError is returned before any browser is started when the
// requested backend or mode cannot be served.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ElementNotFoundError reports a locator that never resolved within its wait.
type ElementNotFoundError struct {
	Locator Locator
	Timeout time.Duration
	Err     error
}

func (e *ElementNotFoundError) Error() string {
	msg := fmt.Sprintf("element not found: %s", e.Locator)
	if e.Timeout > 0 {
		msg += fmt.Sprintf(" (after %s)", e.Timeout)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ElementNotFoundError) Is(target error) bool {
	return target == ErrElementNotFound
}

func (e *ElementNotFoundError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err was caused by an unusable backend
// or mode selection.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
