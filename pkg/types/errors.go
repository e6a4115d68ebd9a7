package types

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConfiguration is matched by every ConfigurationError through errors.Is.
	ErrConfiguration = errors.New("configuration error")

	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrMissingEvent      = errors.New("envelope has no string event field")
	ErrEmptyEvent        = errors.New("event name cannot be empty")

	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// ConfigurationError reports invalid server construction options.
// It is returned synchronously, before any listening socket is created.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}
