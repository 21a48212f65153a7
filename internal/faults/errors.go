package faults

import (
	"errors"
	"fmt"
)

// Error classes shared by every instrument driver.
// Use errors.Is() to classify an error returned from a task or measurement.
var (
	// ErrConfiguration marks an out-of-range parameter. Setters clamp instead of
	// returning it; validators report it as a warning.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransport is returned when a device is unreachable or a write/ack fails.
	ErrTransport = errors.New("transport error")

	// ErrProtocol is returned for malformed device responses.
	ErrProtocol = errors.New("protocol error")

	// ErrDeviceReported wraps an error the instrument reported itself.
	ErrDeviceReported = errors.New("device reported error")

	// ErrTimeout is returned when no response arrives within the read budget.
	ErrTimeout = errors.New("timeout")
)

func Transport(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}

func Protocol(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

func Timeout(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTimeout, fmt.Sprintf(format, args...))
}

// Class returns the name of the first matching error class, or "internal".
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrDeviceReported):
		return "device"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "internal"
	}
}
