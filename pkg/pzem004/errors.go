package pzem004

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrShortRead         = errors.New("short read")
	ErrTimeout           = errors.New("timeout")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrIO                = errors.New("i/o error")
	ErrNotReady          = errors.New("meter not ready")
)

const (
	KIND_DEVICE_UNAVAILABLE = "device_unavailable"
	KIND_SHORT_READ         = "short_read"
	KIND_TIMEOUT            = "timeout"
	KIND_CHECKSUM_MISMATCH  = "checksum_mismatch"
	KIND_IO                 = "io_error"
	KIND_NOT_READY          = "not_ready"
	KIND_UNKNOWN            = "unknown"
)

// ExchangeError reports which command failed.
type ExchangeError struct {
	Command string
	Err     error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("pzem004 %s: %v", e.Command, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// KindOf returns the error kind label used in logs and metrics.
// ErrNotReady wraps its cause, so it is matched first.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotReady):
		return KIND_NOT_READY
	case errors.Is(err, ErrDeviceUnavailable):
		return KIND_DEVICE_UNAVAILABLE
	case errors.Is(err, ErrShortRead):
		return KIND_SHORT_READ
	case errors.Is(err, ErrTimeout):
		return KIND_TIMEOUT
	case errors.Is(err, ErrChecksumMismatch):
		return KIND_CHECKSUM_MISMATCH
	case errors.Is(err, ErrIO):
		return KIND_IO
	default:
		return KIND_UNKNOWN
	}
}

// CommandOf returns the failing command name, if known.
func CommandOf(err error) string {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Command
	}
	return ""
}
