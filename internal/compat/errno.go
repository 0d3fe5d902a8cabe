package compat

import (
	"context"
	"errors"
	"strconv"

	"golang.org/x/sys/unix"

	"grimm.is/brcompat/internal/attr"
	"grimm.is/brcompat/internal/correlator"
	"grimm.is/brcompat/internal/device"
	"grimm.is/brcompat/internal/result"
	"grimm.is/brcompat/internal/transport"
)

var (
	// ErrInvalidArgument is returned for malformed legacy call arguments.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotSupported is returned for unknown operation codes.
	ErrNotSupported = errors.New("operation not supported")
)

// Errno maps an error from any layer onto the errno a legacy caller sees.
// A nil error maps to 0.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}

	var de *result.DaemonError
	if errors.As(err, &de) {
		return de.Errno()
	}

	switch {
	case errors.Is(err, transport.ErrNoListeners):
		return unix.ESRCH
	case errors.Is(err, correlator.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return unix.ETIMEDOUT
	case errors.Is(err, context.Canceled):
		return unix.EINTR
	case errors.Is(err, result.ErrTooMany),
		errors.Is(err, transport.ErrMessageTooLarge):
		return unix.ENOMEM
	case errors.Is(err, result.ErrInvalidResult),
		errors.Is(err, result.ErrNegativeCount),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, device.ErrNoSuchDevice),
		errors.Is(err, attr.ErrMissing),
		errors.Is(err, attr.ErrType),
		errors.Is(err, attr.ErrTruncated):
		return unix.EINVAL
	case errors.Is(err, ErrNotSupported),
		errors.Is(err, device.ErrNotSupported):
		return unix.EOPNOTSUPP
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}

// Ret converts an error to a legacy return value: 0 or a negative errno.
func Ret(err error) int {
	return -int(Errno(err))
}

func errnoLabel(e unix.Errno) string {
	if e == 0 {
		return "0"
	}
	if name := unix.ErrnoName(e); name != "" {
		return name
	}
	return strconv.Itoa(int(e))
}
