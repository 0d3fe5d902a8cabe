// Package result interprets DP_RESULT replies.
//
// Every decoder reads the mandatory error code first. A non-zero code is
// returned as a *DaemonError and nothing else in the reply is looked at.
package result

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"grimm.is/brcompat/internal/attr"
	"grimm.is/brcompat/internal/genl"
)

// MaxIndices bounds an index list request.
const MaxIndices = 2048

var (
	// ErrInvalidResult is returned for a malformed or oversized reply.
	ErrInvalidResult = errors.New("invalid result")
	// ErrTooMany is returned when a caller asks for MaxIndices or more entries.
	ErrTooMany = errors.New("too many entries requested")
	// ErrNegativeCount is returned for a negative entry count.
	ErrNegativeCount = errors.New("negative entry count")
)

// DaemonError is a non-zero error code reported by the daemon.
type DaemonError struct {
	Code uint32
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, unix.Errno(e.Code).Error())
}

// Errno returns the code as a system errno.
func (e *DaemonError) Errno() unix.Errno {
	return unix.Errno(e.Code)
}

// ErrorCode returns the reply's error code.
func ErrorCode(attrs attr.Attrs) (uint32, error) {
	code, ok := attrs.Uint32(genl.AttrErrCode)
	if !ok {
		return 0, fmt.Errorf("missing error code: %w", ErrInvalidResult)
	}
	return code, nil
}

// Simple decodes a reply that carries nothing but an error code.
func Simple(attrs attr.Attrs) error {
	code, err := ErrorCode(attrs)
	if err != nil {
		return err
	}
	if code != 0 {
		return &DaemonError{Code: code}
	}
	return nil
}

// CheckIndexCount validates the capacity of an index list before any
// request is sent.
func CheckIndexCount(n int) error {
	if n < 0 {
		return ErrNegativeCount
	}
	if n >= MaxIndices {
		return fmt.Errorf("%d entries: %w", n, ErrTooMany)
	}
	return nil
}

// Indices decodes an interface index list, keeping at most n entries.
func Indices(attrs attr.Attrs, n int) ([]int32, error) {
	if err := CheckIndexCount(n); err != nil {
		return nil, err
	}
	if err := Simple(attrs); err != nil {
		return nil, err
	}

	blob, ok := attrs.Bytes(genl.AttrIfindexes)
	if !ok {
		return nil, fmt.Errorf("missing index list: %w", ErrInvalidResult)
	}
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("index list of %d bytes: %w", len(blob), ErrInvalidResult)
	}

	n = min(n, len(blob)/4)
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.NativeEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

// MCGroup decodes a QUERY_MC answer.
func MCGroup(attrs attr.Attrs) (uint32, error) {
	group, ok := attrs.Uint32(genl.AttrMCGroup)
	if !ok {
		return 0, fmt.Errorf("missing multicast group: %w", ErrInvalidResult)
	}
	return group, nil
}
