package ctlplane

import (
	"time"

	"golang.org/x/sys/unix"

	"grimm.is/brcompat/internal/brand"
	"grimm.is/brcompat/internal/compat"
)

// SocketPath is the default control socket location.
var SocketPath = brand.GetSocketPath()

// ServiceName is the net/rpc service the server registers.
const ServiceName = "Compat"

// Empty is used for methods that take no arguments.
type Empty struct{}

// DispatchArgs carries one legacy request.
type DispatchArgs struct {
	// RequestID ties client and server log lines together.
	RequestID string
	Call      compat.Call
}

// DispatchReply carries the legacy result.
type DispatchReply struct {
	Result compat.Result
}

// Err converts a negative Ret into its errno.
func (r *DispatchReply) Err() error {
	return RetError(r.Result.Ret)
}

// RetError returns nil for a non-negative ret and the errno otherwise.
func RetError(ret int) error {
	if ret >= 0 {
		return nil
	}
	return unix.Errno(-ret)
}

// NamesArgs asks for the interface names of some indices.
type NamesArgs struct {
	Indices []int32
}

// NamesReply maps indices to names. Indices that do not resolve are absent.
type NamesReply struct {
	Names map[int32]string
	Error string
}

// DiagnosticsReply lists the diagnostic pushes currently held.
type DiagnosticsReply struct {
	Entries []compat.DiagnosticEntry
}

// Status describes the running shim.
type Status struct {
	Version         string
	StartedAt       time.Time
	Uptime          time.Duration
	Sequence        uint32
	Timeout         time.Duration
	Diagnostics     int
	EventsPublished uint64
	EventsDropped   uint64
}

// StatusReply wraps Status.
type StatusReply struct {
	Status Status
}
