// Package events provides the in-process event queue of the shim.
//
// The transport publishes every accepted inbound control message here; the
// router drains it and invokes the listener registered for the command, so
// the receive path never calls into the correlator directly. Call outcomes
// (completions, timeouts, stale replies) are published on the same hub for
// observers such as the control plane status view.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// EventInbound carries a decoded control message awaiting dispatch.
	EventInbound EventType = "genl.inbound"

	// Correlator outcomes
	EventCallDone    EventType = "call.done"
	EventCallTimeout EventType = "call.timeout"
	EventStaleReply  EventType = "call.stale"

	// EventDiagnostic is emitted when the daemon pushes diagnostic output.
	EventDiagnostic EventType = "diag.update"
)

// Event is the core message passed through the hub.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // Component that emitted: "transport", "correlator", ...
	Data      any       `json:"data"`   // Type-specific payload
}

// CallData is the payload for the correlator outcome events.
type CallData struct {
	Command  string        `json:"command"`
	Sequence uint32        `json:"sequence"`
	Elapsed  time.Duration `json:"elapsed,omitempty"`
}

// DiagnosticData is the payload for EventDiagnostic.
type DiagnosticData struct {
	Dir     string `json:"dir"`
	Name    string `json:"name"`
	Removed bool   `json:"removed,omitempty"`
}
