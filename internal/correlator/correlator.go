// Package correlator turns the asynchronous control channel into a
// synchronous call.
//
// Each call takes the serial lock for its whole round trip, so at most one
// request is outstanding. The call stamps the next sequence number, sends the
// request and blocks until a reply carrying that sequence arrives or the
// deadline passes. Replies are delivered by the transport's router through
// Deliver; a reply whose sequence does not match the pending call is stale
// and dropped. Sequence numbers advance before every send and again whenever
// a call ends, so a late reply can never complete a later call.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grimm.is/brcompat/internal/clock"
	"grimm.is/brcompat/internal/events"
	"grimm.is/brcompat/internal/genl"
	"grimm.is/brcompat/internal/logging"
	"grimm.is/brcompat/internal/metrics"
	"grimm.is/brcompat/internal/transport"
)

// DefaultTimeout bounds the wait for a reply.
const DefaultTimeout = 5 * time.Second

var (
	// ErrTimeout is returned when no matching reply arrives in time.
	ErrTimeout = errors.New("timed out waiting for userspace")
	// ErrStale is returned to the delivering side for a reply that matches
	// no pending call.
	ErrStale = errors.New("stale reply")
	// ErrNoReply is returned when the completion fired with no reply stored.
	ErrNoReply = errors.New("completion signalled without a reply")
	// ErrInvalidReply is returned to the delivering side for a reply
	// without an error code.
	ErrInvalidReply = errors.New("reply has no error code")
)

// Sender transmits a framed request to every listener.
type Sender interface {
	Send(ctx context.Context, msg genl.Message) error
}

// Config configures a Correlator.
type Config struct {
	Timeout time.Duration
	// State overrides the pending call state; nil starts at a random sequence.
	State   *State
	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *metrics.Registry
	Hub     *events.Hub
}

// Correlator runs request/reply round trips over a Sender.
type Correlator struct {
	serial sync.Mutex
	state  *State

	sender  Sender
	timeout time.Duration
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Registry
	hub     *events.Hub
}

// New creates a correlator that sends through sender.
func New(sender Sender, cfg Config) *Correlator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.State == nil {
		cfg.State = NewState()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Get()
	}
	if cfg.Hub == nil {
		cfg.Hub = events.NewHub()
	}

	return &Correlator{
		state:   cfg.State,
		sender:  sender,
		timeout: cfg.Timeout,
		clock:   cfg.Clock,
		logger:  cfg.Logger.WithComponent("correlator"),
		metrics: cfg.Metrics,
		hub:     cfg.Hub,
	}
}

// Timeout returns the configured reply deadline.
func (c *Correlator) Timeout() time.Duration {
	return c.timeout
}

// Sequence returns the current sequence number.
func (c *Correlator) Sequence() uint32 {
	return c.state.Sequence()
}

// Call sends req and waits for its correlated reply. The reply's error code
// is not interpreted here.
//
// A canceled ctx ends the wait early in the same way the deadline does; the
// request is not retracted and any later reply is stale.
func (c *Correlator) Call(ctx context.Context, req *genl.Request) (*Reply, error) {
	command := req.Command.String()

	payload, err := req.Encode()
	if err != nil {
		c.metrics.ObserveCall(command, metrics.OutcomeInvalid, 0)
		return nil, err
	}

	start := c.clock.Now()
	c.serial.Lock()
	defer c.serial.Unlock()

	c.metrics.InFlight.Inc()
	defer c.metrics.InFlight.Dec()

	seq, done := c.state.arm()
	err = c.sender.Send(ctx, genl.Message{
		Command:  req.Command,
		Sequence: seq,
		Payload:  payload,
	})
	if err != nil {
		c.state.abandon(seq)
		c.metrics.ObserveCall(command, metrics.OutcomeSendError, c.clock.Since(start))
		return nil, err
	}

	timer := c.clock.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-done:
		reply := c.state.take()
		if reply == nil {
			c.logger.Error("completion without reply", "command", command, "seq", seq)
			c.metrics.ObserveCall(command, metrics.OutcomeInvalid, c.clock.Since(start))
			return nil, ErrNoReply
		}
		c.complete(command, seq, start)
		return reply, nil

	case <-timer.C():
		if reply := c.state.abandon(seq); reply != nil {
			c.complete(command, seq, start)
			return reply, nil
		}
		elapsed := c.clock.Since(start)
		c.logger.Warn("timed out waiting for userspace", "command", command, "seq", seq, "timeout", c.timeout)
		c.metrics.ObserveCall(command, metrics.OutcomeTimeout, elapsed)
		c.hub.EmitCall(events.EventCallTimeout, command, seq, elapsed)
		return nil, fmt.Errorf("%s seq %d: %w", command, seq, ErrTimeout)

	case <-ctx.Done():
		if reply := c.state.abandon(seq); reply != nil {
			c.complete(command, seq, start)
			return reply, nil
		}
		c.logger.Debug("call abandoned", "command", command, "seq", seq, "error", ctx.Err())
		c.metrics.ObserveCall(command, metrics.OutcomeCanceled, c.clock.Since(start))
		return nil, fmt.Errorf("%s seq %d: %w", command, seq, ctx.Err())
	}
}

func (c *Correlator) complete(command string, seq uint32, start time.Time) {
	elapsed := c.clock.Since(start)
	c.metrics.ObserveCall(command, metrics.OutcomeOK, elapsed)
	c.hub.EmitCall(events.EventCallDone, command, seq, elapsed)
}

// Deliver offers an inbound DP_RESULT to the pending call. It is registered
// as the transport listener for replies and may run concurrently with Call.
func (c *Correlator) Deliver(ctx context.Context, in *transport.Inbound) error {
	if !in.Attrs.Has(genl.AttrErrCode) {
		return ErrInvalidReply
	}

	if !c.state.accept(&Reply{Sequence: in.Sequence, Attrs: in.Attrs}) {
		c.metrics.StaleReplies.Inc()
		c.logger.Debug("discarding stale reply", "seq", in.Sequence, "peer", in.Peer)
		c.hub.EmitCall(events.EventStaleReply, in.Command.String(), in.Sequence, 0)
		return fmt.Errorf("seq %d: %w", in.Sequence, ErrStale)
	}
	return nil
}

// Register installs Deliver as the DP_RESULT listener on t.
func (c *Correlator) Register(t *transport.Transport) {
	t.Handle(genl.CmdDPResult, genl.ResultPolicy, c.Deliver)
}
