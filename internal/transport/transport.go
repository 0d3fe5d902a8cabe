// Package transport frames control messages and moves them over a Conduit.
//
// Outbound requests are multicast to every listener. Inbound messages are
// parsed, filtered by family, validated against the policy registered for
// their command and queued on the event hub; a router goroutine drains the
// queue and invokes the registered handler. The receive path therefore never
// blocks on handler work.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"

	"grimm.is/brcompat/internal/attr"
	"grimm.is/brcompat/internal/events"
	"grimm.is/brcompat/internal/genl"
	"grimm.is/brcompat/internal/logging"
	"grimm.is/brcompat/internal/metrics"
)

// Drop reasons recorded in the MessagesDropped metric.
const (
	dropPeer      = "peer"
	dropMalformed = "malformed"
	dropFamily    = "family"
	dropUnhandled = "unhandled"
	dropPolicy    = "policy"
	dropQueueFull = "queue_full"
)

// ErrMessageTooLarge is returned when an outbound message cannot be framed.
var ErrMessageTooLarge = genl.ErrTooLarge

// Inbound is an accepted, validated inbound message.
type Inbound struct {
	Command  genl.Command
	Sequence uint32
	PID      uint32
	Attrs    attr.Attrs
	Peer     net.Addr
}

// HandlerFunc processes one inbound message. Returned errors are logged and
// counted; they never stop the receive loop.
type HandlerFunc func(ctx context.Context, in *Inbound) error

type route struct {
	policy  attr.Policy
	handler HandlerFunc
}

// Config configures a Transport.
type Config struct {
	// FamilyID is the netlink message type of the family.
	FamilyID uint16
	// PID identifies this end in outbound headers. Zero uses the process id.
	PID uint32
	// QueueSize is the depth of the inbound event queue.
	QueueSize int
	// AllowedPeers restricts inbound messages to IP peers inside these
	// prefixes. Empty accepts every peer.
	AllowedPeers []netip.Prefix

	Logger  *logging.Logger
	Metrics *metrics.Registry
	Hub     *events.Hub
}

// Transport is the shim's view of the control channel.
type Transport struct {
	conduit   Conduit
	familyID  uint16
	pid       uint32
	queueSize int
	allowed   []netip.Prefix

	logger  *logging.Logger
	metrics *metrics.Registry
	hub     *events.Hub

	mu     sync.RWMutex
	routes map[genl.Command]route
}

// New creates a transport over conduit.
func New(conduit Conduit, cfg Config) *Transport {
	if cfg.FamilyID == 0 {
		cfg.FamilyID = genl.DefaultFamilyID
	}
	if cfg.PID == 0 {
		cfg.PID = uint32(os.Getpid())
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
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

	return &Transport{
		conduit:   conduit,
		familyID:  cfg.FamilyID,
		pid:       cfg.PID,
		queueSize: cfg.QueueSize,
		allowed:   cfg.AllowedPeers,
		logger:    cfg.Logger.WithComponent("transport"),
		metrics:   cfg.Metrics,
		hub:       cfg.Hub,
		routes:    make(map[genl.Command]route),
	}
}

// Handle registers the listener for cmd. Messages for cmd are validated
// against policy before h sees them. A later registration replaces an
// earlier one.
func (t *Transport) Handle(cmd genl.Command, policy attr.Policy, h HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[cmd] = route{policy: policy, handler: h}
}

func (t *Transport) lookup(cmd genl.Command) (route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[cmd]
	return r, ok
}

// Send multicasts msg to every listener. Family and PID are filled in.
func (t *Transport) Send(ctx context.Context, msg genl.Message) error {
	b, err := t.frame(msg)
	if err != nil {
		return err
	}
	if err := t.conduit.Multicast(ctx, b); err != nil {
		return fmt.Errorf("multicast %s: %w", msg.Command, err)
	}
	t.metrics.MessagesSent.WithLabelValues(msg.Command.String(), "multicast").Inc()
	return nil
}

// Reply unicasts msg to peer. Family and PID are filled in.
func (t *Transport) Reply(ctx context.Context, peer net.Addr, msg genl.Message) error {
	b, err := t.frame(msg)
	if err != nil {
		return err
	}
	if err := t.conduit.Unicast(ctx, peer, b); err != nil {
		return fmt.Errorf("unicast %s to %s: %w", msg.Command, peer, err)
	}
	t.metrics.MessagesSent.WithLabelValues(msg.Command.String(), "unicast").Inc()
	return nil
}

func (t *Transport) frame(msg genl.Message) ([]byte, error) {
	msg.Family = t.familyID
	msg.PID = t.pid
	return msg.MarshalBinary()
}

// Run receives and dispatches inbound messages until ctx is done or the
// conduit closes.
func (t *Transport) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := t.hub.Subscribe(t.queueSize, events.EventInbound)
	defer t.hub.Unsubscribe(queue)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.route(ctx, queue)
	}()

	err := t.receive(ctx)
	cancel()
	wg.Wait()
	return err
}

func (t *Transport) receive(ctx context.Context) error {
	t.logger.Info("control channel receive loop started", "local", t.conduit.LocalAddr())
	for {
		pkt, err := t.conduit.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				t.logger.Info("control channel receive loop stopped")
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		t.accept(pkt)
	}
}

// accept parses, filters and queues one packet.
func (t *Transport) accept(pkt Packet) {
	if !t.peerAllowed(pkt.Peer) {
		t.drop(dropPeer, "message from disallowed peer", "peer", pkt.Peer)
		return
	}
	var msg genl.Message
	if err := msg.UnmarshalBinary(pkt.Data); err != nil {
		t.drop(dropMalformed, "malformed message", "peer", pkt.Peer, "error", err)
		return
	}
	if msg.Family != t.familyID {
		t.drop(dropFamily, "message for another family", "family", msg.Family)
		return
	}
	r, ok := t.lookup(msg.Command)
	if !ok {
		t.drop(dropUnhandled, "no listener for command", "command", msg.Command, "seq", msg.Sequence)
		return
	}
	attrs, err := attr.Decode(msg.Payload, r.policy)
	if err != nil {
		t.drop(dropPolicy, "message rejected by policy", "command", msg.Command, "seq", msg.Sequence, "error", err)
		return
	}

	t.metrics.MessagesReceived.WithLabelValues(msg.Command.String()).Inc()
	delivered := t.hub.Publish(events.Event{
		Type:   events.EventInbound,
		Source: "transport",
		Data: &Inbound{
			Command:  msg.Command,
			Sequence: msg.Sequence,
			PID:      msg.PID,
			Attrs:    attrs,
			Peer:     pkt.Peer,
		},
	})
	if !delivered {
		t.drop(dropQueueFull, "inbound queue full", "command", msg.Command, "seq", msg.Sequence)
	}
}

// peerAllowed reports whether peer may deliver messages. Only IP peers can
// match a non-empty allow list.
func (t *Transport) peerAllowed(peer net.Addr) bool {
	if len(t.allowed) == 0 {
		return true
	}
	var ip net.IP
	switch a := peer.(type) {
	case *net.UDPAddr:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	default:
		return false
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.allowed {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (t *Transport) drop(reason, msg string, args ...any) {
	t.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	t.logger.Debug(msg, args...)
}

func (t *Transport) route(ctx context.Context, queue <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-queue:
			in, ok := ev.Data.(*Inbound)
			if !ok {
				continue
			}
			r, ok := t.lookup(in.Command)
			if !ok {
				continue
			}
			if err := r.handler(ctx, in); err != nil {
				t.metrics.HandlerErrors.WithLabelValues(in.Command.String()).Inc()
				t.logger.Debug("listener rejected message",
					"command", in.Command, "seq", in.Sequence, "error", err)
			}
		}
	}
}
