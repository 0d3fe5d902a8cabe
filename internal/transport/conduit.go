package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

var (
	// ErrNoListeners is returned when a multicast reaches nobody.
	ErrNoListeners = errors.New("no listeners on control channel")
	// ErrClosed is returned by operations on a closed conduit.
	ErrClosed = errors.New("conduit closed")
	// ErrUnknownPeer is returned when a unicast names a peer that is not attached.
	ErrUnknownPeer = errors.New("unknown peer")
)

// Packet is one datagram read from a conduit.
type Packet struct {
	Data []byte
	Peer net.Addr
}

// Conduit moves framed messages between the shim and its listeners. Send
// operations report failure synchronously and never wait for delivery.
type Conduit interface {
	// Multicast delivers b to every listener.
	Multicast(ctx context.Context, b []byte) error
	// Unicast delivers b to a single peer.
	Unicast(ctx context.Context, peer net.Addr, b []byte) error
	// Receive blocks until a datagram arrives, ctx is done or the conduit closes.
	Receive(ctx context.Context) (Packet, error)
	LocalAddr() net.Addr
	Close() error
}

// MemoryAddr names an endpoint on a MemoryBus.
type MemoryAddr string

func (a MemoryAddr) Network() string { return "memory" }
func (a MemoryAddr) String() string  { return string(a) }

// MemoryBus is an in-process multicast channel. Every attached endpoint
// receives every multicast sent by the others.
type MemoryBus struct {
	mu        sync.RWMutex
	endpoints map[MemoryAddr]*Endpoint
	queueLen  int
}

// NewMemoryBus creates a bus whose endpoints buffer up to queueLen packets.
func NewMemoryBus(queueLen int) *MemoryBus {
	if queueLen <= 0 {
		queueLen = 64
	}
	return &MemoryBus{
		endpoints: make(map[MemoryAddr]*Endpoint),
		queueLen:  queueLen,
	}
}

// Attach adds a named endpoint to the bus.
func (b *MemoryBus) Attach(name string) (*Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	addr := MemoryAddr(name)
	if _, exists := b.endpoints[addr]; exists {
		return nil, fmt.Errorf("endpoint %q already attached", name)
	}
	ep := &Endpoint{
		bus:   b,
		addr:  addr,
		inbox: make(chan Packet, b.queueLen),
		done:  make(chan struct{}),
	}
	b.endpoints[addr] = ep
	return ep, nil
}

func (b *MemoryBus) detach(ep *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.endpoints[ep.addr] == ep {
		delete(b.endpoints, ep.addr)
	}
}

// Endpoint is one attachment to a MemoryBus. It implements Conduit.
type Endpoint struct {
	bus       *MemoryBus
	addr      MemoryAddr
	inbox     chan Packet
	done      chan struct{}
	closeOnce sync.Once
}

var _ Conduit = (*Endpoint)(nil)

// Multicast copies b into the inbox of every other endpoint. A full inbox
// drops the packet for that endpoint only.
func (e *Endpoint) Multicast(ctx context.Context, b []byte) error {
	if e.closed() {
		return ErrClosed
	}

	e.bus.mu.RLock()
	defer e.bus.mu.RUnlock()

	listeners := 0
	for addr, peer := range e.bus.endpoints {
		if addr == e.addr {
			continue
		}
		listeners++
		peer.deliver(Packet{Data: append([]byte(nil), b...), Peer: e.addr})
	}
	if listeners == 0 {
		return ErrNoListeners
	}
	return nil
}

// Unicast copies b into the inbox of the named peer.
func (e *Endpoint) Unicast(ctx context.Context, peer net.Addr, b []byte) error {
	if e.closed() {
		return ErrClosed
	}

	e.bus.mu.RLock()
	target, ok := e.bus.endpoints[MemoryAddr(peer.String())]
	e.bus.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", peer, ErrUnknownPeer)
	}
	target.deliver(Packet{Data: append([]byte(nil), b...), Peer: e.addr})
	return nil
}

func (e *Endpoint) deliver(p Packet) {
	select {
	case e.inbox <- p:
	default:
	}
}

// Receive returns the next packet addressed to this endpoint.
func (e *Endpoint) Receive(ctx context.Context) (Packet, error) {
	select {
	case p := <-e.inbox:
		return p, nil
	case <-e.done:
		return Packet{}, ErrClosed
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	}
}

// LocalAddr returns the endpoint's bus address.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.addr
}

// Close detaches the endpoint from the bus.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.bus.detach(e)
		close(e.done)
	})
	return nil
}

func (e *Endpoint) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
