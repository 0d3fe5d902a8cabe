// Package brctest provides a fake userspace bridge daemon for tests. It
// attaches to a transport.MemoryBus, answers every request the shim sends
// with a correlated DP_RESULT and keeps a small in-memory bridge table.
package brctest

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"grimm.is/brcompat/internal/attr"
	"grimm.is/brcompat/internal/command"
	"grimm.is/brcompat/internal/events"
	"grimm.is/brcompat/internal/genl"
	"grimm.is/brcompat/internal/logging"
	"grimm.is/brcompat/internal/metrics"
	"grimm.is/brcompat/internal/result"
	"grimm.is/brcompat/internal/transport"
)

// DaemonPID is the PID the fake daemon stamps on its messages.
const DaemonPID = 0xdae

// Responder overrides the daemon's answer for one command. Returning
// ok=false sends nothing.
type Responder func(in *transport.Inbound) (attrs []attr.Attr, ok bool)

// Request is a request the daemon received.
type Request struct {
	Command  genl.Command
	Sequence uint32
	Bridge   string
	Port     string
	Attrs    attr.Attrs
}

type bridge struct {
	index int32
	ports []string
	fdb   []result.FDBEntry
}

// Daemon is a fake bridge daemon.
type Daemon struct {
	tr *transport.Transport

	mu        sync.Mutex
	links     map[string]int32
	bridges   map[string]*bridge
	nextIndex int32
	requests  []Request
	errnos    map[genl.Command]uint32
	override  map[genl.Command]Responder
	silent    bool
	groups    chan uint32
}

// Start attaches a daemon named name to bus and runs it until the test ends.
func Start(tb testing.TB, bus *transport.MemoryBus, name string) *Daemon {
	tb.Helper()

	ep, err := bus.Attach(name)
	if err != nil {
		tb.Fatalf("attach daemon: %v", err)
	}

	d := &Daemon{
		tr: transport.New(ep, transport.Config{
			PID:     DaemonPID,
			Logger:  logging.Discard(),
			Metrics: metrics.NewIsolated(),
			Hub:     events.NewHub(),
		}),
		links:     make(map[string]int32),
		bridges:   make(map[string]*bridge),
		nextIndex: 100,
		errnos:    make(map[genl.Command]uint32),
		override:  make(map[genl.Command]Responder),
		groups:    make(chan uint32, 8),
	}

	for _, cmd := range []genl.Command{
		genl.CmdDPAdd, genl.CmdDPDel, genl.CmdPortAdd, genl.CmdPortDel,
		genl.CmdGetBridges, genl.CmdGetPorts, genl.CmdFDBQuery,
	} {
		d.tr.Handle(cmd, genl.RequestPolicy, d.serve)
	}
	d.tr.Handle(genl.CmdQueryMC, genl.RequestPolicy, d.mcGroup)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.tr.Run(ctx)
	}()
	tb.Cleanup(func() {
		cancel()
		ep.Close()
		<-done
	})
	return d
}

// Link registers an interface name with its index so ports can be listed.
func (d *Daemon) Link(name string, index int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.links[name] = index
}

// SetErrno makes every request for cmd fail with code.
func (d *Daemon) SetErrno(cmd genl.Command, code uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errnos[cmd] = code
}

// Override replaces the answer for cmd.
func (d *Daemon) Override(cmd genl.Command, r Responder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.override[cmd] = r
}

// SetSilent stops the daemon from answering.
func (d *Daemon) SetSilent(silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent = silent
}

// AddFDB appends forwarding entries to a bridge.
func (d *Daemon) AddFDB(br string, entries ...result.FDBEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.bridges[br]; ok {
		b.fdb = append(b.fdb, entries...)
	}
}

// Bridges returns the bridge names in sorted order.
func (d *Daemon) Bridges() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.bridges))
	for name := range d.bridges {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Ports returns the ports of a bridge in attach order.
func (d *Daemon) Ports(br string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.bridges[br]; ok {
		return slices.Clone(b.ports)
	}
	return nil
}

// Requests returns every request received so far.
func (d *Daemon) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.requests)
}

// Push multicasts req to the shim, as a daemon pushing diagnostics or
// querying the multicast group does.
func (d *Daemon) Push(ctx context.Context, req *genl.Request, seq uint32) error {
	payload, err := req.Encode()
	if err != nil {
		return err
	}
	return d.tr.Send(ctx, genl.Message{Command: req.Command, Sequence: seq, Payload: payload})
}

// MCGroup waits for the answer to a QUERY_MC pushed earlier.
func (d *Daemon) MCGroup(timeout time.Duration) (uint32, bool) {
	select {
	case g := <-d.groups:
		return g, true
	case <-time.After(timeout):
		return 0, false
	}
}

func (d *Daemon) mcGroup(ctx context.Context, in *transport.Inbound) error {
	g, err := result.MCGroup(in.Attrs)
	if err != nil {
		return err
	}
	d.groups <- g
	return nil
}

func (d *Daemon) serve(ctx context.Context, in *transport.Inbound) error {
	attrs, ok := d.answer(in)
	if !ok {
		return nil
	}
	payload, err := attr.Encode(attrs...)
	if err != nil {
		return err
	}
	return d.tr.Reply(ctx, in.Peer, genl.Message{
		Command:  genl.CmdDPResult,
		Sequence: in.Sequence,
		Payload:  payload,
	})
}

func (d *Daemon) answer(in *transport.Inbound) ([]attr.Attr, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	br, _ := in.Attrs.String(genl.AttrDPName)
	port, _ := in.Attrs.String(genl.AttrPortName)
	d.requests = append(d.requests, Request{
		Command:  in.Command,
		Sequence: in.Sequence,
		Bridge:   br,
		Port:     port,
		Attrs:    in.Attrs,
	})

	if d.silent {
		return nil, false
	}
	if r, ok := d.override[in.Command]; ok {
		return r(in)
	}
	if code, ok := d.errnos[in.Command]; ok {
		return command.Result(code), true
	}

	switch in.Command {
	case genl.CmdDPAdd:
		if _, exists := d.bridges[br]; exists {
			return command.Result(uint32(unix.EEXIST)), true
		}
		d.nextIndex++
		d.bridges[br] = &bridge{index: d.nextIndex}
		d.links[br] = d.nextIndex

	case genl.CmdDPDel:
		if _, exists := d.bridges[br]; !exists {
			return command.Result(uint32(unix.ENXIO)), true
		}
		delete(d.bridges, br)
		delete(d.links, br)

	case genl.CmdPortAdd, genl.CmdPortDel:
		b, exists := d.bridges[br]
		if !exists {
			return command.Result(uint32(unix.ENXIO)), true
		}
		i := slices.Index(b.ports, port)
		if in.Command == genl.CmdPortAdd {
			if i >= 0 {
				return command.Result(uint32(unix.EBUSY)), true
			}
			b.ports = append(b.ports, port)
		} else {
			if i < 0 {
				return command.Result(uint32(unix.EINVAL)), true
			}
			b.ports = slices.Delete(b.ports, i, i+1)
		}

	case genl.CmdGetBridges:
		var indices []int32
		for _, name := range sortedKeys(d.bridges) {
			indices = append(indices, d.bridges[name].index)
		}
		return command.Result(0, attr.Bytes(genl.AttrIfindexes, result.EncodeIndices(indices))), true

	case genl.CmdGetPorts:
		b, exists := d.bridges[br]
		if !exists {
			return command.Result(uint32(unix.ENXIO)), true
		}
		var indices []int32
		for _, p := range b.ports {
			indices = append(indices, d.links[p])
		}
		return command.Result(0, attr.Bytes(genl.AttrIfindexes, result.EncodeIndices(indices))), true

	case genl.CmdFDBQuery:
		b, exists := d.bridges[br]
		if !exists {
			return command.Result(uint32(unix.ENXIO)), true
		}
		count, _ := in.Attrs.Uint64(genl.AttrFDBCount)
		skip, _ := in.Attrs.Uint64(genl.AttrFDBSkip)
		start := min(skip, uint64(len(b.fdb)))
		end := min(start+count, uint64(len(b.fdb)))
		blob, err := result.EncodeFDB(b.fdb[start:end])
		if err != nil {
			return command.Result(uint32(unix.EIO)), true
		}
		return command.Result(0, attr.Bytes(genl.AttrFDBData, blob)), true
	}

	return command.Result(0), true
}

func sortedKeys(m map[string]*bridge) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
