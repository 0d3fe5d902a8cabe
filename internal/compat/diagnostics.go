package compat

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"grimm.is/brcompat/internal/attr"
	"grimm.is/brcompat/internal/command"
	"grimm.is/brcompat/internal/genl"
	"grimm.is/brcompat/internal/transport"
)

// DiagnosticEntry is one diagnostic result pushed by a daemon.
type DiagnosticEntry struct {
	Dir     string
	Name    string
	Data    string
	Updated time.Time
}

// Path returns dir/name.
func (e DiagnosticEntry) Path() string {
	return e.Dir + "/" + e.Name
}

// Diagnostics holds the latest diagnostic push per dir/name.
type Diagnostics struct {
	mu      sync.RWMutex
	entries map[string]DiagnosticEntry
}

// NewDiagnostics creates an empty table.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{entries: make(map[string]DiagnosticEntry)}
}

// Set stores or replaces an entry.
func (d *Diagnostics) Set(e DiagnosticEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[e.Path()] = e
}

// Delete removes dir/name. It reports whether an entry existed.
func (d *Diagnostics) Delete(dir, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := DiagnosticEntry{Dir: dir, Name: name}.Path()
	_, ok := d.entries[key]
	delete(d.entries, key)
	return ok
}

// Get returns the entry for dir/name.
func (d *Diagnostics) Get(dir, name string) (DiagnosticEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[DiagnosticEntry{Dir: dir, Name: name}.Path()]
	return e, ok
}

// List returns all entries ordered by path.
func (d *Diagnostics) List() []DiagnosticEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DiagnosticEntry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// Replier unicasts a message to one peer.
type Replier interface {
	Reply(ctx context.Context, peer net.Addr, msg genl.Message) error
}

// Register installs the SET_PROC and QUERY_MC listeners on t.
func (s *Service) Register(t *transport.Transport) {
	t.Handle(genl.CmdSetProc, genl.SetProcPolicy, s.HandleSetProc)
	t.Handle(genl.CmdQueryMC, genl.QueryMCPolicy, s.QueryMCHandler(t))
}

// HandleSetProc records a diagnostic push. A push without data removes the
// entry.
func (s *Service) HandleSetProc(ctx context.Context, in *transport.Inbound) error {
	dir, _ := in.Attrs.String(genl.AttrProcDir)
	name, _ := in.Attrs.String(genl.AttrProcName)
	if dir == "" || name == "" {
		return fmt.Errorf("set_proc with empty path: %w", ErrInvalidArgument)
	}

	data, ok := in.Attrs.String(genl.AttrProcData)
	if !ok {
		existed := s.diag.Delete(dir, name)
		s.logger.Debug("diagnostic removed", "dir", dir, "name", name, "existed", existed)
		s.hub.EmitDiagnostic(dir, name, true)
		return nil
	}

	s.diag.Set(DiagnosticEntry{Dir: dir, Name: name, Data: data, Updated: s.clock.Now()})
	s.logger.Debug("diagnostic updated", "dir", dir, "name", name, "bytes", len(data))
	s.hub.EmitDiagnostic(dir, name, false)
	return nil
}

// QueryMCHandler answers multicast group discovery queries through r.
func (s *Service) QueryMCHandler(r Replier) transport.HandlerFunc {
	return func(ctx context.Context, in *transport.Inbound) error {
		payload, err := attr.Encode(command.MCGroup(s.groupID)...)
		if err != nil {
			return err
		}
		s.logger.Debug("answering multicast group query", "peer", in.Peer, "group", s.groupID)
		return r.Reply(ctx, in.Peer, genl.Message{
			Command:  genl.CmdQueryMC,
			Sequence: in.Sequence,
			Payload:  payload,
		})
	}
}
