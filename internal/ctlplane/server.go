package ctlplane

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"grimm.is/brcompat/internal/brand"
	"grimm.is/brcompat/internal/clock"
	"grimm.is/brcompat/internal/compat"
	"grimm.is/brcompat/internal/events"
	"grimm.is/brcompat/internal/logging"
)

// Dispatcher runs legacy requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, c compat.Call) compat.Result
	Diagnostics() *compat.Diagnostics
}

// SequenceSource reports the correlator state shown by Status.
type SequenceSource interface {
	Sequence() uint32
	Timeout() time.Duration
}

// NameResolver maps interface indices to names.
type NameResolver interface {
	Names(indices []int32) (map[int32]string, error)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Dispatcher Dispatcher
	Sequence   SequenceSource
	Names      NameResolver
	Hub        *events.Hub
	Clock      clock.Clock
	Logger     *logging.Logger
	// AdminUIDs may change bridges in addition to root and the server's
	// own user.
	AdminUIDs []uint32
}

// Server is the control plane RPC server.
type Server struct {
	dispatcher Dispatcher
	sequence   SequenceSource
	names      NameResolver
	hub        *events.Hub
	clock      clock.Clock
	logger     *logging.Logger
	started    time.Time
	admins     map[uint32]bool
	peerUID    func(net.Conn) (uint32, error)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer creates a control plane server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("ctlplane: dispatcher is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Hub == nil {
		cfg.Hub = events.NewHub()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		dispatcher: cfg.Dispatcher,
		sequence:   cfg.Sequence,
		names:      cfg.Names,
		hub:        cfg.Hub,
		clock:      cfg.Clock,
		logger:     cfg.Logger.WithComponent("CTL"),
		started:    cfg.Clock.Now(),
		admins:     map[uint32]bool{0: true, uint32(os.Geteuid()): true},
		peerUID:    peerUID,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[net.Conn]struct{}),
	}
	for _, uid := range cfg.AdminUIDs {
		s.admins[uid] = true
	}
	if _, err := s.newRPC(&Compat{s: s}); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Server) newRPC(rcvr *Compat) (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(ServiceName, rcvr); err != nil {
		return nil, fmt.Errorf("failed to register RPC service: %w", err)
	}
	return srv, nil
}

// receiver binds a connection to its caller's rights. Callers whose
// credentials cannot be read are unprivileged.
func (s *Server) receiver(conn net.Conn) *Compat {
	uid, err := s.peerUID(conn)
	if err != nil {
		s.logger.Debug("peer credentials unavailable", "error", err)
		return &Compat{s: s}
	}
	return &Compat{s: s, uid: uid, admin: s.admins[uid]}
}

// Start listens on path, replacing any stale socket.
func (s *Server) Start(path string) error {
	if path == "" {
		path = SocketPath
	}
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", path, err)
	}

	if err := os.Chmod(path, 0660); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return s.StartWithListener(listener)
}

// StartWithListener serves RPC on an existing listener.
func (s *Server) StartWithListener(listener net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("ctlplane: already started")
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("control plane listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Error("accept failed", "error", err)
				}
				return
			}
			if !s.track(conn, true) {
				conn.Close()
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.track(conn, false)
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error("RPC connection handler panicked", "panic", r)
					}
				}()
				srv, err := s.newRPC(s.receiver(conn))
				if err != nil {
					s.logger.Error("RPC setup failed", "error", err)
					conn.Close()
					return
				}
				srv.ServeConn(conn)
			}()
		}
	}()
	return nil
}

func (s *Server) track(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.ctx.Err() != nil {
			return false
		}
		s.conns[conn] = struct{}{}
		return true
	}
	delete(s.conns, conn)
	return true
}

// Close stops accepting, interrupts in-flight calls and waits for the
// connection handlers to exit.
func (s *Server) Close() error {
	s.cancel()

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Compat is the RPC receiver for one connection. Its methods follow the
// net/rpc signature.
type Compat struct {
	s     *Server
	uid   uint32
	admin bool
}

// Dispatch runs one legacy request. Requests that change bridges fail
// with EPERM unless the caller is an administrator.
func (c *Compat) Dispatch(args *DispatchArgs, reply *DispatchReply) error {
	s := c.s
	id := args.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	if args.Call.Mutating() && !c.admin {
		reply.Result = compat.Result{Ret: -int(unix.EPERM)}
		s.logger.Warn("denied unprivileged request",
			"request_id", id,
			"uid", c.uid,
			"cmd", fmt.Sprintf("%#x", args.Call.Cmd),
		)
		return nil
	}
	start := s.clock.Now()
	reply.Result = s.dispatcher.Dispatch(s.ctx, args.Call)
	s.logger.Debug("dispatch",
		"request_id", id,
		"cmd", fmt.Sprintf("%#x", args.Call.Cmd),
		"op", args.Call.Args[0],
		"ret", reply.Result.Ret,
		"elapsed", s.clock.Since(start),
	)
	return nil
}

// Names resolves interface indices for display.
func (c *Compat) Names(args *NamesArgs, reply *NamesReply) error {
	if c.s.names == nil {
		reply.Error = "name resolution unavailable"
		return nil
	}
	names, err := c.s.names.Names(args.Indices)
	if err != nil {
		reply.Error = err.Error()
	}
	reply.Names = names
	return nil
}

// Diagnostics lists the diagnostic pushes held by the shim.
func (c *Compat) Diagnostics(args *Empty, reply *DiagnosticsReply) error {
	reply.Entries = c.s.dispatcher.Diagnostics().List()
	return nil
}

// Status reports the running shim.
func (c *Compat) Status(args *Empty, reply *StatusReply) error {
	s := c.s
	published, dropped := s.hub.Stats()
	reply.Status = Status{
		Version:         brand.Version,
		StartedAt:       s.started,
		Uptime:          s.clock.Since(s.started),
		Diagnostics:     len(s.dispatcher.Diagnostics().List()),
		EventsPublished: published,
		EventsDropped:   dropped,
	}
	if s.sequence != nil {
		reply.Status.Sequence = s.sequence.Sequence()
		reply.Status.Timeout = s.sequence.Timeout()
	}
	return nil
}
