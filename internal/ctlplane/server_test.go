package ctlplane

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/brcompat/internal/brand"
	"grimm.is/brcompat/internal/brctest"
	"grimm.is/brcompat/internal/command"
	"grimm.is/brcompat/internal/compat"
	"grimm.is/brcompat/internal/correlator"
	"grimm.is/brcompat/internal/device"
	"grimm.is/brcompat/internal/events"
	"grimm.is/brcompat/internal/logging"
	"grimm.is/brcompat/internal/metrics"
	"grimm.is/brcompat/internal/transport"
)

type fixture struct {
	path   string
	srv    *Server
	client *Client
	daemon *brctest.Daemon
	nl     *device.MockNetlinker
	corr   *correlator.Correlator
}

func newFixture(t *testing.T, opts ...func(*Server)) *fixture {
	t.Helper()

	bus := transport.NewMemoryBus(16)
	ep, err := bus.Attach("shim")
	require.NoError(t, err)

	reg := metrics.NewIsolated()
	hub := events.NewHub()
	tr := transport.New(ep, transport.Config{PID: 1, Logger: logging.Discard(), Metrics: reg, Hub: hub})
	corr := correlator.New(tr, correlator.Config{Timeout: time.Second, Logger: logging.Discard(), Metrics: reg, Hub: hub})
	corr.Register(tr)

	nl := new(device.MockNetlinker)
	resolver := device.NewResolver(nl)
	svc := compat.NewService(compat.Config{
		Caller:  corr,
		Devices: resolver,
		Logger:  logging.Discard(),
		Metrics: reg,
		Hub:     hub,
	})
	svc.Register(tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx)
	}()

	srv, err := NewServer(ServerConfig{
		Dispatcher: svc,
		Sequence:   corr,
		Names:      resolver,
		Hub:        hub,
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)
	for _, opt := range opts {
		opt(srv)
	}

	// Unix socket paths are short; t.TempDir can exceed the limit.
	dir, err := os.MkdirTemp("", "brc")
	require.NoError(t, err)
	path := filepath.Join(dir, "ctl.sock")
	require.NoError(t, srv.Start(path))

	client, err := NewClient(path)
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		srv.Close()
		cancel()
		ep.Close()
		<-done
		os.RemoveAll(dir)
	})

	return &fixture{
		path:   path,
		srv:    srv,
		client: client,
		daemon: brctest.Start(t, bus, "daemon"),
		nl:     nl,
		corr:   corr,
	}
}

func TestClient_BridgeLifecycle(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.client.AddBridge("br0"))
	assert.Equal(t, []string{"br0"}, f.daemon.Bridges())

	err := f.client.AddBridge("br0")
	assert.ErrorIs(t, err, unix.EEXIST)

	indices, err := f.client.Bridges(8)
	require.NoError(t, err)
	assert.Len(t, indices, 1)

	require.NoError(t, f.client.DelBridge("br0"))
	assert.ErrorIs(t, f.client.DelBridge("br0"), unix.ENXIO)
}

func TestClient_Ports(t *testing.T) {
	f := newFixture(t)
	f.nl.On("LinkByIndex", 3).Return(device.Dummy("eth0", 3, nil), nil)
	f.daemon.Link("eth0", 3)

	require.NoError(t, f.client.AddBridge("br0"))
	require.NoError(t, f.client.AddPort("br0", 3))

	ports, err := f.client.Ports("br0", 16)
	require.NoError(t, err)
	assert.Equal(t, []int32{3}, ports)

	require.NoError(t, f.client.DelPort("br0", 3))
	assert.Empty(t, f.daemon.Ports("br0"))

	assert.ErrorIs(t, f.client.AddPort("br0", 0), unix.EINVAL)
}

func TestClient_Unsupported(t *testing.T) {
	f := newFixture(t)

	res, err := f.client.Dispatch(compat.Call{Cmd: 0x1234})
	require.NoError(t, err)
	assert.Equal(t, -int(unix.EOPNOTSUPP), res.Ret)
}

func TestClient_Names(t *testing.T) {
	f := newFixture(t)
	f.nl.On("LinkList").Return(nil, assert.AnError).Once()
	_, err := f.client.Names([]int32{1})
	assert.Error(t, err)

	f.nl.On("LinkList").Return([]netlink.Link{device.Dummy("lo", 1, nil), device.Dummy("eth0", 2, nil)}, nil)
	names, err := f.client.Names([]int32{1, 2, 9})
	require.NoError(t, err)
	assert.Equal(t, map[int32]string{1: "lo", 2: "eth0"}, names)
}

func TestClient_StatusAndDiagnostics(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.daemon.Push(context.Background(), command.SetProc("net/brcompat/br0", "stp", "on"), 1))
	require.Eventually(t, func() bool {
		entries, err := f.client.Diagnostics()
		return err == nil && len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := f.client.Diagnostics()
	require.NoError(t, err)
	assert.Equal(t, "net/brcompat/br0/stp", entries[0].Path())
	assert.Equal(t, "on", entries[0].Data)

	st, err := f.client.Status()
	require.NoError(t, err)
	assert.Equal(t, brand.Version, st.Version)
	assert.Equal(t, f.corr.Sequence(), st.Sequence)
	assert.Equal(t, time.Second, st.Timeout)
	assert.Equal(t, 1, st.Diagnostics)
}

func TestClient_Reconnects(t *testing.T) {
	f := newFixture(t)

	f.client.mu.Lock()
	f.client.client.Close()
	f.client.mu.Unlock()

	require.NoError(t, f.client.AddBridge("br0"))
	assert.Equal(t, []string{"br0"}, f.daemon.Bridges())
}

func TestServer_CloseInterruptsCalls(t *testing.T) {
	f := newFixture(t)
	f.daemon.SetSilent(true)
	f.srv.cancel()

	var reply DispatchReply
	err := (&Compat{s: f.srv}).Dispatch(&DispatchArgs{Call: compat.Call{Cmd: compat.SIOCBRADDBR, Name: "br0"}}, &reply)
	require.NoError(t, err)
	assert.Equal(t, -int(unix.EINTR), reply.Result.Ret)
}

func TestServer_RejectsSecondStart(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.srv.StartWithListener(nil))
}

func TestNewClient_NoServer(t *testing.T) {
	_, err := NewClient(filepath.Join(os.TempDir(), "brcompat-missing.sock"))
	assert.Error(t, err)
}

func TestRetError(t *testing.T) {
	assert.NoError(t, RetError(0))
	assert.NoError(t, RetError(3))
	assert.Equal(t, unix.ETIMEDOUT, RetError(-int(unix.ETIMEDOUT)))
}

func asUID(uid uint32) func(*Server) {
	return func(s *Server) {
		s.peerUID = func(net.Conn) (uint32, error) { return uid, nil }
	}
}

func TestServer_SocketMode(t *testing.T) {
	f := newFixture(t)
	fi, err := os.Stat(f.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o660), fi.Mode().Perm())
}

func TestServer_UnprivilegedCallerCannotMutate(t *testing.T) {
	f := newFixture(t, asUID(4242))

	assert.ErrorIs(t, f.client.AddBridge("br0"), unix.EPERM)
	assert.ErrorIs(t, f.client.DelBridge("br0"), unix.EPERM)
	assert.ErrorIs(t, f.client.AddPort("br0", 3), unix.EPERM)
	assert.ErrorIs(t, f.client.DelPort("br0", 3), unix.EPERM)
	res, err := f.client.Dispatch(compat.Call{Cmd: compat.SIOCSIFBR, Args: [4]uint64{compat.BRCTLAddBridge}, Name: "br1"})
	require.NoError(t, err)
	assert.Equal(t, -int(unix.EPERM), res.Ret)
	assert.Empty(t, f.daemon.Bridges(), "denied requests must not reach the daemon")

	// Reads stay open.
	indices, err := f.client.Bridges(8)
	require.NoError(t, err)
	assert.Empty(t, indices)
}

func TestServer_AdminUIDMayMutate(t *testing.T) {
	f := newFixture(t, asUID(4242), func(s *Server) { s.admins[4242] = true })

	require.NoError(t, f.client.AddBridge("br0"))
	assert.Equal(t, []string{"br0"}, f.daemon.Bridges())
}

func TestServer_UnknownCredentialsAreUnprivileged(t *testing.T) {
	f := newFixture(t, func(s *Server) {
		s.peerUID = func(net.Conn) (uint32, error) { return 0, assert.AnError }
	})

	assert.ErrorIs(t, f.client.AddBridge("br0"), unix.EPERM)
}
