package compat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"grimm.is/brcompat/internal/attr"
	"grimm.is/brcompat/internal/brctest"
	"grimm.is/brcompat/internal/clock"
	"grimm.is/brcompat/internal/command"
	"grimm.is/brcompat/internal/correlator"
	"grimm.is/brcompat/internal/device"
	"grimm.is/brcompat/internal/events"
	"grimm.is/brcompat/internal/genl"
	"grimm.is/brcompat/internal/logging"
	"grimm.is/brcompat/internal/metrics"
	"grimm.is/brcompat/internal/result"
	"grimm.is/brcompat/internal/transport"
)

var br0MAC = net.HardwareAddr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}

type harness struct {
	svc     *Service
	corr    *correlator.Correlator
	daemon  *brctest.Daemon
	nl      *device.MockNetlinker
	metrics *metrics.Registry
	hub     *events.Hub
	clock   *clock.MockClock
}

type harnessOpts struct {
	noDaemon bool
	clock    *clock.MockClock
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	bus := transport.NewMemoryBus(16)
	ep, err := bus.Attach("shim")
	require.NoError(t, err)

	h := &harness{
		nl:      new(device.MockNetlinker),
		metrics: metrics.NewIsolated(),
		hub:     events.NewHub(),
		clock:   opts.clock,
	}
	var clk clock.Clock = clock.Default()
	if opts.clock != nil {
		clk = opts.clock
	}

	tr := transport.New(ep, transport.Config{
		PID:     1,
		Logger:  logging.Discard(),
		Metrics: h.metrics,
		Hub:     h.hub,
	})
	h.corr = correlator.New(tr, correlator.Config{
		Clock:   clk,
		Logger:  logging.Discard(),
		Metrics: h.metrics,
		Hub:     h.hub,
	})
	h.corr.Register(tr)

	h.svc = NewService(Config{
		Caller:  h.corr,
		Devices: device.NewResolver(h.nl),
		GroupID: 7,
		Clock:   clk,
		Logger:  logging.Discard(),
		Metrics: h.metrics,
		Hub:     h.hub,
	})
	h.svc.Register(tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		ep.Close()
		<-done
	})

	if !opts.noDaemon {
		h.daemon = brctest.Start(t, bus, "daemon")
	}
	return h
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Scenario: add-bridge answered with code 0.
func TestAddBridge_Success(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	require.NoError(t, h.svc.AddBridge(ctxT(t), "br0"))
	assert.Equal(t, []string{"br0"}, h.daemon.Bridges())

	reqs := h.daemon.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, genl.CmdDPAdd, reqs[0].Command)
	assert.Equal(t, "br0", reqs[0].Bridge)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LegacyCalls.WithLabelValues("add_bridge", "0")))
}

func TestAddBridge_DaemonError(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	require.NoError(t, h.svc.AddBridge(ctxT(t), "br0"))
	err := h.svc.AddBridge(ctxT(t), "br0")

	var de *result.DaemonError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, unix.EEXIST, de.Errno())
	assert.Equal(t, -int(unix.EEXIST), Ret(err))
}

func TestDelBridge(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	require.NoError(t, h.svc.AddBridge(ctxT(t), "br0"))
	require.NoError(t, h.svc.DelBridge(ctxT(t), "br0"))
	assert.Empty(t, h.daemon.Bridges())

	assert.Equal(t, unix.ENXIO, Errno(h.svc.DelBridge(ctxT(t), "br0")))
}

func TestPorts(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.nl.On("LinkByIndex", 3).Return(device.Dummy("eth0", 3, nil), nil)
	h.nl.On("LinkByIndex", 4).Return(device.Dummy("eth1", 4, nil), nil)
	h.nl.On("LinkByIndex", 9).Return(nil, device.ErrNoSuchDevice)
	h.daemon.Link("eth0", 3)
	h.daemon.Link("eth1", 4)

	ctx := ctxT(t)
	require.NoError(t, h.svc.AddBridge(ctx, "br0"))
	require.NoError(t, h.svc.AddPort(ctx, "br0", 3))
	require.NoError(t, h.svc.AddPort(ctx, "br0", 4))
	assert.Equal(t, []string{"eth0", "eth1"}, h.daemon.Ports("br0"))

	ports, err := h.svc.GetPortList(ctx, "br0", 16)
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 4}, ports)

	require.NoError(t, h.svc.DelPort(ctx, "br0", 3))
	assert.Equal(t, []string{"eth1"}, h.daemon.Ports("br0"))

	// An unknown port index fails before anything is sent.
	before := len(h.daemon.Requests())
	err = h.svc.AddPort(ctx, "br0", 9)
	assert.Equal(t, unix.EINVAL, Errno(err))
	assert.Len(t, h.daemon.Requests(), before)
}

func TestGetBridges(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := ctxT(t)

	for _, br := range []string{"br0", "br1", "br2"} {
		require.NoError(t, h.svc.AddBridge(ctx, br))
	}

	all, err := h.svc.GetBridges(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := h.svc.GetBridges(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, all[:2], some)
}

func TestGetBridges_CountLimits(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := ctxT(t)

	_, err := h.svc.GetBridges(ctx, -1)
	assert.Equal(t, unix.EINVAL, Errno(err))

	_, err = h.svc.GetBridges(ctx, result.MaxIndices)
	assert.Equal(t, unix.ENOMEM, Errno(err))

	assert.Empty(t, h.daemon.Requests(), "bad counts must not reach the daemon")
}

// Scenario: code 17 with payload attributes; only the code is looked at.
func TestDaemonErrorCode17(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.daemon.Override(genl.CmdGetBridges, func(in *transport.Inbound) ([]attr.Attr, bool) {
		return command.Result(17, attr.Bytes(genl.AttrIfindexes, []byte{1, 2, 3})), true
	})

	indices, err := h.svc.GetBridges(ctxT(t), 10)
	assert.Nil(t, indices)
	var de *result.DaemonError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, uint32(17), de.Code)
	assert.Equal(t, -17, Ret(err))
}

func TestMalformedIndexList(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.daemon.Override(genl.CmdGetBridges, func(in *transport.Inbound) ([]attr.Attr, bool) {
		return command.Result(0, attr.Bytes(genl.AttrIfindexes, []byte{1, 2, 3})), true
	})

	_, err := h.svc.GetBridges(ctxT(t), 10)
	assert.ErrorIs(t, err, result.ErrInvalidResult)
	assert.Equal(t, unix.EINVAL, Errno(err))
}

// Scenario: maxnum 10000 is clamped to one page before sending.
func TestGetFDBEntries_Clamped(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := ctxT(t)
	require.NoError(t, h.svc.AddBridge(ctx, "br0"))

	entries := []result.FDBEntry{
		{MAC: net.HardwareAddr{0, 1, 2, 3, 4, 5}, PortNo: 1, Ageing: 30},
		{MAC: net.HardwareAddr{0, 1, 2, 3, 4, 6}, PortNo: 2, IsLocal: true},
		{MAC: net.HardwareAddr{0, 1, 2, 3, 4, 7}, PortNo: 300},
	}
	h.daemon.AddFDB("br0", entries...)

	got, err := h.svc.GetFDBEntries(ctx, "br0", 10000, 0)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	reqs := h.daemon.Requests()
	last := reqs[len(reqs)-1]
	count, _ := last.Attrs.Uint64(genl.AttrFDBCount)
	assert.Equal(t, uint64(result.MaxFDBEntries), count)

	got, err = h.svc.GetFDBEntries(ctx, "br0", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, entries[1:], got)
}

func TestGetFDBEntries_TooManyRecords(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	blob, err := result.EncodeFDB([]result.FDBEntry{
		{MAC: net.HardwareAddr{0, 1, 2, 3, 4, 5}},
		{MAC: net.HardwareAddr{0, 1, 2, 3, 4, 6}},
	})
	require.NoError(t, err)
	h.daemon.Override(genl.CmdFDBQuery, func(in *transport.Inbound) ([]attr.Attr, bool) {
		return command.Result(0, attr.Bytes(genl.AttrFDBData, blob)), true
	})

	_, err = h.svc.GetFDBEntries(ctxT(t), "br0", 1, 0)
	assert.Equal(t, unix.EINVAL, Errno(err))
}

func TestGetBridgeInfo(t *testing.T) {
	h := newHarness(t, harnessOpts{noDaemon: true})
	h.nl.On("LinkByName", "br0").Return(device.Dummy("br0", 5, br0MAC), nil)
	h.nl.On("LinkByName", "nope").Return(nil, device.ErrNoSuchDevice)

	info, err := h.svc.GetBridgeInfo(ctxT(t), "br0")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x021122334455), info.BridgeID)
	assert.False(t, info.STPEnabled)

	_, err = h.svc.GetBridgeInfo(ctxT(t), "nope")
	assert.Equal(t, unix.EINVAL, Errno(err))
}

func TestNoListeners(t *testing.T) {
	h := newHarness(t, harnessOpts{noDaemon: true})

	err := h.svc.AddBridge(ctxT(t), "br0")
	assert.ErrorIs(t, err, transport.ErrNoListeners)
	assert.Equal(t, unix.ESRCH, Errno(err))
}

// Scenario: no reply before the deadline.
func TestTimeout(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	h := newHarness(t, harnessOpts{clock: mc})
	h.daemon.SetSilent(true)

	errc := make(chan error, 1)
	go func() { errc <- h.svc.AddBridge(context.Background(), "br0") }()

	require.Eventually(t, func() bool { return mc.Waiters() == 1 }, time.Second, time.Millisecond)
	mc.Advance(correlator.DefaultTimeout)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, correlator.ErrTimeout)
		assert.Equal(t, unix.ETIMEDOUT, Errno(err))
	case <-time.After(2 * time.Second):
		t.Fatal("call did not time out")
	}
}

func TestErrno(t *testing.T) {
	tests := []struct {
		err  error
		want unix.Errno
	}{
		{nil, 0},
		{&result.DaemonError{Code: 17}, unix.EEXIST},
		{fmt.Errorf("wrapped: %w", transport.ErrNoListeners), unix.ESRCH},
		{correlator.ErrTimeout, unix.ETIMEDOUT},
		{context.DeadlineExceeded, unix.ETIMEDOUT},
		{context.Canceled, unix.EINTR},
		{result.ErrInvalidResult, unix.EINVAL},
		{attr.ErrMissing, unix.EINVAL},
		{ErrInvalidArgument, unix.EINVAL},
		{result.ErrTooMany, unix.ENOMEM},
		{transport.ErrMessageTooLarge, unix.ENOMEM},
		{ErrNotSupported, unix.EOPNOTSUPP},
		{fmt.Errorf("x: %w", unix.EPERM), unix.EPERM},
		{correlator.ErrNoReply, unix.EIO},
		{errors.New("something else"), unix.EIO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Errno(tt.err), "%v", tt.err)
	}
	assert.Equal(t, 0, Ret(nil))
	assert.Equal(t, -int(unix.ESRCH), Ret(transport.ErrNoListeners))
}
