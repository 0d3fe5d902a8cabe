package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/brcompat/internal/brctest"
	"grimm.is/brcompat/internal/config"
	"grimm.is/brcompat/internal/ctlplane"
	"grimm.is/brcompat/internal/device"
	"grimm.is/brcompat/internal/logging"
	"grimm.is/brcompat/internal/metrics"
	"grimm.is/brcompat/internal/transport"
)

func TestServe_EndToEnd(t *testing.T) {
	bus := transport.NewMemoryBus(16)
	ep, err := bus.Attach("shim")
	require.NoError(t, err)
	daemon := brctest.Start(t, bus, "daemon")

	dir, err := os.MkdirTemp("", "brc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.DefaultConfig()
	cfg.Ctl.Socket = filepath.Join(dir, "ctl.sock")
	cfg.Metrics.Listen = "127.0.0.1:0"
	seq := int64(41)
	cfg.Control.InitialSequence = &seq

	nl := new(device.MockNetlinker)
	nl.On("LinkByIndex", 3).Return(device.Dummy("eth0", 3, nil), nil)
	daemon.Link("eth0", 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, cfg, ServeOptions{
			Conduit:   ep,
			Netlinker: nl,
			Metrics:   metrics.NewIsolated(),
			Logger:    logging.Discard(),
		})
	}()

	var client *ctlplane.Client
	require.Eventually(t, func() bool {
		client, err = ctlplane.NewClient(cfg.Ctl.Socket)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer client.Close()

	require.NoError(t, client.AddBridge("br0"))
	require.NoError(t, client.AddPort("br0", 3))
	assert.Equal(t, []string{"eth0"}, daemon.Ports("br0"))

	reqs := daemon.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, uint32(42), reqs[0].Sequence, "first call uses the configured sequence plus one")

	st, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, cfg.Control.TimeoutDuration(), st.Timeout)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not stop")
	}
	_, err = os.Stat(cfg.Ctl.Socket)
	assert.True(t, os.IsNotExist(err), "socket removed on shutdown")
}

func TestServe_BadConduitKind(t *testing.T) {
	_, err := newConduit(&config.TransportConfig{Kind: "serial"})
	assert.Error(t, err)
}

func TestRunServe_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`control { timeout = "never" }`), 0o644))
	assert.ErrorContains(t, RunServe(path, false), "configuration error")
}
