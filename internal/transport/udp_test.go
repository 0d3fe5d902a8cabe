package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/brcompat/internal/testutil"
)

func TestUDPConduit_Loopback(t *testing.T) {
	testutil.RequireVM(t)

	group := "239.255.66.9:16633"
	daemon, err := ListenUDP(UDPConfig{Group: group, Interface: "lo", Join: true})
	require.NoError(t, err)
	defer daemon.Close()

	shim, err := ListenUDP(UDPConfig{Group: group, Interface: "lo", Listen: "127.0.0.1:0"})
	require.NoError(t, err)
	defer shim.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, shim.Multicast(ctx, []byte("request")))
	pkt, err := daemon.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("request"), pkt.Data)

	require.NoError(t, daemon.Unicast(ctx, pkt.Peer, []byte("reply")))
	pkt, err = shim.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("reply"), pkt.Data)
}

func TestUDPConduit_ReceiveHonorsContext(t *testing.T) {
	testutil.RequireVM(t)

	shim, err := ListenUDP(UDPConfig{Listen: "127.0.0.1:0"})
	require.NoError(t, err)
	defer shim.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = shim.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUDPConduit_DefaultBindIsLoopback(t *testing.T) {
	testutil.RequireVM(t)

	shim, err := ListenUDP(UDPConfig{})
	require.NoError(t, err)
	defer shim.Close()

	addr, ok := shim.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)
	assert.True(t, addr.IP.IsLoopback(), "got %s", addr.IP)
}
