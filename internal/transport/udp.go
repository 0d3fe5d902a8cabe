package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// DefaultGroup is the IPv4 multicast group used when none is configured.
const DefaultGroup = "239.255.66.1:6633"

// readPoll bounds each blocking read so Receive can observe ctx.
const readPoll = 250 * time.Millisecond

// UDPConfig configures a UDP multicast conduit.
type UDPConfig struct {
	// Group is the multicast group address and port.
	Group string
	// Interface names the interface used for multicast; empty lets the
	// kernel pick by route.
	Interface string
	// Listen is the local unicast bind address for the sending side. Empty
	// binds loopback. Ignored when Join is set.
	Listen string
	// Join binds the group port and joins the group. Listeners (daemons)
	// set it; the shim does not.
	Join bool
	// TTL is the multicast TTL; 0 means 1 (link local).
	TTL int
}

// UDPConduit carries control messages over IPv4 multicast. Requests go to
// the group; replies come back as unicast to the sender's address.
type UDPConduit struct {
	conn  net.PacketConn
	pc    *ipv4.PacketConn
	group *net.UDPAddr
	ifi   *net.Interface
	join  bool
}

var _ Conduit = (*UDPConduit)(nil)

// ListenUDP opens a UDP multicast conduit.
func ListenUDP(cfg UDPConfig) (*UDPConduit, error) {
	groupStr := cfg.Group
	if groupStr == "" {
		groupStr = DefaultGroup
	}
	group, err := net.ResolveUDPAddr("udp4", groupStr)
	if err != nil {
		return nil, fmt.Errorf("invalid multicast group %q: %w", groupStr, err)
	}
	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("%s is not a multicast address", group.IP)
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		ifi, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("interface %s not found: %w", cfg.Interface, err)
		}
	}

	listen := cfg.Listen
	if listen == "" {
		listen = "127.0.0.1:0"
	}
	if cfg.Join {
		listen = fmt.Sprintf("0.0.0.0:%d", group.Port)
	}

	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(context.Background(), "udp4", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", listen, err)
	}

	c := &UDPConduit{
		conn:  conn,
		pc:    ipv4.NewPacketConn(conn),
		group: group,
		ifi:   ifi,
		join:  cfg.Join,
	}
	if err := c.setup(cfg); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *UDPConduit) setup(cfg UDPConfig) error {
	if c.ifi != nil {
		if err := c.pc.SetMulticastInterface(c.ifi); err != nil {
			return fmt.Errorf("set multicast interface: %w", err)
		}
	}
	if err := c.pc.SetMulticastLoopback(true); err != nil {
		return fmt.Errorf("enable multicast loopback: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 1
	}
	if err := c.pc.SetMulticastTTL(ttl); err != nil {
		return fmt.Errorf("set multicast ttl: %w", err)
	}
	if c.join {
		if err := c.pc.JoinGroup(c.ifi, &net.UDPAddr{IP: c.group.IP}); err != nil {
			return fmt.Errorf("join group %s: %w", c.group.IP, err)
		}
	}
	return nil
}

func reuseAddr(network, address string, rc syscall.RawConn) error {
	var serr error
	err := rc.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// Multicast sends b to the group. UDP cannot tell whether anyone listens,
// so delivery is best effort.
func (c *UDPConduit) Multicast(ctx context.Context, b []byte) error {
	return c.write(ctx, b, c.group)
}

// Unicast sends b to a single peer.
func (c *UDPConduit) Unicast(ctx context.Context, peer net.Addr, b []byte) error {
	return c.write(ctx, b, peer)
}

func (c *UDPConduit) write(ctx context.Context, b []byte, dst net.Addr) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.pc.WriteTo(b, nil, dst); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("write to %s: %w", dst, err)
	}
	return nil
}

// Receive reads the next datagram.
func (c *UDPConduit) Receive(ctx context.Context) (Packet, error) {
	buf := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return Packet{}, err
		}
		c.conn.SetReadDeadline(time.Now().Add(readPoll))
		n, _, src, err := c.pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return Packet{}, ErrClosed
			}
			return Packet{}, fmt.Errorf("read: %w", err)
		}
		return Packet{Data: append([]byte(nil), buf[:n]...), Peer: src}, nil
	}
}

// LocalAddr returns the bound unicast address.
func (c *UDPConduit) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close leaves the group if joined and closes the socket.
func (c *UDPConduit) Close() error {
	if c.join {
		c.pc.LeaveGroup(c.ifi, &net.UDPAddr{IP: c.group.IP})
	}
	return c.conn.Close()
}
