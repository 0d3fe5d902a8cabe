package ctlplane

import (
	"errors"
	"fmt"
	"net/rpc"
	"strings"
	"sync"

	"github.com/google/uuid"

	"grimm.is/brcompat/internal/compat"
)

// Client talks to the control plane server.
type Client struct {
	path   string
	client *rpc.Client
	mu     sync.RWMutex
}

// NewClient dials the control socket at path, or SocketPath when empty.
func NewClient(path string) (*Client, error) {
	if path == "" {
		path = SocketPath
	}
	client, err := rpc.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control plane at %s: %w", path, err)
	}
	return &Client{path: path, client: client}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// call redials once when the connection went away underneath it.
func (c *Client) call(method string, args any, reply any) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		if err := c.reconnect(nil); err != nil {
			return err
		}
		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
	}

	serviceMethod := ServiceName + "." + method
	err := client.Call(serviceMethod, args, reply)
	if err == nil {
		return nil
	}

	if errors.Is(err, rpc.ErrShutdown) || isNetworkError(err) {
		if recErr := c.reconnect(client); recErr != nil {
			return fmt.Errorf("RPC call failed (%v) and reconnection failed: %w", err, recErr)
		}
		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
		return client.Call(serviceMethod, args, reply)
	}
	return err
}

func (c *Client) reconnect(old *rpc.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != old && c.client != nil {
		return nil
	}
	if c.client != nil {
		c.client.Close()
	}

	client, err := rpc.Dial("unix", c.path)
	if err != nil {
		return fmt.Errorf("failed to reconnect to control plane: %w", err)
	}
	c.client = client
	return nil
}

func isNetworkError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection is shut down") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "use of closed network connection")
}

// Dispatch runs one legacy request on the server.
func (c *Client) Dispatch(call compat.Call) (compat.Result, error) {
	var reply DispatchReply
	args := &DispatchArgs{RequestID: uuid.NewString(), Call: call}
	if err := c.call("Dispatch", args, &reply); err != nil {
		return compat.Result{}, err
	}
	return reply.Result, nil
}

// AddBridge creates a bridge.
func (c *Client) AddBridge(name string) error {
	return c.status(compat.Call{Cmd: compat.SIOCBRADDBR, Name: name})
}

// DelBridge deletes a bridge.
func (c *Client) DelBridge(name string) error {
	return c.status(compat.Call{Cmd: compat.SIOCBRDELBR, Name: name})
}

// AddPort attaches the interface with index ifindex to bridge.
func (c *Client) AddPort(bridge string, ifindex int) error {
	return c.status(compat.Call{Cmd: compat.SIOCBRADDIF, Dev: bridge, IfIndex: ifindex})
}

// DelPort detaches the interface with index ifindex from bridge.
func (c *Client) DelPort(bridge string, ifindex int) error {
	return c.status(compat.Call{Cmd: compat.SIOCBRDELIF, Dev: bridge, IfIndex: ifindex})
}

// Bridges returns up to max bridge indices.
func (c *Client) Bridges(max int) ([]int32, error) {
	res, err := c.result(compat.Call{
		Cmd:  compat.SIOCGIFBR,
		Args: [4]uint64{compat.BRCTLGetBridges, 0, uint64(max)},
	})
	return res.Indices, err
}

// Ports returns up to max port indices of bridge.
func (c *Client) Ports(bridge string, max int) ([]int32, error) {
	res, err := c.result(compat.Call{
		Cmd:  compat.SIOCDEVPRIVATE,
		Dev:  bridge,
		Args: [4]uint64{compat.BRCTLGetPortList, 0, uint64(max)},
	})
	return res.Indices, err
}

// BridgeInfo describes bridge.
func (c *Client) BridgeInfo(bridge string) (compat.Result, error) {
	return c.result(compat.Call{
		Cmd:  compat.SIOCDEVPRIVATE,
		Dev:  bridge,
		Args: [4]uint64{compat.BRCTLGetBridgeInfo},
	})
}

// FDB reads up to max forwarding entries of bridge starting at offset.
func (c *Client) FDB(bridge string, max, offset uint64) (compat.Result, error) {
	return c.result(compat.Call{
		Cmd:  compat.SIOCDEVPRIVATE,
		Dev:  bridge,
		Args: [4]uint64{compat.BRCTLGetFDBEntries, 0, max, offset},
	})
}

func (c *Client) status(call compat.Call) error {
	_, err := c.result(call)
	return err
}

func (c *Client) result(call compat.Call) (compat.Result, error) {
	res, err := c.Dispatch(call)
	if err != nil {
		return res, err
	}
	return res, RetError(res.Ret)
}

// Names resolves interface indices to names.
func (c *Client) Names(indices []int32) (map[int32]string, error) {
	var reply NamesReply
	if err := c.call("Names", &NamesArgs{Indices: indices}, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return reply.Names, errors.New(reply.Error)
	}
	return reply.Names, nil
}

// Diagnostics lists the diagnostic pushes held by the server.
func (c *Client) Diagnostics() ([]compat.DiagnosticEntry, error) {
	var reply DiagnosticsReply
	if err := c.call("Diagnostics", &Empty{}, &reply); err != nil {
		return nil, err
	}
	return reply.Entries, nil
}

// Status returns the server status.
func (c *Client) Status() (*Status, error) {
	var reply StatusReply
	if err := c.call("Status", &Empty{}, &reply); err != nil {
		return nil, err
	}
	return &reply.Status, nil
}
