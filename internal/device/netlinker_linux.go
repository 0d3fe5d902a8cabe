//go:build linux

package device

import (
	"errors"
	"fmt"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// RealNetlinker performs lookups through a netlink handle, optionally bound
// to a named network namespace.
type RealNetlinker struct {
	handle *netlink.Handle
}

// NewNetlinker opens a netlink handle. An empty nsName uses the current
// namespace.
func NewNetlinker(nsName string) (*RealNetlinker, error) {
	if nsName == "" {
		h, err := netlink.NewHandle()
		if err != nil {
			return nil, fmt.Errorf("open netlink handle: %w", err)
		}
		return &RealNetlinker{handle: h}, nil
	}

	ns, err := netns.GetFromName(nsName)
	if err != nil {
		return nil, fmt.Errorf("open netns %s: %w", nsName, err)
	}
	defer ns.Close()

	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		return nil, fmt.Errorf("open netlink handle in netns %s: %w", nsName, err)
	}
	return &RealNetlinker{handle: h}, nil
}

func (r *RealNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	return r.handle.LinkByIndex(index)
}

func (r *RealNetlinker) LinkByName(name string) (netlink.Link, error) {
	return r.handle.LinkByName(name)
}

func (r *RealNetlinker) LinkList() ([]netlink.Link, error) {
	return r.handle.LinkList()
}

// Close releases the netlink handle.
func (r *RealNetlinker) Close() {
	r.handle.Close()
}

func isNotFound(err error) bool {
	var nf netlink.LinkNotFoundError
	return errors.As(err, &nf) || errors.Is(err, unix.ENODEV)
}
