//go:build !linux

package device

import (
	"github.com/vishvananda/netlink"
)

// RealNetlinker is a stub; every lookup fails with ErrNotSupported.
type RealNetlinker struct{}

func NewNetlinker(nsName string) (*RealNetlinker, error) {
	return &RealNetlinker{}, nil
}

func (r *RealNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	return nil, ErrNotSupported
}

func (r *RealNetlinker) LinkByName(name string) (netlink.Link, error) {
	return nil, ErrNotSupported
}

func (r *RealNetlinker) LinkList() ([]netlink.Link, error) {
	return nil, ErrNotSupported
}

func (r *RealNetlinker) Close() {}

func isNotFound(err error) bool { return false }
