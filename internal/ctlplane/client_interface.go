package ctlplane

import "grimm.is/brcompat/internal/compat"

// ControlPlaneClient is the client surface the CLI depends on.
type ControlPlaneClient interface {
	Dispatch(call compat.Call) (compat.Result, error)
	AddBridge(name string) error
	DelBridge(name string) error
	AddPort(bridge string, ifindex int) error
	DelPort(bridge string, ifindex int) error
	Bridges(max int) ([]int32, error)
	Ports(bridge string, max int) ([]int32, error)
	BridgeInfo(bridge string) (compat.Result, error)
	FDB(bridge string, max, offset uint64) (compat.Result, error)
	Names(indices []int32) (map[int32]string, error)
	Diagnostics() ([]compat.DiagnosticEntry, error)
	Status() (*Status, error)
	Close() error
}

var _ ControlPlaneClient = (*Client)(nil)
