// Package command builds control channel requests, one encoder per
// operation. Encoders only assemble attributes; they never fail.
package command

import (
	"grimm.is/brcompat/internal/attr"
	"grimm.is/brcompat/internal/genl"
)

// IfName truncates name to what fits an interface name buffer.
func IfName(name string) string {
	if len(name) > genl.IFNAMSIZ-1 {
		return name[:genl.IFNAMSIZ-1]
	}
	return name
}

// AddBridge asks the daemon to create a bridge.
func AddBridge(bridge string) *genl.Request {
	return &genl.Request{Command: genl.CmdDPAdd, Bridge: IfName(bridge)}
}

// DelBridge asks the daemon to delete a bridge.
func DelBridge(bridge string) *genl.Request {
	return &genl.Request{Command: genl.CmdDPDel, Bridge: IfName(bridge)}
}

// AddPort asks the daemon to attach port to bridge.
func AddPort(bridge, port string) *genl.Request {
	return &genl.Request{Command: genl.CmdPortAdd, Bridge: IfName(bridge), Port: IfName(port)}
}

// DelPort asks the daemon to detach port from bridge.
func DelPort(bridge, port string) *genl.Request {
	return &genl.Request{Command: genl.CmdPortDel, Bridge: IfName(bridge), Port: IfName(port)}
}

// GetBridges asks for the interface indexes of every bridge.
func GetBridges() *genl.Request {
	return &genl.Request{Command: genl.CmdGetBridges}
}

// GetPorts asks for the interface indexes of a bridge's ports.
func GetPorts(bridge string) *genl.Request {
	return &genl.Request{Command: genl.CmdGetPorts, Bridge: IfName(bridge)}
}

// FDBQuery asks for up to count forwarding table records of bridge,
// starting after skip records.
func FDBQuery(bridge string, count, skip uint64) *genl.Request {
	return &genl.Request{
		Command: genl.CmdFDBQuery,
		Bridge:  IfName(bridge),
		Extra: []attr.Attr{
			attr.Uint64(genl.AttrFDBCount, count),
			attr.Uint64(genl.AttrFDBSkip, skip),
		},
	}
}

// SetProc pushes a diagnostic result for dir/name. An empty data removes
// the entry.
func SetProc(dir, name, data string) *genl.Request {
	extra := []attr.Attr{
		attr.String(genl.AttrProcDir, dir),
		attr.String(genl.AttrProcName, name),
	}
	if data != "" {
		extra = append(extra, attr.String(genl.AttrProcData, data))
	}
	return &genl.Request{Command: genl.CmdSetProc, Extra: extra}
}

// QueryMC asks the shim for its multicast group id.
func QueryMC() *genl.Request {
	return &genl.Request{Command: genl.CmdQueryMC}
}

// Result builds a DP_RESULT reply carrying errno and any payload
// attributes. Daemons use it to answer requests.
func Result(errno uint32, extra ...attr.Attr) []attr.Attr {
	return append([]attr.Attr{attr.Uint32(genl.AttrErrCode, errno)}, extra...)
}

// MCGroup builds the attributes of a QUERY_MC answer.
func MCGroup(group uint32) []attr.Attr {
	return []attr.Attr{attr.Uint32(genl.AttrMCGroup, group)}
}
