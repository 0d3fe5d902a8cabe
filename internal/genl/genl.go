// Package genl defines the control channel vocabulary: command codes,
// attribute tags, attribute policies and the generic netlink framing used to
// put requests and replies on the wire.
package genl

import (
	"fmt"

	"grimm.is/brcompat/internal/attr"
)

// Version is the generic netlink family version carried in every header.
const Version = 1

// IFNAMSIZ is the size of an interface name buffer, including the NUL.
const IFNAMSIZ = 16

// Command is a control channel operation code.
type Command uint8

const (
	CmdDPAdd      Command = 1 // add bridge
	CmdDPDel      Command = 2 // delete bridge
	CmdPortAdd    Command = 3
	CmdPortDel    Command = 4
	CmdQueryMC    Command = 5 // multicast group discovery
	CmdDPResult   Command = 6 // daemon reply to any request
	CmdSetProc    Command = 7 // diagnostic result push
	CmdGetBridges Command = 8
	CmdGetPorts   Command = 9
	CmdFDBQuery   Command = 10
)

var commandNames = map[Command]string{
	CmdDPAdd:      "dp_add",
	CmdDPDel:      "dp_del",
	CmdPortAdd:    "port_add",
	CmdPortDel:    "port_del",
	CmdQueryMC:    "query_mc",
	CmdDPResult:   "dp_result",
	CmdSetProc:    "set_proc",
	CmdGetBridges: "get_bridges",
	CmdGetPorts:   "get_ports",
	CmdFDBQuery:   "fdb_query",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cmd(%d)", uint8(c))
}

// Attribute tags.
const (
	AttrDPName    uint16 = 1  // string: bridge name
	AttrPortName  uint16 = 2  // string: port name
	AttrErrCode   uint16 = 3  // u32: positive errno, 0 on success
	AttrMCGroup   uint16 = 4  // u32: multicast group id
	AttrProcDir   uint16 = 5  // string
	AttrProcName  uint16 = 6  // string
	AttrProcData  uint16 = 7  // string
	AttrIfindexes uint16 = 8  // blob: array of native-endian int32
	AttrFDBCount  uint16 = 9  // u64
	AttrFDBSkip   uint16 = 10 // u64
	AttrFDBData   uint16 = 11 // blob: array of fixed-size FDB records
)

// ResultPolicy governs DP_RESULT replies from the daemon.
var ResultPolicy = attr.Policy{
	AttrErrCode:   {Type: attr.TypeU32, Mandatory: true},
	AttrIfindexes: {Type: attr.TypeBlob},
	AttrFDBData:   {Type: attr.TypeBlob},
}

// SetProcPolicy governs diagnostic pushes.
var SetProcPolicy = attr.Policy{
	AttrProcDir:  {Type: attr.TypeString, Mandatory: true},
	AttrProcName: {Type: attr.TypeString, Mandatory: true},
	AttrProcData: {Type: attr.TypeString},
}

// QueryMCPolicy governs multicast group discovery queries; they carry no
// attributes.
var QueryMCPolicy = attr.Policy{}

// RequestPolicy describes requests sent to the daemon. The shim never
// receives these; daemons and tests use it to decode what was sent.
var RequestPolicy = attr.Policy{
	AttrDPName:   {Type: attr.TypeString, MaxLen: IFNAMSIZ},
	AttrPortName: {Type: attr.TypeString, MaxLen: IFNAMSIZ},
	AttrFDBCount: {Type: attr.TypeU64},
	AttrFDBSkip:  {Type: attr.TypeU64},
	AttrMCGroup:  {Type: attr.TypeU32},
}

// Request is an operation bound for the daemon: a command, an optional
// bridge name, an optional port name and any extra typed attributes. It is
// immutable once built.
type Request struct {
	Command Command
	Bridge  string
	Port    string
	Extra   []attr.Attr
}

// Attributes returns the request's attributes in wire order.
func (r *Request) Attributes() []attr.Attr {
	out := make([]attr.Attr, 0, 2+len(r.Extra))
	if r.Bridge != "" {
		out = append(out, attr.String(AttrDPName, r.Bridge))
	}
	if r.Port != "" {
		out = append(out, attr.String(AttrPortName, r.Port))
	}
	return append(out, r.Extra...)
}

// Encode builds the attribute payload of the request.
func (r *Request) Encode() ([]byte, error) {
	payload, err := attr.Encode(r.Attributes()...)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", r.Command, err)
	}
	return payload, nil
}
