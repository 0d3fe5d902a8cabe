package compat

import (
	"context"
	"fmt"

	"grimm.is/brcompat/internal/result"
)

// Legacy bridge ioctl request codes.
const (
	SIOCGIFBR      uint32 = 0x8940
	SIOCSIFBR      uint32 = 0x8941
	SIOCBRADDBR    uint32 = 0x89a0
	SIOCBRDELBR    uint32 = 0x89a1
	SIOCBRADDIF    uint32 = 0x89a2
	SIOCBRDELIF    uint32 = 0x89a3
	SIOCDEVPRIVATE uint32 = 0x89f0
)

// BRCTL operation codes carried in the first positional argument.
const (
	BRCTLGetVersion    uint64 = 0
	BRCTLGetBridges    uint64 = 1
	BRCTLAddBridge     uint64 = 2
	BRCTLDelBridge     uint64 = 3
	BRCTLAddIf         uint64 = 4
	BRCTLDelIf         uint64 = 5
	BRCTLGetBridgeInfo uint64 = 6
	BRCTLGetPortList   uint64 = 7
	BRCTLGetFDBEntries uint64 = 18
)

// Call is one legacy control request with its positional arguments already
// copied in.
type Call struct {
	// Cmd is the SIOC* request code.
	Cmd uint32
	// Args are the positional arguments of SIOCGIFBR, SIOCSIFBR and
	// SIOCDEVPRIVATE; Args[0] selects the BRCTL operation.
	Args [4]uint64
	// Name is the bridge name argument of bridge add and delete.
	Name string
	// Dev is the device a per-device request was issued on.
	Dev string
	// IfIndex is the port index of SIOCBRADDIF and SIOCBRDELIF.
	IfIndex int
}

// Mutating reports whether c changes bridge state. These are the requests
// that need administrative rights.
func (c Call) Mutating() bool {
	switch c.Cmd {
	case SIOCBRADDBR, SIOCBRDELBR, SIOCBRADDIF, SIOCBRDELIF:
		return true
	case SIOCGIFBR, SIOCSIFBR:
		return c.Args[0] == BRCTLAddBridge || c.Args[0] == BRCTLDelBridge
	case SIOCDEVPRIVATE:
		return c.Args[0] == BRCTLAddIf || c.Args[0] == BRCTLDelIf
	}
	return false
}

// Result is the outcome of a legacy call. Ret is a non-negative count or
// size on success and a negative errno on failure; the payload fields carry
// what would be copied back out.
type Result struct {
	Ret     int
	Indices []int32
	FDB     []result.FDBEntry
	Info    *result.BridgeInfo
}

// Dispatch decodes a legacy request and runs the matching operation.
// Unknown request or operation codes fail with EOPNOTSUPP and send nothing.
func (s *Service) Dispatch(ctx context.Context, c Call) Result {
	switch c.Cmd {
	case SIOCGIFBR, SIOCSIFBR:
		return s.deviceless(ctx, c)
	case SIOCBRADDBR:
		return status(s.AddBridge(ctx, c.Name))
	case SIOCBRDELBR:
		return status(s.DelBridge(ctx, c.Name))
	case SIOCDEVPRIVATE:
		return s.devicePrivate(ctx, c)
	case SIOCBRADDIF:
		return s.onDevice(c, func(dev string) Result { return status(s.AddPort(ctx, dev, c.IfIndex)) })
	case SIOCBRDELIF:
		return s.onDevice(c, func(dev string) Result { return status(s.DelPort(ctx, dev, c.IfIndex)) })
	}
	return status(fmt.Errorf("ioctl %#x: %w", c.Cmd, ErrNotSupported))
}

func (s *Service) deviceless(ctx context.Context, c Call) Result {
	switch c.Args[0] {
	case BRCTLGetBridges:
		indices, err := s.GetBridges(ctx, argInt(c.Args[2]))
		return count(indices, err)
	case BRCTLAddBridge:
		return status(s.AddBridge(ctx, c.Name))
	case BRCTLDelBridge:
		return status(s.DelBridge(ctx, c.Name))
	}
	return status(fmt.Errorf("deviceless op %d: %w", c.Args[0], ErrNotSupported))
}

func (s *Service) devicePrivate(ctx context.Context, c Call) Result {
	return s.onDevice(c, func(dev string) Result {
		switch c.Args[0] {
		case BRCTLAddIf:
			return status(s.AddPort(ctx, dev, argInt(c.Args[1])))
		case BRCTLDelIf:
			return status(s.DelPort(ctx, dev, argInt(c.Args[1])))
		case BRCTLGetBridgeInfo:
			info, err := s.GetBridgeInfo(ctx, dev)
			if err != nil {
				return status(err)
			}
			return Result{Info: &info}
		case BRCTLGetPortList:
			indices, err := s.GetPortList(ctx, dev, argInt(c.Args[2]))
			return count(indices, err)
		case BRCTLGetFDBEntries:
			entries, err := s.GetFDBEntries(ctx, dev, c.Args[2], c.Args[3])
			if err != nil {
				return status(err)
			}
			return Result{Ret: len(entries), FDB: entries}
		}
		return status(fmt.Errorf("device op %d: %w", c.Args[0], ErrNotSupported))
	})
}

func (s *Service) onDevice(c Call, fn func(dev string) Result) Result {
	if c.Dev == "" {
		return status(fmt.Errorf("no device: %w", ErrInvalidArgument))
	}
	return fn(c.Dev)
}

// argInt narrows a positional argument to a C int.
func argInt(v uint64) int {
	return int(int32(v))
}

func status(err error) Result {
	return Result{Ret: Ret(err)}
}

func count(indices []int32, err error) Result {
	if err != nil {
		return status(err)
	}
	return Result{Ret: len(indices), Indices: indices}
}
