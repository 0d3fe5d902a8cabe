package result

import (
	"encoding/binary"
	"fmt"
	"net"
)

// BridgeInfo is the bridge description returned by get-bridge-info.
type BridgeInfo struct {
	BridgeID   uint64
	STPEnabled bool
}

// BridgeIDFromMAC packs a 6-byte hardware address big-endian into the low
// 48 bits of a bridge id.
func BridgeIDFromMAC(mac net.HardwareAddr) (uint64, error) {
	if len(mac) != 6 {
		return 0, fmt.Errorf("bridge address of %d bytes: %w", len(mac), ErrInvalidResult)
	}
	var id uint64
	for _, b := range mac {
		id = id<<8 | uint64(b)
	}
	return id, nil
}

// NewBridgeInfo describes a bridge with the given address. Spanning tree is
// never enabled.
func NewBridgeInfo(mac net.HardwareAddr) (BridgeInfo, error) {
	id, err := BridgeIDFromMAC(mac)
	if err != nil {
		return BridgeInfo{}, err
	}
	return BridgeInfo{BridgeID: id}, nil
}

// WireID returns the bridge id in network byte order.
func (b BridgeInfo) WireID() [8]byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], b.BridgeID)
	return out
}

func (b BridgeInfo) String() string {
	id := b.WireID()
	return fmt.Sprintf("%02x%02x.%02x%02x%02x%02x%02x%02x", id[0], id[1], id[2], id[3], id[4], id[5], id[6], id[7])
}
