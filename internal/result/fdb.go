package result

import (
	"encoding/binary"
	"fmt"
	"net"

	"grimm.is/brcompat/internal/attr"
	"grimm.is/brcompat/internal/genl"
)

const (
	// FDBEntrySize is the wire size of one forwarding table record.
	FDBEntrySize = 16
	// fdbPage bounds a single forwarding table query.
	fdbPage = 4096
	// MaxFDBEntries is the most records one query may return.
	MaxFDBEntries = fdbPage / FDBEntrySize
)

// FDBEntry is one learned address to port mapping.
//
// Wire layout:
//
//	0..6   MAC address
//	6      port number, low byte
//	7      is-local flag
//	8..12  ageing timer, native endian
//	12     port number, high byte
//	13     padding
//	14..16 unused
type FDBEntry struct {
	MAC     net.HardwareAddr
	PortNo  uint16
	IsLocal bool
	Ageing  uint32
}

// MarshalBinary encodes the entry in wire layout.
func (e FDBEntry) MarshalBinary() ([]byte, error) {
	if len(e.MAC) != 6 {
		return nil, fmt.Errorf("fdb entry: mac of %d bytes", len(e.MAC))
	}
	b := make([]byte, FDBEntrySize)
	copy(b[0:6], e.MAC)
	b[6] = byte(e.PortNo)
	if e.IsLocal {
		b[7] = 1
	}
	binary.NativeEndian.PutUint32(b[8:12], e.Ageing)
	b[12] = byte(e.PortNo >> 8)
	return b, nil
}

// UnmarshalBinary decodes one wire record.
func (e *FDBEntry) UnmarshalBinary(b []byte) error {
	if len(b) != FDBEntrySize {
		return fmt.Errorf("fdb entry of %d bytes: %w", len(b), ErrInvalidResult)
	}
	*e = FDBEntry{
		MAC:     net.HardwareAddr(append([]byte(nil), b[0:6]...)),
		PortNo:  uint16(b[6]) | uint16(b[12])<<8,
		IsLocal: b[7] != 0,
		Ageing:  binary.NativeEndian.Uint32(b[8:12]),
	}
	return nil
}

// ClampFDBCount limits a requested record count to one page of records.
func ClampFDBCount(maxnum uint64) uint64 {
	return min(maxnum, MaxFDBEntries)
}

// FDBEntries decodes a forwarding table reply. maxnum is the count that was
// requested; a record array that is not a whole number of records, or holds
// more than maxnum records, is rejected rather than truncated.
func FDBEntries(attrs attr.Attrs, maxnum uint64) ([]FDBEntry, error) {
	if err := Simple(attrs); err != nil {
		return nil, err
	}

	blob, ok := attrs.Bytes(genl.AttrFDBData)
	if !ok {
		return nil, fmt.Errorf("missing fdb data: %w", ErrInvalidResult)
	}
	if len(blob)%FDBEntrySize != 0 {
		return nil, fmt.Errorf("fdb data of %d bytes: %w", len(blob), ErrInvalidResult)
	}
	count := len(blob) / FDBEntrySize
	if uint64(count) > ClampFDBCount(maxnum) {
		return nil, fmt.Errorf("%d fdb records for %d requested: %w", count, maxnum, ErrInvalidResult)
	}

	out := make([]FDBEntry, count)
	for i := range out {
		if err := out[i].UnmarshalBinary(blob[i*FDBEntrySize : (i+1)*FDBEntrySize]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EncodeFDB packs entries into an FDB_DATA blob.
func EncodeFDB(entries []FDBEntry) ([]byte, error) {
	out := make([]byte, 0, len(entries)*FDBEntrySize)
	for _, e := range entries {
		b, err := e.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// EncodeIndices packs interface indexes into an IFINDEXES blob.
func EncodeIndices(indices []int32) []byte {
	out := make([]byte, 4*len(indices))
	for i, idx := range indices {
		binary.NativeEndian.PutUint32(out[i*4:], uint32(idx))
	}
	return out
}
