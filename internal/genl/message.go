package genl

import (
	"errors"
	"fmt"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
)

// DefaultFamilyID is the netlink message type used for the family when no
// id has been configured. Generic netlink assigns ids at or above 0x10.
const DefaultFamilyID uint16 = 0x20

// MaxMessageSize bounds a single encoded message.
const MaxMessageSize = 64 * 1024

const (
	nlmsgHeaderLen = 16
	genlHeaderLen  = 4
)

// ErrTooLarge is returned when an encoded message exceeds MaxMessageSize.
var ErrTooLarge = errors.New("message too large")

// Message is one framed control channel message: a netlink header carrying
// the family and correlation sequence, a generic netlink header carrying the
// command, and the encoded attribute payload.
type Message struct {
	Family   uint16
	Command  Command
	Sequence uint32
	PID      uint32
	Payload  []byte
}

// MarshalBinary frames the message for the wire.
func (m Message) MarshalBinary() ([]byte, error) {
	gm := genetlink.Message{
		Header: genetlink.Header{
			Command: uint8(m.Command),
			Version: Version,
		},
		Data: m.Payload,
	}
	data, err := gm.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal genl header: %w", err)
	}

	length := align(nlmsgHeaderLen + len(data))
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%s message of %d bytes: %w", m.Command, length, ErrTooLarge)
	}
	data = append(data, make([]byte, length-nlmsgHeaderLen-len(data))...)

	nm := netlink.Message{
		Header: netlink.Header{
			Length:   uint32(length),
			Type:     netlink.HeaderType(m.Family),
			Sequence: m.Sequence,
			PID:      m.PID,
		},
		Data: data,
	}
	return nm.MarshalBinary()
}

// UnmarshalBinary parses a framed message.
func (m *Message) UnmarshalBinary(b []byte) error {
	var nm netlink.Message
	if err := nm.UnmarshalBinary(b); err != nil {
		return fmt.Errorf("parse netlink header: %w", err)
	}
	if len(nm.Data) < genlHeaderLen {
		return fmt.Errorf("parse genl header: %d bytes", len(nm.Data))
	}

	var gm genetlink.Message
	if err := gm.UnmarshalBinary(nm.Data); err != nil {
		return fmt.Errorf("parse genl header: %w", err)
	}

	*m = Message{
		Family:   uint16(nm.Header.Type),
		Command:  Command(gm.Header.Command),
		Sequence: nm.Header.Sequence,
		PID:      nm.Header.PID,
		Payload:  gm.Data,
	}
	return nil
}

func align(n int) int {
	return (n + 3) &^ 3
}
