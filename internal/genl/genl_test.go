package genl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/brcompat/internal/attr"
)

func TestMessageRoundTrip(t *testing.T) {
	req := &Request{
		Command: CmdFDBQuery,
		Bridge:  "br0",
		Extra: []attr.Attr{
			attr.Uint64(AttrFDBCount, 256),
			attr.Uint64(AttrFDBSkip, 12),
		},
	}
	payload, err := req.Encode()
	require.NoError(t, err)

	in := Message{
		Family:   DefaultFamilyID,
		Command:  req.Command,
		Sequence: 0xdeadbeef,
		PID:      42,
		Payload:  payload,
	}
	b, err := in.MarshalBinary()
	require.NoError(t, err)
	assert.Zero(t, len(b)%4, "framed message must be 4-byte aligned")

	var out Message
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, in.Family, out.Family)
	assert.Equal(t, in.Command, out.Command)
	assert.Equal(t, in.Sequence, out.Sequence)
	assert.Equal(t, in.PID, out.PID)

	attrs, err := attr.Decode(out.Payload, RequestPolicy)
	require.NoError(t, err)
	name, _ := attrs.String(AttrDPName)
	count, _ := attrs.Uint64(AttrFDBCount)
	skip, _ := attrs.Uint64(AttrFDBSkip)
	assert.Equal(t, "br0", name)
	assert.Equal(t, uint64(256), count)
	assert.Equal(t, uint64(12), skip)
	assert.False(t, attrs.Has(AttrPortName))
}

func TestMessage_Unmarshal_Short(t *testing.T) {
	var m Message
	assert.Error(t, m.UnmarshalBinary([]byte{1, 2, 3}))

	// A bare netlink header with no generic netlink header behind it.
	b, err := Message{Family: DefaultFamilyID}.MarshalBinary()
	require.NoError(t, err)
	assert.Error(t, m.UnmarshalBinary(b[:16]))
}

func TestMessage_TooLarge(t *testing.T) {
	big := attr.Bytes(AttrFDBData, make([]byte, MaxMessageSize))
	payload, err := attr.Encode(big)
	require.NoError(t, err)

	_, err = Message{Command: CmdDPResult, Payload: payload}.MarshalBinary()
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestRequestAttributes(t *testing.T) {
	req := &Request{Command: CmdPortAdd, Bridge: "br0", Port: "eth0"}
	got := req.Attributes()
	require.Len(t, got, 2)
	assert.Equal(t, attr.String(AttrDPName, "br0"), got[0])
	assert.Equal(t, attr.String(AttrPortName, "eth0"), got[1])

	assert.Empty(t, (&Request{Command: CmdGetBridges}).Attributes())
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "dp_result", CmdDPResult.String())
	assert.True(t, strings.HasPrefix(Command(99).String(), "cmd("))
}
