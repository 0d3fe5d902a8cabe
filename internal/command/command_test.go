package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/brcompat/internal/attr"
	"grimm.is/brcompat/internal/genl"
)

func decode(t *testing.T, req *genl.Request, policy attr.Policy) attr.Attrs {
	t.Helper()
	payload, err := req.Encode()
	require.NoError(t, err)
	attrs, err := attr.Decode(payload, policy)
	require.NoError(t, err)
	return attrs
}

func TestEncoders(t *testing.T) {
	tests := []struct {
		name    string
		req     *genl.Request
		command genl.Command
		bridge  string
		port    string
	}{
		{"add bridge", AddBridge("br0"), genl.CmdDPAdd, "br0", ""},
		{"del bridge", DelBridge("br0"), genl.CmdDPDel, "br0", ""},
		{"add port", AddPort("br0", "eth0"), genl.CmdPortAdd, "br0", "eth0"},
		{"del port", DelPort("br0", "eth1"), genl.CmdPortDel, "br0", "eth1"},
		{"get bridges", GetBridges(), genl.CmdGetBridges, "", ""},
		{"get ports", GetPorts("br1"), genl.CmdGetPorts, "br1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.command, tt.req.Command)
			attrs := decode(t, tt.req, genl.RequestPolicy)

			bridge, ok := attrs.String(genl.AttrDPName)
			assert.Equal(t, tt.bridge != "", ok)
			assert.Equal(t, tt.bridge, bridge)

			port, ok := attrs.String(genl.AttrPortName)
			assert.Equal(t, tt.port != "", ok)
			assert.Equal(t, tt.port, port)
		})
	}
}

func TestFDBQuery(t *testing.T) {
	req := FDBQuery("br0", 256, 1024)
	assert.Equal(t, genl.CmdFDBQuery, req.Command)

	attrs := decode(t, req, genl.RequestPolicy)
	count, _ := attrs.Uint64(genl.AttrFDBCount)
	skip, _ := attrs.Uint64(genl.AttrFDBSkip)
	assert.Equal(t, uint64(256), count)
	assert.Equal(t, uint64(1024), skip)
}

func TestIfNameTruncated(t *testing.T) {
	long := "averyveryverylongbridgename"
	req := AddPort(long, long)

	assert.Len(t, req.Bridge, genl.IFNAMSIZ-1)
	assert.Equal(t, long[:15], req.Port)
	// Truncated names still fit the receiving policy.
	decode(t, req, genl.RequestPolicy)

	assert.Equal(t, "br0", IfName("br0"))
}

func TestSetProc(t *testing.T) {
	attrs := decode(t, SetProc("net/brcompat", "stp", "disabled"), genl.SetProcPolicy)
	data, ok := attrs.String(genl.AttrProcData)
	assert.True(t, ok)
	assert.Equal(t, "disabled", data)

	attrs = decode(t, SetProc("net/brcompat", "stp", ""), genl.SetProcPolicy)
	assert.False(t, attrs.Has(genl.AttrProcData))
}

func TestResult(t *testing.T) {
	payload, err := attr.Encode(Result(17)...)
	require.NoError(t, err)
	attrs, err := attr.Decode(payload, genl.ResultPolicy)
	require.NoError(t, err)
	code, _ := attrs.Uint32(genl.AttrErrCode)
	assert.Equal(t, uint32(17), code)

	got := MCGroup(9)
	require.Len(t, got, 1)
	assert.Equal(t, genl.AttrMCGroup, got[0].Tag)
}
