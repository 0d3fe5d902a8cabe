package attr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tagName  uint16 = 1
	tagPort  uint16 = 2
	tagCode  uint16 = 3
	tagCount uint16 = 9
	tagBlob  uint16 = 11
)

var testPolicy = Policy{
	tagName:  {Type: TypeString, MaxLen: 16},
	tagPort:  {Type: TypeString, MaxLen: 16},
	tagCode:  {Type: TypeU32, Mandatory: true},
	tagCount: {Type: TypeU64},
	tagBlob:  {Type: TypeBlob},
}

func TestRoundTrip(t *testing.T) {
	in := []Attr{
		String(tagName, "br0"),
		String(tagPort, "eth1"),
		Uint32(tagCode, 17),
		Uint64(tagCount, 1<<40),
		Bytes(tagBlob, []byte{1, 2, 3, 4, 5}),
	}

	b, err := Encode(in...)
	require.NoError(t, err)

	got, err := Decode(b, testPolicy)
	require.NoError(t, err)
	assert.Equal(t, in, got.List())

	name, ok := got.String(tagName)
	assert.True(t, ok)
	assert.Equal(t, "br0", name)

	code, ok := got.Uint32(tagCode)
	assert.True(t, ok)
	assert.Equal(t, uint32(17), code)

	_, ok = got.Uint64(tagCode)
	assert.False(t, ok, "u32 attribute must not read back as u64")
}

func TestDecode_MissingMandatory(t *testing.T) {
	b, err := Encode(String(tagName, "br0"))
	require.NoError(t, err)

	_, err = Decode(b, testPolicy)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestDecode_EmptyPayload(t *testing.T) {
	_, err := Decode(nil, testPolicy)
	assert.ErrorIs(t, err, ErrMissing)

	got, err := Decode(nil, Policy{tagName: {Type: TypeString}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecode_TypeMismatch(t *testing.T) {
	tests := []struct {
		name  string
		attrs []Attr
	}{
		{"u64 where u32 declared", []Attr{Uint64(tagCode, 1)}},
		{"u32 where u64 declared", []Attr{Uint32(tagCode, 0), Uint32(tagCount, 1)}},
		{"string without terminator", []Attr{Uint32(tagCode, 0), Bytes(tagName, []byte("br0"))}},
		{"string over max length", []Attr{Uint32(tagCode, 0), String(tagName, "a-very-long-bridge-name")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.attrs...)
			require.NoError(t, err)

			_, err = Decode(b, testPolicy)
			assert.ErrorIs(t, err, ErrType)
		})
	}
}

func TestDecode_Truncated(t *testing.T) {
	b, err := Encode(Uint32(tagCode, 0), String(tagName, "bridge0"))
	require.NoError(t, err)

	for _, cut := range []int{2, len(b) - 2} {
		_, err := Decode(b[:cut], testPolicy)
		assert.ErrorIs(t, err, ErrTruncated, "cut at %d", cut)
	}
}

func TestDecode_UnknownTagsSkipped(t *testing.T) {
	b, err := Encode(Uint32(tagCode, 0), String(42, "ignored"))
	require.NoError(t, err)

	got, err := Decode(b, testPolicy)
	require.NoError(t, err)
	assert.False(t, got.Has(42))
	assert.True(t, got.Has(tagCode))
}

func TestEncode_UnsupportedValue(t *testing.T) {
	_, err := Encode(Attr{Tag: tagName, Value: 3.14})
	assert.True(t, errors.Is(err, ErrType))

	_, err = Attr{Tag: tagName, Value: int(1)}.Type()
	assert.ErrorIs(t, err, ErrType)
}

func TestPolicyMerge(t *testing.T) {
	base := Policy{tagCode: {Type: TypeU32}}
	merged := base.Merge(Policy{tagCode: {Type: TypeU32, Mandatory: true}, tagBlob: {Type: TypeBlob}})

	assert.False(t, base[tagCode].Mandatory, "Merge must not modify the receiver")
	assert.True(t, merged[tagCode].Mandatory)
	assert.Contains(t, merged, tagBlob)
}
