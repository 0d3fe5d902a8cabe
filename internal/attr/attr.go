// Package attr encodes and decodes the tagged, typed attributes carried by
// control channel messages.
//
// Attributes use netlink TLV framing (github.com/mdlayher/netlink). Values are
// NUL-terminated strings, 32- and 64-bit unsigned integers in host byte order,
// or opaque byte blobs. Decoding is driven by a Policy that declares the type
// of every recognized tag and whether it must be present.
package attr

import (
	"errors"
	"fmt"

	"github.com/mdlayher/netlink"
)

var (
	// ErrMissing is returned when a mandatory attribute is absent.
	ErrMissing = errors.New("mandatory attribute missing")
	// ErrType is returned when a value does not match its declared type.
	ErrType = errors.New("attribute type mismatch")
	// ErrTruncated is returned when the attribute stream is cut short or malformed.
	ErrTruncated = errors.New("attribute stream truncated")
)

// Type is the declared wire type of an attribute.
type Type uint8

const (
	// TypeBlob is an opaque, variable-length byte string.
	TypeBlob Type = iota
	// TypeString is a NUL-terminated string.
	TypeString
	// TypeU32 is an unsigned 32-bit integer.
	TypeU32
	// TypeU64 is an unsigned 64-bit integer.
	TypeU64
)

func (t Type) String() string {
	switch t {
	case TypeBlob:
		return "blob"
	case TypeString:
		return "string"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Attr is a single typed attribute. Value must be a string, uint32, uint64
// or []byte.
type Attr struct {
	Tag   uint16
	Value any
}

// String returns a string attribute.
func String(tag uint16, s string) Attr { return Attr{Tag: tag, Value: s} }

// Uint32 returns a 32-bit attribute.
func Uint32(tag uint16, v uint32) Attr { return Attr{Tag: tag, Value: v} }

// Uint64 returns a 64-bit attribute.
func Uint64(tag uint16, v uint64) Attr { return Attr{Tag: tag, Value: v} }

// Bytes returns an opaque blob attribute.
func Bytes(tag uint16, b []byte) Attr { return Attr{Tag: tag, Value: b} }

// Type reports the wire type implied by the attribute's Go value.
func (a Attr) Type() (Type, error) {
	switch a.Value.(type) {
	case string:
		return TypeString, nil
	case uint32:
		return TypeU32, nil
	case uint64:
		return TypeU64, nil
	case []byte:
		return TypeBlob, nil
	}
	return 0, fmt.Errorf("attribute %d: unsupported value %T: %w", a.Tag, a.Value, ErrType)
}

// Encoder appends attributes to a message payload.
type Encoder struct {
	ae *netlink.AttributeEncoder
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{ae: netlink.NewAttributeEncoder()}
}

// Put appends one attribute.
func (e *Encoder) Put(a Attr) error {
	switch v := a.Value.(type) {
	case string:
		e.ae.String(a.Tag, v)
	case uint32:
		e.ae.Uint32(a.Tag, v)
	case uint64:
		e.ae.Uint64(a.Tag, v)
	case []byte:
		e.ae.Bytes(a.Tag, v)
	default:
		return fmt.Errorf("attribute %d: unsupported value %T: %w", a.Tag, a.Value, ErrType)
	}
	return nil
}

// Encode returns the encoded attribute stream.
func (e *Encoder) Encode() ([]byte, error) {
	return e.ae.Encode()
}

// Encode encodes attrs in order into a single payload.
func Encode(attrs ...Attr) ([]byte, error) {
	e := NewEncoder()
	for _, a := range attrs {
		if err := e.Put(a); err != nil {
			return nil, err
		}
	}
	return e.Encode()
}
