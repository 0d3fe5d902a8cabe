package attr

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mdlayher/netlink"
)

// Rule describes one recognized attribute.
type Rule struct {
	Type      Type
	Mandatory bool
	// MaxLen bounds the payload length of strings (including the NUL) and
	// blobs. Zero means unbounded.
	MaxLen int
}

// Policy maps attribute tags to their rules. Tags absent from the policy are
// skipped on decode.
type Policy map[uint16]Rule

// Merge returns a new policy holding p's rules overlaid with other's.
func (p Policy) Merge(other Policy) Policy {
	out := make(Policy, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Attrs is a decoded attribute set: tag to typed value.
type Attrs map[uint16]any

// Has reports whether tag is present.
func (a Attrs) Has(tag uint16) bool {
	_, ok := a[tag]
	return ok
}

// String returns a string attribute.
func (a Attrs) String(tag uint16) (string, bool) {
	v, ok := a[tag].(string)
	return v, ok
}

// Uint32 returns a 32-bit attribute.
func (a Attrs) Uint32(tag uint16) (uint32, bool) {
	v, ok := a[tag].(uint32)
	return v, ok
}

// Uint64 returns a 64-bit attribute.
func (a Attrs) Uint64(tag uint16) (uint64, bool) {
	v, ok := a[tag].(uint64)
	return v, ok
}

// Bytes returns a blob attribute.
func (a Attrs) Bytes(tag uint16) ([]byte, bool) {
	v, ok := a[tag].([]byte)
	return v, ok
}

// List returns the attributes ordered by tag.
func (a Attrs) List() []Attr {
	tags := make([]int, 0, len(a))
	for t := range a {
		tags = append(tags, int(t))
	}
	sort.Ints(tags)
	out := make([]Attr, 0, len(tags))
	for _, t := range tags {
		out = append(out, Attr{Tag: uint16(t), Value: a[uint16(t)]})
	}
	return out
}

// Decode parses an attribute stream against policy.
//
// It fails with ErrTruncated if the stream is malformed, ErrType if a value's
// size or terminator does not fit its declared type, and ErrMissing if a
// mandatory tag is absent. A repeated tag keeps its last value.
func Decode(b []byte, policy Policy) (Attrs, error) {
	out := make(Attrs)
	if len(b) > 0 {
		ad, err := netlink.NewAttributeDecoder(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		for ad.Next() {
			rule, ok := policy[ad.Type()]
			if !ok {
				continue
			}
			v, err := decodeValue(ad, rule)
			if err != nil {
				return nil, err
			}
			out[ad.Type()] = v
		}
		if err := ad.Err(); err != nil {
			if errors.Is(err, ErrType) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
	}

	for tag, rule := range policy {
		if rule.Mandatory && !out.Has(tag) {
			return nil, fmt.Errorf("attribute %d: %w", tag, ErrMissing)
		}
	}
	return out, nil
}

func decodeValue(ad *netlink.AttributeDecoder, rule Rule) (any, error) {
	tag, n := ad.Type(), ad.Len()
	if rule.MaxLen > 0 && n > rule.MaxLen {
		return nil, fmt.Errorf("attribute %d: %s of %d bytes exceeds %d: %w", tag, rule.Type, n, rule.MaxLen, ErrType)
	}

	switch rule.Type {
	case TypeU32:
		if n != 4 {
			return nil, fmt.Errorf("attribute %d: u32 with length %d: %w", tag, n, ErrType)
		}
		return ad.Uint32(), nil
	case TypeU64:
		if n != 8 {
			return nil, fmt.Errorf("attribute %d: u64 with length %d: %w", tag, n, ErrType)
		}
		return ad.Uint64(), nil
	case TypeString:
		raw := ad.Bytes()
		if len(raw) == 0 || raw[len(raw)-1] != 0 {
			return nil, fmt.Errorf("attribute %d: string not NUL-terminated: %w", tag, ErrType)
		}
		return ad.String(), nil
	case TypeBlob:
		return ad.Bytes(), nil
	}
	return nil, fmt.Errorf("attribute %d: unknown policy type %s: %w", tag, rule.Type, ErrType)
}
