package wire

import (
	"bytes"
	"fmt"
	"strings"
)

// Component type numbers (spec §6's wire format; numbering ours, the field
// set spec.md's).
const (
	TypeGenericComponent VarNum = 0x08
	TypeDigestComponent  VarNum = 0x01 // implicit trailing content-digest component
)

// Component is one slash-separated element of a Name.
type Component struct {
	Typ VarNum
	Val []byte
}

func NewGenericComponent(v []byte) Component { return Component{Typ: TypeGenericComponent, Val: v} }
func NewDigestComponent(v []byte) Component  { return Component{Typ: TypeDigestComponent, Val: v} }

func (c Component) String() string {
	return string(c.Val)
}

// Compare orders components the way spec §4.C's name order requires:
// lexicographic byte comparison, type breaking ties so two components with
// identical bytes but different semantics still sort deterministically.
func (c Component) Compare(o Component) int {
	if d := bytes.Compare(c.Val, o.Val); d != 0 {
		return d
	}
	if c.Typ < o.Typ {
		return -1
	} else if c.Typ > o.Typ {
		return 1
	}
	return 0
}

func (c Component) encode(dst []byte) []byte {
	return appendTLV(dst, c.Typ, c.Val)
}

// Name is a hierarchical content name: a sequence of Components, compared
// and ordered component-by-component as spec §4.C requires.
type Name []Component

// Append returns a new Name with c appended.
func (n Name) Append(c ...Component) Name {
	out := make(Name, len(n)+len(c))
	copy(out, n)
	copy(out[len(n):], c)
	return out
}

// Compare implements spec §4.C's name order: component-by-component
// lexicographic comparison, a shorter name that is a strict prefix of a
// longer one sorting first.
func (n Name) Compare(o Name) int {
	for i := 0; i < len(n) && i < len(o); i++ {
		if d := n[i].Compare(o[i]); d != 0 {
			return d
		}
	}
	switch {
	case len(n) < len(o):
		return -1
	case len(n) > len(o):
		return 1
	default:
		return 0
	}
}

func (n Name) Equal(o Name) bool { return n.Compare(o) == 0 }

// IsPrefixOf reports whether n is a (non-strict) prefix of o.
func (n Name) IsPrefixOf(o Name) bool {
	if len(n) > len(o) {
		return false
	}
	for i := range n {
		if n[i].Compare(o[i]) != 0 {
			return false
		}
	}
	return true
}

// Bytes returns the concatenated TLV encoding of every component, used as
// the byte key for the Name-Prefix Table and the Content Store's exact-name
// map (spec §4.D); skiplist ordering uses Name.Compare instead.
func (n Name) Bytes() []byte {
	var buf []byte
	for _, c := range n {
		buf = c.encode(buf)
	}
	return buf
}

func (n Name) String() string {
	parts := make([]string, len(n))
	for i, c := range n {
		parts[i] = c.String()
	}
	return "/" + strings.Join(parts, "/")
}

// NameFromStr parses a slash-separated name string into generic components.
// Supports only plain path components (no URI percent-escaping) since the
// forwarder core never needs to round-trip the pretty-printer form, only
// construct test fixtures and log lines.
func NameFromStr(s string) (Name, error) {
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return Name{}, nil
	}
	parts := strings.Split(s, "/")
	out := make(Name, len(parts))
	for i, p := range parts {
		out[i] = NewGenericComponent([]byte(p))
	}
	return out, nil
}

// DecodeName parses a Name from its concatenated TLV encoding (the inverse
// of Name.Bytes).
func DecodeName(b []byte) (Name, error) {
	var out Name
	for len(b) > 0 {
		el, err := readTLV(b)
		if err != nil {
			return nil, fmt.Errorf("wire: decode name: %w", err)
		}
		out = append(out, Component{Typ: el.typ, Val: el.val})
		b = b[el.consumed:]
	}
	return out, nil
}
