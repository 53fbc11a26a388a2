package wire

import (
	"fmt"
	"time"

	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/optional"
)

// Wire element types for the two top-level message kinds and their fields
// (spec §6). The exact numbering is ours — the spec treats the codec as an
// external library and only names the fields it carries.
const (
	TypeInterest VarNum = 0x01
	TypeContent  VarNum = 0x02

	tInterestName         VarNum = 0x10
	tInterestMinSuffix    VarNum = 0x11
	tInterestMaxSuffix    VarNum = 0x12
	tInterestPubKeyDigest VarNum = 0x13
	tInterestExclude      VarNum = 0x14
	tInterestChildSel     VarNum = 0x15
	tInterestAnswerOrigin VarNum = 0x16
	tInterestScope        VarNum = 0x17
	tInterestLifetime     VarNum = 0x18
	tInterestNonce        VarNum = 0x19
	tExcludeAny           VarNum = 0x1a
	tExcludeComponent     VarNum = 0x1b
)

// lifetimeUnit is the wire fixed-point unit for InterestLifetime and
// SignedInfo.Timestamp: 1/4096 of a second (spec §6).
const lifetimeUnit = time.Second / 4096

// DefaultInterestLifetime is applied when the wire carries no lifetime field.
const DefaultInterestLifetime = 4 * time.Second

// Interest is the decoded form of spec §6's Interest message.
type Interest struct {
	Name                      Name
	MinSuffixComponents       optional.Optional[int]
	MaxSuffixComponents       optional.Optional[int]
	PublisherPublicKeyDigest  []byte
	Exclude                   Exclude
	ChildSelector             defn.ChildSelector
	AnswerOriginKind          defn.AnswerOrigin
	Scope                     optional.Optional[defn.Scope]
	InterestLifetime          time.Duration
	Nonce                     []byte
}

// Encode serializes the Interest to its wire form.
func (it *Interest) Encode() []byte {
	var body []byte
	body = appendTLV(body, tInterestName, it.Name.Bytes())
	if v, ok := it.MinSuffixComponents.Get(); ok {
		body = appendTLV(body, tInterestMinSuffix, encodeUint(uint64(v)))
	}
	if v, ok := it.MaxSuffixComponents.Get(); ok {
		body = appendTLV(body, tInterestMaxSuffix, encodeUint(uint64(v)))
	}
	if len(it.PublisherPublicKeyDigest) > 0 {
		body = appendTLV(body, tInterestPubKeyDigest, it.PublisherPublicKeyDigest)
	}
	if len(it.Exclude) > 0 {
		body = appendTLV(body, tInterestExclude, encodeExclude(it.Exclude))
	}
	body = appendTLV(body, tInterestChildSel, []byte{byte(it.ChildSelector)})
	body = appendTLV(body, tInterestAnswerOrigin, []byte{byte(it.AnswerOriginKind)})
	if v, ok := it.Scope.Get(); ok {
		body = appendTLV(body, tInterestScope, []byte{byte(v)})
	}
	ticks := uint64(it.InterestLifetime / lifetimeUnit)
	body = appendTLV(body, tInterestLifetime, encodeUint(ticks))
	body = appendTLV(body, tInterestNonce, it.Nonce)
	return appendTLV(nil, TypeInterest, body)
}

// DecodeInterest parses an Interest from its full wire encoding (including
// the outer TypeInterest TLV header).
func DecodeInterest(b []byte) (*Interest, error) {
	outer, err := readTLV(b)
	if err != nil {
		return nil, err
	}
	if outer.typ != TypeInterest {
		return nil, fmt.Errorf("%w: not an Interest", defn.ErrMalformed)
	}
	it := &Interest{
		InterestLifetime: DefaultInterestLifetime,
	}
	rest := outer.val
	for len(rest) > 0 {
		el, err := readTLV(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", defn.ErrMalformed, err)
		}
		switch el.typ {
		case tInterestName:
			name, err := DecodeName(el.val)
			if err != nil {
				return nil, err
			}
			it.Name = name
		case tInterestMinSuffix:
			it.MinSuffixComponents = optional.Some(int(decodeUint(el.val)))
		case tInterestMaxSuffix:
			it.MaxSuffixComponents = optional.Some(int(decodeUint(el.val)))
		case tInterestPubKeyDigest:
			it.PublisherPublicKeyDigest = append([]byte(nil), el.val...)
		case tInterestExclude:
			ex, err := decodeExclude(el.val)
			if err != nil {
				return nil, err
			}
			it.Exclude = ex
		case tInterestChildSel:
			if len(el.val) != 1 {
				return nil, defn.ErrMalformed
			}
			it.ChildSelector = defn.ChildSelector(el.val[0])
		case tInterestAnswerOrigin:
			if len(el.val) != 1 {
				return nil, defn.ErrMalformed
			}
			it.AnswerOriginKind = defn.AnswerOrigin(el.val[0])
		case tInterestScope:
			if len(el.val) != 1 {
				return nil, defn.ErrMalformed
			}
			it.Scope = optional.Some(defn.Scope(el.val[0]))
		case tInterestLifetime:
			it.InterestLifetime = time.Duration(decodeUint(el.val)) * lifetimeUnit
		case tInterestNonce:
			it.Nonce = append([]byte(nil), el.val...)
		}
		rest = rest[el.consumed:]
	}
	if it.Name == nil {
		return nil, fmt.Errorf("%w: interest missing Name", defn.ErrMalformed)
	}
	if it.AnswerOriginKind == 0 {
		it.AnswerOriginKind = defn.DefaultAnswerOrigin()
	}
	return it, nil
}

func encodeExclude(ex Exclude) []byte {
	var buf []byte
	for _, e := range ex {
		if e.Any {
			buf = appendTLV(buf, tExcludeAny, nil)
		} else {
			buf = appendTLV(buf, tExcludeComponent, e.Comp.encode(nil))
		}
	}
	return buf
}

func decodeExclude(b []byte) (Exclude, error) {
	var out Exclude
	for len(b) > 0 {
		el, err := readTLV(b)
		if err != nil {
			return nil, err
		}
		switch el.typ {
		case tExcludeAny:
			out = append(out, ExcludeElement{Any: true})
		case tExcludeComponent:
			comp, err := readTLV(el.val)
			if err != nil {
				return nil, err
			}
			out = append(out, ExcludeElement{Comp: Component{Typ: comp.typ, Val: comp.val}})
		}
		b = b[el.consumed:]
	}
	return out, nil
}

func encodeUint(v uint64) []byte {
	var buf [8]byte
	n := 0
	for shift := 56; shift >= 0; shift -= 8 {
		if v>>uint(shift) != 0 || n > 0 {
			buf[n] = byte(v >> uint(shift))
			n++
		}
	}
	if n == 0 {
		return []byte{0}
	}
	return buf[:n]
}

func decodeUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// GenerateNonce synthesizes an opaque 4-byte Nonce for an Interest that
// arrived without one (spec §4.E step 3).
func GenerateNonce(randSource func([]byte)) []byte {
	b := make([]byte, 4)
	randSource(b)
	return b
}
