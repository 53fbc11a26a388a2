// Package wire implements the TLV-based wire format spec.md §6 describes as
// "assumed available as a library": Name/Component encode-decode, the
// Interest and Content Object message shapes, and the fast-exclude-relevant
// Exclude structure. Grounded on the teacher's std/encoding package (TLNum
// variable-length numbers, Buffer/Wire byte handling) adapted to the
// CCNx-style field set spec.md names rather than ndnd's own NDN-TLV types.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// VarNum is a TLV type-or-length field using the same variable-width
// encoding as the teacher's encoding.TLNum: 1 byte up to 0xfc, then a
// marker byte (0xfd/0xfe/0xff) followed by a fixed-width big-endian value.
type VarNum uint64

func (v VarNum) encodingLength() int {
	switch x := uint64(v); {
	case x <= 0xfc:
		return 1
	case x <= 0xffff:
		return 3
	case x <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

func (v VarNum) encodeInto(buf []byte) int {
	switch x := uint64(v); {
	case x <= 0xfc:
		buf[0] = byte(x)
		return 1
	case x <= 0xffff:
		buf[0] = 0xfd
		binary.BigEndian.PutUint16(buf[1:], uint16(x))
		return 3
	case x <= 0xffffffff:
		buf[0] = 0xfe
		binary.BigEndian.PutUint32(buf[1:], uint32(x))
		return 5
	default:
		buf[0] = 0xff
		binary.BigEndian.PutUint64(buf[1:], x)
		return 9
	}
}

// readVarNum reads a VarNum from the front of b, returning the value and the
// number of bytes consumed.
func readVarNum(b []byte) (VarNum, int, error) {
	if len(b) < 1 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	switch b[0] {
	case 0xfd:
		if len(b) < 3 {
			return 0, 0, io.ErrUnexpectedEOF
		}
		return VarNum(binary.BigEndian.Uint16(b[1:3])), 3, nil
	case 0xfe:
		if len(b) < 5 {
			return 0, 0, io.ErrUnexpectedEOF
		}
		return VarNum(binary.BigEndian.Uint32(b[1:5])), 5, nil
	case 0xff:
		if len(b) < 9 {
			return 0, 0, io.ErrUnexpectedEOF
		}
		return VarNum(binary.BigEndian.Uint64(b[1:9])), 9, nil
	default:
		return VarNum(b[0]), 1, nil
	}
}

// tlvElement is one decoded (type, value) pair plus how many bytes it
// consumed from the source buffer.
type tlvElement struct {
	typ      VarNum
	val      []byte
	consumed int
}

func readTLV(b []byte) (tlvElement, error) {
	typ, n1, err := readVarNum(b)
	if err != nil {
		return tlvElement{}, err
	}
	length, n2, err := readVarNum(b[n1:])
	if err != nil {
		return tlvElement{}, err
	}
	start := n1 + n2
	end := start + int(length)
	if end > len(b) {
		return tlvElement{}, io.ErrUnexpectedEOF
	}
	return tlvElement{typ: typ, val: b[start:end], consumed: end}, nil
}

func appendTLV(dst []byte, typ VarNum, val []byte) []byte {
	var hdr [18]byte
	n1 := typ.encodeInto(hdr[:])
	n2 := VarNum(len(val)).encodeInto(hdr[n1:])
	dst = append(dst, hdr[:n1+n2]...)
	return append(dst, val...)
}

// ReadTlvStream reads successive complete TLV elements from r, invoking
// onFrame for each one's raw bytes (including its own type/length header),
// leaving any partial trailing element buffered. Grounded on the teacher's
// std/utils/io.ReadTlvStream: the streaming skeleton decoder spec §4.B's
// face input path names.
func ReadTlvStream(r io.Reader, onFrame func([]byte) bool, onErr func(error) bool) error {
	buf := make([]byte, 0, 8192)
	tmp := make([]byte, 8192)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				el, derr := readTLV(buf)
				if derr != nil {
					break // incomplete element; wait for more bytes
				}
				if !onFrame(buf[:el.consumed]) {
					return nil
				}
				buf = buf[el.consumed:]
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if onErr != nil && onErr(err) {
				continue
			}
			return err
		}
	}
}

// Sniff reports whether b contains at least one complete TLV element and,
// if so, its length.
func Sniff(b []byte) (int, bool) {
	el, err := readTLV(b)
	if err != nil {
		return 0, false
	}
	return el.consumed, true
}

var ErrShort = fmt.Errorf("wire: short buffer")

// PeekType returns a complete frame's outer TLV type (TypeInterest or
// TypeContent) without decoding its body, so the event loop can dispatch
// to the right engine before paying for a full decode (spec §4.A step 5).
func PeekType(b []byte) (VarNum, error) {
	el, err := readTLV(b)
	if err != nil {
		return 0, err
	}
	return el.typ, nil
}
