package mgmt

import (
	"encoding/binary"
	"fmt"

	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/table"
	"github.com/ccnd-go/ccnd/internal/wire"
)

// The management ARG payload (spec §6: "a signed request payload") is
// opaque to everything outside this package, so it gets its own minimal
// length-prefixed codec rather than reusing the Interest/Content wire
// format those TLV types are reserved for. Grounded on the teacher's
// mgmt_2022 ControlParameters shape (a flat, versioned field list) kept
// intentionally simpler since this daemon's ARG is single-purpose per
// verb rather than one shared parameter bag.

func putString(dst []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, s...)
}

func getString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("mgmt: truncated string length")
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return "", nil, fmt.Errorf("mgmt: truncated string body")
	}
	return string(b[:n]), b[n:], nil
}

func putBytes(dst []byte, v []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(v)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, v...)
}

func getBytes(b []byte) ([]byte, []byte, error) {
	if len(b) < 2 {
		return nil, nil, fmt.Errorf("mgmt: truncated bytes length")
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return nil, nil, fmt.Errorf("mgmt: truncated bytes body")
	}
	return append([]byte(nil), b[:n]...), b[n:], nil
}

func putUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func getUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("mgmt: truncated uint32")
	}
	return binary.BigEndian.Uint32(b), b[4:], nil
}

// FaceInstance is spec §6's newface ARG: "protocol (UDP/TCP), address,
// port". The same shape is used for newface and destroyface requests and
// replies. FaceID is set on replies and on destroyface requests, left zero
// on a newface request.
type FaceInstance struct {
	Protocol string
	Address  string
	Port     uint16
	FaceID   defn.FaceID
}

func (fi *FaceInstance) Encode() []byte {
	var b []byte
	b = putString(b, fi.Protocol)
	b = putString(b, fi.Address)
	b = putUint32(b, uint32(fi.Port))
	b = putUint32(b, uint32(fi.FaceID))
	return b
}

func decodeFaceInstance(b []byte) (*FaceInstance, error) {
	proto, b, err := getString(b)
	if err != nil {
		return nil, err
	}
	addr, b, err := getString(b)
	if err != nil {
		return nil, err
	}
	port, b, err := getUint32(b)
	if err != nil {
		return nil, err
	}
	faceID, _, err := getUint32(b)
	if err != nil {
		return nil, err
	}
	return &FaceInstance{Protocol: proto, Address: addr, Port: uint16(port), FaceID: defn.FaceID(faceID)}, nil
}

// PrefixEntry is spec §6's prefixreg/selfreg/unreg ARG: a prefix, the
// target face, forwarding flags and a lifetime in seconds.
type PrefixEntry struct {
	Prefix   wire.Name
	FaceID   defn.FaceID
	Flags    table.FibFlags
	Lifetime int
}

func (pe *PrefixEntry) Encode() []byte {
	var b []byte
	b = putBytes(b, pe.Prefix.Bytes())
	b = putUint32(b, uint32(pe.FaceID))
	b = putUint32(b, uint32(pe.Flags))
	b = putUint32(b, uint32(pe.Lifetime))
	return b
}

func decodePrefixEntry(b []byte) (*PrefixEntry, error) {
	nameBytes, b, err := getBytes(b)
	if err != nil {
		return nil, err
	}
	name, err := wire.DecodeName(nameBytes)
	if err != nil {
		return nil, err
	}
	faceID, b, err := getUint32(b)
	if err != nil {
		return nil, err
	}
	flags, b, err := getUint32(b)
	if err != nil {
		return nil, err
	}
	lifetime, _, err := getUint32(b)
	if err != nil {
		return nil, err
	}
	return &PrefixEntry{Prefix: name, FaceID: defn.FaceID(faceID), Flags: table.FibFlags(flags), Lifetime: int(lifetime)}, nil
}
