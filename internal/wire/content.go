package wire

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/optional"
)

const (
	tContentSignature    VarNum = 0x20
	tContentName         VarNum = 0x21
	tContentSignedInfo   VarNum = 0x22
	tContentPayload      VarNum = 0x23
	tSigDigestAlgo       VarNum = 0x24
	tSigBits             VarNum = 0x25
	tSigWitness          VarNum = 0x26
	tSIPubKeyDigest      VarNum = 0x27
	tSITimestamp         VarNum = 0x28
	tSIType              VarNum = 0x29
	tSIFreshness         VarNum = 0x2a
	tSIFinalBlockID      VarNum = 0x2b
	tSIKeyLocator        VarNum = 0x2c
)

// Signature is the wire Signature block (spec §6): a digest-algorithm
// identifier, the signature bits themselves, and an optional witness used
// by some signature schemes. Verification itself is the out-of-scope
// "cryptographic signing and verification" collaborator (spec §1) —
// internal/security names the interface a real verifier would implement.
type Signature struct {
	DigestAlgorithm string
	Bits            []byte
	Witness         []byte
}

// SignedInfo is the wire SignedInfo block (spec §6).
type SignedInfo struct {
	PublisherPublicKeyDigest []byte
	Timestamp                time.Time
	Type                     defn.ContentType
	FreshnessSeconds         optional.Optional[uint32]
	FinalBlockID             []byte
	KeyLocator               []byte
}

// ContentObject is the decoded form of spec §6's Content Object message.
type ContentObject struct {
	Signature  Signature
	Name       Name
	SignedInfo SignedInfo
	Content    []byte
}

// Digest computes the SHA-256 of the Content field exactly as spec §4.G
// step 2 describes, independent of the (out-of-scope) full-object
// signature.
func (co *ContentObject) Digest() [32]byte {
	return sha256.Sum256(co.Content)
}

// ExpandedName returns co.Name with the implicit trailing
// content-digest component made explicit, the key the Content Store
// indexes by (spec §4.C, §4.G).
func (co *ContentObject) ExpandedName() Name {
	d := co.Digest()
	return co.Name.Append(NewDigestComponent(d[:]))
}

// Encode serializes the ContentObject to its wire form.
func (co *ContentObject) Encode() []byte {
	var sig []byte
	sig = appendTLV(sig, tSigDigestAlgo, []byte(co.Signature.DigestAlgorithm))
	sig = appendTLV(sig, tSigBits, co.Signature.Bits)
	if len(co.Signature.Witness) > 0 {
		sig = appendTLV(sig, tSigWitness, co.Signature.Witness)
	}

	var si []byte
	if len(co.SignedInfo.PublisherPublicKeyDigest) > 0 {
		si = appendTLV(si, tSIPubKeyDigest, co.SignedInfo.PublisherPublicKeyDigest)
	}
	ticks := uint64(co.SignedInfo.Timestamp.UnixNano()) / uint64(lifetimeUnit)
	si = appendTLV(si, tSITimestamp, encodeUint(ticks))
	si = appendTLV(si, tSIType, []byte{byte(co.SignedInfo.Type)})
	if v, ok := co.SignedInfo.FreshnessSeconds.Get(); ok {
		si = appendTLV(si, tSIFreshness, encodeUint(uint64(v)))
	}
	if len(co.SignedInfo.FinalBlockID) > 0 {
		si = appendTLV(si, tSIFinalBlockID, co.SignedInfo.FinalBlockID)
	}
	if len(co.SignedInfo.KeyLocator) > 0 {
		si = appendTLV(si, tSIKeyLocator, co.SignedInfo.KeyLocator)
	}

	var body []byte
	body = appendTLV(body, tContentSignature, sig)
	body = appendTLV(body, tContentName, co.Name.Bytes())
	body = appendTLV(body, tContentSignedInfo, si)
	body = appendTLV(body, tContentPayload, co.Content)
	return appendTLV(nil, TypeContent, body)
}

// DecodeContentObject parses a ContentObject from its full wire encoding.
func DecodeContentObject(b []byte) (*ContentObject, error) {
	outer, err := readTLV(b)
	if err != nil {
		return nil, err
	}
	if outer.typ != TypeContent {
		return nil, fmt.Errorf("%w: not a ContentObject", defn.ErrMalformed)
	}
	co := &ContentObject{}
	rest := outer.val
	for len(rest) > 0 {
		el, err := readTLV(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", defn.ErrMalformed, err)
		}
		switch el.typ {
		case tContentSignature:
			if err := decodeSignature(&co.Signature, el.val); err != nil {
				return nil, err
			}
		case tContentName:
			name, err := DecodeName(el.val)
			if err != nil {
				return nil, err
			}
			co.Name = name
		case tContentSignedInfo:
			if err := decodeSignedInfo(&co.SignedInfo, el.val); err != nil {
				return nil, err
			}
		case tContentPayload:
			co.Content = append([]byte(nil), el.val...)
		}
		rest = rest[el.consumed:]
	}
	if co.Name == nil {
		return nil, fmt.Errorf("%w: content object missing Name", defn.ErrMalformed)
	}
	return co, nil
}

func decodeSignature(sig *Signature, b []byte) error {
	for len(b) > 0 {
		el, err := readTLV(b)
		if err != nil {
			return err
		}
		switch el.typ {
		case tSigDigestAlgo:
			sig.DigestAlgorithm = string(el.val)
		case tSigBits:
			sig.Bits = append([]byte(nil), el.val...)
		case tSigWitness:
			sig.Witness = append([]byte(nil), el.val...)
		}
		b = b[el.consumed:]
	}
	return nil
}

func decodeSignedInfo(si *SignedInfo, b []byte) error {
	for len(b) > 0 {
		el, err := readTLV(b)
		if err != nil {
			return err
		}
		switch el.typ {
		case tSIPubKeyDigest:
			si.PublisherPublicKeyDigest = append([]byte(nil), el.val...)
		case tSITimestamp:
			si.Timestamp = time.Unix(0, int64(decodeUint(el.val)*uint64(lifetimeUnit)))
		case tSIType:
			if len(el.val) != 1 {
				return defn.ErrMalformed
			}
			si.Type = defn.ContentType(el.val[0])
		case tSIFreshness:
			si.FreshnessSeconds = optional.Some(uint32(decodeUint(el.val)))
		case tSIFinalBlockID:
			si.FinalBlockID = append([]byte(nil), el.val...)
		case tSIKeyLocator:
			si.KeyLocator = append([]byte(nil), el.val...)
		}
		b = b[el.consumed:]
	}
	return nil
}
