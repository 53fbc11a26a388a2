// Package security names the contract for the out-of-scope "cryptographic
// signing and verification, key loading from disk" collaborator (spec §1):
// just enough of an interface that the rest of the forwarder can call
// through it, without reimplementing a trust model the spec explicitly
// defers to an external component.
package security

import (
	"crypto/sha256"

	"golang.org/x/crypto/sha3"
)

// DigestAlgorithm names that may appear in a Signature's digest-algorithm
// field (spec §6).
const (
	AlgSHA256   = "sha256"
	AlgSHA3_256 = "sha3-256"
)

// Digest computes content over the named algorithm, defaulting to SHA-256
// (spec §4.G's mandatory digest) when alg is empty or unrecognized.
// SHA3-256 is offered as the negotiated alternate the SignedInfo digest
// algorithm field can select, exercising golang.org/x/crypto the way the
// teacher's go.mod pulls it in for std/security's key material handling.
func Digest(alg string, content []byte) []byte {
	switch alg {
	case AlgSHA3_256:
		sum := sha3.Sum256(content)
		return sum[:]
	default:
		sum := sha256.Sum256(content)
		return sum[:]
	}
}

// Verifier verifies a ContentObject's signature bits against its signed
// portion. The forwarder never authenticates peers or payloads itself
// (spec §1's Non-goals) — it only needs somewhere to plug a real verifier
// in for the management-namespace request signatures (spec §6), so this is
// intentionally minimal.
type Verifier interface {
	// Verify reports whether sig is a valid signature over signedPortion
	// under the identity named by keyLocator.
	Verify(signedPortion []byte, sig []byte, keyLocator []byte) bool
}

// Signer produces signature bits over a signed portion, used by the
// management-namespace reply path (spec §6) to sign ccnd's own replies.
type Signer interface {
	Sign(signedPortion []byte) (sig []byte, keyLocator []byte, err error)
}

// AcceptAllVerifier is a Verifier that accepts everything. It is the
// default wired in because spec §1 explicitly places peer authentication
// and signature verification out of scope for this component; a real
// deployment replaces it with a Verifier backed by a loaded trust anchor.
type AcceptAllVerifier struct{}

func (AcceptAllVerifier) Verify([]byte, []byte, []byte) bool { return true }

// NullSigner signs nothing; it's the default until a real key is loaded.
type NullSigner struct{}

func (NullSigner) Sign(signedPortion []byte) ([]byte, []byte, error) {
	return nil, nil, nil
}
