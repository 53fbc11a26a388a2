// Package mgmt implements spec §6's management namespace: the daemon's
// internal client under ccnx:/ccnx/<ccnd-id>/..., dispatching signed
// newface/destroyface/prefixreg/selfreg/unreg requests to their handlers
// and replying with signed Content Objects. Grounded on the teacher's
// fw/mgmt package shape (a Thread owning a table of verb-dispatching
// Modules, each a small struct implementing handleIncomingInterest),
// adapted from NFD's hierarchical dataset/ControlParameters protocol to
// this spec's flatter, CCNx-style ARG-in-trailing-component contract.
package mgmt

import (
	"crypto/sha256"
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/face"
	"github.com/ccnd-go/ccnd/internal/fw"
	"github.com/ccnd-go/ccnd/internal/security"
	"github.com/ccnd-go/ccnd/internal/wire"
)

// replyDigestAlg is the fallback Signature.DigestAlgorithm for management
// replies when Manager isn't configured with one (spec §6's management
// replies always carry a digest-algorithm identifier; sha256 is the
// mandatory default, spec §4.G).
const replyDigestAlg = security.AlgSHA256

// module is one verb-dispatching handler under the management prefix,
// mirroring the teacher's fw/mgmt.Module interface shape (one module can
// own several verbs, e.g. newface/destroyface share a FaceInstance ARG).
type module interface {
	verbs() []string
	handle(m *Manager, verb string, req *request)
}

// request bundles an inbound management Interest with the face it
// arrived on and its already-validated ARG payload, the shape every
// module's handler needs (spec §6: "each an interest whose trailing
// component carries a signed request payload").
type request struct {
	Interest *wire.Interest
	Raw      []byte
	Arrival  defn.FaceID
	ArrivalF *face.Face
	Arg      []byte // decoded trailing-component payload, signature already checked
}

// Manager is spec §6's "internal client": it owns the well-known prefix
// derived from ccnd's long-lived public key, dispatches management
// Interests arriving on fw.Forwarder.OnInterest's management fast path,
// and signs every reply.
type Manager struct {
	fwd       *fw.Forwarder
	nodeID    []byte // SHA-256 of the long-lived public key (spec §6)
	prefix    wire.Name
	signer    security.Signer
	verify    security.Verifier
	digestAlg string
	modules   map[string]module

	autoreg []wire.Name
}

// NewManager derives the ccnd-id from pubKey (spec §6: "<ccnd-id> is the
// SHA-256 of the daemon's long-lived public key") and wires up every
// management module. digestAlg selects the Signature.DigestAlgorithm
// replies are signed under (security.AlgSHA256/AlgSHA3_256); an empty
// string falls back to replyDigestAlg.
func NewManager(fwd *fw.Forwarder, pubKey []byte, signer security.Signer, verify security.Verifier, autoregURIs []string, digestAlg string) *Manager {
	id := sha256.Sum256(pubKey)
	prefix := wire.Name{wire.NewGenericComponent([]byte("ccnx")), wire.NewGenericComponent(id[:])}

	var autoreg []wire.Name
	for _, u := range autoregURIs {
		if n, err := wire.NameFromStr(u); err == nil {
			autoreg = append(autoreg, n)
		}
	}

	if digestAlg == "" {
		digestAlg = replyDigestAlg
	}

	m := &Manager{
		fwd:       fwd,
		nodeID:    id[:],
		prefix:    prefix,
		signer:    signer,
		verify:    verify,
		digestAlg: digestAlg,
		modules:   make(map[string]module),
		autoreg:   autoreg,
	}
	for _, mod := range []module{
		&faceModule{},
		&prefixModule{},
		&statusModule{startTime: time.Now()},
	} {
		for _, v := range mod.verbs() {
			m.modules[v] = mod
		}
	}
	fwd.OnNewFace = m.autoRegister
	fwd.ManagementInterest = m.HandleInterest
	return m
}

func (m *Manager) String() string { return "mgmt" }

// Prefix returns the daemon's management prefix, ccnx:/ccnx/<ccnd-id>.
func (m *Manager) Prefix() wire.Name { return m.prefix }

// HandleInterest is the Interest Engine's fast path for management
// traffic: called by fw before ordinary forwarding when an Interest's
// name falls under m.Prefix() (spec §6). Every operation requires the
// GG capability; prefix registration additionally requires REGOK when the
// requester isn't itself GG.
func (m *Manager) HandleInterest(arrival defn.FaceID, it *wire.Interest, raw []byte, now time.Time) bool {
	if !m.prefix.IsPrefixOf(it.Name) || len(it.Name) <= len(m.prefix) {
		return false
	}

	arrivalFace := m.fwd.Faces.Get(arrival)
	if arrivalFace == nil {
		return true
	}

	verb := it.Name[len(m.prefix)].String()
	mod, ok := m.modules[verb]
	if !ok {
		core.Log.Warn(m, "unknown management verb", "verb", verb)
		return true
	}

	// spec §6: every operation requires GG, except prefix registration
	// which a non-GG control face may also perform if it carries REGOK.
	isPrefixOp := verb == "prefixreg" || verb == "selfreg" || verb == "unreg"
	authorized := arrivalFace.Flags().Has(face.FlagGG) || (isPrefixOp && arrivalFace.Flags().Has(face.FlagRegOK))
	if !authorized {
		core.Log.Warn(m, "unauthorized management interest dropped", "face", arrival, "verb", verb)
		return true
	}

	var arg []byte
	if len(it.Name) > len(m.prefix)+1 {
		arg = it.Name[len(m.prefix)+1].Val
	}
	if !m.verify.Verify(arg, nil, it.PublisherPublicKeyDigest) {
		core.Log.Warn(m, "management request failed signature verification", "verb", verb)
		return true
	}

	mod.handle(m, verb, &request{Interest: it, Raw: raw, Arrival: arrival, ArrivalF: arrivalFace, Arg: arg})
	return true
}

// reply builds and delivers a signed Content Object in answer to req,
// named req's Interest name with a trailing reply-payload component
// (spec §6: "answered with a signed reply").
func (m *Manager) reply(req *request, payload []byte, now time.Time) {
	name := req.Interest.Name.Append(wire.NewGenericComponent(payload))
	digest := security.Digest(m.digestAlg, payload)
	sig, keyLoc, err := m.signer.Sign(digest)
	if err != nil {
		core.Log.Warn(m, "failed to sign management reply", "err", err)
		return
	}
	obj := &wire.ContentObject{
		Signature: wire.Signature{DigestAlgorithm: m.digestAlg, Bits: sig},
		Name:      name,
		SignedInfo: wire.SignedInfo{
			PublisherPublicKeyDigest: m.nodeID,
			Timestamp:                now,
			Type:                     defn.ContentData,
			KeyLocator:               keyLoc,
		},
		Content: payload,
	}
	raw := obj.Encode()
	if err := m.fwd.SendRaw(req.Arrival, raw); err != nil {
		core.Log.Warn(m, "failed to send management reply", "face", req.Arrival, "err", err)
	}
}

// autoRegister implements spec §6's CCND_AUTOREG supplement: on accepting
// a new non-GG face, register every configured autoreg prefix to it
// (original_source's ccnd_reg_uri at accept time, since the distilled
// spec names CCND_AUTOREG but not its trigger point).
func (m *Manager) autoRegister(f *face.Face) {
	if f.Flags().Has(face.FlagGG) || len(m.autoreg) == 0 {
		return
	}
	for _, prefix := range m.autoreg {
		m.fwd.NPT.AddRoute(prefix, f.ID(), 0, 0)
	}
	core.Log.Info(m, "autoreg applied to new face", "face", f.ID(), "prefixes", len(m.autoreg))
}
