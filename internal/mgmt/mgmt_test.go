package mgmt

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/face"
	"github.com/ccnd-go/ccnd/internal/fw"
	"github.com/ccnd-go/ccnd/internal/security"
	"github.com/ccnd-go/ccnd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestManager builds a Manager over a fresh Forwarder with a GG-flagged
// control face already registered, the shape every verb test starts from.
func newTestManager(t *testing.T) (*Manager, *fw.Forwarder, defn.FaceID) {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.CS.Capacity = 16
	fwd := fw.NewForwarder(cfg, rand.New(rand.NewSource(1)))

	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	ctrl, err := fwd.Faces.RecordConnection(server, defn.TransportStream, face.FlagGG)
	require.NoError(t, err)

	m := NewManager(fwd, []byte("test-pubkey"), security.NullSigner{}, security.AcceptAllVerifier{}, nil, "")

	// Replies write through fwd.SendRaw straight to the face; draining
	// client in the background keeps Face.Send from blocking on the
	// pipe's unbuffered channel.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()

	return m, fwd, ctrl.ID()
}

func buildRequest(m *Manager, verb string, payload []byte) *wire.Interest {
	name := m.Prefix().Append(wire.NewGenericComponent([]byte(verb)))
	if payload != nil {
		name = name.Append(wire.NewGenericComponent(payload))
	}
	return &wire.Interest{Name: name, InterestLifetime: time.Second, Nonce: []byte{1, 2, 3, 4}}
}

func TestHandleInterestIgnoresNonManagementNames(t *testing.T) {
	m, _, ctrl := newTestManager(t)
	it := &wire.Interest{Name: wire.Name{wire.NewGenericComponent([]byte("unrelated"))}}
	handled := m.HandleInterest(ctrl, it, it.Encode(), time.Now())
	assert.False(t, handled)
}

func TestHandleInterestRejectsNonGGFace(t *testing.T) {
	m, fwd, _ := newTestManager(t)
	client, server := net.Pipe()
	defer client.Close()
	untrusted, err := fwd.Faces.RecordConnection(server, defn.TransportStream, 0)
	require.NoError(t, err)

	fi := &FaceInstance{Protocol: "tcp", Address: "127.0.0.1", Port: 6363}
	it := buildRequest(m, "newface", fi.Encode())
	handled := m.HandleInterest(untrusted.ID(), it, it.Encode(), time.Now())
	assert.True(t, handled, "a dropped management request is still considered handled, not forwarded")
}

func TestNewFaceCreatesOutboundFace(t *testing.T) {
	m, fwd, ctrl := newTestManager(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
			buf := make([]byte, 1)
			c.Read(buf)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	fi := &FaceInstance{Protocol: "tcp", Address: addr.IP.String(), Port: uint16(addr.Port)}
	it := buildRequest(m, "newface", fi.Encode())

	countFaces := func() int {
		n := 0
		fwd.Faces.All(func(*face.Face) { n++ })
		return n
	}
	before := countFaces()

	handled := m.HandleInterest(ctrl, it, it.Encode(), time.Now())
	assert.True(t, handled)
	assert.Equal(t, before+1, countFaces(), "newface must record one new outbound face")
}

func TestPrefixRegAndUnregRoundTrip(t *testing.T) {
	m, fwd, ctrl := newTestManager(t)

	name, _ := wire.NameFromStr("/example/test")
	pe := &PrefixEntry{Prefix: name, FaceID: ctrl, Lifetime: 300}
	it := buildRequest(m, "prefixreg", pe.Encode())
	handled := m.HandleInterest(ctrl, it, it.Encode(), time.Now())
	require.True(t, handled)

	entry := fwd.NPT.Find(name)
	require.NotNil(t, entry)
	assert.True(t, entry.HasFib())

	unregIt := buildRequest(m, "unreg", pe.Encode())
	handled = m.HandleInterest(ctrl, unregIt, unregIt.Encode(), time.Now())
	require.True(t, handled)
	assert.False(t, entry.HasFib(), "unreg must remove the registration")
}

// TestReplyHonorsConfiguredDigestAlg exercises the alternate digest
// algorithm end to end: a Manager configured with AlgSHA3_256 must stamp
// its replies' Signature.DigestAlgorithm accordingly, not the sha256
// default.
func TestReplyHonorsConfiguredDigestAlg(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.CS.Capacity = 16
	fwd := fw.NewForwarder(cfg, rand.New(rand.NewSource(1)))

	client, server := net.Pipe()
	defer client.Close()
	ctrl, err := fwd.Faces.RecordConnection(server, defn.TransportStream, face.FlagGG)
	require.NoError(t, err)

	m := NewManager(fwd, []byte("test-pubkey"), security.NullSigner{}, security.AcceptAllVerifier{}, nil, security.AlgSHA3_256)

	replyCh := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := client.Read(buf)
		if err == nil {
			replyCh <- append([]byte(nil), buf[:n]...)
		}
	}()

	it := buildRequest(m, "status", nil)
	handled := m.HandleInterest(ctrl.ID(), it, it.Encode(), time.Now())
	require.True(t, handled)

	raw := <-replyCh
	obj, err := wire.DecodeContentObject(raw)
	require.NoError(t, err)
	assert.Equal(t, security.AlgSHA3_256, obj.Signature.DigestAlgorithm)
}

func TestSelfRegPinsTargetFaceToRequester(t *testing.T) {
	m, fwd, ctrl := newTestManager(t)

	name, _ := wire.NameFromStr("/example/selfreg")
	// Ask to register a different (nonexistent) face; selfreg must ignore
	// it and register the requester's own arrival face instead.
	pe := &PrefixEntry{Prefix: name, FaceID: defn.FaceID(999999), Lifetime: 60}
	it := buildRequest(m, "selfreg", pe.Encode())
	handled := m.HandleInterest(ctrl, it, it.Encode(), time.Now())
	require.True(t, handled)

	entry := fwd.NPT.Find(name)
	require.NotNil(t, entry)
	assert.True(t, entry.HasFib())

	// ForwardTo's cache is only populated on an outbound lookup (spec
	// §4.D/§4.F), not on registration itself, so exercise that path before
	// checking the target face landed where selfreg pinned it.
	refreshed := fwd.NPT.LookupOutbound(entry)
	assert.Contains(t, refreshed.ForwardTo(), ctrl)
}
