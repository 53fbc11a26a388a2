package fw

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/face"
	"github.com/ccnd-go/ccnd/internal/optional"
	"github.com/ccnd-go/ccnd/internal/table"
	"github.com/ccnd-go/ccnd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestForwarder builds a bare Forwarder with a fixed-seed RNG, the shape
// every engine-level test here starts from (spec §9: "reproducible seeding
// is valuable for tests").
func newTestForwarder(t *testing.T) *Forwarder {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.CS.Capacity = 64
	return NewForwarder(cfg, rand.New(rand.NewSource(1)))
}

// pipeFace registers one end of a net.Pipe as a stream face and drains the
// other end into a byte channel, the pattern internal/mgmt's tests use to
// keep Face.Send from blocking on the pipe's unbuffered channel.
func pipeFace(t *testing.T, fwd *Forwarder, flags face.Flags) (defn.FaceID, <-chan []byte) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	f, err := fwd.Faces.RecordConnection(server, defn.TransportStream, flags)
	require.NoError(t, err)

	ch := make(chan []byte, 8)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := client.Read(buf)
			if err != nil {
				close(ch)
				return
			}
			ch <- append([]byte(nil), buf[:n]...)
		}
	}()
	return f.ID(), ch
}

func mustName(t *testing.T, s string) wire.Name {
	t.Helper()
	n, err := wire.NameFromStr(s)
	require.NoError(t, err)
	return n
}

func recvOrTimeout(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send")
		return nil
	}
}

// TestOnInterestForwardsAndContentSatisfiesPIT drives spec §8's scenario 1:
// a single Interest, forwarded to the only registered route, answered by a
// matching Content Object that reaches back to the requester and consumes
// the PIT entry.
func TestOnInterestForwardsAndContentSatisfiesPIT(t *testing.T) {
	fwd := newTestForwarder(t)
	now := time.Now()

	requester, requesterCh := pipeFace(t, fwd, 0)
	provider, providerCh := pipeFace(t, fwd, face.FlagGG)

	name := mustName(t, "/example/data")
	fwd.NPT.AddRoute(name, provider, table.FibActive, 300)

	it := &wire.Interest{
		Name:             name,
		AnswerOriginKind: defn.DefaultAnswerOrigin(),
		InterestLifetime: time.Second,
		Nonce:            []byte{1, 2, 3, 4},
	}
	fwd.OnInterest(requester, it.Encode(), now)

	entry, ok := fwd.PIT.Lookup(it.Nonce)
	require.True(t, ok)
	assert.False(t, entry.Consumed())

	// The first-send delay is scheduled relative to `now`, so firing the
	// scheduler well past it (regardless of real wall-clock elapsed) is
	// enough to flush the send without an actual sleep.
	fwd.Sched.RunDue(now.Add(time.Second))

	sentInterest := recvOrTimeout(t, providerCh)
	decoded, err := wire.DecodeInterest(sentInterest)
	require.NoError(t, err)
	assert.True(t, decoded.Name.Equal(name))

	obj := &wire.ContentObject{
		Name:    name,
		Content: []byte("payload"),
		SignedInfo: wire.SignedInfo{
			Timestamp: now,
			Type:      defn.ContentData,
		},
	}
	fwd.OnContent(provider, obj.Encode(), now)

	entry, ok = fwd.PIT.Lookup(it.Nonce)
	require.True(t, ok)
	assert.True(t, entry.Consumed(), "matching content must consume the PIT entry (spec §4.G)")

	// The Content Queue paces delivery off the real clock (spec §4.H), so
	// give its randomized min-delay window a moment to actually elapse
	// before asking the scheduler to fire it.
	time.Sleep(2 * time.Millisecond)
	fwd.Sched.RunDue(time.Now().Add(time.Second))
	reply := recvOrTimeout(t, requesterCh)
	replyObj, err := wire.DecodeContentObject(reply)
	require.NoError(t, err)
	assert.True(t, replyObj.Name.Equal(name))
	assert.Equal(t, []byte("payload"), replyObj.Content)

	// Predictor nudge: the satisfying face rotates into src (spec §4.D).
	prefix := fwd.NPT.Find(name)
	require.NotNil(t, prefix)
	assert.Equal(t, provider, prefix.Src())
}

// TestOnInterestDedupsRepeatedNonce drives spec §8's scenario 2: a second
// Interest carrying a nonce already pending must not create a second PIT
// entry, only drop that face from the first entry's outbound plan.
func TestOnInterestDedupsRepeatedNonce(t *testing.T) {
	fwd := newTestForwarder(t)
	now := time.Now()

	requesterA, _ := pipeFace(t, fwd, 0)
	requesterB, _ := pipeFace(t, fwd, 0)
	provider, providerCh := pipeFace(t, fwd, face.FlagGG)

	name := mustName(t, "/example/dup")
	fwd.NPT.AddRoute(name, provider, table.FibActive, 300)

	it := &wire.Interest{
		Name:             name,
		AnswerOriginKind: defn.DefaultAnswerOrigin(),
		InterestLifetime: time.Second,
		Nonce:            []byte{9, 9, 9, 9},
	}
	raw := it.Encode()

	fwd.OnInterest(requesterA, raw, now)
	require.Equal(t, 1, fwd.PIT.Len())

	fwd.OnInterest(requesterB, raw, now)
	assert.Equal(t, 1, fwd.PIT.Len(), "a duplicate nonce must not grow the PIT")

	fwd.Sched.RunDue(now.Add(time.Second))
	_ = recvOrTimeout(t, providerCh)
}

// TestScope0NeverForwarded drives spec §8's quantified property: a Scope 0
// Interest is answered only from the Content Store and is never scheduled
// for propagation.
func TestScope0NeverForwarded(t *testing.T) {
	fwd := newTestForwarder(t)
	now := time.Now()

	requester, _ := pipeFace(t, fwd, 0)
	provider, providerCh := pipeFace(t, fwd, face.FlagGG)

	name := mustName(t, "/example/scope0")
	fwd.NPT.AddRoute(name, provider, table.FibActive, 300)

	it := &wire.Interest{
		Name:             name,
		AnswerOriginKind: defn.AnswerGenerated, // content-store lookup disabled
		Scope:            optional.Some(defn.Scope0),
		InterestLifetime: time.Second,
		Nonce:            []byte{5, 5, 5, 5},
	}
	fwd.OnInterest(requester, it.Encode(), now)

	_, ok := fwd.PIT.Lookup(it.Nonce)
	require.True(t, ok, "a scope-0 interest still gets a PIT entry before being found unroutable")

	fwd.Sched.RunDue(now.Add(time.Second))

	select {
	case b := <-providerCh:
		t.Fatalf("scope-0 interest must never be forwarded, got %d bytes sent", len(b))
	case <-time.After(50 * time.Millisecond):
	}
}

// TestPredictorNudgesOnContentStoreHit exercises the Name-Prefix Entry's
// response-time predictor across a pending-interest NudgeUp followed by a
// content-store-hit NudgeDown (spec §4.D).
func TestPredictorNudgesOnContentStoreHit(t *testing.T) {
	fwd := newTestForwarder(t)
	now := time.Now()

	provider, providerCh := pipeFace(t, fwd, face.FlagGG)
	_ = providerCh
	requesterA, _ := pipeFace(t, fwd, 0)
	requesterB, requesterBCh := pipeFace(t, fwd, 0)

	name := mustName(t, "/example/predictor")
	fwd.NPT.AddRoute(name, provider, table.FibActive, 300)

	firstInterest := &wire.Interest{
		Name:             name,
		AnswerOriginKind: defn.DefaultAnswerOrigin(),
		InterestLifetime: time.Second,
		Nonce:            []byte{1, 1, 1, 1},
	}
	fwd.OnInterest(requesterA, firstInterest.Encode(), now)

	prefix := fwd.NPT.Find(name)
	require.NotNil(t, prefix)
	afterNudgeUp := prefix.Usec()

	obj := &wire.ContentObject{
		Name:    name,
		Content: []byte("cached"),
		SignedInfo: wire.SignedInfo{
			Timestamp: now,
			Type:      defn.ContentData,
		},
	}
	fwd.OnContent(provider, obj.Encode(), now)

	// Second interest for the same name is now answerable straight from
	// the Content Store (spec §4.E step 6), which nudges the predictor
	// down rather than up.
	secondInterest := &wire.Interest{
		Name:             name,
		AnswerOriginKind: defn.DefaultAnswerOrigin(),
		InterestLifetime: time.Second,
		Nonce:            []byte{2, 2, 2, 2},
	}
	fwd.OnInterest(requesterB, secondInterest.Encode(), now)

	afterNudgeDown := prefix.Usec()
	assert.Less(t, afterNudgeDown, afterNudgeUp, "a content-store hit must pull the predictor back down")

	time.Sleep(2 * time.Millisecond)
	fwd.Sched.RunDue(time.Now().Add(time.Second))
	reply := recvOrTimeout(t, requesterBCh)
	replyObj, err := wire.DecodeContentObject(reply)
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), replyObj.Content)
}
