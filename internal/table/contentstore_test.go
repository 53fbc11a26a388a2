package table

import (
	"math/rand"
	"testing"
	"time"

	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkObject(t *testing.T, name string, payload string) (*wire.ContentObject, wire.Name) {
	t.Helper()
	n, err := wire.NameFromStr(name)
	require.NoError(t, err)
	co := &wire.ContentObject{
		Name:    n,
		Content: []byte(payload),
	}
	return co, co.ExpandedName()
}

func mkInterest(t *testing.T, name string) *wire.Interest {
	t.Helper()
	n, err := wire.NameFromStr(name)
	require.NoError(t, err)
	return &wire.Interest{Name: n, AnswerOriginKind: defn.DefaultAnswerOrigin()}
}

// Leftmost vs rightmost (spec §8 scenario 3).
func TestContentStoreChildSelector(t *testing.T) {
	cs := NewContentStore(100, rand.New(rand.NewSource(1)))
	for _, n := range []string{"/a/1", "/a/2", "/a/3"} {
		obj, expanded := mkObject(t, n, "payload-"+n)
		cs.Insert(expanded, obj, obj.Encode(), 0)
	}

	left := mkInterest(t, "/a")
	left.ChildSelector = defn.ChildLeftmost
	e, ok := cs.Lookup(left, false)
	require.True(t, ok)
	assert.Equal(t, "payload-/a/1", string(e.object.Content))

	right := mkInterest(t, "/a")
	right.ChildSelector = defn.ChildRightmost
	e, ok = cs.Lookup(right, false)
	require.True(t, ok)
	assert.Equal(t, "payload-/a/3", string(e.object.Content))
}

// Exclude fast-path (spec §8 scenario 4).
func TestContentStoreExcludeFastPath(t *testing.T) {
	cs := NewContentStore(100, rand.New(rand.NewSource(1)))
	for _, n := range []string{"/a/1", "/a/2"} {
		obj, expanded := mkObject(t, n, "payload-"+n)
		cs.Insert(expanded, obj, obj.Encode(), 0)
	}

	it := mkInterest(t, "/a")
	it.Exclude = wire.Exclude{
		{Any: true},
		{Comp: wire.NewGenericComponent([]byte("1"))},
	}
	e, ok := cs.Lookup(it, false)
	require.True(t, ok)
	assert.Equal(t, "payload-/a/2", string(e.object.Content))
}

// Freshness expiry (spec §8 scenario 5).
func TestContentStoreFreshnessExpiry(t *testing.T) {
	cs := NewContentStore(100, rand.New(rand.NewSource(1)))
	obj, expanded := mkObject(t, "/a/b", "X")
	cs.Insert(expanded, obj, obj.Encode(), 1*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	cs.PollStaleness(time.Now())

	noStale := mkInterest(t, "/a/b")
	_, ok := cs.Lookup(noStale, false)
	assert.False(t, ok, "non-stale-accepting interest must not match stale content")

	acceptStale := mkInterest(t, "/a/b")
	acceptStale.AnswerOriginKind |= defn.AnswerStale
	_, ok = cs.Lookup(acceptStale, true)
	assert.True(t, ok, "stale-accepting interest must match stale content")
}

// Cleaner progress (spec §8): if capacity is exceeded and nothing is
// precious, repeated Clean rounds return the store to capacity.
func TestContentStoreCleanerProgress(t *testing.T) {
	cs := NewContentStore(5, rand.New(rand.NewSource(1)))
	for i := 0; i < 20; i++ {
		obj, expanded := mkObject(t, "/a/"+string(rune('a'+i)), "x")
		cs.Insert(expanded, obj, obj.Encode(), 0)
	}
	require.Greater(t, cs.Len(), cs.Capacity())

	for round := 0; round < 10 && cs.Len() > cs.Capacity(); round++ {
		cs.Clean(500)
		cs.PollStaleness(time.Now())
	}
	assert.LessOrEqual(t, cs.Len(), cs.Capacity())
}
