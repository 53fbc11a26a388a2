package table

import (
	"math/rand"
	"testing"

	"github.com/ccnd-go/ccnd/internal/wire"
	"github.com/stretchr/testify/assert"
)

func nameEntry(s string) *csEntry {
	n, _ := wire.NameFromStr(s)
	return &csEntry{skip: skipNode{key: n}}
}

// Skiplist round-trip: insert n entries with distinct keys in any order,
// then traverse level-0 from head; the sequence is sorted (spec §8).
func TestSkiplistRoundTrip(t *testing.T) {
	sl := newSkiplist(rand.New(rand.NewSource(1)))
	names := []string{"/z/1", "/a/1", "/m/2", "/a/0", "/b", "/z/0"}
	for _, n := range names {
		sl.insert(nameEntry(n))
	}

	var got []string
	walkFrom(sl.first(), func(e *csEntry) bool {
		got = append(got, e.skip.key.String())
		return true
	})

	assert.Len(t, got, len(names))
	for i := 1; i < len(got); i++ {
		a, _ := wire.NameFromStr(got[i-1])
		b, _ := wire.NameFromStr(got[i])
		assert.True(t, a.Compare(b) < 0, "expected %s < %s", got[i-1], got[i])
	}
}

func TestSkiplistFindBeforeAndRemove(t *testing.T) {
	sl := newSkiplist(rand.New(rand.NewSource(2)))
	e1 := nameEntry("/a/1")
	e2 := nameEntry("/a/2")
	e3 := nameEntry("/a/3")
	sl.insert(e1)
	sl.insert(e2)
	sl.insert(e3)

	key, _ := wire.NameFromStr("/a/2")
	pred := sl.findBefore(key)
	assert.Equal(t, e1, pred)

	found := sl.at(key)
	assert.Equal(t, e2, found)

	sl.remove(e2)
	assert.Nil(t, sl.at(key))

	var remaining []string
	walkFrom(sl.first(), func(e *csEntry) bool {
		remaining = append(remaining, e.skip.key.String())
		return true
	})
	assert.Equal(t, []string{"/a/1", "/a/3"}, remaining)
}

func TestRandomLevelBounded(t *testing.T) {
	sl := newSkiplist(rand.New(rand.NewSource(3)))
	for i := 0; i < 10000; i++ {
		lvl := sl.randomLevel()
		assert.GreaterOrEqual(t, lvl, 0)
		assert.Less(t, lvl, maxSkiplistLevels)
	}
}
