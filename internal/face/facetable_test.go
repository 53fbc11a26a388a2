package face

import (
	"net"
	"testing"

	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordTestConn(t *testing.T, table *Table) *Face {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	f, err := table.RecordConnection(server, defn.TransportStream, 0)
	require.NoError(t, err)
	return f
}

func TestFaceTableAssignsUniqueFaceIDs(t *testing.T) {
	table := NewTable(8)

	a := recordTestConn(t, table)
	b := recordTestConn(t, table)
	c := recordTestConn(t, table)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEqual(t, b.ID(), c.ID())
	assert.NotEqual(t, a.ID(), c.ID())

	assert.Same(t, a, table.Get(a.ID()))
	assert.Same(t, b, table.Get(b.ID()))
	assert.Same(t, c, table.Get(c.ID()))
}

// TestFaceTableReusedSlotGetsNewGeneration verifies spec §8's faceid-uniqueness
// invariant: once a slot is freed and reused, the old faceid must no longer
// resolve to the new occupant, even though they share a slot number.
func TestFaceTableReusedSlotGetsNewGeneration(t *testing.T) {
	table := NewTable(1)

	first := recordTestConn(t, table)
	firstID := first.ID()
	require.NotNil(t, table.Get(firstID))

	table.DestroyFace(first)
	assert.Nil(t, table.Get(firstID))

	second := recordTestConn(t, table)
	assert.Equal(t, firstID.Slot(), second.ID().Slot())
	assert.NotEqual(t, firstID, second.ID())
	assert.Nil(t, table.Get(firstID), "stale faceid must not resolve to the new occupant")
	assert.Same(t, second, table.Get(second.ID()))
}

func TestFaceTableFullReturnsErrFaceTableFull(t *testing.T) {
	table := NewTable(1)
	_ = recordTestConn(t, table)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	_, err := table.RecordConnection(server, defn.TransportStream, 0)
	assert.ErrorIs(t, err, defn.ErrFaceTableFull)
}

func TestFaceTableAllSkipsDestroyedFaces(t *testing.T) {
	table := NewTable(4)
	a := recordTestConn(t, table)
	b := recordTestConn(t, table)
	table.DestroyFace(a)

	var seen []defn.FaceID
	table.All(func(f *Face) { seen = append(seen, f.ID()) })
	assert.Equal(t, []defn.FaceID{b.ID()}, seen)
}
