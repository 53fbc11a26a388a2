package face

import (
	"math/rand"
	"testing"
	"time"

	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutQueueDedupsAcrossEnqueue(t *testing.T) {
	q := NewOutQueue(defn.DelayASAP, PacingParams{})
	rng := rand.New(rand.NewSource(1))
	now := time.Now()

	q.Enqueue(1, 100, now, rng)
	q.Enqueue(1, 100, now, rng)
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Contains(1))
}

func TestOutQueueFireSendsAtMostTwoPerFire(t *testing.T) {
	q := NewOutQueue(defn.DelayASAP, PacingParams{})
	rng := rand.New(rand.NewSource(1))
	now := time.Now()

	for i := uint32(1); i <= 5; i++ {
		q.Enqueue(i, 100, now, rng)
	}

	var sent []uint32
	q.Fire(now, rng, func(accession uint32) { sent = append(sent, accession) })
	assert.Len(t, sent, 2)
	assert.Equal(t, 3, q.Len())
}

// TestOutQueuePreferredProviderFastPath checks the nrun in [12,120) window
// skips randomized pacing entirely (spec §4.H's "preferred provider" rule).
func TestOutQueuePreferredProviderFastPath(t *testing.T) {
	q := NewOutQueue(defn.DelayASAP, PacingParams{MinUsec: time.Hour, RandUsec: time.Hour})
	rng := rand.New(rand.NewSource(1))
	now := time.Now()

	q.nrun = 12
	q.Enqueue(1, 100, now, rng)
	require.Equal(t, 1, q.Len())
	assert.Equal(t, now, q.pending[0].readyAt, "fast path should bypass the randomized delay window")
}

func TestOutQueueFireBurstBudgetLimitsSecondSend(t *testing.T) {
	q := NewOutQueue(defn.DelayASAP, PacingParams{Burst: maxBurstPerFire})
	rng := rand.New(rand.NewSource(1))
	now := time.Now()

	q.Enqueue(1, 4096, now, rng)
	q.Enqueue(2, 4096, now, rng)

	var sent []uint32
	q.Fire(now, rng, func(accession uint32) { sent = append(sent, accession) })
	assert.Equal(t, []uint32{1}, sent, "second send's cost exceeds the remaining per-fire burst budget")
	assert.Equal(t, 1, q.Len())
}

func TestOutQueueFireReturnsZeroWhenDrained(t *testing.T) {
	q := NewOutQueue(defn.DelayASAP, PacingParams{})
	rng := rand.New(rand.NewSource(1))
	now := time.Now()

	q.Enqueue(1, 100, now, rng)
	delay := q.Fire(now, rng, func(uint32) {})
	assert.Equal(t, time.Duration(0), delay)
	assert.Equal(t, 0, q.nrun)
}
