package face

import (
	"math/rand"
	"time"

	"github.com/ccnd-go/ccnd/internal/defn"
)

// PacingParams are a Content Queue's per-face pacing inputs (spec §4.H).
type PacingParams struct {
	MinUsec  time.Duration
	RandUsec time.Duration
	Burst    time.Duration // nsec-per-KiB; zero uses DefaultBurstNsecPerKiB
}

// DefaultBurstNsecPerKiB is the burst-rate pacing budget spec §4.H charges
// per fire: "burst_nsec x ceil(size/1024)", capped at 1ms total per fire.
const DefaultBurstNsecPerKiB = 1000 * time.Nanosecond

const maxBurstPerFire = 1_000_000 * time.Nanosecond

// queueItem is one pending send: the content-store accession to deliver
// plus its encoded size (for burst accounting) and when its randomized
// delay elapses.
type queueItem struct {
	accession uint32
	size      int
	readyAt   time.Time
}

// OutQueue is spec §3's Content Queue: a face's per-delay-class outbound
// queue with randomized pacing and burst limits (spec §4.H).
type OutQueue struct {
	class  defn.DelayClass
	params PacingParams

	pending []queueItem
	queued  map[uint32]bool // de-dup: accession already queued on this class

	nrun      int  // consecutive fast sends since last randomized wait
	scheduled bool // a sender event is currently scheduled
}

func NewOutQueue(c defn.DelayClass, params PacingParams) *OutQueue {
	if params.Burst == 0 {
		params.Burst = DefaultBurstNsecPerKiB
	}
	return &OutQueue{class: c, params: params, queued: make(map[uint32]bool)}
}

func (q *OutQueue) Len() int { return len(q.pending) }

// Scheduled/MarkScheduled/MarkIdle track whether a sender event is
// currently armed for this queue (spec §4.H: "Per queue, at most one
// scheduled sender").
func (q *OutQueue) Scheduled() bool { return q.scheduled }
func (q *OutQueue) MarkScheduled()  { q.scheduled = true }
func (q *OutQueue) MarkIdle()       { q.scheduled = false }

// Contains reports whether accession is already queued on this class
// (used by Enqueue's cross-class dedup check, spec §4.H).
func (q *OutQueue) Contains(accession uint32) bool { return q.queued[accession] }

// Enqueue appends accession for delivery, its randomized delay starting
// from now (spec §4.H's "min_usec, min_usec+rand_usec" window). nrun in
// [12,120) skips randomization entirely ("preferred provider" fast path).
func (q *OutQueue) Enqueue(accession uint32, size int, now time.Time, rng *rand.Rand) {
	if q.queued[accession] {
		return
	}
	q.queued[accession] = true
	delay := q.randomDelay(rng)
	if q.nrun >= 12 && q.nrun < 120 {
		delay = 0
	}
	q.pending = append(q.pending, queueItem{accession: accession, size: size, readyAt: now.Add(delay)})
}

func (q *OutQueue) randomDelay(rng *rand.Rand) time.Duration {
	if q.params.RandUsec <= 0 {
		return q.params.MinUsec
	}
	return q.params.MinUsec + time.Duration(rng.Int63n(int64(q.params.RandUsec)))
}

// readyCount returns how many leading pending items have an elapsed delay.
func (q *OutQueue) readyCount(now time.Time) int {
	n := 0
	for _, it := range q.pending {
		if it.readyAt.After(now) {
			break
		}
		n++
	}
	return n
}

// Fire implements spec §4.H's sender event: dequeues up to 2 ready
// entries (each consuming burst_nsec*ceil(size/1024) of a 1ms-per-fire
// budget), invokes send for each, and returns the delay to reschedule
// with.
func (q *OutQueue) Fire(now time.Time, rng *rand.Rand, send func(accession uint32)) time.Duration {
	budget := maxBurstPerFire
	sent := 0
	for sent < 2 && len(q.pending) > 0 {
		head := q.pending[0]
		if head.readyAt.After(now) {
			break
		}
		cost := q.params.Burst * time.Duration((head.size+1023)/1024)
		if cost == 0 {
			cost = q.params.Burst
		}
		if sent > 0 && cost > budget {
			break
		}
		q.pending = q.pending[1:]
		delete(q.queued, head.accession)
		send(head.accession)
		sent++
		if cost < budget {
			budget -= cost
		} else {
			budget = 0
		}
	}

	if sent > 0 {
		q.nrun++
	} else {
		q.nrun = 0
	}

	if q.readyCount(now) > 0 {
		return time.Microsecond // more ready now: reschedule quickly
	}
	if len(q.pending) == 0 {
		q.nrun = 0
		return 0
	}
	return q.randomDelay(rng)
}
