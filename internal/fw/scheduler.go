// Package fw implements spec §4.A's single-threaded event loop together
// with the Interest/Content engines (§4.F/§4.G) and reapers (§4.I) that run
// on it. Grounded on the teacher's std/types/priority_queue (the min-heap
// shape: a container/heap wrapper plus an index-tracking Item) adapted
// from a generic Ordered priority into one with an explicit secondary
// sort key, since spec §5 requires "events with equal deadlines fire in
// scheduling order" — a tie-break container/heap.Interface can't express
// through a single Ordered priority alone.
package fw

import (
	"container/heap"
	"time"
)

// EventFunc is a scheduled event's callback. canceled reports whether this
// call is the teardown notification (spec §4.A step 2, §5's "Cancellation"
// note): the handler must free any state it owns and its return value is
// ignored in that case. Otherwise, a non-canceled call returns 0 to mean
// "one-shot, do not reschedule" or a positive delay to be scheduled again.
type EventFunc func(canceled bool) time.Duration

// event is one entry in the scheduler's min-heap.
type event struct {
	deadline time.Time
	seq      uint64 // tie-break for spec §5's "FIFO among equal deadlines"
	fn       EventFunc
	index    int
	active   bool
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *eventHeap) Push(x any) {
	e := x.(*event)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler is spec §4.A's "min-heap of scheduled events keyed by
// monotonic micro-time".
type Scheduler struct {
	h   eventHeap
	seq uint64
}

func NewScheduler() *Scheduler {
	return &Scheduler{h: make(eventHeap, 0, 64)}
}

// Event is an opaque handle a caller holds to Cancel a scheduled event.
type Event struct{ e *event }

// Schedule arms fn to fire after delay (or immediately if delay <= 0).
func (s *Scheduler) Schedule(now time.Time, delay time.Duration, fn EventFunc) *Event {
	e := &event{deadline: now.Add(delay), seq: s.seq, fn: fn, active: true}
	s.seq++
	heap.Push(&s.h, e)
	return &Event{e: e}
}

// Cancel implements spec §4.A's "A cancel flag is passed on shutdown or
// explicit cancel and must be honored by freeing any owned state": removes
// ev from the heap (if still pending) and invokes its callback with
// canceled=true synchronously so it can free what it owns.
func (s *Scheduler) Cancel(ev *Event) {
	if ev == nil || ev.e == nil || !ev.e.active {
		return
	}
	e := ev.e
	e.active = false
	if e.index >= 0 && e.index < len(s.h) && s.h[e.index] == e {
		heap.Remove(&s.h, e.index)
	}
	e.fn(true)
}

// RunDue pops and runs every event whose deadline has passed, honoring
// spec §5's "events with equal deadlines fire in scheduling order"
// (guaranteed by the heap's tie-break) and "scheduled events run before
// poll in each loop" (the caller's responsibility: call RunDue before
// Poll). Re-schedules any event whose callback returns a positive delay,
// at now plus that delay.
func (s *Scheduler) RunDue(now time.Time) {
	for s.h.Len() > 0 {
		top := s.h[0]
		if top.deadline.After(now) {
			return
		}
		heap.Pop(&s.h)
		if !top.active {
			continue
		}
		delay := top.fn(false)
		if delay > 0 {
			top.deadline = now.Add(delay)
			top.seq = s.seq
			s.seq++
			heap.Push(&s.h, top)
		} else {
			top.active = false
		}
	}
}

// NextDelay returns the time until the next scheduled event, or ok=false
// if nothing is scheduled (spec §4.A step 3's poll-timeout computation).
func (s *Scheduler) NextDelay(now time.Time) (d time.Duration, ok bool) {
	if s.h.Len() == 0 {
		return 0, false
	}
	d = s.h[0].deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

func (s *Scheduler) Len() int { return s.h.Len() }
