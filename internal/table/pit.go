package table

import (
	"time"

	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/wire"
)

// PitFlags are spec §3's PIT Entry flags.
type PitFlags uint16

const (
	PitUnsent PitFlags = 1 << iota
	PitWaitedOnce        // WAIT1
	PitTap
	PitSubsumedEquivalent // EQV: an older, still-current entry being served by another
	PitScope0
	PitScope1
	PitScope2
)

// PitEntry lets other packages (fw) name a PIT Entry in their own function
// signatures; the underlying type's fields stay unexported.
type PitEntry = pitEntry

// pitEntry is spec §3's PIT Entry. Ordinary entries reach their owning
// Name-Prefix Entry only via list membership (walking to the sentinel);
// the `owner` field is set only on sentinel nodes themselves, which belong
// to the table machinery rather than to any single Interest.
type pitEntry struct {
	listPrev, listNext *pitEntry
	owner              *npEntry // non-nil only for a prefix's sentinel node

	nonce []byte

	origin  defn.FaceID
	outPlan []defn.FaceID
	sent    int

	expireAt   time.Time
	extraDelay time.Duration

	flags PitFlags
	fgen  uint64 // forward-generation stamp: matches npEntry.fgen at plan time

	interest      *wire.Interest
	interestBytes []byte

	consumed    bool
	lockedUntil time.Time

	sameFaceRetries int // spec §4.F similar-interest adjustment: same-face redundancy count
	waitEvent       any // opaque scheduler handle owned by fw, never interpreted here
}

func (e *pitEntry) Nonce() []byte          { return e.nonce }
func (e *pitEntry) Origin() defn.FaceID    { return e.origin }
func (e *pitEntry) OutPlan() []defn.FaceID { return e.outPlan }
func (e *pitEntry) Sent() int              { return e.sent }
func (e *pitEntry) ExpireAt() time.Time    { return e.expireAt }
func (e *pitEntry) Flags() PitFlags        { return e.flags }
func (e *pitEntry) Interest() *wire.Interest { return e.interest }
func (e *pitEntry) InterestBytes() []byte    { return e.interestBytes }
func (e *pitEntry) Consumed() bool         { return e.consumed }

// NextOutbound returns the next face to send to and whether the plan is
// exhausted.
func (e *pitEntry) NextOutbound() (defn.FaceID, bool) {
	if e.sent >= len(e.outPlan) {
		return defn.NoFace, false
	}
	return e.outPlan[e.sent], true
}

// Advance bumps the sent cursor past the face just dispatched to
// (spec §3: "the sent cursor advanced monotonically", spec §5).
func (e *pitEntry) Advance() { e.sent++ }

// RemoveFromPlan drops face from the outbound plan if it is still
// un-dispatched, used by nonce-flood-duplicate handling (spec §4.E step 2).
func (e *pitEntry) RemoveFromPlan(face defn.FaceID) {
	for i := e.sent; i < len(e.outPlan); i++ {
		if e.outPlan[i] == face {
			e.outPlan = append(e.outPlan[:i], e.outPlan[i+1:]...)
			return
		}
	}
}

// SetOutPlan installs a freshly-computed outbound vector, resetting the
// sent cursor (spec §4.F outbound-set computation).
func (e *pitEntry) SetOutPlan(plan []defn.FaceID) { e.outPlan = plan; e.sent = 0 }

// ContainsPlanned reports whether face still appears in the un-dispatched
// tail of the outbound plan.
func (e *pitEntry) ContainsPlanned(face defn.FaceID) bool {
	for i := e.sent; i < len(e.outPlan); i++ {
		if e.outPlan[i] == face {
			return true
		}
	}
	return false
}

// CollapseTo restricts the remaining outbound plan to exactly [face] (spec
// §4.F: "collapse our plan to just that face").
func (e *pitEntry) CollapseTo(face defn.FaceID) { e.outPlan = []defn.FaceID{face}; e.sent = 0 }

func (e *pitEntry) MarkEquivalent()              { e.flags |= PitSubsumedEquivalent }
func (e *pitEntry) AddExtraDelay(d time.Duration) { e.extraDelay += d }
func (e *pitEntry) ExtraDelay() time.Duration    { return e.extraDelay }
func (e *pitEntry) AddFlags(v PitFlags)          { e.flags |= v }
func (e *pitEntry) ClearFlags(v PitFlags)        { e.flags &^= v }
func (e *pitEntry) SetExpireAt(t time.Time)      { e.expireAt = t }

// BumpSameFaceRetries increments and returns the same-face-redundancy
// counter used by spec §4.F's similar-interest adjustment.
func (e *pitEntry) BumpSameFaceRetries() int {
	e.sameFaceRetries++
	return e.sameFaceRetries
}

// SetWaitEvent/WaitEvent let fw attach its scheduler handle to the entry
// without this package knowing the handle's type (it lives in package fw).
func (e *pitEntry) SetWaitEvent(v any) { e.waitEvent = v }
func (e *pitEntry) WaitEvent() any     { return e.waitEvent }

// Fgen/SetFgen record the Name-Prefix Table's global forward_to_gen as of
// the last time this entry's outbound plan was computed, so the timer
// callback can tell a stale plan from a current one (spec §4.F: "re-check
// if fgen is stale").
func (e *pitEntry) Fgen() uint64     { return e.fgen }
func (e *pitEntry) SetFgen(v uint64) { e.fgen = v }

// OwningPrefix walks e's list pointers forward until it reaches a sentinel
// node (owner != nil), recovering the prefix entry that owns e without e
// itself ever storing a direct pointer (spec §3, tested by spec §8's first
// invariant).
func (e *pitEntry) OwningPrefix() *npEntry {
	cur := e
	for cur.owner == nil {
		cur = cur.listNext
	}
	return cur.owner
}

const pitLockRounds = 2

// PendingInterestTable is spec §4.E's PIT: a nonce-keyed table of in-flight
// interests, each simultaneously linked into its prefix's propagation list.
type PendingInterestTable struct {
	byNonce map[string]*pitEntry
}

func NewPendingInterestTable() *PendingInterestTable {
	return &PendingInterestTable{byNonce: make(map[string]*pitEntry)}
}

func (p *PendingInterestTable) Len() int { return len(p.byNonce) }

func (p *PendingInterestTable) Lookup(nonce []byte) (*pitEntry, bool) {
	e, ok := p.byNonce[string(nonce)]
	return e, ok
}

// Insert creates a new PIT entry for a novel nonce and links it into
// prefix's propagation list (spec §4.E step 3-4). Panics if the nonce
// already exists — callers must check Lookup first (spec §8: "at most one
// PIT entry exists simultaneously" per nonce).
func (p *PendingInterestTable) Insert(prefix *npEntry, nonce []byte, origin defn.FaceID, interest *wire.Interest, interestBytes []byte, lifetime time.Duration, now time.Time) *pitEntry {
	if _, exists := p.byNonce[string(nonce)]; exists {
		panic("table: PIT insert with duplicate nonce")
	}
	e := &pitEntry{
		nonce:         append([]byte(nil), nonce...),
		origin:        origin,
		interest:      interest,
		interestBytes: interestBytes,
		expireAt:      now.Add(lifetime),
		flags:         PitUnsent,
	}
	p.linkTail(prefix, e)
	p.byNonce[string(nonce)] = e
	return e
}

func (p *PendingInterestTable) linkTail(prefix *npEntry, e *pitEntry) {
	sentinel := &prefix.pitHead
	e.listPrev = sentinel.listPrev
	e.listNext = sentinel
	sentinel.listPrev.listNext = e
	sentinel.listPrev = e
}

func (p *PendingInterestTable) unlink(e *pitEntry) {
	e.listPrev.listNext = e.listNext
	e.listNext.listPrev = e.listPrev
	e.listPrev = nil
	e.listNext = nil
}

// Consume implements spec §4.E's "PIT entry consume": unlink from the
// prefix's propagation list, free the interest payload and outbound plan,
// but keep the nonce key locked against duplicates for pitLockRounds
// reaper passes.
func (p *PendingInterestTable) Consume(e *pitEntry, now time.Time, reaperInterval time.Duration) {
	if e.consumed {
		return
	}
	p.unlink(e)
	e.interest = nil
	e.interestBytes = nil
	e.outPlan = nil
	e.consumed = true
	e.lockedUntil = now.Add(time.Duration(pitLockRounds) * reaperInterval)
}

// Sweep removes every nonce-locked, consumed entry whose lock has expired
// (spec §4.I's face/PIT reaper).
func (p *PendingInterestTable) Sweep(now time.Time) int {
	removed := 0
	for k, e := range p.byNonce {
		if e.consumed && !now.Before(e.lockedUntil) {
			delete(p.byNonce, k)
			removed++
		}
	}
	return removed
}

// PropagationList iterates every live (non-sentinel) PIT entry linked to
// prefix, in list order, stopping early if fn returns false.
func PropagationList(prefix *npEntry, fn func(*pitEntry) bool) {
	sentinel := &prefix.pitHead
	for cur := sentinel.listNext; cur != sentinel; cur = cur.listNext {
		if !fn(cur) {
			return
		}
	}
}
