// Package table implements the three tables the forwarding engine consults
// on every Interest/Content arrival: the Content Store (this file,
// skiplist.go), the Name-Prefix Table / FIB (nameprefix.go), and the
// Pending Interest Table (pit.go). Grounded on spec.md §3-§4.C-E; there is
// no direct teacher analog for these specific structures (ndnd's forwarder
// core was not present in the retrieval pack), so they are built from the
// invariants, field lists and concrete scenarios spec.md gives, in the
// idiom the present teacher files (fw/mgmt/*, std/types/*) establish:
// typed bitflags, Optional[T] for absent fields, table ops as methods on an
// owning struct, no package-level mutable state.
package table

import (
	"math/rand"
	"time"

	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/wire"
)

// CsFlags are the Content Entry flags of spec §3.
type CsFlags uint8

const (
	CsSlowSend CsFlags = 1 << iota
	CsStale
	CsPrecious
	CsUnsolicited
)

// csEntry is spec §3's Content Entry: an immutable Content Object plus
// index metadata.
type csEntry struct {
	skip      skipNode
	accession uint32
	object    *wire.ContentObject
	wireBytes []byte
	flags     CsFlags
	freshness time.Duration // 0 means no freshness window
	staleAt   time.Time
}

func (e *csEntry) Index() uint64       { return uint64(e.accession) }
func (e *csEntry) StaleTime() time.Time { return e.staleAt }

// Copy returns the decoded object and its raw wire bytes, the shape the
// delivery path (spec §4.H) and management status dumps need without
// re-decoding.
func (e *csEntry) Copy() (*wire.ContentObject, []byte, error) {
	return e.object, e.wireBytes, nil
}

// accessionWindowInitial is the starting size of the dense accession
// vector (spec §4.C).
const accessionWindowInitial = 1024

// ContentStore is spec §4.C's Content Store: a name-ordered skiplist
// combined with an accession-indexed dense vector and a sparse straggler
// side-table.
type ContentStore struct {
	capacity int
	admit    bool
	serve    bool

	skip *skiplist
	byKey map[string]*csEntry // expanded-name bytes -> entry, for O(1) exact lookups (digest collisions)

	nextAccession uint32
	base          uint32
	dense         []*csEntry
	straggler     map[uint32]*csEntry

	unsolicited []*csEntry // preferentially dropped by the cleaner first

	hits, misses uint64
}

// NewContentStore builds a Content Store with the given capacity (0 forces
// zero-freshness-everywhere mode per CCND_CAP, handled by the caller
// clamping FreshnessSeconds to 0 before Insert).
func NewContentStore(capacity int, rng *rand.Rand) *ContentStore {
	return &ContentStore{
		capacity:  capacity,
		admit:     true,
		serve:     true,
		skip:      newSkiplist(rng),
		byKey:     make(map[string]*csEntry),
		dense:     make([]*csEntry, accessionWindowInitial),
		straggler: make(map[uint32]*csEntry),
	}
}

func (cs *ContentStore) Len() int  { return len(cs.byKey) }
func (cs *ContentStore) Capacity() int { return cs.capacity }
func (cs *ContentStore) SetCapacity(n int) { cs.capacity = n }
func (cs *ContentStore) Admit() bool   { return cs.admit }
func (cs *ContentStore) SetAdmit(v bool) { cs.admit = v }
func (cs *ContentStore) Serve() bool   { return cs.serve }
func (cs *ContentStore) SetServe(v bool) { cs.serve = v }
func (cs *ContentStore) Hits() uint64   { return cs.hits }
func (cs *ContentStore) Misses() uint64 { return cs.misses }

// byAccession looks up an entry by its accession handle, consulting the
// dense window first and falling back to the straggler map (spec §4.C).
func (cs *ContentStore) byAccession(a uint32) *csEntry {
	if a >= cs.base {
		idx := a - cs.base
		if int(idx) < len(cs.dense) {
			return cs.dense[idx]
		}
	}
	return cs.straggler[a]
}

// placeAccession records e at its accession slot, growing or compacting
// the dense window as spec §4.C describes.
func (cs *ContentStore) placeAccession(e *csEntry) {
	idx := e.accession - cs.base
	if int(idx) >= len(cs.dense) {
		cs.growOrCleanout()
		idx = e.accession - cs.base
	}
	if int(idx) < len(cs.dense) {
		cs.dense[idx] = e
	} else {
		cs.straggler[e.accession] = e
	}
}

// growOrCleanout implements spec §4.C: "When the dense vector is sparsely
// populated (occupancy < 1/8 of window), a cleanout compacts ... When the
// vector would overflow, either cleanout creates room or the vector grows
// by ~1.5x."
func (cs *ContentStore) growOrCleanout() {
	occupied := 0
	for _, e := range cs.dense {
		if e != nil {
			occupied++
		}
	}
	if len(cs.dense) > 0 && occupied < len(cs.dense)/8 {
		// Shift the window down to its first occupied slot, keeping every
		// entry at accession-base so byAccession still finds it.
		first := 0
		for first < len(cs.dense) && cs.dense[first] == nil {
			first++
		}
		compacted := make([]*csEntry, len(cs.dense))
		copy(compacted, cs.dense[first:])
		cs.base += uint32(first)
		cs.dense = compacted
		return
	}
	grown := make([]*csEntry, len(cs.dense)+len(cs.dense)/2+1)
	copy(grown, cs.dense)
	cs.dense = grown
}

func keyOf(name wire.Name) string { return string(name.Bytes()) }

// Insert records a newly-accepted Content Object under its expanded name
// (spec §4.G step 3-4). Returns the new entry and whether it replaced a
// pre-existing stale entry in place (spec §4.G step 5).
func (cs *ContentStore) Insert(expanded wire.Name, obj *wire.ContentObject, wireBytes []byte, freshness time.Duration) (*csEntry, bool) {
	k := keyOf(expanded)
	if existing, ok := cs.byKey[k]; ok {
		wasStale := existing.flags&CsStale != 0
		existing.flags &^= CsStale
		existing.freshness = freshness
		existing.rearmFreshness()
		return existing, wasStale
	}

	e := &csEntry{
		skip:      skipNode{key: expanded},
		accession: cs.nextAccession,
		object:    obj,
		wireBytes: wireBytes,
		freshness: freshness,
	}
	cs.nextAccession++
	cs.skip.insert(e)
	cs.byKey[k] = e
	cs.placeAccession(e)
	e.rearmFreshness()
	return e, false
}

// rearmFreshness arms the staleAt timestamp from now; the reaper compares
// it against wall-clock time rather than relying on a scheduled callback
// per entry, keeping the hot insert path allocation-free (spec §4.C:
// "armed with an expiry event").
func (e *csEntry) rearmFreshness() {
	if e.freshness > 0 {
		e.staleAt = time.Now().Add(e.freshness)
	} else {
		e.staleAt = time.Time{}
	}
}

// PollStaleness flips STALE on every entry whose freshness window has
// elapsed as of now. Called once per event-loop iteration from the
// Content Store's reaper path (spec §4.I) rather than one timer per entry.
func (cs *ContentStore) PollStaleness(now time.Time) {
	for _, e := range cs.byKey {
		if e.freshness > 0 && !e.staleAt.IsZero() && now.After(e.staleAt) && e.flags&CsStale == 0 {
			e.flags |= CsStale
		}
	}
}

// MarkUnsolicited records e as received with no matching PIT hit (spec
// §4.G step 8), making it a preferred cleaner target.
func (cs *ContentStore) MarkUnsolicited(e *csEntry) {
	e.flags |= CsSlowSend | CsUnsolicited
	cs.unsolicited = append(cs.unsolicited, e)
}

// MarkPrecious protects e from eviction (spec §3, §4.G step 4's bootstrap
// KEY-object handling).
func (cs *ContentStore) MarkPrecious(e *csEntry) { e.flags |= CsPrecious }

// WireBytesByAccession returns the raw encoded bytes of the entry at
// accession, the shape a Content Queue's sender event needs to write
// straight to a face (spec §4.H).
func (cs *ContentStore) WireBytesByAccession(accession uint32) ([]byte, bool) {
	e := cs.byAccession(accession)
	if e == nil {
		return nil, false
	}
	return e.wireBytes, true
}

// Peek returns the existing entry keyed by expanded, if any, without
// touching hit/miss counters (spec §4.G step 3's collision check).
func (cs *ContentStore) Peek(expanded wire.Name) (*csEntry, bool) {
	e, ok := cs.byKey[keyOf(expanded)]
	return e, ok
}

// Remove deletes e from every index (spec §4.G step 3's "discard both" and
// §4.G step 7's LOCAL-namespace drop).
func (cs *ContentStore) Remove(e *csEntry) { cs.remove(e) }

func (cs *ContentStore) remove(e *csEntry) {
	cs.skip.remove(e)
	delete(cs.byKey, keyOf(e.skip.key))
	if idx := e.accession - cs.base; int(idx) < len(cs.dense) {
		cs.dense[idx] = nil
	} else {
		delete(cs.straggler, e.accession)
	}
}

// Clean implements spec §4.C's background cleaner, run when the store
// exceeds capacity: first drops unsolicited entries, then stale entries in
// accession order (bounded per round), then as a last resort marks the
// oldest non-precious entries stale. Returns the number of entries
// removed or newly marked stale this round.
func (cs *ContentStore) Clean(maxPerRound int) int {
	if cs.capacity <= 0 || cs.Len() <= cs.capacity {
		return 0
	}
	work := 0

	// Phase 1: unsolicited entries, oldest first.
	for len(cs.unsolicited) > 0 && cs.Len() > cs.capacity && work < maxPerRound {
		e := cs.unsolicited[0]
		cs.unsolicited = cs.unsolicited[1:]
		if _, ok := cs.byKey[keyOf(e.skip.key)]; !ok {
			continue // already removed by another path
		}
		cs.remove(e)
		work++
	}

	// Phase 2: accession-ordered stale entries.
	a := cs.base
	scanned := 0
	for cs.Len() > cs.capacity && work < maxPerRound && scanned < len(cs.dense)+len(cs.straggler) {
		e := cs.byAccession(a)
		a++
		scanned++
		if e == nil || e.flags&CsStale == 0 || e.flags&CsPrecious != 0 {
			continue
		}
		cs.remove(e)
		work++
	}

	// Phase 3: last resort — mark oldest non-precious entries stale so the
	// next round can evict them.
	if cs.Len() > cs.capacity && work < maxPerRound {
		a = cs.base
		for scanned = 0; work < maxPerRound && scanned < len(cs.dense)+len(cs.straggler); scanned++ {
			e := cs.byAccession(a)
			a++
			if e != nil && e.flags&CsPrecious == 0 && e.flags&CsStale == 0 {
				e.flags |= CsStale
				work++
			}
		}
	}
	return work
}

// Lookup implements spec §4.C's interest lookup: the fast-exclude
// optimization when applicable, a forward walk testing each candidate
// against the full match predicate, honoring child-selector ordering.
func (cs *ContentStore) Lookup(it *wire.Interest, allowStale bool) (*csEntry, bool) {
	if !cs.serve {
		return nil, false
	}

	seekKey := it.Name
	if comp, ok := it.Exclude.FastExcludeComponent(); ok {
		seekKey = it.Name.Append(comp)
	}

	start := cs.skip.first()
	if pred := cs.skip.findBefore(seekKey); pred != nil {
		start = pred.skip.forward[0]
	}

	var best *csEntry
	walkFrom(start, func(e *csEntry) bool {
		if !it.Name.IsPrefixOf(e.skip.key) {
			// The skiplist is globally name-ordered and every entry sharing
			// it.Name as a prefix forms one contiguous run; once we see a
			// non-prefix key we have walked past that run entirely.
			return false
		}
		stale := e.flags&CsStale != 0
		if stale && !allowStale {
			return true // keep walking; this candidate just doesn't qualify
		}
		if !it.Matches(e.object, e.skip.key, stale) {
			return true
		}
		if it.ChildSelector == defn.ChildLeftmost {
			best = e
			return false
		}
		// Rightmost: keep the last matching candidate seen while we're
		// still within the Interest's prefix.
		best = e
		return true
	})

	if best == nil {
		cs.misses++
		return nil, false
	}
	cs.hits++
	return best, true
}
