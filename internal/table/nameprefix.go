package table

import (
	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/wire"
)

// FibFlags are spec §3's Forwarding Entry flags, named directly after
// original_source/ccnx-0.3.0/csrc/ccnd/ccnd_private.h's CCN_FORW_* bits
// (the distillation's source of truth for this exact flag set).
type FibFlags uint16

const (
	FibActive FibFlags = 1 << iota
	FibChildInherit
	FibAdvertise
	FibLast
	FibCapture
	FibLocal
	FibTap
	FibRefreshed
)

// fibEntry is spec §3's Forwarding Entry: a single next-hop within a
// Name-Prefix Entry's list.
type fibEntry struct {
	face           defn.FaceID
	flags          FibFlags
	remainingSec   int
}

const fibDefaultLifetimeSec = 300

// age implements spec §4.F's "Aged every 5 seconds; not-refreshed entries
// are dropped": a just-(re)registered entry is given one age tick of grace
// (its REFRESHED flag absorbs the first decrement), after which its
// remaining lifetime counts down to zero.
func (f *fibEntry) age(stepSec int) (drop bool) {
	if f.flags&FibRefreshed != 0 {
		f.flags &^= FibRefreshed
		return false
	}
	f.remainingSec -= stepSec
	return f.remainingSec <= 0
}

// NpFlags are the Name-Prefix Entry's namespace flags (spec §3, §4.E step 5).
type NpFlags uint8

const (
	NpLocal NpFlags = 1 << iota
)

// NpEntry lets other packages (fw) name a Name-Prefix Entry in their own
// function signatures; the underlying type's fields stay unexported and
// reachable only through this package's methods.
type NpEntry = npEntry

// npEntry is spec §3's Name-Prefix Entry.
type npEntry struct {
	key      []byte
	depth    int
	parent   *npEntry
	children int

	fib []*fibEntry

	forwardTo []defn.FaceID
	tapFaces  []defn.FaceID
	fgen      uint64

	usec int64 // response-time predictor, microseconds, clamped [127, 1_000_000]
	src  defn.FaceID
	osrc defn.FaceID

	flags NpFlags

	pitHead pitEntry // sentinel of the propagation list; pitHead.owner == this
}

const (
	usecMin     = 127
	usecMax     = 1_000_000
	usecDefault = 100_000
)

func clampUsec(v int64) int64 {
	if v < usecMin {
		return usecMin
	}
	if v > usecMax {
		return usecMax
	}
	return v
}

// NudgeDown pulls the response-time predictor toward a faster estimate on
// a successful content match (spec §4.D: "multiplicative factor ≈ 1 − 2⁻⁷").
func (e *npEntry) NudgeDown() {
	e.usec = clampUsec(e.usec - e.usec>>7)
}

// NudgeUp pushes the predictor up on a new pending-interest attempt
// (spec §4.D: "factor ≈ 1 + 2⁻³").
func (e *npEntry) NudgeUp() {
	e.usec = clampUsec(e.usec + e.usec>>3)
}

// Usec returns the current response-time estimate in microseconds.
func (e *npEntry) Usec() int64 { return e.usec }

// RecordSource rotates src into osrc on a content match from a different
// face (spec §4.D).
func (e *npEntry) RecordSource(face defn.FaceID) {
	if e.src != face {
		e.osrc = e.src
		e.src = face
	}
}

func (e *npEntry) Key() []byte      { return e.key }
func (e *npEntry) Depth() int       { return e.depth }
func (e *npEntry) Parent() *npEntry { return e.parent }
func (e *npEntry) Flags() NpFlags   { return e.flags }

// ForwardTo returns the cached forward-to vector computed by the most
// recent RefreshForwardTo (spec §4.D). Callers that need it current should
// call RefreshForwardTo (directly or via LookupOutbound) first.
func (e *npEntry) ForwardTo() []defn.FaceID { return e.forwardTo }
func (e *npEntry) TapFaces() []defn.FaceID  { return e.tapFaces }
func (e *npEntry) Src() defn.FaceID         { return e.src }
func (e *npEntry) Osrc() defn.FaceID        { return e.osrc }
func (e *npEntry) HasFib() bool             { return len(e.fib) > 0 }

// TapFacesContain reports whether face is in the cached TAP vector (spec
// §4.F: "TAP interests fire with 1 us delay").
func (e *npEntry) TapFacesContain(face defn.FaceID) bool {
	for _, f := range e.tapFaces {
		if f == face {
			return true
		}
	}
	return false
}
func (e *npEntry) IsEmpty() bool {
	return len(e.fib) == 0 && e.children == 0 && e.src == defn.NoFace && e.pitHead.listNext == &e.pitHead
}

// AliveChecker lets the table package ask whether a FaceID still names a
// live face without importing the face package (which would create an
// import cycle, since fw wires face and table together).
type AliveChecker interface {
	Alive(defn.FaceID) bool
}

// NamePrefixTable is spec §4.D's Name-Prefix Table: FIB + propagation
// state + response-time predictor, keyed by prefix bytes.
type NamePrefixTable struct {
	root         *npEntry
	byKey        map[string]*npEntry
	forwardToGen uint64
	alive        AliveChecker
}

func NewNamePrefixTable(alive AliveChecker) *NamePrefixTable {
	root := newNpEntry(nil, 0, nil)
	return &NamePrefixTable{
		root:  root,
		byKey: map[string]*npEntry{"": root},
		alive: alive,
	}
}

func newNpEntry(key []byte, depth int, parent *npEntry) *npEntry {
	e := &npEntry{key: key, depth: depth, parent: parent, usec: usecDefault}
	e.pitHead.listNext = &e.pitHead
	e.pitHead.listPrev = &e.pitHead
	e.pitHead.owner = e
	e.pitHead.origin = defn.NoFace
	return e
}

// Seek walks name progressively from 0 components up to depth, creating
// any missing ancestors and linking each to the immediate-shorter entry
// created on the same walk (spec §4.D).
func (t *NamePrefixTable) Seek(name wire.Name, depth int) *npEntry {
	cur := t.root
	for d := 1; d <= depth; d++ {
		prefix := name[:d]
		k := string(prefix.Bytes())
		e, ok := t.byKey[k]
		if !ok {
			e = newNpEntry([]byte(k), d, cur)
			t.byKey[k] = e
			cur.children++
		}
		cur = e
	}
	return cur
}

// Find returns the existing entry for name's full length, or nil if it has
// never been created.
func (t *NamePrefixTable) Find(name wire.Name) *npEntry {
	return t.byKey[string(name.Bytes())]
}

// AddRoute registers a FIB next-hop at the entry for prefix (seeking it
// into existence first), returning the entry.
func (t *NamePrefixTable) AddRoute(prefix wire.Name, face defn.FaceID, flags FibFlags, lifetimeSec int) *npEntry {
	e := t.Seek(prefix, len(prefix))
	if lifetimeSec <= 0 {
		lifetimeSec = fibDefaultLifetimeSec
	}
	for _, f := range e.fib {
		if f.face == face {
			f.flags = flags | FibActive | FibRefreshed
			f.remainingSec = lifetimeSec
			t.bumpGen()
			return e
		}
	}
	e.fib = append(e.fib, &fibEntry{face: face, flags: flags | FibActive | FibRefreshed, remainingSec: lifetimeSec})
	t.bumpGen()
	return e
}

// RemoveRoute deletes the single (prefix, face) FIB entry (spec §6 `unreg`).
func (t *NamePrefixTable) RemoveRoute(prefix wire.Name, face defn.FaceID) bool {
	e := t.Find(prefix)
	if e == nil {
		return false
	}
	for i, f := range e.fib {
		if f.face == face {
			e.fib = append(e.fib[:i], e.fib[i+1:]...)
			t.bumpGen()
			return true
		}
	}
	return false
}

func (t *NamePrefixTable) bumpGen() { t.forwardToGen++ }

// Gen returns the table's current forward_to_gen, so callers can stamp a
// PIT entry's outbound plan and later detect that routes may have changed
// (spec §4.D's forward-to cache, consulted by §4.F's timer callback).
func (t *NamePrefixTable) Gen() uint64 { return t.forwardToGen }

// AgeFib runs spec §4.F/§4.I's FIB ager over every entry, dropping
// not-refreshed forwarding entries and bumping forwardToGen on any change.
func (t *NamePrefixTable) AgeFib(stepSec int) {
	changed := false
	for _, e := range t.byKey {
		kept := e.fib[:0]
		for _, f := range e.fib {
			if f.age(stepSec) {
				changed = true
				continue
			}
			kept = append(kept, f)
		}
		e.fib = kept
	}
	if changed {
		t.bumpGen()
	}
}

// ReapEmpty removes entries with no FIB, no children, no pending interests
// and no recorded source (spec §3's Name-Prefix Entry lifecycle, run by
// the face/PIT reaper of spec §4.I). The root is never removed.
func (t *NamePrefixTable) ReapEmpty() int {
	removed := 0
	for k, e := range t.byKey {
		if e == t.root || !e.IsEmpty() {
			continue
		}
		delete(t.byKey, k)
		if e.parent != nil {
			e.parent.children--
		}
		removed++
	}
	return removed
}

type faceVote struct {
	face defn.FaceID
	tap  bool
	last bool
}

// RefreshForwardTo recomputes e.forwardTo/e.tapFaces if the global
// forwardToGen has advanced past e.fgen (spec §4.D's "Forward-to cache").
func (t *NamePrefixTable) RefreshForwardTo(e *npEntry) {
	if e.fgen == t.forwardToGen {
		return
	}

	var votes []faceVote
	seen := make(map[defn.FaceID]bool)
	captured := false
	nsFlags := NpFlags(0)

	for level, cur := 0, e; cur != nil; level, cur = level+1, cur.parent {
		for _, f := range cur.fib {
			if f.flags&FibActive == 0 {
				continue
			}
			if !t.alive.Alive(f.face) {
				continue
			}
			if level > 0 && f.flags&FibChildInherit == 0 {
				continue
			}
			if level > 0 && captured {
				continue
			}
			if seen[f.face] {
				continue
			}
			seen[f.face] = true
			votes = append(votes, faceVote{face: f.face, tap: f.flags&FibTap != 0, last: f.flags&FibLast != 0})
			if f.flags&FibCapture != 0 {
				captured = true
			}
			if f.flags&FibLocal != 0 {
				nsFlags |= NpLocal
			}
		}
	}

	// DESIGN.md Open Question #2: TAP faces are promoted to the front
	// first, then LAST faces are moved to the very end — so a FIB entry
	// carrying both flags ends up last, matching the original's order of
	// operations even though spec.md flags this as possibly unintentional.
	var taps, rest, last []defn.FaceID
	for _, v := range votes {
		switch {
		case v.last:
			last = append(last, v.face)
		case v.tap:
			taps = append(taps, v.face)
		default:
			rest = append(rest, v.face)
		}
	}

	ordered := make([]defn.FaceID, 0, len(votes))
	ordered = append(ordered, taps...)
	ordered = append(ordered, rest...)
	ordered = append(ordered, last...)

	e.forwardTo = ordered
	e.tapFaces = taps
	e.flags = nsFlags
	e.fgen = t.forwardToGen
}

// LookupOutbound walks root-ward from e until a non-empty FIB list is
// found, refreshes its forward_to cache, and returns the entry used
// (spec §4.F: "Start from the longest-existing prefix entry ... walk
// root-ward until a non-null FIB list is found").
func (t *NamePrefixTable) LookupOutbound(e *npEntry) *npEntry {
	for cur := e; cur != nil; cur = cur.parent {
		if len(cur.fib) > 0 {
			t.RefreshForwardTo(cur)
			return cur
		}
	}
	return nil
}
