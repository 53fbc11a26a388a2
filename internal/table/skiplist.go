package table

import (
	"math/rand"

	"github.com/ccnd-go/ccnd/internal/wire"
)

// maxSkiplistLevels caps the height any content-store skiplist node may
// reach (spec §4.C).
const maxSkiplistLevels = 30

// skipNode is the intrusive forward-pointer array spec §4.C's Content
// Entry carries. It is embedded directly in csEntry rather than boxed
// separately, matching the "arena-allocated tables ... cross-references as
// handles" guidance of spec §9 — no node exists independent of its entry.
type skipNode struct {
	key     wire.Name
	forward []*csEntry
}

// skiplist is the Content Store's name-ordered index: a probabilistic
// multi-level linked list over csEntry values keyed by their expanded
// name. Grounded on spec §4.C; there is no teacher analog (ndnd's content
// store uses a different index), so this is built directly from the
// invariants and the "Skiplist round-trip" testable property of spec §8.
type skiplist struct {
	head  []*csEntry // head.forward[i] is head's forward pointer at level i
	level int        // highest currently-occupied level (0-based)
	rng   *rand.Rand
}

func newSkiplist(rng *rand.Rand) *skiplist {
	return &skiplist{
		head:  make([]*csEntry, maxSkiplistLevels),
		level: 0,
		rng:   rng,
	}
}

// randomLevel draws a level by repeatedly sampling a 1-in-4 chance,
// starting at 0 and incrementing until it misses, capped so the resulting
// height never exceeds maxSkiplistLevels-1 (spec §4.C: "expected ≈1.33,
// capped at 29").
func (s *skiplist) randomLevel() int {
	lvl := 0
	for lvl < maxSkiplistLevels-1 && s.rng.Intn(4) == 0 {
		lvl++
	}
	return lvl
}

// update returns, for every level from the top down to 0, the last node
// whose key is strictly less than key — the classic skiplist "update"
// array used by both insert and find_before (spec §4.C).
func (s *skiplist) update(key wire.Name) []*csEntry {
	update := make([]*csEntry, maxSkiplistLevels)
	cur := (*csEntry)(nil)
	for lvl := s.level; lvl >= 0; lvl-- {
		var fwd *csEntry
		if cur == nil {
			fwd = s.head[lvl]
		} else {
			fwd = cur.skip.forward[lvl]
		}
		for fwd != nil && fwd.skip.key.Compare(key) < 0 {
			cur = fwd
			fwd = cur.skip.forward[lvl]
		}
		update[lvl] = cur
	}
	return update
}

// findBefore implements spec §4.C's find_before: the level-0 predecessor
// of key, i.e. the last entry (if any) whose key is < key.
func (s *skiplist) findBefore(key wire.Name) *csEntry {
	return s.update(key)[0]
}

// first returns the level-0 head of the list (the smallest entry), or nil.
func (s *skiplist) first() *csEntry {
	return s.head[0]
}

// at returns the entry whose key equals key, or nil.
func (s *skiplist) at(key wire.Name) *csEntry {
	pred := s.findBefore(key)
	var cand *csEntry
	if pred == nil {
		cand = s.head[0]
	} else {
		cand = pred.skip.forward[0]
	}
	if cand != nil && cand.skip.key.Compare(key) == 0 {
		return cand
	}
	return nil
}

// insert splices e into the list at a freshly-drawn level, using key as
// its ordering key (spec §4.C: "Insert splices in at levels [0, d)").
func (s *skiplist) insert(e *csEntry) {
	update := s.update(e.skip.key)
	lvl := s.randomLevel()
	if lvl > s.level {
		for i := s.level + 1; i <= lvl; i++ {
			update[i] = nil
		}
		s.level = lvl
	}

	e.skip.forward = make([]*csEntry, lvl+1)
	for i := 0; i <= lvl; i++ {
		if update[i] == nil {
			e.skip.forward[i] = s.head[i]
			s.head[i] = e
		} else {
			e.skip.forward[i] = update[i].skip.forward[i]
			update[i].skip.forward[i] = e
		}
	}
}

// remove splices e out of the list at every level it participates in
// (spec §4.C: "remove splices out").
func (s *skiplist) remove(e *csEntry) {
	update := s.update(e.skip.key)
	for i := 0; i <= s.level; i++ {
		var cur *csEntry
		if update[i] == nil {
			cur = s.head[i]
		} else {
			cur = update[i].skip.forward[i]
		}
		if cur != e {
			continue
		}
		if update[i] == nil {
			s.head[i] = e.skip.forward[i]
		} else {
			update[i].skip.forward[i] = e.skip.forward[i]
		}
	}
	for s.level > 0 && s.head[s.level] == nil {
		s.level--
	}
	e.skip.forward = nil
}

// walkFrom calls fn for every entry from start (inclusive) to the end of the
// level-0 list, in ascending key order, stopping early if fn returns false.
func walkFrom(start *csEntry, fn func(*csEntry) bool) {
	for e := start; e != nil; e = e.skip.forward[0] {
		if !fn(e) {
			return
		}
	}
}
