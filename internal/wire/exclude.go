package wire

// ExcludeElement is one item of an Interest's Exclude block: either the
// "Any" wildcard marker or a single excluded Component.
type ExcludeElement struct {
	Any  bool
	Comp Component
}

// Exclude is the Interest's Exclude field: an ordered list alternating
// optional Any markers and excluded components.
type Exclude []ExcludeElement

// Matches reports whether c is excluded by this Exclude block. Grounded on
// original_source/ccnx-0.3.0/csrc/ccnd/ccnd.c's ccn_exclude_matches: a bare
// Component entry excludes an exact match; an Any marker excludes
// everything between its neighboring Component bounds (here: excludes
// components ordering strictly after the preceding Component and
// strictly before the following one; the bounds themselves are excluded by
// their own Component entries).
func (ex Exclude) Matches(c Component) bool {
	for i, e := range ex {
		if !e.Any {
			if e.Comp.Compare(c) == 0 {
				return true
			}
			continue
		}
		// Any: excludes the open interval (prev, next) between neighboring
		// Component bounds, or an unbounded side if there is no neighbor.
		var lowOK, highOK = true, true
		if i > 0 && !ex[i-1].Any {
			lowOK = ex[i-1].Comp.Compare(c) < 0
		}
		if i+1 < len(ex) && !ex[i+1].Any {
			highOK = c.Compare(ex[i+1].Comp) < 0
		}
		if lowOK && highOK {
			return true
		}
	}
	return false
}

// FastExcludeComponent implements spec §4.C's fast-exclude optimization for
// the single-component leading case only (DESIGN.md Open Question #1): if
// the Exclude block is exactly `<Any/><Component>C</Component>`, possibly
// followed by more elements that only further restrict (never widen) the
// match, return C and true so the content-store lookup can seek directly to
// name-prefix||C instead of walking from the bare prefix.
func (ex Exclude) FastExcludeComponent() (Component, bool) {
	if len(ex) >= 2 && ex[0].Any && !ex[1].Any {
		return ex[1].Comp, true
	}
	return Component{}, false
}
