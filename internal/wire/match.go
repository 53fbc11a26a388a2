package wire

import "bytes"

// Matches implements spec §4.C's "full interest match predicate": prefix
// match, Exclude, PublisherPublicKeyDigest, MinSuffixComponents /
// MaxSuffixComponents, and the stale-policy bit of AnswerOriginKind. The
// caller supplies expandedName (the candidate's name with its trailing
// digest component made explicit, spec §4.G) and whether the candidate is
// currently flagged stale; child-selector ordering (leftmost/rightmost) is
// a traversal concern handled by the content-store walk, not this
// predicate.
func (it *Interest) Matches(co *ContentObject, expandedName Name, stale bool) bool {
	if !it.Name.IsPrefixOf(expandedName) {
		return false
	}

	suffix := len(expandedName) - len(it.Name)
	if v, ok := it.MinSuffixComponents.Get(); ok && suffix < v {
		return false
	}
	if v, ok := it.MaxSuffixComponents.Get(); ok && suffix > v {
		return false
	}

	if stale {
		const answerStale = 1 << 2 // defn.AnswerStale
		if it.AnswerOriginKind&answerStale == 0 {
			return false
		}
	}

	if len(it.PublisherPublicKeyDigest) > 0 {
		if !bytes.Equal(it.PublisherPublicKeyDigest, co.SignedInfo.PublisherPublicKeyDigest) {
			return false
		}
	}

	if len(it.Exclude) > 0 && suffix > 0 {
		// Exclude applies to the first component beyond the Interest's own
		// name, i.e. the component at depth len(it.Name) in expandedName.
		candidate := expandedName[len(it.Name)]
		if it.Exclude.Matches(candidate) {
			return false
		}
	}

	return true
}
