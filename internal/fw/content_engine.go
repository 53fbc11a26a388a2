package fw

import (
	"bytes"
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/face"
	"github.com/ccnd-go/ccnd/internal/table"
	"github.com/ccnd-go/ccnd/internal/wire"
)

// bootstrapWindow is spec §4.G step 4's "KEY object loaded within the first
// (capacity+7)/8 entries" bootstrap-phase PRECIOUS window.
func bootstrapWindow(capacity int) int {
	if capacity <= 0 {
		return 0
	}
	return (capacity + 7) / 8
}

// OnContent implements spec §4.G's Content Engine.
func (fwd *Forwarder) OnContent(arrival defn.FaceID, raw []byte, now time.Time) {
	if len(raw) > defn.MaxPacketSize {
		core.Log.Warn(fwd, "oversize content object dropped", "face", arrival, "len", len(raw))
		return
	}
	obj, err := wire.DecodeContentObject(raw)
	if err != nil {
		core.Log.Warn(fwd, "malformed content object dropped", "face", arrival, "err", err)
		return
	}

	arrivalFace := fwd.Faces.Get(arrival)
	if arrivalFace == nil {
		return
	}
	sourceGG := arrivalFace.Flags().Has(face.FlagGG)

	// Step 2: synthesize the expanded name carrying the explicit digest
	// component.
	expanded := obj.ExpandedName()

	// Step 3: collision check. Two distinct payloads can only end up under
	// the same expanded key via a genuine SHA-256 collision or a crafted
	// explicit digest component that doesn't match its own content; either
	// way, treat it as a security-relevant aberration and discard both.
	existing, existed := fwd.CS.Peek(expanded)
	if existed {
		existingObj, _, _ := existing.Copy()
		if !bytes.Equal(existingObj.Content, obj.Content) {
			fwd.CS.Remove(existing)
			core.Log.Warn(fwd, "content store key collision with differing payload; both discarded", "name", obj.Name)
			return
		}
	}

	freshness := freshnessOf(obj)
	if fwd.CS.Capacity() == 0 {
		freshness = 0
	}
	entry, _ := fwd.CS.Insert(expanded, obj, raw, freshness)

	if !existed {
		if obj.SignedInfo.Type == defn.ContentKey && fwd.CS.Len() <= bootstrapWindow(fwd.CS.Capacity()) {
			fwd.CS.MarkPrecious(entry)
		}
	}

	// Step 6: match against the PIT, longest-first root-ward.
	matched := fwd.matchContentAgainstPIT(obj, expanded, arrival, now)

	// Step 7: LOCAL-namespace content from a non-GG source is not retained.
	if outbound := fwd.NPT.LookupOutbound(fwd.NPT.Seek(obj.Name, len(obj.Name))); outbound != nil {
		if outbound.Flags()&table.NpLocal != 0 && !sourceGG {
			fwd.CS.Remove(entry)
			return
		}
	}

	// Step 8: unsolicited, non-GG-sourced content is flagged for
	// preferential eviction.
	if matched == 0 && !sourceGG {
		fwd.CS.MarkUnsolicited(entry)
	}
}

// freshnessOf converts a ContentObject's wire FreshnessSeconds into a
// Duration, or 0 if the field is absent (spec §4.G: "arm the freshness
// timer").
func freshnessOf(obj *wire.ContentObject) time.Duration {
	if v, ok := obj.SignedInfo.FreshnessSeconds.Get(); ok {
		return time.Duration(v) * time.Second
	}
	return 0
}

// matchContentAgainstPIT walks every Name-Prefix Entry along name's
// components from full length down to the root (spec §4.G: "longest-first,
// root-ward"), consuming every PIT entry whose interest predicate is
// satisfied and delivering the object to its origin face. Returns the
// number of PIT entries satisfied.
func (fwd *Forwarder) matchContentAgainstPIT(obj *wire.ContentObject, expanded wire.Name, arrival defn.FaceID, now time.Time) int {
	csEntry, ok := fwd.CS.Peek(expanded)
	if !ok {
		return 0
	}
	_, wireBytes, _ := csEntry.Copy()
	accession := uint32(csEntry.Index())

	matched := 0
	for depth := len(obj.Name); depth >= 0; depth-- {
		prefixEntry := fwd.NPT.Find(obj.Name[:depth])
		if prefixEntry == nil {
			continue
		}

		var satisfied []*table.PitEntry
		table.PropagationList(prefixEntry, func(pe *table.PitEntry) bool {
			if pe.Consumed() {
				return true
			}
			if pe.Interest().Matches(obj, expanded, false) {
				satisfied = append(satisfied, pe)
			}
			return true
		})

		for _, pe := range satisfied {
			origin := pe.Origin()
			fwd.PIT.Consume(pe, now, fwd.reaperInterval())
			prefixEntry.NudgeDown()
			prefixEntry.RecordSource(arrival)
			fwd.deliverContent(origin, accession, wireBytes, now)
			matched++
		}
	}
	return matched
}
