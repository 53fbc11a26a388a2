package fw

import (
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/face"
	"github.com/ccnd-go/ccnd/internal/table"
	"github.com/ccnd-go/ccnd/internal/wire"
)

// reaperInterval mirrors the face/PIT reaper's period (spec §4.I: "every ~2
// x interest-lifetime"), used to size how long a consumed PIT entry's nonce
// stays locked against duplicates (spec §4.E's "consume").
func (fwd *Forwarder) reaperInterval() time.Duration {
	return 2 * fwd.InterestLifetimeDefault()
}

// OnInterest implements spec §4.E's Interest acceptance and, where the
// content store doesn't already satisfy it, spec §4.F's propagation.
func (fwd *Forwarder) OnInterest(arrival defn.FaceID, raw []byte, now time.Time) {
	it, err := wire.DecodeInterest(raw)
	if err != nil {
		core.Log.Warn(fwd, "malformed interest dropped", "face", arrival, "err", err)
		return
	}

	if fwd.ManagementInterest != nil && fwd.ManagementInterest(arrival, it, raw, now) {
		return
	}

	// Step 2: nonce duplicate test. An interest with no nonce can never
	// collide (step 3 always synthesizes a fresh one before any insert), so
	// the dup test only applies when a nonce already rode in on the wire.
	if len(it.Nonce) > 0 {
		if existing, ok := fwd.PIT.Lookup(it.Nonce); ok {
			existing.RemoveFromPlan(arrival)
			return
		}
	} else {
		it.Nonce = wire.GenerateNonce(func(b []byte) { fwd.Rng.Read(b) })
	}

	// Step 4: longest-prefix lookup, creating any missing chain.
	prefix := fwd.NPT.Seek(it.Name, len(it.Name))

	// Step 5: LOCAL namespace restricted to GG-flagged faces.
	arrivalFace := fwd.Faces.Get(arrival)
	if arrivalFace == nil {
		return
	}
	if outbound := fwd.NPT.LookupOutbound(prefix); outbound != nil && outbound.Flags()&table.NpLocal != 0 {
		if !arrivalFace.Flags().Has(face.FlagGG) {
			core.Log.Debug(fwd, "local namespace interest from non-GG face dropped", "face", arrival)
			return
		}
	}

	// Step 6: content-store service, if the interest's answer-origin
	// permits it.
	if it.AnswerOriginKind&defn.AnswerContentStore != 0 {
		if entry, ok := fwd.CS.Lookup(it, true); ok {
			prefix.NudgeDown()
			prefix.RecordSource(arrival)
			_, wireBytes, _ := entry.Copy()
			fwd.deliverContent(arrival, uint32(entry.Index()), wireBytes, now)
			return
		}
	}

	// Step 7: propagate. Insert the PIT entry first (spec §4.E: "Each
	// entry is simultaneously linked into the propagation list of one
	// Name-Prefix Entry"), then compute and schedule its outbound plan.
	lifetime := it.InterestLifetime
	if lifetime <= 0 {
		lifetime = fwd.InterestLifetimeDefault()
	}
	entry := fwd.PIT.Insert(prefix, it.Nonce, arrival, it, raw, lifetime, now)
	prefix.NudgeUp()

	fwd.planAndSchedule(prefix, entry, arrivalFace, now)
}

// planAndSchedule implements spec §4.F: outbound-set computation, the
// similar-interest adjustment against the prefix's propagation list,
// history-biased ordering, and first-send scheduling.
func (fwd *Forwarder) planAndSchedule(prefix *table.NpEntry, entry *table.PitEntry, arrivalFace *face.Face, now time.Time) {
	outbound := fwd.computeOutboundSet(prefix, entry.Interest(), arrivalFace)

	if fwd.adjustForSimilarInterests(prefix, entry, arrivalFace, &outbound) {
		// Fully subsumed by an in-flight equivalent interest; nothing more
		// to do for this entry (spec §4.F: "drop the interest as fully
		// subsumed").
		fwd.PIT.Consume(entry, now, fwd.reaperInterval())
		return
	}

	entry.SetOutPlan(outbound)
	entry.SetFgen(fwd.NPT.Gen())
	fwd.scheduleFirstSend(prefix, entry, arrivalFace, now)
}

// computeOutboundSet implements spec §4.F's "Outbound set computation":
// resolve the nearest FIB-holding ancestor, apply the scope mask, always
// remove the origin face, then apply the outbound ordering (spec §4.F line
// 143): osrc promoted to front, then src promoted to front, then every TAP
// face promoted to the very front, producing [tap…, src, osrc, others…].
func (fwd *Forwarder) computeOutboundSet(prefix *table.NpEntry, it *wire.Interest, arrivalFace *face.Face) []defn.FaceID {
	scope, hasScope := it.Scope.Get()
	if hasScope && scope == defn.Scope0 {
		// Scope 0 interests are answered only from the content store and
		// are never forwarded (spec §4.E step 1).
		return nil
	}

	outboundEntry := fwd.NPT.LookupOutbound(prefix)
	if outboundEntry == nil {
		return nil
	}
	candidates := outboundEntry.ForwardTo()
	namespaceLocal := outboundEntry.Flags()&table.NpLocal != 0

	out := make([]defn.FaceID, 0, len(candidates))
	for _, id := range candidates {
		if id == arrivalFace.ID() {
			continue
		}
		f := fwd.Faces.Get(id)
		if f == nil || !f.Alive() {
			continue
		}
		if hasScope {
			switch scope {
			case defn.Scope1:
				if !f.Flags().Has(face.FlagGG) {
					continue
				}
			case defn.Scope2:
				if sameHostClass(f, arrivalFace) {
					continue
				}
			}
		}
		if namespaceLocal && !f.Flags().Has(face.FlagGG) {
			continue
		}
		out = append(out, id)
	}

	out = promoteToFront(out, prefix.Osrc())
	out = promoteToFront(out, prefix.Src())
	out = promoteTapsToFront(out, prefix)
	return out
}

// promoteToFront moves id to index 0 of out, preserving the relative order
// of everything else, or returns out unchanged if id isn't present.
func promoteToFront(out []defn.FaceID, id defn.FaceID) []defn.FaceID {
	idx := -1
	for i, v := range out {
		if v == id {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return out
	}
	promoted := make([]defn.FaceID, 0, len(out))
	promoted = append(promoted, id)
	promoted = append(promoted, out[:idx]...)
	promoted = append(promoted, out[idx+1:]...)
	return promoted
}

// promoteTapsToFront moves every TAP-flagged face in out ahead of the
// non-TAP faces, preserving the relative order within each group.
func promoteTapsToFront(out []defn.FaceID, prefix *table.NpEntry) []defn.FaceID {
	var taps, rest []defn.FaceID
	for _, id := range out {
		if prefix.TapFacesContain(id) {
			taps = append(taps, id)
		} else {
			rest = append(rest, id)
		}
	}
	if len(taps) == 0 {
		return out
	}
	return append(taps, rest...)
}

// sameInterestModuloNonce reports whether a and b are identical Interests
// apart from their Nonce (spec §4.F: "pre-nonce and post-nonce byte-spans
// of the interest equal ours").
func sameInterestModuloNonce(a, b *wire.Interest) bool {
	if !a.Name.Equal(b.Name) {
		return false
	}
	av, aok := a.MinSuffixComponents.Get()
	bv, bok := b.MinSuffixComponents.Get()
	if aok != bok || av != bv {
		return false
	}
	av2, aok2 := a.MaxSuffixComponents.Get()
	bv2, bok2 := b.MaxSuffixComponents.Get()
	if aok2 != bok2 || av2 != bv2 {
		return false
	}
	if a.ChildSelector != b.ChildSelector {
		return false
	}
	if a.AnswerOriginKind != b.AnswerOriginKind {
		return false
	}
	as, aoks := a.Scope.Get()
	bs, boks := b.Scope.Get()
	if aoks != boks || as != bs {
		return false
	}
	if len(a.PublisherPublicKeyDigest) != len(b.PublisherPublicKeyDigest) {
		return false
	}
	for i := range a.PublisherPublicKeyDigest {
		if a.PublisherPublicKeyDigest[i] != b.PublisherPublicKeyDigest[i] {
			return false
		}
	}
	if len(a.Exclude) != len(b.Exclude) {
		return false
	}
	for i := range a.Exclude {
		if a.Exclude[i].Any != b.Exclude[i].Any || a.Exclude[i].Comp.Compare(b.Exclude[i].Comp) != 0 {
			return false
		}
	}
	return true
}

// adjustForSimilarInterests implements spec §4.F's similar-interest
// adjustment. Returns true if the new entry ends up fully subsumed and
// should be consumed without ever being scheduled.
func (fwd *Forwarder) adjustForSimilarInterests(prefix *table.NpEntry, entry *table.PitEntry, arrivalFace *face.Face, outbound *[]defn.FaceID) bool {
	predictorDelay := time.Duration(prefix.Usec()) * time.Microsecond
	subsumed := false

	table.PropagationList(prefix, func(other *table.PitEntry) bool {
		if other == entry || other.Consumed() {
			return true
		}
		if !sameInterestModuloNonce(other.Interest(), entry.Interest()) {
			return true
		}

		if other.Origin() == entry.Origin() {
			// Same requester retransmitting with a fresh nonce: allow a
			// bounded number of redundant retries before giving up.
			if other.BumpSameFaceRetries() > 3 {
				subsumed = true
				*outbound = nil
				return false
			}
			entry.AddExtraDelay(predictorDelay + 20*time.Millisecond)
			return true
		}

		// Another face's interest for the same thing is already in
		// flight; it will be served and that answer satisfies ours too
		// (spec §4.G step 6 matches every compatible PIT entry, not just
		// one). If our own plan already includes that face, there's no
		// point asking anyone else.
		other.MarkEquivalent()
		if entry.ContainsPlanned(other.Origin()) {
			wasMulticastOrLink := func() bool {
				f := fwd.Faces.Get(other.Origin())
				return f != nil && (f.Flags().Has(face.FlagMulticast) || f.Flags().Has(face.FlagLink))
			}()
			*outbound = []defn.FaceID{other.Origin()}
			if wasMulticastOrLink {
				entry.AddExtraDelay(predictorDelay)
			}
		}
		return true
	})

	if !subsumed && len(*outbound) == 0 && entry.ExtraDelay() == 0 {
		subsumed = true
	}
	return subsumed
}

// scheduleFirstSend implements spec §4.F's "Scheduling": a randomized
// first-send delay with a fast path when the leading destination is the
// prefix's believed-good next hop (src), and the fixed 1us TAP delay.
func (fwd *Forwarder) scheduleFirstSend(prefix *table.NpEntry, entry *table.PitEntry, arrivalFace *face.Face, now time.Time) {
	first, ok := entry.NextOutbound()
	if !ok {
		fwd.PIT.Consume(entry, now, fwd.reaperInterval())
		return
	}

	var delay time.Duration
	switch {
	case prefix.TapFacesContain(first):
		delay = time.Microsecond
	case first == prefix.Src():
		delay = time.Duration(fwd.Rng.Intn(0x100)+1) * time.Microsecond
	default:
		delay = time.Duration(fwd.Rng.Intn(0x1000)+1)*time.Microsecond + entry.ExtraDelay()
	}

	ev := fwd.Sched.Schedule(now, delay, fwd.timerCallback(prefix, entry, arrivalFace))
	entry.SetWaitEvent(ev)
}

// timerCallback builds the per-PIT-entry timer callback of spec §4.F.
func (fwd *Forwarder) timerCallback(prefix *table.NpEntry, entry *table.PitEntry, arrivalFace *face.Face) EventFunc {
	return func(canceled bool) time.Duration {
		now := time.Now()
		if canceled || entry.Consumed() {
			fwd.PIT.Consume(entry, now, fwd.reaperInterval())
			return 0
		}

		if entry.Flags()&table.PitWaitedOnce == 0 {
			entry.AddFlags(table.PitWaitedOnce)
			prefix.NudgeUp()
		}

		remaining := entry.ExpireAt().Sub(now)
		if remaining <= 0 {
			fwd.PIT.Consume(entry, now, fwd.reaperInterval())
			return 0
		}

		if next, ok := entry.NextOutbound(); ok {
			f := fwd.Faces.Get(next)
			if f != nil && f.Alive() {
				if err := fwd.sendRaw(next, entry.InterestBytes()); err != nil {
					core.Log.Debug(fwd, "interest send failed", "face", next, "err", err)
				}
				entry.Advance()
			} else {
				entry.Advance() // dead destination: skip it, same as a completed send
			}

			delay := time.Duration(fwd.Rng.Intn(0x2000))*time.Microsecond + 500*time.Microsecond
			if prefix.TapFacesContain(next) {
				delay = time.Microsecond
			}
			if delay > remaining {
				delay = remaining
			}
			return delay
		}

		// Every planned destination has been sent to at least once. If new
		// routes appeared since (forward_to_gen moved on), recompute the
		// outbound set and give the new destinations a shot; otherwise
		// just wait out the remaining lifetime (spec §4.F: "re-check if
		// fgen is stale... new routes may have appeared").
		if fwd.NPT.Gen() != entry.Fgen() {
			fresh := fwd.computeOutboundSet(prefix, entry.Interest(), arrivalFace)
			entry.SetFgen(fwd.NPT.Gen())
			if len(fresh) > 0 {
				entry.SetOutPlan(fresh)
				return time.Microsecond
			}
		}
		delay := remaining / 2
		if delay < time.Millisecond {
			delay = remaining
		}
		if delay <= 0 {
			fwd.PIT.Consume(entry, now, fwd.reaperInterval())
			return 0
		}
		return delay
	}
}
