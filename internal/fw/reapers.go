package fw

import (
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/face"
	"github.com/ccnd-go/ccnd/internal/optional"
	"github.com/ccnd-go/ccnd/internal/wire"
)

// storeCleanBatch bounds how many Content Store entries the cleaner touches
// per fire, so a large backlog doesn't stall the event loop (spec §4.I:
// "batches of 500 entries per fire").
const storeCleanBatch = 500

const (
	fibAgeInterval        = 5 * time.Second
	storeCleanNormalPeriod = 15 * time.Second
	storeCleanAggressive   = 200 * time.Millisecond
	keepaliveIdleThreshold = 30 * time.Second
)

// StartReapers arms the three periodic tasks of spec §4.I (face/PIT, FIB
// ager, store cleaner) plus the SPEC_FULL.md-added idle-stream keepalive.
// Called once during startup (spec §9: "arena-style tables... set up once").
func (fwd *Forwarder) StartReapers(now time.Time) {
	facePitInterval := fwd.reaperInterval()
	fwd.Sched.Schedule(now, facePitInterval, fwd.facePitReaper(facePitInterval))
	fwd.Sched.Schedule(now, fibAgeInterval, fwd.fibAger())
	fwd.Sched.Schedule(now, storeCleanNormalPeriod, fwd.storeCleaner())
	fwd.Sched.Schedule(now, keepaliveIdleThreshold, fwd.keepaliveReaper())
}

// facePitReaper implements spec §4.I's "Face/PIT reaper": sweeps dormant
// datagram faces, expires double-locked PIT nonces, and retires empty
// prefix entries.
func (fwd *Forwarder) facePitReaper(interval time.Duration) EventFunc {
	return func(canceled bool) time.Duration {
		if canceled {
			return 0
		}
		now := time.Now()
		evicted := fwd.Faces.ReapDormant()
		for _, f := range evicted {
			if fwd.OnDestroyFace != nil {
				fwd.OnDestroyFace(f)
			}
		}
		fwd.Faces.CheckConnectTimeouts(now)
		swept := fwd.PIT.Sweep(now)
		retired := fwd.NPT.ReapEmpty()
		core.Log.Trace(fwd, "face/pit reaper ran", "faces_evicted", len(evicted), "nonces_swept", swept, "prefixes_retired", retired)
		return interval
	}
}

// fibAger implements spec §4.I's "FIB ager": decrements remaining
// lifetimes, drops not-refreshed entries, bumps forward_to_gen on change.
func (fwd *Forwarder) fibAger() EventFunc {
	return func(canceled bool) time.Duration {
		if canceled {
			return 0
		}
		fwd.NPT.AgeFib(int(fibAgeInterval / time.Second))
		return fibAgeInterval
	}
}

// storeCleaner implements spec §4.I's "Store cleaner": runs on a slow
// period under capacity, an aggressive sub-second one while over.
func (fwd *Forwarder) storeCleaner() EventFunc {
	return func(canceled bool) time.Duration {
		if canceled {
			return 0
		}
		fwd.CS.PollStaleness(time.Now())
		work := fwd.CS.Clean(storeCleanBatch)
		if fwd.CS.Capacity() > 0 && fwd.CS.Len() > fwd.CS.Capacity() {
			return storeCleanAggressive
		}
		_ = work
		return storeCleanNormalPeriod
	}
}

// keepaliveInterest is a minimal scope-0 Interest under the root name,
// answered only by the peer's own content store and never forwarded
// further, used purely to keep an idle connection's NAT/firewall state
// alive (SPEC_FULL.md's addition; no teacher analog, grounded on spec
// §4.F's Scope0 semantics).
var keepaliveInterest = (&wire.Interest{
	Name:             wire.Name{},
	Scope:            optional.Some(defn.Scope0),
	InterestLifetime: time.Second,
	Nonce:            []byte{0, 0, 0, 0},
}).Encode()

// keepaliveReaper is the SPEC_FULL.md-added idle-stream-face heartbeat
// (distinct from facePitReaper's receive-activity dormancy check): a
// connection-oriented face that hasn't *sent* anything in a while gets a
// tiny scope-0 Interest to keep NATs and peers from timing it out.
func (fwd *Forwarder) keepaliveReaper() EventFunc {
	return func(canceled bool) time.Duration {
		if canceled {
			return 0
		}
		now := time.Now()
		fwd.Faces.All(func(f *face.Face) {
			if f.Kind() != defn.TransportStream || f.Flags().Has(face.FlagLocal) || !f.Alive() {
				return
			}
			last := f.LastSend()
			if last.IsZero() {
				last = f.LastRecv()
			}
			if last.IsZero() || now.Sub(last) < keepaliveIdleThreshold {
				return
			}
			_, _ = f.Send(keepaliveInterest)
		})
		return keepaliveIdleThreshold
	}
}
