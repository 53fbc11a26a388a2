package fw

import (
	"math/rand"
	"net"
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/face"
	"github.com/ccnd-go/ccnd/internal/table"
	"github.com/ccnd-go/ccnd/internal/wire"
)

// Forwarder is spec §9's "one top-level owning struct passed by mutable
// reference through the loop": every table, the face table, the scheduler
// and the daemon's configuration, threaded through the event loop and
// both engines with no other shared state (spec §5: "no locks, no
// atomics... All mutation happens from the event-loop thread").
type Forwarder struct {
	Config *core.Config

	Faces *face.Table
	CS    *table.ContentStore
	NPT   *table.NamePrefixTable
	PIT   *table.PendingInterestTable

	Sched *Scheduler
	Rng   *rand.Rand

	tcpListeners []*net.TCPListener
	unixListener *net.UnixListener

	running bool

	// DrainInternalClient is spec §4.A step 1's "Drain the internal-client
	// outbound buffer", wired by cmd/internal/mgmt at startup. fw cannot
	// import mgmt directly (mgmt imports fw to dispatch management
	// Interests), so this is a plain hook instead of an interface type.
	DrainInternalClient func()

	// OnNewFace/OnDestroyFace let internal/mgmt auto-register configured
	// prefixes on accept (spec §6's CCND_AUTOREG) without fw depending on
	// mgmt.
	OnNewFace     func(*face.Face)
	OnDestroyFace func(*face.Face)

	// ManagementInterest is the Interest Engine's management fast path
	// (spec §6): if set, every Interest is offered to it first, and a
	// true return means it was a management-namespace request already
	// fully handled (replied or dropped), so ordinary forwarding must not
	// also process it. fw cannot import mgmt directly (mgmt dispatches
	// through fw), so this is a hook rather than an interface type.
	ManagementInterest func(arrival defn.FaceID, it *wire.Interest, raw []byte, now time.Time) bool
}

// NewForwarder builds a Forwarder with the three core tables and a
// per-process PRNG (spec §9: "a per-process random source seeded from OS
// entropy at startup; no cryptographic requirement, but reproducible
// seeding is valuable for tests" — callers pass rng so tests can fix the
// seed).
func NewForwarder(cfg *core.Config, rng *rand.Rand) *Forwarder {
	faces := face.NewTable(cfg.Faces.MaxFaces)
	fwd := &Forwarder{
		Config: cfg,
		Faces:  faces,
		CS:     table.NewContentStore(cfg.CS.Capacity, rng),
		NPT:    table.NewNamePrefixTable(faces),
		PIT:    table.NewPendingInterestTable(),
		Sched:  NewScheduler(),
		Rng:    rng,
	}
	return fwd
}

func (fwd *Forwarder) String() string { return "forwarder" }

// InterestLifetimeDefault returns the configured default Interest
// lifetime (spec §4.F: "default 4 s").
func (fwd *Forwarder) InterestLifetimeDefault() time.Duration {
	if fwd.Config.Faces.InterestLife > 0 {
		return fwd.Config.Faces.InterestLife
	}
	return wire.DefaultInterestLifetime
}

// Running reports whether the loop's running flag is still set.
func (fwd *Forwarder) Running() bool { return fwd.running }

// Stop clears the running flag (spec §4.A's "Cancellation: a running flag
// checked at top of loop").
func (fwd *Forwarder) Stop() { fwd.running = false }

// sendRaw writes b out faceID's send path. The loop picks up any resulting
// deferred buffer on its next poll-array build (spec §4.B's output path),
// so the armPollOut return from Face.Send needs no separate bookkeeping
// here.
func (fwd *Forwarder) sendRaw(faceID defn.FaceID, b []byte) error {
	f := fwd.Faces.Get(faceID)
	if f == nil || !f.Alive() {
		return defn.ErrNoSuchFace
	}
	_, err := f.Send(b)
	return err
}

// SendRaw writes b directly out faceID's send path, bypassing Content
// Engine/PIT delivery entirely. internal/mgmt uses this for management
// replies (spec §6): a management reply answers an Interest that never
// entered the PIT (its fast path consumes it before ordinary PIT insertion
// runs), so there is no PIT entry for OnContent's match-and-deliver path to
// find — the reply has to reach the requesting face directly instead.
func (fwd *Forwarder) SendRaw(faceID defn.FaceID, b []byte) error {
	return fwd.sendRaw(faceID, b)
}

// deliverContent enqueues obj's wire bytes to faceID's appropriate Content
// Queue (spec §4.H): class and pacing are derived from the destination
// face's flags, and enqueue itself de-duplicates against the face's other
// classes.
func (fwd *Forwarder) deliverContent(faceID defn.FaceID, accession uint32, wireBytes []byte, now time.Time) {
	f := fwd.Faces.Get(faceID)
	if f == nil || !f.Alive() {
		return
	}
	class := f.DelayClassFor(false)
	for c := defn.DelayASAP; c <= defn.DelaySlow; c++ {
		if c == class {
			continue
		}
		if q := f.PeekQueue(c); q != nil && q.Contains(accession) {
			return
		}
	}
	params := f.PacingFor(class, fwd.Config.Faces.DataPause)
	q := f.QueueFor(class, params)
	if !q.Contains(accession) {
		q.Enqueue(accession, len(wireBytes), now, fwd.Rng)
		fwd.armSender(f, q, now)
	}
}

// armSender schedules q's sender event if one isn't already pending (spec
// §4.H: "Per queue, at most one scheduled sender").
func (fwd *Forwarder) armSender(f *face.Face, q *face.OutQueue, now time.Time) {
	if q.Scheduled() {
		return
	}
	q.MarkScheduled()
	faceID := f.ID()
	fwd.Sched.Schedule(now, 0, func(canceled bool) time.Duration {
		if canceled {
			q.MarkIdle()
			return 0
		}
		target := fwd.Faces.Get(faceID)
		if target == nil || !target.Alive() {
			q.MarkIdle()
			return 0
		}
		next := q.Fire(time.Now(), fwd.Rng, func(accession uint32) {
			fwd.sendAccession(target, accession)
		})
		if next <= 0 {
			q.MarkIdle()
			return 0
		}
		return next
	})
}

// sendAccession looks up a Content Store entry by accession and writes its
// wire bytes to f, used by the Content Queue sender event (spec §4.H).
func (fwd *Forwarder) sendAccession(f *face.Face, accession uint32) {
	wireBytes, ok := fwd.CS.WireBytesByAccession(accession)
	if !ok {
		return
	}
	_, _ = f.Send(wireBytes)
}

// sameHostClass reports whether two faces belong to the same host class for
// spec §4.F's Scope 2 rule ("may not be sent back out a face of the same
// host class as the one they arrived on"): inet vs inet6 vs local.
func sameHostClass(a, b *face.Face) bool {
	classOf := func(f *face.Face) face.Flags {
		return f.Flags() & (face.FlagInet | face.FlagInet6 | face.FlagLocal)
	}
	ca, cb := classOf(a), classOf(b)
	return ca != 0 && ca == cb
}
