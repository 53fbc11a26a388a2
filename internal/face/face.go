// Package face implements spec §4.B's Face Table: the lifecycle of every
// attached peer link, its input reassembly and deferred-output buffering,
// and the per-face delivery queues of spec §4.H. Grounded on the teacher's
// fw/face package shape (transport/transportBase split, URI-addressed
// endpoints, face flags) adapted from ndnd's per-face-goroutine model to
// this spec's single-threaded, poll-driven one: a Face here owns no
// goroutine of its own, only a raw fd the event loop polls directly
// (spec §4.A/§9).
package face

import (
	"fmt"
	"net"
	"time"

	"github.com/ccnd-go/ccnd/internal/defn"
)

// Flags are a Face's capability bits (spec §3's "capability flags (see
// §6)"), named after the teacher's CCN_FACE_* bit set the original_source
// distillation carries (spec §6's "Self-describing face flags in status").
type Flags uint32

const (
	FlagGG          Flags = 1 << iota // "good guy": trusted for management/local-namespace ops
	FlagLink                          // peer speaks the outer PDU-wrapper framing
	FlagUndecided                     // no valid message received yet
	FlagConnecting                    // outbound stream connect in progress (EINPROGRESS)
	FlagNoSend                        // EPIPE observed; never send again
	FlagPermanent                     // exempt from dormancy eviction
	FlagMulticast                     // multicast group member
	FlagInet                          // IPv4 peer
	FlagInet6                         // IPv6 peer
	FlagLocal                         // unix-domain / loopback local client
	FlagLoopback                      // peer address is loopback
	FlagDgram                         // datagram transport (vs. stream)
	FlagRegOK                         // control face may self-register prefixes
	FlagDC                            // "direct control": accepted on the local control socket
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// State is a Face's lifecycle stage (spec §3).
type State uint8

const (
	StateUndecided State = iota
	StateActive
	StateClosing
)

// Face is spec §3's Face: one endpoint of communication.
type Face struct {
	id    defn.FaceID
	flags Flags
	state State

	kind defn.TransportKind
	conn net.Conn // nil for a synthetic datagram-peer face sharing a parent's fd
	fd   int      // raw fd the event loop polls; -1 if this face shares fd with a parent

	// parent is set for a synthetic per-source datagram face: sends go out
	// the parent's socket to peerAddr rather than through conn (spec §4.B
	// get_dgram_source).
	parent *Face

	peerAddr net.Addr
	localURI *defn.URI

	in       []byte // input reassembly buffer (spec §4.B)
	deferred []byte // deferred-output buffer; non-empty means POLLOUT is armed

	queues [3]*OutQueue // indexed by defn.DelayClass

	pendingInterests int

	recvSinceReap int // cleared each reaper round; zero across two rounds evicts (spec §4.C scenario 6)
	lastRecv      time.Time
	lastSend      time.Time

	connectDeadline time.Time // for CONNECTING faces (ETIMEDOUT handling, spec §4.B)
}

func (f *Face) ID() defn.FaceID      { return f.id }
func (f *Face) Flags() Flags         { return f.flags }
func (f *Face) SetFlags(v Flags)     { f.flags = v }
func (f *Face) AddFlags(v Flags)     { f.flags |= v }
func (f *Face) ClearFlags(v Flags)   { f.flags &^= v }
func (f *Face) State() State         { return f.state }
func (f *Face) Kind() defn.TransportKind { return f.kind }
func (f *Face) PeerAddr() net.Addr   { return f.peerAddr }
func (f *Face) FD() int {
	if f.parent != nil {
		return f.parent.fd
	}
	return f.fd
}
func (f *Face) IsParent() bool { return f.parent == nil && f.kind == defn.TransportDatagram && f.conn != nil }

// PacketConn returns the underlying datagram socket for a parent datagram
// face (one created by RecordPassiveDatagram/RecordConnection with
// kind==TransportDatagram), so the event loop can read one message at a
// time with its source address (spec §4.B get_dgram_source).
func (f *Face) PacketConn() (net.PacketConn, bool) {
	if f.conn == nil {
		return nil, false
	}
	pc, ok := f.conn.(net.PacketConn)
	return pc, ok
}

// HasDeferred reports whether this face has buffered output waiting for a
// POLLOUT event (spec §4.B's output path).
func (f *Face) HasDeferred() bool { return len(f.deferred) > 0 }
func (f *Face) LastSend() time.Time { return f.lastSend }
func (f *Face) LastRecv() time.Time { return f.lastRecv }
func (f *Face) PendingInterests() int { return f.pendingInterests }
func (f *Face) IncPending()           { f.pendingInterests++ }
func (f *Face) DecPending() {
	if f.pendingInterests > 0 {
		f.pendingInterests--
	}
}

func (f *Face) String() string {
	return fmt.Sprintf("face(%d,%s)", uint64(f.id), f.peerAddr)
}

// Alive reports whether this face can still be sent to: active, not
// NOSEND, and (for shared-fd datagram faces) the parent socket is too.
func (f *Face) Alive() bool {
	if f.state == StateClosing {
		return false
	}
	if f.flags.Has(FlagNoSend) {
		return false
	}
	if f.parent != nil {
		return f.parent.Alive()
	}
	return true
}

// MarkActive transitions UNDECIDED -> ACTIVE on first valid message, and
// for a stream face classifies LINK framing / GG from loopback (spec §4.B
// accept_connection).
func (f *Face) MarkActive(isLinkFramed bool) {
	if f.state != StateUndecided {
		return
	}
	f.state = StateActive
	f.flags &^= FlagUndecided
	if isLinkFramed {
		f.flags |= FlagLink
	}
	if f.flags.Has(FlagLoopback) {
		f.flags |= FlagGG
	}
}

// Touch records a receive for dormancy tracking (spec §4.C scenario 6).
func (f *Face) Touch(now time.Time) {
	f.recvSinceReap++
	f.lastRecv = now
}

// QueueFor returns the Content Queue for delay class c, creating it
// lazily (spec §4.H).
func (f *Face) QueueFor(c defn.DelayClass, params PacingParams) *OutQueue {
	if f.queues[c] == nil {
		f.queues[c] = NewOutQueue(c, params)
	}
	return f.queues[c]
}

// PeekQueue returns the Content Queue for delay class c if one has already
// been created, without creating it (spec §4.H's cross-class dedup check in
// Enqueue must not fabricate sibling queues just to ask them a question).
func (f *Face) PeekQueue(c defn.DelayClass) *OutQueue { return f.queues[c] }

// DelayClassFor implements spec §4.H's class selection from face flags:
// "link/multicast -> NORMAL or SLOW (if SLOWSEND); unicast datagram ->
// NORMAL; local -> ASAP; default -> NORMAL."
func (f *Face) DelayClassFor(slowSend bool) defn.DelayClass {
	switch {
	case f.flags.Has(FlagLocal):
		return defn.DelayASAP
	case f.flags.Has(FlagLink) || f.flags.Has(FlagMulticast):
		if slowSend {
			return defn.DelaySlow
		}
		return defn.DelayNormal
	case f.flags.Has(FlagDgram):
		return defn.DelayNormal
	default:
		return defn.DelayNormal
	}
}

// PacingFor returns this face's pacing parameters (spec §4.H): "local
// peers get 5us floor, loopback 100us, unicast datagram 500us,
// multicast/link scaled by the tunable data-pause ... SLOW doubles the
// shift."
func (f *Face) PacingFor(c defn.DelayClass, dataPause time.Duration) PacingParams {
	var base time.Duration
	switch {
	case f.flags.Has(FlagLocal):
		base = 5 * time.Microsecond
	case f.flags.Has(FlagLoopback):
		base = 100 * time.Microsecond
	case f.flags.Has(FlagLink) || f.flags.Has(FlagMulticast):
		base = dataPause
	case f.flags.Has(FlagDgram):
		base = 500 * time.Microsecond
	default:
		base = 500 * time.Microsecond
	}
	if c == defn.DelaySlow {
		base *= 2
	}
	return PacingParams{MinUsec: base, RandUsec: base}
}
