package fw

import (
	"net"
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/face"
	"github.com/ccnd-go/ccnd/internal/wire"
	"golang.org/x/sys/unix"
)

// pollTimeoutFloor is spec §4.A step 3's busy-loop guard: once two
// consecutive rounds computed a zero poll timeout (meaning there was
// always more scheduled work ready immediately), the third round is
// floored at 1ms so the process can't spin a CPU core at 100%.
const pollTimeoutFloor = time.Millisecond

// zeroDelayStreak is how many back-to-back zero-timeout rounds are
// tolerated before the floor kicks in.
const zeroDelayStreak = 2

// pollEndpoint is one fd this loop multiplexes: either a listener
// (accept-only) or a face (read/write). multicast marks fds that must be
// ordered first in the poll array (spec §4.A step 4).
type pollEndpoint struct {
	fd        int
	multicast bool
	accept    func()
	f         *face.Face // nil for a bare listener
}

// Loop is spec §4.A's single-threaded event loop state: the set of
// registered listeners and live faces, and the zero-delay counter driving
// the busy-loop guard. Grounded on the teacher's cmd/... run loop shape
// (register endpoints once, then Run blocks in one select/poll until
// told to stop) adapted from channel-select to raw poll(2) since this
// spec forbids per-connection goroutines (spec §4.A/§9).
type Loop struct {
	fwd *Forwarder

	listeners  []pollEndpoint
	multicast  []*net.UDPConn

	zeroStreak int
}

func NewLoop(fwd *Forwarder) *Loop {
	return &Loop{fwd: fwd}
}

// AddListener registers a passive listener fd whose only event is
// accept-readiness; accept is called on POLLIN.
func (l *Loop) AddListener(fd int, accept func()) {
	l.listeners = append(l.listeners, pollEndpoint{fd: fd, accept: accept})
}

// AddMulticast registers a multicast-receiving datagram socket, which
// spec §4.A step 4 requires be placed first in every poll array.
func (l *Loop) AddMulticast(conn *net.UDPConn) {
	l.multicast = append(l.multicast, conn)
}

// Run implements spec §4.A's loop body: drain the internal-client
// outbound buffer, run due scheduled events, compute the poll timeout,
// build the poll array with multicast fds first, block in poll(2), then
// dispatch. Returns when fwd.Stop() has been called and observed at the
// top of a round.
func (l *Loop) Run() error {
	l.fwd.running = true
	for l.fwd.running {
		if l.fwd.DrainInternalClient != nil {
			l.fwd.DrainInternalClient()
		}

		now := time.Now()
		l.fwd.Sched.RunDue(now)

		timeout := l.pollTimeout(now)

		entries, faces := l.buildPollArray()
		fds := make([]unix.PollFd, len(entries))
		for i, e := range entries {
			var events int16 = unix.POLLIN
			if e.f != nil && e.f.HasDeferred() {
				events |= unix.POLLOUT
			}
			fds[i] = unix.PollFd{Fd: int32(e.fd), Events: events}
		}

		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		now = time.Now()
		for i, pfd := range fds {
			if pfd.Revents == 0 {
				continue
			}
			l.dispatch(entries[i], faces[i], pfd.Revents, now)
		}
	}
	return nil
}

// pollTimeout implements spec §4.A step 3: no scheduled work pending
// blocks indefinitely (-1); otherwise wait up to the next deadline,
// flooring at 1ms after zeroDelayStreak consecutive zero-delay rounds.
func (l *Loop) pollTimeout(now time.Time) int {
	d, ok := l.fwd.Sched.NextDelay(now)
	if !ok {
		l.zeroStreak = 0
		return -1
	}
	if d <= 0 {
		l.zeroStreak++
		if l.zeroStreak > zeroDelayStreak {
			d = pollTimeoutFloor
		}
	} else {
		l.zeroStreak = 0
	}
	ms := int(d / time.Millisecond)
	if d > 0 && ms == 0 {
		ms = 1
	}
	return ms
}

// buildPollArray assembles this round's fd set, multicast-receiving
// sockets first (spec §4.A step 4), followed by listeners and then every
// live face.
func (l *Loop) buildPollArray() ([]pollEndpoint, []*face.Face) {
	var entries []pollEndpoint
	var faces []*face.Face

	for _, mc := range l.multicast {
		if fd, ok := rawFDOf(mc); ok {
			entries = append(entries, pollEndpoint{fd: fd, multicast: true})
			faces = append(faces, nil)
		}
	}
	for _, ln := range l.listeners {
		entries = append(entries, ln)
		faces = append(faces, nil)
	}
	l.fwd.Faces.All(func(f *face.Face) {
		if !f.Alive() {
			return
		}
		if f.Kind() == defn.TransportDatagram && !f.IsParent() {
			// Synthetic per-source datagram face: shares its parent's fd,
			// which is already (or will be) registered in its own right.
			return
		}
		fd := f.FD()
		if fd < 0 {
			return
		}
		entries = append(entries, pollEndpoint{fd: fd, f: f})
		faces = append(faces, f)
	})
	return entries, faces
}

// dispatch handles one fd's poll result: listeners accept, faces read or
// flush deferred output, and errors/hangups tear the face down (spec
// §4.A step 5).
func (l *Loop) dispatch(e pollEndpoint, f *face.Face, revents int16, now time.Time) {
	if e.accept != nil {
		if revents&unix.POLLIN != 0 {
			e.accept()
		}
		return
	}
	if f == nil {
		return
	}
	if revents&(unix.POLLERR|unix.POLLHUP) != 0 {
		l.fwd.Faces.DestroyFace(f)
		if l.fwd.OnDestroyFace != nil {
			l.fwd.OnDestroyFace(f)
		}
		return
	}
	if revents&unix.POLLOUT != 0 {
		stillArmed, err := f.FlushDeferred()
		if err != nil {
			l.fwd.Faces.DestroyFace(f)
			if l.fwd.OnDestroyFace != nil {
				l.fwd.OnDestroyFace(f)
			}
			return
		}
		_ = stillArmed
	}
	if revents&unix.POLLIN != 0 {
		if f.Kind() == defn.TransportDatagram && f.IsParent() {
			l.readDatagramParent(f, now)
		} else {
			l.readFace(f, now)
		}
	}
}

// readFace drains f's socket and hands every complete frame to the
// Interest or Content engine, by dispatching on the outer TLV type (spec
// §4.A step 5, §4.G/§4.F).
func (l *Loop) readFace(f *face.Face, now time.Time) {
	err := f.ReadFrames(func(frame []byte) {
		l.handleFrame(f, frame, now)
	})
	if err != nil {
		l.fwd.Faces.DestroyFace(f)
		if l.fwd.OnDestroyFace != nil {
			l.fwd.OnDestroyFace(f)
		}
	}
}

// readDatagramParent implements the datagram half of spec §4.B's input
// path: one message per POLLIN, routed through get_dgram_source so PIT
// and FIB logic address the remote peer by its own synthetic faceid
// rather than the shared listening socket's.
func (l *Loop) readDatagramParent(f *face.Face, now time.Time) {
	pc, ok := f.PacketConn()
	if !ok {
		return
	}
	frame, addr, err := face.ReadDatagram(pc)
	if err != nil {
		l.fwd.Faces.DestroyFace(f)
		if l.fwd.OnDestroyFace != nil {
			l.fwd.OnDestroyFace(f)
		}
		return
	}
	if frame == nil {
		return
	}
	src, err := l.fwd.Faces.GetDatagramSource(f, addr)
	if err != nil {
		core.Log.Warn(l.fwd, "datagram source face could not be interned", "err", err)
		return
	}
	if l.fwd.OnNewFace != nil && src.State() == face.StateUndecided {
		l.fwd.OnNewFace(src)
	}
	l.handleFrame(src, frame, now)
}

// handleFrame dispatches a single decoded wire frame to the right engine,
// touching the face's receive-activity counter first (spec §4.C
// scenario 6's dormancy tracking).
func (l *Loop) handleFrame(f *face.Face, frame []byte, now time.Time) {
	f.Touch(now)
	f.MarkActive(false)

	typ, err := wire.PeekType(frame)
	if err != nil {
		core.Log.Warn(l.fwd, "unparseable frame dropped", "face", f.ID(), "err", err)
		return
	}
	switch typ {
	case wire.TypeInterest:
		l.fwd.OnInterest(f.ID(), frame, now)
	case wire.TypeContent:
		l.fwd.OnContent(f.ID(), frame, now)
	default:
		core.Log.Warn(l.fwd, "unknown frame type dropped", "face", f.ID(), "type", typ)
	}
}

// rawFDOf extracts a UDP conn's underlying fd for poll registration,
// reusing the same SyscallConn path sockopts_unix.go's rawFD uses for
// net.Conn.
func rawFDOf(conn *net.UDPConn) (int, bool) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, false
	}
	var fd int
	cerr := raw.Control(func(p uintptr) { fd = int(p) })
	if cerr != nil {
		return -1, false
	}
	return fd, true
}
