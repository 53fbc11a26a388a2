package face

import (
	"net"
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
	"github.com/ccnd-go/ccnd/internal/defn"
)

// maxFaceSlots bounds the dense face-vector size (spec §3/§4.B: "Fails if
// slot allocation would exceed MAXFACES").
const maxFaceSlots = 1 << 20

// Table is spec §4.B's Face Table: two indexes (by fd, by peer address)
// sharing Face records, plus the dense faceid-slot vector. Grounded on
// spec §3's "exactly one active face occupies a given (faceid-slot) at a
// time; the faceid combines slot and a generation counter incremented
// each slot-reuse."
type Table struct {
	byFD   map[int]*Face
	byAddr map[string]*Face // "network:addr" -> face, for datagram peers
	slots  []*Face          // dense vector indexed by faceid.Slot()
	rover  uint32
	gen    uint32 // bumped once the rover wraps (spec §3)

	maxFaces int
}

func NewTable(maxFaces int) *Table {
	if maxFaces <= 0 || maxFaces > maxFaceSlots {
		maxFaces = maxFaceSlots
	}
	return &Table{
		byFD:     make(map[int]*Face),
		byAddr:   make(map[string]*Face),
		slots:    make([]*Face, maxFaces),
		maxFaces: maxFaces,
	}
}

// Alive implements table.AliveChecker so the Name-Prefix Table's
// forward-to cache can ask whether a FaceID still names a live face
// without importing this package's Face type.
func (t *Table) Alive(id defn.FaceID) bool {
	f := t.Get(id)
	return f != nil && f.Alive()
}

// Get returns the face occupying id's slot if its generation still
// matches, or nil (spec §8's faceid-uniqueness invariant).
func (t *Table) Get(id defn.FaceID) *Face {
	slot := id.Slot()
	if int(slot) >= len(t.slots) {
		return nil
	}
	f := t.slots[slot]
	if f == nil || f.id != id {
		return nil
	}
	return f
}

func (t *Table) ByFD(fd int) *Face { return t.byFD[fd] }

func addrKey(network string, addr net.Addr) string { return network + ":" + addr.String() }

func (t *Table) ByAddr(network string, addr net.Addr) *Face { return t.byAddr[addrKey(network, addr)] }

// allocSlot implements the rover-pointer slot allocator: advances past
// occupied slots, wrapping the generation counter once the rover wraps
// (spec §3/§4.B).
func (t *Table) allocSlot() (uint32, uint32, bool) {
	n := uint32(len(t.slots))
	for i := uint32(0); i < n; i++ {
		slot := t.rover
		t.rover++
		if t.rover >= n {
			t.rover = 0
			t.gen++
		}
		if t.slots[slot] == nil {
			return slot, t.gen, true
		}
	}
	return 0, 0, false
}

func mintFaceID(slot, gen uint32) defn.FaceID {
	return defn.FaceID(gen)<<defn.SlotBits | defn.FaceID(slot)&defn.SlotMask
}

// newFace allocates a slot and faceid for f, or returns
// defn.ErrFaceTableFull.
func (t *Table) newFace(f *Face) error {
	slot, gen, ok := t.allocSlot()
	if !ok {
		return defn.ErrFaceTableFull
	}
	f.id = mintFaceID(slot, gen)
	t.slots[slot] = f
	return nil
}

// addrFlagsFor classifies an endpoint the way spec §4.B's record_connection
// does: "sets address-family-derived flag bits (inet/inet6/local/loopback)".
func addrFlagsFor(addr net.Addr) Flags {
	var flags Flags
	switch a := addr.(type) {
	case *net.TCPAddr:
		flags |= classifyIP(a.IP)
	case *net.UDPAddr:
		flags |= classifyIP(a.IP)
	case *net.UnixAddr:
		flags |= FlagLocal | FlagLoopback
	}
	return flags
}

func classifyIP(ip net.IP) Flags {
	var flags Flags
	if ip.To4() != nil {
		flags |= FlagInet
	} else {
		flags |= FlagInet6
	}
	if ip.IsLoopback() {
		flags |= FlagLoopback
	}
	return flags
}

// RecordConnection implements spec §4.B's record_connection: wraps conn
// (already non-blocking) into a new Face, classifies its address flags,
// assigns a faceid, and indexes it by fd.
func (t *Table) RecordConnection(conn net.Conn, kind defn.TransportKind, flags Flags) (*Face, error) {
	peer := conn.RemoteAddr()
	f := &Face{
		kind:     kind,
		conn:     conn,
		fd:       -1,
		peerAddr: peer,
		flags:    flags | FlagUndecided | addrFlagsFor(peer),
		state:    StateUndecided,
	}
	if kind == defn.TransportDatagram {
		f.flags |= FlagDgram
	}
	if fd, ok := rawFD(conn); ok {
		f.fd = fd
	}
	if err := t.newFace(f); err != nil {
		return nil, err
	}
	if f.fd >= 0 {
		t.byFD[f.fd] = f
	}
	core.Log.Info(f, "face recorded", "kind", kind, "flags", f.flags)
	return f, nil
}

// RecordPassiveDatagram registers a bound UDP socket as spec §6's "PASSIVE
// DGRAM face" (unlike RecordConnection, it has no peer to classify flags
// from, so it classifies from the local bind address instead, and is
// exempt from dormancy eviction since per-source faces interned off it
// via GetDatagramSource are the dormancy targets, not the listener
// itself).
func (t *Table) RecordPassiveDatagram(conn net.Conn, localAddr net.Addr) (*Face, error) {
	f := &Face{
		kind:     defn.TransportDatagram,
		conn:     conn,
		fd:       -1,
		flags:    FlagDgram | FlagPermanent | addrFlagsFor(localAddr),
		state:    StateActive,
	}
	if fd, ok := rawFD(conn); ok {
		f.fd = fd
	}
	if err := t.newFace(f); err != nil {
		return nil, err
	}
	if f.fd >= 0 {
		t.byFD[f.fd] = f
	}
	core.Log.Info(f, "passive datagram face bound", "addr", localAddr)
	return f, nil
}

// MakeConnection implements spec §4.B's make_connection: returns an
// existing usable-outbound face matching addr, else dials and records a
// new one. The dial is a blocking net.Dial that returns only once the
// connection is established or has failed, so a face it records is never
// marked CONNECTING.
func (t *Table) MakeConnection(network, address string) (*Face, error) {
	for _, f := range t.slots {
		if f == nil || f.peerAddr == nil {
			continue
		}
		if f.peerAddr.String() == address && f.state != StateClosing && !f.flags.Has(FlagNoSend) {
			return f, nil
		}
	}
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	kind := defn.TransportStream
	if network == "udp" || network == "udp4" || network == "udp6" {
		kind = defn.TransportDatagram
	}
	f, err := t.RecordConnection(conn, kind, 0)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return f, nil
}

// GetDatagramSource implements spec §4.B's get_dgram_source: interns a
// synthetic per-peer face sharing parent's fd, so PIT/FIB logic addresses
// datagram peers uniformly by faceid.
func (t *Table) GetDatagramSource(parent *Face, addr net.Addr) (*Face, error) {
	network := "udp"
	if existing := t.ByAddr(network, addr); existing != nil {
		return existing, nil
	}
	f := &Face{
		kind:     defn.TransportDatagram,
		fd:       -1,
		parent:   parent,
		peerAddr: addr,
		flags:    FlagDgram | FlagUndecided | addrFlagsFor(addr),
		state:    StateUndecided,
	}
	if err := t.newFace(f); err != nil {
		return nil, err
	}
	t.byAddr[addrKey(network, addr)] = f
	core.Log.Info(f, "datagram source face interned", "parent", parent.id)
	return f, nil
}

// DestroyFace implements spec §4.B's destroy_face: removes the address or
// fd index entry (a shared-fd datagram face is removed without closing
// the parent's socket), closes stream fds, frees the slot's queues.
func (t *Table) DestroyFace(f *Face) {
	if f.state == StateClosing {
		return
	}
	f.state = StateClosing
	if f.parent != nil {
		delete(t.byAddr, addrKey("udp", f.peerAddr))
	} else {
		if f.fd >= 0 {
			delete(t.byFD, f.fd)
		}
		if f.peerAddr != nil {
			delete(t.byAddr, addrKey("udp", f.peerAddr))
		}
		if f.conn != nil {
			f.conn.Close()
		}
	}
	for i := range f.queues {
		f.queues[i] = nil
	}
	t.slots[f.id.Slot()] = nil
	core.Log.Info(f, "face destroyed")
}

// All calls fn for every live face in the table.
func (t *Table) All(fn func(*Face)) {
	for _, f := range t.slots {
		if f != nil {
			fn(f)
		}
	}
}

// ReapDormant evicts datagram faces whose receive counter has stayed zero
// across two reaper rounds (spec §4.B/§4.C scenario 6); PERMANENT and
// stream faces are exempt.
func (t *Table) ReapDormant() []*Face {
	var evicted []*Face
	t.All(func(f *Face) {
		if f.flags.Has(FlagPermanent) || f.kind != defn.TransportDatagram {
			f.recvSinceReap = 0
			return
		}
		if f.recvSinceReap == 0 {
			evicted = append(evicted, f)
		} else {
			f.recvSinceReap = 0
		}
	})
	for _, f := range evicted {
		t.DestroyFace(f)
	}
	return evicted
}

// CheckConnectTimeouts shuts down CONNECTING faces past their deadline
// (spec §4.B: "ETIMEDOUT on a CONNECTING face shuts it down").
func (t *Table) CheckConnectTimeouts(now time.Time) {
	t.All(func(f *Face) {
		if f.flags.Has(FlagConnecting) && !f.connectDeadline.IsZero() && now.After(f.connectDeadline) {
			t.DestroyFace(f)
		}
	})
}
