package face

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/wire"
)

const readChunkSize = 8192

// ReadFrames implements spec §4.B's input path: one non-blocking Read
// appended to the face's reassembly buffer, then every complete wire
// element sniffed out and handed to onFrame in arrival order, leaving any
// partial trailing element buffered for next time.
func (f *Face) ReadFrames(onFrame func([]byte)) error {
	if f.conn == nil {
		return defn.ErrClosed
	}
	tmp := make([]byte, readChunkSize)
	n, err := f.conn.Read(tmp)
	if n > 0 {
		f.in = append(f.in, tmp[:n]...)
		for {
			consumed, ok := wire.Sniff(f.in)
			if !ok {
				break
			}
			frame := append([]byte(nil), f.in[:consumed]...)
			f.in = f.in[consumed:]
			onFrame(frame)
		}
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return defn.ErrClosed
		}
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			return nil
		}
		return err
	}
	return nil
}

// ReadDatagram implements the datagram variant of the input path: a
// connectionless socket yields exactly one message per receive, with no
// reassembly buffer needed since UDP never fragments a frame across
// reads at the application layer.
func ReadDatagram(pc net.PacketConn) (frame []byte, from net.Addr, err error) {
	buf := make([]byte, defn.MaxPacketSize+64)
	n, addr, err := pc.ReadFrom(buf)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// Send implements spec §4.B's output path: "a first send attempt is made
// immediately; on EAGAIN or short write the remainder is copied to a
// per-face deferred buffer and POLLOUT is armed." Returns true if armPollOut
// should be set for this face.
func (f *Face) Send(b []byte) (armPollOut bool, err error) {
	if f.flags.Has(FlagNoSend) {
		return false, nil
	}
	if f.parent != nil {
		// Synthetic datagram-source faces send through the parent's socket,
		// addressed at this face's peer address.
		return f.parent.sendTo(b, f.peerAddr)
	}
	if len(f.deferred) > 0 {
		f.deferred = append(f.deferred, b...)
		return true, nil
	}
	n, err := f.conn.Write(b)
	if err == nil && n == len(b) {
		f.lastSend = time.Now()
		return false, nil
	}
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			f.flags |= FlagNoSend
			f.deferred = nil
			return false, defn.ErrClosed
		}
		if !errors.Is(err, syscall.EAGAIN) && !errors.Is(err, syscall.EWOULDBLOCK) {
			return false, err
		}
		n = 0 // nothing made it out; buffer the whole message
	}
	f.deferred = append(f.deferred, b[n:]...)
	return true, nil
}

func (f *Face) sendTo(b []byte, addr net.Addr) (armPollOut bool, err error) {
	pc, ok := f.conn.(net.PacketConn)
	if !ok {
		return false, defn.ErrClosed
	}
	_, err = pc.WriteTo(b, addr)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			return false, nil // datagram sends are never buffered: drop under backpressure
		}
		return false, err
	}
	return false, nil
}

// FlushDeferred implements the POLLOUT half of spec §4.B's output path:
// retries the deferred buffer, returns whether POLLOUT should stay armed.
func (f *Face) FlushDeferred() (stillArmed bool, err error) {
	if len(f.deferred) == 0 {
		return false, nil
	}
	n, err := f.conn.Write(f.deferred)
	if n > 0 {
		f.deferred = f.deferred[n:]
	}
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			f.flags |= FlagNoSend
			f.deferred = nil
			return false, defn.ErrClosed
		}
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			return true, nil
		}
		return false, err
	}
	return len(f.deferred) > 0, nil
}
