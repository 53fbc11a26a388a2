//go:build !wasm

package face

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// rawFD extracts the OS file descriptor backing conn, for registration
// with the single-threaded poll loop (spec §4.A/§4.B). Every net.Conn this
// daemon creates (TCPConn, UDPConn, UnixConn) implements syscall.Conn.
func rawFD(conn net.Conn) (int, bool) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, false
	}
	var fd int
	err = raw.Control(func(p uintptr) { fd = int(p) })
	if err != nil {
		return -1, false
	}
	return fd, true
}

// syscallReuseAddr is the net.ListenConfig.Control callback that sets
// SO_REUSEADDR (and, for IPv6 listeners, IPV6_V6ONLY) before bind, the
// way spec §6 requires for UDP listeners ("SO_REUSEADDR and, for IPv6,
// IPV6_V6ONLY"). Grounded on the teacher's fw/face/impl.SyscallReuseAddr
// (only its wasm stub was in the retrieval pack; this is the real unix
// implementation of the same interface shape, built on golang.org/x/sys).
func syscallReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		if network == "udp6" || network == "tcp6" {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}

// setNonblocking puts fd in non-blocking mode, which Go's net package
// already guarantees for every net.Conn/net.Listener it creates; kept as
// a named hook so transports built from a raw fd (e.g. a socket
// handed in by the internal-client management path) can route through the
// same call spec §4.B names ("sets fd non-blocking").
func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}
