package face

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
)

// OpenTCPListener binds a passive TCP listener at addr (spec §4.B
// accept_connection / spec §6 "Each TCP bind becomes a PASSIVE listener"),
// with SO_REUSEADDR set the way the teacher's MakeTCPListener does via its
// ListenConfig.Control hook.
func OpenTCPListener(network, addr string) (*net.TCPListener, error) {
	lc := net.ListenConfig{Control: syscallReuseAddr}
	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, err
	}
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("face: not a TCP listener: %s", addr)
	}
	return tl, nil
}

// OpenUDPListener binds a PASSIVE DGRAM face's socket (spec §6: "Each UDP
// bind becomes a PASSIVE DGRAM face"), with SO_REUSEADDR/IPV6_V6ONLY set.
func OpenUDPListener(network, addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: syscallReuseAddr}
	pc, err := lc.ListenPacket(context.Background(), network, addr)
	if err != nil {
		return nil, err
	}
	uc, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("face: not a UDP conn: %s", addr)
	}
	return uc, nil
}

// OpenMulticastUDP joins group on iface, returning a UDP socket whose
// packets the event loop's poll-array ordering processes before any
// unicast-bound socket that can also observe the same group (spec §4.A
// step 4).
func OpenMulticastUDP(network, group string, ifi *net.Interface) (*net.UDPConn, error) {
	gaddr, err := net.ResolveUDPAddr(network, group)
	if err != nil {
		return nil, err
	}
	return net.ListenMulticastUDP(network, ifi, gaddr)
}

// unlinkGracePeriod is the pause spec §6 gives a previous instance to
// exit before we steal its control-socket path: "a 9-second grace pause
// if it already resolves, to let a previous instance exit."
const unlinkGracePeriod = 9 * time.Second

// OpenUnixListener implements spec §6's local control socket: unlink any
// stale path (pausing first if something is actually listening there),
// then bind world-readable-and-writable.
func OpenUnixListener(path string) (*net.UnixListener, error) {
	if _, err := os.Stat(path); err == nil {
		if probeUnixListening(path) {
			core.Log.Info(core.Str("control-socket"), "stale socket path resolves, pausing for previous instance to exit", "path", path, "grace", unlinkGracePeriod)
			time.Sleep(unlinkGracePeriod)
		}
		_ = os.Remove(path)
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(path, 0o666)
	return ln, nil
}

// probeUnixListening reports whether something is actually accepting
// connections at path, distinguishing a live previous instance from a
// stale socket file left by an unclean shutdown.
func probeUnixListening(path string) bool {
	c, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	c.Close()
	return true
}

// UnlinkControlSocket removes the control-socket path on clean shutdown
// (spec §6: "Signals SIGTERM/INT/HUP unlink the path before exit").
func UnlinkControlSocket(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
