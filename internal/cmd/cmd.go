// Package cmd wires the daemon's tables, event loop and management
// namespace together behind a single cobra command, the way the teacher's
// fw/cmd package turns its core.Config into a running YaNFD instance.
package cmd

import (
	"crypto/sha256"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
	"github.com/ccnd-go/ccnd/internal/defn"
	"github.com/ccnd-go/ccnd/internal/face"
	"github.com/ccnd-go/ccnd/internal/fw"
	"github.com/ccnd-go/ccnd/internal/mgmt"
	"github.com/ccnd-go/ccnd/internal/security"
	"github.com/spf13/cobra"
)

var config = core.DefaultConfig()

// CmdCcnd is the daemon's root command, one positional CONFIG-FILE argument
// mirroring the teacher's "yanfd CONFIG-FILE" shape.
var CmdCcnd = &cobra.Command{
	Use:     "ccnd CONFIG-FILE",
	Short:   "content-centric networking forwarder daemon",
	Version: "0.1.0",
	Args:    cobra.ExactArgs(1),
	RunE:    run,
}

func init() {
	CmdCcnd.Flags().StringVar(&config.Core.CpuProfile, "cpu-profile", "", "Write CPU profile to file")
	CmdCcnd.Flags().StringVar(&config.Core.MemProfile, "mem-profile", "", "Write memory profile to file")
	CmdCcnd.Flags().StringVar(&config.Core.BlockProfile, "block-profile", "", "Write block profile to file")
}

func run(cmd *cobra.Command, args []string) error {
	configfile := args[0]
	config.Core.BaseDir = filepath.Dir(configfile)

	if err := core.ReadYamlConfig(config, configfile); err != nil {
		return fmt.Errorf("cmd: reading config: %w", err)
	}
	config.ApplyEnv(os.Getenv)
	if config.Faces.LocalSocket == "" {
		config.Faces.LocalSocket = defaultLocalSocketPath()
	}

	if level, err := core.ParseLevel(config.Core.LogLevel); err == nil {
		core.Log.SetLevel(level)
	}

	d := newDaemon(config)
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-sigCh
	core.Log.Info(d, "received signal, shutting down", "signal", sig)

	d.Stop()
	return nil
}

// daemon owns every long-lived piece cmd assembles: the forwarder, its
// event loop, the management namespace and the profiler. Grounded on the
// teacher's fw/cmd YaNFD type, which plays the same top-level-owner role
// around a *fw.Forwarder.
type daemon struct {
	cfg      *core.Config
	fwd      *fw.Forwarder
	loop     *fw.Loop
	profiler *core.Profiler
	mgr      *mgmt.Manager

	loopErr chan error
}

func newDaemon(cfg *core.Config) *daemon {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	fwd := fw.NewForwarder(cfg, rng)
	return &daemon{
		cfg:      cfg,
		fwd:      fwd,
		loop:     fw.NewLoop(fwd),
		profiler: core.NewProfiler(cfg),
		loopErr:  make(chan error, 1),
	}
}

func (d *daemon) String() string { return "ccnd" }

// Start implements spec §6's startup sequence: open every configured
// listener, derive the management namespace's ccnd-id, arm the reapers and
// launch the event loop on its own goroutine (the loop itself is
// single-threaded internally, per spec §4.A/§9; only one goroutine ever
// touches fwd after this point).
func (d *daemon) Start() error {
	if err := d.profiler.Start(); err != nil {
		return err
	}

	pubKey := derivePubKey(d.cfg.Mgmt.KeyPath)
	d.mgr = mgmt.NewManager(d.fwd, pubKey, security.NullSigner{}, security.AcceptAllVerifier{}, d.cfg.Faces.AutoReg, d.cfg.Mgmt.DigestAlg)

	if err := d.openListeners(); err != nil {
		return err
	}

	now := time.Now()
	d.fwd.StartReapers(now)

	go func() {
		d.loopErr <- d.loop.Run()
	}()

	core.Log.Info(d, "started", "prefix", d.mgr.Prefix())
	return nil
}

// Stop implements spec §6's clean-shutdown contract: stop the loop, unlink
// the control socket, and flush any armed profiler output.
func (d *daemon) Stop() {
	d.fwd.Stop()
	if err := <-d.loopErr; err != nil {
		core.Log.Warn(d, "event loop exited with error", "err", err)
	}
	if d.cfg.Faces.LocalSocket != "" {
		face.UnlinkControlSocket(d.cfg.Faces.LocalSocket)
	}
	d.profiler.Stop()
	core.Log.Info(d, "stopped")
}

// openListeners binds every address in spec §6's CCND_LISTEN_ON/config
// listen_on list plus the well-known local control socket, registering
// each with the event loop as an accept-only endpoint.
func (d *daemon) openListeners() error {
	addrs := d.cfg.Faces.ListenOn
	if len(addrs) == 0 {
		addrs = []string{fmt.Sprintf(":%d", d.cfg.Faces.LocalPort)}
	}

	for _, addr := range addrs {
		tl, err := face.OpenTCPListener("tcp", addr)
		if err != nil {
			return fmt.Errorf("cmd: tcp listen %s: %w", addr, err)
		}
		fd, ok := rawListenerFD(tl)
		if !ok {
			tl.Close()
			return fmt.Errorf("cmd: tcp listen %s: no fd", addr)
		}
		d.loop.AddListener(fd, d.acceptTCP(tl))

		uc, err := face.OpenUDPListener("udp", addr)
		if err != nil {
			return fmt.Errorf("cmd: udp listen %s: %w", addr, err)
		}
		if _, err := d.fwd.Faces.RecordPassiveDatagram(uc, uc.LocalAddr()); err != nil {
			return fmt.Errorf("cmd: udp record %s: %w", addr, err)
		}
	}

	if d.cfg.Faces.LocalSocket != "" {
		ul, err := face.OpenUnixListener(d.cfg.Faces.LocalSocket)
		if err != nil {
			return fmt.Errorf("cmd: unix listen %s: %w", d.cfg.Faces.LocalSocket, err)
		}
		fd, ok := rawUnixListenerFD(ul)
		if !ok {
			ul.Close()
			return fmt.Errorf("cmd: unix listen %s: no fd", d.cfg.Faces.LocalSocket)
		}
		d.loop.AddListener(fd, d.acceptUnix(ul))
	}

	return nil
}

// acceptTCP returns the loop's accept callback for a bound TCP listener:
// one Accept per POLLIN round, the same "one event per readiness
// notification" shape readDatagramParent uses for its socket, since a
// listener that drained its whole backlog in a loop would block this
// goroutine — the one running the entire event loop — on the next Accept
// once the backlog ran dry.
func (d *daemon) acceptTCP(ln *net.TCPListener) func() {
	return func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		f, err := d.fwd.Faces.RecordConnection(conn, defn.TransportStream, 0)
		if err != nil {
			core.Log.Warn(d, "tcp accept: recording face failed", "err", err)
			conn.Close()
			return
		}
		if d.fwd.OnNewFace != nil {
			d.fwd.OnNewFace(f)
		}
	}
}

func (d *daemon) acceptUnix(ln *net.UnixListener) func() {
	return func() {
		conn, err := ln.AcceptUnix()
		if err != nil {
			return
		}
		f, err := d.fwd.Faces.RecordConnection(conn, defn.TransportStream, face.FlagGG|face.FlagLocal)
		if err != nil {
			core.Log.Warn(d, "unix accept: recording face failed", "err", err)
			conn.Close()
			return
		}
		if d.fwd.OnNewFace != nil {
			d.fwd.OnNewFace(f)
		}
	}
}

// derivePubKey stands in for spec §1's out-of-scope key-loading
// collaborator: with no KeyPath configured it derives a stable per-host
// placeholder so the management prefix is at least deterministic across
// restarts of the same install, rather than random every time.
func derivePubKey(keyPath string) []byte {
	if keyPath != "" {
		if b, err := os.ReadFile(keyPath); err == nil {
			return b
		}
		core.Log.Warn(core.Str("cmd"), "could not read mgmt key file, deriving placeholder", "path", keyPath)
	}
	host, _ := os.Hostname()
	sum := sha256.Sum256([]byte("ccnd-placeholder-key:" + host))
	return sum[:]
}

// defaultLocalSocketPath implements spec §6's "defaulted relative to the
// user's state directory" when neither the config file nor CCND_* env sets
// one explicitly.
func defaultLocalSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, ".ccnd.sock")
}

func rawListenerFD(ln *net.TCPListener) (int, bool) {
	raw, err := ln.SyscallConn()
	if err != nil {
		return -1, false
	}
	var fd int
	if cerr := raw.Control(func(p uintptr) { fd = int(p) }); cerr != nil {
		return -1, false
	}
	return fd, true
}

func rawUnixListenerFD(ln *net.UnixListener) (int, bool) {
	raw, err := ln.SyscallConn()
	if err != nil {
		return -1, false
	}
	var fd int
	if cerr := raw.Control(func(p uintptr) { fd = int(p) }); cerr != nil {
		return -1, false
	}
	return fd, true
}
