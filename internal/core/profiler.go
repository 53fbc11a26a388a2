package core

import (
	"os"
	"runtime"
	"runtime/pprof"
)

// Profiler wires the --cpu-profile/--mem-profile/--block-profile flags to
// runtime/pprof. Grounded on the teacher's fw/cmd/profiler.go almost
// unchanged; profiling is an ambient concern independent of forwarding
// semantics, so the teacher's approach is adopted directly rather than
// reinvented.
type Profiler struct {
	config  *Config
	cpuFile *os.File
	block   *pprof.Profile
}

func NewProfiler(config *Config) *Profiler {
	return &Profiler{config: config}
}

func (p *Profiler) String() string { return "profiler" }

// Start opens the configured profile outputs and arms CPU/block profiling.
func (p *Profiler) Start() (err error) {
	if p.config.Core.CpuProfile != "" {
		p.cpuFile, err = os.Create(p.config.Core.CpuProfile)
		if err != nil {
			Log.Fatal(p, "unable to open output file for CPU profile", "err", err)
			return err
		}
		Log.Info(p, "profiling CPU", "out", p.config.Core.CpuProfile)
		pprof.StartCPUProfile(p.cpuFile)
	}

	if p.config.Core.BlockProfile != "" {
		Log.Info(p, "profiling blocking operations", "out", p.config.Core.BlockProfile)
		runtime.SetBlockProfileRate(1)
		p.block = pprof.Lookup("block")
	}
	return nil
}

// Stop flushes and closes every profile output that was armed.
func (p *Profiler) Stop() {
	if p.block != nil {
		f, err := os.Create(p.config.Core.BlockProfile)
		if err != nil {
			Log.Fatal(p, "unable to open output file for block profile", "err", err)
			return
		}
		if err := p.block.WriteTo(f, 0); err != nil {
			Log.Fatal(p, "unable to write block profile", "err", err)
		}
		f.Close()
	}

	if p.config.Core.MemProfile != "" {
		f, err := os.Create(p.config.Core.MemProfile)
		if err != nil {
			Log.Fatal(p, "unable to open output file for memory profile", "err", err)
			return
		}
		defer f.Close()

		Log.Info(p, "profiling memory", "out", p.config.Core.MemProfile)
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			Log.Fatal(p, "unable to write memory profile", "err", err)
		}
	}

	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		p.cpuFile.Close()
	}
}
