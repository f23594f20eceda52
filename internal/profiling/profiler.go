// Package profiling provides CPU, heap, and trace profiling for the CLI's
// --profile-* flags.
package profiling

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Profiler manages performance profiling for a single command run.
type Profiler struct {
	cpuFile   *os.File
	traceFile *os.File
}

// NewProfiler creates a new Profiler instance.
func NewProfiler() *Profiler {
	return &Profiler{}
}

// startToFile creates path and hands it to start, closing the file
// again if start fails.
func startToFile(path, what string, start func(io.Writer) error) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s file: %w", what, err)
	}
	if err := start(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("start %s: %w", what, err)
	}
	return f, nil
}

// StartCPU starts CPU profiling to the given file.
// Returns a cleanup function that stops profiling and flushes data.
func (p *Profiler) StartCPU(path string) (cleanup func(), err error) {
	if p.cpuFile != nil {
		return nil, fmt.Errorf("CPU profile already running")
	}

	f, err := startToFile(path, "CPU profile", pprof.StartCPUProfile)
	if err != nil {
		return nil, err
	}
	p.cpuFile = f

	return func() {
		pprof.StopCPUProfile()
		_ = p.cpuFile.Close()
		p.cpuFile = nil
	}, nil
}

// StartTrace starts execution tracing to the given file.
// Returns a cleanup function that stops tracing.
func (p *Profiler) StartTrace(path string) (cleanup func(), err error) {
	if p.traceFile != nil {
		return nil, fmt.Errorf("trace already running")
	}

	f, err := startToFile(path, "trace", trace.Start)
	if err != nil {
		return nil, err
	}
	p.traceFile = f

	return func() {
		trace.Stop()
		_ = p.traceFile.Close()
		p.traceFile = nil
	}, nil
}

// WriteHeap writes a point-in-time heap profile to the given file.
func (p *Profiler) WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// GC first so the profile shows live objects, not garbage
	runtime.GC()

	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("write heap profile: %w", err)
	}
	return nil
}
