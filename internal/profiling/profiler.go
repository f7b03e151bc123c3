// Package profiling captures runtime profiles of a service run.
package profiling

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
)

// Profile file names written into the session directory.
const (
	CPUFile       = "cpu.prof"
	HeapFile      = "heap.prof"
	GoroutineFile = "goroutine.txt"
)

// Session records a CPU profile from Start until Stop, then snapshots the
// heap and every goroutine stack. The goroutine dump shows where a stuck
// observer is blocked.
type Session struct {
	dir     string
	cpuFile *os.File
}

// Start creates dir and begins CPU profiling into it.
func Start(dir string) (*Session, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, CPUFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start CPU profile: %w", err)
	}

	return &Session{dir: dir, cpuFile: f}, nil
}

// Dir returns the directory profiles are written to.
func (s *Session) Dir() string {
	return s.dir
}

// Stop ends CPU profiling and writes the heap and goroutine snapshots.
// It is safe to call more than once.
func (s *Session) Stop() error {
	if s.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := s.cpuFile.Close()
	s.cpuFile = nil

	if gerr := WriteGoroutines(filepath.Join(s.dir, GoroutineFile)); gerr != nil && err == nil {
		err = gerr
	}
	if herr := WriteHeap(filepath.Join(s.dir, HeapFile)); herr != nil && err == nil {
		err = herr
	}
	return err
}

// WriteHeap writes a heap profile to path.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Collect first so the profile shows live objects only.
	runtime.GC()

	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}

// WriteGoroutines writes the stack of every goroutine to path as text.
func WriteGoroutines(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create goroutine profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.Lookup("goroutine").WriteTo(f, 2); err != nil {
		return fmt.Errorf("failed to write goroutine profile: %w", err)
	}
	return nil
}
