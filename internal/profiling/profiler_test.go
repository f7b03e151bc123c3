package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_StartStop(t *testing.T) {
	// Given: a profile directory that does not exist yet
	dir := filepath.Join(t.TempDir(), "profiles")

	// When: a session runs some work
	s, err := Start(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Dir())

	sum := 0
	for i := 0; i < 1000000; i++ {
		sum += i
	}
	_ = sum

	require.NoError(t, s.Stop())

	// Then: every profile file is written
	for _, name := range []string{CPUFile, HeapFile, GoroutineFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}
}

func TestSession_StopTwice(t *testing.T) {
	s, err := Start(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
}

func TestSession_SecondConcurrentStartFails(t *testing.T) {
	// Given: a running session
	s, err := Start(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = s.Stop() }()

	// When: starting another CPU profile
	_, err = Start(t.TempDir())

	// Then: the runtime refuses
	assert.Error(t, err)
}

func TestWriteGoroutines_ContainsStacks(t *testing.T) {
	path := filepath.Join(t.TempDir(), GoroutineFile)

	require.NoError(t, WriteGoroutines(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "goroutine ")
	assert.Contains(t, string(data), "TestWriteGoroutines_ContainsStacks")
}

func TestWriteHeap_BadPath(t *testing.T) {
	err := WriteHeap(filepath.Join(t.TempDir(), "missing", "heap.prof"))

	assert.Error(t, err)
}
