package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackup_NoConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	backup, err := Backup(path)

	require.NoError(t, err)
	assert.Empty(t, backup)
}

func TestBackup_CopiesAndPrunes(t *testing.T) {
	// Given: an existing config
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o644))

	// When: backing it up more times than are kept
	var last string
	for i := 0; i < MaxBackups+2; i++ {
		b, err := Backup(path)
		require.NoError(t, err)
		last = b
		time.Sleep(5 * time.Millisecond)
	}

	// Then: only the newest backups remain, newest first, with the content
	backups, err := ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, MaxBackups)
	assert.Equal(t, last, backups[0])

	data, err := os.ReadFile(last)
	require.NoError(t, err)
	assert.Equal(t, "logging:\n  level: warn\n", string(data))
}

func TestListBackups_MissingDir(t *testing.T) {
	backups, err := ListBackups(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestRestore(t *testing.T) {
	// Given: a config and a backup of an older version
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
	backup, err := Backup(path)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("new"), 0o644))

	// When: restoring the backup
	require.NoError(t, Restore(path, backup))

	// Then: the old content is back and the replaced one was backed up
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	backups, err := ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	newest, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "new", string(newest))
}

func TestRestore_MissingBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.Error(t, Restore(path, path+".bak.none"))
}
