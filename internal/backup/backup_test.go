package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSnapshot(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("-- dump\n"), 0o644))
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	m := NewManager("postgres://ignored", dir, 7)

	t.Run("Empty directory lists nothing", func(t *testing.T) {
		snaps, err := m.List()
		require.NoError(t, err)
		assert.Empty(t, snaps)
	})

	t.Run("Missing directory lists nothing", func(t *testing.T) {
		missing := NewManager("postgres://ignored", filepath.Join(dir, "nope"), 7)
		snaps, err := missing.List()
		require.NoError(t, err)
		assert.Empty(t, snaps)
	})

	t.Run("Newest first, foreign files ignored", func(t *testing.T) {
		writeSnapshot(t, dir, "backup_20260101_030000.sql")
		writeSnapshot(t, dir, "backup_20260301_030000.sql")
		writeSnapshot(t, dir, "backup_20260201_030000.sql")
		writeSnapshot(t, dir, "notes.txt")
		writeSnapshot(t, dir, "other_20260301.sql")

		snaps, err := m.List()
		require.NoError(t, err)
		require.Len(t, snaps, 3)
		assert.Equal(t, "backup_20260301_030000.sql", snaps[0].Name)
		assert.Equal(t, "backup_20260201_030000.sql", snaps[1].Name)
		assert.Equal(t, "backup_20260101_030000.sql", snaps[2].Name)
	})
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	m := NewManager("postgres://ignored", dir, 2)

	writeSnapshot(t, dir, "backup_20260101_030000.sql")
	writeSnapshot(t, dir, "backup_20260102_030000.sql")
	writeSnapshot(t, dir, "backup_20260103_030000.sql")
	writeSnapshot(t, dir, "backup_20260104_030000.sql")

	require.NoError(t, m.prune())

	snaps, err := m.List()
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "backup_20260104_030000.sql", snaps[0].Name)
	assert.Equal(t, "backup_20260103_030000.sql", snaps[1].Name)
}

func TestPrune_UnderRetention(t *testing.T) {
	dir := t.TempDir()
	m := NewManager("postgres://ignored", dir, 7)

	writeSnapshot(t, dir, "backup_20260101_030000.sql")

	require.NoError(t, m.prune())

	snaps, _ := m.List()
	assert.Len(t, snaps, 1)
}

func TestRestore_RejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	m := NewManager("postgres://ignored", dir, 7)

	assert.Error(t, m.Restore(context.Background(), "../etc/passwd"))
	assert.Error(t, m.Restore(context.Background(), "sub/backup_x.sql"))
	assert.Error(t, m.Restore(context.Background(), "backup_20990101_000000.sql")) // does not exist
}

func TestNewManager_RetentionFloor(t *testing.T) {
	m := NewManager("postgres://ignored", t.TempDir(), 0)
	assert.Equal(t, 7, m.retention)
}
