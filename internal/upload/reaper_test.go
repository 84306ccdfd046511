package upload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaperSweepsIdleSessions(t *testing.T) {
	tempDir := t.TempDir()
	registry := NewRegistry(tempDir)

	stale, err := registry.Create("stale.bin", "SERVER", 10, 2)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	fresh, err := registry.Create("fresh.bin", "SERVER", 10, 2)
	require.NoError(t, err)

	reaper := NewReaper(registry, 25*time.Millisecond, time.Hour)
	reaper.sweep()

	_, ok := registry.Get(stale.ID)
	assert.False(t, ok)
	_, ok = registry.Get(fresh.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, registry.Len())

	// The reaped session's chunk area is reclaimed with it
	_, statErr := os.Stat(filepath.Join(tempDir, stale.ID.String()))
	assert.True(t, os.IsNotExist(statErr))
}

func TestReaperSkipsAssemblingSessions(t *testing.T) {
	registry := NewRegistry(t.TempDir())

	session, err := registry.Create("slow.bin", "SERVER", 10, 1)
	require.NoError(t, err)

	// Claim the assembly step, then let the idle clock run well past the TTL.
	// A session mid-assembly must survive the sweep.
	require.True(t, session.noteChunk(1))
	require.Equal(t, StateAssembling, session.State())

	time.Sleep(50 * time.Millisecond)

	reaper := NewReaper(registry, 25*time.Millisecond, time.Hour)
	reaper.sweep()

	_, ok := registry.Get(session.ID)
	assert.True(t, ok)

	// Once terminal, the session is reapable again
	session.setCompleted(nil)
	time.Sleep(50 * time.Millisecond)
	reaper.sweep()
	_, ok = registry.Get(session.ID)
	assert.False(t, ok)
}

func TestReaperSweepKeepsActiveSessions(t *testing.T) {
	registry := NewRegistry(t.TempDir())

	session, err := registry.Create("active.bin", "SERVER", 10, 2)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	// A chunk arrival counts as activity and resets the idle clock
	session.noteChunk(1)

	reaper := NewReaper(registry, 25*time.Millisecond, time.Hour)
	reaper.sweep()

	_, ok := registry.Get(session.ID)
	assert.True(t, ok)
}
