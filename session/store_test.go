package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/bus"
)

func TestCurrentLazilyCreates(t *testing.T) {
	store := NewStore(t.TempDir())

	rec, err := store.Current()
	require.NoError(t, err)
	assert.NotEmpty(t, rec.SessionID)
	assert.Equal(t, SchemaVersion, rec.SchemaVersion)
	assert.False(t, rec.UpdatedAt.IsZero())

	// A second read returns the same session, not a fresh one.
	again, err := store.Current()
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, again.SessionID)

	// And so does a separate store over the same state directory.
	other := NewStore(store.Root())
	fromDisk, err := other.Current()
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, fromDisk.SessionID)
}

func TestStampMergesFields(t *testing.T) {
	store := NewStore(t.TempDir())

	first, err := store.Stamp(map[string]any{"phase": "boot"})
	require.NoError(t, err)
	assert.Equal(t, "boot", first.Fields["phase"])

	second, err := store.Stamp(map[string]any{"worker": "w1"})
	require.NoError(t, err)
	assert.Equal(t, "boot", second.Fields["phase"], "existing fields survive")
	assert.Equal(t, "w1", second.Fields["worker"])
	assert.Greater(t, second.Revision, first.Revision)
}

func TestStampIfRevision(t *testing.T) {
	store := NewStore(t.TempDir())

	rec, err := store.Current()
	require.NoError(t, err)

	updated, err := store.StampIfRevision(rec.Revision, map[string]any{"phase": "run"})
	require.NoError(t, err)

	// Using the stale revision now conflicts.
	_, err = store.StampIfRevision(rec.Revision, map[string]any{"phase": "stale"})
	require.ErrorIs(t, err, ErrRevisionConflict)

	// The conflicting write left no trace.
	current, err := store.Current()
	require.NoError(t, err)
	assert.Equal(t, updated.Revision, current.Revision)
	assert.Equal(t, "run", current.Fields["phase"])
}

func TestCorruptPointerRecreated(t *testing.T) {
	store := NewStore(t.TempDir())

	rec, err := store.Current()
	require.NoError(t, err)

	// Clobber the pointer document with garbage; the store falls back to a
	// fresh session rather than failing.
	require.NoError(t, bus.WriteDocument(store.PointerPath(), "not a session record"))

	fresh, err := store.Current()
	require.NoError(t, err)
	assert.NotEmpty(t, fresh.SessionID)
	assert.NotEqual(t, rec.SessionID, fresh.SessionID)
}

func TestPathLayout(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	assert.Equal(t, filepath.Join(root, "session.json"), store.PointerPath())
	assert.Equal(t, filepath.Join(root, "sessions", "s1"), store.SessionDir("s1"))
	assert.Equal(t, filepath.Join(root, "sessions", "s1", "requests.jsonl"), store.ChannelPath("s1", "requests"))
	assert.Equal(t, filepath.Join(root, "sessions", "s1", "ui.alive"), store.SentinelPath("s1", "ui"))
	assert.Equal(t, filepath.Join(root, "pools", "anthropic.json"), store.PoolPath("anthropic"))
}
