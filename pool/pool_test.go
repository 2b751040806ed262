package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.UnixMilli(1_000_000)

func TestStatusDerivation(t *testing.T) {
	active := Profile{ProfileKey: "a", RemainingQuota: 0.5}
	standby := Profile{ProfileKey: "b", RemainingQuota: 0.9}
	disabled := Profile{ProfileKey: "c", Disabled: true}
	cooling := Profile{ProfileKey: "d", RateLimitedUntilMillis: now.UnixMilli() + 1}
	recovered := Profile{ProfileKey: "e", RateLimitedUntilMillis: now.UnixMilli() - 1}

	assert.Equal(t, StatusActive, active.StatusAt(now, "a"))
	assert.Equal(t, StatusStandby, standby.StatusAt(now, "a"))
	assert.Equal(t, StatusLimited, disabled.StatusAt(now, "a"))
	assert.Equal(t, StatusLimited, cooling.StatusAt(now, "a"))
	assert.Equal(t, StatusStandby, recovered.StatusAt(now, "a"))

	// A limited profile is never ACTIVE, even when last used.
	assert.Equal(t, StatusLimited, disabled.StatusAt(now, "c"))
}

func TestRankOrdering(t *testing.T) {
	profiles := []Profile{
		{ProfileKey: "p1", Email: "p1@x.io", RemainingQuota: 0.2, ResetAtMillis: 100},
		{ProfileKey: "p2", Email: "p2@x.io", RemainingQuota: 0.2, ResetAtMillis: 50},
		{ProfileKey: "p3", Disabled: true},
	}

	ranked := Rank(profiles, now)
	require.Len(t, ranked, 2)
	assert.Equal(t, "p2", ranked[0].ProfileKey)
	assert.Equal(t, "p1", ranked[1].ProfileKey)
}

func TestRankTieBreakByDisplayID(t *testing.T) {
	profiles := []Profile{
		{ProfileKey: "zed", Email: "zed@x.io", RemainingQuota: 0.5, ResetAtMillis: 10},
		{ProfileKey: "amy", Email: "amy@x.io", RemainingQuota: 0.5, ResetAtMillis: 10},
	}
	ranked := Rank(profiles, now)
	require.Len(t, ranked, 2)
	assert.Equal(t, "amy", ranked[0].ProfileKey)
}

func TestSwapNextSkipsActive(t *testing.T) {
	profiles := []Profile{
		{ProfileKey: "a", RemainingQuota: 0.1},
		{ProfileKey: "b", RemainingQuota: 0.2},
	}

	next, err := SwapNext(profiles, "a", now)
	require.NoError(t, err)
	assert.Equal(t, "b", next.ProfileKey)
}

func TestSwapNextFallsBackToActive(t *testing.T) {
	profiles := []Profile{
		{ProfileKey: "a", RemainingQuota: 0.1},
		{ProfileKey: "b", Disabled: true},
	}

	// Every other candidate is excluded; the best-ranked overall wins even
	// though it is the active one.
	next, err := SwapNext(profiles, "a", now)
	require.NoError(t, err)
	assert.Equal(t, "a", next.ProfileKey)
}

func TestSwapNextExhausted(t *testing.T) {
	profiles := []Profile{
		{ProfileKey: "a", Disabled: true},
		{ProfileKey: "b", RateLimitedUntilMillis: now.UnixMilli() + 60_000},
	}

	_, err := SwapNext(profiles, "a", now)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestStorePersistence(t *testing.T) {
	path := t.TempDir() + "/anthropic.json"
	store := NewStore("anthropic", path)

	require.NoError(t, store.Put(Profile{ProfileKey: "a", Email: "a@x.io", RemainingQuota: 0.3}))
	require.NoError(t, store.Put(Profile{ProfileKey: "b", Email: "b@x.io", RemainingQuota: 0.1}))

	next, err := store.Swap(now)
	require.NoError(t, err)
	assert.Equal(t, "b", next.ProfileKey, "lowest remaining quota drains first")

	// A second store over the same file sees the persisted selection.
	reopened := NewStore("anthropic", path)
	active, ok := reopened.Active()
	require.True(t, ok)
	assert.Equal(t, "b", active.ProfileKey)

	statuses := reopened.Statuses(now)
	assert.Equal(t, StatusActive, statuses["b"])
	assert.Equal(t, StatusStandby, statuses["a"])
}

func TestStoreMarkRateLimitedExcludesFromSwap(t *testing.T) {
	path := t.TempDir() + "/pool.json"
	store := NewStore("p", path)

	require.NoError(t, store.Put(Profile{ProfileKey: "a", RemainingQuota: 0.1}))
	require.NoError(t, store.Put(Profile{ProfileKey: "b", RemainingQuota: 0.2}))
	require.NoError(t, store.MarkRateLimited("a", now.Add(time.Hour)))

	next, err := store.Swap(now)
	require.NoError(t, err)
	assert.Equal(t, "b", next.ProfileKey)

	statuses := store.Statuses(now)
	assert.Equal(t, StatusLimited, statuses["a"])
}

func TestStoreMarkUsedUpdatesQuota(t *testing.T) {
	path := t.TempDir() + "/pool.json"
	store := NewStore("p", path)

	require.NoError(t, store.Put(Profile{ProfileKey: "a", RemainingQuota: 0.9}))
	require.NoError(t, store.MarkUsed("a", 0.4, now.Add(time.Hour)))

	doc := store.Load()
	assert.InDelta(t, 0.4, doc.Profiles["a"].RemainingQuota, 1e-9)
	assert.Equal(t, now.Add(time.Hour).UnixMilli(), doc.Profiles["a"].ResetAtMillis)

	assert.Error(t, store.MarkUsed("ghost", 0.1, now))
}

func TestStoreSwapExhaustedKeepsSelection(t *testing.T) {
	path := t.TempDir() + "/pool.json"
	store := NewStore("p", path)

	require.NoError(t, store.Put(Profile{ProfileKey: "a", RemainingQuota: 0.5}))
	_, err := store.Swap(now)
	require.NoError(t, err)

	require.NoError(t, store.SetDisabled("a", true))
	_, err = store.Swap(now)
	require.ErrorIs(t, err, ErrExhausted)

	active, ok := store.Active()
	require.True(t, ok)
	assert.Equal(t, "a", active.ProfileKey)
}
