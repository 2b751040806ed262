package agentrelay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/config"
	"github.com/agentrelay/agentrelay/pool"
)

func newTestRelay(t *testing.T) *Relay {
	t.Helper()
	cfg := config.Default()
	cfg.StateDir = t.TempDir()

	relay, err := New(func(o *Options) { o.Config = cfg })
	require.NoError(t, err)
	return relay
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.StateDir = ""
	_, err := New(func(o *Options) { o.Config = cfg })
	assert.Error(t, err)
}

func TestChannelRoundTripThroughRelay(t *testing.T) {
	relay := newTestRelay(t)

	sess, err := relay.Sessions().Current()
	require.NoError(t, err)

	require.NoError(t, relay.Append(sess.SessionID, "events", "started", map[string]string{"worker": "w1"}))
	require.NoError(t, relay.Append(sess.SessionID, "events", "finished", nil))

	records, offset, err := relay.ReadSince(sess.SessionID, "events", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "started", records[0].Kind)
	assert.Equal(t, "finished", records[1].Kind)

	more, same, err := relay.ReadSince(sess.SessionID, "events", offset)
	require.NoError(t, err)
	assert.Empty(t, more)
	assert.Equal(t, offset, same)
}

func TestHeartbeatAndReady(t *testing.T) {
	relay := newTestRelay(t)

	sess, err := relay.Sessions().Current()
	require.NoError(t, err)

	assert.False(t, relay.Ready(sess.SessionID, "ui"))
	require.NoError(t, relay.Heartbeat(sess.SessionID, "ui"))
	assert.True(t, relay.Ready(sess.SessionID, "ui"))
}

func TestPoolPersistsUnderStateDir(t *testing.T) {
	relay := newTestRelay(t)

	p := relay.Pool("anthropic")
	require.NoError(t, p.Put(pool.Profile{ProfileKey: "a", RemainingQuota: 0.5}))

	next, err := p.Swap(time.Now())
	require.NoError(t, err)
	assert.Equal(t, "a", next.ProfileKey)

	// A second handle over the same relay sees the persisted selection.
	again, ok := relay.Pool("anthropic").Active()
	require.True(t, ok)
	assert.Equal(t, "a", again.ProfileKey)
}

func TestSpawnWorkerUnknownName(t *testing.T) {
	relay := newTestRelay(t)
	_, err := relay.SpawnWorker(context.Background(), "ghost")
	assert.Error(t, err)
}
