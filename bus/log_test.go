package bus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func channelPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "session", "requests.jsonl")
}

func TestAppendCreatesParentsAndFile(t *testing.T) {
	path := channelPath(t)

	rec, err := NewRecord("command", map[string]string{"op": "start"})
	require.NoError(t, err)
	require.NoError(t, Append(path, rec))

	records, offset, err := ReadSince(path, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "command", records[0].Kind)
	assert.Equal(t, RecordVersion, records[0].Version)
	assert.Positive(t, records[0].Timestamp)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), offset)
}

func TestReadSinceIdempotent(t *testing.T) {
	path := channelPath(t)

	rec, err := NewRecord("event", "one")
	require.NoError(t, err)
	require.NoError(t, Append(path, rec))

	first, offset, err := ReadSince(path, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Same offset, no new appends: empty both times.
	again, sameOffset, err := ReadSince(path, offset)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, offset, sameOffset)

	again, sameOffset, err = ReadSince(path, offset)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, offset, sameOffset)

	// One append: exactly one new record, offset strictly increases.
	rec2, err := NewRecord("event", "two")
	require.NoError(t, err)
	require.NoError(t, Append(path, rec2))

	fresh, next, err := ReadSince(path, offset)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	var payload string
	require.NoError(t, fresh[0].DecodePayload(&payload))
	assert.Equal(t, "two", payload)
	assert.Greater(t, next, offset)
}

func TestReadSinceSkipsGarbageLines(t *testing.T) {
	path := channelPath(t)

	rec1, err := NewRecord("event", 1)
	require.NoError(t, err)
	require.NoError(t, Append(path, rec1))
	rec2, err := NewRecord("event", 2)
	require.NoError(t, err)
	require.NoError(t, Append(path, rec2))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("this line is garbage\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, offset, err := ReadSince(path, 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), offset, "offset covers the garbage too")
}

func TestReadSinceSkipsWrongVersionAndBlankLines(t *testing.T) {
	path := channelPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := `{"v":99,"kind":"event","ts":1}

{"v":1,"kind":"event","ts":2}
{"v":1,"ts":3}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records, _, err := ReadSince(path, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.EqualValues(t, 2, records[0].Timestamp)
}

func TestReadSinceMissingFile(t *testing.T) {
	records, offset, err := ReadSince(filepath.Join(t.TempDir(), "absent.jsonl"), 42)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, offset)
}

func TestReadSinceClampsOffsetPastEnd(t *testing.T) {
	path := channelPath(t)
	rec, err := NewRecord("event", nil)
	require.NoError(t, err)
	require.NoError(t, Append(path, rec))

	info, err := os.Stat(path)
	require.NoError(t, err)

	// Offset beyond the file (as after truncation/rotation) clamps to size.
	records, offset, err := ReadSince(path, info.Size()+1000)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, info.Size(), offset)
}

func TestFollowDeliversAppends(t *testing.T) {
	path := channelPath(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := Follow(ctx, path, 0, func(o *FollowOptions) {
		o.PollInterval = 20 * time.Millisecond
		o.Debounce = 5 * time.Millisecond
	})
	require.NoError(t, err)

	rec, err := NewRecord("event", "hello")
	require.NoError(t, err)
	require.NoError(t, Append(path, rec))

	select {
	case got := <-out:
		var payload string
		require.NoError(t, got.DecodePayload(&payload))
		assert.Equal(t, "hello", payload)
	case <-time.After(2 * time.Second):
		t.Fatal("follower did not deliver the appended record")
	}

	cancel()
	for range out {
		// drain until closed
	}
}
