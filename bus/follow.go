package bus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentrelay/agentrelay/logging"
)

// FollowOptions configures a channel log follower.
type FollowOptions struct {
	// PollInterval bounds the staleness when filesystem notifications are
	// unavailable or dropped. Defaults to one second.
	PollInterval time.Duration

	// Debounce coalesces notification bursts before draining. Defaults to
	// 50ms.
	Debounce time.Duration

	// Logger receives follower diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Follow tails the channel log at path starting from the given byte offset,
// delivering each newly appended valid record on the returned channel until
// ctx is cancelled. The watch is fsnotify-driven with a polling fallback, so
// a dropped notification only delays delivery by one poll interval. The file
// does not need to exist yet; its parent directory is created so it can be
// watched.
//
// Consumers that poll at their own cadence should use ReadSince directly;
// Follow exists for consumers that want push-style delivery.
func Follow(ctx context.Context, path string, offset int64, optFns ...func(o *FollowOptions)) (<-chan Record, error) {
	opts := FollowOptions{
		PollInterval: time.Second,
		Debounce:     50 * time.Millisecond,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create channel dir: %w", err)
	}

	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		opts.Logger.Warn("bus.follow.fsnotify_unavailable", "error", err.Error())
		watcher = nil
	} else if addErr := watcher.Add(dir); addErr != nil {
		opts.Logger.Warn("bus.follow.watch_failed", "dir", dir, "error", addErr.Error())
		watcher.Close()
		watcher = nil
	}
	if watcher != nil {
		events = make(chan fsnotify.Event)
		go forwardEvents(ctx, watcher, path, events)
	}

	out := make(chan Record, 32)

	go func() {
		defer close(out)
		if watcher != nil {
			defer watcher.Close()
		}

		cursor := offset
		drain := func() bool {
			records, next, err := ReadSince(path, cursor)
			if err != nil {
				opts.Logger.Warn("bus.follow.read_failed", "path", path, "error", err.Error())
				return true
			}
			cursor = next
			for _, rec := range records {
				select {
				case out <- rec:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		// Catch up before waiting on notifications.
		if !drain() {
			return
		}

		ticker := time.NewTicker(opts.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !drain() {
					return
				}
			case _, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				// Let a write burst settle; one drain picks up all of it.
				select {
				case <-time.After(opts.Debounce):
				case <-ctx.Done():
					return
				}
				if !drain() {
					return
				}
			}
		}
	}()

	return out, nil
}

// forwardEvents filters watcher events down to writes/creates of the
// followed file.
func forwardEvents(ctx context.Context, watcher *fsnotify.Watcher, path string, out chan<- fsnotify.Event) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Name != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
