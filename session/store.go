// Package session manages the persisted coordination session: a small
// session-pointer document identifying the active session plus the per-session
// directory layout for channel logs, heartbeat sentinels and rotation-state
// documents. Any process with access to the state directory can stamp or read
// shared session metadata; the document is lazily created on first access.
package session

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentrelay/agentrelay/bus"
	"github.com/agentrelay/agentrelay/logging"
)

// SchemaVersion is the session record schema version. Records written by a
// future incompatible layout bump this.
const SchemaVersion = 1

// ErrRevisionConflict is returned by StampIfRevision when another writer got
// there first.
var ErrRevisionConflict = fmt.Errorf("session record revision conflict")

// Record is the persisted session-pointer document.
type Record struct {
	SessionID     string         `json:"sessionId"`
	SchemaVersion int            `json:"schemaVersion"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Revision      int64          `json:"revision"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// Clone returns a copy safe for independent mutation.
func (r *Record) Clone() *Record {
	nr := *r
	nr.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		nr.Fields[k] = v
	}
	return &nr
}

// StoreOptions configures a session store.
type StoreOptions struct {
	// Logger receives store diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Store reads and writes session state rooted at a state directory. The
// mutex serializes writers within this process; cross-process writers rely on
// the bus document store's atomic replace (last-writer-wins) or on
// StampIfRevision for optimistic concurrency.
type Store struct {
	root   string
	logger logging.Logger
	mu     sync.Mutex
}

// NewStore creates a store rooted at the given state directory.
func NewStore(root string, optFns ...func(o *StoreOptions)) *Store {
	opts := StoreOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Store{root: root, logger: opts.Logger}
}

// Root returns the state directory the store is rooted at.
func (s *Store) Root() string { return s.root }

// PointerPath is the location of the session-pointer document.
func (s *Store) PointerPath() string { return filepath.Join(s.root, "session.json") }

// SessionDir is the per-session directory holding channel logs and sentinels.
func (s *Store) SessionDir(sessionID string) string {
	return filepath.Join(s.root, "sessions", sessionID)
}

// ChannelPath is the append-only log file for one logical channel of a
// session (requests, responses, events).
func (s *Store) ChannelPath(sessionID, channel string) string {
	return filepath.Join(s.SessionDir(sessionID), channel+".jsonl")
}

// SentinelPath is the heartbeat sentinel file for a session consumer.
func (s *Store) SentinelPath(sessionID, name string) string {
	return filepath.Join(s.SessionDir(sessionID), name+".alive")
}

// PoolPath is the rotation-state document for one named credential pool.
func (s *Store) PoolPath(name string) string {
	return filepath.Join(s.root, "pools", name+".json")
}

// Current returns the active session record, creating and persisting a fresh
// one (new generated identifier) if the pointer document is absent or
// unreadable.
func (s *Store) Current() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Store) currentLocked() (*Record, error) {
	var rec Record
	if bus.ReadDocument(s.PointerPath(), &rec) && rec.SessionID != "" {
		return &rec, nil
	}

	rec = Record{
		SessionID:     uuid.NewString(),
		SchemaVersion: SchemaVersion,
		UpdatedAt:     time.Now().UTC(),
		Revision:      1,
		Fields:        map[string]any{},
	}
	if err := bus.WriteDocument(s.PointerPath(), &rec); err != nil {
		return nil, fmt.Errorf("create session record: %w", err)
	}
	s.logger.Info("session.created", "session_id", rec.SessionID)
	return &rec, nil
}

// Stamp merges fields into the session record and persists it, bumping the
// revision and UpdatedAt. The session is created lazily if absent.
func (s *Store) Stamp(fields map[string]any) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.currentLocked()
	if err != nil {
		return nil, err
	}
	return s.writeLocked(rec, fields)
}

// StampIfRevision behaves like Stamp but fails with ErrRevisionConflict when
// the stored revision no longer matches expected. This is the targeted
// optimistic extension over the document store's last-writer-wins replace;
// writers that do not need it keep using Stamp.
func (s *Store) StampIfRevision(expected int64, fields map[string]any) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.currentLocked()
	if err != nil {
		return nil, err
	}
	if rec.Revision != expected {
		return nil, fmt.Errorf("%w: have %d, expected %d", ErrRevisionConflict, rec.Revision, expected)
	}
	return s.writeLocked(rec, fields)
}

func (s *Store) writeLocked(rec *Record, fields map[string]any) (*Record, error) {
	next := rec.Clone()
	for k, v := range fields {
		next.Fields[k] = v
	}
	next.SchemaVersion = SchemaVersion
	next.UpdatedAt = time.Now().UTC()
	next.Revision = rec.Revision + 1

	if err := bus.WriteDocument(s.PointerPath(), next); err != nil {
		return nil, fmt.Errorf("stamp session record: %w", err)
	}
	return next, nil
}
