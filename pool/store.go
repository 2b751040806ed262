package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/bus"
	"github.com/agentrelay/agentrelay/logging"
)

// Document is the persisted rotation state for one named pool: the profile
// set keyed by profile key plus the currently active selection. Derived
// status is computed on read, never stored.
type Document struct {
	SchemaVersion    int                `json:"schemaVersion"`
	ActiveProfileKey string             `json:"activeProfileKey,omitempty"`
	Profiles         map[string]Profile `json:"profiles"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// DocumentSchemaVersion tags persisted pool documents.
const DocumentSchemaVersion = 1

// StoreOptions configures a pool store.
type StoreOptions struct {
	// Logger receives rotation diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Store persists pool rotation state through the bus document store. The
// mutex serializes read-modify-write cycles within this process; the
// underlying replace is atomic but last-writer-wins across processes.
type Store struct {
	name   string
	path   string
	logger logging.Logger
	mu     sync.Mutex
}

// NewStore creates a store for the named pool persisted at path.
func NewStore(name, path string, optFns ...func(o *StoreOptions)) *Store {
	opts := StoreOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Store{name: name, path: path, logger: opts.Logger}
}

// Name returns the pool name.
func (s *Store) Name() string { return s.name }

// Load returns the persisted document, falling back to an empty pool when
// the file is absent or unparsable.
func (s *Store) Load() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() *Document {
	doc := &Document{SchemaVersion: DocumentSchemaVersion, Profiles: map[string]Profile{}}
	bus.ReadDocument(s.path, doc)
	if doc.Profiles == nil {
		doc.Profiles = map[string]Profile{}
	}
	return doc
}

func (s *Store) saveLocked(doc *Document) error {
	doc.SchemaVersion = DocumentSchemaVersion
	doc.UpdatedAt = time.Now().UTC()
	if err := bus.WriteDocument(s.path, doc); err != nil {
		return fmt.Errorf("persist pool %q: %w", s.name, err)
	}
	return nil
}

// Put inserts or replaces a profile definition. Selection state is preserved.
func (s *Store) Put(p Profile) error {
	if p.ProfileKey == "" {
		return fmt.Errorf("profile requires a key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	doc.Profiles[p.ProfileKey] = p
	return s.saveLocked(doc)
}

// Active returns the currently selected profile, if any.
func (s *Store) Active() (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	p, ok := doc.Profiles[doc.ActiveProfileKey]
	return p, ok
}

// Statuses derives the status of every profile at now.
func (s *Store) Statuses(now time.Time) map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	statuses := make(map[string]Status, len(doc.Profiles))
	for key, p := range doc.Profiles {
		statuses[key] = p.StatusAt(now, doc.ActiveProfileKey)
	}
	return statuses
}

// Swap rotates to the next usable profile and persists the new selection.
// ErrExhausted is returned (and the selection left unchanged) when no
// candidate remains.
func (s *Store) Swap(now time.Time) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	profiles := make([]Profile, 0, len(doc.Profiles))
	for _, p := range doc.Profiles {
		profiles = append(profiles, p)
	}

	next, err := SwapNext(profiles, doc.ActiveProfileKey, now)
	if err != nil {
		return Profile{}, err
	}

	from := doc.ActiveProfileKey
	doc.ActiveProfileKey = next.ProfileKey
	if err := s.saveLocked(doc); err != nil {
		return Profile{}, err
	}
	s.logger.Info("pool.swapped", "pool", s.name, "from", from, "to", next.ProfileKey)
	return next, nil
}

// MarkRateLimited stamps a cool-down on the profile so ranking excludes it
// until the given time.
func (s *Store) MarkRateLimited(key string, until time.Time) error {
	return s.update(key, func(p *Profile) {
		p.RateLimitedUntilMillis = until.UnixMilli()
	})
}

// MarkUsed records fresh quota observations for a profile after a call.
func (s *Store) MarkUsed(key string, remainingQuota float64, resetAt time.Time) error {
	return s.update(key, func(p *Profile) {
		p.RemainingQuota = remainingQuota
		p.ResetAtMillis = resetAt.UnixMilli()
	})
}

// SetDisabled flips the disabled flag on a profile.
func (s *Store) SetDisabled(key string, disabled bool) error {
	return s.update(key, func(p *Profile) {
		p.Disabled = disabled
	})
}

func (s *Store) update(key string, mutate func(p *Profile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	p, ok := doc.Profiles[key]
	if !ok {
		return fmt.Errorf("unknown profile %q in pool %q", key, s.name)
	}
	mutate(&p)
	doc.Profiles[key] = p
	return s.saveLocked(doc)
}
