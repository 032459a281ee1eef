// Package inmemory provides a process-local implementation of the registry
// store interfaces. It backs the governor runtime and the test suites.
package inmemory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wippyhq/registry-governor/internal/registry"
)

// Store is a versioned in-memory entry store. All operations are safe for
// concurrent use; snapshots are deep copies and never observe later writes.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*registry.Entry
	current string
	history []registry.Version
	states  map[string]map[string]*registry.Entry
	now     func() time.Time
	newID   func() string
}

// Option configures the store
type Option func(*Store)

// WithClock overrides the wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithVersionIDs overrides version id generation, for tests
func WithVersionIDs(gen func() string) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// New creates an empty store with an initial version
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*registry.Entry),
		states:  make(map[string]map[string]*registry.Entry),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.commitLocked("initial", nil)
	return s
}

// Seed adds entries to the store as a single new version; an entry whose id
// is already present is overwritten, and entries not named are kept.
// Intended for test and dev bootstrap.
func (s *Store) Seed(entries ...*registry.Entry) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.ID] = e.Clone()
	}
	return s.commitLocked("seed", nil)
}

// commitLocked records the current entry set as a new version and returns
// its id. Callers must hold the write lock.
func (s *Store) commitLocked(message string, _ []registry.Operation) string {
	id := s.newID()
	state := make(map[string]*registry.Entry, len(s.entries))
	for k, v := range s.entries {
		state[k] = v.Clone()
	}
	s.states[id] = state
	s.history = append(s.history, registry.Version{ID: id, Timestamp: s.now(), Message: message})
	s.current = id
	return id
}

// CurrentVersion implements registry.Store
func (s *Store) CurrentVersion(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// History implements registry.Store
func (s *Store) History(_ context.Context) ([]registry.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registry.Version, len(s.history))
	copy(out, s.history)
	return out, nil
}

// Find implements registry.Store
func (s *Store) Find(_ context.Context, q registry.Query) ([]*registry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*registry.Entry
	for _, e := range s.entries {
		if q.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Snapshot implements registry.Store
func (s *Store) Snapshot(_ context.Context) (registry.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make(map[string]*registry.Entry, len(s.entries))
	for k, v := range s.entries {
		entries[k] = v.Clone()
	}
	return &snapshot{store: s, version: s.current, entries: entries}, nil
}

// ApplyVersion implements registry.Store. The registry content is restored
// to the named historical version and the current version pointer moves to
// it; applying the current version is a no-op.
func (s *Store) ApplyVersion(_ context.Context, versionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[versionID]
	if !ok {
		return "", fmt.Errorf("%w: %s", registry.ErrVersionNotFound, versionID)
	}
	if versionID == s.current {
		return s.current, nil
	}
	s.entries = make(map[string]*registry.Entry, len(state))
	for k, v := range state {
		s.entries[k] = v.Clone()
	}
	s.current = versionID
	return versionID, nil
}

// BuildDelta implements registry.Store
func (s *Store) BuildDelta(current, target []*registry.Entry) registry.Changeset {
	curByID := make(map[string]*registry.Entry, len(current))
	for _, e := range current {
		curByID[e.ID] = e
	}
	tgtByID := make(map[string]*registry.Entry, len(target))
	for _, e := range target {
		tgtByID[e.ID] = e
	}

	ids := make([]string, 0, len(curByID)+len(tgtByID))
	for id := range tgtByID {
		ids = append(ids, id)
	}
	for id := range curByID {
		if _, ok := tgtByID[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var cs registry.Changeset
	for _, id := range ids {
		cur, inCur := curByID[id]
		tgt, inTgt := tgtByID[id]
		switch {
		case inTgt && !inCur:
			cs = append(cs, registry.Operation{Kind: registry.OpCreate, Entry: tgt.Clone()})
		case !inTgt && inCur:
			cs = append(cs, registry.Operation{Kind: registry.OpDelete, Entry: &registry.Entry{ID: cur.ID}})
		case !entryEqual(cur, tgt):
			cs = append(cs, registry.Operation{Kind: registry.OpUpdate, Entry: tgt.Clone()})
		}
	}
	return cs
}

func entryEqual(a, b *registry.Entry) bool {
	return a.Kind == b.Kind &&
		sameValue(normalizeMap(a.Meta), normalizeMap(b.Meta)) &&
		sameValue(normalizeMap(a.Data), normalizeMap(b.Data))
}

// sameValue compares two maps by value. Maps that differ only in the Go type
// of their numbers (an int seeded in-process against the float64 carried by
// a JSON-decoded command) compare equal through their JSON encoding.
func sameValue(a, b map[string]any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// normalizeMap treats nil and empty maps as equal
func normalizeMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

// snapshot is an immutable copy of the store at one version
type snapshot struct {
	store   *Store
	version string
	entries map[string]*registry.Entry
}

// Version implements registry.Snapshot
func (s *snapshot) Version() string { return s.version }

// Entries implements registry.Snapshot
func (s *snapshot) Entries() []*registry.Entry {
	out := make([]*registry.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get implements registry.Snapshot
func (s *snapshot) Get(id string) (*registry.Entry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Changes implements registry.Snapshot
func (s *snapshot) Changes() registry.Changes {
	return &changes{store: s.store}
}

// changes accumulates a delta and commits it against the live store state
type changes struct {
	store *Store
	ops   []registry.Operation
}

func (c *changes) Create(e *registry.Entry) {
	c.ops = append(c.ops, registry.Operation{Kind: registry.OpCreate, Entry: e.Clone()})
}

func (c *changes) Update(e *registry.Entry) {
	c.ops = append(c.ops, registry.Operation{Kind: registry.OpUpdate, Entry: e.Clone()})
}

func (c *changes) Delete(id string) {
	c.ops = append(c.ops, registry.Operation{Kind: registry.OpDelete, Entry: &registry.Entry{ID: id}})
}

// Apply implements registry.Changes. Operations that leave the live state
// byte-identical are dropped; an all-dropped delta returns ErrNoChanges.
func (c *changes) Apply(_ context.Context) (string, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, op := range c.ops {
		switch op.Kind {
		case registry.OpCreate, registry.OpUpdate:
			if existing, ok := s.entries[op.Entry.ID]; ok && entryEqual(existing, op.Entry) {
				continue
			}
			s.entries[op.Entry.ID] = op.Entry.Clone()
			applied++
		case registry.OpDelete:
			if _, ok := s.entries[op.Entry.ID]; !ok {
				continue
			}
			delete(s.entries, op.Entry.ID)
			applied++
		default:
			return "", fmt.Errorf("unrecognized operation kind %q", op.Kind)
		}
	}
	if applied == 0 {
		return "", registry.ErrNoChanges
	}
	return s.commitLocked(fmt.Sprintf("apply %d operations", applied), c.ops), nil
}
