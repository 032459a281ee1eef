package registry

import (
	"context"
	"errors"
	"reflect"
	"time"
)

var (
	// ErrNoChanges is reported by Changes.Apply when the accumulated delta
	// is empty and no new version was produced
	ErrNoChanges = errors.New("no changes to apply")

	// ErrVersionNotFound is reported when a requested version id is not in
	// the store's history
	ErrVersionNotFound = errors.New("version not found")

	// ErrEntryNotFound is reported for operations against a missing entry
	ErrEntryNotFound = errors.New("entry not found")
)

// Version describes one point in the store's history
type Version struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// Query selects entries by kind and/or meta field values. Zero fields match
// everything.
type Query struct {
	Kind string
	Meta map[string]any
}

// Matches reports whether the entry satisfies the query
func (q Query) Matches(e *Entry) bool {
	if q.Kind != "" && e.Kind != q.Kind {
		return false
	}
	for k, want := range q.Meta {
		if e.Meta == nil {
			return false
		}
		if !reflect.DeepEqual(e.Meta[k], want) {
			return false
		}
	}
	return true
}

// Store is the versioned entry store the governance service coordinates
// writes for. Implementations must support concurrent readers and
// linearizable delta application.
type Store interface {
	// CurrentVersion returns the id of the latest applied version
	CurrentVersion(ctx context.Context) (string, error)

	// Snapshot returns an immutable consistent view of the registry
	Snapshot(ctx context.Context) (Snapshot, error)

	// History lists known versions, oldest first
	History(ctx context.Context) ([]Version, error)

	// ApplyVersion restores the registry to a historical version and
	// returns the id of the resulting version
	ApplyVersion(ctx context.Context, versionID string) (string, error)

	// Find returns entries matching the query against the live state
	Find(ctx context.Context, q Query) ([]*Entry, error)

	// BuildDelta computes the minimal changeset transforming current into
	// target
	BuildDelta(current, target []*Entry) Changeset
}

// Snapshot is an immutable view of the registry at one version
type Snapshot interface {
	// Version returns the snapshot's version id
	Version() string

	// Entries returns every entry in the snapshot
	Entries() []*Entry

	// Get looks up a single entry by id
	Get(id string) (*Entry, bool)

	// Changes starts a writable delta against this snapshot
	Changes() Changes
}

// Changes accumulates a delta and commits it as one new version
type Changes interface {
	Create(e *Entry)
	Update(e *Entry)
	Delete(id string)

	// Apply commits the accumulated operations. An empty delta returns
	// ErrNoChanges and leaves the store untouched.
	Apply(ctx context.Context) (version string, err error)
}
