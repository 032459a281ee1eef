package sync

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/wippyhq/registry-governor/internal/config"
	"github.com/wippyhq/registry-governor/internal/operation"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// Stat keys reported by the uploader
const (
	StatCreate = "create"
	StatUpdate = "update"
	StatDelete = "delete"
)

// Uploader loads entries from the source tree and diffs them against the
// live registry snapshot
type Uploader struct {
	store  registry.Store
	cfg    *config.Config
	loader *Loader
}

// NewUploader creates an uploader over the given store and configuration
func NewUploader(store registry.Store, cfg *config.Config) *Uploader {
	return &Uploader{store: store, cfg: cfg, loader: NewLoader(cfg.Materialize)}
}

// Run builds the delta between the source tree and the registry. In
// check-only mode it reports whether changes exist without producing an
// applicable changeset.
func (u *Uploader) Run(ctx context.Context, rawOptions map[string]any) *operation.Result {
	opts, err := operation.DecodeSyncOptions(rawOptions)
	if err != nil {
		return &operation.Result{Success: false, Message: "Invalid upload options", Error: err.Error()}
	}

	dir, err := u.cfg.ResolveDir(opts.Directory, opts.Filesystem)
	if err != nil {
		return &operation.Result{Success: false, Message: "Upload failed", Error: err.Error()}
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return &operation.Result{Success: false, Message: "Upload failed", Error: fmt.Sprintf("failed to lock %s: %v", dir, err)}
	}
	defer func() {
		_ = lock.Unlock()
	}()

	snap, err := u.store.Snapshot(ctx)
	if err != nil {
		return &operation.Result{Success: false, Message: "Upload failed", Error: err.Error()}
	}
	current := snap.Entries()

	target, err := u.loader.Load(dir)
	if err != nil {
		return &operation.Result{Success: false, Message: "Failed to load source tree", Error: err.Error()}
	}

	changeset := u.store.BuildDelta(current, target)

	stats := map[string]int{StatCreate: 0, StatUpdate: 0, StatDelete: 0}
	for _, op := range changeset {
		switch op.Kind {
		case registry.OpCreate:
			stats[StatCreate]++
		case registry.OpUpdate:
			stats[StatUpdate]++
		case registry.OpDelete:
			stats[StatDelete]++
		}
	}

	previous := make(map[string]*registry.Entry, len(current))
	for _, e := range current {
		previous[e.ID] = e
	}
	f := &formatter{policy: u.cfg.Materialize, previous: previous}
	formatted := f.format(changeset)

	if opts.CheckOnly {
		return &operation.Result{
			Success:    true,
			Message:    fmt.Sprintf("Found %d pending changes", len(changeset)),
			Count:      len(changeset),
			HasChanges: len(changeset) > 0,
			Stats:      stats,
			Formatted:  formatted,
		}
	}

	return &operation.Result{
		Success:    true,
		Message:    fmt.Sprintf("Loaded %d changes from %s", len(changeset), dir),
		Changeset:  changeset,
		Count:      len(changeset),
		HasChanges: len(changeset) > 0,
		Stats:      stats,
		Formatted:  formatted,
	}
}
