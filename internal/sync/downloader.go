package sync

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"github.com/mitchellh/mapstructure"

	"github.com/wippyhq/registry-governor/internal/config"
	"github.com/wippyhq/registry-governor/internal/logger"
	"github.com/wippyhq/registry-governor/internal/operation"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// Stat keys reported by the downloader
const (
	StatNamespaces      = "namespaces"
	StatEntries         = "entries"
	StatFiles           = "files"
	StatFilesSkipped    = "files_skipped"
	StatDeleted         = "deleted"
	StatOrphansRemoved  = "orphaned_files_removed"
	StatEmptyNamespaces = "empty_namespaces_removed"
	StatIndexesRemoved  = "index_files_removed"
)

// lockFileName guards a sync directory against concurrent governor
// processes
const lockFileName = ".governor.lock"

// Downloader materializes the registry snapshot into a directory tree
type Downloader struct {
	store  registry.Store
	cfg    *config.Config
	policy *config.Policy
}

// NewDownloader creates a downloader over the given store and configuration
func NewDownloader(store registry.Store, cfg *config.Config) *Downloader {
	return &Downloader{store: store, cfg: cfg, policy: cfg.Materialize}
}

// run-scoped bookkeeping for one download pass
type downloadRun struct {
	base string

	// written records absolute paths produced during this run
	written map[string]bool

	// referenced records, per namespace, the side filenames entries point at
	referenced map[string]map[string]bool

	// byNamespace groups the snapshot entries after source rewriting
	byNamespace map[string][]*registry.Entry

	stats map[string]int
}

// Run performs a full download: materialize side files, write index files,
// honor the deleted-entries hint, then garbage-collect orphans and empty
// namespaces unless disabled.
func (d *Downloader) Run(ctx context.Context, rawOptions map[string]any) *operation.Result {
	opts, err := operation.DecodeSyncOptions(rawOptions)
	if err != nil {
		return &operation.Result{Success: false, Message: "Invalid download options", Error: err.Error()}
	}

	base, err := d.cfg.ResolveDir(opts.Directory, opts.Filesystem)
	if err != nil {
		return &operation.Result{Success: false, Message: "Download failed", Error: err.Error()}
	}
	if err := os.MkdirAll(base, 0750); err != nil {
		return &operation.Result{Success: false, Message: "Download failed", Error: err.Error()}
	}

	lock := flock.New(filepath.Join(base, lockFileName))
	if err := lock.Lock(); err != nil {
		return &operation.Result{Success: false, Message: "Download failed", Error: fmt.Sprintf("failed to lock %s: %v", base, err)}
	}
	defer func() {
		_ = lock.Unlock()
	}()

	snap, err := d.store.Snapshot(ctx)
	if err != nil {
		return &operation.Result{Success: false, Message: "Download failed", Error: err.Error()}
	}

	run := &downloadRun{
		base:        base,
		written:     make(map[string]bool),
		referenced:  make(map[string]map[string]bool),
		byNamespace: make(map[string][]*registry.Entry),
		stats:       make(map[string]int),
	}

	if err := d.materialize(run, snap.Entries()); err != nil {
		return &operation.Result{Success: false, Message: "Download failed", Error: err.Error()}
	}
	if err := d.writeIndexes(run); err != nil {
		return &operation.Result{Success: false, Message: "Download failed", Error: err.Error()}
	}
	d.removeDeleted(run, rawOptions)

	if opts.CleanupEnabled() {
		d.cleanupOrphans(run)
		d.cleanupNamespaces(run)
	}

	return &operation.Result{
		Success: true,
		Message: fmt.Sprintf("Downloaded %d entries in %d namespaces", run.stats[StatEntries], run.stats[StatNamespaces]),
		Version: snap.Version(),
		Stats:   run.stats,
	}
}

// materialize walks every snapshot entry, writes side files for
// source-bearing kinds, and rewrites their source fields to file:// URLs
func (d *Downloader) materialize(run *downloadRun, entries []*registry.Entry) error {
	for _, e := range entries {
		namespace, name, err := registry.ParseID(e.ID)
		if err != nil {
			logger.Warnw("Skipping entry with malformed id", "id", e.ID, "error", err)
			continue
		}
		run.byNamespace[namespace] = append(run.byNamespace[namespace], e)
		run.stats[StatEntries]++

		rule, ok := d.policy.RuleFor(e.Kind, e.MetaString(registry.MetaType))
		if !ok {
			continue
		}
		source, ok := e.Data[rule.SourceField].(string)
		if !ok {
			continue
		}

		if strings.HasPrefix(source, fileURLPrefix) {
			// already externalized; keep the reference alive
			run.reference(namespace, strings.TrimPrefix(source, fileURLPrefix))
			continue
		}

		filename := name
		if !strings.HasSuffix(filename, rule.Extension) {
			filename += rule.Extension
		}

		dir := namespaceDir(run.base, namespace)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create namespace directory %s: %w", dir, err)
		}

		path := filepath.Join(dir, filename)
		wrote, err := writeIfChanged(path, []byte(source))
		if err != nil {
			return err
		}
		if wrote {
			run.stats[StatFiles]++
		} else {
			run.stats[StatFilesSkipped]++
		}
		run.written[path] = true
		run.reference(namespace, filename)

		e.Data[rule.SourceField] = fileURLPrefix + filename
	}
	return nil
}

func (run *downloadRun) reference(namespace, filename string) {
	if run.referenced[namespace] == nil {
		run.referenced[namespace] = make(map[string]bool)
	}
	run.referenced[namespace][filename] = true
}

// writeIndexes emits one _index.yaml per non-empty namespace, writing only
// on content mismatch
func (d *Downloader) writeIndexes(run *downloadRun) error {
	for namespace, entries := range run.byNamespace {
		run.stats[StatNamespaces]++

		dir := namespaceDir(run.base, namespace)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create namespace directory %s: %w", dir, err)
		}

		content, err := encodeIndex(namespace, entries, d.policy.FieldOrder)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, IndexFileName)
		if _, err := writeIfChanged(path, content); err != nil {
			return err
		}
		run.written[path] = true
	}
	return nil
}

// removeDeleted honors the caller's deleted-entries hint: side files of
// entries just removed from the registry are deleted eagerly instead of
// waiting for the orphan scan
func (d *Downloader) removeDeleted(run *downloadRun, rawOptions map[string]any) {
	var hint struct {
		DeletedEntries []*registry.Entry `mapstructure:"deleted_entries"`
	}
	if err := mapstructure.Decode(rawOptions, &hint); err != nil || len(hint.DeletedEntries) == 0 {
		return
	}

	for _, e := range hint.DeletedEntries {
		namespace, name, err := registry.ParseID(e.ID)
		if err != nil {
			continue
		}
		rule, ok := d.policy.RuleFor(e.Kind, e.MetaString(registry.MetaType))
		if !ok {
			continue
		}
		filename := name
		if !strings.HasSuffix(filename, rule.Extension) {
			filename += rule.Extension
		}
		path := filepath.Join(namespaceDir(run.base, namespace), filename)
		if run.written[path] {
			continue
		}
		if err := os.Remove(path); err == nil {
			run.stats[StatDeleted]++
		} else if !os.IsNotExist(err) {
			logger.Warnw("Failed to remove deleted entry file", "path", path, "error", err)
		}
	}
}

// cleanupOrphans deletes any file under the base that is neither an index
// file, nor written during this run, nor referenced by a namespace's entries
func (d *Downloader) cleanupOrphans(run *downloadRun) {
	for _, path := range d.scanOrphans(run.base, run.written, run.referenced) {
		if err := os.Remove(path); err != nil {
			logger.Warnw("Failed to remove orphaned file", "path", path, "error", err)
			continue
		}
		run.stats[StatOrphansRemoved]++
	}
}

// scanOrphans lists files that nothing references. Shared by the cleanup
// pass and the read-only orphan check.
func (d *Downloader) scanOrphans(base string, written map[string]bool, referenced map[string]map[string]bool) []string {
	var orphans []string
	_ = filepath.WalkDir(base, func(path string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		name := entry.Name()
		if name == IndexFileName || name == lockFileName {
			return nil
		}
		if written[path] {
			return nil
		}
		namespace := dirNamespace(base, filepath.Dir(path))
		if referenced[namespace][name] {
			return nil
		}
		orphans = append(orphans, path)
		return nil
	})
	sort.Strings(orphans)
	return orphans
}

// cleanupNamespaces removes index files and directories of inactive
// namespaces. A namespace is active when it holds entries or is a proper
// ancestor of an active namespace. Directories are processed deepest first
// so nested empty namespaces collapse in one pass.
func (d *Downloader) cleanupNamespaces(run *downloadRun) {
	active := make(map[string]bool)
	for namespace := range run.byNamespace {
		parts := strings.Split(namespace, ".")
		for i := 1; i <= len(parts); i++ {
			active[strings.Join(parts[:i], ".")] = true
		}
	}

	var dirs []string
	_ = filepath.WalkDir(run.base, func(path string, entry os.DirEntry, err error) error {
		if err != nil || !entry.IsDir() || path == run.base {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	// deepest first
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	for _, dir := range dirs {
		namespace := dirNamespace(run.base, dir)
		if active[namespace] {
			continue
		}

		indexPath := filepath.Join(dir, IndexFileName)
		if err := os.Remove(indexPath); err == nil {
			run.stats[StatIndexesRemoved]++
		}

		if err := os.Remove(dir); err == nil {
			run.stats[StatEmptyNamespaces]++
			continue
		}

		// a straggler file in a dead namespace is unexpected; clear it and
		// retry the removal once
		leftovers, _ := os.ReadDir(dir)
		removedAll := true
		for _, f := range leftovers {
			if f.IsDir() {
				removedAll = false
				continue
			}
			if err := os.Remove(filepath.Join(dir, f.Name())); err != nil {
				logger.Warnw("Failed to clear inactive namespace file", "path", filepath.Join(dir, f.Name()), "error", err)
				removedAll = false
				continue
			}
			run.stats[StatOrphansRemoved]++
		}
		if removedAll {
			if err := os.Remove(dir); err == nil {
				run.stats[StatEmptyNamespaces]++
			}
		}
	}
}

// CheckOrphans reports the orphaned files a cleanup pass would remove,
// without mutating anything
func (d *Downloader) CheckOrphans(ctx context.Context, rawOptions map[string]any) ([]string, error) {
	opts, err := operation.DecodeSyncOptions(rawOptions)
	if err != nil {
		return nil, err
	}
	base, err := d.cfg.ResolveDir(opts.Directory, opts.Filesystem)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(base); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	snap, err := d.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	// expected side files per namespace, computed without writing
	referenced := make(map[string]map[string]bool)
	for _, e := range snap.Entries() {
		namespace, name, err := registry.ParseID(e.ID)
		if err != nil {
			continue
		}
		rule, ok := d.policy.RuleFor(e.Kind, e.MetaString(registry.MetaType))
		if !ok {
			continue
		}
		source, ok := e.Data[rule.SourceField].(string)
		if !ok {
			continue
		}
		filename := name
		if strings.HasPrefix(source, fileURLPrefix) {
			filename = strings.TrimPrefix(source, fileURLPrefix)
		} else if !strings.HasSuffix(filename, rule.Extension) {
			filename += rule.Extension
		}
		if referenced[namespace] == nil {
			referenced[namespace] = make(map[string]bool)
		}
		referenced[namespace][filename] = true
	}

	return d.scanOrphans(base, nil, referenced), nil
}

// writeIfChanged writes content to path only when the current file content
// differs byte-for-byte; it reports whether a write happened
func writeIfChanged(path string, content []byte) (bool, error) {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, content) {
		return false, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0600); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
