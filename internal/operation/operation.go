// Package operation holds the shapes shared by every governance worker:
// the structured result a worker terminates with, per-item diagnostic
// details, and the typed views of the loosely-keyed options map that rides
// along with each command.
package operation

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/wippyhq/registry-governor/internal/registry"
)

// Detail types attached to pipeline results
const (
	DetailValidation = "validation"
	DetailWarning    = "warning"
	DetailError      = "error"
	DetailInfo       = "info"
)

// Detail is one per-item diagnostic accumulated by the pipeline. Details
// are ordered and never discarded: a failed run still reports everything
// recorded before the failure.
type Detail struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Result is the terminal payload of a governance worker. Workers populate
// the fields relevant to their operation and leave the rest zero.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	// Version is set when the operation produced or moved to a registry
	// version
	Version string `json:"version,omitempty"`

	// Changeset carries the operations that were (or would be) applied
	Changeset registry.Changeset `json:"changeset,omitempty"`

	// Count and HasChanges report delta size for sync operations
	Count      int  `json:"count,omitempty"`
	HasChanges bool `json:"has_changes,omitempty"`

	// Stats holds per-operation counters (create/update/delete for upload,
	// namespaces/entries/files/... for download)
	Stats map[string]int `json:"stats,omitempty"`

	// Formatted is the display rendering of the changeset
	Formatted []string `json:"formatted_changeset,omitempty"`

	// Details are the accumulated per-item diagnostics
	Details []Detail `json:"details,omitempty"`

	// Extra carries processor-returned keys that must stay visible to
	// downstream stages and ultimately the client
	Extra map[string]any `json:"-"`

	UserID    string `json:"user_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// SyncOptions is the typed view of the options map for upload and download
type SyncOptions struct {
	// Directory overrides the configured source/target directory
	Directory string `mapstructure:"directory"`

	// Filesystem selects a named filesystem from configuration
	Filesystem string `mapstructure:"filesystem"`

	// CheckOnly computes the delta without producing an applicable
	// changeset (upload only)
	CheckOnly bool `mapstructure:"check_only"`

	// CleanupOrphaned controls orphan and empty-namespace removal during
	// download; nil means enabled
	CleanupOrphaned *bool `mapstructure:"cleanup_orphaned"`
}

// CleanupEnabled reports whether orphan cleanup should run
func (o *SyncOptions) CleanupEnabled() bool {
	return o.CleanupOrphaned == nil || *o.CleanupOrphaned
}

// DecodeSyncOptions extracts typed sync options from a raw options map
func DecodeSyncOptions(m map[string]any) (*SyncOptions, error) {
	out := &SyncOptions{}
	if err := mapstructure.Decode(m, out); err != nil {
		return nil, fmt.Errorf("invalid sync options: %w", err)
	}
	return out, nil
}
