// Package governance hosts the single-writer coordinator that mediates all
// registry mutations, plus the command protocol envelopes it speaks over
// the bus.
package governance

import (
	"encoding/json"

	"github.com/wippyhq/registry-governor/internal/operation"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// CommandTopic carries governance requests to the coordinator
const CommandTopic = "registry.governance.command"

// ReplyTopicPrefix prefixes the ephemeral per-request reply topics
const ReplyTopicPrefix = "registry.governance.reply."

// Op names a governance operation
type Op string

// Operations accepted on the command topic
const (
	OpApplyChanges Op = "apply_changes"
	OpApplyVersion Op = "apply_version"
	OpUpload       Op = "upload"
	OpDownload     Op = "download"
	OpGetState     Op = "get_state"
)

// KnownOp reports whether op is an operation the coordinator accepts
func KnownOp(op Op) bool {
	switch op {
	case OpApplyChanges, OpApplyVersion, OpUpload, OpDownload, OpGetState:
		return true
	default:
		return false
	}
}

// Request is the command envelope
type Request struct {
	ID        string             `json:"id"`
	Operation Op                 `json:"operation"`
	RespondTo string             `json:"respond_to"`
	UserID    string             `json:"user_id,omitempty"`
	Timestamp int64              `json:"timestamp"`
	Changeset registry.Changeset `json:"changeset,omitempty"`
	VersionID string             `json:"version_id,omitempty"`
	Options   map[string]any     `json:"options,omitempty"`
}

// Response is the reply envelope published to the request's respond_to
// topic
type Response struct {
	RequestID string             `json:"request_id"`
	Success   bool               `json:"success"`
	Timestamp int64              `json:"timestamp"`
	Message   string             `json:"message,omitempty"`
	Error     string             `json:"error,omitempty"`
	Version   string             `json:"version,omitempty"`
	Stats     map[string]int     `json:"stats,omitempty"`
	Changeset registry.Changeset `json:"changeset,omitempty"`
	Details   []operation.Detail `json:"details,omitempty"`
	State     *State             `json:"state,omitempty"`

	// Count and HasChanges report delta size for sync operations
	Count      int  `json:"count,omitempty"`
	HasChanges bool `json:"has_changes,omitempty"`

	// Formatted is the display rendering of a sync changeset
	Formatted []string `json:"formatted_changeset,omitempty"`

	// Extra carries processor-returned keys through to the caller; it is
	// inlined into the envelope on the wire
	Extra map[string]any `json:"-"`
}

// MarshalJSON inlines Extra keys into the envelope without letting them
// shadow the fixed fields
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	data, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return data, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, taken := merged[k]; !taken {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON restores inlined extra keys into Extra
func (r *Response) UnmarshalJSON(data []byte) error {
	type plain Response
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Response(p)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, known := range []string{
		"request_id", "success", "timestamp", "message", "error",
		"version", "stats", "changeset", "details", "state",
		"count", "has_changes", "formatted_changeset",
	} {
		delete(raw, known)
	}
	if len(raw) == 0 {
		return nil
	}
	r.Extra = make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		r.Extra[k] = val
	}
	return nil
}

// State is the get_state payload
type State struct {
	Registry   RegistryState   `json:"registry"`
	Governance GovernanceState `json:"governance"`
	Changes    ChangesState    `json:"changes"`
}

// RegistryState reports the store's position
type RegistryState struct {
	CurrentVersion string `json:"current_version"`
	Timestamp      int64  `json:"timestamp"`
}

// GovernanceState reports the coordinator's position
type GovernanceState struct {
	Status              string `json:"status"`
	PID                 int    `json:"pid"`
	OperationInProgress bool   `json:"operation_in_progress"`
	CurrentOperation    string `json:"current_operation,omitempty"`
	LastOperationType   string `json:"last_operation_type,omitempty"`
	LastUpdated         int64  `json:"last_updated"`
}

// ChangesState carries the pending-change hints
type ChangesState struct {
	FilesystemChangesPending bool `json:"filesystem_changes_pending"`
	RegistryChangesPending   bool `json:"registry_changes_pending"`
}
