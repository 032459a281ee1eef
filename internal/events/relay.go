// Package events publishes registry version-change notifications. Delivery
// is best-effort: a failed publish is logged and never affects the command
// reply.
package events

import (
	"context"
	"time"

	"github.com/wippyhq/registry-governor/internal/bus"
	"github.com/wippyhq/registry-governor/internal/logger"
)

const (
	// Topic is the event topic version changes are broadcast on
	Topic = "wippy.central"

	// EventVersionChange names the version-change event
	EventVersionChange = "registry:version"
)

// VersionChange is the payload broadcast when the registry version moves
type VersionChange struct {
	OldVersion string `json:"old_version"`
	NewVersion string `json:"new_version"`
	Timestamp  int64  `json:"timestamp"`
}

// Envelope wraps an event payload with its name
type Envelope struct {
	Event   string        `json:"event"`
	Payload VersionChange `json:"payload"`
}

// Relay publishes version-change events to the bus
type Relay struct {
	bus bus.Bus
	now func() time.Time
}

// NewRelay creates a relay over the given bus
func NewRelay(b bus.Bus) *Relay {
	return &Relay{bus: b, now: time.Now}
}

// PublishVersionChange broadcasts a version transition. Failures are logged
// and swallowed.
func (r *Relay) PublishVersionChange(ctx context.Context, oldVersion, newVersion string) {
	env := Envelope{
		Event: EventVersionChange,
		Payload: VersionChange{
			OldVersion: oldVersion,
			NewVersion: newVersion,
			Timestamp:  r.now().Unix(),
		},
	}
	if err := r.bus.Publish(ctx, Topic, env); err != nil {
		logger.Warnw("Failed to publish version change event",
			"old_version", oldVersion,
			"new_version", newVersion,
			"error", err)
	}
}
