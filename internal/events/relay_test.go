package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyhq/registry-governor/internal/bus"
)

func TestRelay_PublishVersionChange(t *testing.T) {
	t.Parallel()

	b := bus.NewInProcess()
	defer b.Close()

	sub, err := b.Subscribe(Topic)
	require.NoError(t, err)
	defer sub.Close()

	relay := NewRelay(b)
	relay.PublishVersionChange(context.Background(), "v1", "v2")

	select {
	case data := <-sub.C():
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, EventVersionChange, env.Event)
		assert.Equal(t, "v1", env.Payload.OldVersion)
		assert.Equal(t, "v2", env.Payload.NewVersion)
		assert.NotZero(t, env.Payload.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("version change event not delivered")
	}
}

func TestRelay_PublishFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	b := bus.NewInProcess()
	b.Close()

	// best-effort: a dead bus must not panic or propagate
	relay := NewRelay(b)
	relay.PublishVersionChange(context.Background(), "v1", "v2")
}
