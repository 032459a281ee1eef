package governance

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wippyhq/registry-governor/internal/logger"
	"github.com/wippyhq/registry-governor/internal/operation"
)

// WorkerFunc is one governance operation executed to completion. Workers
// report expected failures through the result's Success flag and reserve
// the error return for crashes.
type WorkerFunc func(ctx context.Context) (*operation.Result, error)

// Exit is the single terminal event every spawned worker produces
type Exit struct {
	WorkerID string
	Result   *operation.Result
	Err      error
}

// Spawner starts supervised workers on the configured process host. Each
// spawned worker delivers exactly one Exit event on the given channel, unless
// the spawn context is cancelled before the exit is received.
type Spawner interface {
	Spawn(ctx context.Context, name string, fn WorkerFunc, exits chan<- Exit) (string, error)
}

// hostSpawner runs workers as goroutines
type hostSpawner struct {
	host string
}

// NewHostSpawner creates a spawner for the named process host
func NewHostSpawner(host string) Spawner {
	return &hostSpawner{host: host}
}

// Spawn implements Spawner. Panics inside the worker surface as the exit's
// error rather than tearing the process down.
func (s *hostSpawner) Spawn(ctx context.Context, name string, fn WorkerFunc, exits chan<- Exit) (string, error) {
	id := uuid.NewString()
	logger.Debugf("Spawning worker %s (%s) on %s", name, id, s.host)

	go func() {
		var exit Exit
		exit.WorkerID = id

		func() {
			defer func() {
				if r := recover(); r != nil {
					exit.Result = nil
					exit.Err = fmt.Errorf("worker %s panicked: %v", name, r)
				}
			}()
			exit.Result, exit.Err = fn(ctx)
		}()

		select {
		case exits <- exit:
		case <-ctx.Done():
			logger.Warnw("Dropping worker exit: coordinator is gone", "worker", id)
		}
	}()

	return id, nil
}
