package pipeline

import (
	"context"

	"github.com/wippyhq/registry-governor/internal/logger"
	"github.com/wippyhq/registry-governor/internal/operation"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// postProcess runs the listener chain after a successful changeset apply.
// Listeners are fire-and-forget: their return values and errors are logged
// and never affect the pipeline's response.
func (p *Pipeline) postProcess(ctx context.Context, pctx *Context, execRes *operation.Result) {
	if !execRes.Success || pctx.Changeset == nil {
		return
	}

	listeners, err := discoverExtensions(ctx, p.store, registry.TypeListener)
	if err != nil {
		logger.Warnw("Failed to discover listeners", "error", err)
		return
	}

	for _, entry := range listeners {
		handler, ok := p.dispatcher.Resolve(entry.ID)
		if !ok {
			logger.Warnw("Listener not available", "listener", entry.ID)
			continue
		}
		res, err := handler.Invoke(ctx, pctx)
		if err != nil {
			logger.Warnw("Listener failed", "listener", entry.ID, "error", err)
			continue
		}
		if res != nil {
			logger.Debugf("Listener %s returned: %s", entry.ID, res.Message)
		}
	}
}
