package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/wippyhq/registry-governor/internal/operation"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// NoChangesMessage is reported when the store finds the delta empty
const NoChangesMessage = "No changes needed to be applied"

// execute commits the pre-processed change to the store
func (p *Pipeline) execute(ctx context.Context, pctx *Context) *operation.Result {
	if pctx.Changeset != nil {
		return p.executeChangeset(ctx, pctx)
	}
	return p.executeVersion(ctx, pctx)
}

func (p *Pipeline) executeChangeset(ctx context.Context, pctx *Context) *operation.Result {
	snap, err := p.store.Snapshot(ctx)
	if err != nil {
		return &operation.Result{
			Success: false,
			Message: "Failed to apply changes",
			Error:   fmt.Sprintf("snapshot failed: %v", err),
		}
	}

	changes := snap.Changes()
	for _, op := range pctx.Changeset {
		switch op.Kind {
		case registry.OpCreate:
			changes.Create(op.Entry)
		case registry.OpUpdate:
			changes.Update(op.Entry)
		case registry.OpDelete:
			changes.Delete(op.Entry.ID)
		}
	}

	version, err := changes.Apply(ctx)
	if errors.Is(err, registry.ErrNoChanges) {
		return &operation.Result{Success: true, Message: NoChangesMessage}
	}
	if err != nil {
		return &operation.Result{
			Success: false,
			Message: "Failed to apply changes",
			Error:   err.Error(),
		}
	}
	return &operation.Result{
		Success: true,
		Message: "Changes applied successfully",
		Version: version,
	}
}

func (p *Pipeline) executeVersion(ctx context.Context, pctx *Context) *operation.Result {
	version, err := p.store.ApplyVersion(ctx, pctx.VersionID)
	if err != nil {
		return &operation.Result{
			Success: false,
			Message: "Failed to apply version",
			Error:   err.Error(),
		}
	}
	return &operation.Result{
		Success: true,
		Message: fmt.Sprintf("Version %s applied successfully", pctx.VersionID),
		Version: version,
	}
}
