package pipeline

import (
	"context"
	"fmt"

	"github.com/wippyhq/registry-governor/internal/logger"
	"github.com/wippyhq/registry-governor/internal/operation"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// preProcess validates the incoming change and runs the processor chain.
// A nil return means the pipeline may proceed to execution; a non-nil
// result is the terminal failure verdict.
func (p *Pipeline) preProcess(ctx context.Context, pctx *Context) *operation.Result {
	switch {
	case pctx.Changeset != nil:
		if res := p.validateChangeset(pctx); res != nil {
			return res
		}
	case pctx.VersionID != "":
		if res := p.validateVersion(ctx, pctx); res != nil {
			return res
		}
		// Version applies skip the processor chain: there is no changeset
		// for processors to transform
		return nil
	default:
		return &operation.Result{
			Success: false,
			Message: "Nothing to apply: changeset or version_id is required",
		}
	}

	return p.runProcessors(ctx, pctx)
}

// validateChangeset shape-checks every item. Ill-formed items are dropped
// with a recorded detail; a changeset that is empty, or whose items are all
// ill-formed, fails the run.
func (p *Pipeline) validateChangeset(pctx *Context) *operation.Result {
	if len(pctx.Changeset) == 0 {
		return &operation.Result{Success: false, Message: "Changeset is empty"}
	}

	valid := make(registry.Changeset, 0, len(pctx.Changeset))
	for i, op := range pctx.Changeset {
		if reason := checkOperation(op); reason != "" {
			pctx.Detail(itemID(op, i), operation.DetailValidation, reason)
			continue
		}
		valid = append(valid, op)
	}

	if len(valid) == 0 {
		return &operation.Result{Success: false, Message: "Changeset validation failed"}
	}
	pctx.Changeset = valid
	return nil
}

func itemID(op registry.Operation, index int) string {
	if op.Entry != nil && op.Entry.ID != "" {
		return op.Entry.ID
	}
	return fmt.Sprintf("item:%d", index)
}

// checkOperation returns a rejection reason, or "" when the operation is
// well-formed
func checkOperation(op registry.Operation) string {
	if op.Kind == "" {
		return "operation is missing kind"
	}
	if !registry.KnownOpKind(op.Kind) {
		return fmt.Sprintf("unrecognized operation kind: %s", op.Kind)
	}
	if op.Entry == nil {
		return "operation is missing entry"
	}
	if op.Kind == registry.OpDelete {
		if op.Entry.ID == "" {
			return "delete operation requires an entry id"
		}
		return ""
	}
	if op.Entry.ID == "" {
		return "entry is missing id"
	}
	if _, _, err := registry.ParseID(op.Entry.ID); err != nil {
		return err.Error()
	}
	return ""
}

// validateVersion confirms the requested version exists in history
func (p *Pipeline) validateVersion(ctx context.Context, pctx *Context) *operation.Result {
	history, err := p.store.History(ctx)
	if err != nil {
		return &operation.Result{
			Success: false,
			Message: "Failed to validate version ID",
			Error:   err.Error(),
		}
	}
	for _, v := range history {
		if v.ID == pctx.VersionID {
			return nil
		}
	}
	pctx.Detail("version:"+pctx.VersionID, operation.DetailValidation,
		fmt.Sprintf("Version not found: %s", pctx.VersionID))
	return &operation.Result{
		Success: false,
		Message: "Failed to validate version ID",
	}
}

// runProcessors discovers the processor chain and invokes it in priority
// order. On success the context (including the changeset) is the last
// processor's output; on failure the run aborts with that processor's
// verdict.
func (p *Pipeline) runProcessors(ctx context.Context, pctx *Context) *operation.Result {
	processors, err := discoverExtensions(ctx, p.store, registry.TypeProcessor)
	if err != nil {
		return &operation.Result{
			Success: false,
			Message: "Failed to discover processors",
			Error:   err.Error(),
		}
	}

	origOptions := pctx.Options
	origUser := pctx.UserID

	for _, entry := range processors {
		handler, ok := p.dispatcher.Resolve(entry.ID)
		if !ok {
			return &operation.Result{
				Success: false,
				Message: fmt.Sprintf("Processor not available: %s", entry.ID),
			}
		}

		res, err := handler.Invoke(ctx, pctx)

		// Extensions cannot overwrite security-relevant context once the
		// run has begun
		pctx.Options = origOptions
		pctx.UserID = origUser

		if err != nil {
			return &operation.Result{
				Success: false,
				Message: fmt.Sprintf("Processor %s failed", entry.ID),
				Error:   err.Error(),
			}
		}
		if res == nil {
			continue
		}

		pctx.Details = append(pctx.Details, res.Details...)

		if !res.Success {
			msg := res.Message
			if msg == "" {
				msg = fmt.Sprintf("Processor %s rejected the changeset", entry.ID)
			}
			return &operation.Result{Success: false, Message: msg}
		}

		for k, v := range res.Keys {
			switch k {
			case "options", "user_id":
				logger.Warnw("Processor attempted to overwrite protected context key",
					"processor", entry.ID, "key", k)
			case "changeset":
				if cs, ok := v.(registry.Changeset); ok {
					pctx.Changeset = cs
				}
			default:
				pctx.Extra[k] = v
			}
		}
	}
	return nil
}
