package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/wippyhq/registry-governor/internal/bus"
	"github.com/wippyhq/registry-governor/internal/config"
	"github.com/wippyhq/registry-governor/internal/events"
	"github.com/wippyhq/registry-governor/internal/logger"
	"github.com/wippyhq/registry-governor/internal/operation"
	"github.com/wippyhq/registry-governor/internal/pipeline"
	"github.com/wippyhq/registry-governor/internal/registry"
	pkgsync "github.com/wippyhq/registry-governor/internal/sync"
	"github.com/wippyhq/registry-governor/internal/telemetry"
)

// stage tracks where a pending operation is in its lifecycle
type stage string

const (
	stageUpload stage = "upload"
	stageChange stage = "change"
	stageSingle stage = "single"
)

// pendingOp is the coordinator's record of one spawned worker
type pendingOp struct {
	respondTo    string
	requestID    string
	op           Op
	stage        stage
	userID       string
	options      map[string]any
	startTime    time.Time
	uploadResult *operation.Result
}

// Coordinator is the single-writer actor owning all governance state. It
// consumes the command topic and worker exit events one message at a time;
// no other goroutine touches its state.
type Coordinator struct {
	store      registry.Store
	bus        bus.Bus
	cfg        *config.Config
	relay      *events.Relay
	spawner    Spawner
	pipe       *pipeline.Pipeline
	uploader   *pkgsync.Uploader
	downloader *pkgsync.Downloader
	metrics    *telemetry.GovernanceMetrics

	exits   chan Exit
	fsDirty chan struct{}

	// mutable state, owned by Run's goroutine
	currentVersion      string
	lastUpdated         time.Time
	operationInProgress bool
	currentOperation    Op
	operationStart      time.Time
	pending             map[string]*pendingOp
	registryPending     bool
	filesystemPending   bool
	lastDownloadVersion string
	lastOperationType   string
}

// Option configures the coordinator
type Option func(*Coordinator)

// WithSpawner overrides the worker spawner, for tests
func WithSpawner(s Spawner) Option {
	return func(c *Coordinator) {
		c.spawner = s
	}
}

// WithMetrics attaches operation metrics
func WithMetrics(m *telemetry.GovernanceMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New creates a coordinator. The dispatcher resolves processor and listener
// entries for the change pipeline.
func New(store registry.Store, b bus.Bus, cfg *config.Config, dispatcher pipeline.Dispatcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		bus:        b,
		cfg:        cfg,
		relay:      events.NewRelay(b),
		pipe:       pipeline.New(store, dispatcher),
		uploader:   pkgsync.NewUploader(store, cfg),
		downloader: pkgsync.NewDownloader(store, cfg),
		exits:      make(chan Exit),
		fsDirty:    make(chan struct{}, 1),
		pending:    make(map[string]*pendingOp),
	}
	c.spawner = NewHostSpawner(cfg.ProcessHost)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NotifyFilesystemChanged flags the source tree as drifted; safe to call
// from any goroutine
func (c *Coordinator) NotifyFilesystemChanged() {
	select {
	case c.fsDirty <- struct{}{}:
	default:
	}
}

// Run processes commands until the context is cancelled. In-flight workers
// are left to finish naturally; their late exits are discarded.
func (c *Coordinator) Run(ctx context.Context) error {
	version, err := c.store.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current registry version: %w", err)
	}
	c.currentVersion = version
	c.lastUpdated = time.Now()

	commands, err := c.bus.Subscribe(CommandTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to command topic: %w", err)
	}
	defer commands.Close()

	logger.Infow("Governance coordinator started",
		"version", c.currentVersion,
		"host", c.cfg.ProcessHost)

	for {
		select {
		case <-ctx.Done():
			logger.Infow("Governance coordinator stopping",
				"status", "completed",
				"last_version", c.currentVersion)
			return nil
		case data, ok := <-commands.C():
			if !ok {
				return nil
			}
			c.handleCommand(ctx, data)
		case exit := <-c.exits:
			c.handleExit(ctx, exit)
		case <-c.fsDirty:
			c.filesystemPending = true
		}
	}
}

// handleCommand decodes and dispatches one command message
func (c *Coordinator) handleCommand(ctx context.Context, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		logger.Warnw("Dropping malformed command", "error", err)
		return
	}
	if req.RespondTo == "" {
		logger.Warnw("Dropping command without respond_to", "request_id", req.ID)
		return
	}

	if req.Operation == OpGetState {
		c.reply(ctx, req.RespondTo, &Response{
			RequestID: req.ID,
			Success:   true,
			State:     c.buildState(),
		})
		return
	}

	if !KnownOp(req.Operation) {
		c.reply(ctx, req.RespondTo, &Response{
			RequestID: req.ID,
			Success:   false,
			Error:     fmt.Sprintf("Unknown operation: %s", req.Operation),
		})
		return
	}

	if c.operationInProgress {
		c.reply(ctx, req.RespondTo, &Response{
			RequestID: req.ID,
			Success:   false,
			Message:   fmt.Sprintf("Operation already in progress: %s", c.currentOperation),
		})
		return
	}

	c.startOperation(ctx, &req)
}

// startOperation spawns the worker for a mutating command and transitions
// to busy. A spawn failure rolls straight back to idle with a failure
// reply.
func (c *Coordinator) startOperation(ctx context.Context, req *Request) {
	var (
		fn WorkerFunc
		st stage
	)

	switch req.Operation {
	case OpUpload:
		options := req.Options
		fn = func(ctx context.Context) (*operation.Result, error) {
			return c.uploader.Run(ctx, options), nil
		}
		st = stageUpload
	case OpDownload:
		options := req.Options
		fn = func(ctx context.Context) (*operation.Result, error) {
			return c.downloader.Run(ctx, options), nil
		}
		st = stageSingle
	case OpApplyChanges, OpApplyVersion:
		pctx := &pipeline.Context{
			Changeset: req.Changeset,
			VersionID: req.VersionID,
			Options:   req.Options,
			UserID:    req.UserID,
			RequestID: req.ID,
		}
		fn = func(ctx context.Context) (*operation.Result, error) {
			return c.pipe.Run(ctx, pctx), nil
		}
		st = stageSingle
	}

	workerID, err := c.spawner.Spawn(ctx, string(req.Operation), fn, c.exits)
	if err != nil {
		c.reply(ctx, req.RespondTo, &Response{
			RequestID: req.ID,
			Success:   false,
			Message:   "Operation failed",
			Error:     fmt.Sprintf("failed to spawn worker: %v", err),
		})
		return
	}

	c.pending[workerID] = &pendingOp{
		respondTo: req.RespondTo,
		requestID: req.ID,
		op:        req.Operation,
		stage:     st,
		userID:    req.UserID,
		options:   req.Options,
		startTime: time.Now(),
	}
	c.operationInProgress = true
	c.currentOperation = req.Operation
	c.operationStart = time.Now()
}

// handleExit runs the exit protocol for one worker's terminal event
func (c *Coordinator) handleExit(ctx context.Context, exit Exit) {
	p, ok := c.pending[exit.WorkerID]
	if !ok {
		logger.Debugf("Ignoring exit from unknown worker %s", exit.WorkerID)
		return
	}
	delete(c.pending, exit.WorkerID)

	if exit.Err != nil {
		c.finishOperation(ctx, p, &Response{
			RequestID: p.requestID,
			Success:   false,
			Message:   "Operation failed",
			Error:     exit.Err.Error(),
		})
		return
	}
	if exit.Result == nil {
		// a worker that exits with neither value nor error is a defect in
		// the worker, surfaced explicitly instead of crashing the handler
		c.finishOperation(ctx, p, &Response{
			RequestID: p.requestID,
			Success:   false,
			Message:   "Operation failed",
			Error:     "Worker exited without a result",
		})
		return
	}

	switch p.stage {
	case stageUpload:
		c.handleUploadExit(ctx, p, exit.Result)
	case stageChange:
		c.finishUploadChain(ctx, p, exit.Result)
	default:
		c.finishSingle(ctx, p, exit.Result)
	}
}

// handleUploadExit chains a successful upload into the change pipeline; a
// produced empty changeset short-circuits to an in-sync reply
func (c *Coordinator) handleUploadExit(ctx context.Context, p *pendingOp, result *operation.Result) {
	if !result.Success {
		c.finishOperation(ctx, p, c.responseFrom(p, result))
		return
	}

	// check-only uploads report the pending delta without applying it
	if opts, err := operation.DecodeSyncOptions(p.options); err == nil && opts.CheckOnly {
		c.filesystemPending = result.HasChanges
		c.finishOperation(ctx, p, c.responseFrom(p, result))
		return
	}

	if len(result.Changeset) == 0 {
		resp := c.responseFrom(p, result)
		resp.Message = pipeline.NoChangesMessage
		c.filesystemPending = false
		c.lastOperationType = string(OpUpload)
		c.finishOperation(ctx, p, resp)
		return
	}

	pctx := &pipeline.Context{
		Changeset: result.Changeset,
		Options:   p.options,
		UserID:    p.userID,
		RequestID: p.requestID,
	}
	fn := func(ctx context.Context) (*operation.Result, error) {
		return c.pipe.Run(ctx, pctx), nil
	}

	workerID, err := c.spawner.Spawn(ctx, "upload.apply", fn, c.exits)
	if err != nil {
		c.finishOperation(ctx, p, &Response{
			RequestID: p.requestID,
			Success:   false,
			Message:   "Operation failed",
			Error:     fmt.Sprintf("failed to spawn change worker: %v", err),
		})
		return
	}

	c.pending[workerID] = &pendingOp{
		respondTo:    p.respondTo,
		requestID:    p.requestID,
		op:           p.op,
		stage:        stageChange,
		userID:       p.userID,
		options:      p.options,
		startTime:    p.startTime,
		uploadResult: result,
	}
	// still busy; the client sees one logical response for the pair
}

// finishUploadChain assembles the upload reply from the change result and
// the carried upload stats
func (c *Coordinator) finishUploadChain(ctx context.Context, p *pendingOp, result *operation.Result) {
	resp := c.responseFrom(p, result)
	if up := p.uploadResult; up != nil {
		resp.Stats = up.Stats
		resp.Count = up.Count
		resp.HasChanges = up.HasChanges
	}

	if result.Success {
		c.filesystemPending = false
		c.registryPending = true
		c.lastOperationType = string(OpUpload)
		c.observeVersion(ctx, result.Version)
		if c.metrics != nil && p.uploadResult != nil {
			c.metrics.RecordEntriesSynced(ctx, string(OpUpload), int64(p.uploadResult.Count))
		}
	}
	c.finishOperation(ctx, p, resp)
}

// finishSingle finalizes download, apply_changes, and apply_version
func (c *Coordinator) finishSingle(ctx context.Context, p *pendingOp, result *operation.Result) {
	resp := c.responseFrom(p, result)

	if result.Success {
		switch p.op {
		case OpDownload:
			c.registryPending = false
			c.lastOperationType = string(OpDownload)
			c.lastDownloadVersion = result.Version
			if c.metrics != nil {
				c.metrics.RecordEntriesSynced(ctx, string(OpDownload), int64(result.Stats[pkgsync.StatEntries]))
			}
		case OpApplyChanges, OpApplyVersion:
			c.registryPending = true
			c.lastOperationType = string(p.op)
		}
		c.observeVersion(ctx, result.Version)
	}
	c.finishOperation(ctx, p, resp)
}

// observeVersion emits the version-change event when the registry version
// actually moved. The event is published before the client reply is sent.
func (c *Coordinator) observeVersion(ctx context.Context, newVersion string) {
	if newVersion == "" || newVersion == c.currentVersion {
		return
	}
	old := c.currentVersion
	c.currentVersion = newVersion
	c.lastUpdated = time.Now()
	c.relay.PublishVersionChange(ctx, old, newVersion)
}

// finishOperation sends the reply, records metrics, and returns to idle
func (c *Coordinator) finishOperation(ctx context.Context, p *pendingOp, resp *Response) {
	if c.metrics != nil {
		c.metrics.RecordOperation(ctx, string(p.op), resp.Success, time.Since(p.startTime))
	}
	c.reply(ctx, p.respondTo, resp)
	c.operationInProgress = false
	c.currentOperation = ""
}

// responseFrom maps a worker result onto the reply envelope
func (c *Coordinator) responseFrom(p *pendingOp, result *operation.Result) *Response {
	return &Response{
		RequestID:  p.requestID,
		Success:    result.Success,
		Message:    result.Message,
		Error:      result.Error,
		Version:    result.Version,
		Stats:      result.Stats,
		Changeset:  result.Changeset,
		Details:    result.Details,
		Count:      result.Count,
		HasChanges: result.HasChanges,
		Formatted:  result.Formatted,
		Extra:      result.Extra,
	}
}

// reply publishes a response to the request's reply topic
func (c *Coordinator) reply(ctx context.Context, respondTo string, resp *Response) {
	resp.Timestamp = time.Now().Unix()
	if err := c.bus.Publish(ctx, respondTo, resp); err != nil {
		logger.Warnw("Failed to publish reply", "topic", respondTo, "error", err)
	}
}

// buildState assembles the get_state payload
func (c *Coordinator) buildState() *State {
	return &State{
		Registry: RegistryState{
			CurrentVersion: c.currentVersion,
			Timestamp:      c.lastUpdated.Unix(),
		},
		Governance: GovernanceState{
			Status:              "running",
			PID:                 os.Getpid(),
			OperationInProgress: c.operationInProgress,
			CurrentOperation:    string(c.currentOperation),
			LastOperationType:   c.lastOperationType,
			LastUpdated:         c.lastUpdated.Unix(),
		},
		Changes: ChangesState{
			FilesystemChangesPending: c.filesystemPending,
			RegistryChangesPending:   c.registryPending,
		},
	}
}
