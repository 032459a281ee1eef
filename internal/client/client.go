// Package client is the typed façade for the governance protocol. It
// checks permissions, correlates replies, and enforces the caller-side
// deadline; all retry policy lives here, never in the coordinator.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/wippyhq/registry-governor/internal/bus"
	"github.com/wippyhq/registry-governor/internal/governance"
	"github.com/wippyhq/registry-governor/internal/registry"
	"github.com/wippyhq/registry-governor/internal/security"
)

// DefaultTimeout bounds the wait for a coordinator reply
const DefaultTimeout = 600 * time.Second

var (
	// ErrTimeout is returned when the reply deadline elapses. The worker
	// keeps running server-side; its late reply is discarded.
	ErrTimeout = errors.New("timed out waiting for governance reply")

	// ErrCorrelation is returned when a reply carries the wrong request id
	ErrCorrelation = errors.New("response for a different request")
)

// Client submits governance commands over the bus
type Client struct {
	bus     bus.Bus
	checker security.Checker
	userID  string
	timeout time.Duration
	retry   bool
}

// Option configures the client
type Option func(*Client)

// WithUser sets the user id attached to every request
func WithUser(userID string) Option {
	return func(c *Client) {
		c.userID = userID
	}
}

// WithTimeout overrides the default reply deadline
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetryOnBusy retries commands rejected because another operation is
// in flight, with exponential backoff
func WithRetryOnBusy() Option {
	return func(c *Client) {
		c.retry = true
	}
}

// New creates a client over the given bus and permission checker
func New(b bus.Bus, checker security.Checker, opts ...Option) *Client {
	c := &Client{
		bus:     b,
		checker: checker,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetState reports coordinator and registry status
func (c *Client) GetState(ctx context.Context) (*governance.State, error) {
	resp, err := c.send(ctx, &governance.Request{Operation: governance.OpGetState}, security.ActionRead)
	if err != nil {
		return nil, err
	}
	if resp.State == nil {
		return nil, fmt.Errorf("get_state reply carried no state")
	}
	return resp.State, nil
}

// RequestChanges submits a changeset through the change pipeline. The
// changeset may be a registry.Changeset, an operation slice, or any builder
// exposing Ops(). The permission check runs before any shape validation so
// unauthorized callers learn nothing about their payload.
func (c *Client) RequestChanges(ctx context.Context, changeset any, options map[string]any) (*governance.Response, error) {
	if err := c.checker.Allowed(ctx, c.userID, security.ActionWrite); err != nil {
		return nil, err
	}
	cs, err := coerceChangeset(changeset)
	if err != nil {
		return nil, err
	}
	return c.dispatch(ctx, &governance.Request{
		Operation: governance.OpApplyChanges,
		Changeset: cs,
		Options:   options,
	})
}

// RequestVersion restores the registry to a historical version
func (c *Client) RequestVersion(ctx context.Context, versionID string, options map[string]any) (*governance.Response, error) {
	return c.send(ctx, &governance.Request{
		Operation: governance.OpApplyVersion,
		VersionID: versionID,
		Options:   options,
	}, security.ActionVersion)
}

// RequestUpload synchronizes the source tree into the registry
func (c *Client) RequestUpload(ctx context.Context, options map[string]any) (*governance.Response, error) {
	return c.send(ctx, &governance.Request{
		Operation: governance.OpUpload,
		Options:   options,
	}, security.ActionSync)
}

// RequestDownload materializes the registry into the source tree
func (c *Client) RequestDownload(ctx context.Context, options map[string]any) (*governance.Response, error) {
	return c.send(ctx, &governance.Request{
		Operation: governance.OpDownload,
		Options:   options,
	}, security.ActionSync)
}

// coerceChangeset extracts the raw operation list from the accepted
// changeset shapes
func coerceChangeset(changeset any) (registry.Changeset, error) {
	var cs registry.Changeset
	switch v := changeset.(type) {
	case registry.Changeset:
		cs = v
	case []registry.Operation:
		cs = registry.Changeset(v)
	case registry.Builder:
		cs = v.Ops()
	default:
		return nil, fmt.Errorf("unsupported changeset type %T", changeset)
	}
	if len(cs) == 0 {
		return nil, fmt.Errorf("changeset is empty")
	}
	for i, op := range cs {
		if op.Kind == "" {
			return nil, fmt.Errorf("changeset item %d is missing kind", i)
		}
	}
	return cs, nil
}

// send checks the operation's permission, then dispatches
func (c *Client) send(ctx context.Context, req *governance.Request, action string) (*governance.Response, error) {
	if err := c.checker.Allowed(ctx, c.userID, action); err != nil {
		return nil, err
	}
	return c.dispatch(ctx, req)
}

// dispatch runs the request cycle: fresh request id, ephemeral reply
// subscription, publish, correlated wait, optional busy retry
func (c *Client) dispatch(ctx context.Context, req *governance.Request) (*governance.Response, error) {
	if !c.retry {
		return c.sendOnce(ctx, req)
	}

	resp, err := backoff.Retry(ctx, func() (*governance.Response, error) {
		resp, err := c.sendOnce(ctx, req)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if isBusy(resp) {
			return nil, fmt.Errorf("coordinator busy: %s", resp.Message)
		}
		return resp, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(c.timeout))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func isBusy(resp *governance.Response) bool {
	return !resp.Success && strings.HasPrefix(resp.Message, "Operation already in progress")
}

func (c *Client) sendOnce(ctx context.Context, req *governance.Request) (*governance.Response, error) {
	out := *req
	out.ID = uuid.NewString()
	out.RespondTo = governance.ReplyTopicPrefix + uuid.NewString()
	out.UserID = c.userID
	out.Timestamp = time.Now().Unix()

	sub, err := c.bus.Subscribe(out.RespondTo)
	if err != nil {
		return nil, fmt.Errorf("failed to open reply channel: %w", err)
	}
	defer sub.Close()

	if err := c.bus.Publish(ctx, governance.CommandTopic, &out); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	case data, ok := <-sub.C():
		if !ok {
			return nil, fmt.Errorf("reply channel closed")
		}
		var resp governance.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("malformed reply: %w", err)
		}
		if resp.RequestID != out.ID {
			return nil, ErrCorrelation
		}
		return &resp, nil
	}
}
