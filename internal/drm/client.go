// internal/drm/client.go
package drm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/fawad-mazhar/genoflow/internal/models"
)

const (
	DefaultCallTimeout = 30 * time.Second
	DefaultPollRetries = 3
	DefaultPollBackoff = 500 * time.Millisecond
)

// Options bounds every call the client makes to its backend
type Options struct {
	CallTimeout time.Duration
	PollRetries uint64
	PollBackoff time.Duration
}

// Client is the adapter the controller talks to. It wraps a backend with
// per-call timeouts, spec validation, unsupported option handling and poll
// retries.
type Client struct {
	backend Backend
	opts    Options
	logger  logr.Logger
	warned  sync.Map
}

func NewClient(backend Backend, opts Options, logger logr.Logger) *Client {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.PollBackoff <= 0 {
		opts.PollBackoff = DefaultPollBackoff
	}
	return &Client{
		backend: backend,
		opts:    opts,
		logger:  logger.WithName("drm").WithValues("backend", backend.Name()),
	}
}

// Name returns the backend name
func (c *Client) Name() string { return c.backend.Name() }

// Backend returns the wrapped backend
func (c *Client) Backend() Backend { return c.backend }

// Submit queues spec and returns the external job id. Every failure wraps ErrSubmission.
func (c *Client) Submit(ctx context.Context, spec JobSpec) (string, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return "", fmt.Errorf("%w: empty command", ErrSubmission)
	}
	if err := spec.Resources.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	spec.Resources = c.supported(spec.Resources)

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	id, err := c.backend.Submit(callCtx, spec)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrSubmission, c.backend.Name(), err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s returned an empty job id", ErrSubmission, c.backend.Name())
	}
	return id, nil
}

// Poll returns the job's status, retrying transient failures with
// exponential backoff. Once the retry budget is spent the error wraps
// ErrStatusUnknown.
func (c *Client) Poll(ctx context.Context, jobID string) (PollResult, error) {
	var result PollResult
	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()

		res, err := c.backend.Poll(callCtx, jobID)
		if err != nil {
			return err
		}
		if !validStatus(res.Status) {
			return fmt.Errorf("backend returned status %q", res.Status)
		}
		result = res
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.PollBackoff
	eb.MaxInterval = 8 * c.opts.PollBackoff
	b := backoff.WithMaxRetries(eb, c.opts.PollRetries)

	notify := func(err error, wait time.Duration) {
		c.logger.V(1).Info("poll failed, retrying", "job", jobID, "wait", wait, "error", err.Error())
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return PollResult{}, fmt.Errorf("%w: job %s: %w", ErrStatusUnknown, jobID, err)
	}
	return result, nil
}

// Cancel asks the backend to kill the job
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	if err := c.backend.Cancel(callCtx, jobID); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	return nil
}

// supported drops resource options the backend cannot honour, warning once per option
func (c *Client) supported(res models.ResourceSpec) models.ResourceSpec {
	s := c.backend.Supports()
	if res.Queue != "" && !s.Queue {
		c.warnOnce("queue")
		res.Queue = ""
	}
	if res.Cores > 0 && !s.Cores {
		c.warnOnce("cores")
		res.Cores = 0
	}
	if res.MemoryMB > 0 && !s.Memory {
		c.warnOnce("memory_mb")
		res.MemoryMB = 0
	}
	if res.Walltime > 0 && !s.Walltime {
		c.warnOnce("walltime")
		res.Walltime = 0
	}
	return res
}

func (c *Client) warnOnce(option string) {
	if _, loaded := c.warned.LoadOrStore(option, struct{}{}); loaded {
		return
	}
	c.logger.Info("resource option not supported by backend, ignoring", "warning", true, "option", option)
}

func validStatus(s models.AttemptStatus) bool {
	switch s {
	case models.AttemptQueued, models.AttemptRunning,
		models.AttemptSucceeded, models.AttemptFailed, models.AttemptKilled:
		return true
	}
	return false
}
