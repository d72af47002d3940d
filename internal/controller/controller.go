// internal/controller/controller.go
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/fawad-mazhar/genoflow/internal/drm"
	"github.com/fawad-mazhar/genoflow/internal/graph"
	"github.com/fawad-mazhar/genoflow/internal/metrics"
	"github.com/fawad-mazhar/genoflow/internal/models"
	"github.com/fawad-mazhar/genoflow/internal/outputs"
)

const (
	DefaultMaxInFlight   = 100
	DefaultSubmitWorkers = 8
	DefaultPollInterval  = 10 * time.Second
	DefaultDrainTimeout  = 5 * time.Minute

	// finishTimeout bounds the final save and publish, which run after ctx
	// or the drain deadline may already have expired
	finishTimeout = 10 * time.Second
)

// ResourceManager is the adapter surface the controller drives
type ResourceManager interface {
	Submit(ctx context.Context, spec drm.JobSpec) (string, error)
	Poll(ctx context.Context, jobID string) (drm.PollResult, error)
	Cancel(ctx context.Context, jobID string) error
}

// Store receives every state transition
type Store interface {
	SaveWorkflow(ctx context.Context, wf *models.Workflow) error
	SaveTask(ctx context.Context, rec models.TaskRecord) error
	SaveAttempt(ctx context.Context, workflowID string, taskID int64, attempt models.Attempt) error
}

// Publisher broadcasts status messages
type Publisher interface {
	Publish(ctx context.Context, msg models.StatusMessage) error
}

// Config is read once when the controller is created
type Config struct {
	MaxRetries    int                 `yaml:"max_retries"`
	MaxInFlight   int                 `yaml:"max_in_flight"`
	SubmitWorkers int                 `yaml:"submit_workers"`
	PollInterval  time.Duration       `yaml:"poll_interval"`
	DrainTimeout  time.Duration       `yaml:"drain_timeout"`
	Defaults      models.ResourceSpec `yaml:"-"`
}

// Option configures optional collaborators
type Option func(*Controller)

func WithStore(s Store) Option             { return func(c *Controller) { c.store = s } }
func WithPublisher(p Publisher) Option     { return func(c *Controller) { c.events = p } }
func WithMetrics(m *metrics.Metrics) Option { return func(c *Controller) { c.metrics = m } }
func WithLogger(l logr.Logger) Option      { return func(c *Controller) { c.logger = l } }

// Outcome is the final report of a run
type Outcome struct {
	WorkflowID string
	Status     models.WorkflowStatus
	Tasks      map[models.TaskState][]int64
	// Abandoned lists tasks still in flight when draining timed out
	Abandoned []int64
}

// Succeeded reports whether every task succeeded
func (o *Outcome) Succeeded() bool { return o.Status == models.WorkflowStatusSucceeded }

// Controller drives one workflow's task graph to completion against a
// resource manager. All task and attempt mutation happens on the goroutine
// running Run; mu only orders those writes against concurrent readers.
type Controller struct {
	cfg      Config
	workflow *models.Workflow
	graph    *graph.Graph
	resolver *outputs.Resolver
	rm       ResourceManager
	store    Store
	events   Publisher
	metrics  *metrics.Metrics
	logger   logr.Logger

	mu        sync.RWMutex
	aborting  bool
	abortCh   chan struct{}
	abortOnce sync.Once
	cancelled map[int64]bool
	running   bool
}

// New creates a controller for wf. Tasks restored in flight keep their
// attempts and are polled again; a task marked in flight without a live
// attempt is returned to pending.
func New(cfg Config, wf *models.Workflow, g *graph.Graph, resolver *outputs.Resolver, rm ResourceManager, opts ...Option) *Controller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.SubmitWorkers <= 0 {
		cfg.SubmitWorkers = DefaultSubmitWorkers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}

	c := &Controller{
		cfg:       cfg,
		workflow:  wf,
		graph:     g,
		resolver:  resolver,
		rm:        rm,
		logger:    logr.Discard(),
		abortCh:   make(chan struct{}),
		cancelled: make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithName("controller").WithValues("workflow", wf.ID)

	for _, t := range g.Tasks() {
		if t.State.InFlight() {
			if last := t.LastAttempt(); last == nil || last.Status.Terminal() {
				t.State = models.TaskStatePending
			}
		}
	}
	return c
}

// Workflow returns the run's workflow record
func (c *Controller) Workflow() models.Workflow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.workflow
}

// Abort stops submission and cancels every in-flight attempt. Succeeded
// tasks are left as they are.
func (c *Controller) Abort() {
	c.abortOnce.Do(func() {
		c.mu.Lock()
		c.aborting = true
		c.mu.Unlock()
		close(c.abortCh)
		c.logger.Info("abort requested")
	})
}

// Aborting reports whether an abort was requested
func (c *Controller) Aborting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aborting
}

// Run drives the workflow until every task is terminal, or until an abort
// (explicit or through ctx) has drained the in-flight attempts. Cancelling
// ctx after Abort stops waiting for the drain.
func (c *Controller) Run(ctx context.Context) (*Outcome, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, fmt.Errorf("workflow %s is already running", c.workflow.ID)
	}
	c.running = true
	c.workflow.Status = models.WorkflowStatusRunning
	c.workflow.UpdatedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("starting workflow", "name", c.workflow.Name, "tasks", c.graph.Len(),
		"maxRetries", c.cfg.MaxRetries, "maxInFlight", c.cfg.MaxInFlight)
	c.saveWorkflow(ctx)
	for _, t := range c.graph.Tasks() {
		c.saveTask(ctx, t)
	}
	c.publishController(ctx, models.ControllerStarted)

	callCtx := ctx
	var drainCancel context.CancelFunc
	defer func() {
		if drainCancel != nil {
			drainCancel()
		}
	}()

	// stop is closed when the caller gives up on a drain that Abort started.
	// A drain started by ctx itself leaves it nil.
	var stop <-chan struct{}
	var stopErr error
	abortedByCtx := false
	for {
		if ctx.Err() != nil && !c.Aborting() {
			abortedByCtx = true
			c.Abort()
		}
		if c.Aborting() && drainCancel == nil {
			if !abortedByCtx {
				stop = ctx.Done()
			}
			callCtx, drainCancel = context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DrainTimeout)
			c.publishController(callCtx, models.ControllerAborting)
		}

		c.step(callCtx)

		if c.finished() {
			break
		}
		if drainCancel != nil {
			if err := callCtx.Err(); err != nil {
				stopErr = fmt.Errorf("drain timed out after %s", c.cfg.DrainTimeout)
				break
			}
			if stop != nil && ctx.Err() != nil {
				stopErr = fmt.Errorf("drain abandoned: %w", ctx.Err())
				break
			}
		}
		c.sleep(ctx, callCtx, stop)
	}

	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer finishCancel()
	outcome := c.finish(finishCtx)
	if stopErr != nil {
		c.logger.Info("drain stopped, abandoning in-flight attempts", "warning", true, "reason", stopErr.Error(), "tasks", outcome.Abandoned)
		return outcome, fmt.Errorf("%w with %d attempts in flight", stopErr, len(outcome.Abandoned))
	}
	return outcome, nil
}

func (c *Controller) sleep(ctx, callCtx context.Context, stop <-chan struct{}) {
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	if c.Aborting() {
		select {
		case <-timer.C:
		case <-callCtx.Done():
		case <-stop:
		}
		return
	}
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-c.abortCh:
	}
}

// finished reports whether the loop has nothing left to drive
func (c *Controller) finished() bool {
	aborting := c.Aborting()
	for _, t := range c.graph.Tasks() {
		switch {
		case t.State.Terminal():
		case t.State.InFlight(), t.State == models.TaskStateFailed:
			return false
		case t.State == models.TaskStatePending && !aborting:
			return false
		}
	}
	return true
}

func (c *Controller) finish(ctx context.Context) *Outcome {
	outcome := &Outcome{WorkflowID: c.workflow.ID, Tasks: make(map[models.TaskState][]int64)}
	allSucceeded := true
	for _, t := range c.graph.Tasks() {
		outcome.Tasks[t.State] = append(outcome.Tasks[t.State], t.ID)
		if t.State != models.TaskStateSucceeded {
			allSucceeded = false
		}
		if t.State.InFlight() {
			outcome.Abandoned = append(outcome.Abandoned, t.ID)
		}
	}

	switch {
	case c.Aborting():
		outcome.Status = models.WorkflowStatusAborted
	case allSucceeded:
		outcome.Status = models.WorkflowStatusSucceeded
	default:
		outcome.Status = models.WorkflowStatusFailed
	}

	c.mu.Lock()
	c.workflow.Status = outcome.Status
	c.workflow.UpdatedAt = time.Now()
	c.running = false
	c.mu.Unlock()

	c.saveWorkflow(ctx)
	c.publishController(ctx, models.ControllerStopped)
	c.metrics.SetInFlight(len(outcome.Abandoned))

	kv := []interface{}{"status", outcome.Status}
	for state, ids := range outcome.Tasks {
		kv = append(kv, string(state), len(ids))
	}
	c.logger.Info("workflow finished", kv...)
	return outcome
}
