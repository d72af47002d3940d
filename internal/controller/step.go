// internal/controller/step.go
package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/fawad-mazhar/genoflow/internal/drm"
	"github.com/fawad-mazhar/genoflow/internal/graph"
	"github.com/fawad-mazhar/genoflow/internal/models"
	"github.com/fawad-mazhar/genoflow/internal/rule"
)

type submission struct {
	task  *graph.Task
	spec  drm.JobSpec
	jobID string
	err   error
}

type poll struct {
	task    *graph.Task
	attempt *models.Attempt
	result  drm.PollResult
	err     error
}

// step runs one scheduling cycle. Adapter calls are dispatched concurrently;
// their results are applied here, one task at a time.
func (c *Controller) step(ctx context.Context) {
	c.settleFailures(ctx)
	c.propagate(ctx)
	if c.Aborting() {
		c.cancelInFlight(ctx)
	} else {
		c.submitReady(ctx)
	}
	c.pollInFlight(ctx)
	c.metrics.SetInFlight(c.inFlight())
}

// retryable reports whether t may be tried again. Submission failures and
// attempts draw on the same budget of MaxRetries+1 tries.
func (c *Controller) retryable(t *graph.Task) bool {
	return len(t.Attempts)+t.SubmitFailures <= c.cfg.MaxRetries
}

// settleFailures sends failed tasks back to pending or marks them exhausted
func (c *Controller) settleFailures(ctx context.Context) {
	aborting := c.Aborting()
	for _, t := range c.graph.Tasks() {
		if t.State != models.TaskStateFailed {
			continue
		}
		if !aborting && c.retryable(t) {
			c.logger.Info("retrying task", "task", t.String(), "attempts", len(t.Attempts), "maxRetries", c.cfg.MaxRetries)
			c.setState(ctx, t, models.TaskStatePending)
			continue
		}
		c.logger.Info("task exhausted", "task", t.String(), "attempts", len(t.Attempts), "submitFailures", t.SubmitFailures)
		c.setState(ctx, t, models.TaskStateExhausted)
	}
}

// propagate marks every pending task below an exhausted task as exhausted.
// Walking in topological order carries the skip down whole chains in one pass.
func (c *Controller) propagate(ctx context.Context) {
	for _, t := range c.graph.TopologicalOrder() {
		if t.State != models.TaskStatePending {
			continue
		}
		for _, p := range t.Parents() {
			if p.State == models.TaskStateExhausted {
				c.logger.Info("skipping task, upstream failed", "task", t.String(), "parent", p.String())
				c.setState(ctx, t, models.TaskStateExhausted)
				break
			}
		}
	}
}

func (c *Controller) inFlight() int {
	n := 0
	for _, t := range c.graph.Tasks() {
		if t.State.InFlight() {
			n++
		}
	}
	return n
}

func parentsSucceeded(t *graph.Task) bool {
	for _, p := range t.Parents() {
		if p.State != models.TaskStateSucceeded {
			return false
		}
	}
	return true
}

// submitReady submits pending tasks whose parents all succeeded, up to the
// in-flight limit. The rest wait for a later cycle.
func (c *Controller) submitReady(ctx context.Context) {
	slots := c.cfg.MaxInFlight - c.inFlight()

	var ready []*graph.Task
	for _, t := range c.graph.TopologicalOrder() {
		if t.State == models.TaskStatePending && parentsSucceeded(t) {
			ready = append(ready, t)
		}
	}
	if len(ready) == 0 {
		return
	}
	if slots <= 0 {
		c.logger.V(1).Info("in-flight limit reached, deferring submission", "ready", len(ready))
		return
	}
	if len(ready) > slots {
		c.logger.V(1).Info("in-flight limit reached, deferring submission", "ready", len(ready), "deferred", len(ready)-slots)
		ready = ready[:slots]
	}

	jobs := make([]submission, 0, len(ready))
	for _, t := range ready {
		spec, err := c.jobSpec(t)
		if err != nil {
			// rendering is deterministic, another try cannot succeed
			c.logger.Error(err, "failed to render command", "task", t.String())
			c.setState(ctx, t, models.TaskStateExhausted)
			continue
		}
		jobs = append(jobs, submission{task: t, spec: spec})
	}

	eg := errgroup.Group{}
	eg.SetLimit(c.cfg.SubmitWorkers)
	for i := range jobs {
		job := &jobs[i]
		eg.Go(func() error {
			if err := os.MkdirAll(job.spec.WorkDir, 0o755); err != nil {
				job.err = fmt.Errorf("%w: failed to create work directory: %w", drm.ErrSubmission, err)
				return nil
			}
			job.jobID, job.err = c.rm.Submit(ctx, job.spec)
			return nil
		})
	}
	_ = eg.Wait()

	for i := range jobs {
		c.applySubmission(ctx, &jobs[i])
	}
}

func (c *Controller) jobSpec(t *graph.Task) (drm.JobSpec, error) {
	io, err := c.resolver.IO(t)
	if err != nil {
		return drm.JobSpec{}, err
	}
	cmd, err := t.Rule.RenderCommand(io, t.Tags)
	if err != nil {
		return drm.JobSpec{}, err
	}

	res := c.cfg.Defaults
	if r, ok := t.Rule.(rule.Resourced); ok {
		res = res.Merge(r.Resources())
	}

	dir := c.resolver.Dir(t)
	n := len(t.Attempts) + 1
	return drm.JobSpec{
		Name:      fmt.Sprintf("%s-%d", t.Rule.Name(), t.ID),
		Command:   cmd,
		WorkDir:   dir,
		Stdout:    filepath.Join(dir, fmt.Sprintf("attempt-%d.out", n)),
		Stderr:    filepath.Join(dir, fmt.Sprintf("attempt-%d.err", n)),
		Resources: res,
	}, nil
}

func (c *Controller) applySubmission(ctx context.Context, job *submission) {
	t := job.task
	if job.err != nil {
		c.mu.Lock()
		t.SubmitFailures++
		exhausted := !c.retryable(t)
		c.mu.Unlock()

		c.metrics.SubmitFailed(t.Rule.Name())
		c.logger.Error(job.err, "submission failed", "task", t.String(), "submitFailures", t.SubmitFailures, "exhausted", exhausted)
		if exhausted {
			c.setState(ctx, t, models.TaskStateExhausted)
		} else {
			c.saveTask(ctx, t)
		}
		return
	}

	attempt := models.NewAttempt(len(t.Attempts)+1, job.jobID)
	c.mu.Lock()
	t.Attempts = append(t.Attempts, attempt)
	c.mu.Unlock()

	c.metrics.Submitted(t.Rule.Name())
	c.logger.Info("submitted task", "task", t.String(), "attempt", attempt.Number, "job", job.jobID)
	c.saveAttempt(ctx, t, attempt)
	c.setState(ctx, t, models.TaskStateSubmitted)
}

// pollInFlight polls every live attempt and applies the results
func (c *Controller) pollInFlight(ctx context.Context) {
	var polls []poll
	for _, t := range c.graph.Tasks() {
		if !t.State.InFlight() {
			continue
		}
		if a := t.LastAttempt(); a != nil && !a.Status.Terminal() {
			polls = append(polls, poll{task: t, attempt: a})
		}
	}
	if len(polls) == 0 {
		return
	}

	eg := errgroup.Group{}
	eg.SetLimit(c.cfg.SubmitWorkers)
	for i := range polls {
		p := &polls[i]
		eg.Go(func() error {
			p.result, p.err = c.rm.Poll(ctx, p.attempt.ExternalJobID)
			return nil
		})
	}
	_ = eg.Wait()

	for i := range polls {
		c.applyPoll(ctx, &polls[i])
	}
}

func (c *Controller) applyPoll(ctx context.Context, p *poll) {
	t, a := p.task, p.attempt
	if p.err != nil {
		// unknown is never a failure; the attempt is assumed to still be running
		c.metrics.PollUnknown()
		c.logger.V(1).Info("status unknown, keeping attempt in flight", "task", t.String(), "job", a.ExternalJobID, "error", p.err.Error())
		return
	}

	switch p.result.Status {
	case models.AttemptQueued:
	case models.AttemptRunning:
		if a.Status == models.AttemptRunning && t.State == models.TaskStateRunning {
			return
		}
		c.mu.Lock()
		a.Status = models.AttemptRunning
		c.mu.Unlock()
		c.saveAttempt(ctx, t, a)
		c.setState(ctx, t, models.TaskStateRunning)
	default:
		c.mu.Lock()
		changed := a.Finish(p.result.Status, p.result.ExitStatus, p.result.ResourceUsage)
		c.mu.Unlock()
		if !changed {
			return
		}

		c.metrics.AttemptFinished(t.Rule.Name(), a.Status)
		kv := []interface{}{"task", t.String(), "attempt", a.Number, "job", a.ExternalJobID, "status", a.Status}
		if a.ExitStatus != nil {
			kv = append(kv, "exitStatus", *a.ExitStatus)
		}
		c.logger.Info("attempt finished", kv...)
		c.saveAttempt(ctx, t, a)

		if a.Status == models.AttemptSucceeded {
			c.setState(ctx, t, models.TaskStateSucceeded)
		} else {
			c.setState(ctx, t, models.TaskStateFailed)
		}
	}
}

// cancelInFlight asks the resource manager to kill every live attempt once
func (c *Controller) cancelInFlight(ctx context.Context) {
	var targets []*graph.Task
	for _, t := range c.graph.Tasks() {
		if !t.State.InFlight() || c.cancelled[t.ID] {
			continue
		}
		if a := t.LastAttempt(); a != nil && !a.Status.Terminal() {
			targets = append(targets, t)
			c.cancelled[t.ID] = true
		}
	}
	if len(targets) == 0 {
		return
	}

	eg := errgroup.Group{}
	eg.SetLimit(c.cfg.SubmitWorkers)
	for _, t := range targets {
		t := t
		jobID := t.LastAttempt().ExternalJobID
		eg.Go(func() error {
			if err := c.rm.Cancel(ctx, jobID); err != nil {
				c.logger.Error(err, "failed to cancel attempt", "task", t.String(), "job", jobID)
			}
			return nil
		})
	}
	_ = eg.Wait()
	c.logger.Info("cancelled in-flight attempts", "count", len(targets))
}
