// internal/controller/state.go
package controller

import (
	"context"
	"strconv"
	"time"

	"github.com/fawad-mazhar/genoflow/internal/graph"
	"github.com/fawad-mazhar/genoflow/internal/models"
)

// setState records a task transition, then persists and publishes it
func (c *Controller) setState(ctx context.Context, t *graph.Task, state models.TaskState) {
	c.mu.Lock()
	t.State = state
	c.mu.Unlock()

	c.saveTask(ctx, t)
	c.publishTask(ctx, t)
}

// Snapshot returns the current state of the workflow and all its tasks
func (c *Controller) Snapshot() models.WorkflowSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := models.WorkflowSnapshot{
		ID:       c.workflow.ID,
		Name:     c.workflow.Name,
		Status:   c.workflow.Status,
		Aborting: c.aborting,
		Counts:   make(map[models.TaskState]int),
	}
	for _, t := range c.graph.Tasks() {
		snap.Counts[t.State]++
		snap.Tasks = append(snap.Tasks, summarize(t))
	}
	return snap
}

// Task returns the summary of one task
func (c *Controller) Task(id int64) (models.TaskSummary, error) {
	t, err := c.graph.Task(id)
	if err != nil {
		return models.TaskSummary{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return summarize(t), nil
}

// Counts returns the number of tasks per state
func (c *Controller) Counts() map[models.TaskState]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[models.TaskState]int)
	for _, t := range c.graph.Tasks() {
		counts[t.State]++
	}
	return counts
}

// summarize must be called with c.mu held
func summarize(t *graph.Task) models.TaskSummary {
	parents := make([]int64, 0, len(t.Parents()))
	for _, p := range t.Parents() {
		parents = append(parents, p.ID)
	}
	attempts := make([]models.Attempt, 0, len(t.Attempts))
	for _, a := range t.Attempts {
		attempts = append(attempts, *a)
	}
	return models.TaskSummary{
		ID:       t.ID,
		Rule:     t.Rule.Name(),
		Stage:    t.Stage,
		Tags:     t.Tags.Clone(),
		State:    t.State,
		Parents:  parents,
		Attempts: attempts,
	}
}

func (c *Controller) saveWorkflow(ctx context.Context) {
	if c.store == nil {
		return
	}
	wf := c.Workflow()
	if err := c.store.SaveWorkflow(ctx, &wf); err != nil {
		c.logger.Error(err, "failed to save workflow")
	}
}

func (c *Controller) saveTask(ctx context.Context, t *graph.Task) {
	if c.store == nil {
		return
	}
	rec := t.Record(c.workflow.ID)
	rec.UpdatedAt = time.Now()
	if err := c.store.SaveTask(ctx, rec); err != nil {
		c.logger.Error(err, "failed to save task", "task", t.String())
	}
}

func (c *Controller) saveAttempt(ctx context.Context, t *graph.Task, a *models.Attempt) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveAttempt(ctx, c.workflow.ID, t.ID, *a); err != nil {
		c.logger.Error(err, "failed to save attempt", "task", t.String(), "attempt", a.Number)
	}
}

func (c *Controller) publishTask(ctx context.Context, t *graph.Task) {
	if c.events == nil {
		return
	}
	event := models.TaskEvent{
		WorkflowID: c.workflow.ID,
		TaskID:     t.ID,
		Rule:       t.Rule.Name(),
		Tags:       t.Tags.Clone(),
	}
	if a := t.LastAttempt(); a != nil {
		event.Attempt = a.Number
		event.ExternalJobID = a.ExternalJobID
	}
	c.publish(ctx, models.StatusMessage{
		Type:      "task",
		ID:        strconv.FormatInt(t.ID, 10),
		Status:    string(t.State),
		Timestamp: time.Now(),
		Metadata:  event,
	})
}

func (c *Controller) publishController(ctx context.Context, event models.ControllerEventType) {
	if c.events == nil {
		return
	}
	wf := c.Workflow()
	c.publish(ctx, models.StatusMessage{
		Type:      "controller",
		ID:        wf.ID,
		Status:    string(wf.Status),
		Timestamp: time.Now(),
		Metadata: models.ControllerStatus{
			WorkflowID: wf.ID,
			Event:      event,
			Timestamp:  time.Now(),
			InFlight:   c.inFlight(),
			Counts:     c.Counts(),
		},
	})
}

func (c *Controller) publish(ctx context.Context, msg models.StatusMessage) {
	if err := c.events.Publish(ctx, msg); err != nil {
		c.logger.Error(err, "failed to publish status", "type", msg.Type, "id", msg.ID)
	}
}
