// internal/models/workflow.go
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus represents the overall outcome of a workflow run
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "RUNNING"
	WorkflowStatusSucceeded WorkflowStatus = "SUCCEEDED"
	WorkflowStatusFailed    WorkflowStatus = "FAILED"
	WorkflowStatusAborted   WorkflowStatus = "ABORTED"
)

// Workflow represents a single run of a task graph
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    WorkflowStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NewWorkflow creates a new running workflow instance
func NewWorkflow(name string) *Workflow {
	now := time.Now()
	return &Workflow{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    WorkflowStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WorkflowRecord is a workflow together with all of its persisted tasks
type WorkflowRecord struct {
	Workflow Workflow     `json:"workflow"`
	Tasks    []TaskRecord `json:"tasks"`
}

// WorkflowSnapshot provides the current state of a workflow run
type WorkflowSnapshot struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Status   WorkflowStatus    `json:"status"`
	Aborting bool              `json:"aborting"`
	Counts   map[TaskState]int `json:"counts"`
	Tasks    []TaskSummary     `json:"tasks"`
}

// ToJSON converts the workflow to JSON
func (w *Workflow) ToJSON() ([]byte, error) {
	return json.Marshal(w)
}

// FromJSON populates the workflow from JSON
func (w *Workflow) FromJSON(data []byte) error {
	return json.Unmarshal(data, w)
}
