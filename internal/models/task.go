// internal/models/task.go
package models

import (
	"time"
)

// TaskState represents the scheduling state of a task
type TaskState string

const (
	TaskStatePending   TaskState = "PENDING"
	TaskStateSubmitted TaskState = "SUBMITTED"
	TaskStateRunning   TaskState = "RUNNING"
	TaskStateSucceeded TaskState = "SUCCEEDED"
	TaskStateFailed    TaskState = "FAILED"
	TaskStateExhausted TaskState = "EXHAUSTED"
)

// Terminal reports whether no further transitions can happen for the task
func (s TaskState) Terminal() bool {
	return s == TaskStateSucceeded || s == TaskStateExhausted
}

// InFlight reports whether the task has an attempt handed to the resource manager
func (s TaskState) InFlight() bool {
	return s == TaskStateSubmitted || s == TaskStateRunning
}

// TaskRecord is the flat, persisted form of a task node
type TaskRecord struct {
	ID             int64             `json:"id"`
	WorkflowID     string            `json:"workflowId"`
	Rule           string            `json:"rule"`
	Stage          string            `json:"stage"`
	Tags           Tags              `json:"tags"`
	OutputPaths    map[string]string `json:"outputPaths"`
	Parents        []int64           `json:"parents"`
	State          TaskState         `json:"state"`
	SubmitFailures int               `json:"submitFailures"`
	Attempts       []Attempt         `json:"attempts,omitempty"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// TaskSummary is the API view of a task
type TaskSummary struct {
	ID       int64     `json:"id"`
	Rule     string    `json:"rule"`
	Stage    string    `json:"stage"`
	Tags     Tags      `json:"tags"`
	State    TaskState `json:"state"`
	Parents  []int64   `json:"parents"`
	Attempts []Attempt `json:"attempts"`
}
