// internal/models/status.go
package models

import (
	"time"
)

// StatusMessage represents a status update message for workflows, tasks and the controller
type StatusMessage struct {
	Type      string      `json:"type"`      // "controller", "workflow", or "task"
	ID        string      `json:"id"`        // unique identifier of the entity
	Status    string      `json:"status"`    // current status of the entity
	Timestamp time.Time   `json:"timestamp"` // when the status was updated
	Metadata  interface{} `json:"metadata"`  // additional entity-specific information
}

// TaskEvent is the metadata attached to task status messages
type TaskEvent struct {
	WorkflowID    string `json:"workflowId"`
	TaskID        int64  `json:"taskId"`
	Rule          string `json:"rule"`
	Tags          Tags   `json:"tags"`
	Attempt       int    `json:"attempt,omitempty"`
	ExternalJobID string `json:"externalJobId,omitempty"`
}

type ControllerEventType string

const (
	ControllerStarted  ControllerEventType = "STARTED"
	ControllerAborting ControllerEventType = "ABORTING"
	ControllerStopped  ControllerEventType = "STOPPED"
)

// ControllerStatus is the metadata attached to controller status messages
type ControllerStatus struct {
	WorkflowID string              `json:"workflowId"`
	Event      ControllerEventType `json:"event"`
	Timestamp  time.Time           `json:"timestamp"`
	InFlight   int                 `json:"inFlight"`
	Counts     map[TaskState]int   `json:"counts"`
}
