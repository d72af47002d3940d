// internal/models/attempt.go
package models

import (
	"time"
)

// AttemptStatus is the normalized status of one resource-manager job
type AttemptStatus string

const (
	AttemptQueued    AttemptStatus = "QUEUED"
	AttemptRunning   AttemptStatus = "RUNNING"
	AttemptSucceeded AttemptStatus = "SUCCEEDED"
	AttemptFailed    AttemptStatus = "FAILED"
	AttemptKilled    AttemptStatus = "KILLED"
)

// Terminal reports whether the attempt can no longer change
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptSucceeded, AttemptFailed, AttemptKilled:
		return true
	default:
		return false
	}
}

// Attempt represents a single submission of a task to the resource manager
type Attempt struct {
	Number        int               `json:"attemptNumber"`
	ExternalJobID string            `json:"externalJobId"`
	Status        AttemptStatus     `json:"status"`
	SubmittedAt   time.Time         `json:"submittedAt"`
	FinishedAt    *time.Time        `json:"finishedAt,omitempty"`
	ExitStatus    *int              `json:"exitStatus,omitempty"`
	ResourceUsage map[string]string `json:"resourceUsage,omitempty"`
}

// NewAttempt creates a queued attempt for a freshly submitted job
func NewAttempt(number int, externalJobID string) *Attempt {
	return &Attempt{
		Number:        number,
		ExternalJobID: externalJobID,
		Status:        AttemptQueued,
		SubmittedAt:   time.Now(),
	}
}

// Finish moves the attempt into a terminal status. It is a no-op on an
// attempt that is already terminal.
func (a *Attempt) Finish(status AttemptStatus, exitStatus *int, usage map[string]string) bool {
	if a.Status.Terminal() || !status.Terminal() {
		return false
	}
	now := time.Now()
	a.Status = status
	a.FinishedAt = &now
	a.ExitStatus = exitStatus
	if len(usage) > 0 {
		a.ResourceUsage = usage
	}
	return true
}
