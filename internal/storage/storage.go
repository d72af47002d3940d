// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/fawad-mazhar/genoflow/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store persists workflow runs so an interrupted run can be resumed
type Store interface {
	SaveWorkflow(ctx context.Context, wf *models.Workflow) error
	SaveTask(ctx context.Context, rec models.TaskRecord) error
	SaveAttempt(ctx context.Context, workflowID string, taskID int64, attempt models.Attempt) error
	// LoadWorkflow returns the workflow with its tasks in id order, each
	// carrying its attempts in attempt order.
	LoadWorkflow(ctx context.Context, id string) (*models.WorkflowRecord, error)
	Close() error
}
