// internal/storage/postgres/client_test.go
package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawad-mazhar/genoflow/internal/models"
	"github.com/fawad-mazhar/genoflow/internal/storage"
)

func newMock(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestMigrate(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS workflows").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, c.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWorkflow(t *testing.T) {
	c, mock := newMock(t)
	now := time.Now()
	wf := &models.Workflow{ID: "wf-1", Name: "variants", Status: models.WorkflowStatusRunning, CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec("INSERT INTO workflows").
		WithArgs("wf-1", "variants", "RUNNING", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, c.SaveWorkflow(context.Background(), wf))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTask(t *testing.T) {
	c, mock := newMock(t)
	now := time.Now()
	rec := models.TaskRecord{
		ID:         3,
		WorkflowID: "wf-1",
		Rule:       "align",
		Stage:      "align",
		Tags:       models.Tags{"sample": "A"},
		Parents:    []int64{1},
		State:      models.TaskStatePending,
		UpdatedAt:  now,
	}

	mock.ExpectExec("INSERT INTO tasks").
		WithArgs("wf-1", int64(3), "align", "align",
			[]byte(`{"sample":"A"}`), []byte(`{}`), []byte(`[1]`),
			"PENDING", 0, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, c.SaveTask(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAttemptError(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectExec("INSERT INTO attempts").WillReturnError(errors.New("connection reset"))

	err := c.SaveAttempt(context.Background(), "wf-1", 3, *models.NewAttempt(1, "42"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save attempt 1 of task 3")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadWorkflow(t *testing.T) {
	c, mock := newMock(t)
	now := time.Now()
	finished := now.Add(time.Minute)

	mock.ExpectQuery("FROM workflows").
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "created_at", "updated_at"}).
			AddRow("wf-1", "variants", "FAILED", now, now))
	mock.ExpectQuery("FROM tasks").
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "rule", "stage", "tags", "output_paths", "parents", "state", "submit_failures", "updated_at"}).
			AddRow(int64(1), "reads", "reads", []byte(`{"sample":"A"}`), []byte(`{"fastq":"/data/A.fq"}`), []byte(`[]`), "SUCCEEDED", 0, now).
			AddRow(int64(2), "align", "align", []byte(`{"sample":"A"}`), []byte(`{}`), []byte(`[1]`), "RUNNING", 1, now))
	mock.ExpectQuery("FROM attempts").
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "number", "external_job_id", "status", "submitted_at", "finished_at", "exit_status", "resource_usage"}).
			AddRow(int64(2), 1, "100", "FAILED", now, finished, int64(1), []byte(`{"cpu":"3.2"}`)).
			AddRow(int64(2), 2, "101", "RUNNING", now, nil, nil, nil))

	rec, err := c.LoadWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, models.WorkflowStatusFailed, rec.Workflow.Status)
	require.Len(t, rec.Tasks, 2)

	reads := rec.Tasks[0]
	assert.Equal(t, "/data/A.fq", reads.OutputPaths["fastq"])
	assert.Empty(t, reads.Attempts)

	align := rec.Tasks[1]
	assert.Equal(t, "wf-1", align.WorkflowID)
	assert.Equal(t, []int64{1}, align.Parents)
	assert.Equal(t, 1, align.SubmitFailures)
	require.Len(t, align.Attempts, 2)
	require.NotNil(t, align.Attempts[0].ExitStatus)
	assert.Equal(t, 1, *align.Attempts[0].ExitStatus)
	assert.Equal(t, "3.2", align.Attempts[0].ResourceUsage["cpu"])
	assert.Nil(t, align.Attempts[1].FinishedAt)
	assert.Nil(t, align.Attempts[1].ExitStatus)
	assert.Equal(t, models.AttemptRunning, align.Attempts[1].Status)
}

func TestLoadWorkflowNotFound(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery("FROM workflows").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "created_at", "updated_at"}))

	_, err := c.LoadWorkflow(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
