// internal/storage/leveldb/client_test.go
package leveldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawad-mazhar/genoflow/internal/config"
	"github.com/fawad-mazhar/genoflow/internal/models"
	"github.com/fawad-mazhar/genoflow/internal/storage"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(config.LevelDBConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	wf := models.NewWorkflow("variants")
	require.NoError(t, c.SaveWorkflow(ctx, wf))

	// ids above 9 check that keys sort numerically
	for _, id := range []int64{10, 2, 1} {
		require.NoError(t, c.SaveTask(ctx, models.TaskRecord{
			ID:         id,
			WorkflowID: wf.ID,
			Rule:       "align",
			Stage:      "align",
			Tags:       models.Tags{"sample": "A"},
			State:      models.TaskStatePending,
		}))
	}

	exit := 1
	first := models.NewAttempt(1, "100")
	first.Finish(models.AttemptFailed, &exit, map[string]string{"cpu": "1.5"})
	require.NoError(t, c.SaveAttempt(ctx, wf.ID, 10, *first))
	require.NoError(t, c.SaveAttempt(ctx, wf.ID, 10, *models.NewAttempt(2, "101")))

	// a later save replaces the earlier record
	require.NoError(t, c.SaveTask(ctx, models.TaskRecord{
		ID: 10, WorkflowID: wf.ID, Rule: "align", Stage: "align", State: models.TaskStateRunning, SubmitFailures: 1,
	}))

	rec, err := c.LoadWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, rec.Workflow.ID)
	assert.Equal(t, "variants", rec.Workflow.Name)
	assert.WithinDuration(t, wf.CreatedAt, rec.Workflow.CreatedAt, time.Millisecond)

	require.Len(t, rec.Tasks, 3)
	assert.Equal(t, []int64{1, 2, 10}, []int64{rec.Tasks[0].ID, rec.Tasks[1].ID, rec.Tasks[2].ID})
	assert.Equal(t, "A", rec.Tasks[0].Tags["sample"])
	assert.Empty(t, rec.Tasks[0].Attempts)

	last := rec.Tasks[2]
	assert.Equal(t, models.TaskStateRunning, last.State)
	assert.Equal(t, 1, last.SubmitFailures)
	require.Len(t, last.Attempts, 2)
	assert.Equal(t, models.AttemptFailed, last.Attempts[0].Status)
	require.NotNil(t, last.Attempts[0].ExitStatus)
	assert.Equal(t, 1, *last.Attempts[0].ExitStatus)
	assert.Equal(t, "1.5", last.Attempts[0].ResourceUsage["cpu"])
	assert.Equal(t, "101", last.Attempts[1].ExternalJobID)
}

func TestWorkflowsAreIsolated(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	a := models.NewWorkflow("a")
	b := models.NewWorkflow("b")
	require.NoError(t, c.SaveWorkflow(ctx, a))
	require.NoError(t, c.SaveWorkflow(ctx, b))
	require.NoError(t, c.SaveTask(ctx, models.TaskRecord{ID: 1, WorkflowID: a.ID, Rule: "x"}))
	require.NoError(t, c.SaveTask(ctx, models.TaskRecord{ID: 1, WorkflowID: b.ID, Rule: "y"}))

	rec, err := c.LoadWorkflow(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, rec.Tasks, 1)
	assert.Equal(t, "y", rec.Tasks[0].Rule)
}

func TestLoadUnknownWorkflow(t *testing.T) {
	c := newClient(t)
	_, err := c.LoadWorkflow(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
