// internal/storage/postgres/client.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fawad-mazhar/genoflow/internal/config"
	"github.com/fawad-mazhar/genoflow/internal/models"
	"github.com/fawad-mazhar/genoflow/internal/storage"
	_ "github.com/lib/pq"
)

var _ storage.Store = (*Client)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
	workflow_id     TEXT NOT NULL REFERENCES workflows (id) ON DELETE CASCADE,
	id              BIGINT NOT NULL,
	rule            TEXT NOT NULL,
	stage           TEXT NOT NULL,
	tags            JSONB NOT NULL,
	output_paths    JSONB NOT NULL,
	parents         JSONB NOT NULL,
	state           TEXT NOT NULL,
	submit_failures INTEGER NOT NULL DEFAULT 0,
	updated_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (workflow_id, id)
);
CREATE TABLE IF NOT EXISTS attempts (
	workflow_id     TEXT NOT NULL,
	task_id         BIGINT NOT NULL,
	number          INTEGER NOT NULL,
	external_job_id TEXT NOT NULL,
	status          TEXT NOT NULL,
	submitted_at    TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	exit_status     INTEGER,
	resource_usage  JSONB,
	PRIMARY KEY (workflow_id, task_id, number),
	FOREIGN KEY (workflow_id, task_id) REFERENCES tasks (workflow_id, id) ON DELETE CASCADE
);`

type Client struct {
	db *sql.DB
}

func NewClient(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Client{db: db}, nil
}

// NewWithDB wraps an already opened database handle
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	return c.db.Close()
}

// Migrate creates the tables if they do not exist yet
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Workflow related functions

func (c *Client) SaveWorkflow(ctx context.Context, wf *models.Workflow) error {
	query := `
		INSERT INTO workflows (id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	_, err := c.db.ExecContext(ctx, query, wf.ID, wf.Name, wf.Status, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (c *Client) LoadWorkflow(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	query := `
		SELECT id, name, status, created_at, updated_at
		FROM workflows
		WHERE id = $1`

	var rec models.WorkflowRecord
	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&rec.Workflow.ID,
		&rec.Workflow.Name,
		&rec.Workflow.Status,
		&rec.Workflow.CreatedAt,
		&rec.Workflow.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
	}

	tasks, err := c.loadTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	attempts, err := c.loadAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].Attempts = attempts[tasks[i].ID]
	}
	rec.Tasks = tasks

	return &rec, nil
}

// Task related functions

func (c *Client) SaveTask(ctx context.Context, rec models.TaskRecord) error {
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	outputs, err := json.Marshal(orEmpty(rec.OutputPaths))
	if err != nil {
		return fmt.Errorf("failed to marshal output paths: %w", err)
	}
	parents := rec.Parents
	if parents == nil {
		parents = []int64{}
	}
	parentsJSON, err := json.Marshal(parents)
	if err != nil {
		return fmt.Errorf("failed to marshal parents: %w", err)
	}

	query := `
		INSERT INTO tasks
		(workflow_id, id, rule, stage, tags, output_paths, parents, state, submit_failures, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (workflow_id, id) DO UPDATE
		SET state = EXCLUDED.state,
			output_paths = EXCLUDED.output_paths,
			submit_failures = EXCLUDED.submit_failures,
			updated_at = EXCLUDED.updated_at`

	_, err = c.db.ExecContext(ctx, query,
		rec.WorkflowID,
		rec.ID,
		rec.Rule,
		rec.Stage,
		tags,
		outputs,
		parentsJSON,
		rec.State,
		rec.SubmitFailures,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task %d: %w", rec.ID, err)
	}
	return nil
}

func (c *Client) loadTasks(ctx context.Context, workflowID string) ([]models.TaskRecord, error) {
	query := `
		SELECT id, rule, stage, tags, output_paths, parents, state, submit_failures, updated_at
		FROM tasks
		WHERE workflow_id = $1
		ORDER BY id`

	rows, err := c.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.TaskRecord
	for rows.Next() {
		rec := models.TaskRecord{WorkflowID: workflowID}
		var tagsJSON, outputsJSON, parentsJSON []byte
		if err := rows.Scan(
			&rec.ID,
			&rec.Rule,
			&rec.Stage,
			&tagsJSON,
			&outputsJSON,
			&parentsJSON,
			&rec.State,
			&rec.SubmitFailures,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if err := json.Unmarshal(tagsJSON, &rec.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags of task %d: %w", rec.ID, err)
		}
		if err := json.Unmarshal(outputsJSON, &rec.OutputPaths); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output paths of task %d: %w", rec.ID, err)
		}
		if err := json.Unmarshal(parentsJSON, &rec.Parents); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parents of task %d: %w", rec.ID, err)
		}
		tasks = append(tasks, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// Attempt related functions

func (c *Client) SaveAttempt(ctx context.Context, workflowID string, taskID int64, a models.Attempt) error {
	var usage interface{}
	if len(a.ResourceUsage) > 0 {
		data, err := json.Marshal(a.ResourceUsage)
		if err != nil {
			return fmt.Errorf("failed to marshal resource usage: %w", err)
		}
		usage = data
	}

	query := `
		INSERT INTO attempts
		(workflow_id, task_id, number, external_job_id, status, submitted_at, finished_at, exit_status, resource_usage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (workflow_id, task_id, number) DO UPDATE
		SET status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			exit_status = EXCLUDED.exit_status,
			resource_usage = EXCLUDED.resource_usage`

	_, err := c.db.ExecContext(ctx, query,
		workflowID,
		taskID,
		a.Number,
		a.ExternalJobID,
		a.Status,
		a.SubmittedAt,
		a.FinishedAt,
		a.ExitStatus,
		usage,
	)
	if err != nil {
		return fmt.Errorf("failed to save attempt %d of task %d: %w", a.Number, taskID, err)
	}
	return nil
}

func (c *Client) loadAttempts(ctx context.Context, workflowID string) (map[int64][]models.Attempt, error) {
	query := `
		SELECT task_id, number, external_job_id, status, submitted_at, finished_at, exit_status, resource_usage
		FROM attempts
		WHERE workflow_id = $1
		ORDER BY task_id, number`

	rows, err := c.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]models.Attempt)
	for rows.Next() {
		var (
			taskID     int64
			a          models.Attempt
			finishedAt sql.NullTime
			exitStatus sql.NullInt64
			usageJSON  []byte
		)
		if err := rows.Scan(
			&taskID,
			&a.Number,
			&a.ExternalJobID,
			&a.Status,
			&a.SubmittedAt,
			&finishedAt,
			&exitStatus,
			&usageJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			a.FinishedAt = &t
		}
		if exitStatus.Valid {
			code := int(exitStatus.Int64)
			a.ExitStatus = &code
		}
		if len(usageJSON) > 0 {
			if err := json.Unmarshal(usageJSON, &a.ResourceUsage); err != nil {
				return nil, fmt.Errorf("failed to unmarshal resource usage: %w", err)
			}
		}
		out[taskID] = append(out[taskID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempts: %w", err)
	}
	return out, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
