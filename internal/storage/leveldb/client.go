// internal/storage/leveldb/client.go
package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/fawad-mazhar/genoflow/internal/config"
	"github.com/fawad-mazhar/genoflow/internal/models"
	"github.com/fawad-mazhar/genoflow/internal/storage"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ storage.Store = (*Client)(nil)

// Keys are laid out so a prefix scan returns tasks and attempts in id order:
//
//	workflow:{wf}
//	task:{wf}:{task id, 20 digits}
//	attempt:{wf}:{task id, 20 digits}:{attempt number, 6 digits}
func workflowKey(id string) []byte { return []byte("workflow:" + id) }

func taskPrefix(wf string) []byte { return []byte("task:" + wf + ":") }

func taskKey(wf string, id int64) []byte {
	return []byte(fmt.Sprintf("task:%s:%020d", wf, id))
}

func attemptPrefix(wf string) []byte { return []byte("attempt:" + wf + ":") }

func attemptKey(wf string, taskID int64, number int) []byte {
	return []byte(fmt.Sprintf("attempt:%s:%020d:%06d", wf, taskID, number))
}

// attemptEntry carries the owning task so a prefix scan can regroup attempts
type attemptEntry struct {
	TaskID  int64          `json:"taskId"`
	Attempt models.Attempt `json:"attempt"`
}

// Client is a single-process store for local runs
type Client struct {
	db    *leveldb.DB
	mutex sync.RWMutex
}

func NewClient(cfg config.LevelDBConfig) (*Client, error) {
	opts := &opt.Options{
		CompactionTableSize: 2 * 1024 * 1024, // 2MB
		WriteBuffer:         1 * 1024 * 1024, // 1MB
	}

	db, err := leveldb.OpenFile(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) put(key []byte, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.db.Put(key, data, nil)
}

func (c *Client) get(key []byte, value interface{}) error {
	c.mutex.RLock()
	data, err := c.db.Get(key, nil)
	c.mutex.RUnlock()
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return storage.ErrNotFound
		}
		return err
	}

	if err := json.Unmarshal(data, value); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// scan calls fn for every value under prefix, in key order
func (c *Client) scan(prefix []byte, fn func(value []byte) error) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	iter := c.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (c *Client) SaveWorkflow(_ context.Context, wf *models.Workflow) error {
	if err := c.put(workflowKey(wf.ID), wf); err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (c *Client) SaveTask(_ context.Context, rec models.TaskRecord) error {
	// attempts live under their own keys
	rec.Attempts = nil
	if err := c.put(taskKey(rec.WorkflowID, rec.ID), rec); err != nil {
		return fmt.Errorf("failed to save task %d: %w", rec.ID, err)
	}
	return nil
}

func (c *Client) SaveAttempt(_ context.Context, workflowID string, taskID int64, a models.Attempt) error {
	entry := attemptEntry{TaskID: taskID, Attempt: a}
	if err := c.put(attemptKey(workflowID, taskID, a.Number), entry); err != nil {
		return fmt.Errorf("failed to save attempt %d of task %d: %w", a.Number, taskID, err)
	}
	return nil
}

func (c *Client) LoadWorkflow(_ context.Context, id string) (*models.WorkflowRecord, error) {
	var rec models.WorkflowRecord
	if err := c.get(workflowKey(id), &rec.Workflow); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}

	attempts := make(map[int64][]models.Attempt)
	err := c.scan(attemptPrefix(id), func(value []byte) error {
		var entry attemptEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("failed to unmarshal attempt: %w", err)
		}
		attempts[entry.TaskID] = append(attempts[entry.TaskID], entry.Attempt)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts of workflow %s: %w", id, err)
	}

	err = c.scan(taskPrefix(id), func(value []byte) error {
		var task models.TaskRecord
		if err := json.Unmarshal(value, &task); err != nil {
			return fmt.Errorf("failed to unmarshal task: %w", err)
		}
		task.Attempts = attempts[task.ID]
		rec.Tasks = append(rec.Tasks, task)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks of workflow %s: %w", id, err)
	}

	return &rec, nil
}
