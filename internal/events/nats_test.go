// internal/events/nats_test.go
package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawad-mazhar/genoflow/internal/models"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func TestPublish(t *testing.T) {
	conn := &fakeConn{}
	n := newPublisher(conn, "")

	msg := models.StatusMessage{
		Type:      "task",
		ID:        "7",
		Status:    string(models.TaskStateRunning),
		Timestamp: time.Now(),
		Metadata:  models.TaskEvent{WorkflowID: "wf-1", TaskID: 7, Rule: "align"},
	}
	require.NoError(t, n.Publish(context.Background(), msg))

	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "genoflow.status.task.7", conn.msgs[0].subject)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &decoded))
	assert.Equal(t, "RUNNING", decoded["status"])
	assert.Equal(t, "align", decoded["metadata"].(map[string]interface{})["rule"])
}

func TestSubject(t *testing.T) {
	n := newPublisher(&fakeConn{}, "lab.pipeline")

	tests := []struct {
		msg  models.StatusMessage
		want string
	}{
		{models.StatusMessage{Type: "controller", ID: "3f2a"}, "lab.pipeline.controller.3f2a"},
		{models.StatusMessage{Type: "task", ID: "a.b*c>d"}, "lab.pipeline.task.a_b_c_d"},
		{models.StatusMessage{Type: "task"}, "lab.pipeline.task._"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, n.Subject(tt.msg))
	}
}

func TestPublishErrors(t *testing.T) {
	n := newPublisher(&fakeConn{err: errors.New("connection closed")}, "")
	err := n.Publish(context.Background(), models.StatusMessage{Type: "task", ID: "1"})
	assert.ErrorContains(t, err, "failed to publish status")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Publish(ctx, models.StatusMessage{Type: "task", ID: "1"}), context.Canceled)
}

func TestCloseWithoutConnection(t *testing.T) {
	assert.NoError(t, newPublisher(&fakeConn{}, "").Close())
}
