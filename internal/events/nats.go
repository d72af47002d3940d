// internal/events/nats.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/nats-io/nats.go"

	"github.com/fawad-mazhar/genoflow/internal/config"
	"github.com/fawad-mazhar/genoflow/internal/models"
)

const DefaultSubjectPrefix = "genoflow.status"

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes status messages as JSON on {prefix}.{type}.{id}
type NATS struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
}

func NewNATS(cfg config.NATSConfig, logger logr.Logger) (*NATS, error) {
	logger = logger.WithName("events")
	conn, err := nats.Connect(cfg.URL,
		nats.Name("genoflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, "disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n := newPublisher(conn, cfg.SubjectPrefix)
	n.conn = conn
	return n, nil
}

func newPublisher(pub publisher, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{pub: pub, prefix: prefix}
}

// Subject returns the subject msg is published on
func (n *NATS) Subject(msg models.StatusMessage) string {
	return n.prefix + "." + token(msg.Type) + "." + token(msg.ID)
}

func (n *NATS) Publish(ctx context.Context, msg models.StatusMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := n.pub.Publish(n.Subject(msg), data); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// token makes s safe to use as one subject token
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
