// internal/log/log_test.go
package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(Options{Level: "debug", Encoding: "json"})
	require.NoError(t, err)
	assert.True(t, logger.Enabled())
	assert.Equal(t, zapcore.DebugLevel, AtomicLevel.Level())

	ctx := NewContext(context.Background(), logger.WithName("test"))
	assert.NotNil(t, FromContextOrDiscard(ctx).GetSink())

	require.NoError(t, SetLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, AtomicLevel.Level())
}

func TestNewLoggerRejectsBadOptions(t *testing.T) {
	_, err := NewLogger(Options{Encoding: "xml"})
	assert.Error(t, err)

	_, err = NewLogger(Options{Level: "loud"})
	assert.Error(t, err)
}
