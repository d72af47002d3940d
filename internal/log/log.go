// internal/log/log.go
package log

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const TimeFormat = "2006-01-02 15:04:05.999"

// AtomicLevel allows the level of a running logger to be changed
var AtomicLevel = zap.NewAtomicLevel()

var (
	NewContext           = logr.NewContext
	FromContextOrDiscard = logr.FromContextOrDiscard
)

// Options configures the process logger
type Options struct {
	Level       string `yaml:"level"`
	Encoding    string `yaml:"encoding"` // console or json
	Development bool   `yaml:"development"`
}

// NewZapLogger builds the zap logger backing every logr.Logger in the process
func NewZapLogger(opts Options) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if opts.Development {
		config = zap.NewDevelopmentConfig()
	}

	encoding := opts.Encoding
	if encoding == "" {
		encoding = "console"
	}
	if encoding != "console" && encoding != "json" {
		return nil, fmt.Errorf("unknown log encoding %q", encoding)
	}
	config.Encoding = encoding

	if opts.Level != "" {
		if err := AtomicLevel.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}
	config.Level = AtomicLevel
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(TimeFormat)
	config.DisableStacktrace = true
	config.Sampling = nil

	return config.Build()
}

// NewLogger returns a logr.Logger on top of zap
func NewLogger(opts Options) (logr.Logger, error) {
	zapLogger, err := NewZapLogger(opts)
	if err != nil {
		return logr.Discard(), err
	}
	return zapr.NewLogger(zapLogger), nil
}

// SetLevel changes the level of every logger built by NewZapLogger
func SetLevel(level string) error {
	return AtomicLevel.UnmarshalText([]byte(level))
}
