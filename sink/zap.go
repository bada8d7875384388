// Package sink provides ready-made report functions for logthrottle.
package sink

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jonoton/go-logthrottle"
)

// zapConfig holds the configurable parameters for the Zap sink.
type zapConfig struct {
	level      zapcore.Level
	payloadKey string
}

// ZapOption configures the Zap sink.
type ZapOption func(*zapConfig)

// WithLevel sets the level reports are logged at. The default is Info.
func WithLevel(level zapcore.Level) ZapOption {
	return func(c *zapConfig) {
		c.level = level
	}
}

// WithPayloadKey renames the field carrying the record. The default is "payload".
func WithPayloadKey(key string) ZapOption {
	return func(c *zapConfig) {
		if key != "" {
			c.payloadKey = key
		}
	}
}

// Zap returns a report function that writes every envelope to logger as one
// entry with message msg. The record is attached with zap.Any, so payloads
// implementing zapcore.ObjectMarshaler are encoded as structured objects.
func Zap[T any](logger *zap.Logger, msg string, opts ...ZapOption) logthrottle.ReportFunc[T] {
	cfg := zapConfig{
		level:      zapcore.InfoLevel,
		payloadKey: "payload",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(env *logthrottle.Envelope[T]) {
		ce := logger.Check(cfg.level, msg)
		if ce == nil {
			return
		}
		ce.Write(
			zap.Any(cfg.payloadKey, env.Payload),
			zap.Int("repeat_count", env.RepeatCount),
			zap.Time("added_at", env.AddedAt),
			zap.Time("reported_at", env.ReportedAt),
			zap.Duration("span", env.Span()),
		)
	}
}

// ZapTracef adapts logger for use with logthrottle.WithTracef. Traces are
// written at debug level.
func ZapTracef(logger *zap.Logger) logthrottle.TraceFunc {
	return logger.Sugar().Debugf
}
