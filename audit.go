package authcore

import (
	"github.com/mnemoforge/authcore/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security event. It never carries secrets.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher.
type AuditSink = audit.Sink

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// NewZapAuditSink writes each event as one structured log line.
func NewZapAuditSink(logger *zap.Logger) AuditSink {
	return audit.NewZapSink(logger)
}

// NewChannelAuditSink buffers events on a channel. Useful in tests.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}
