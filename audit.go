package tokengate

import (
	"io"

	"github.com/MrEthical07/tokengate/internal/audit"
	"github.com/sirupsen/logrus"
)

// AuditEvent is one security-relevant token lifecycle record.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

type NoOpSink = audit.NoOpSink

type ChannelSink = audit.ChannelSink

type JSONWriterSink = audit.JSONWriterSink

type LogSink = audit.LogSink

// Audit event types.
const (
	AuditEventLoginSuccess          = audit.EventLoginSuccess
	AuditEventLoginFailure          = audit.EventLoginFailure
	AuditEventRefreshSuccess        = audit.EventRefreshSuccess
	AuditEventRefreshFailure        = audit.EventRefreshFailure
	AuditEventRefreshReplayDetected = audit.EventRefreshReplayDetected
	AuditEventLogout                = audit.EventLogout
	AuditEventLogoutAll             = audit.EventLogoutAll
	AuditEventSessionRevoked        = audit.EventSessionRevoked
	AuditEventAccountLocked         = audit.EventAccountLocked
	AuditEventAccountUnlocked       = audit.EventAccountUnlocked
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewLogSink writes audit events through logger.
func NewLogSink(logger logrus.FieldLogger) *LogSink {
	return audit.NewLogSink(logger)
}
