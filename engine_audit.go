package tokengate

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tokengate/internal/flows"
	"github.com/MrEthical07/tokengate/token"
)

// AuditErrorCode is the coarse failure reason recorded on audit events.
type AuditErrorCode string

const (
	auditErrUnauthenticated AuditErrorCode = "unauthenticated"
	auditErrInvalidToken    AuditErrorCode = "invalid_token"
	auditErrExpiredToken    AuditErrorCode = "expired_token"
	auditErrWrongTokenType  AuditErrorCode = "wrong_token_type"
	auditErrRefreshUnknown  AuditErrorCode = "refresh_not_found"
	auditErrRefreshReplay   AuditErrorCode = "refresh_replay"
	auditErrRefreshMismatch AuditErrorCode = "refresh_mismatch"
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrAccountLocked   AuditErrorCode = "account_locked"
	auditErrInvalidUser     AuditErrorCode = "invalid_user"
	auditErrSessionNotFound AuditErrorCode = "session_not_found"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrInternal        AuditErrorCode = "internal_error"
)

type auditRecord struct {
	eventType string
	success   bool
	userID    string
	tokenID   string
	channel   string
	code      AuditErrorCode
}

func (e *Engine) emitAudit(ctx context.Context, rec auditRecord, metadataBuilder func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: rec.eventType,
		UserID:    rec.userID,
		TokenID:   rec.tokenID,
		Channel:   rec.channel,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   rec.success,
		Error:     string(rec.code),
		Metadata:  metadata,
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthenticated):
		return auditErrUnauthenticated
	case errors.Is(err, ErrInvalidUser):
		return auditErrInvalidUser
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrLoginRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func refreshAuditCode(res flows.RefreshResult) AuditErrorCode {
	switch res.Failure {
	case flows.RefreshFailureNone:
		return ""
	case flows.RefreshFailureDecode:
		if res.Status == token.StatusExpired {
			return auditErrExpiredToken
		}
		return auditErrInvalidToken
	case flows.RefreshFailureWrongType:
		return auditErrWrongTokenType
	case flows.RefreshFailureRateLimited:
		return auditErrRateLimited
	case flows.RefreshFailureLocked:
		return auditErrAccountLocked
	case flows.RefreshFailureNotFound:
		return auditErrRefreshUnknown
	case flows.RefreshFailureReplay:
		return auditErrRefreshReplay
	case flows.RefreshFailureMismatch:
		return auditErrRefreshMismatch
	case flows.RefreshFailureStore:
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
