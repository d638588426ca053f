package tokengate

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tokengate/internal/rate"
	"github.com/sirupsen/logrus"
)

// RateDecision is the outcome of an API window check.
type RateDecision struct {
	Allowed    bool
	Limited    bool // false when no rule applies to the class
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// CheckLoginAllowed reports ErrLoginRateLimited when the identifier or the
// client IP in ctx has exhausted its failure budget. Backend errors fail open.
func (e *Engine) CheckLoginAllowed(ctx context.Context, identifier string) error {
	if err := e.ready(); err != nil {
		return err
	}
	err := e.limiter.CheckLogin(ctx, identifier, clientIPFromContext(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.metricInc(MetricLoginRateLimited)
		return ErrLoginRateLimited
	default:
		e.metricInc(MetricRateLimitStoreError)
		e.log.WithError(err).WithField("op", opLogin).Warn("tokengate: login throttle unavailable, allowing attempt")
		return nil
	}
}

// RecordLoginFailure counts a failed credential check against the identifier,
// the client IP and, when userID is known, the account lockout. It returns
// ErrAccountLocked when this failure locked the account and
// ErrLoginRateLimited when it exhausted a throttle budget.
func (e *Engine) RecordLoginFailure(ctx context.Context, identifier, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditRecord{eventType: AuditEventLoginFailure, userID: userID, code: auditErrUnauthenticated}, nil)

	limited := false
	if err := e.limiter.IncrementLogin(ctx, identifier, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			limited = true
		} else {
			e.metricInc(MetricRateLimitStoreError)
			e.log.WithError(err).WithField("op", opLogin).Warn("tokengate: login failure not counted")
		}
	}

	if userID != "" && e.config.Lockout.Enabled {
		locked, err := e.lockout.RecordFailure(ctx, userID)
		if err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{"op": opLogin, "user_id": userID}).Warn("tokengate: lockout failure not counted")
		}
		if locked {
			e.metricInc(MetricAccountLocked)
			e.log.WithFields(logrus.Fields{"op": opLogin, "user_id": userID, "event": AuditEventAccountLocked}).
				Warn("tokengate: account locked after repeated failures")
			e.emitAudit(ctx, auditRecord{eventType: AuditEventAccountLocked, success: true, userID: userID}, func() map[string]string {
				return map[string]string{"reason": "threshold"}
			})
			return ErrAccountLocked
		}
	}

	if limited {
		e.metricInc(MetricLoginRateLimited)
		return ErrLoginRateLimited
	}
	return nil
}

// IsAccountLocked reports whether userID is locked and the recorded reason.
func (e *Engine) IsAccountLocked(ctx context.Context, userID string) (bool, string, error) {
	if err := e.ready(); err != nil {
		return false, "", err
	}
	locked, reason, err := e.lockout.IsLocked(ctx, userID)
	if err != nil {
		return false, "", storeError(err)
	}
	return locked, reason, nil
}

// LockAccount locks userID until UnlockAccount. Login and Refresh are refused
// while the lock is set; already issued access tokens stay valid.
func (e *Engine) LockAccount(ctx context.Context, userID, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !validID(userID) {
		return ErrInvalidUser
	}
	if err := e.lockout.Lock(ctx, userID, reason); err != nil {
		return storeError(err)
	}
	e.metricInc(MetricAccountLocked)
	e.emitAudit(ctx, auditRecord{eventType: AuditEventAccountLocked, success: true, userID: userID}, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return nil
}

func (e *Engine) UnlockAccount(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !validID(userID) {
		return ErrInvalidUser
	}
	if err := e.lockout.Unlock(ctx, userID); err != nil {
		return storeError(err)
	}
	e.metricInc(MetricAccountUnlocked)
	e.emitAudit(ctx, auditRecord{eventType: AuditEventAccountUnlocked, success: true, userID: userID}, nil)
	return nil
}

// AllowRequest counts one request of client against the window configured
// for class, falling back to the "default" class. Backend errors allow the
// request and are returned alongside the decision.
func (e *Engine) AllowRequest(ctx context.Context, class, client string) (RateDecision, error) {
	if err := e.ready(); err != nil {
		return RateDecision{Allowed: true}, err
	}
	rule, ok := e.config.RateLimit.Classes[class]
	if !ok {
		class = RateClassDefault
		rule, ok = e.config.RateLimit.Classes[class]
	}
	if !ok {
		return RateDecision{Allowed: true}, nil
	}

	d, err := e.limiter.Allow(ctx, class, client, rule.Limit, rule.Window)
	out := RateDecision{
		Allowed:    d.Allowed,
		Limited:    true,
		Limit:      d.Limit,
		Remaining:  d.Remaining,
		RetryAfter: d.RetryAfter,
	}
	if err != nil {
		e.metricInc(MetricRateLimitStoreError)
		e.log.WithError(err).WithField("class", class).Warn("tokengate: rate limit store unavailable, allowing request")
		out.Allowed = true
		return out, err
	}
	if !out.Allowed {
		e.metricInc(MetricRateLimitHit)
	}
	return out, nil
}
