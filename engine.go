package tokengate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/MrEthical07/tokengate/internal"
	"github.com/MrEthical07/tokengate/internal/audit"
	"github.com/MrEthical07/tokengate/internal/flows"
	"github.com/MrEthical07/tokengate/internal/rate"
	"github.com/MrEthical07/tokengate/revocation"
	"github.com/MrEthical07/tokengate/token"
	"github.com/sirupsen/logrus"
)

// Engine issues, rotates, revokes and verifies tokens. It is safe for
// concurrent use once returned by Builder.Build.
type Engine struct {
	config  Config
	codec   *token.Codec
	store   *revocation.Store
	limiter *rate.Limiter
	lockout *rate.Lockout
	audit   *audit.Dispatcher
	metrics *Metrics
	log     logrus.FieldLogger
	flows   flows.Service
}

// User is the already-authenticated principal handed to Login.
type User struct {
	ID      string
	UUID    string
	Channel string
	Role    string
	// Identifier is the login name (email, phone, ...) whose throttle counter
	// is cleared after a successful login. Optional.
	Identifier string
}

// TokenPair is what a client receives after Login or Refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expiresIn"`
}

// SessionInfo describes one live refresh session of a user.
type SessionInfo struct {
	SessionID    string    `json:"sessionId"`
	DeviceType   string    `json:"deviceType"`
	Browser      string    `json:"browser"`
	OS           string    `json:"os"`
	IPAddress    string    `json:"ipAddress"`
	Location     string    `json:"location"`
	LastActivity time.Time `json:"lastActivity"`
	Current      bool      `json:"currentSession"`
}

const (
	opLogin         = "login"
	opRefresh       = "refresh"
	opLogout        = "logout"
	opLogoutAll     = "logout_all"
	opRevokeSession = "revoke_session"
	opAuthenticate  = "authenticate"

	// metricNone makes instrument skip the counter.
	metricNone = metricIDCount
)

// Close stops the audit dispatcher after draining queued events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Logger returns the engine logger so HTTP adapters log with the same fields.
func (e *Engine) Logger() logrus.FieldLogger {
	return e.log
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	return nil
}

// instrument starts timing op. The returned func records the latency
// histogram for op, bumps counter and writes a debug line.
func (e *Engine) instrument(op, channel string) func(counter MetricID, outcome string) {
	start := time.Now()
	return func(counter MetricID, outcome string) {
		elapsed := time.Since(start)
		e.metricInc(counter)
		if id, ok := latencyMetricFor(op); ok {
			e.metrics.Observe(id, elapsed)
		}
		if e.debugEnabled() {
			e.log.WithFields(logrus.Fields{
				"op":      op,
				"channel": channel,
				"outcome": outcome,
				"elapsed": elapsed,
			}).Debug("tokengate: operation finished")
		}
	}
}

func latencyMetricFor(op string) (MetricID, bool) {
	switch op {
	case opAuthenticate:
		return MetricAuthenticateLatency, true
	case opLogin:
		return MetricLoginLatency, true
	case opRefresh:
		return MetricRefreshLatency, true
	default:
		return 0, false
	}
}

func (e *Engine) debugEnabled() bool {
	switch l := e.log.(type) {
	case *logrus.Logger:
		return l.IsLevelEnabled(logrus.DebugLevel)
	case *logrus.Entry:
		return l.Logger.IsLevelEnabled(logrus.DebugLevel)
	default:
		return true
	}
}

func (e *Engine) tokenPair(p flows.Pair) TokenPair {
	return TokenPair{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.config.JWT.AccessTTL / time.Second),
	}
}

// validID rejects ids that would break the store key layout.
func validID(v string) bool {
	if v == "" {
		return false
	}
	return !strings.ContainsFunc(v, func(r rune) bool {
		return r == ':' || unicode.IsSpace(r)
	})
}

func storeError(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Login mints a token pair for a user whose credentials the caller already
// checked, and records the session with the client IP and user agent found
// in ctx.
func (e *Engine) Login(ctx context.Context, user User) (TokenPair, error) {
	if err := e.ready(); err != nil {
		return TokenPair{}, err
	}
	done := e.instrument(opLogin, user.Channel)
	rec := auditRecord{eventType: AuditEventLoginFailure, userID: user.ID, channel: user.Channel}

	if !validID(user.ID) || user.UUID == "" || user.Channel == "" {
		done(MetricLoginFailure, "invalid_user")
		rec.code = auditErrorCode(ErrInvalidUser)
		e.emitAudit(ctx, rec, nil)
		return TokenPair{}, ErrInvalidUser
	}

	device := internal.ParseUserAgent(userAgentFromContext(ctx))
	res := e.flows.Login(ctx, flows.LoginInput{
		UserID:   user.ID,
		UserUUID: user.UUID,
		Channel:  user.Channel,
		Role:     user.Role,
		Session: revocation.Session{
			DeviceType: device.Type,
			Browser:    device.Browser,
			OS:         device.OS,
			IPAddress:  clientIPFromContext(ctx),
			Location:   locationFromContext(ctx),
		},
	})

	switch res.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureLocked:
		done(MetricLoginLocked, "locked")
		rec.code = auditErrorCode(ErrAccountLocked)
		e.emitAudit(ctx, rec, func() map[string]string {
			return map[string]string{"reason": res.LockReason}
		})
		return TokenPair{}, ErrAccountLocked
	case flows.LoginFailureLockCheck, flows.LoginFailureStore:
		e.log.WithError(res.Err).WithFields(logrus.Fields{"op": opLogin, "user_id": user.ID}).
			Error("tokengate: login failed, store unavailable")
		err := storeError(res.Err)
		done(MetricLoginFailure, "store_unavailable")
		rec.code = auditErrorCode(err)
		e.emitAudit(ctx, rec, nil)
		return TokenPair{}, err
	default:
		e.log.WithError(res.Err).WithField("op", opLogin).Error("tokengate: token issuance failed")
		done(MetricLoginFailure, "issue_failed")
		rec.code = auditErrInternal
		e.emitAudit(ctx, rec, nil)
		return TokenPair{}, res.Err
	}

	if user.Identifier != "" {
		if err := e.limiter.ResetLogin(ctx, user.Identifier); err != nil {
			e.log.WithError(err).WithField("op", opLogin).Warn("tokengate: login throttle not reset")
		}
	}
	if err := e.lockout.Reset(ctx, user.ID); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"op": opLogin, "user_id": user.ID}).Warn("tokengate: lockout counter not reset")
	}

	e.metrics.AddActiveSessions(1)
	done(MetricLoginSuccess, "success")
	e.emitAudit(ctx, auditRecord{
		eventType: AuditEventLoginSuccess,
		success:   true,
		userID:    user.ID,
		tokenID:   res.Pair.RefreshClaims.ID,
		channel:   user.Channel,
	}, nil)

	return e.tokenPair(res.Pair), nil
}

// Refresh rotates a refresh token. Every failure, including a detected
// replay, returns ErrUnauthenticated.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if err := e.ready(); err != nil {
		return TokenPair{}, err
	}
	done := e.instrument(opRefresh, "")

	in := flows.RefreshInput{Token: refreshToken}
	in.Device.IPAddress = clientIPFromContext(ctx)
	in.Device.Location = locationFromContext(ctx)
	if ua := userAgentFromContext(ctx); ua != "" {
		device := internal.ParseUserAgent(ua)
		in.Device.DeviceType = device.Type
		in.Device.Browser = device.Browser
		in.Device.OS = device.OS
	}

	res := e.flows.Refresh(ctx, in)
	rec := auditRecord{
		eventType: AuditEventRefreshFailure,
		userID:    res.UserID,
		tokenID:   res.TokenID,
		channel:   res.Channel,
		code:      refreshAuditCode(res),
	}
	fields := logrus.Fields{"op": opRefresh, "user_id": res.UserID, "token_id": res.TokenID, "channel": res.Channel}

	switch res.Failure {
	case flows.RefreshFailureNone:
		done(MetricRefreshSuccess, "rotated")
		e.emitAudit(ctx, auditRecord{
			eventType: AuditEventRefreshSuccess,
			success:   true,
			userID:    res.UserID,
			tokenID:   res.Pair.RefreshClaims.ID,
			channel:   res.Channel,
		}, func() map[string]string {
			return map[string]string{"previous_token_id": res.TokenID}
		})
		return e.tokenPair(res.Pair), nil

	case flows.RefreshFailureReplay:
		e.metrics.AddActiveSessions(-int64(res.Revoked))
		entry := e.log.WithFields(fields).WithFields(logrus.Fields{
			"event":   AuditEventRefreshReplayDetected,
			"revoked": res.Revoked,
		})
		if res.Err != nil {
			entry = entry.WithError(res.Err)
		}
		entry.Warn("tokengate: rotated refresh token presented again")
		done(MetricRefreshReplayDetected, "replay")
		rec.eventType = AuditEventRefreshReplayDetected
		e.emitAudit(ctx, rec, func() map[string]string {
			return map[string]string{"revoked": strconv.Itoa(res.Revoked)}
		})

	case flows.RefreshFailureRateLimited:
		done(MetricRefreshRateLimited, "rate_limited")
		e.emitAudit(ctx, rec, nil)

	case flows.RefreshFailureStore, flows.RefreshFailureIssue:
		e.log.WithFields(fields).WithError(res.Err).Error("tokengate: refresh failed")
		done(MetricRefreshFailure, string(rec.code))
		e.emitAudit(ctx, rec, nil)

	default:
		done(MetricRefreshFailure, string(rec.code))
		e.emitAudit(ctx, rec, nil)
	}

	return TokenPair{}, ErrUnauthenticated
}

// Logout revokes the given access token and deletes the session of the given
// refresh token. Either may be empty or invalid. It never fails; store
// errors are logged.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) {
	if e.ready() != nil {
		return
	}
	done := e.instrument(opLogout, "")

	res := e.flows.Logout(ctx, accessToken, refreshToken)
	for _, err := range res.Errs {
		e.log.WithError(err).WithFields(logrus.Fields{"op": opLogout, "user_id": res.UserID}).Warn("tokengate: logout incomplete")
	}
	if res.RefreshDeleted {
		e.metrics.AddActiveSessions(-1)
	}

	outcome := "success"
	if len(res.Errs) > 0 {
		outcome = "partial"
	}
	done(MetricLogout, outcome)

	if res.UserID == "" {
		return
	}
	rec := auditRecord{
		eventType: AuditEventLogout,
		success:   len(res.Errs) == 0,
		userID:    res.UserID,
		tokenID:   res.RefreshTokenID,
		channel:   res.Channel,
	}
	if len(res.Errs) > 0 {
		rec.code = auditErrUnavailable
	}
	e.emitAudit(ctx, rec, func() map[string]string {
		return map[string]string{
			"access_revoked":  strconv.FormatBool(res.AccessRevoked),
			"refresh_deleted": strconv.FormatBool(res.RefreshDeleted),
		}
	})
}

// LogoutAll deletes every refresh session of userID. Access tokens already
// issued stay valid until they expire.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	return e.logoutAll(ctx, userID, "")
}

// LogoutAllWithCurrent is LogoutAll that also revokes currentAccess when it
// is an access token of the same user.
func (e *Engine) LogoutAllWithCurrent(ctx context.Context, userID, currentAccess string) error {
	return e.logoutAll(ctx, userID, currentAccess)
}

func (e *Engine) logoutAll(ctx context.Context, userID, currentAccess string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !validID(userID) {
		return ErrInvalidUser
	}
	done := e.instrument(opLogoutAll, "")

	res, err := e.flows.LogoutAll(ctx, userID, currentAccess)
	e.metrics.AddActiveSessions(-int64(res.Removed))
	if res.AccessErr != nil {
		e.log.WithError(res.AccessErr).WithFields(logrus.Fields{"op": opLogoutAll, "user_id": userID}).
			Warn("tokengate: current access token not revoked")
	}
	meta := func() map[string]string {
		return map[string]string{
			"removed":        strconv.Itoa(res.Removed),
			"access_revoked": strconv.FormatBool(res.AccessRevoked),
		}
	}

	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"op": opLogoutAll, "user_id": userID, "removed": res.Removed}).
			Error("tokengate: logout-all failed")
		done(metricNone, "store_unavailable")
		e.emitAudit(ctx, auditRecord{eventType: AuditEventLogoutAll, userID: userID, code: auditErrUnavailable}, meta)
		return storeError(err)
	}

	done(MetricLogoutAll, "success")
	e.emitAudit(ctx, auditRecord{eventType: AuditEventLogoutAll, success: true, userID: userID}, meta)
	return nil
}

// RevokeSession deletes one refresh session of a user (remote logout).
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !validID(userID) || !validID(sessionID) {
		return ErrSessionNotFound
	}
	done := e.instrument(opRevokeSession, "")

	existed, err := e.flows.RevokeSession(ctx, userID, sessionID)
	rec := auditRecord{eventType: AuditEventSessionRevoked, userID: userID, tokenID: sessionID}
	switch {
	case err != nil:
		e.log.WithError(err).WithFields(logrus.Fields{"op": opRevokeSession, "user_id": userID}).Error("tokengate: session not revoked")
		done(metricNone, "store_unavailable")
		rec.code = auditErrUnavailable
		e.emitAudit(ctx, rec, nil)
		return storeError(err)
	case !existed:
		done(metricNone, "not_found")
		rec.code = auditErrorCode(ErrSessionNotFound)
		e.emitAudit(ctx, rec, nil)
		return ErrSessionNotFound
	}

	e.metrics.AddActiveSessions(-1)
	done(MetricSessionRevoked, "success")
	rec.success = true
	e.emitAudit(ctx, rec, nil)
	return nil
}

// ListSessions returns the live sessions of userID, most recent first.
// currentSessionID marks the caller's own session.
func (e *Engine) ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !validID(userID) {
		return nil, ErrInvalidUser
	}

	sessions, err := e.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			SessionID:    s.TokenID,
			DeviceType:   s.DeviceType,
			Browser:      s.Browser,
			OS:           s.OS,
			IPAddress:    s.IPAddress,
			Location:     s.Location,
			LastActivity: s.LastActivity,
			Current:      currentSessionID != "" && s.TokenID == currentSessionID,
		})
	}
	return out, nil
}

// TouchSession records activity on a session. It returns ErrSessionNotFound
// when the session no longer exists.
func (e *Engine) TouchSession(ctx context.Context, userID, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !validID(userID) || !validID(sessionID) {
		return ErrSessionNotFound
	}
	ok, err := e.store.TouchSession(ctx, userID, sessionID, e.codec.Now())
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// ReconcileActiveSessions recounts refresh entries in the store and resets
// the active-sessions gauge to that number.
func (e *Engine) ReconcileActiveSessions(ctx context.Context) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.store.CountRefreshTokens(ctx)
	if err != nil {
		e.log.WithError(err).Warn("tokengate: active session reconciliation failed")
		return 0, storeError(err)
	}
	e.metrics.SetActiveSessions(n)
	return n, nil
}

// Ping measures a store round trip.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	d, err := e.store.Ping(ctx)
	if err != nil {
		return 0, storeError(err)
	}
	return d, nil
}
