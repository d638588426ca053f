package flows

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/MrEthical07/tokengate/internal/rate"
	"github.com/MrEthical07/tokengate/revocation"
	"github.com/MrEthical07/tokengate/token"
	"github.com/sirupsen/logrus"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureWrongType
	RefreshFailureRateLimited
	RefreshFailureLocked
	RefreshFailureNotFound
	RefreshFailureReplay
	RefreshFailureMismatch
	RefreshFailureStore
	RefreshFailureIssue
)

// RefreshResult carries either the rotated pair or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	Status  token.Status
	UserID  string
	TokenID string
	Channel string
	// Revoked is the number of refresh entries removed after a replay.
	Revoked int
	Pair    Pair
}

// RefreshRateLimiter throttles refresh attempts per user.
type RefreshRateLimiter interface {
	CheckRefresh(ctx context.Context, userID string) error
}

// RefreshStore is the slice of the revocation store the rotation protocol needs.
type RefreshStore interface {
	Registrar
	TakeRefreshToken(ctx context.Context, userID, tokenID string) (string, error)
	IsBlacklisted(ctx context.Context, tokenID string) (bool, error)
	BlacklistAccessToken(ctx context.Context, tokenID string, remaining time.Duration) error
	GetSession(ctx context.Context, userID, tokenID string) (revocation.Session, error)
	DeleteSession(ctx context.Context, userID, tokenID string) error
	DeleteAllRefreshTokens(ctx context.Context, userID string) (int, error)
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Codec             *token.Codec
	Store             RefreshStore
	RateLimiter       RefreshRateLimiter
	Locks             LockChecker
	Lifetimes         Lifetimes
	RevokeAllOnReplay bool
	Logger            logrus.FieldLogger
}

// RefreshInput is the presented refresh token plus the caller's current device
// metadata. Empty Device fields keep the values recorded at login.
type RefreshInput struct {
	Token  string
	Device revocation.Session
}

// RunRefresh verifies a refresh token, consumes its registry entry and issues
// a new pair. The consumed id is blacklisted for its remaining lifetime so a
// later presentation is recognised as a replay rather than a plain miss.
func RunRefresh(ctx context.Context, in RefreshInput, deps RefreshDeps) RefreshResult {
	log := logger(deps.Logger)

	decoded := deps.Codec.Decode(in.Token)
	if !decoded.Valid() {
		return RefreshResult{Failure: RefreshFailureDecode, Status: decoded.Status}
	}
	claims := decoded.Claims
	base := RefreshResult{
		Status:  decoded.Status,
		UserID:  claims.UserID,
		TokenID: claims.ID,
		Channel: claims.Channel,
	}
	if claims.Type != token.TypeRefresh {
		base.Failure = RefreshFailureWrongType
		return base
	}

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRefresh(ctx, claims.UserID); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				base.Failure = RefreshFailureRateLimited
				base.Err = err
				return base
			}
			log.WithError(err).WithField("user_id", claims.UserID).Warn("tokengate: refresh throttle unavailable")
		}
	}

	if deps.Locks != nil {
		locked, _, err := deps.Locks.IsLocked(ctx, claims.UserID)
		if err != nil {
			base.Failure = RefreshFailureStore
			base.Err = err
			return base
		}
		if locked {
			base.Failure = RefreshFailureLocked
			return base
		}
	}

	stored, err := deps.Store.TakeRefreshToken(ctx, claims.UserID, claims.ID)
	if err != nil {
		if !errors.Is(err, revocation.ErrNotFound) {
			base.Failure = RefreshFailureStore
			base.Err = err
			return base
		}
		return classifyMissing(ctx, base, deps, log)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(in.Token)) != 1 {
		base.Failure = RefreshFailureMismatch
		return base
	}

	now := deps.Codec.Now()
	if err := deps.Store.BlacklistAccessToken(ctx, claims.ID, claims.Remaining(now)); err != nil {
		log.WithError(err).WithField("token_id", claims.ID).Warn("tokengate: rotation marker not written")
	}

	sess, err := deps.Store.GetSession(ctx, claims.UserID, claims.ID)
	if err != nil && !errors.Is(err, revocation.ErrNotFound) {
		log.WithError(err).WithField("token_id", claims.ID).Warn("tokengate: session metadata not carried over")
	}
	if err := deps.Store.DeleteSession(ctx, claims.UserID, claims.ID); err != nil {
		log.WithError(err).WithField("token_id", claims.ID).Warn("tokengate: stale session metadata not removed")
	}

	pair, err := issuePair(deps.Codec, token.Claims{
		UserID:   claims.UserID,
		UserUUID: claims.UserUUID,
		Channel:  claims.Channel,
		Role:     claims.Role,
	}, deps.Lifetimes)
	if err != nil {
		base.Failure = RefreshFailureIssue
		base.Err = err
		return base
	}

	sess.UserID = claims.UserID
	sess.TokenID = pair.RefreshClaims.ID
	sess.LastActivity = now
	if in.Device.IPAddress != "" {
		sess.IPAddress = in.Device.IPAddress
	}
	if in.Device.Location != "" {
		sess.Location = in.Device.Location
	}
	if in.Device.DeviceType != "" {
		sess.DeviceType = in.Device.DeviceType
		sess.Browser = in.Device.Browser
		sess.OS = in.Device.OS
	}

	if err := deps.Store.Register(ctx, pair.RefreshToken, sess, deps.Lifetimes.Refresh); err != nil {
		base.Failure = RefreshFailureStore
		base.Err = err
		return base
	}

	base.Pair = pair
	return base
}

func classifyMissing(ctx context.Context, base RefreshResult, deps RefreshDeps, log logrus.FieldLogger) RefreshResult {
	rotated, err := deps.Store.IsBlacklisted(ctx, base.TokenID)
	if err != nil {
		base.Failure = RefreshFailureStore
		base.Err = err
		return base
	}
	if !rotated {
		base.Failure = RefreshFailureNotFound
		return base
	}

	base.Failure = RefreshFailureReplay
	if !deps.RevokeAllOnReplay {
		return base
	}

	removed, err := deps.Store.DeleteAllRefreshTokens(ctx, base.UserID)
	base.Revoked = removed
	if err != nil {
		base.Err = err
		log.WithError(err).WithField("user_id", base.UserID).Error("tokengate: revoke-all after replay failed")
	}
	return base
}
