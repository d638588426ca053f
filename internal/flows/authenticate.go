package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/tokengate/token"
)

// AuthenticateFailureKind classifies gate rejections.
type AuthenticateFailureKind int

const (
	AuthenticateFailureNone AuthenticateFailureKind = iota
	AuthenticateFailureNoToken
	AuthenticateFailureMalformed
	AuthenticateFailureExpired
	AuthenticateFailureUnsupported
	AuthenticateFailureWrongType
	AuthenticateFailureRevoked
	AuthenticateFailureStore
)

// AuthenticateResult carries verified claims or the rejection kind.
type AuthenticateResult struct {
	Failure AuthenticateFailureKind
	Err     error
	Claims  *token.Claims
}

// BlacklistChecker reports whether an access token id has been revoked.
type BlacklistChecker interface {
	IsBlacklisted(ctx context.Context, tokenID string) (bool, error)
}

// AuthenticateDeps captures gate dependencies.
type AuthenticateDeps struct {
	Codec     *token.Codec
	Blacklist BlacklistChecker
	// Timeout bounds the blacklist lookup; zero leaves ctx untouched.
	Timeout time.Duration
}

// RunAuthenticate decides whether tokenStr identifies a caller. Any store
// failure or timeout rejects.
func RunAuthenticate(ctx context.Context, tokenStr string, deps AuthenticateDeps) AuthenticateResult {
	if tokenStr == "" {
		return AuthenticateResult{Failure: AuthenticateFailureNoToken}
	}

	decoded := deps.Codec.Decode(tokenStr)
	switch decoded.Status {
	case token.StatusValid:
	case token.StatusExpired:
		return AuthenticateResult{Failure: AuthenticateFailureExpired}
	case token.StatusUnsupported:
		return AuthenticateResult{Failure: AuthenticateFailureUnsupported}
	default:
		return AuthenticateResult{Failure: AuthenticateFailureMalformed}
	}
	if decoded.Claims.Type != token.TypeAccess {
		return AuthenticateResult{Failure: AuthenticateFailureWrongType}
	}

	lookupCtx := ctx
	if deps.Timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, deps.Timeout)
		defer cancel()
	}

	revoked, err := deps.Blacklist.IsBlacklisted(lookupCtx, decoded.Claims.ID)
	if err != nil {
		return AuthenticateResult{Failure: AuthenticateFailureStore, Err: err}
	}
	if revoked {
		return AuthenticateResult{Failure: AuthenticateFailureRevoked}
	}

	return AuthenticateResult{Claims: decoded.Claims}
}
