package flows

import (
	"context"

	"github.com/MrEthical07/tokengate/revocation"
	"github.com/MrEthical07/tokengate/token"
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureLocked
	LoginFailureLockCheck
	LoginFailureIssue
	LoginFailureStore
)

// LoginInput is the already-authenticated principal plus device metadata.
type LoginInput struct {
	UserID   string
	UserUUID string
	Channel  string
	Role     string
	Session  revocation.Session
}

// LoginResult carries either the issued pair or failure metadata.
type LoginResult struct {
	Failure    LoginFailureKind
	Err        error
	LockReason string
	Pair       Pair
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Codec     *token.Codec
	Store     Registrar
	Locks     LockChecker
	Lifetimes Lifetimes
}

// RunLogin issues a token pair for an authenticated user and registers the
// refresh entry with its session metadata.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) LoginResult {
	if deps.Locks != nil {
		locked, reason, err := deps.Locks.IsLocked(ctx, in.UserID)
		if err != nil {
			return LoginResult{Failure: LoginFailureLockCheck, Err: err}
		}
		if locked {
			return LoginResult{Failure: LoginFailureLocked, LockReason: reason}
		}
	}

	pair, err := issuePair(deps.Codec, token.Claims{
		UserID:   in.UserID,
		UserUUID: in.UserUUID,
		Channel:  in.Channel,
		Role:     in.Role,
	}, deps.Lifetimes)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssue, Err: err}
	}

	sess := in.Session
	sess.UserID = in.UserID
	sess.TokenID = pair.RefreshClaims.ID
	sess.LastActivity = deps.Codec.Now()

	if err := deps.Store.Register(ctx, pair.RefreshToken, sess, deps.Lifetimes.Refresh); err != nil {
		return LoginResult{Failure: LoginFailureStore, Err: err}
	}

	return LoginResult{Pair: pair}
}
