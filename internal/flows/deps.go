package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/tokengate/revocation"
	"github.com/MrEthical07/tokengate/token"
	"github.com/sirupsen/logrus"
)

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow.
type Deps struct {
	Login        LoginDeps
	Refresh      RefreshDeps
	Logout       LogoutDeps
	Authenticate AuthenticateDeps
}

// LockChecker reports whether an account is locked.
type LockChecker interface {
	IsLocked(ctx context.Context, userID string) (bool, string, error)
}

// Registrar stores a refresh entry together with its session metadata.
type Registrar interface {
	Register(ctx context.Context, value string, sess revocation.Session, ttl time.Duration) error
}

// Lifetimes are the configured token lifetimes.
type Lifetimes struct {
	Access  time.Duration
	Refresh time.Duration
}

// Pair is a freshly minted access/refresh pair.
type Pair struct {
	AccessToken   string
	RefreshToken  string
	AccessClaims  token.Claims
	RefreshClaims token.Claims
}

// issuePair mints the refresh token first so the access token can carry its
// id as the session id.
func issuePair(codec *token.Codec, identity token.Claims, ttl Lifetimes) (Pair, error) {
	identity.ID = ""
	identity.SessionID = ""
	refresh, err := codec.Issue(identity, token.TypeRefresh, ttl.Refresh)
	if err != nil {
		return Pair{}, err
	}
	identity.SessionID = refresh.Claims.ID
	access, err := codec.Issue(identity, token.TypeAccess, ttl.Access)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:   access.Token,
		RefreshToken:  refresh.Token,
		AccessClaims:  access.Claims,
		RefreshClaims: refresh.Claims,
	}, nil
}

func logger(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		discard := logrus.New()
		discard.SetLevel(logrus.PanicLevel)
		return discard
	}
	return l
}
