package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Type distinguishes access tokens from refresh tokens.
type Type string

const (
	// TypeAccess authenticates API calls.
	TypeAccess Type = "ACCESS"
	// TypeRefresh is only accepted by the refresh rotation flow.
	TypeRefresh Type = "REFRESH"
)

func (t Type) known() bool {
	return t == TypeAccess || t == TypeRefresh
}

// Claims is the identity and lifecycle payload of a token.
//
// Subject (sub) always equals UserID. ID (jti) is the token id used for
// blacklisting and refresh-registry keys. SessionID (sid) on an access token
// is the jti of the refresh token minted with it.
type Claims struct {
	UserID    string `json:"userId"`
	UserUUID  string `json:"userUuid"`
	Channel   string `json:"channelCode"`
	Role      string `json:"role,omitempty"`
	Type      Type   `json:"tokenType"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// TokenID returns the jti claim.
func (c *Claims) TokenID() string {
	if c == nil {
		return ""
	}
	return c.ID
}

// ExpiresAtTime returns the exp claim, or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Remaining reports how long the token stays valid after now. It is never negative.
func (c *Claims) Remaining(now time.Time) time.Duration {
	exp := c.ExpiresAtTime()
	if exp.IsZero() {
		return 0
	}
	d := exp.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
