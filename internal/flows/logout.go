package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/tokengate/token"
)

// LogoutStore is the slice of the revocation store logout needs.
type LogoutStore interface {
	BlacklistAccessToken(ctx context.Context, tokenID string, remaining time.Duration) error
	DeleteRefreshToken(ctx context.Context, userID, tokenID string) (bool, error)
	DeleteAllRefreshTokens(ctx context.Context, userID string) (int, error)
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Codec *token.Codec
	Store LogoutStore
}

// LogoutResult reports what a best-effort logout managed to do.
type LogoutResult struct {
	UserID         string
	Channel        string
	AccessTokenID  string
	RefreshTokenID string
	AccessRevoked  bool
	RefreshDeleted bool
	Errs           []error
}

// RunLogout blacklists a verified access token for its remaining lifetime and
// deletes the registry entry of a verified refresh token. Either token may be
// empty, invalid or expired; store errors are collected, never fatal.
func RunLogout(ctx context.Context, accessToken, refreshToken string, deps LogoutDeps) LogoutResult {
	var res LogoutResult
	now := deps.Codec.Now()

	if accessToken != "" {
		decoded := deps.Codec.Decode(accessToken)
		if decoded.Is(token.TypeAccess) {
			claims := decoded.Claims
			res.UserID = claims.UserID
			res.Channel = claims.Channel
			res.AccessTokenID = claims.ID
			if err := deps.Store.BlacklistAccessToken(ctx, claims.ID, claims.Remaining(now)); err != nil {
				res.Errs = append(res.Errs, err)
			} else {
				res.AccessRevoked = true
			}
		}
	}

	if refreshToken != "" {
		decoded := deps.Codec.Decode(refreshToken)
		if decoded.Is(token.TypeRefresh) {
			claims := decoded.Claims
			if res.UserID == "" {
				res.UserID = claims.UserID
				res.Channel = claims.Channel
			}
			res.RefreshTokenID = claims.ID
			existed, err := deps.Store.DeleteRefreshToken(ctx, claims.UserID, claims.ID)
			if err != nil {
				res.Errs = append(res.Errs, err)
			}
			res.RefreshDeleted = existed
		}
	}

	return res
}

// LogoutAllResult reports the effect of a logout-all.
type LogoutAllResult struct {
	Removed       int
	AccessRevoked bool
	AccessErr     error
}

// RunLogoutAll deletes every refresh entry of userID. When currentAccess is a
// verified access token of the same user it is blacklisted as well. Other
// outstanding access tokens stay valid until they expire.
func RunLogoutAll(ctx context.Context, userID, currentAccess string, deps LogoutDeps) (LogoutAllResult, error) {
	var res LogoutAllResult

	if currentAccess != "" {
		decoded := deps.Codec.Decode(currentAccess)
		if decoded.Is(token.TypeAccess) && decoded.Claims.UserID == userID {
			err := deps.Store.BlacklistAccessToken(ctx, decoded.Claims.ID, decoded.RemainingTTL(deps.Codec.Now()))
			res.AccessRevoked = err == nil
			res.AccessErr = err
		}
	}

	removed, err := deps.Store.DeleteAllRefreshTokens(ctx, userID)
	res.Removed = removed
	return res, err
}

// RunRevokeSession deletes one refresh entry of a user.
func RunRevokeSession(ctx context.Context, userID, tokenID string, deps LogoutDeps) (bool, error) {
	return deps.Store.DeleteRefreshToken(ctx, userID, tokenID)
}
