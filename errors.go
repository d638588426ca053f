package tokengate

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/tokengate/revocation"
)

var (
	// ErrUnauthenticated is the single error callers see for any rejected
	// refresh or authentication attempt.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidUser is returned by Login when the principal lacks an id, uuid or channel.
	ErrInvalidUser = errors.New("invalid user")
	// ErrAccountLocked is returned by Login for locked accounts.
	ErrAccountLocked = errors.New("account locked")
	// ErrLoginRateLimited is returned by CheckLoginAllowed when a budget is exhausted.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrSessionNotFound is returned by RevokeSession when no such session exists.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStoreUnavailable aliases the revocation store sentinel so callers can
	// match it without importing revocation.
	ErrStoreUnavailable = revocation.ErrStoreUnavailable
	// ErrEngineNotReady is returned when a method is called on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ConfigError reports a startup configuration problem. Builder.Build returns
// it and refuses to produce an engine.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tokengate: config %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("tokengate: config %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErr(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}
