package tokengate

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type identityContextKey struct{}
type locationContextKey struct{}

// Identity is the authenticated caller of one request. It is built from a
// verified, non-revoked access token and lives only in the request context.
type Identity struct {
	UserID   string
	UserUUID string
	Channel  string
	Role     string
	// TokenID is the access token id.
	TokenID string
	// SessionID is the id of the refresh session the access token belongs to.
	SessionID string
}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for the per-IP login throttle, session metadata and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. Login and Refresh
// derive device type, browser and OS from it.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithLocation attaches a display location (city, country) for the caller.
// Login and Refresh store it with the session.
func WithLocation(ctx context.Context, location string) context.Context {
	return context.WithValue(ctx, locationContextKey{}, location)
}

// WithIdentity attaches an authenticated identity to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity attached by the authentication
// middleware. ok is false for anonymous requests.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// ClientIPFromContext returns the address attached by WithClientIP.
func ClientIPFromContext(ctx context.Context) string {
	return clientIPFromContext(ctx)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func locationFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	location, _ := ctx.Value(locationContextKey{}).(string)
	return location
}
