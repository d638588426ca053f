package middleware

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/MrEthical07/tokengate"
	"github.com/MrEthical07/tokengate/internal"
)

// Option configures Authenticate.
type Option func(*guardOptions)

type guardOptions struct {
	trusted []netip.Prefix
	locate  Locator
}

// Locator resolves a display location for a request, for example from a
// GeoIP database or a header set by the edge. An empty result leaves the
// location unset.
type Locator func(r *http.Request, clientIP string) string

// WithTrustedProxies makes Authenticate read X-Forwarded-For and X-Real-IP
// from peers inside prefixes. Without it those headers are ignored and the
// connection address is the client IP, since any client can set them.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(o *guardOptions) {
		o.trusted = append(o.trusted, prefixes...)
	}
}

// WithLocator records the location returned by locate with each session.
func WithLocator(locate Locator) Option {
	return func(o *guardOptions) {
		o.locate = locate
	}
}

// ParseTrustedProxies parses CIDRs or bare addresses for WithTrustedProxies.
func ParseTrustedProxies(specs []string) ([]netip.Prefix, error) {
	return internal.ParsePrefixes(specs)
}

// HeaderLocator reads the location from a header written by a trusted edge,
// such as a CDN country header.
func HeaderLocator(name string) Locator {
	return func(r *http.Request, _ string) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

// Authenticate runs the authentication gate for every request. It attaches
// the client IP, the User-Agent and, with WithLocator, the location to the
// request context and, when the bearer token is accepted, the caller's
// Identity. It always calls next; use RequireIdentity on routes that need an
// authenticated caller.
func Authenticate(engine *tokengate.Engine, opts ...Option) func(http.Handler) http.Handler {
	var o guardOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := internal.ClientIP(o.trusted, r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"), r.RemoteAddr)
			ctx = tokengate.WithClientIP(ctx, ip)
			ctx = tokengate.WithUserAgent(ctx, r.UserAgent())
			if o.locate != nil {
				if loc := o.locate(r, ip); loc != "" {
					ctx = tokengate.WithLocation(ctx, loc)
				}
			}

			if engine != nil {
				token, _ := bearerToken(r.Header.Get("Authorization"))
				if id, outcome := engine.Authenticate(ctx, token); outcome.Authenticated() {
					ctx = tokengate.WithIdentity(ctx, id)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireIdentity answers 401 unless Authenticate attached an identity.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := tokengate.IdentityFromContext(r.Context()); !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the credentials of an "Authorization: Bearer" header.
// The scheme is matched case-sensitively.
func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
