package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/tokengate"
)

// Classifier picks the rate-limit class of a request and the client key the
// window is counted against.
type Classifier func(r *http.Request) (class, client string)

// DefaultClassifier counts /auth/ routes per client IP in the auth class,
// authenticated requests per user in the user class and everything else per
// client IP in the default class. It expects Authenticate to run first.
func DefaultClassifier(r *http.Request) (string, string) {
	ctx := r.Context()
	if strings.HasPrefix(r.URL.Path, "/auth/") {
		return tokengate.RateClassAuth, tokengate.ClientIPFromContext(ctx)
	}
	if id, ok := tokengate.IdentityFromContext(ctx); ok {
		return tokengate.RateClassUser, id.UserID
	}
	return tokengate.RateClassDefault, tokengate.ClientIPFromContext(ctx)
}

// RateLimit enforces the per-class API windows. Allowed responses carry
// X-RateLimit-Limit and X-RateLimit-Remaining; denied ones get 429 with
// Retry-After in seconds. A store failure lets the request through.
func RateLimit(engine *tokengate.Engine, classify Classifier) func(http.Handler) http.Handler {
	if classify == nil {
		classify = DefaultClassifier
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				next.ServeHTTP(w, r)
				return
			}
			class, client := classify(r)
			if client == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := engine.AllowRequest(r.Context(), class, client)
			if err != nil || !d.Limited {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
