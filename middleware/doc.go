// Package middleware adapts tokengate.Engine to net/http.
//
// # Handlers
//
//   - [Authenticate] runs the gate on the bearer token and attaches the
//     identity, client IP, User-Agent and optional location to the request
//     context. It never rejects a request.
//   - [RequireIdentity] rejects anonymous requests with 401.
//   - [RateLimit] counts requests against the per-class API windows and
//     answers 429 when a window is exhausted.
//
// # Client IP
//
// X-Forwarded-For and X-Real-IP are ignored unless the connection comes from
// a proxy listed with [WithTrustedProxies]. Behind a load balancer, list its
// address range or every session records the balancer as the client IP.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Tell the client why a token was rejected.
package middleware
