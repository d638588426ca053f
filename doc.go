// Package tokengate manages the lifecycle of signed access and refresh tokens:
// issuance at login, rotation, revocation and the per-request authentication
// gate, backed by a Redis revocation store.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// tokengate is the public surface. It exposes [Engine], [Builder], [Config],
// [Identity] and value types such as [TokenPair] and [MetricsSnapshot]. Flow
// orchestration, rate limiting and audit dispatch live under internal/. The
// [token] package signs and verifies tokens; the [revocation] package owns
// all mutable revocation state.
//
// # Failure policy
//
// The gate fails closed: a token whose revocation status cannot be read in
// time is rejected. Rate limiting fails open. Refresh collapses every
// rejection, including detected replays, into [ErrUnauthenticated].
//
// # What this package must NOT do
//
//   - Check passwords or load users; the caller authenticates credentials and
//     hands a [User] to [Engine.Login].
//   - Expose unverified token claims.
//   - Keep revocation state in process memory.
package tokengate
