// Package flows contains the orchestrators behind every Engine operation.
//
// Each flow function (RunLogin, RunRefresh, RunLogout, RunAuthenticate, ...)
// accepts a typed dependency struct and returns a result carrying a failure
// kind instead of an error hierarchy. The Engine maps kinds to public errors,
// metrics, logs and audit events.
//
// # Architecture boundaries
//
// Flow functions coordinate the token codec, the revocation store and the rate
// limiter. They do NOT own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import tokengate (to avoid import cycles).
//   - Talk to Redis directly; all I/O goes through the store interfaces declared here.
package flows
