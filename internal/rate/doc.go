// Package rate provides the Redis-backed counters behind login throttling,
// refresh throttling, per-client API windows and account lockout.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes
// (after the configured namespace):
//   - al:   login per identifier
//   - ali:  login per IP
//   - ar:   refresh per user
//   - aa:   API window per class and client
//   - alf:  lockout failure counter per user
//   - alk:  lock flag per user (no ttl, removed by Unlock)
//
// # What this package must NOT do
//
//   - Touch token or revocation state. A rate-limit decision never revokes anything.
//   - Decide whether a backend failure fails open or closed; callers do.
package rate
