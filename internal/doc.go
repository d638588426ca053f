// Package internal holds helpers private to tokengate: user-agent
// classification and client address extraction.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators behind every Engine token operation
//   - rate: Redis-backed login throttle, lockout and API windows
//
// # What this package must NOT do
//
//   - Export types that appear in the public tokengate API.
//   - Perform I/O.
package internal
