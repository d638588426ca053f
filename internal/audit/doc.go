// Package audit implements async event dispatching for security-relevant operations.
//
// # Components
//
//   - [Sink]: consumer interface (channel, JSON writer, no-op).
//   - [Dispatcher]: buffered async relay that either drops or blocks when full.
//   - [Event]: one record of a login, rotation, replay, logout or lock.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the Engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import tokengate or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
