// Package token encodes and verifies the signed access/refresh tokens used by tokengate.
//
// Tokens are HS256 JWTs carrying identity claims (user id, public uuid, login channel) and
// lifecycle claims (type, jti, iat, exp, iss). The [Codec] is pure: it owns the immutable
// signing secret and performs no I/O.
//
// # Verification contract
//
// [Codec.Decode] never returns an error for untrusted input. Every outcome is a [Status]:
// valid, expired, malformed (including any signature mismatch), or unsupported. Callers
// collapse the non-valid statuses into a single rejection.
//
// # What this package must NOT do
//
//   - Consult revocation state (the gate does that after a successful decode).
//   - Expose claims of a token whose signature did not verify.
package token
