// Package revocation holds the mutable state that sits beside stateless tokens:
// the refresh-token registry, the access-token blacklist and per-session device
// metadata, all in Redis.
//
// Layout (every key carries the configured prefix):
//
//	refresh:{userId}:{tokenId}    string, value = refresh token, ttl = refresh lifetime
//	session:{userId}:{tokenId}    hash, device metadata, same ttl as the refresh entry
//	blacklist:{tokenId}           "1", ttl = remaining access lifetime
//
// Every call is bounded by Config.OperationTimeout. Redis failures and timeouts
// surface as ErrStoreUnavailable; callers decide whether that fails open or closed.
// Only single-key atomicity is guaranteed.
package revocation
