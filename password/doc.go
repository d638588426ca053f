// Package password hashes and verifies user credentials for services built on
// tokengate. The tokengate Engine never sees passwords; a login handler
// verifies them here and then calls Engine.Login.
//
// New hashes are argon2id PHC strings. Verify also accepts bcrypt hashes, and
// [Hasher.NeedsRehash] reports them so the caller can re-hash on the next
// successful login.
//
// The package does not log and does not store anything.
package password
