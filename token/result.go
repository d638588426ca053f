package token

import "time"

// Status classifies the outcome of Codec.Decode.
type Status uint8

const (
	// StatusValid means signature, structure, issuer and expiry all checked out.
	StatusValid Status = iota
	// StatusExpired means the token verified but exp (plus leeway) has passed.
	StatusExpired
	// StatusMalformed covers structural damage and every signature mismatch.
	StatusMalformed
	// StatusUnsupported covers JWE, unsecured tokens, foreign algorithms and unknown token types.
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	case StatusMalformed:
		return "malformed"
	case StatusUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of Codec.Decode.
type Result struct {
	Status Status
	Claims *Claims
}

// Valid reports whether the token verified.
func (r Result) Valid() bool {
	return r.Status == StatusValid && r.Claims != nil
}

// Is reports whether the token verified and carries the given type.
func (r Result) Is(typ Type) bool {
	return r.Valid() && r.Claims.Type == typ
}

// RemainingTTL is the time left before expiry, zero for non-valid results.
func (r Result) RemainingTTL(now time.Time) time.Duration {
	if !r.Valid() {
		return 0
	}
	return r.Claims.Remaining(now)
}
