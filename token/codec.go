package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretBytes is the minimum HMAC secret length (256 bits).
const MinSecretBytes = 32

const maxLeeway = 2 * time.Minute

var (
	// ErrSecretTooShort is returned by NewCodec for secrets under MinSecretBytes.
	ErrSecretTooShort = errors.New("token: signing secret must be at least 32 bytes")
	// ErrInvalidLeeway is returned by NewCodec for a negative or oversized leeway.
	ErrInvalidLeeway = errors.New("token: leeway must be between 0 and 2m")
	// ErrEncoding reports a signer failure while minting a token.
	ErrEncoding = errors.New("token: encoding failed")

	errUnsupportedAlg = errors.New("token: unsupported signing algorithm")
)

// Config configures a Codec. It is copied at construction.
type Config struct {
	Secret []byte
	Issuer string
	// Leeway is the clock tolerance applied to exp.
	Leeway time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Codec signs and verifies tokens with a single shared HS256 secret.
//
// A Codec is immutable after NewCodec and safe for concurrent use.
type Codec struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
	method *jwt.SigningMethodHMAC
	parser *jwt.Parser
}

// Issued is a freshly minted token together with the claims it carries.
type Issued struct {
	Token  string
	Claims Claims
}

// NewCodec validates cfg and builds a Codec. Misconfiguration is reported here,
// never per request.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, ErrInvalidLeeway
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	// Time claims are checked in Decode: jwt/v5 treats exp == now as expired
	// and only knows whole seconds.
	parser := jwt.NewParser(
		jwt.WithStrictDecoding(),
		jwt.WithoutClaimsValidation(),
	)

	return &Codec{
		secret: secret,
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		now:    now,
		method: jwt.SigningMethodHS256,
		parser: parser,
	}, nil
}

// Now returns the codec clock.
func (c *Codec) Now() time.Time {
	return c.now()
}

// Encode mints a signed token of the given type and lifetime.
func (c *Codec) Encode(claims Claims, typ Type, ttl time.Duration) (string, error) {
	issued, err := c.Issue(claims, typ, ttl)
	if err != nil {
		return "", err
	}
	return issued.Token, nil
}

// Issue is Encode returning the final claims as well, including the generated jti.
func (c *Codec) Issue(claims Claims, typ Type, ttl time.Duration) (Issued, error) {
	now := c.now()

	claims.Type = typ
	claims.Subject = claims.UserID
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiry(now, ttl))

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	return Issued{Token: signed, Claims: claims}, nil
}

// Decode verifies tokenString and classifies the outcome. It never panics on
// untrusted input; Claims is only set when Status is StatusValid.
func (c *Codec) Decode(tokenString string) Result {
	parts := strings.Split(tokenString, ".")
	switch len(parts) {
	case 3:
	case 5:
		// Compact JWE.
		return Result{Status: StatusUnsupported}
	default:
		return Result{Status: StatusMalformed}
	}
	if parts[2] == "" {
		// Unsecured JWT (alg "none").
		return Result{Status: StatusUnsupported}
	}

	sig, err := c.parser.DecodeSegment(parts[2])
	if err != nil {
		return Result{Status: StatusMalformed}
	}
	if err := c.method.Verify(parts[0]+"."+parts[1], sig, c.secret); err != nil {
		return Result{Status: StatusMalformed}
	}

	claims := &Claims{}
	_, err = c.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, errUnsupportedAlg
		}
		return c.secret, nil
	})
	if err != nil {
		return Result{Status: classify(err)}
	}

	if !claims.Type.known() {
		return Result{Status: StatusUnsupported}
	}
	if claims.ID == "" || claims.UserID == "" || claims.Subject != claims.UserID {
		return Result{Status: StatusMalformed}
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return Result{Status: StatusMalformed}
	}
	if claims.ExpiresAt == nil {
		return Result{Status: StatusMalformed}
	}

	now := c.now()
	if claims.NotBefore != nil && now.Add(c.leeway).Before(claims.NotBefore.Time) {
		return Result{Status: StatusMalformed}
	}
	// A token is valid up to and including its exp instant.
	if now.After(claims.ExpiresAt.Time.Add(c.leeway)) {
		return Result{Status: StatusExpired}
	}

	return Result{Status: StatusValid, Claims: claims}
}

// expiry returns now+ttl rounded up to the whole second exp can carry, so a
// token never expires before its ttl has elapsed.
func expiry(now time.Time, ttl time.Duration) time.Time {
	exp := now.Add(ttl)
	if t := exp.Truncate(time.Second); !t.Equal(exp) {
		return t.Add(time.Second)
	}
	return exp
}

func classify(err error) Status {
	switch {
	case errors.Is(err, errUnsupportedAlg), errors.Is(err, jwt.ErrTokenUnverifiable):
		return StatusUnsupported
	default:
		return StatusMalformed
	}
}
