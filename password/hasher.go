package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"

	// MinPasswordBytes is the shortest password Hash accepts.
	MinPasswordBytes = 10
	// DefaultMaxPasswordBytes applies when Params.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024
)

var (
	// ErrMismatch is returned by Verify when the password does not match.
	ErrMismatch = errors.New("password: mismatch")
	// ErrMalformedHash is returned for hashes that are neither argon2id PHC
	// strings nor bcrypt hashes.
	ErrMalformedHash = errors.New("password: malformed hash")
	ErrTooShort      = errors.New("password: too short")
	ErrTooLong       = errors.New("password: too long")
)

// Params are the argon2id cost parameters.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MaxPasswordBytes bounds the input to Hash and Verify.
	MaxPasswordBytes int
}

// DefaultParams returns the interactive login profile.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes new passwords with argon2id. Verify also accepts bcrypt hashes
// so stored credentials can be migrated on the next successful login.
type Hasher struct {
	params Params
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func NewHasher(p Params) (*Hasher, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.MaxPasswordBytes == 0 {
		p.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Hasher{params: p}, nil
}

// Hash returns a PHC encoded argon2id hash:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < MinPasswordBytes {
		return "", ErrTooShort
	}
	if len(password) > h.params.MaxPasswordBytes {
		return "", ErrTooLong
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify returns nil when password matches encoded and ErrMismatch when it
// does not. Other errors mean encoded could not be used.
func (h *Hasher) Verify(password, encoded string) error {
	if len(password) > h.params.MaxPasswordBytes {
		return ErrTooLong
	}

	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		switch {
		case err == nil:
			return nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return ErrMismatch
		default:
			return fmt.Errorf("%w: %v", ErrMalformedHash, err)
		}
	}

	parsed, err := parsePHC(encoded)
	if err != nil {
		return err
	}
	key := argon2.IDKey([]byte(password), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.hash)))
	if subtle.ConstantTimeCompare(key, parsed.hash) != 1 {
		return ErrMismatch
	}
	return nil
}

// NeedsRehash reports whether encoded was produced by bcrypt or with weaker
// argon2id parameters than the hasher's.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return true, nil
	}
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return h.params.Memory > parsed.memory ||
		h.params.Time > parsed.time ||
		h.params.Parallelism > parsed.parallelism ||
		h.params.KeyLength != uint32(len(parsed.hash)), nil
}

func isBcrypt(encoded string) bool {
	_, err := bcrypt.Cost([]byte(encoded))
	return err == nil
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, ErrMalformedHash
	}
	if parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedHash, parts[1])
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, fmt.Errorf("%w: missing version", ErrMalformedHash)
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, version)
	}

	out, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(out.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if out.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(out.hash) < int(minKeyLength) {
		return nil, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return out, nil
}

func parseParams(part string) (*phc, error) {
	var (
		out  phc
		seen int
	)
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, fmt.Errorf("%w: parameters", ErrMalformedHash)
	}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q", ErrMalformedHash, pair)
		}
		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || uint32(n) < minMemoryKB {
				return nil, fmt.Errorf("%w: memory", ErrMalformedHash)
			}
			out.memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || uint32(n) < minTimeCost {
				return nil, fmt.Errorf("%w: time", ErrMalformedHash)
			}
			out.time = uint32(n)
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || uint8(n) < minParallelism {
				return nil, fmt.Errorf("%w: parallelism", ErrMalformedHash)
			}
			out.parallelism = uint8(n)
		default:
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, k)
		}
		seen++
	}
	if out.memory == 0 || out.time == 0 || out.parallelism == 0 || seen != 3 {
		return nil, fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}
	return &out, nil
}

func (p Params) validate() error {
	switch {
	case p.Memory < minMemoryKB:
		return fmt.Errorf("password: memory must be >= %d KiB", minMemoryKB)
	case p.Time < minTimeCost:
		return errors.New("password: time must be >= 1")
	case p.Parallelism < minParallelism:
		return errors.New("password: parallelism must be >= 1")
	case p.SaltLength < minSaltLength:
		return fmt.Errorf("password: salt length must be >= %d", minSaltLength)
	case p.KeyLength < minKeyLength:
		return fmt.Errorf("password: key length must be >= %d", minKeyLength)
	case p.MaxPasswordBytes < 0 || (p.MaxPasswordBytes > 0 && p.MaxPasswordBytes < MinPasswordBytes):
		return fmt.Errorf("password: max password bytes must be 0 or >= %d", MinPasswordBytes)
	}
	return nil
}
