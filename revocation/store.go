package revocation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps every Redis failure, including operation timeouts.
var ErrStoreUnavailable = errors.New("revocation store unavailable")

// ErrNotFound is returned by lookups whose key does not exist.
var ErrNotFound = errors.New("revocation entry not found")

const (
	// DefaultOperationTimeout bounds a single store round trip.
	DefaultOperationTimeout = 250 * time.Millisecond
	// DefaultScanBatchSize is the SCAN COUNT hint used by bulk operations.
	DefaultScanBatchSize = 500
)

const touchSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  redis.call("HSET", KEYS[1], "lastActivity", ARGV[1])
  return 1
end
return 0
`

var touchSessionLua = redis.NewScript(touchSessionScript)

// Config configures a Store.
type Config struct {
	KeyPrefix        string
	OperationTimeout time.Duration
	ScanBatchSize    int
}

// Store is the Redis-backed revocation state. It is safe for concurrent use.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	timeout time.Duration
	batch   int64
}

// NewStore creates a Store on top of client. Zero Config fields take defaults.
func NewStore(client redis.UniversalClient, cfg Config) *Store {
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	batch := cfg.ScanBatchSize
	if batch <= 0 {
		batch = DefaultScanBatchSize
	}
	return &Store{
		redis:   client,
		prefix:  cfg.KeyPrefix,
		timeout: timeout,
		batch:   int64(batch),
	}
}

func (s *Store) refreshKey(userID, tokenID string) string {
	return s.prefix + "refresh:" + userID + ":" + tokenID
}

func (s *Store) sessionKey(userID, tokenID string) string {
	return s.prefix + "session:" + userID + ":" + tokenID
}

func (s *Store) blacklistKey(tokenID string) string {
	return s.prefix + "blacklist:" + tokenID
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// PutRefreshToken registers a refresh token. Writing the same entry twice is harmless.
func (s *Store) PutRefreshToken(ctx context.Context, userID, tokenID, value string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.redis.Set(ctx, s.refreshKey(userID, tokenID), value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Register writes the refresh entry and its session metadata in one pipeline.
// The two writes are not transactional.
func (s *Store) Register(ctx context.Context, value string, sess Session, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sessionKey := s.sessionKey(sess.UserID, sess.TokenID)
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.refreshKey(sess.UserID, sess.TokenID), value, ttl)
		pipe.HSet(ctx, sessionKey, sess.fields())
		pipe.PExpire(ctx, sessionKey, ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// GetRefreshToken returns the stored refresh token, or ErrNotFound.
func (s *Store) GetRefreshToken(ctx context.Context, userID, tokenID string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	v, err := s.redis.Get(ctx, s.refreshKey(userID, tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", unavailable(err)
	}
	return v, nil
}

// ExistsRefreshToken reports whether the refresh entry is still registered.
func (s *Store) ExistsRefreshToken(ctx context.Context, userID, tokenID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.redis.Exists(ctx, s.refreshKey(userID, tokenID)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// TakeRefreshToken atomically reads and deletes a refresh entry (GETDEL).
// Of two concurrent callers for the same entry at most one receives the value;
// the other gets ErrNotFound.
func (s *Store) TakeRefreshToken(ctx context.Context, userID, tokenID string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	v, err := s.redis.GetDel(ctx, s.refreshKey(userID, tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", unavailable(err)
	}
	return v, nil
}

// DeleteRefreshToken removes a refresh entry and its session hash. It reports
// whether the refresh entry existed.
func (s *Store) DeleteRefreshToken(ctx context.Context, userID, tokenID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.redis.Del(ctx, s.refreshKey(userID, tokenID)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	if err := s.redis.Del(ctx, s.sessionKey(userID, tokenID)).Err(); err != nil {
		return n == 1, unavailable(err)
	}
	return n == 1, nil
}

// DeleteAllRefreshTokens removes every refresh entry and session hash of a user
// and returns how many refresh entries were deleted. Each SCAN/DEL round trip is
// bounded by the operation timeout; an entry written concurrently may survive.
func (s *Store) DeleteAllRefreshTokens(ctx context.Context, userID string) (int, error) {
	removed, err := s.deleteMatching(ctx, s.prefix+"refresh:"+escapeGlob(userID)+":*")
	if err != nil {
		return removed, err
	}
	if _, err := s.deleteMatching(ctx, s.prefix+"session:"+escapeGlob(userID)+":*"); err != nil {
		return removed, err
	}
	return removed, nil
}

// CountRefreshTokens counts every registered refresh entry. It is O(keyspace)
// and meant for periodic gauge reconciliation, not request paths.
func (s *Store) CountRefreshTokens(ctx context.Context) (int64, error) {
	var total int64
	err := s.scan(ctx, s.prefix+"refresh:*", func(keys []string) error {
		total += int64(len(keys))
		return nil
	})
	return total, err
}

// BlacklistAccessToken marks an access token id as revoked for remaining.
// A non-positive remaining is a no-op: the token is already unusable.
func (s *Store) BlacklistAccessToken(ctx context.Context, tokenID string, remaining time.Duration) error {
	if remaining <= 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.redis.Set(ctx, s.blacklistKey(tokenID), "1", remaining).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// IsBlacklisted reports whether the token id is currently revoked.
func (s *Store) IsBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.redis.Exists(ctx, s.blacklistKey(tokenID)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// SaveSession writes session metadata with the given ttl.
func (s *Store) SaveSession(ctx context.Context, sess Session, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := s.sessionKey(sess.UserID, sess.TokenID)
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, sess.fields())
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// GetSession returns one session, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, userID, tokenID string) (Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	h, err := s.redis.HGetAll(ctx, s.sessionKey(userID, tokenID)).Result()
	if err != nil {
		return Session{}, unavailable(err)
	}
	if len(h) == 0 {
		return Session{}, ErrNotFound
	}
	return sessionFromHash(userID, tokenID, h), nil
}

// DeleteSession removes session metadata only.
func (s *Store) DeleteSession(ctx context.Context, userID, tokenID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.redis.Del(ctx, s.sessionKey(userID, tokenID)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// TouchSession updates lastActivity of an existing session. Missing sessions
// are not recreated.
func (s *Store) TouchSession(ctx context.Context, userID, tokenID string, at time.Time) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := touchSessionLua.Run(ctx, s.redis, []string{s.sessionKey(userID, tokenID)}, at.UTC().Format(time.RFC3339)).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// ListSessions returns all sessions of a user, most recently active first.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	prefix := s.prefix + "session:" + userID + ":"

	var keys []string
	err := s.scan(ctx, s.prefix+"session:"+escapeGlob(userID)+":*", func(batch []string) error {
		keys = append(keys, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []Session{}, nil
	}

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(opCtx, key)
	}
	if _, err := pipe.Exec(opCtx); err != nil {
		return nil, unavailable(err)
	}

	sessions := make([]Session, 0, len(keys))
	for i, cmd := range cmds {
		h, err := cmd.Result()
		if err != nil {
			return nil, unavailable(err)
		}
		if len(h) == 0 {
			continue
		}
		sessions = append(sessions, sessionFromHash(userID, strings.TrimPrefix(keys[i], prefix), h))
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	return sessions, nil
}

// Ping checks availability and returns the round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

func (s *Store) deleteMatching(ctx context.Context, pattern string) (int, error) {
	var removed int
	err := s.scan(ctx, pattern, func(keys []string) error {
		opCtx, cancel := s.withTimeout(ctx)
		defer cancel()

		n, err := s.redis.Del(opCtx, keys...).Result()
		if err != nil {
			return unavailable(err)
		}
		removed += int(n)
		return nil
	})
	return removed, err
}

func (s *Store) scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		opCtx, cancel := s.withTimeout(ctx)
		keys, next, err := s.redis.Scan(opCtx, cursor, pattern, s.batch).Result()
		cancel()
		if err != nil {
			return unavailable(err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func escapeGlob(v string) string {
	if !strings.ContainsAny(v, `*?[]\`) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v) + 4)
	for _, r := range v {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
