package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the automatic account lockout.
type LockoutConfig struct {
	Enabled   bool
	KeyPrefix string
	Threshold int
	// Window is the lifetime of the failure counter, started by the first failure.
	Window time.Duration
}

// Lockout counts failed logins per user and sets a persistent lock flag once
// the threshold is reached. Locks never expire on their own.
type Lockout struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockout creates a lockout tracker.
func NewLockout(redisClient redis.UniversalClient, cfg LockoutConfig) *Lockout {
	return &Lockout{redis: redisClient, config: cfg}
}

func (l *Lockout) failureKey(userID string) string {
	return l.config.KeyPrefix + "alf:" + userID
}

func (l *Lockout) lockKey(userID string) string {
	return l.config.KeyPrefix + "alk:" + userID
}

// RecordFailure increments the failure counter and locks the account when the
// threshold is reached. It reports whether this call locked the account.
func (l *Lockout) RecordFailure(ctx context.Context, userID string) (bool, error) {
	if !l.config.Enabled || userID == "" {
		return false, nil
	}

	key := l.failureKey(userID)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 && l.config.Window > 0 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count < int64(l.config.Threshold) {
		return false, nil
	}

	reason := fmt.Sprintf("too many failed login attempts (%d)", count)
	if err := l.Lock(ctx, userID, reason); err != nil {
		return false, err
	}
	return true, nil
}

// Lock sets the lock flag with a reason and clears the failure counter.
func (l *Lockout) Lock(ctx context.Context, userID, reason string) error {
	if userID == "" {
		return nil
	}
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, l.lockKey(userID), reason, 0)
		pipe.Del(ctx, l.failureKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Unlock removes the lock flag and the failure counter.
func (l *Lockout) Unlock(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	if err := l.redis.Del(ctx, l.lockKey(userID), l.failureKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsLocked reports whether the account is locked and why.
func (l *Lockout) IsLocked(ctx context.Context, userID string) (bool, string, error) {
	if userID == "" {
		return false, "", nil
	}
	reason, err := l.redis.Get(ctx, l.lockKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return true, reason, nil
}

// Reset clears the failure counter after a successful login.
func (l *Lockout) Reset(ctx context.Context, userID string) error {
	if !l.config.Enabled || userID == "" {
		return nil
	}
	if err := l.redis.Del(ctx, l.failureKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// FailureCount returns the current failure counter for a user.
func (l *Lockout) FailureCount(ctx context.Context, userID string) (int, error) {
	if !l.config.Enabled || userID == "" {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, l.failureKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}
