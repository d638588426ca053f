package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	KeyPrefix             string
	EnableIPThrottle      bool
	EnableRefreshThrottle bool
	MaxLoginAttempts      int
	MaxLoginAttemptsPerIP int
	LoginWindow           time.Duration
	MaxRefreshAttempts    int
	RefreshWindow         time.Duration
}

// Limiter enforces per-identifier and per-IP login budgets, per-user refresh
// budgets and generic API windows using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// Decision is the outcome of a window check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *Limiter) loginKey(identifier string) string {
	return l.config.KeyPrefix + "al:" + identifier
}

func (l *Limiter) loginIPKey(ip string) string {
	return l.config.KeyPrefix + "ali:" + ip
}

func (l *Limiter) refreshKey(userID string) string {
	return l.config.KeyPrefix + "ar:" + userID
}

func (l *Limiter) apiKey(class, client string) string {
	return l.config.KeyPrefix + "aa:" + class + ":" + client
}

// CheckLogin reports ErrRateLimited once the identifier or the IP has used up
// its failure budget for the current window. It does not count an attempt.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	if identifier != "" {
		if err := l.checkCounter(ctx, l.loginKey(identifier), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, l.loginIPKey(ip), l.config.MaxLoginAttemptsPerIP); err != nil {
			return err
		}
	}

	return nil
}

// IncrementLogin records a failed login for the identifier and IP. It returns
// ErrRateLimited when this failure exhausted either budget.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier, ip string) error {
	limited := false
	if identifier != "" {
		count, err := l.incrementWithTTL(ctx, l.loginKey(identifier), l.config.LoginWindow)
		if err != nil {
			return err
		}
		limited = count >= int64(l.config.MaxLoginAttempts)
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err := l.incrementWithTTL(ctx, l.loginIPKey(ip), l.config.LoginWindow)
		if err != nil {
			return err
		}
		limited = limited || count >= int64(l.config.MaxLoginAttemptsPerIP)
	}

	if limited {
		return ErrRateLimited
	}
	return nil
}

// ResetLogin clears the identifier counter after a successful login. The IP
// counter is kept.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	if identifier == "" {
		return nil
	}
	if err := l.redis.Del(ctx, l.loginKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetLoginAttempts returns the current failure counter for an identifier.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) GetLoginAttempts(ctx context.Context, identifier string) (int, error) {
	count, err := l.redis.Get(ctx, l.loginKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// CheckRefresh counts one refresh attempt for the user and enforces the budget.
func (l *Limiter) CheckRefresh(ctx context.Context, userID string) error {
	if !l.config.EnableRefreshThrottle || userID == "" {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, l.refreshKey(userID), l.config.RefreshWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}

	return nil
}

// Allow counts one request for (class, client) against limit per window.
func (l *Limiter) Allow(ctx context.Context, class, client string, limit int, window time.Duration) (Decision, error) {
	key := l.apiKey(class, client)
	count, err := l.incrementWithTTL(ctx, key, window)
	if err != nil {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, err
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
	}
	if d.Allowed {
		return d, nil
	}

	ttl, err := l.redis.PTTL(ctx, key).Result()
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl <= 0 {
		ttl = window
	}
	d.RetryAfter = ttl
	return d, nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
