package tokengate

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestSecurityInvariantReplayRevokesAllSessions(t *testing.T) {
	te, done := newTestEngine(t, nil)
	defer done()

	ctx := context.Background()
	phone, err := te.Login(ctx, testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	laptop, err := te.Login(ctx, testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	rotated, err := te.Refresh(ctx, phone.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	if _, err := te.Refresh(ctx, phone.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated on replay, got %v", err)
	}
	if _, err := te.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("rotated token must die with the replay, got %v", err)
	}
	if _, err := te.Refresh(ctx, laptop.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("other sessions must die with the replay, got %v", err)
	}

	if keys := te.mr.Keys(); containsPrefix(keys, "refresh:u1:") || containsPrefix(keys, "session:u1:") {
		t.Fatalf("expected no refresh or session keys after replay, got %v", keys)
	}
	if got := te.MetricsSnapshot().Counters[MetricRefreshReplayDetected]; got != 1 {
		t.Fatalf("expected 1 replay detected, got %d", got)
	}
	if got := te.MetricsSnapshot().ActiveSessions; got != 0 {
		t.Fatalf("expected 0 active sessions after replay, got %d", got)
	}

	warned := false
	for _, entry := range te.logs.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["event"] == AuditEventRefreshReplayDetected {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a warning for the replay")
	}
}

func TestSecurityInvariantReplayWithoutRevokeAll(t *testing.T) {
	te, done := newTestEngine(t, func(c *Config) {
		c.Security.RevokeAllOnReplay = false
	})
	defer done()

	ctx := context.Background()
	first, err := te.Login(ctx, testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	rotated, err := te.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if _, err := te.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated on replay, got %v", err)
	}
	if _, err := te.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("rotated token must survive when revoke-all is off: %v", err)
	}
}

func TestSecurityInvariantLogoutAllKeepsAccessTokensUntilExpiry(t *testing.T) {
	te, done := newTestEngine(t, nil)
	defer done()

	ctx := context.Background()
	a, err := te.Login(ctx, testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	b, err := te.Login(ctx, testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := te.LogoutAll(ctx, "u1"); err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}

	for _, p := range []TokenPair{a, b} {
		if _, err := te.Refresh(ctx, p.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("expected refresh to fail after logout-all, got %v", err)
		}
		if _, outcome := te.Authenticate(ctx, p.AccessToken); !outcome.Authenticated() {
			t.Fatalf("access token must stay valid until expiry, got %s", outcome)
		}
	}

	sessions, err := te.ListSessions(ctx, "u1", "")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}
}

func TestSecurityInvariantLogoutAllWithCurrentRevokesCaller(t *testing.T) {
	te, done := newTestEngine(t, nil)
	defer done()

	ctx := context.Background()
	a, err := te.Login(ctx, testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	b, err := te.Login(ctx, testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := te.LogoutAllWithCurrent(ctx, "u1", a.AccessToken); err != nil {
		t.Fatalf("LogoutAllWithCurrent failed: %v", err)
	}
	if _, outcome := te.Authenticate(ctx, a.AccessToken); outcome != OutcomeRejectedRevoked {
		t.Fatalf("expected caller access token revoked, got %s", outcome)
	}
	if _, outcome := te.Authenticate(ctx, b.AccessToken); !outcome.Authenticated() {
		t.Fatalf("other access tokens stay valid, got %s", outcome)
	}
}

func TestSecurityInvariantLogoutAllIgnoresForeignAccessToken(t *testing.T) {
	te, done := newTestEngine(t, nil)
	defer done()

	ctx := context.Background()
	other := testUser()
	other.ID = "u2"
	foreign, err := te.Login(ctx, other)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := te.Login(ctx, testUser()); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := te.LogoutAllWithCurrent(ctx, "u1", foreign.AccessToken); err != nil {
		t.Fatalf("LogoutAllWithCurrent failed: %v", err)
	}
	if _, outcome := te.Authenticate(ctx, foreign.AccessToken); !outcome.Authenticated() {
		t.Fatalf("another user's token must not be revoked, got %s", outcome)
	}
	if _, err := te.Refresh(ctx, foreign.RefreshToken); err != nil {
		t.Fatalf("another user's session must survive: %v", err)
	}
}

func TestSecurityInvariantGateFailsClosed(t *testing.T) {
	te, done := newTestEngine(t, nil)
	defer done()

	pair, err := te.Login(context.Background(), testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	te.mr.SetError("LOADING Redis is loading the dataset in memory")
	if _, outcome := te.Authenticate(context.Background(), pair.AccessToken); outcome != OutcomeRejectedStoreUnavailable {
		t.Fatalf("expected store unavailable rejection, got %s", outcome)
	}
	if _, err := te.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricAuthStoreUnavailable]; got != 1 {
		t.Fatalf("expected 1 store-unavailable rejection, got %d", got)
	}

	te.mr.SetError("")
	if _, outcome := te.Authenticate(context.Background(), pair.AccessToken); !outcome.Authenticated() {
		t.Fatalf("expected recovery once the store is back, got %s", outcome)
	}
}

func TestSecurityInvariantGateFailsClosedWhenStoreGone(t *testing.T) {
	te, done := newTestEngine(t, func(c *Config) {
		c.Store.OperationTimeout = 50 * time.Millisecond
	})
	defer done()

	pair, err := te.Login(context.Background(), testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	te.mr.Close()
	if _, outcome := te.Authenticate(context.Background(), pair.AccessToken); outcome != OutcomeRejectedStoreUnavailable {
		t.Fatalf("expected store unavailable rejection, got %s", outcome)
	}
}

// hungRedis accepts connections and never answers.
func hungRedis(t *testing.T) (string, func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	return ln.Addr().String(), func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	}
}

func TestSecurityInvariantGateFailsClosedWhenStoreHangs(t *testing.T) {
	te, done := newTestEngine(t, nil)
	defer done()

	pair, err := te.Login(context.Background(), testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	addr, stop := hungRedis(t)
	defer stop()
	rdb := redis.NewClient(&redis.Options{
		Addr:                  addr,
		Protocol:              2,
		ContextTimeoutEnabled: true,
		MaxRetries:            -1,
	})
	defer rdb.Close()

	cfg := testConfig()
	cfg.Store.OperationTimeout = 50 * time.Millisecond
	log, _ := test.NewNullLogger()
	hung, err := New().WithConfig(cfg).WithRedis(rdb).WithLogger(log).WithClock(te.clock.Now).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer hung.Close()

	start := time.Now()
	_, outcome := hung.Authenticate(context.Background(), pair.AccessToken)
	elapsed := time.Since(start)

	if outcome != OutcomeRejectedStoreUnavailable {
		t.Fatalf("expected store unavailable rejection, got %s", outcome)
	}
	if elapsed > time.Second {
		t.Fatalf("gate waited %v, expected the operation timeout to apply", elapsed)
	}
}

func TestSecurityInvariantLoginFailsWhenStoreDown(t *testing.T) {
	te, done := newTestEngine(t, nil)
	defer done()

	te.mr.SetError("READONLY")
	if _, err := te.Login(context.Background(), testUser()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if got := te.MetricsSnapshot().ActiveSessions; got != 0 {
		t.Fatalf("failed login must not count a session, got %d", got)
	}
}

func TestSecurityInvariantLockedAccount(t *testing.T) {
	te, done := newTestEngine(t, nil)
	defer done()

	ctx := context.Background()
	pair, err := te.Login(ctx, testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := te.LockAccount(ctx, "u1", "admin"); err != nil {
		t.Fatalf("LockAccount failed: %v", err)
	}
	locked, reason, err := te.IsAccountLocked(ctx, "u1")
	if err != nil || !locked || reason != "admin" {
		t.Fatalf("expected locked with reason admin, got locked=%v reason=%q err=%v", locked, reason, err)
	}

	if _, err := te.Login(ctx, testUser()); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected refresh refused while locked, got %v", err)
	}
	if _, outcome := te.Authenticate(ctx, pair.AccessToken); !outcome.Authenticated() {
		t.Fatalf("issued access tokens stay valid while locked, got %s", outcome)
	}

	if err := te.UnlockAccount(ctx, "u1"); err != nil {
		t.Fatalf("UnlockAccount failed: %v", err)
	}
	if _, err := te.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh after unlock failed: %v", err)
	}
	if _, err := te.Login(ctx, testUser()); err != nil {
		t.Fatalf("login after unlock failed: %v", err)
	}
}

func TestSecurityInvariantLoginThrottle(t *testing.T) {
	te, done := newTestEngine(t, func(c *Config) {
		c.RateLimit.MaxLoginAttempts = 3
		c.Lockout.Enabled = false
	})
	defer done()

	ctx := WithClientIP(context.Background(), "203.0.113.50")
	for i := 0; i < 2; i++ {
		if err := te.CheckLoginAllowed(ctx, "alice@example.com"); err != nil {
			t.Fatalf("attempt %d: unexpected throttle: %v", i, err)
		}
		if err := te.RecordLoginFailure(ctx, "alice@example.com", "u1"); err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
	}
	if err := te.RecordLoginFailure(ctx, "alice@example.com", "u1"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited on the last failure, got %v", err)
	}
	if err := te.CheckLoginAllowed(ctx, "alice@example.com"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}
	if err := te.CheckLoginAllowed(ctx, "bob@example.com"); err != nil {
		t.Fatalf("other identifiers must not be throttled: %v", err)
	}

	if _, err := te.Login(ctx, testUser()); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := te.CheckLoginAllowed(ctx, "alice@example.com"); err != nil {
		t.Fatalf("successful login must clear the identifier throttle: %v", err)
	}
}

func TestSecurityInvariantLoginThrottleFailsOpen(t *testing.T) {
	te, done := newTestEngine(t, nil)
	defer done()

	te.mr.SetError("READONLY")
	if err := te.CheckLoginAllowed(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("login throttle must fail open, got %v", err)
	}
	if err := te.RecordLoginFailure(context.Background(), "alice@example.com", ""); err != nil {
		t.Fatalf("uncounted failure must not be reported, got %v", err)
	}
}

func TestSecurityInvariantAutomaticLockout(t *testing.T) {
	te, done := newTestEngine(t, func(c *Config) {
		c.Lockout.Threshold = 3
		c.RateLimit.MaxLoginAttempts = 100
	})
	defer done()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := te.RecordLoginFailure(ctx, "alice@example.com", "u1"); err != nil {
			t.Fatalf("failure %d: unexpected error %v", i, err)
		}
	}
	if err := te.RecordLoginFailure(ctx, "alice@example.com", "u1"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if _, err := te.Login(ctx, testUser()); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected login refused, got %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricAccountLocked]; got != 1 {
		t.Fatalf("expected 1 account locked, got %d", got)
	}
}

func TestSecurityInvariantRefreshThrottle(t *testing.T) {
	te, done := newTestEngine(t, func(c *Config) {
		c.Security.MaxRefreshAttempts = 2
	})
	defer done()

	ctx := context.Background()
	pair, err := te.Login(ctx, testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		pair, err = te.Refresh(ctx, pair.RefreshToken)
		if err != nil {
			t.Fatalf("refresh %d failed: %v", i, err)
		}
	}
	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected throttled refresh, got %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricRefreshRateLimited]; got != 1 {
		t.Fatalf("expected 1 throttled refresh, got %d", got)
	}
}

func TestSecurityInvariantListSessionsMarksCurrent(t *testing.T) {
	te, done := newTestEngine(t, nil)
	defer done()

	firefox := "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	ipad := "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

	desk, err := te.Login(loginCtx("10.0.0.1", firefox), testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	te.clock.Advance(time.Minute)
	if _, err := te.Login(loginCtx("10.0.0.2", ipad), testUser()); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	id, outcome := te.Authenticate(context.Background(), desk.AccessToken)
	if !outcome.Authenticated() {
		t.Fatalf("authenticate failed: %s", outcome)
	}

	sessions, err := te.ListSessions(context.Background(), id.UserID, id.SessionID)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].DeviceType != "Tablet" || sessions[0].OS != "iOS" || sessions[0].Current {
		t.Fatalf("expected the newer tablet session first and not current, got %+v", sessions[0])
	}
	if sessions[1].DeviceType != "Desktop" || sessions[1].Browser != "Firefox" || sessions[1].OS != "Linux" || !sessions[1].Current {
		t.Fatalf("expected the desktop session marked current, got %+v", sessions[1])
	}
}

func TestSecurityInvariantMalformedUserIDRejected(t *testing.T) {
	te, done := newTestEngine(t, nil)
	defer done()

	ctx := context.Background()
	if _, err := te.ListSessions(ctx, "u1:*", ""); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if err := te.LogoutAll(ctx, "u1:x"); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if err := te.LockAccount(ctx, "", "x"); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}

func containsPrefix(keys []string, prefix string) bool {
	for _, k := range keys {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
