package tokengate

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

func buildAuditTestEngine(t *testing.T, mutate func(*Config), sink AuditSink) (*Engine, func()) {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr, rdb := newTestRedis(t)
	log, _ := test.NewNullLogger()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(log).
		WithAuditSink(sink).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return engine, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func collectEvents(sink *ChannelSink, want int) []AuditEvent {
	events := make([]AuditEvent, 0, want)
	timeout := time.After(2 * time.Second)
	for len(events) < want {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			return events
		}
	}
	return events
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	engine, done := buildAuditTestEngine(t, func(c *Config) {
		c.Audit.Enabled = false
	}, sink)
	defer done()

	if _, err := engine.Login(WithClientIP(context.Background(), "203.0.113.1"), testUser()); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditLoginEventCarriesRequestMetadata(t *testing.T) {
	sink := NewChannelSink(8)
	engine, done := buildAuditTestEngine(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.BufferSize = 16
	}, sink)
	defer done()

	ua := "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	pair, err := engine.Login(loginCtx("198.51.100.33", ua), testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	events := collectEvents(sink, 1)
	if len(events) != 1 {
		t.Fatal("expected a login audit event")
	}
	ev := events[0]
	if ev.EventType != AuditEventLoginSuccess || !ev.Success {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.IP != "198.51.100.33" || ev.UserAgent != ua {
		t.Fatalf("request metadata missing: ip=%q ua=%q", ev.IP, ev.UserAgent)
	}
	if ev.UserID != "u1" || ev.Channel != "WEB" {
		t.Fatalf("unexpected subject: %+v", ev)
	}
	if ev.TokenID == "" || ev.TokenID == pair.RefreshToken {
		t.Fatalf("expected the refresh token id, got %q", ev.TokenID)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("expected timestamp")
	}
}

func TestAuditReplayEvent(t *testing.T) {
	sink := NewChannelSink(16)
	engine, done := buildAuditTestEngine(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.DropIfFull = false
	}, sink)
	defer done()

	ctx := context.Background()
	pair, err := engine.Login(ctx, testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	_, _ = engine.Refresh(ctx, pair.RefreshToken)

	events := collectEvents(sink, 3)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	replay := events[2]
	if replay.EventType != AuditEventRefreshReplayDetected {
		t.Fatalf("expected replay event, got %q", replay.EventType)
	}
	if replay.Success || replay.Error != string(auditErrRefreshReplay) {
		t.Fatalf("unexpected replay event %+v", replay)
	}
	if replay.Metadata["revoked"] != "1" {
		t.Fatalf("expected revoked=1, got %q", replay.Metadata["revoked"])
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := NewChannelSink(32)
	engine, done := buildAuditTestEngine(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.BufferSize = 32
		c.Audit.DropIfFull = false
	}, sink)
	defer done()

	ctx := context.Background()
	pair, err := engine.Login(ctx, testUser())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	next, err := engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	engine.Logout(ctx, next.AccessToken, next.RefreshToken)

	secretNeedles := []string{
		testSecret,
		pair.AccessToken,
		pair.RefreshToken,
		next.AccessToken,
		next.RefreshToken,
	}

	events := collectEvents(sink, 3)
	if len(events) == 0 {
		t.Fatal("expected at least one audit event")
	}

	for _, ev := range events {
		for _, needle := range secretNeedles {
			if strings.Contains(ev.Error, needle) {
				t.Fatalf("sensitive value leaked in audit error field: %q", needle)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("sensitive value leaked in audit metadata: %q", needle)
				}
			}
		}
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: AuditEventLoginSuccess,
		UserID:    "u1",
		IP:        "127.0.0.1",
		Success:   true,
	})

	if !buf.Contains("login_success") {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !buf.Contains("\"user_id\":\"u1\"") {
		t.Fatal("expected JSON log line to contain user id")
	}
}

func TestAuditLogSinkWritesThroughLogger(t *testing.T) {
	log, hook := test.NewNullLogger()
	sink := NewLogSink(log)
	sink.Emit(context.Background(), AuditEvent{
		EventType: AuditEventAccountLocked,
		UserID:    "u1",
		Success:   true,
	})

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Level > logrus.InfoLevel {
		t.Fatalf("unexpected level %s", entry.Level)
	}
	if entry.Data["event"] != AuditEventAccountLocked || entry.Data["user_id"] != "u1" {
		t.Fatalf("unexpected fields %v", entry.Data)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(b.buf.String(), v)
}
