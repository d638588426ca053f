package internaldefs

import (
	"github.com/MrEthical07/tokengate"
)

// CounterDef maps a counter to its exported name.
type CounterDef struct {
	ID   tokengate.MetricID
	Name string
	Help string
}

// HistogramDef maps a latency histogram to its exported name.
type HistogramDef struct {
	ID   tokengate.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: tokengate.MetricLoginSuccess, Name: "tokengate_login_success_total", Help: "Token pairs issued at login."},
	{ID: tokengate.MetricLoginFailure, Name: "tokengate_login_failure_total", Help: "Failed logins, including reported credential failures."},
	{ID: tokengate.MetricLoginRateLimited, Name: "tokengate_login_rate_limited_total", Help: "Login attempts refused by the login throttle."},
	{ID: tokengate.MetricLoginLocked, Name: "tokengate_login_locked_total", Help: "Logins refused because the account is locked."},
	{ID: tokengate.MetricRefreshSuccess, Name: "tokengate_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: tokengate.MetricRefreshFailure, Name: "tokengate_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: tokengate.MetricRefreshReplayDetected, Name: "tokengate_refresh_replay_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: tokengate.MetricRefreshRateLimited, Name: "tokengate_refresh_rate_limited_total", Help: "Refresh attempts refused by the refresh throttle."},
	{ID: tokengate.MetricLogout, Name: "tokengate_logout_total", Help: "Single-session logouts."},
	{ID: tokengate.MetricLogoutAll, Name: "tokengate_logout_all_total", Help: "Logout-all operations."},
	{ID: tokengate.MetricSessionRevoked, Name: "tokengate_session_revoked_total", Help: "Sessions revoked remotely."},
	{ID: tokengate.MetricAuthAccepted, Name: "tokengate_auth_accepted_total", Help: "Requests accepted by the authentication gate."},
	{ID: tokengate.MetricAuthRejected, Name: "tokengate_auth_rejected_total", Help: "Requests rejected by the authentication gate."},
	{ID: tokengate.MetricAuthNoToken, Name: "tokengate_auth_no_token_total", Help: "Requests without a bearer token."},
	{ID: tokengate.MetricAuthRevoked, Name: "tokengate_auth_revoked_total", Help: "Requests carrying a revoked access token."},
	{ID: tokengate.MetricAuthStoreUnavailable, Name: "tokengate_auth_store_unavailable_total", Help: "Requests rejected because the revocation store was unavailable."},
	{ID: tokengate.MetricRateLimitHit, Name: "tokengate_rate_limit_hit_total", Help: "Requests denied by an API window."},
	{ID: tokengate.MetricRateLimitStoreError, Name: "tokengate_rate_limit_store_error_total", Help: "Rate limit checks skipped because the store failed."},
	{ID: tokengate.MetricAccountLocked, Name: "tokengate_account_locked_total", Help: "Account lock operations."},
	{ID: tokengate.MetricAccountUnlocked, Name: "tokengate_account_unlocked_total", Help: "Account unlock operations."},
}

var HistogramDefs = []HistogramDef{
	{ID: tokengate.MetricAuthenticateLatency, Name: "tokengate_authenticate_latency_seconds", Help: "Authentication gate latency."},
	{ID: tokengate.MetricLoginLatency, Name: "tokengate_login_latency_seconds", Help: "Login latency."},
	{ID: tokengate.MetricRefreshLatency, Name: "tokengate_refresh_latency_seconds", Help: "Refresh latency."},
}

const (
	ActiveSessionsName = "tokengate_active_sessions"
	ActiveSessionsHelp = "Refresh sessions believed live."

	AuditDroppedName = "tokengate_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramBounds are the upper bounds of the engine's latency buckets in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds spelled for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
