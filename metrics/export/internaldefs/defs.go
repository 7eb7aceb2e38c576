package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricTokensIssued, Name: "authcore_tokens_issued_total", Help: "Issued access/refresh token pairs."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation or revocation."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Sessions revoked by id."},
	{ID: authcore.MetricAccessRejected, Name: "authcore_access_rejected_total", Help: "Access tokens rejected as invalid or blacklisted."},
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed logins."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Logins rejected by the email or IP limit."},
	{ID: authcore.MetricAPIRateLimited, Name: "authcore_api_rate_limited_total", Help: "Requests rejected by an API tier limit."},
	{ID: authcore.MetricAccountLockedAuto, Name: "authcore_account_locked_auto_total", Help: "Accounts locked after repeated failures."},
	{ID: authcore.MetricAccountLockedManual, Name: "authcore_account_locked_manual_total", Help: "Accounts locked by an administrator."},
	{ID: authcore.MetricAccountUnlocked, Name: "authcore_account_unlocked_total", Help: "Accounts unlocked."},
	{ID: authcore.MetricIPBlocked, Name: "authcore_ip_blocked_total", Help: "Requests from blocked IPs."},
	{ID: authcore.MetricIPRuleCreated, Name: "authcore_ip_rule_created_total", Help: "IP rules created."},
	{ID: authcore.MetricIPRuleDeleted, Name: "authcore_ip_rule_deleted_total", Help: "IP rules deleted."},
	{ID: authcore.MetricIPAutoBlocked, Name: "authcore_ip_auto_blocked_total", Help: "IPs blocked automatically."},
	{ID: authcore.MetricIPRulesExpired, Name: "authcore_ip_rules_expired_total", Help: "IP rules deactivated by cleanup."},
	{ID: authcore.MetricTOTPSuccess, Name: "authcore_totp_success_total", Help: "Accepted second-factor codes."},
	{ID: authcore.MetricTOTPFailure, Name: "authcore_totp_failure_total", Help: "Rejected second-factor codes."},
	{ID: authcore.MetricTOTPEnabled, Name: "authcore_totp_enabled_total", Help: "Two-factor enablements."},
	{ID: authcore.MetricTOTPDisabled, Name: "authcore_totp_disabled_total", Help: "Two-factor disablements."},
	{ID: authcore.MetricPasskeyRegistered, Name: "authcore_passkey_registered_total", Help: "Passkeys registered."},
	{ID: authcore.MetricPasskeyLoginSuccess, Name: "authcore_passkey_login_success_total", Help: "Successful passkey logins."},
	{ID: authcore.MetricPasskeyLoginFailure, Name: "authcore_passkey_login_failure_total", Help: "Failed passkey logins."},
	{ID: authcore.MetricNewDeviceDetected, Name: "authcore_new_device_detected_total", Help: "Logins from a device fingerprint not seen in live sessions."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access token validation latency."},
}

const (
	AuditDroppedName = "authcore_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the background runner was full."

	FailOpenName = "authcore_ratelimit_fail_open_total"
	FailOpenHelp = "Rate limit checks allowed because Redis was unavailable."
)

// HistogramUpperBounds are the bucket bounds in seconds. The last bucket
// is +Inf and has no entry.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters
// that publish one gauge per bucket.
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

// NormalizeBuckets pads or truncates raw to the eight engine buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
