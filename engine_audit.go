package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventTokensIssued         = "tokens_issued"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventLogoutSession        = "logout_session"
	auditEventLogoutAll            = "logout_all"
	auditEventSessionRevoked       = "session_revoked"
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginBlocked         = "login_blocked"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
	auditEventAccountLocked        = "account_locked"
	auditEventAccountUnlocked      = "account_unlocked"
	auditEventIPRuleCreated        = "ip_rule_created"
	auditEventIPRuleDeleted        = "ip_rule_deleted"
	auditEventIPAutoBlocked        = "ip_auto_blocked"
	auditEventTOTPSetupRequested   = "totp_setup_requested"
	auditEventTOTPEnabled          = "totp_enabled"
	auditEventTOTPDisabled         = "totp_disabled"
	auditEventTOTPSuccess          = "totp_success"
	auditEventTOTPFailure          = "totp_failure"
	auditEventBackupCodesGenerated = "backup_codes_generated"
	auditEventPasskeyRegistered    = "passkey_registered"
	auditEventPasskeyLogin         = "passkey_login"
	auditEventPasskeyDeleted       = "passkey_deleted"
	auditEventNewDevice            = "new_device_detected"
)

// AuditErrorCode is the stable error vocabulary of audit events.
type AuditErrorCode string

const (
	auditErrInvalidToken    AuditErrorCode = "invalid_token"
	auditErrTokenNotFound   AuditErrorCode = "token_not_found"
	auditErrBlacklisted     AuditErrorCode = "blacklisted"
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrAccountLocked   AuditErrorCode = "account_locked"
	auditErrAccountRemoved  AuditErrorCode = "account_unavailable"
	auditErrIPBlocked       AuditErrorCode = "ip_blocked"
	auditErrMFAInvalid      AuditErrorCode = "mfa_invalid"
	auditErrMFAThrottled    AuditErrorCode = "mfa_throttled"
	auditErrChallenge       AuditErrorCode = "challenge_expired"
	auditErrSignature       AuditErrorCode = "signature_verification"
	auditErrSessionNotFound AuditErrorCode = "session_not_found"
	auditErrUserNotFound    AuditErrorCode = "user_not_found"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrInternal        AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, retryAfter time.Duration) {
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"scope":       scope,
			"retry_after": retryAfter.Round(time.Second).String(),
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenNotFound):
		return auditErrTokenNotFound
	case errors.Is(err, ErrBlacklisted):
		return auditErrBlacklisted
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountUnavailable):
		return auditErrAccountRemoved
	case errors.Is(err, ErrIPBlocked):
		return auditErrIPBlocked
	case errors.Is(err, ErrMFAInvalidCode):
		return auditErrMFAInvalid
	case errors.Is(err, ErrMFAThrottled):
		return auditErrMFAThrottled
	case errors.Is(err, ErrChallengeExpiredOrMissing):
		return auditErrChallenge
	case errors.Is(err, ErrSignatureVerification):
		return auditErrSignature
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrSessionStoreUnavailable),
		errors.Is(err, ErrLockoutUnavailable),
		errors.Is(err, ErrIPRuleStoreUnavailable),
		errors.Is(err, ErrMFAStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
