package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/ipaccess"
	"github.com/MrEthical07/authcore/passkey"
	"github.com/MrEthical07/authcore/twofactor"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

type apiError struct {
	status int
	code   string
}

// errorTable maps Engine errors to responses; the first match wins.
var errorTable = []struct {
	target error
	apiError
}{
	{authcore.ErrInvalidToken, apiError{http.StatusUnauthorized, "INVALID_TOKEN"}},
	{authcore.ErrTokenNotFound, apiError{http.StatusUnauthorized, "INVALID_TOKEN"}},
	{authcore.ErrBlacklisted, apiError{http.StatusUnauthorized, "TOKEN_REVOKED"}},
	{authcore.ErrSignatureVerification, apiError{http.StatusUnauthorized, "PASSKEY_VERIFICATION_FAILED"}},
	{authcore.ErrIPBlocked, apiError{http.StatusForbidden, "IP_BLOCKED"}},
	{authcore.ErrAccountUnavailable, apiError{http.StatusForbidden, "ACCOUNT_UNAVAILABLE"}},
	{authcore.ErrAccountLocked, apiError{http.StatusLocked, "ACCOUNT_LOCKED"}},
	{authcore.ErrRateLimited, apiError{http.StatusTooManyRequests, "RATE_LIMITED"}},
	{authcore.ErrMFAThrottled, apiError{http.StatusTooManyRequests, "MFA_THROTTLED"}},
	{authcore.ErrMFAInvalidCode, apiError{http.StatusBadRequest, "INVALID_CODE"}},
	{twofactor.ErrInvalidCode, apiError{http.StatusBadRequest, "INVALID_CODE"}},
	{twofactor.ErrAlreadyEnabled, apiError{http.StatusConflict, "TOTP_ALREADY_ENABLED"}},
	{twofactor.ErrNotSetup, apiError{http.StatusBadRequest, "TOTP_NOT_SETUP"}},
	{twofactor.ErrNotEnabled, apiError{http.StatusBadRequest, "TOTP_NOT_ENABLED"}},
	{authcore.ErrChallengeExpiredOrMissing, apiError{http.StatusBadRequest, "CHALLENGE_EXPIRED"}},
	{passkey.ErrRegistrationFailed, apiError{http.StatusBadRequest, "PASSKEY_REGISTRATION_FAILED"}},
	{passkey.ErrInvalidName, apiError{http.StatusBadRequest, "INVALID_NAME"}},
	{passkey.ErrLimitExceeded, apiError{http.StatusConflict, "PASSKEY_LIMIT_EXCEEDED"}},
	{passkey.ErrCredentialExists, apiError{http.StatusConflict, "PASSKEY_EXISTS"}},
	{ipaccess.ErrInvalidRule, apiError{http.StatusBadRequest, "INVALID_RULE"}},
	{authcore.ErrUserNotFound, apiError{http.StatusNotFound, "USER_NOT_FOUND"}},
	{authcore.ErrSessionNotFound, apiError{http.StatusNotFound, "SESSION_NOT_FOUND"}},
	{passkey.ErrCredentialNotFound, apiError{http.StatusNotFound, "PASSKEY_NOT_FOUND"}},
	{ipaccess.ErrRuleNotFound, apiError{http.StatusNotFound, "RULE_NOT_FOUND"}},
	{authcore.ErrNotConfigured, apiError{http.StatusNotImplemented, "NOT_CONFIGURED"}},
	{authcore.ErrSessionStoreUnavailable, apiError{http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"}},
	{authcore.ErrLockoutUnavailable, apiError{http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"}},
	{authcore.ErrIPRuleStoreUnavailable, apiError{http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"}},
	{authcore.ErrMFAStoreUnavailable, apiError{http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"}},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func (a *API) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Code: "INTERNAL_ERROR", Message: "internal error"}
	status := http.StatusInternalServerError
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			status, body.Code, body.Message = e.status, e.code, e.target.Error()
			break
		}
	}

	var limited *authcore.RateLimitedError
	if errors.As(err, &limited) {
		secs := int(math.Ceil(limited.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	var locked *authcore.AccountLockedError
	if errors.As(err, &locked) {
		body.Reason = locked.Reason
	}

	if status >= http.StatusInternalServerError {
		a.logger.Warn("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return false
	}
	return true
}
