package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/twofactor"
)

// SetupTOTP provisions an unconfirmed secret and returns it with the
// otpauth URL and a QR code data URL.
func (e *Engine) SetupTOTP(ctx context.Context, userID, accountName string) (*twofactor.SetupResult, error) {
	if err := e.requireTOTP(); err != nil {
		return nil, err
	}

	res, err := e.totp.Setup(ctx, userID, accountName)
	if err != nil {
		return nil, mfaErr(err)
	}
	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, userID, "", nil, nil)
	return res, nil
}

// EnableTOTP confirms the pending secret and returns the backup codes.
// Wrong codes count against the verify throttle.
func (e *Engine) EnableTOTP(ctx context.Context, userID, code string) ([]string, error) {
	if err := e.requireTOTP(); err != nil {
		return nil, err
	}
	if err := e.mfaThrottle(ctx, userID); err != nil {
		return nil, err
	}

	codes, err := e.totp.Enable(ctx, userID, code)
	if err != nil {
		return nil, e.mfaFailure(ctx, userID, err)
	}
	e.mfaReset(ctx, userID)

	e.metricInc(MetricTOTPEnabled)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, userID, "", nil, nil)
	return codes, nil
}

// DisableTOTP turns the second factor off after checking a TOTP code.
func (e *Engine) DisableTOTP(ctx context.Context, userID, code string) error {
	if err := e.requireTOTP(); err != nil {
		return err
	}
	if err := e.mfaThrottle(ctx, userID); err != nil {
		return err
	}

	if err := e.totp.Disable(ctx, userID, code); err != nil {
		return e.mfaFailure(ctx, userID, err)
	}
	e.mfaReset(ctx, userID)

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, userID, "", nil, nil)
	return nil
}

// RegenerateBackupCodes replaces every backup code of userID after checking
// a fresh TOTP code, and returns the new codes in clear.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if err := e.requireTOTP(); err != nil {
		return nil, err
	}
	if err := e.mfaThrottle(ctx, userID); err != nil {
		return nil, err
	}

	codes, err := e.totp.RegenerateBackupCodes(ctx, userID, code)
	if err != nil {
		return nil, e.mfaFailure(ctx, userID, err)
	}
	e.mfaReset(ctx, userID)

	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, "", nil, nil)
	return codes, nil
}

// VerifyMFA checks code as a TOTP code, then as a single-use backup code.
// Users without two-factor enabled pass. After MaxVerifyAttempts wrong
// codes the user is throttled with [ErrMFAThrottled] until the reset
// window passes.
func (e *Engine) VerifyMFA(ctx context.Context, userID, code string) error {
	if err := e.requireTOTP(); err != nil {
		return err
	}
	if err := e.mfaThrottle(ctx, userID); err != nil {
		return err
	}

	ok, err := e.totp.VerifyCode(ctx, userID, code)
	if err != nil {
		return mfaErr(err)
	}
	if !ok {
		return e.mfaFailure(ctx, userID, twofactor.ErrInvalidCode)
	}
	e.mfaReset(ctx, userID)

	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPSuccess, true, userID, "", nil, nil)
	return nil
}

// RequiresMFA reports whether userID must pass a second factor. Without a
// two-factor store nobody does.
func (e *Engine) RequiresMFA(ctx context.Context, userID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	if e.totp == nil {
		return false, nil
	}
	on, err := e.totp.IsRequired(ctx, userID)
	return on, mfaErr(err)
}

// TOTPStatus reports whether 2FA is enabled for userID, how many backup
// codes remain, and when a code was last accepted.
func (e *Engine) TOTPStatus(ctx context.Context, userID string) (twofactor.Status, error) {
	if err := e.requireTOTP(); err != nil {
		return twofactor.Status{}, err
	}
	st, err := e.totp.Status(ctx, userID)
	return st, mfaErr(err)
}

func (e *Engine) requireTOTP() error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.totp == nil {
		return ErrNotConfigured
	}
	return nil
}

func (e *Engine) mfaThrottle(ctx context.Context, userID string) error {
	if err := e.mfaAttempts.Check(ctx, userID); err != nil {
		if errors.Is(err, ErrMFAThrottled) {
			e.emitAudit(ctx, auditEventTOTPFailure, false, userID, "", err, nil)
			return err
		}
		return mfaStoreErr(err)
	}
	return nil
}

// mfaFailure counts a wrong code against the throttle and maps err.
func (e *Engine) mfaFailure(ctx context.Context, userID string, err error) error {
	if !errors.Is(err, twofactor.ErrInvalidCode) {
		return mfaErr(err)
	}
	e.metricInc(MetricTOTPFailure)
	if rerr := e.mfaAttempts.RecordFailure(ctx, userID); rerr != nil {
		return mfaStoreErr(rerr)
	}
	err = mfaErr(err)
	e.emitAudit(ctx, auditEventTOTPFailure, false, userID, "", err, nil)
	return err
}

func (e *Engine) mfaReset(ctx context.Context, userID string) {
	if err := e.mfaAttempts.Reset(ctx, userID); err != nil {
		e.logger.Debug("reset mfa attempts failed")
	}
}

// mfaErr maps a wrong two-factor code to ErrMFAInvalidCode, keeping the
// package error in the chain, and folds store failures.
func mfaErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, twofactor.ErrInvalidCode) {
		return fmt.Errorf("%w: %w", ErrMFAInvalidCode, err)
	}
	return mfaStoreErr(err)
}
