package authcore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// RecordFailedAttempt counts one failed login for userID. When the count
// reaches Lockout.MaxFailedAttempts inside the window the account is
// locked automatically and the user notified. It reports whether the
// account is locked after the call.
//
// Accounts that are already locked, deleted or pending deletion are left
// untouched.
func (e *Engine) RecordFailedAttempt(ctx context.Context, userID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}

	status, err := e.userStatus(ctx, userID)
	if err != nil {
		return false, err
	}
	if status == AccountLocked || status.Removed() {
		return status == AccountLocked, nil
	}

	count, reached, err := e.lockout.RecordFailure(ctx, userID)
	if err != nil {
		return false, err
	}
	if !reached {
		return false, nil
	}

	reason := fmt.Sprintf("Login failed %d consecutive times; account automatically locked.", count)
	locked, err := e.lock(ctx, userID, reason, true)
	if err != nil {
		return false, err
	}
	return locked, nil
}

// LockAccount locks userID on behalf of an administrator. No notification
// is sent. Locking an account that is already locked, deleted or pending
// deletion is a no-op.
func (e *Engine) LockAccount(ctx context.Context, userID, reason string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	_, err := e.lock(ctx, userID, reason, false)
	return err
}

func (e *Engine) lock(ctx context.Context, userID, reason string, auto bool) (bool, error) {
	status, err := e.userStatus(ctx, userID)
	if err != nil {
		return false, err
	}
	if status == AccountLocked || status.Removed() {
		return status == AccountLocked, nil
	}

	// Only the caller holding the claim moves the account to LOCKED, so
	// concurrent lockers audit and notify once.
	claimed, err := e.lockout.Claim(ctx, userID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return true, nil
	}
	if err := e.users.SetUserStatus(ctx, userID, AccountLocked); err != nil {
		if rerr := e.lockout.Release(ctx, userID); rerr != nil {
			e.logger.Warn("release lock claim", zap.String("user_id", userID), zap.Error(rerr))
		}
		return false, statusStoreErr(err)
	}
	if err := e.lockout.SetReason(ctx, userID, reason); err != nil {
		return true, err
	}

	if auto {
		e.metricInc(MetricAccountLockedAuto)
	} else {
		e.metricInc(MetricAccountLockedManual)
	}
	e.logger.Warn("account locked",
		zap.String("user_id", userID),
		zap.String("reason", reason),
		zap.Bool("auto", auto),
	)
	e.emitAudit(ctx, auditEventAccountLocked, true, userID, "", nil, func() map[string]string {
		trigger := "manual"
		if auto {
			trigger = "auto"
		}
		return map[string]string{"reason": reason, "trigger": trigger}
	})

	if e.config.Session.RevokeOnLock {
		if _, err := e.sessions.DeleteAllRefreshTokens(ctx, userID); err != nil {
			e.logger.Warn("revoke sessions of locked account", zap.String("user_id", userID), zap.Error(err))
		}
	}

	if auto {
		e.background(ctx, "notify:account_locked", func(taskCtx context.Context) {
			if err := e.notifier.AccountLocked(taskCtx, userID, reason); err != nil {
				e.logger.Warn("account lock notification failed", zap.String("user_id", userID), zap.Error(err))
			}
		})
	}
	return true, nil
}

// UnlockAccount restores a LOCKED account to ACTIVE and clears the lock
// reason and failure counter. Other statuses are left alone.
func (e *Engine) UnlockAccount(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	status, err := e.userStatus(ctx, userID)
	if err != nil {
		return err
	}
	if status != AccountLocked {
		return nil
	}

	if err := e.users.SetUserStatus(ctx, userID, AccountActive); err != nil {
		return statusStoreErr(err)
	}
	if err := e.lockout.Clear(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricAccountUnlocked)
	e.logger.Info("account unlocked", zap.String("user_id", userID))
	e.emitAudit(ctx, auditEventAccountUnlocked, true, userID, "", nil, nil)
	return nil
}

// ClearFailedAttempts resets the failure counter after a successful login.
func (e *Engine) ClearFailedAttempts(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.lockout.Reset(ctx, userID)
}

// FailedAttempts returns the failed logins counted for userID in the
// current window. The counter resets when the account is locked.
func (e *Engine) FailedAttempts(ctx context.Context, userID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	return e.lockout.FailureCount(ctx, userID)
}

// LockReason returns the reason stored by the last lock, or "".
func (e *Engine) LockReason(ctx context.Context, userID string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	return e.lockout.Reason(ctx, userID)
}

// checkAccount fails with *AccountLockedError for a locked account and
// ErrAccountUnavailable for a removed one.
func (e *Engine) checkAccount(ctx context.Context, userID string) error {
	status, err := e.userStatus(ctx, userID)
	if err != nil {
		return err
	}
	switch {
	case status == AccountLocked:
		reason, err := e.lockout.Reason(ctx, userID)
		if err != nil {
			return err
		}
		return &AccountLockedError{Reason: reason}
	case status.Removed():
		return ErrAccountUnavailable
	}
	return nil
}

func (e *Engine) userStatus(ctx context.Context, userID string) (AccountStatus, error) {
	status, err := e.users.UserStatus(ctx, userID)
	if err != nil {
		return "", statusStoreErr(err)
	}
	return status, nil
}

func statusStoreErr(err error) error {
	if errors.Is(err, ErrUserNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
}
