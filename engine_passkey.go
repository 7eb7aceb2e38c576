package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/passkey"
)

// PasskeyRegistrationOptions starts a registration ceremony for user.
func (e *Engine) PasskeyRegistrationOptions(ctx context.Context, user passkey.User) (*passkey.RegistrationOptions, error) {
	if err := e.requirePasskeys(); err != nil {
		return nil, err
	}
	opts, err := e.passkeys.RegistrationOptions(ctx, user)
	return opts, mfaStoreErr(err)
}

// RegisterPasskey verifies an attestation and stores the credential.
func (e *Engine) RegisterPasskey(
	ctx context.Context,
	userID string,
	resp passkey.RegistrationResponse,
	deviceName string,
) (*passkey.Credential, error) {
	if err := e.requirePasskeys(); err != nil {
		return nil, err
	}

	cred, err := e.passkeys.VerifyRegistration(ctx, userID, resp, deviceName)
	if err != nil {
		return nil, mfaStoreErr(err)
	}

	e.metricInc(MetricPasskeyRegistered)
	e.emitAudit(ctx, auditEventPasskeyRegistered, true, userID, "", nil, func() map[string]string {
		return map[string]string{"device_name": cred.DeviceName}
	})
	return cred, nil
}

// PasskeyLoginOptions starts a login ceremony. The returned SessionID must
// be echoed back to VerifyPasskeyLogin.
func (e *Engine) PasskeyLoginOptions(ctx context.Context) (*passkey.AuthenticationOptions, error) {
	if err := e.requirePasskeys(); err != nil {
		return nil, err
	}
	opts, err := e.passkeys.AuthenticationOptions(ctx)
	return opts, mfaStoreErr(err)
}

// VerifyPasskeyLogin verifies an assertion and, for an account that is
// neither locked nor removed, issues a session-aware token pair with the
// owner's role and the configured passkey channel.
func (e *Engine) VerifyPasskeyLogin(
	ctx context.Context,
	sessionID string,
	resp passkey.AuthenticationResponse,
	device DeviceInfo,
) (*TokenResponse, error) {
	if err := e.requirePasskeys(); err != nil {
		return nil, err
	}
	if e.directory == nil {
		return nil, ErrNotConfigured
	}

	cred, err := e.passkeys.VerifyAuthentication(ctx, sessionID, resp)
	if err != nil {
		e.metricInc(MetricPasskeyLoginFailure)
		err = mfaStoreErr(err)
		e.emitAudit(ctx, auditEventPasskeyLogin, false, "", sessionID, err, nil)
		return nil, err
	}

	if err := e.checkAccount(ctx, cred.UserID); err != nil {
		e.metricInc(MetricPasskeyLoginFailure)
		e.emitAudit(ctx, auditEventPasskeyLogin, false, cred.UserID, sessionID, err, nil)
		return nil, err
	}

	user, err := e.directory.LookupUser(ctx, cred.UserID)
	if err != nil {
		e.metricInc(MetricPasskeyLoginFailure)
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, statusStoreErr(err)
	}

	tokens, err := e.IssueTokensWithSession(ctx, user.UserID, user.UserUUID, e.config.Passkey.TokenChannel, user.Role, device)
	if err != nil {
		e.metricInc(MetricPasskeyLoginFailure)
		return nil, err
	}

	e.metricInc(MetricPasskeyLoginSuccess)
	e.emitAudit(ctx, auditEventPasskeyLogin, true, cred.UserID, sessionID, nil, nil)
	return tokens, nil
}

// ListPasskeys returns the passkeys registered by userID.
func (e *Engine) ListPasskeys(ctx context.Context, userID string) ([]passkey.Credential, error) {
	if err := e.requirePasskeys(); err != nil {
		return nil, err
	}
	creds, err := e.passkeys.List(ctx, userID)
	return creds, mfaStoreErr(err)
}

// HasPasskeys reports whether userID has a passkey. It reports false when
// no passkey store is configured.
func (e *Engine) HasPasskeys(ctx context.Context, userID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	if e.passkeys == nil {
		return false, nil
	}
	ok, err := e.passkeys.HasPasskeys(ctx, userID)
	return ok, mfaStoreErr(err)
}

// RenamePasskey renames a credential owned by userID.
func (e *Engine) RenamePasskey(ctx context.Context, userID string, id int64, name string) error {
	if err := e.requirePasskeys(); err != nil {
		return err
	}
	return mfaStoreErr(e.passkeys.Rename(ctx, userID, id, name))
}

// DeletePasskey removes a credential owned by userID.
func (e *Engine) DeletePasskey(ctx context.Context, userID string, id int64) error {
	if err := e.requirePasskeys(); err != nil {
		return err
	}
	if err := e.passkeys.Delete(ctx, userID, id); err != nil {
		return mfaStoreErr(err)
	}
	e.emitAudit(ctx, auditEventPasskeyDeleted, true, userID, "", nil, nil)
	return nil
}

func (e *Engine) requirePasskeys() error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.passkeys == nil {
		return ErrNotConfigured
	}
	return nil
}
