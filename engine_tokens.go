package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
)

const tokenTypeBearer = "Bearer"

// IssueTokens mints an access/refresh pair and stores the refresh token.
// No session metadata is recorded.
func (e *Engine) IssueTokens(ctx context.Context, userID, userUUID, channel, role string) (*TokenResponse, error) {
	return e.issue(ctx, userID, userUUID, channel, role, nil)
}

// IssueTokensWithSession mints a pair and records device metadata for the
// session. The client IP falls back to [WithClientIP] when device carries
// none. A device fingerprint the user has no live session for triggers a
// new-device notification.
func (e *Engine) IssueTokensWithSession(
	ctx context.Context,
	userID, userUUID, channel, role string,
	device DeviceInfo,
) (*TokenResponse, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if device.IPAddress == "" {
		device.IPAddress = ClientIPFromContext(ctx)
	}

	if e.config.Session.NotifyNewDevice {
		e.detectNewDevice(ctx, userID, device)
	}

	meta := session.Metadata{
		DeviceType: device.DeviceType,
		Browser:    device.Browser,
		OS:         device.OS,
		IPAddress:  device.IPAddress,
		Location:   device.Location,
	}
	return e.issue(ctx, userID, userUUID, channel, role, &meta)
}

func (e *Engine) issue(
	ctx context.Context,
	userID, userUUID, channel, role string,
	meta *session.Metadata,
) (*TokenResponse, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	access, err := e.jwt.CreateAccessToken(userID, userUUID, channel, role)
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}
	refresh, err := e.jwt.CreateRefreshToken(userID, userUUID, channel, role)
	if err != nil {
		return nil, fmt.Errorf("create refresh token: %w", err)
	}
	tokenID, err := e.jwt.TokenID(refresh)
	if err != nil {
		return nil, fmt.Errorf("read refresh token id: %w", err)
	}

	ttl := e.jwt.RefreshTTL()
	if meta != nil {
		err = e.sessions.SaveRefreshTokenWithSession(ctx, userID, tokenID, refresh, ttl, *meta)
	} else {
		err = e.sessions.SaveRefreshToken(ctx, userID, tokenID, refresh, ttl)
	}
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricTokensIssued)
	e.emitAudit(ctx, auditEventTokensIssued, true, userID, tokenID, nil, func() map[string]string {
		return map[string]string{"channel": channel, "with_session": boolString(meta != nil)}
	})

	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(e.jwt.AccessTTL() / time.Second),
	}, nil
}

// RefreshTokens rotates a refresh token. The stored copy is consumed
// atomically, so of two concurrent calls with the same token exactly one
// succeeds.
//
// A token that verifies but has no stored copy was already rotated or
// revoked. That is treated as reuse of a stolen token: the presented token
// is blacklisted, every session of the user is revoked and
// [ErrTokenNotFound] is returned.
func (e *Engine) RefreshTokens(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwt.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		err = invalidToken(err)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", err, nil)
		return nil, err
	}
	userID, tokenID := claims.UserID, claims.TokenID()

	meta, err := e.sessions.ConsumeRefreshToken(ctx, userID, tokenID, refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		return nil, e.handleRefreshReuse(ctx, claims)
	}

	// Record the rotated jti as revoked for the rest of its lifetime.
	if err := e.sessions.AddToBlacklist(ctx, tokenID, claims.RemainingTTL(e.now())); err != nil {
		e.logger.Warn("blacklist rotated refresh token", zap.String("user_id", userID), zap.Error(err))
	}

	if meta != nil {
		meta.LastActivity = time.Time{}
	}
	resp, err := e.issue(ctx, userID, claims.UserUUID, claims.Channel, claims.Role, meta)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, userID, tokenID, nil, nil)
	return resp, nil
}

func (e *Engine) handleRefreshReuse(ctx context.Context, claims *jwt.Claims) error {
	userID, tokenID := claims.UserID, claims.TokenID()

	e.metricInc(MetricRefreshReuseDetected)
	e.logger.Warn("refresh token reuse detected, revoking all sessions",
		zap.String("user_id", userID),
		zap.String("token_id", tokenID),
	)

	if err := e.sessions.AddToBlacklist(ctx, tokenID, claims.RemainingTTL(e.now())); err != nil {
		return err
	}
	revoked, err := e.sessions.DeleteAllRefreshTokens(ctx, userID)
	if err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, userID, tokenID, ErrTokenNotFound, func() map[string]string {
		return map[string]string{"revoked_keys": fmt.Sprint(revoked)}
	})
	return ErrTokenNotFound
}

// Logout blacklists the access token for its remaining lifetime and
// deletes the refresh token and session. Either token may be empty or
// already invalid; the call then does what it can and succeeds.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	var userID, sessionID string
	if accessToken != "" {
		if claims, err := e.jwt.ParseAccess(accessToken); err == nil {
			userID = claims.UserID
			if err := e.sessions.AddToBlacklist(ctx, claims.TokenID(), claims.RemainingTTL(e.now())); err != nil {
				return err
			}
		}
	}
	if refreshToken != "" {
		if claims, err := e.jwt.ParseRefresh(refreshToken); err == nil {
			userID, sessionID = claims.UserID, claims.TokenID()
			if _, err := e.sessions.RevokeSession(ctx, userID, sessionID); err != nil {
				return err
			}
		}
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, userID, sessionID, nil, nil)
	return nil
}

// LogoutAll revokes every session of userID and blacklists the caller's
// current access token when one is given. A session created concurrently
// with the call may survive it.
func (e *Engine) LogoutAll(ctx context.Context, userID, currentAccessToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if currentAccessToken != "" {
		if claims, err := e.jwt.ParseAccess(currentAccessToken); err == nil && claims.UserID == userID {
			if err := e.sessions.AddToBlacklist(ctx, claims.TokenID(), claims.RemainingTTL(e.now())); err != nil {
				return err
			}
		}
	}

	n, err := e.sessions.DeleteAllRefreshTokens(ctx, userID)
	if err != nil {
		return err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"revoked_keys": fmt.Sprint(n)}
	})
	return nil
}

// ValidateAccessToken verifies signature, issuer, expiry and type, then
// checks the blacklist. A Redis failure fails closed.
func (e *Engine) ValidateAccessToken(ctx context.Context, token string) (*jwt.Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.jwt.ParseAccess(token)
	if err != nil {
		e.metricInc(MetricAccessRejected)
		return nil, invalidToken(err)
	}

	listed, err := e.sessions.IsBlacklisted(ctx, claims.TokenID())
	if err != nil {
		return nil, err
	}
	if listed {
		e.metricInc(MetricAccessRejected)
		return nil, ErrBlacklisted
	}
	return claims, nil
}

// IsAccessTokenValid is ValidateAccessToken reduced to a boolean; any error,
// including an unavailable store, yields false.
func (e *Engine) IsAccessTokenValid(ctx context.Context, token string) bool {
	_, err := e.ValidateAccessToken(ctx, token)
	return err == nil
}

func (e *Engine) detectNewDevice(ctx context.Context, userID string, device DeviceInfo) {
	fingerprint := internal.DeviceFingerprint(device.DeviceType, device.Browser, device.OS)

	existing, err := e.sessions.GetAllSessions(ctx, userID)
	if err != nil {
		e.logger.Warn("list sessions for device check", zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, s := range existing {
		if internal.DeviceFingerprint(s.DeviceType, s.Browser, s.OS) == fingerprint {
			return
		}
	}

	e.metricInc(MetricNewDeviceDetected)
	e.emitAudit(ctx, auditEventNewDevice, true, userID, "", nil, func() map[string]string {
		return map[string]string{"device_type": device.DeviceType, "browser": device.Browser, "os": device.OS}
	})
	e.background(ctx, "notify:new_device", func(taskCtx context.Context) {
		if err := e.notifier.NewDevice(taskCtx, userID, device); err != nil {
			e.logger.Warn("new device notification failed", zap.String("user_id", userID), zap.Error(err))
		}
	})
}

// invalidToken folds token type mismatches into ErrInvalidToken.
func invalidToken(err error) error {
	if errors.Is(err, jwt.ErrInvalidToken) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
