package authcore

import (
	"context"
)

// ActiveSessions lists the live sessions of userID, most recently active
// first. currentSessionID, usually the refresh jti of the caller, marks the
// matching entry with IsCurrent.
func (e *Engine) ActiveSessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	sessions, err := e.sessions.GetAllSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			SessionID:    s.SessionID,
			DeviceType:   s.DeviceType,
			Browser:      s.Browser,
			OS:           s.OS,
			IPAddress:    s.IPAddress,
			Location:     s.Location,
			LastActivity: s.LastActivity,
			IsCurrent:    currentSessionID != "" && s.SessionID == currentSessionID,
		})
	}
	return out, nil
}

// RevokeSession ends one session of userID. It returns [ErrSessionNotFound]
// when nothing was deleted.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	revoked, err := e.sessions.RevokeSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if !revoked {
		return ErrSessionNotFound
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, userID, sessionID, nil, nil)
	return nil
}

// TouchSession stamps lastActivity on a live session. It reports false
// when the session is gone; an expired session is never recreated.
func (e *Engine) TouchSession(ctx context.Context, userID, sessionID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	return e.sessions.UpdateSessionActivity(ctx, userID, sessionID)
}
