package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestIssueAndValidateAccessToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	resp, err := env.engine.IssueTokens(ctx, "7", "uuid-7", "EMAIL", "USER")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if resp.TokenType != "Bearer" || resp.ExpiresIn != 1800 {
		t.Fatalf("unexpected response %+v", resp)
	}

	claims, err := env.engine.ValidateAccessToken(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "7" || claims.UserUUID != "uuid-7" || claims.Channel != "EMAIL" || claims.Role != "USER" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := env.engine.ValidateAccessToken(ctx, resp.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token used as access: expected ErrInvalidToken, got %v", err)
	}
	if _, err := env.engine.RefreshTokens(ctx, resp.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token used as refresh: expected ErrInvalidToken, got %v", err)
	}
	if env.engine.IsAccessTokenValid(ctx, "not-a-jwt") {
		t.Fatal("garbage must not validate")
	}
}

func TestAccessTokenExpires(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	resp, err := env.engine.IssueTokensWithSession(ctx, "7", "uuid-7", "EMAIL", "USER", DeviceInfo{Browser: "Firefox"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	env.clock.Advance(29 * time.Minute)
	if _, err := env.engine.ValidateAccessToken(ctx, resp.AccessToken); err != nil {
		t.Fatalf("token rejected before expiry: %v", err)
	}
	env.clock.Advance(2 * time.Minute)
	if _, err := env.engine.ValidateAccessToken(ctx, resp.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}

	// The paired refresh token outlives the access token.
	next, err := env.engine.RefreshTokens(ctx, resp.RefreshToken)
	if err != nil {
		t.Fatalf("refresh after access expiry: %v", err)
	}
	if _, err := env.engine.ValidateAccessToken(ctx, next.AccessToken); err != nil {
		t.Fatalf("rotated access token: %v", err)
	}
}

func TestRefreshRotatesAndCarriesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	device := DeviceInfo{DeviceType: "DESKTOP", Browser: "Firefox", OS: "Linux", IPAddress: "10.0.0.1", Location: "Berlin"}
	first, err := env.engine.IssueTokensWithSession(ctx, "7", "uuid-7", "EMAIL", "USER", device)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	env.clock.Advance(time.Minute)
	second, err := env.engine.RefreshTokens(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected a new refresh token")
	}

	sessions, err := env.engine.ActiveSessions(ctx, "7", "")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected the rotated session only, got %d", len(sessions))
	}
	got := sessions[0]
	if got.Browser != "Firefox" || got.Location != "Berlin" || got.IPAddress != "10.0.0.1" {
		t.Fatalf("metadata not carried forward: %+v", got)
	}
	if !got.LastActivity.Equal(testEpoch.Add(time.Minute)) {
		t.Fatalf("lastActivity = %v, want rotation time", got.LastActivity)
	}
}

func TestConcurrentRefreshHasSingleWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	resp, err := env.engine.IssueTokens(ctx, "7", "uuid-7", "EMAIL", "USER")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.RefreshTokens(ctx, resp.RefreshToken)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrTokenNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful rotation, got %d", wins)
	}
}

func TestRefreshReuseRevokesAllSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	stolen, err := env.engine.IssueTokens(ctx, "7", "uuid-7", "EMAIL", "USER")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other, err := env.engine.IssueTokens(ctx, "7", "uuid-7", "EMAIL", "USER")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := env.engine.RefreshTokens(ctx, stolen.RefreshToken); err != nil {
		t.Fatalf("legitimate rotation: %v", err)
	}

	if _, err := env.engine.RefreshTokens(ctx, stolen.RefreshToken); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound on replay, got %v", err)
	}
	if _, err := env.engine.RefreshTokens(ctx, other.RefreshToken); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected sibling session revoked, got %v", err)
	}
	if keys := env.mr.Keys(); len(keysWithPrefix(keys, "refresh:{7}:")) != 0 {
		t.Fatalf("refresh keys left after reuse: %v", keys)
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got < 1 {
		t.Fatalf("reuse metric = %d", got)
	}
	ev := env.waitAudit(t, auditEventRefreshReuseDetected)
	if ev.UserID != "7" || ev.Success {
		t.Fatalf("unexpected audit event %+v", ev)
	}
}

func TestLogoutBlacklistsAccessAndDropsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	resp, err := env.engine.IssueTokensWithSession(ctx, "7", "uuid-7", "EMAIL", "USER", DeviceInfo{Browser: "Chrome"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := env.engine.Logout(ctx, resp.AccessToken, resp.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := env.engine.ValidateAccessToken(ctx, resp.AccessToken); !errors.Is(err, ErrBlacklisted) {
		t.Fatalf("expected ErrBlacklisted, got %v", err)
	}
	sessions, err := env.engine.ActiveSessions(ctx, "7", "")
	if err != nil || len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %v %v", sessions, err)
	}

	// Logging out twice, or with garbage, is not an error.
	if err := env.engine.Logout(ctx, resp.AccessToken, resp.RefreshToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if err := env.engine.Logout(ctx, "junk", ""); err != nil {
		t.Fatalf("junk logout: %v", err)
	}
}

func TestLogoutAllOnlyBlacklistsOwnAccessToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	mine, err := env.engine.IssueTokens(ctx, "7", "uuid-7", "EMAIL", "USER")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	theirs, err := env.engine.IssueTokens(ctx, "8", "uuid-8", "EMAIL", "ADMIN")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := env.engine.LogoutAll(ctx, "7", theirs.AccessToken); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if _, err := env.engine.ValidateAccessToken(ctx, theirs.AccessToken); err != nil {
		t.Fatalf("another user's token must stay valid: %v", err)
	}
	if _, err := env.engine.RefreshTokens(ctx, theirs.RefreshToken); err != nil {
		t.Fatalf("another user's session must survive: %v", err)
	}

	if err := env.engine.LogoutAll(ctx, "7", mine.AccessToken); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if _, err := env.engine.ValidateAccessToken(ctx, mine.AccessToken); !errors.Is(err, ErrBlacklisted) {
		t.Fatalf("expected own token blacklisted, got %v", err)
	}
}

func TestValidateFailsClosedWhenRedisDown(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	resp, err := env.engine.IssueTokens(ctx, "7", "uuid-7", "EMAIL", "USER")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	env.mr.Close()

	if _, err := env.engine.ValidateAccessToken(ctx, resp.AccessToken); !errors.Is(err, ErrSessionStoreUnavailable) {
		t.Fatalf("expected ErrSessionStoreUnavailable, got %v", err)
	}
	if env.engine.IsAccessTokenValid(ctx, resp.AccessToken) {
		t.Fatal("unavailable store must not validate")
	}
	if _, err := env.engine.IssueTokens(ctx, "7", "uuid-7", "EMAIL", "USER"); !errors.Is(err, ErrSessionStoreUnavailable) {
		t.Fatalf("issue must fail closed, got %v", err)
	}
}

func TestNewDeviceNotification(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	laptop := DeviceInfo{DeviceType: "DESKTOP", Browser: "Firefox", OS: "Linux"}
	if _, err := env.engine.IssueTokensWithSession(ctx, "7", "uuid-7", "EMAIL", "USER", laptop); err != nil {
		t.Fatalf("issue: %v", err)
	}
	select {
	case got := <-env.notes.devices:
		if got.Browser != "Firefox" {
			t.Fatalf("unexpected device %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a new-device notification for the first session")
	}

	laptop.IPAddress = "10.9.9.9"
	if _, err := env.engine.IssueTokensWithSession(ctx, "7", "uuid-7", "EMAIL", "USER", laptop); err != nil {
		t.Fatalf("issue: %v", err)
	}
	phone := DeviceInfo{DeviceType: "MOBILE", Browser: "Safari", OS: "iOS"}
	if _, err := env.engine.IssueTokensWithSession(ctx, "7", "uuid-7", "EMAIL", "USER", phone); err != nil {
		t.Fatalf("issue: %v", err)
	}
	select {
	case got := <-env.notes.devices:
		if got.Browser != "Safari" {
			t.Fatalf("known device notified again: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a notification for the phone")
	}
}

func TestSessionIPFallsBackToContext(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Session.NotifyNewDevice = false })
	ctx := WithClientIP(context.Background(), "192.0.2.10")

	if _, err := env.engine.IssueTokensWithSession(ctx, "7", "uuid-7", "EMAIL", "USER", DeviceInfo{Browser: "Edge"}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	sessions, err := env.engine.ActiveSessions(ctx, "7", "")
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions: %v %v", sessions, err)
	}
	if sessions[0].IPAddress != "192.0.2.10" {
		t.Fatalf("ip = %q", sessions[0].IPAddress)
	}
}

func keysWithPrefix(keys []string, prefix string) []string {
	var out []string
	for _, k := range keys {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out
}
