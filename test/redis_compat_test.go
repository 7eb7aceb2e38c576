//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/authcore"
)

func TestRedisCompat_RefreshReuseRevokesSessions(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			engine := newEngine(t, mode.setup(t), nil)
			first := issue(t, engine, "u1")
			other := issue(t, engine, "u1")

			rotated, err := engine.RefreshTokens(ctx, first.RefreshToken)
			if err != nil {
				t.Fatalf("rotate: %v", err)
			}
			if _, err := engine.RefreshTokens(ctx, first.RefreshToken); !errors.Is(err, authcore.ErrTokenNotFound) {
				t.Fatalf("replayed refresh: got %v, want ErrTokenNotFound", err)
			}

			// Reuse revokes every session of the user, including the
			// legitimate rotation and the unrelated device.
			for _, token := range []string{rotated.RefreshToken, other.RefreshToken} {
				if _, err := engine.RefreshTokens(ctx, token); !errors.Is(err, authcore.ErrTokenNotFound) {
					t.Fatalf("refresh after reuse: got %v, want ErrTokenNotFound", err)
				}
			}
			sessions, err := engine.ActiveSessions(ctx, "u1", "")
			if err != nil {
				t.Fatalf("sessions: %v", err)
			}
			if len(sessions) != 0 {
				t.Fatalf("expected no sessions after reuse, got %d", len(sessions))
			}
		})
	}
}

func TestRedisCompat_LogoutIsIdempotent(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			engine := newEngine(t, mode.setup(t), nil)
			tokens := issue(t, engine, "u1")

			for i := 0; i < 2; i++ {
				if err := engine.Logout(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil {
					t.Fatalf("logout %d: %v", i, err)
				}
			}
			if _, err := engine.ValidateAccessToken(ctx, tokens.AccessToken); !errors.Is(err, authcore.ErrBlacklisted) {
				t.Fatalf("validate after logout: got %v, want ErrBlacklisted", err)
			}
		})
	}
}

func TestRedisCompat_LockoutCounter(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			engine := newEngine(t, mode.setup(t), func(cfg *authcore.Config) {
				cfg.Lockout.MaxFailedAttempts = 3
				cfg.RateLimit.LoginEmailMax = 10
			})

			for i := 1; i <= 3; i++ {
				locked, err := engine.RecordLoginFailure(ctx, "u2@example.com", "192.0.2.20", "u2")
				if err != nil {
					t.Fatalf("failure %d: %v", i, err)
				}
				if locked != (i == 3) {
					t.Fatalf("failure %d: locked=%v", i, locked)
				}
			}

			_, err := engine.CheckLogin(ctx, "u2@example.com", "192.0.2.20", "u2")
			var lockErr *authcore.AccountLockedError
			if !errors.As(err, &lockErr) {
				t.Fatalf("check login: got %v, want AccountLockedError", err)
			}

			if err := engine.UnlockAccount(ctx, "u2"); err != nil {
				t.Fatalf("unlock: %v", err)
			}
			n, err := engine.FailedAttempts(ctx, "u2")
			if err != nil {
				t.Fatalf("failed attempts: %v", err)
			}
			if n != 0 {
				t.Fatalf("failed attempts after unlock = %d, want 0", n)
			}
		})
	}
}

func TestRedisCompat_APIRateLimit(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			engine := newEngine(t, mode.setup(t), func(cfg *authcore.Config) {
				cfg.RateLimit.AuthMax = 2
			})

			for i := 0; i < 2; i++ {
				if d := engine.AllowRequest(ctx, authcore.TierAuth, "192.0.2.30"); !d.Allowed {
					t.Fatalf("request %d denied", i)
				}
			}
			d := engine.AllowRequest(ctx, authcore.TierAuth, "192.0.2.30")
			if d.Allowed {
				t.Fatal("third request allowed")
			}
			if d.RetryAfter <= 0 {
				t.Fatalf("retry after = %s, want > 0", d.RetryAfter)
			}
			if d := engine.AllowRequest(ctx, authcore.TierAuth, "192.0.2.31"); !d.Allowed {
				t.Fatal("other ip denied")
			}
		})
	}
}
