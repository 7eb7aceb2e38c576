package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/ipaccess"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/storage/sqlstore"
)

func newPipelineEngine(t *testing.T) *authcore.Engine {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: filepath.Join(t.TempDir(), "auth.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate(ctx)
	require.NoError(t, err)

	users := sqlstore.NewUserStore(db)
	require.NoError(t, users.Upsert(ctx, authcore.UserRef{UserID: "7", UserUUID: "u-7", Role: "USER"}, authcore.AccountActive))

	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.RateLimit.AuthMax = 2

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStatusStore(users).
		WithIPRuleStore(sqlstore.NewRuleStore(db)).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func pipeline(engine *authcore.Engine) http.Handler {
	protected := middleware.Guard(engine)(middleware.UserRateLimit(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.ClaimsFromContext(r.Context())
		_, _ = w.Write([]byte(claims.UserID))
	})))
	mux := http.NewServeMux()
	mux.Handle("/api/v1/users/me", protected)
	mux.HandleFunc("/api/v1/auth/email/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return middleware.RequestContext(middleware.IPFilter(engine)(middleware.RateLimit(engine, nil)(mux)))
}

func TestPipelineWithEngine(t *testing.T) {
	engine := newPipelineEngine(t)
	h := pipeline(engine)
	ctx := context.Background()

	tokens, err := engine.IssueTokens(ctx, "7", "u-7", "EMAIL", "USER")
	require.NoError(t, err)

	get := func(ip, token string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		r.RemoteAddr = ip + ":1234"
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	rec := get("192.0.2.1", tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "7", rec.Body.String())
	require.Equal(t, "200", rec.Header().Get("X-RateLimit-Limit"))

	require.Equal(t, http.StatusUnauthorized, get("192.0.2.1", "").Code)

	require.NoError(t, engine.Logout(ctx, tokens.AccessToken, tokens.RefreshToken))
	rec = get("192.0.2.1", tokens.AccessToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), middleware.CodeTokenRevoked)

	_, err = engine.CreateIPRule(ctx, ipaccess.RuleRequest{IPAddress: "198.51.100.66", Type: ipaccess.RuleBlock, Reason: "abuse"})
	require.NoError(t, err)
	rec = get("198.51.100.66", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), middleware.CodeIPBlocked)
}

func TestPipelineAuthTierLimit(t *testing.T) {
	h := pipeline(newPipelineEngine(t))

	login := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/email/login", nil)
		r.RemoteAddr = "192.0.2.8:999"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	require.Equal(t, http.StatusNoContent, login().Code)
	require.Equal(t, http.StatusNoContent, login().Code)
	rec := login()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}
