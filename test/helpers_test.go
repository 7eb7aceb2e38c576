//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
)

var testSecret = []byte("integration-secret-0123456789abcdef")

// redisMode is one Redis backend the suite runs against.
type redisMode struct {
	name  string
	setup func(t *testing.T) redis.UniversalClient
}

// redisModes always includes miniredis. A real standalone server is added
// when REDIS_ADDR is set (e.g. "127.0.0.1:6379"); its DB is flushed around
// each test.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{{
		name: "miniredis",
		setup: func(t *testing.T) redis.UniversalClient {
			t.Helper()
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return rdb
		},
	}}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				t.Cleanup(func() {
					rdb.FlushDB(context.Background())
					_ = rdb.Close()
				})
				return rdb
			},
		})
	}
	return modes
}

// users is an in-memory status store where every known user starts ACTIVE.
type users struct {
	mu     sync.Mutex
	status map[string]authcore.AccountStatus
}

func newUsers(ids ...string) *users {
	u := &users{status: make(map[string]authcore.AccountStatus, len(ids))}
	for _, id := range ids {
		u.status[id] = authcore.AccountActive
	}
	return u
}

func (u *users) UserStatus(_ context.Context, userID string) (authcore.AccountStatus, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	s, ok := u.status[userID]
	if !ok {
		return "", authcore.ErrUserNotFound
	}
	return s, nil
}

func (u *users) SetUserStatus(_ context.Context, userID string, status authcore.AccountStatus) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.status[userID]; !ok {
		return authcore.ErrUserNotFound
	}
	u.status[userID] = status
	return nil
}

func newEngine(t *testing.T, rdb redis.UniversalClient, mutate func(*authcore.Config)) *authcore.Engine {
	t.Helper()
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = append([]byte(nil), testSecret...)
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStatusStore(newUsers("u1", "u2")).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func issue(t *testing.T, engine *authcore.Engine, userID string) *authcore.TokenResponse {
	t.Helper()
	tokens, err := engine.IssueTokensWithSession(context.Background(), userID, "", "email", "USER",
		authcore.DeviceInfo{DeviceType: "Desktop", Browser: "Firefox", OS: "Linux", IPAddress: "192.0.2.10"})
	if err != nil {
		t.Fatalf("issue tokens: %v", err)
	}
	return tokens
}
