package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewStore(rdb), mr, rdb
}

func TestSaveGetDeleteRefreshToken(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveRefreshToken(ctx, "7", "tid-1", "tok", time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.GetRefreshToken(ctx, "7", "tid-1")
	if err != nil || got != "tok" {
		t.Fatalf("get: %q %v", got, err)
	}
	if ttl := mr.TTL("refresh:{7}:tid-1"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", ttl)
	}
	ok, err := store.ExistsRefreshToken(ctx, "7", "tid-1")
	if err != nil || !ok {
		t.Fatalf("exists: %v %v", ok, err)
	}

	if err := store.DeleteRefreshToken(ctx, "7", "tid-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteRefreshToken(ctx, "7", "tid-1"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if _, err := store.GetRefreshToken(ctx, "7", "tid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBlacklistSkipsNonPositiveTTL(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.AddToBlacklist(ctx, "expired", 0); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	if err := store.AddToBlacklist(ctx, "negative", -time.Second); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	if mr.Exists("blacklist:expired") || mr.Exists("blacklist:negative") {
		t.Fatal("expected no blacklist entry for non-positive ttl")
	}

	if err := store.AddToBlacklist(ctx, "live", 10*time.Minute); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	listed, err := store.IsBlacklisted(ctx, "live")
	if err != nil || !listed {
		t.Fatalf("expected blacklisted, got %v %v", listed, err)
	}
	if ttl := mr.TTL("blacklist:live"); ttl != 10*time.Minute {
		t.Fatalf("blacklist ttl = %v", ttl)
	}

	mr.FastForward(11 * time.Minute)
	listed, err = store.IsBlacklisted(ctx, "live")
	if err != nil || listed {
		t.Fatalf("expected entry to expire with the token, got %v %v", listed, err)
	}
}

func TestSessionHashMirrorsRefreshTTL(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()

	meta := Metadata{DeviceType: "MOBILE", Browser: "Safari", OS: "iOS", IPAddress: "10.0.0.1", Location: "Seoul"}
	if err := store.SaveRefreshTokenWithSession(ctx, "7", "tid-1", "tok", 2*time.Hour, meta); err != nil {
		t.Fatalf("save with session: %v", err)
	}
	if mr.TTL("session:{7}:tid-1") != mr.TTL("refresh:{7}:tid-1") {
		t.Fatalf("ttl mismatch: session %v refresh %v", mr.TTL("session:{7}:tid-1"), mr.TTL("refresh:{7}:tid-1"))
	}

	sess, err := store.GetSession(ctx, "7", "tid-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Browser != "Safari" || sess.IPAddress != "10.0.0.1" || sess.LastActivity.IsZero() {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestUpdateSessionActivityDoesNotResurrect(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()

	touched, err := store.UpdateSessionActivity(ctx, "7", "gone")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if touched {
		t.Fatal("expected missing session not to be touched")
	}
	if mr.Exists("session:{7}:gone") {
		t.Fatal("touch must not create a session hash")
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clocked := store.WithClock(func() time.Time { return base })
	if err := clocked.SaveRefreshTokenWithSession(ctx, "7", "tid-1", "tok", time.Hour, Metadata{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	later := store.WithClock(func() time.Time { return base.Add(5 * time.Minute) })
	touched, err = later.UpdateSessionActivity(ctx, "7", "tid-1")
	if err != nil || !touched {
		t.Fatalf("expected touch, got %v %v", touched, err)
	}
	sess, err := store.GetSession(ctx, "7", "tid-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !sess.LastActivity.Equal(base.Add(5 * time.Minute)) {
		t.Fatalf("lastActivity = %v", sess.LastActivity)
	}
}

func TestGetAllSessionsOrderedByActivity(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		meta := Metadata{Browser: id, LastActivity: base.Add(time.Duration(i) * time.Minute)}
		if err := store.SaveRefreshTokenWithSession(ctx, "9", id, "tok-"+id, time.Hour, meta); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	// Another user's session must not leak into the listing.
	if err := store.SaveRefreshTokenWithSession(ctx, "99", "x", "tok-x", time.Hour, Metadata{}); err != nil {
		t.Fatalf("save other: %v", err)
	}

	sessions, err := store.GetAllSessions(ctx, "9")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	want := []string{"c", "b", "a"}
	for i, s := range sessions {
		if s.SessionID != want[i] {
			t.Fatalf("position %d: got %s want %s", i, s.SessionID, want[i])
		}
	}
}

func TestRevokeSessionDeletesBothKeys(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveRefreshTokenWithSession(ctx, "7", "tid-1", "tok", time.Hour, Metadata{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	revoked, err := store.RevokeSession(ctx, "7", "tid-1")
	if err != nil || !revoked {
		t.Fatalf("revoke: %v %v", revoked, err)
	}
	if mr.Exists("refresh:{7}:tid-1") || mr.Exists("session:{7}:tid-1") {
		t.Fatal("expected both keys removed")
	}
	revoked, err = store.RevokeSession(ctx, "7", "tid-1")
	if err != nil || revoked {
		t.Fatalf("second revoke: %v %v", revoked, err)
	}
}

func TestDeleteAllRefreshTokens(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("t%d", i)
		if err := store.SaveRefreshTokenWithSession(ctx, "7", id, "tok", time.Hour, Metadata{}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := store.SaveRefreshToken(ctx, "77", "other", "tok", time.Hour); err != nil {
		t.Fatalf("save other: %v", err)
	}

	n, err := store.DeleteAllRefreshTokens(ctx, "7")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 keys deleted, got %d", n)
	}
	if !mr.Exists("refresh:{77}:other") {
		t.Fatal("user 77 must keep its token; prefix match must stop at the separator")
	}
}

func TestUserIDsDoNotShareKeyPrefixes(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()

	for _, uid := range []string{"a:b", "a}:x", "a%7D:y", "a*"} {
		if err := store.SaveRefreshTokenWithSession(ctx, uid, "tid", "tok-"+uid, time.Hour, Metadata{}); err != nil {
			t.Fatalf("save %q: %v", uid, err)
		}
	}

	sessions, err := store.GetAllSessions(ctx, "a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("user a sees foreign sessions: %+v", sessions)
	}
	n, err := store.DeleteAllRefreshTokens(ctx, "a")
	if err != nil || n != 0 {
		t.Fatalf("delete all for a: %d %v", n, err)
	}
	if !mr.Exists("refresh:{a:b}:tid") {
		t.Fatal("user a:b lost its refresh token")
	}

	for _, uid := range []string{"a:b", "a}:x", "a%7D:y", "a*"} {
		tok, err := store.GetRefreshToken(ctx, uid, "tid")
		if err != nil || tok != "tok-"+uid {
			t.Fatalf("%q: token %q %v", uid, tok, err)
		}
		sessions, err := store.GetAllSessions(ctx, uid)
		if err != nil || len(sessions) != 1 || sessions[0].SessionID != "tid" {
			t.Fatalf("%q: sessions %+v %v", uid, sessions, err)
		}
	}

	// "a}:x" and "a%7D:y" escape to distinct tags.
	if !mr.Exists("refresh:{a%7D:x}:tid") || !mr.Exists("refresh:{a%257D:y}:tid") {
		t.Fatalf("unexpected key layout: %v", mr.Keys())
	}
}

func TestConsumeRefreshTokenSingleWinner(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	meta := Metadata{DeviceType: "DESKTOP", Browser: "Firefox"}
	if err := store.SaveRefreshTokenWithSession(ctx, "7", "tid-1", "tok", time.Hour, meta); err != nil {
		t.Fatalf("save: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		winMeta *Metadata
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := store.ConsumeRefreshToken(ctx, "7", "tid-1", "tok")
			if err == nil {
				mu.Lock()
				wins++
				winMeta = m
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if winMeta == nil || winMeta.Browser != "Firefox" {
		t.Fatalf("expected carried metadata, got %+v", winMeta)
	}
}

func TestConsumeRefreshTokenRejectsMismatch(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveRefreshToken(ctx, "7", "tid-1", "tok", time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.ConsumeRefreshToken(ctx, "7", "tid-1", "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on mismatch, got %v", err)
	}
	if !mr.Exists("refresh:{7}:tid-1") {
		t.Fatal("mismatch must not delete the stored record")
	}

	meta, err := store.ConsumeRefreshToken(ctx, "7", "tid-1", "tok")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if meta != nil {
		t.Fatalf("expected nil metadata for sessionless token, got %+v", meta)
	}
}

func TestStoreUnavailableFailsClosed(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	store := NewStore(rdb)
	mr.Close()
	ctx := context.Background()

	if _, err := store.IsBlacklisted(ctx, "x"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := store.GetRefreshToken(ctx, "1", "x"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
