package authcore

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/ipaccess"
	"github.com/MrEthical07/authcore/twofactor"
)

var (
	testSecret = []byte("0123456789abcdef0123456789abcdef")
	testEpoch  = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]UserRef
	err   error
}

func newMemUsers(refs ...UserRef) *memUsers {
	m := &memUsers{users: make(map[string]UserRef, len(refs))}
	for _, r := range refs {
		m.users[r.UserID] = r
	}
	return m
}

func (m *memUsers) UserStatus(_ context.Context, userID string) (AccountStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	u, ok := m.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	return u.Status, nil
}

func (m *memUsers) SetUserStatus(_ context.Context, userID string, status AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Status = status
	m.users[userID] = u
	return nil
}

func (m *memUsers) LookupUser(_ context.Context, userID string) (UserRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return UserRef{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) status(userID string) AccountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID].Status
}

type recordingNotifier struct {
	locked  chan string
	devices chan DeviceInfo
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{locked: make(chan string, 16), devices: make(chan DeviceInfo, 16)}
}

func (n *recordingNotifier) AccountLocked(_ context.Context, userID, reason string) error {
	n.locked <- userID + "|" + reason
	return nil
}

func (n *recordingNotifier) NewDevice(_ context.Context, _ string, device DeviceInfo) error {
	n.devices <- device
	return nil
}

type memRules struct {
	mu     sync.Mutex
	rules  []ipaccess.Rule
	nextID int64
}

func (m *memRules) FindActive(_ context.Context, ip string) ([]ipaccess.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ipaccess.Rule
	for _, r := range m.rules {
		if r.IPAddress == ip && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRules) insert(r ipaccess.Rule) ipaccess.Rule {
	m.nextID++
	r.ID = m.nextID
	m.rules = append(m.rules, r)
	return r
}

func (m *memRules) Replace(_ context.Context, rule ipaccess.Rule) (ipaccess.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].IPAddress == rule.IPAddress && m.rules[i].Type == rule.Type {
			m.rules[i].Active = false
		}
	}
	return m.insert(rule), nil
}

func (m *memRules) InsertIfAbsent(_ context.Context, rule ipaccess.Rule) (ipaccess.Rule, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.IPAddress == rule.IPAddress && r.Type == rule.Type && r.Active {
			return r, false, nil
		}
	}
	return m.insert(rule), true, nil
}

func (m *memRules) Deactivate(_ context.Context, id int64) (ipaccess.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == id {
			m.rules[i].Active = false
			return m.rules[i], nil
		}
	}
	return ipaccess.Rule{}, ipaccess.ErrRuleNotFound
}

func (m *memRules) List(_ context.Context, f ipaccess.Filter) ([]ipaccess.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ipaccess.Rule
	for _, r := range m.rules {
		if f.ActiveOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memRules) DeactivateExpired(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ips []string
	for i := range m.rules {
		if m.rules[i].Active && m.rules[i].Expired(now) {
			m.rules[i].Active = false
			ips = append(ips, m.rules[i].IPAddress)
		}
	}
	return ips, nil
}

type memTwoFactor struct {
	mu      sync.Mutex
	records map[string]twofactor.Record
}

func newMemTwoFactor() *memTwoFactor {
	return &memTwoFactor{records: map[string]twofactor.Record{}}
}

func (m *memTwoFactor) Get(_ context.Context, userID string) (*twofactor.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[userID]
	if !ok {
		return nil, twofactor.ErrNotFound
	}
	return &r, nil
}

func (m *memTwoFactor) SaveSecret(_ context.Context, userID, secretEnc string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[userID] = twofactor.Record{UserID: userID, SecretEnc: secretEnc, UpdatedAt: at}
	return nil
}

func (m *memTwoFactor) Enable(_ context.Context, userID, codesEnc string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[userID]
	if !ok {
		return twofactor.ErrNotFound
	}
	r.Enabled, r.BackupCodesEnc, r.UpdatedAt = true, codesEnc, at
	m.records[userID] = r
	return nil
}

func (m *memTwoFactor) Disable(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[userID]; !ok {
		return twofactor.ErrNotFound
	}
	m.records[userID] = twofactor.Record{UserID: userID, UpdatedAt: at}
	return nil
}

func (m *memTwoFactor) SwapBackupCodes(_ context.Context, userID, oldEnc, newEnc string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[userID]
	if !ok || r.BackupCodesEnc != oldEnc {
		return false, nil
	}
	r.BackupCodesEnc, r.UpdatedAt = newEnc, at
	m.records[userID] = r
	return true, nil
}

func (m *memTwoFactor) RecordUsage(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[userID]
	r.LastUsedAt = &at
	m.records[userID] = r
	return nil
}

func (m *memTwoFactor) UpdateLastUsedCounter(_ context.Context, userID string, counter int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[userID]
	if !ok || r.LastUsedCounter >= counter {
		return false, nil
	}
	r.LastUsedCounter, r.LastUsedAt = counter, &at
	m.records[userID] = r
	return true, nil
}

func (m *memTwoFactor) IsEnabled(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[userID].Enabled, nil
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	clock  *testClock
	users  *memUsers
	rules  *memRules
	totp   *memTwoFactor
	notes  *recordingNotifier
	audit  *ChannelSink
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.PrivateKey = append([]byte(nil), testSecret...)
	cfg.TOTP.EncryptionKey = append([]byte(nil), testSecret...)
	cfg.TOTP.EncryptionSalt = []byte("authcore-test")
	cfg.Async.DropIfFull = false
	return cfg
}

// newTestEnv builds an engine over miniredis with users "7" (active) and
// "8" (active) and in-memory stores. mutate may adjust the config.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		mr:    mr,
		rdb:   rdb,
		clock: &testClock{now: testEpoch},
		users: newMemUsers(
			UserRef{UserID: "7", UserUUID: "uuid-7", Role: "USER", Status: AccountActive},
			UserRef{UserID: "8", UserUUID: "uuid-8", Role: "ADMIN", Status: AccountActive},
		),
		rules: &memRules{},
		totp:  newMemTwoFactor(),
		notes: newRecordingNotifier(),
		audit: NewChannelSink(256),
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithClock(env.clock.Now).
		WithUserStatusStore(env.users).
		WithUserDirectory(env.users).
		WithIPRuleStore(env.rules).
		WithTwoFactorStore(env.totp).
		WithNotifier(env.notes).
		WithAuditSink(env.audit).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// waitAudit returns the next audit event of eventType, failing after one
// second.
func (env *testEnv) waitAudit(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-env.audit.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s audit event", eventType)
			return AuditEvent{}
		}
	}
}
