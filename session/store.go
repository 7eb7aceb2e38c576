package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no refresh record exists for the id pair.
	ErrNotFound = errors.New("refresh token not found")
	// ErrStoreUnavailable wraps every Redis failure. Callers fail closed on it.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

const (
	refreshPrefix   = "refresh:"
	sessionPrefix   = "session:"
	blacklistPrefix = "blacklist:"

	blacklistMarker = "1"
	scanBatch       = 1000
)

// consumeRefreshScript deletes the refresh record and its session hash only
// when the stored token matches the presented one. The reply is {0} on miss
// and {1, field, value, ...} with the session hash contents on success, so
// exactly one of two concurrent rotations can win.
const consumeRefreshScript = `
local stored = redis.call("GET", KEYS[1])
if not stored or stored ~= ARGV[1] then
  return {0}
end
local out = {1}
local fields = redis.call("HGETALL", KEYS[2])
for i = 1, #fields do
  out[#out + 1] = fields[i]
end
redis.call("DEL", KEYS[1], KEYS[2])
return out
`

var consumeRefreshLua = redis.NewScript(consumeRefreshScript)

// touchSessionScript updates lastActivity only if the hash still exists, so
// an expired session is never resurrected as a fieldless hash.
const touchSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`

var touchSessionLua = redis.NewScript(touchSessionScript)

// Store is the Redis-backed session store. It holds no in-process state and
// is safe for concurrent use.
type Store struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// NewStore returns a Store over redisClient.
func NewStore(redisClient redis.UniversalClient) *Store {
	return &Store{redis: redisClient, now: time.Now}
}

// WithClock returns a copy of s using now for lastActivity stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	cp := *s
	cp.now = now
	return &cp
}

var tagEscaper = strings.NewReplacer("%", "%25", "}", "%7D")

// userTag wraps userID in a Redis Cluster hash tag, keeping all keys of a
// user in one slot. '%' and '}' are percent-encoded so the tag always ends
// right after the id and no id is a key prefix of another.
func userTag(userID string) string {
	if strings.ContainsAny(userID, "%}") {
		userID = tagEscaper.Replace(userID)
	}
	return "{" + userID + "}"
}

func refreshKey(userID, tokenID string) string {
	return refreshPrefix + userTag(userID) + ":" + tokenID
}

func sessionKey(userID, tokenID string) string {
	return sessionPrefix + userTag(userID) + ":" + tokenID
}

func blacklistKey(tokenID string) string {
	return blacklistPrefix + tokenID
}

// SaveRefreshToken stores token under (userID, tokenID) for ttl.
func (s *Store) SaveRefreshToken(ctx context.Context, userID, tokenID, token string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, refreshKey(userID, tokenID), token, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// SaveRefreshTokenWithSession stores the refresh token and a session hash
// carrying meta. Both keys share ttl.
func (s *Store) SaveRefreshTokenWithSession(
	ctx context.Context,
	userID, tokenID, token string,
	ttl time.Duration,
	meta Metadata,
) error {
	if meta.LastActivity.IsZero() {
		meta.LastActivity = s.now()
	}
	rKey := refreshKey(userID, tokenID)
	sKey := sessionKey(userID, tokenID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, rKey, token, ttl)
		pipe.HSet(ctx, sKey, encodeMetadata(meta)...)
		pipe.Expire(ctx, sKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetRefreshToken returns the stored token or [ErrNotFound].
func (s *Store) GetRefreshToken(ctx context.Context, userID, tokenID string) (string, error) {
	token, err := s.redis.Get(ctx, refreshKey(userID, tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return token, nil
}

// ExistsRefreshToken reports whether a refresh record exists.
func (s *Store) ExistsRefreshToken(ctx context.Context, userID, tokenID string) (bool, error) {
	n, err := s.redis.Exists(ctx, refreshKey(userID, tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// DeleteRefreshToken removes the refresh record only. Deleting a missing
// record is not an error.
func (s *Store) DeleteRefreshToken(ctx context.Context, userID, tokenID string) error {
	if err := s.redis.Del(ctx, refreshKey(userID, tokenID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ConsumeRefreshToken atomically deletes the refresh record and its session
// hash if the stored value equals token. It returns the session metadata that
// was attached (nil when the token had no session) or [ErrNotFound].
func (s *Store) ConsumeRefreshToken(ctx context.Context, userID, tokenID, token string) (*Metadata, error) {
	res, err := consumeRefreshLua.Run(ctx, s.redis,
		[]string{refreshKey(userID, tokenID), sessionKey(userID, tokenID)},
		token,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	if status, _ := res[0].(int64); status != 1 {
		return nil, ErrNotFound
	}

	meta, ok := decodeFlatMetadata(res[1:])
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

// DeleteAllRefreshTokens removes every refresh and session key of userID and
// returns the number of keys deleted.
//
// The enumeration uses SCAN, so a session created while the call is running
// may survive it. Logout-all callers accept that window.
func (s *Store) DeleteAllRefreshTokens(ctx context.Context, userID string) (int, error) {
	var deleted int
	for _, pattern := range []string{
		refreshPrefix + escapeGlob(userTag(userID)) + ":*",
		sessionPrefix + escapeGlob(userTag(userID)) + ":*",
	} {
		keys, err := s.scan(ctx, pattern)
		if err != nil {
			return deleted, err
		}
		for start := 0; start < len(keys); start += scanBatch {
			end := start + scanBatch
			if end > len(keys) {
				end = len(keys)
			}
			n, err := s.redis.Del(ctx, keys[start:end]...).Result()
			if err != nil {
				return deleted, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			deleted += int(n)
		}
	}
	return deleted, nil
}

// AddToBlacklist marks tokenID as revoked for remaining. Nothing is written
// when remaining is not positive: the token has already expired.
func (s *Store) AddToBlacklist(ctx context.Context, tokenID string, remaining time.Duration) error {
	if tokenID == "" || remaining <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, blacklistKey(tokenID), blacklistMarker, remaining).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsBlacklisted reports whether tokenID has been revoked.
func (s *Store) IsBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.redis.Exists(ctx, blacklistKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// UpdateSessionActivity stamps lastActivity on an existing session. It
// returns false when the session is gone.
func (s *Store) UpdateSessionActivity(ctx context.Context, userID, tokenID string) (bool, error) {
	n, err := touchSessionLua.Run(ctx, s.redis,
		[]string{sessionKey(userID, tokenID)},
		fieldLastActivity, formatActivity(s.now()),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// GetSession returns one session or [ErrNotFound].
func (s *Store) GetSession(ctx context.Context, userID, tokenID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, sessionKey(userID, tokenID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return &Session{SessionID: tokenID, Metadata: decodeMetadata(fields)}, nil
}

// GetAllSessions returns the live sessions of userID, most recently active
// first.
func (s *Store) GetAllSessions(ctx context.Context, userID string) ([]Session, error) {
	prefix := sessionPrefix + userTag(userID) + ":"
	keys, err := s.scan(ctx, sessionPrefix+escapeGlob(userTag(userID))+":*")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sessions := make([]Session, 0, len(keys))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		// Expired between SCAN and HGETALL.
		if len(fields) == 0 {
			continue
		}
		sessions = append(sessions, Session{
			SessionID: strings.TrimPrefix(keys[i], prefix),
			Metadata:  decodeMetadata(fields),
		})
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	return sessions, nil
}

// RevokeSession deletes the refresh record and session hash of one session.
// It reports whether anything was deleted.
func (s *Store) RevokeSession(ctx context.Context, userID, tokenID string) (bool, error) {
	n, err := s.redis.Del(ctx, refreshKey(userID, tokenID), sessionKey(userID, tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	// SCAN may return a key more than once.
	sort.Strings(out)
	uniq := out[:0]
	for i, k := range out {
		if i > 0 && out[i-1] == k {
			continue
		}
		uniq = append(uniq, k)
	}
	return uniq, nil
}

func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
