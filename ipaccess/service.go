// Package ipaccess answers "is this IP blocked / explicitly allowed" from
// durable rules with a short-lived Redis cache in front.
//
// Cache keys are ipblock:{ip} and ipallow:{ip} holding "1" or "0" for five
// minutes. Every rule mutation evicts both keys of the affected IP. Cache
// errors fall through to the store; store errors fail closed with
// [ErrStoreUnavailable].
package ipaccess

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	blockCachePrefix = "ipblock:"
	allowCachePrefix = "ipallow:"

	cacheHit  = "1"
	cacheMiss = "0"

	defaultCacheTTL = 5 * time.Minute
)

var (
	// ErrInvalidRule is returned when a RuleRequest fails validation.
	ErrInvalidRule = errors.New("invalid ip rule")
	// ErrRuleNotFound is returned for an unknown rule id.
	ErrRuleNotFound = errors.New("ip rule not found")
	// ErrStoreUnavailable wraps rule store failures.
	ErrStoreUnavailable = errors.New("ip rule store unavailable")
)

// RuleRequest is the input of CreateRule.
type RuleRequest struct {
	IPAddress string     `json:"ipAddress" validate:"required,ip"`
	Type      RuleType   `json:"ruleType" validate:"required,oneof=BLOCK ALLOW"`
	Reason    string     `json:"reason" validate:"max=255"`
	ExpiresAt *time.Time `json:"expiresAt"`
	CreatedBy *string    `json:"-"`
}

// Config tunes the cache.
type Config struct {
	CacheTTL time.Duration
}

// Service evaluates and manages IP rules.
type Service struct {
	store    RuleStore
	redis    redis.UniversalClient
	validate *validator.Validate
	logger   *zap.Logger
	cacheTTL time.Duration
	now      func() time.Time
}

// NewService creates a Service. redisClient may be nil to disable caching.
func NewService(store RuleStore, redisClient redis.UniversalClient, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		store:    store,
		redis:    redisClient,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Named("ipaccess"),
		cacheTTL: ttl,
		now:      time.Now,
	}
}

// WithClock returns a copy of s using now for expiry checks.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

// IsBlocked reports whether ip has an active, unexpired BLOCK rule.
func (s *Service) IsBlocked(ctx context.Context, ip string) (bool, error) {
	return s.check(ctx, blockCachePrefix, RuleBlock, ip)
}

// IsAllowed reports whether ip has an active, unexpired ALLOW rule.
func (s *Service) IsAllowed(ctx context.Context, ip string) (bool, error) {
	return s.check(ctx, allowCachePrefix, RuleAllow, ip)
}

func (s *Service) check(ctx context.Context, prefix string, t RuleType, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	key := prefix + ip

	if s.redis != nil {
		cached, err := s.redis.Get(ctx, key).Result()
		switch {
		case err == nil:
			return cached == cacheHit, nil
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("ip rule cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	rules, err := s.store.FindActive(ctx, ip)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	now := s.now()
	matched := false
	for _, r := range rules {
		if r.Matches(t, now) {
			matched = true
			break
		}
	}

	if s.redis != nil {
		val := cacheMiss
		if matched {
			val = cacheHit
		}
		if err := s.redis.Set(ctx, key, val, s.cacheTTL).Err(); err != nil {
			s.logger.Warn("ip rule cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return matched, nil
}

// CreateRule validates req and replaces any active rule of the same ip and
// type with a new one.
func (s *Service) CreateRule(ctx context.Context, req RuleRequest) (Rule, error) {
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return Rule{}, fmt.Errorf("%w: expiresAt must be in the future", ErrInvalidRule)
	}

	rule, err := s.store.Replace(ctx, Rule{
		IPAddress: req.IPAddress,
		Type:      req.Type,
		Reason:    req.Reason,
		CreatedBy: req.CreatedBy,
		ExpiresAt: req.ExpiresAt,
		Active:    true,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.evict(ctx, rule.IPAddress)
	s.logger.Info("ip rule created",
		zap.Int64("rule_id", rule.ID),
		zap.String("ip", rule.IPAddress),
		zap.String("type", string(rule.Type)),
	)
	return rule, nil
}

// DeleteRule deactivates the rule with id.
func (s *Service) DeleteRule(ctx context.Context, id int64) error {
	rule, err := s.store.Deactivate(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return ErrRuleNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.evict(ctx, rule.IPAddress)
	s.logger.Info("ip rule deleted", zap.Int64("rule_id", id), zap.String("ip", rule.IPAddress))
	return nil
}

// AutoBlock adds a permanent system BLOCK rule for ip unless one is already
// active. It reports whether a rule was created.
func (s *Service) AutoBlock(ctx context.Context, ip, reason string) (bool, error) {
	if err := s.validate.Var(ip, "required,ip"); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	rule, created, err := s.store.InsertIfAbsent(ctx, Rule{
		IPAddress: ip,
		Type:      RuleBlock,
		Reason:    reason,
		Active:    true,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !created {
		return false, nil
	}
	s.evict(ctx, ip)
	s.logger.Warn("ip auto-blocked", zap.Int64("rule_id", rule.ID), zap.String("ip", ip), zap.String("reason", reason))
	return true, nil
}

// ListRules returns rules newest first.
func (s *Service) ListRules(ctx context.Context, filter Filter) ([]Rule, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	rules, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rules, nil
}

// PurgeExpired deactivates rules whose expiry has passed and evicts their
// cache entries. It returns the number of rules deactivated.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	ips, err := s.store.DeactivateExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	seen := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		s.evict(ctx, ip)
	}
	if len(ips) > 0 {
		s.logger.Info("expired ip rules deactivated", zap.Int("count", len(ips)))
	}
	return len(ips), nil
}

func (s *Service) evict(ctx context.Context, ip string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, blockCachePrefix+ip, allowCachePrefix+ip).Err(); err != nil {
		s.logger.Warn("ip rule cache eviction failed", zap.String("ip", ip), zap.Error(err))
	}
}
