package ipaccess

import (
	"context"
	"time"
)

// RuleType is the effect of an IP rule.
type RuleType string

const (
	RuleBlock RuleType = "BLOCK"
	RuleAllow RuleType = "ALLOW"
)

// Rule is one durable IP allow/block entry.
type Rule struct {
	ID        int64      `db:"id" json:"id"`
	IPAddress string     `db:"ip_address" json:"ipAddress"`
	Type      RuleType   `db:"rule_type" json:"ruleType"`
	Reason    string     `db:"reason" json:"reason,omitempty"`
	CreatedBy *string    `db:"created_by" json:"createdBy,omitempty"`
	ExpiresAt *time.Time `db:"expires_at" json:"expiresAt,omitempty"`
	Active    bool       `db:"is_active" json:"active"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

// Expired reports whether the rule has an expiry at or before now.
func (r Rule) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Matches reports whether r is an active, unexpired rule of type t.
func (r Rule) Matches(t RuleType, now time.Time) bool {
	return r.Active && r.Type == t && !r.Expired(now)
}

// Filter narrows ListRules.
type Filter struct {
	Type       RuleType
	IPAddress  string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// RuleStore persists rules. Implementations return [ErrRuleNotFound] for a
// missing id and any other error for infrastructure failures.
type RuleStore interface {
	// FindActive returns the active rules of ip, expired or not.
	FindActive(ctx context.Context, ip string) ([]Rule, error)
	// Replace deactivates the active rule with the same ip and type and
	// inserts rule, in one transaction.
	Replace(ctx context.Context, rule Rule) (Rule, error)
	// InsertIfAbsent inserts rule unless an active rule with the same ip and
	// type exists. It reports whether a row was inserted.
	InsertIfAbsent(ctx context.Context, rule Rule) (Rule, bool, error)
	// Deactivate marks the rule inactive and returns it.
	Deactivate(ctx context.Context, id int64) (Rule, error)
	// List returns rules newest first.
	List(ctx context.Context, filter Filter) ([]Rule, error)
	// DeactivateExpired deactivates active rules that expired at or before
	// now and returns their IP addresses.
	DeactivateExpired(ctx context.Context, now time.Time) ([]string, error)
}
