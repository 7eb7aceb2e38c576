package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/ipaccess"
)

// IsIPBlocked reports whether an active, unexpired BLOCK rule covers ip.
// Without an IP rule store nothing is blocked. Store failures fail closed
// with [ErrIPRuleStoreUnavailable].
func (e *Engine) IsIPBlocked(ctx context.Context, ip string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	if e.ipRules == nil || ip == "" {
		return false, nil
	}

	blocked, err := e.ipRules.IsBlocked(ctx, ip)
	if err != nil {
		return false, err
	}
	if blocked {
		e.metricInc(MetricIPBlocked)
	}
	return blocked, nil
}

// IsIPAllowed reports whether an active, unexpired ALLOW rule covers ip.
func (e *Engine) IsIPAllowed(ctx context.Context, ip string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	if e.ipRules == nil || ip == "" {
		return false, nil
	}
	return e.ipRules.IsAllowed(ctx, ip)
}

// CreateIPRule replaces the active rule of the same ip and type.
func (e *Engine) CreateIPRule(ctx context.Context, req ipaccess.RuleRequest) (ipaccess.Rule, error) {
	if err := e.requireIPRules(); err != nil {
		return ipaccess.Rule{}, err
	}

	rule, err := e.ipRules.CreateRule(ctx, req)
	if err != nil {
		return ipaccess.Rule{}, err
	}

	e.metricInc(MetricIPRuleCreated)
	e.emitAudit(ctx, auditEventIPRuleCreated, true, derefString(req.CreatedBy), "", nil, func() map[string]string {
		return map[string]string{"ip": rule.IPAddress, "type": string(rule.Type)}
	})
	return rule, nil
}

// DeleteIPRule deactivates a rule. Unknown ids return ipaccess.ErrRuleNotFound.
func (e *Engine) DeleteIPRule(ctx context.Context, id int64) error {
	if err := e.requireIPRules(); err != nil {
		return err
	}
	if err := e.ipRules.DeleteRule(ctx, id); err != nil {
		return err
	}

	e.metricInc(MetricIPRuleDeleted)
	e.emitAudit(ctx, auditEventIPRuleDeleted, true, "", "", nil, nil)
	return nil
}

// AutoBlockIP adds a permanent system BLOCK rule unless ip is already
// blocked. It reports whether a rule was created.
func (e *Engine) AutoBlockIP(ctx context.Context, ip, reason string) (bool, error) {
	if err := e.requireIPRules(); err != nil {
		return false, err
	}

	created, err := e.ipRules.AutoBlock(ctx, ip, reason)
	if err != nil || !created {
		return created, err
	}

	e.metricInc(MetricIPAutoBlocked)
	e.emitAudit(ctx, auditEventIPAutoBlocked, true, "", "", nil, func() map[string]string {
		return map[string]string{"ip": ip, "reason": reason}
	})
	return true, nil
}

func (e *Engine) ListIPRules(ctx context.Context, filter ipaccess.Filter) ([]ipaccess.Rule, error) {
	if err := e.requireIPRules(); err != nil {
		return nil, err
	}
	return e.ipRules.ListRules(ctx, filter)
}

func (e *Engine) requireIPRules() error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.ipRules == nil {
		return ErrNotConfigured
	}
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
