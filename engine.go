package authcore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/async"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/ipaccess"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/passkey"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/twofactor"
)

// Engine is the authentication core. It is created by [Builder.Build], is
// safe for concurrent use and holds no security state in process: Redis
// and the configured stores are the only sources of truth.
type Engine struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	jwt      *jwt.Manager
	sessions *session.Store

	limiter *rate.Limiter
	lockout *limiters.Lockout
	ipRules *ipaccess.Service

	totp        *twofactor.Service
	mfaAttempts *limiters.MFAAttempts
	passkeys    *passkey.Service

	users     UserStatusStore
	directory UserDirectory
	notifier  Notifier

	runner  *async.Runner
	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close drains pending notifications and audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.runner.Close()
}

// AuditDropped returns how many background tasks (audit events and
// notifications) were dropped because the queue was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.runner.Dropped()
}

// Metrics returns the live counters, for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// RateLimiterFailOpen returns how many limiter checks were allowed because
// Redis failed.
func (e *Engine) RateLimiterFailOpen() uint64 {
	if e == nil {
		return 0
	}
	return e.limiter.FailOpenCount()
}

// Ping checks Redis reachability and returns the round trip.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	return e.sessions.Ping(ctx)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// background runs fn on the runner with a context detached from the
// request.
func (e *Engine) background(ctx context.Context, name string, fn func(context.Context)) {
	if !e.runner.Submit(ctx, name, fn) {
		e.logger.Warn("background task dropped", zap.String("task", name))
	}
}
