package authcore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CleanupReport summarizes one [Engine.RunCleanup] pass.
type CleanupReport struct {
	ExpiredIPRules int
	Duration       time.Duration
}

// RunCleanup deactivates IP rules whose expiry has passed. Expired rules
// never match, so the pass only keeps the durable store tidy. Redis state
// expires on its own TTLs.
func (e *Engine) RunCleanup(ctx context.Context) (CleanupReport, error) {
	if e == nil {
		return CleanupReport{}, ErrEngineNotReady
	}

	start := time.Now()
	var report CleanupReport
	if e.ipRules != nil {
		n, err := e.ipRules.PurgeExpired(ctx)
		if err != nil {
			return report, err
		}
		report.ExpiredIPRules = n
		for i := 0; i < n; i++ {
			e.metricInc(MetricIPRulesExpired)
		}
	}
	report.Duration = time.Since(start)

	e.logger.Info("cleanup finished",
		zap.Int("expired_ip_rules", report.ExpiredIPRules),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// StartCleanup runs RunCleanup every interval until ctx is done. The
// returned channel closes when the loop exits.
func (e *Engine) StartCleanup(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.RunCleanup(ctx); err != nil {
					e.logger.Warn("cleanup failed", zap.Error(err))
				}
			}
		}
	}()
	return done
}
