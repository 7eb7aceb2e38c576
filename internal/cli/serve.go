package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/httpapi"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr            string
		cleanupInterval time.Duration
		shutdownTimeout time.Duration
		metrics         bool
		adminRole       string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := a.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(a.logger)

			routerCfg := httpapi.Config{AdminRole: adminRole}
			if metrics && a.cfg.Metrics.Enabled {
				h, err := prometheus.Handler(rt.engine)
				if err != nil {
					return err
				}
				routerCfg.Metrics = h
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           httpapi.New(rt.engine, a.logger).Router(routerCfg),
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      15 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			var cleanupDone <-chan struct{}
			if cleanupInterval > 0 {
				cleanupDone = rt.engine.StartCleanup(ctx, cleanupInterval)
			}

			errc := make(chan error, 1)
			go func() {
				a.logger.Info("listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				stop()
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("forced shutdown", zap.Error(err))
			}
			if cleanupDone != nil {
				<-cleanupDone
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().DurationVar(&cleanupInterval, "cleanup-interval", time.Hour, "interval of the expired IP rule sweep (0 disables)")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown deadline")
	cmd.Flags().BoolVar(&metrics, "metrics", true, "serve Prometheus metrics at /metrics")
	cmd.Flags().StringVar(&adminRole, "admin-role", httpapi.DefaultAdminRole, "role claim allowed on /api/v1/admin")
	return cmd
}
