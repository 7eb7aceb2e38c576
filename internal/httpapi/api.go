package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/middleware"
)

// DefaultAdminRole is the role claim required by /api/v1/admin routes.
const DefaultAdminRole = "ADMIN"

// Config tunes the router.
type Config struct {
	// AdminRole is compared to the role claim. Empty means DefaultAdminRole.
	AdminRole string
	// AuthPaths overrides middleware.DefaultAuthPaths.
	AuthPaths []string
	// Metrics, when set, is mounted at GET /metrics.
	Metrics http.Handler
}

// API holds the handlers.
type API struct {
	engine    *authcore.Engine
	logger    *zap.Logger
	adminRole string
}

// New returns an API over engine. A nil logger disables logging.
func New(engine *authcore.Engine, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{engine: engine, logger: logger.Named("http"), adminRole: DefaultAdminRole}
}

// Router builds the full route table with the middleware pipeline.
func (a *API) Router(cfg Config) *mux.Router {
	if cfg.AdminRole != "" {
		a.adminRole = cfg.AdminRole
	}

	r := mux.NewRouter()
	r.Use(middleware.RequestContext, a.accessLog)

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.IPFilter(a.engine), middleware.RateLimit(a.engine, cfg.AuthPaths))
	api.HandleFunc("/health", a.health).Methods(http.MethodGet)

	// -------- PUBLIC --------
	api.HandleFunc("/auth/refresh", a.refresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", a.logout).Methods(http.MethodPost)
	api.HandleFunc("/auth/passkey/login/options", a.passkeyLoginOptions).Methods(http.MethodPost)
	api.HandleFunc("/auth/passkey/login/verify", a.passkeyLoginVerify).Methods(http.MethodPost)

	// -------- AUTHENTICATED --------
	user := api.NewRoute().Subrouter()
	user.Use(middleware.Guard(a.engine), middleware.UserRateLimit(a.engine))

	user.HandleFunc("/auth/logout-all", a.logoutAll).Methods(http.MethodPost)
	user.HandleFunc("/sessions", a.listSessions).Methods(http.MethodGet)
	user.HandleFunc("/sessions/{sessionId}", a.revokeSession).Methods(http.MethodDelete)

	user.HandleFunc("/2fa/status", a.totpStatus).Methods(http.MethodGet)
	user.HandleFunc("/2fa/setup", a.totpSetup).Methods(http.MethodPost)
	user.HandleFunc("/2fa/enable", a.totpEnable).Methods(http.MethodPost)
	user.HandleFunc("/2fa/disable", a.totpDisable).Methods(http.MethodPost)
	user.HandleFunc("/2fa/verify", a.totpVerify).Methods(http.MethodPost)
	user.HandleFunc("/2fa/backup-codes/regenerate", a.totpRegenerate).Methods(http.MethodPost)

	user.HandleFunc("/passkey/register/options", a.passkeyRegisterOptions).Methods(http.MethodPost)
	user.HandleFunc("/passkey/register/verify", a.passkeyRegisterVerify).Methods(http.MethodPost)
	user.HandleFunc("/passkey/list", a.listPasskeys).Methods(http.MethodGet)
	user.HandleFunc("/passkey/{id:[0-9]+}", a.renamePasskey).Methods(http.MethodPatch)
	user.HandleFunc("/passkey/{id:[0-9]+}", a.deletePasskey).Methods(http.MethodDelete)

	// -------- ADMIN --------
	admin := user.PathPrefix("/admin").Subrouter()
	admin.Use(a.requireRole)

	admin.HandleFunc("/ip-rules", a.listIPRules).Methods(http.MethodGet)
	admin.HandleFunc("/ip-rules", a.createIPRule).Methods(http.MethodPost)
	admin.HandleFunc("/ip-rules/{ruleId:[0-9]+}", a.deleteIPRule).Methods(http.MethodDelete)
	admin.HandleFunc("/users/{userId}/lock", a.lockUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{userId}/unlock", a.unlockUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{userId}/lockout", a.lockoutStatus).Methods(http.MethodGet)
	admin.HandleFunc("/security-report", a.securityReport).Methods(http.MethodGet)
	admin.HandleFunc("/cleanup", a.cleanup).Methods(http.MethodPost)

	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	latency, err := a.engine.Ping(r.Context())
	if err != nil {
		a.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "UP",
		"redisLatencyMs": float64(latency.Microseconds()) / 1000,
	})
}

func (a *API) requireRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFromContext(r.Context())
		if !ok || claims.Role != a.adminRole {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.String("ip", authcore.ClientIPFromContext(r.Context())),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// claims returns the Guard claims. Routes that call it are always behind
// the Guard.
func claims(r *http.Request) *jwt.Claims {
	c, _ := middleware.ClaimsFromContext(r.Context())
	return c
}
