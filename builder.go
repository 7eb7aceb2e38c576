package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/fieldcrypt"
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

// Builder collects the collaborators of an [Engine]. A Builder is single
// use: Build may be called once.
//
// Redis and a UserStatusStore are required. The IP rule, two-factor and
// passkey stores are optional; the operations that need a missing store
// return [ErrNotConfigured].
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *zap.Logger
	now    func() time.Time

	users     UserStatusStore
	directory UserDirectory
	ipRules   ipaccess.RuleStore
	totp      twofactor.Store
	passkeys  passkey.CredentialStore
	encryptor fieldcrypt.Encryptor
	notifier  Notifier
	auditSink AuditSink

	built bool
}

// New returns a Builder holding the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client holding all ephemeral security state.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for token issuance, session stamps and
// durable store timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithUserStatusStore(store UserStatusStore) *Builder {
	b.users = store
	return b
}

// WithUserDirectory enables passkey logins, which must resolve the
// credential owner to a role and uuid.
func (b *Builder) WithUserDirectory(dir UserDirectory) *Builder {
	b.directory = dir
	return b
}

func (b *Builder) WithIPRuleStore(store ipaccess.RuleStore) *Builder {
	b.ipRules = store
	return b
}

func (b *Builder) WithTwoFactorStore(store twofactor.Store) *Builder {
	b.totp = store
	return b
}

func (b *Builder) WithPasskeyStore(store passkey.CredentialStore) *Builder {
	b.passkeys = store
	return b
}

// WithEncryptor seals TOTP secrets and backup codes. Without one, Build
// derives a cipher from TOTP.EncryptionKey and TOTP.EncryptionSalt.
func (b *Builder) WithEncryptor(enc fieldcrypt.Encryptor) *Builder {
	b.encryptor = enc
	return b
}

// WithNotifier sets the account notification strategy. The default logs.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. The
// returned Engine owns a background runner and must be closed.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user status store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- TOKENS & SESSIONS --------
	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}
	jwtManager = jwtManager.WithClock(now)

	sessions := session.NewStore(b.redis).WithClock(now)

	// -------- ABUSE GUARD --------
	limiter := rate.New(b.redis, rate.Config{
		LoginEmailMax: cfg.RateLimit.LoginEmailMax,
		LoginIPMax:    cfg.RateLimit.LoginIPMax,
		LoginWindow:   cfg.RateLimit.LoginWindow,
		APIMax:        cfg.RateLimit.APIMax,
		AuthMax:       cfg.RateLimit.AuthMax,
		UserMax:       cfg.RateLimit.UserMax,
		APIWindow:     cfg.RateLimit.APIWindow,
	}, logger)

	lockout := limiters.NewLockout(b.redis, limiters.LockoutConfig{
		Threshold: cfg.Lockout.MaxFailedAttempts,
		Window:    cfg.Lockout.Window,
	})

	var ipRules *ipaccess.Service
	if b.ipRules != nil {
		ipRules = ipaccess.NewService(b.ipRules, b.redis, ipaccess.Config{
			CacheTTL: cfg.IPAccess.CacheTTL,
		}, logger).WithClock(now)
	}

	// -------- MFA --------
	var totpService *twofactor.Service
	if b.totp != nil {
		enc := b.encryptor
		if enc == nil {
			if len(cfg.TOTP.EncryptionKey) == 0 {
				return nil, errors.New("two-factor store requires an Encryptor or TOTP.EncryptionKey")
			}
			cipher, err := fieldcrypt.New(cfg.TOTP.EncryptionKey, cfg.TOTP.EncryptionSalt)
			if err != nil {
				return nil, fmt.Errorf("totp encryption: %w", err)
			}
			enc = cipher
		}
		totpService = twofactor.NewService(b.totp, enc, twofactor.Config{
			Issuer:           cfg.TOTP.Issuer,
			Skew:             cfg.TOTP.Skew,
			BackupCodeCount:  cfg.TOTP.BackupCodeCount,
			BackupCodeDigits: cfg.TOTP.BackupCodeDigits,
			QRSize:           cfg.TOTP.QRSize,
		}, logger).WithClock(now)
	}
	mfaAttempts := limiters.NewMFAAttempts(b.redis, limiters.MFAConfig{
		MaxAttempts: cfg.TOTP.MaxVerifyAttempts,
		Cooldown:    cfg.TOTP.VerifyAttemptReset,
	})

	var passkeys *passkey.Service
	if b.passkeys != nil {
		svc, err := passkey.NewService(b.passkeys, b.redis, passkey.Config{
			RPID:         cfg.Passkey.RPID,
			RPName:       cfg.Passkey.RPName,
			Origins:      cfg.Passkey.Origins,
			ChallengeTTL: cfg.Passkey.ChallengeTTL,
			MaxPerUser:   cfg.Passkey.MaxPerUser,
		}, logger)
		if err != nil {
			return nil, err
		}
		passkeys = svc.WithClock(now)
	}

	// -------- BACKGROUND WORK --------
	runner := async.NewRunner(async.Config{
		Workers:     cfg.Async.Workers,
		BufferSize:  cfg.Async.BufferSize,
		DropIfFull:  cfg.Async.DropIfFull,
		TaskTimeout: cfg.Async.TaskTimeout,
	}, logger)

	var dispatcher *internalaudit.Dispatcher
	if cfg.Audit.Enabled && b.auditSink != nil {
		dispatcher = internalaudit.NewDispatcher(runner, b.auditSink)
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger.Named("notify")}
	}

	b.built = true

	return &Engine{
		config:      cfg,
		logger:      logger.Named("authcore"),
		now:         now,
		jwt:         jwtManager,
		sessions:    sessions,
		limiter:     limiter,
		lockout:     lockout,
		ipRules:     ipRules,
		totp:        totpService,
		mfaAttempts: mfaAttempts,
		passkeys:    passkeys,
		users:       b.users,
		directory:   b.directory,
		notifier:    notifier,
		runner:      runner,
		audit:       dispatcher,
		metrics:     NewMetrics(cfg.Metrics),
	}, nil
}
