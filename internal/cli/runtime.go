package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/storage/sqlstore"
)

// runtime is the wired service: database, Redis and the Engine over them.
type runtime struct {
	db     *sqlstore.DB
	redis  redis.UniversalClient
	users  *sqlstore.UserStore
	engine *authcore.Engine
}

// openDB connects and migrates. It returns the schema version.
func (a *app) openDB(ctx context.Context) (*sqlstore.DB, int, error) {
	db, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:          a.cfg.Database.Driver,
		DSN:             a.cfg.Database.DSN,
		MaxOpenConns:    a.cfg.Database.MaxOpenConns,
		MaxIdleConns:    a.cfg.Database.MaxIdleConns,
		ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, 0, err
	}
	version, err := db.Migrate(ctx)
	if err != nil {
		_ = db.Close()
		return nil, 0, fmt.Errorf("migrate: %w", err)
	}
	return db, version, nil
}

func (a *app) openRuntime(ctx context.Context) (*runtime, error) {
	db, _, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{a.cfg.Redis.Addr},
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})

	users := sqlstore.NewUserStore(db)
	builder := authcore.New().
		WithConfig(a.cfg).
		WithRedis(rdb).
		WithLogger(a.logger).
		WithUserStatusStore(users).
		WithUserDirectory(users).
		WithIPRuleStore(sqlstore.NewRuleStore(db)).
		WithPasskeyStore(sqlstore.NewPasskeyStore(db)).
		WithAuditSink(authcore.NewZapSink(a.logger))
	// Secrets are sealed at rest; without a key two-factor stays off.
	if len(a.cfg.TOTP.EncryptionKey) > 0 {
		builder = builder.WithTwoFactorStore(sqlstore.NewTwoFactorStore(db))
	}
	engine, err := builder.Build()
	if err != nil {
		_ = rdb.Close()
		_ = db.Close()
		return nil, err
	}

	return &runtime{db: db, redis: rdb, users: users, engine: engine}, nil
}

func (rt *runtime) Close(logger *zap.Logger) {
	rt.engine.Close()
	if err := rt.redis.Close(); err != nil {
		logger.Warn("close redis", zap.Error(err))
	}
	if err := rt.db.Close(); err != nil {
		logger.Warn("close database", zap.Error(err))
	}
}
