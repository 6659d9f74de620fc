// Package app opens the process dependencies described by a config file and
// builds the engine on top of them.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/talentx/authcore"
	"github.com/talentx/authcore/internal/config"
	"github.com/talentx/authcore/internal/logging"
	"github.com/talentx/authcore/notify"
	"github.com/talentx/authcore/store/postgres"
)

// App owns every long-lived resource. Close releases them in reverse order.
type App struct {
	File   *config.File
	Config authcore.Config
	Logger *slog.Logger

	Redis  redis.UniversalClient
	DB     *pgxpool.Pool
	Store  *postgres.Store
	Engine *authcore.Engine

	closers []func()
}

// NewLogger builds the process logger from the logging section.
func NewLogger(f *config.File) (*slog.Logger, io.Closer) {
	return logging.New(f.Logging)
}

// OpenDB connects the pool and runs the schema when auto_migrate is set.
func OpenDB(ctx context.Context, f *config.File) (*pgxpool.Pool, *postgres.Store, error) {
	if f.Postgres.URL == "" {
		return nil, nil, config.ErrNoDatabase
	}
	db, err := postgres.Open(ctx, f.Postgres.URL, f.Pool())
	if err != nil {
		return nil, nil, err
	}
	store := postgres.New(db)
	if f.Postgres.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return db, store, nil
}

// NewRedis returns a client for one address or a cluster.
func NewRedis(f *config.File) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    f.Redis.Addrs,
		Username: f.Redis.Username,
		Password: f.Redis.Password,
		DB:       f.Redis.DB,
	})
}

// Open wires logger, Redis, Postgres, the mailer and the engine. On error
// everything opened so far is closed.
func Open(ctx context.Context, f *config.File) (*App, error) {
	cfg, err := f.Engine()
	if err != nil {
		return nil, err
	}

	a := &App{File: f, Config: cfg}
	logger, logCloser := NewLogger(f)
	a.Logger = logger
	a.closers = append(a.closers, func() { _ = logCloser.Close() })

	a.Redis = NewRedis(f)
	a.closers = append(a.closers, func() { _ = a.Redis.Close() })
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	a.DB, a.Store, err = OpenDB(ctx, f)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.DB.Close)

	notifier, err := a.notifier(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Engine, err = authcore.New().
		WithConfig(cfg).
		WithRedis(a.Redis).
		WithAccountStore(a.Store).
		WithMFAPolicy(a.Store).
		WithNotifier(notifier).
		WithLogger(logger).
		Build()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.Engine.Close)

	logger.Info("authcore ready",
		slog.String("environment", cfg.Environment),
		slog.Bool("smtp", f.SMTP.Enabled),
	)
	return a, nil
}

func (a *App) notifier(cfg authcore.Config) (authcore.Notifier, error) {
	smtpCfg, templates := a.File.Mail(cfg)
	if !a.File.SMTP.Enabled {
		return notify.NewLog(templates, a.Logger), nil
	}
	mailer, err := notify.NewSMTP(smtpCfg, templates, a.Logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, mailer.Close)
	return mailer, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
