package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/haasonsaas/teller/internal/config"
	"github.com/haasonsaas/teller/internal/sessions"
)

// Backend is an opened checkpoint store together with the locker that
// serializes turns on it.
type Backend struct {
	Store  sessions.Store
	Locker sessions.Locker

	closers []io.Closer
}

// Close releases the locker and the store.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenBackend opens the configured session backend. SQL backends are
// migrated first when auto_migrate is set.
func OpenBackend(ctx context.Context, cfg config.SessionConfig, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "", config.BackendMemory:
		store := sessions.NewMemoryStore()
		return &Backend{Store: store, Locker: sessions.NewLocalLocker(), closers: []io.Closer{store}}, nil

	case config.BackendSQLite:
		store, err := sessions.NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		if err := autoMigrate(ctx, cfg, store.DB(), sessions.DialectSQLite, logger); err != nil {
			store.Close()
			return nil, err
		}
		return &Backend{Store: store, Locker: sessions.NewLocalLocker(), closers: []io.Closer{store}}, nil

	case config.BackendPostgres:
		sqlCfg := sessions.DefaultSQLConfig()
		if cfg.MaxOpenConns > 0 {
			sqlCfg.MaxOpenConns = cfg.MaxOpenConns
		}
		store, err := sessions.NewPostgresStore(cfg.DSN, sqlCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := autoMigrate(ctx, cfg, store.DB(), sessions.DialectPostgres, logger); err != nil {
			store.Close()
			return nil, err
		}
		lockCfg := sessions.DefaultDBLockerConfig()
		lockCfg.OwnerID = ownerID()
		if cfg.Lock.TTL > 0 {
			lockCfg.TTL = cfg.Lock.TTL
			lockCfg.RefreshInterval = cfg.Lock.TTL / 4
		}
		if cfg.Lock.AcquireTimeout > 0 {
			lockCfg.AcquireTimeout = cfg.Lock.AcquireTimeout
		}
		locker, err := sessions.NewDBLocker(store.DB(), lockCfg)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("create db locker: %w", err)
		}
		return &Backend{Store: store, Locker: locker, closers: []io.Closer{store, locker}}, nil

	case config.BackendRedis:
		store, err := sessions.NewRedisStoreFromURL(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		locker := sessions.NewRedisLocker(store.Client(), cfg.Redis.Prefix, cfg.Lock.TTL, cfg.Lock.AcquireTimeout, logger)
		return &Backend{Store: store, Locker: locker, closers: []io.Closer{store, locker}}, nil

	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

func autoMigrate(ctx context.Context, cfg config.SessionConfig, db *sql.DB, dialect sessions.Dialect, logger *slog.Logger) error {
	if !cfg.AutoMigrate {
		return nil
	}
	migrator, err := sessions.NewMigrator(db, dialect)
	if err != nil {
		return fmt.Errorf("initialize migrator: %w", err)
	}
	applied, err := migrator.Up(ctx, 0)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	for _, id := range applied {
		logger.Info("applied migration", "id", id)
	}
	return nil
}

// OpenMigrationDB opens the SQL database of a SQL session backend for the
// migrate commands.
func OpenMigrationDB(cfg config.SessionConfig) (*sql.DB, sessions.Dialect, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := sessions.NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, "", err
		}
		return store.DB(), sessions.DialectSQLite, nil
	case config.BackendPostgres:
		store, err := sessions.NewPostgresStore(cfg.DSN, nil)
		if err != nil {
			return nil, "", err
		}
		return store.DB(), sessions.DialectPostgres, nil
	default:
		return nil, "", fmt.Errorf("session backend %q has no database to migrate", cfg.Backend)
	}
}

func ownerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "teller"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
