// Package app wires configuration to concrete stores, the slot locker and
// the services built on them. Every binary under cmd/ starts here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/api"
	"github.com/hackgods/opd-token-allocation/internal/clinic"
	"github.com/hackgods/opd-token-allocation/internal/config"
	"github.com/hackgods/opd-token-allocation/internal/db"
	redisclient "github.com/hackgods/opd-token-allocation/internal/redis"
	"github.com/hackgods/opd-token-allocation/internal/simulation"
	"github.com/hackgods/opd-token-allocation/internal/slotlock"
)

type App struct {
	Config     config.Config
	Log        zerolog.Logger
	Clinic     *clinic.Service
	Engine     *allocation.Engine
	Simulation *simulation.Runner
	Checks     []api.Check

	pgPool  *pgxpool.Pool
	closers []func()
}

// Open connects the configured store and lock backend. Postgres is not
// migrated here; call Migrate for that.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: log}

	var clinicRepo clinic.Repository
	var tokens allocation.TokenStore

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection error: %w", err)
		}
		a.pgPool = pool
		a.closers = append(a.closers, pool.Close)
		a.Checks = append(a.Checks, api.Check{Name: "postgres", Critical: true, Ping: pool.Ping})
		log.Info().Msg("connected to Postgres")

		clinicRepo = clinic.NewPgRepository(pool)
		tokens = allocation.NewPgTokenRepository(pool)

	case config.DriverSQLite:
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		a.Checks = append(a.Checks, api.Check{Name: "sqlite", Critical: true, Ping: conn.PingContext})
		log.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite")

		clinicRepo = clinic.NewSQLiteRepository(conn)
		tokens = allocation.NewSQLiteTokenRepository(conn)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	var locker slotlock.Locker
	switch cfg.LockBackend {
	case config.LockRedis:
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection error: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing redis")
			}
		})
		a.Checks = append(a.Checks, api.Check{Name: "redis", Critical: true, Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait)

	default:
		locker = slotlock.NewLocal(cfg.LockWait)
	}

	a.Clinic = clinic.NewService(clinicRepo, loc, log)
	a.Engine = allocation.NewEngine(clinicRepo, tokens, locker, log)
	a.Simulation = simulation.NewRunner(a.Clinic, a.Engine, log)
	return a, nil
}

// Migrate applies the Postgres schema. SQLite is migrated when opened.
func (a *App) Migrate(ctx context.Context) error {
	if a.pgPool == nil {
		return nil
	}
	if err := db.MigratePostgres(ctx, a.pgPool); err != nil {
		return err
	}
	a.Log.Info().Msg("postgres schema applied")
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
