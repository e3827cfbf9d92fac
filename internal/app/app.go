// Package app wires the engine's components from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"qrlogin/attendance-service/internal/calendar"
	"qrlogin/attendance-service/internal/config"
	"qrlogin/attendance-service/internal/credential"
	"qrlogin/attendance-service/internal/directory"
	"qrlogin/attendance-service/internal/events"
	"qrlogin/attendance-service/internal/report"
	"qrlogin/attendance-service/internal/session"
	"qrlogin/attendance-service/internal/store"
	"qrlogin/attendance-service/internal/store/memory"
	"qrlogin/attendance-service/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
)

type App struct {
	Store     store.Store
	Directory *directory.Directory
	Calendar  *calendar.Service
	Sessions  *session.Manager
	Reports   *report.Aggregator
	Location  *time.Location
	// Admin is nil when ADMIN_PASSWORD_HASH is unset.
	Admin     *credential.AdminAccount

	closers []func()
}

// Build connects the store and publisher named by cfg. Without DB_DSN the
// in-process store is used and nothing survives a restart.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &App{Location: loc}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if cfg.Migrate {
			if err := postgres.Migrate(pool, logger); err != nil {
				a.Close()
				return nil, err
			}
		}
		a.Store = postgres.NewStore(pool, postgres.Options{
			OpTimeout:   cfg.StoreOpTimeout,
			LockTimeout: cfg.LockTimeout,
			Location:    loc,
		})
	} else {
		logger.Warn("DB_DSN not set, using in-memory store")
		a.Store = memory.New(memory.WithLockTimeout(cfg.LockTimeout))
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.RedisURL != "" {
		redisPublisher, err := events.NewRedisPublisher(cfg.RedisURL, events.StreamAttendance)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := redisPublisher.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, change events may be dropped", "error", err)
		}
		a.closers = append(a.closers, func() { _ = redisPublisher.Close() })
		publisher = redisPublisher
	}

	hasher := credential.NewHasher(cfg.PBKDF2Iterations)
	if cfg.AdminPasswordHash != "" {
		admin, err := credential.ParseAdminAccount(cfg.AdminUser, cfg.AdminPasswordHash, hasher)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("admin credential: %w", err)
		}
		a.Admin = admin
	} else {
		logger.Warn("ADMIN_PASSWORD_HASH not set, admin routes are disabled")
	}

	a.Directory = directory.New(a.Store, hasher, directory.Options{
		Prefix: cfg.EmployeeIDPrefix,
		Logger: logger,
	})
	a.Calendar = calendar.NewService(a.Store, logger)
	a.Sessions = session.NewManager(a.Store, a.Directory, a.Calendar, session.Options{
		Location:          loc,
		Logger:            logger,
		Publisher:         publisher,
		LeaveSkipWeekends: cfg.LeaveSkipWeekends,
	})
	a.Reports = report.NewAggregator(a.Store, a.Directory, a.Calendar, report.Options{
		Policy: report.Policy{
			ExcludeWeekends: cfg.ReportExcludeWeekends,
			ExcludeHolidays: cfg.ReportExcludeHolidays,
			InferAbsent:     cfg.ReportInferAbsent,
		},
		Location: loc,
	})
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
