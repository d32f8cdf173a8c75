// Package database connects the optional storage backends and exposes each
// as a reporting sink.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/bardlex/gompminer/internal/database/influx"
	"github.com/bardlex/gompminer/internal/database/postgres"
	"github.com/bardlex/gompminer/internal/database/redis"
	"github.com/bardlex/gompminer/internal/reporting"
	"github.com/bardlex/gompminer/pkg/errors"
	"github.com/bardlex/gompminer/pkg/log"
)

// Manager owns the configured backends. Any of them may be nil.
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	logger *log.Logger
}

// Config selects the backends to connect; empty URLs disable a backend.
type Config struct {
	PostgresURL string
	RedisURL    string
	// RedisPrefix namespaces Redis keys, normally the worker name.
	RedisPrefix string
	// Influx is nil when InfluxDB is disabled.
	Influx *influx.Config
}

// NewManager connects every configured backend. If one fails, the ones
// already opened are closed again.
func NewManager(ctx context.Context, cfg *Config, logger *log.Logger) (*Manager, error) {
	m := &Manager{logger: logger.WithComponent("database")}

	if cfg.PostgresURL != "" {
		pg, err := postgres.NewClient(ctx, postgres.DefaultConfig(cfg.PostgresURL))
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
				"failed to connect to PostgreSQL database"))
		}
		m.Postgres = pg
		m.logger.Info("share journal enabled", "backend", "postgres")
	}

	if cfg.RedisURL != "" {
		rc, err := redis.NewClient(ctx, &redis.Config{URL: cfg.RedisURL, Prefix: cfg.RedisPrefix})
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database"))
		}
		m.Redis = rc
		m.logger.Info("live stats enabled", "backend", "redis")
	}

	if cfg.Influx != nil && cfg.Influx.URL != "" {
		ic, err := influx.NewClient(ctx, cfg.Influx)
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
				"failed to connect to InfluxDB database"))
		}
		m.Influx = ic
		m.logger.Info("time series enabled", "backend", "influx")
	}

	return m, nil
}

// abort closes what was opened and returns err with any cleanup failures
// attached.
func (m *Manager) abort(err *errors.ServiceError) error {
	if closeErr := m.Close(); closeErr != nil {
		return err.WithContext("cleanup_errors", closeErr.Error())
	}
	return err
}

// Close closes every backend. Use it only when the sinks were never handed
// to a reporter, which closes them itself.
func (m *Manager) Close() error {
	var errs []error

	if m.Postgres != nil {
		if err := m.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
		}
	}
	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}
	if m.Influx != nil {
		_ = m.Influx.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}
	return nil
}

// Health checks every configured backend.
func (m *Manager) Health(ctx context.Context) error {
	if m.Postgres != nil {
		if err := m.Postgres.Health(ctx); err != nil {
			return fmt.Errorf("PostgreSQL health check failed: %w", err)
		}
	}
	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}
	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}
	return nil
}

// Sinks returns one reporting sink per configured backend.
func (m *Manager) Sinks() []reporting.Sink {
	var sinks []reporting.Sink
	if m.Postgres != nil {
		sinks = append(sinks, &JournalSink{shares: m.Postgres.Shares(), client: m.Postgres})
	}
	if m.Redis != nil {
		sinks = append(sinks, &LiveStatsSink{client: m.Redis})
	}
	if m.Influx != nil {
		sinks = append(sinks, &TimeSeriesSink{client: m.Influx})
	}
	return sinks
}

// JournalCounts returns per-status journal counts over the last window, or
// nil when no journal is configured.
func (m *Manager) JournalCounts(ctx context.Context, window time.Duration) (map[reporting.ShareStatus]int64, error) {
	if m.Postgres == nil {
		return nil, nil
	}
	counts, err := m.Postgres.Shares().CountByStatus(ctx, time.Now().Add(-window))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "journal_counts", "failed to read share journal")
	}
	return counts, nil
}
