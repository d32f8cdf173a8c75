package database

import (
	"context"

	"github.com/bardlex/gompminer/internal/database/influx"
	"github.com/bardlex/gompminer/internal/database/postgres"
	"github.com/bardlex/gompminer/internal/database/redis"
	"github.com/bardlex/gompminer/internal/reporting"
	"github.com/bardlex/gompminer/pkg/errors"
)

// JournalSink appends every share event to PostgreSQL.
type JournalSink struct {
	shares *postgres.ShareRepository
	client *postgres.Client
}

func (s *JournalSink) Name() string { return "postgres" }

func (s *JournalSink) RecordShare(ctx context.Context, ev reporting.ShareEvent) error {
	if err := s.shares.CreateShare(ctx, postgres.ShareFromEvent(ev)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "record_share",
			"failed to store share in PostgreSQL").
			WithContext("job_id", ev.JobID).
			WithContext("status", string(ev.Status))
	}
	return nil
}

// RecordStats is a no-op; the journal holds shares only.
func (s *JournalSink) RecordStats(context.Context, reporting.StatsSnapshot) error { return nil }

func (s *JournalSink) Close() error { return s.client.Close() }

// LiveStatsSink keeps the latest snapshot and per-status counters in Redis.
type LiveStatsSink struct {
	client *redis.Client
}

func (s *LiveStatsSink) Name() string { return "redis" }

func (s *LiveStatsSink) RecordShare(ctx context.Context, ev reporting.ShareEvent) error {
	if _, err := s.client.IncrementCounter(ctx, s.client.CounterKey(ev.Status)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "redis_share_counter",
			"failed to update share counter in Redis").
			WithContext("status", string(ev.Status))
	}
	return nil
}

func (s *LiveStatsSink) RecordStats(ctx context.Context, snap reporting.StatsSnapshot) error {
	if err := s.client.SetStats(ctx, snap); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "redis_stats",
			"failed to update stats in Redis")
	}
	return nil
}

func (s *LiveStatsSink) Close() error { return s.client.Close() }

// TimeSeriesSink writes shares and hashrate to InfluxDB.
type TimeSeriesSink struct {
	client *influx.Client
}

func (s *TimeSeriesSink) Name() string { return "influx" }

func (s *TimeSeriesSink) RecordShare(ctx context.Context, ev reporting.ShareEvent) error {
	if err := s.client.WriteShareMetric(ctx, ev); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "influx_share", "failed to write share metric")
	}
	return nil
}

func (s *TimeSeriesSink) RecordStats(ctx context.Context, snap reporting.StatsSnapshot) error {
	if err := s.client.WriteHashrateMetric(ctx, snap); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "influx_hashrate", "failed to write hashrate metric")
	}
	return nil
}

func (s *TimeSeriesSink) Close() error { return s.client.Close() }
