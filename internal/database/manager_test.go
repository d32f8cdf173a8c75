package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardlex/gompminer/internal/database/influx"
	"github.com/bardlex/gompminer/internal/reporting"
	minerErrors "github.com/bardlex/gompminer/pkg/errors"
	"github.com/bardlex/gompminer/pkg/log"
)

func TestNewManager_NothingConfigured(t *testing.T) {
	m, err := NewManager(context.Background(), &Config{Influx: &influx.Config{}}, log.Nop())
	require.NoError(t, err)

	assert.Empty(t, m.Sinks())
	assert.NoError(t, m.Health(context.Background()))

	counts, err := m.JournalCounts(context.Background(), time.Hour)
	assert.NoError(t, err)
	assert.Nil(t, counts)
	assert.NoError(t, m.Close())
}

func TestNewManager_BadRedisURL(t *testing.T) {
	_, err := NewManager(context.Background(), &Config{RedisURL: "not-a-url://"}, log.Nop())
	require.Error(t, err)
	assert.True(t, minerErrors.IsType(err, minerErrors.ErrorTypeDatabase))
}

// The tests below need live backends and are skipped unless the matching
// environment variable points at one.

func TestIntegration_PostgresJournal(t *testing.T) {
	url := os.Getenv("GOMPMINER_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("GOMPMINER_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	m, err := NewManager(ctx, &Config{PostgresURL: url}, log.Nop())
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	sinks := m.Sinks()
	require.Len(t, sinks, 1)
	require.NoError(t, sinks[0].RecordShare(ctx, reporting.ShareEvent{
		Pool: "test", User: "worker1", JobID: "job-1", Nonce: "00000001",
		Status: reporting.StatusAccepted, At: time.Now(),
	}))

	counts, err := m.JournalCounts(ctx, time.Minute)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts[reporting.StatusAccepted], int64(1))
}

func TestIntegration_RedisLiveStats(t *testing.T) {
	url := os.Getenv("GOMPMINER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("GOMPMINER_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	m, err := NewManager(ctx, &Config{RedisURL: url, RedisPrefix: "test-" + t.Name()}, log.Nop())
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	sink := m.Sinks()[0]
	require.NoError(t, sink.RecordShare(ctx, reporting.ShareEvent{Status: reporting.StatusRejected}))
	require.NoError(t, sink.RecordStats(ctx, reporting.StatsSnapshot{User: "worker1", SharesAccepted: 4, At: time.Now()}))

	n, err := m.Redis.GetCounter(ctx, m.Redis.CounterKey(reporting.StatusRejected))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	stats, err := m.Redis.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4", stats["shares_accepted"])
	assert.Equal(t, "worker1", stats["user"])
}
