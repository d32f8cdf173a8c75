// Package influx writes share and hashrate time series to InfluxDB.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/gompminer/internal/reporting"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.Health(healthCtx); err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the InfluxDB connection
func (c *Client) Close() error {
	c.client.Close()
	return nil
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return nil
}

// WriteShareMetric writes one share event
func (c *Client) WriteShareMetric(ctx context.Context, ev reporting.ShareEvent) error {
	if err := c.writeAPI.WritePoint(ctx, SharePoint(ev)); err != nil {
		return fmt.Errorf("failed to write share point: %w", err)
	}
	return nil
}

// WriteHashrateMetric writes a stats snapshot as a hashrate point
func (c *Client) WriteHashrateMetric(ctx context.Context, snap reporting.StatsSnapshot) error {
	if err := c.writeAPI.WritePoint(ctx, HashratePoint(snap)); err != nil {
		return fmt.Errorf("failed to write hashrate point: %w", err)
	}
	return nil
}

// SharePoint builds the "shares" measurement for an event.
func SharePoint(ev reporting.ShareEvent) *write.Point {
	tags := map[string]string{
		"pool":   ev.Pool,
		"user":   ev.User,
		"status": string(ev.Status),
		"block":  strconv.FormatBool(ev.BlockCandidate),
	}

	fields := map[string]interface{}{
		"difficulty":        ev.Difficulty,
		"target_difficulty": ev.TargetDifficulty,
		"count":             1,
	}

	return write.NewPoint("shares", compact(tags), fields, timestamp(ev.At))
}

// HashratePoint builds the "hashrate" measurement for a snapshot.
func HashratePoint(snap reporting.StatsSnapshot) *write.Point {
	tags := map[string]string{
		"pool": snap.Pool,
		"user": snap.User,
	}

	fields := map[string]interface{}{
		"hashrate":        snap.Hashrate,
		"difficulty":      snap.Difficulty,
		"shares_accepted": int64(snap.SharesAccepted),
		"shares_rejected": int64(snap.SharesRejected),
		"shares_stale":    int64(snap.SharesStale),
	}

	return write.NewPoint("hashrate", compact(tags), fields, timestamp(snap.At))
}

func timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// compact drops empty tag values, which line protocol cannot carry.
func compact(tags map[string]string) map[string]string {
	for k, v := range tags {
		if v == "" {
			delete(tags, k)
		}
	}
	return tags
}
