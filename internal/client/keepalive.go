package client

import (
	"context"
	"time"

	"github.com/bardlex/gompminer/pkg/log"
)

// DefaultKeepaliveInterval is how often mining.authorize is re-sent.
const DefaultKeepaliveInterval = 45 * time.Second

// Keepalive periodically re-sends mining.authorize on the session's
// connection.
type Keepalive struct {
	interval time.Duration
	send     func(ctx context.Context) error
	logger   *log.Logger
}

// NewKeepalive creates a scheduler calling send every interval.
func NewKeepalive(interval time.Duration, send func(ctx context.Context) error, logger *log.Logger) *Keepalive {
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	return &Keepalive{
		interval: interval,
		send:     send,
		logger:   logger.WithComponent("keepalive"),
	}
}

// Run sends until ctx ends or a send fails. It returns nil on cancellation.
func (k *Keepalive) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := k.send(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			k.logger.Debug("keepalive sent")
		}
	}
}
