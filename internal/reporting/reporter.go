package reporting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/gompminer/pkg/circuit"
	"github.com/bardlex/gompminer/pkg/log"
	"github.com/bardlex/gompminer/pkg/retry"
)

// DefaultBufferSize is the number of events queued before new ones are dropped.
const DefaultBufferSize = 256

// sinkTimeout bounds one delivery attempt sequence to one sink.
const sinkTimeout = 5 * time.Second

// Config configures a Reporter.
type Config struct {
	BufferSize int
	// OnBreakerChange is installed on every sink's breaker.
	OnBreakerChange func(name string, from, to circuit.State)
	// OnDrop is called when an event is dropped because the buffer is full.
	OnDrop func()
}

type event struct {
	share *ShareEvent
	stats *StatsSnapshot
}

type guardedSink struct {
	sink    Sink
	breaker *circuit.Breaker
}

// Reporter delivers events to every sink on its own goroutine. Publishing
// never blocks; a full buffer drops the event.
type Reporter struct {
	sinks  []guardedSink
	events chan event
	logger *log.Logger
	onDrop func()
	retry  *retry.Config

	dropped atomic.Uint64

	started   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// New creates a reporter over sinks. Call Run to start delivery.
func New(config Config, logger *log.Logger, sinks ...Sink) *Reporter {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}

	r := &Reporter{
		events:  make(chan event, config.BufferSize),
		logger:  logger.WithComponent("reporting"),
		onDrop:  config.OnDrop,
		retry:   retry.SinkConfig(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, s := range sinks {
		cbConfig := circuit.DefaultConfig(s.Name())
		cbConfig.OnStateChange = func(name string, from, to circuit.State) {
			r.logger.Warn("sink breaker state changed", "sink", name, "from", from.String(), "to", to.String())
			if config.OnBreakerChange != nil {
				config.OnBreakerChange(name, from, to)
			}
		}
		r.sinks = append(r.sinks, guardedSink{sink: s, breaker: circuit.New(cbConfig)})
	}
	return r
}

// Enabled reports whether any sink is configured.
func (r *Reporter) Enabled() bool {
	return len(r.sinks) > 0
}

// Share queues a share event.
func (r *Reporter) Share(ev ShareEvent) {
	r.publish(event{share: &ev})
}

// Stats queues a stats snapshot.
func (r *Reporter) Stats(snap StatsSnapshot) {
	r.publish(event{stats: &snap})
}

// Dropped returns how many events were discarded.
func (r *Reporter) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Reporter) publish(ev event) {
	if !r.Enabled() {
		return
	}
	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
		if r.onDrop != nil {
			r.onDrop()
		}
		r.logger.Debug("reporting buffer full, dropping event")
	}
}

// Run delivers events until ctx is cancelled or Close is called, then
// drains what is already queued.
func (r *Reporter) Run(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	defer close(r.stopped)

	for {
		select {
		case ev := <-r.events:
			r.deliver(ctx, ev)
		case <-ctx.Done():
			r.drain()
			return
		case <-r.done:
			r.drain()
			return
		}
	}
}

func (r *Reporter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	for {
		select {
		case ev := <-r.events:
			r.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (r *Reporter) deliver(ctx context.Context, ev event) {
	for _, gs := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := gs.breaker.Execute(sctx, func() error {
			return retry.Do(sctx, r.retry, func() error {
				if ev.share != nil {
					return gs.sink.RecordShare(sctx, *ev.share)
				}
				return gs.sink.RecordStats(sctx, *ev.stats)
			})
		})
		cancel()

		if err != nil {
			r.logger.WithError(err).Warn("sink delivery failed", "sink", gs.sink.Name())
		}
	}
}

// Close stops delivery, waits for a running Run to drain, and closes every
// sink.
func (r *Reporter) Close() error {
	var firstErr error
	r.closeOnce.Do(func() {
		close(r.done)
		if r.started.Load() {
			<-r.stopped
		}
		for _, gs := range r.sinks {
			if err := gs.sink.Close(); err != nil {
				r.logger.WithError(err).Error("failed to close sink", "sink", gs.sink.Name())
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	})
	return firstErr
}
