// Package metrics exposes the miner's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bardlex/gompminer/pkg/circuit"
)

var (
	SessionPhase = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gompminer",
		Name:      "session_phase",
		Help:      "Session phase: 0 disconnected, 1 connecting, 2 subscribed, 3 authorized.",
	})

	PoolDifficulty = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gompminer",
		Name:      "pool_difficulty",
		Help:      "Share difficulty last set by the pool.",
	})

	Hashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gompminer",
		Name:      "hashrate",
		Help:      "Hashrate over the last stats interval in H/s.",
	})

	HashesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gompminer",
		Name:      "hashes_total",
		Help:      "Total header hashes computed.",
	})

	JobsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gompminer",
		Name:      "jobs_received_total",
		Help:      "Jobs received from the pool by clean flag.",
	}, []string{"clean"})

	JobsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gompminer",
		Name:      "jobs_discarded_total",
		Help:      "Queued jobs dropped by a clean job or a full queue.",
	})

	Shares = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gompminer",
		Name:      "shares_total",
		Help:      "Shares by outcome (submitted, accepted, rejected, stale, invalid).",
	}, []string{"status"})

	BlockCandidates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gompminer",
		Name:      "block_candidates_total",
		Help:      "Shares whose hash also met the network target.",
	})

	ProtocolErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gompminer",
		Name:      "protocol_errors_total",
		Help:      "Inbound lines that could not be decoded.",
	})

	ReportDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gompminer",
		Name:      "report_events_dropped_total",
		Help:      "Reporting events dropped because the buffer was full.",
	})

	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gompminer",
		Name:      "sink_breaker_state",
		Help:      "Circuit breaker state per reporting sink: 0 closed, 1 open, 2 half-open.",
	}, []string{"sink"})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gompminer",
		Name:      "uptime_seconds",
		Help:      "Miner uptime in seconds.",
	})
)

func init() {
	prometheus.MustRegister(
		SessionPhase,
		PoolDifficulty,
		Hashrate,
		HashesTotal,
		JobsReceived,
		JobsDiscarded,
		Shares,
		BlockCandidates,
		ProtocolErrors,
		ReportDropped,
		BreakerState,
		UptimeSeconds,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBreaker records a breaker transition. Its signature matches
// circuit.Config.OnStateChange.
func ObserveBreaker(name string, _, to circuit.State) {
	BreakerState.WithLabelValues(name).Set(float64(to))
}
