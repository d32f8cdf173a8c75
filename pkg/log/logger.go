// Package log provides structured logging for the miner.
// It wraps the standard library's slog package with Stratum-specific helpers.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a logger writing to stdout.
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	var handler slog.Handler

	logLevel := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler).With(
			"service", service,
			"version", version,
		),
		service: service,
		version: version,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWithWriter(io.Discard, "nop", "", "error", "text")
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithPool returns a logger tagged with the pool endpoint and worker name
func (l *Logger) WithPool(addr, user string) *Logger {
	return l.WithFields("pool", addr, "user", user)
}

// WithJob returns a logger with job-specific fields
func (l *Logger) WithJob(jobID string, clean bool) *Logger {
	return l.WithFields("job_id", jobID, "clean_jobs", clean)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogConnection logs connection events
func (l *Logger) LogConnection(event, remoteAddr string) {
	l.Info("connection event",
		"event", event,
		"remote_addr", remoteAddr,
	)
}

// LogStratumMessage logs Stratum protocol messages (debug level)
func (l *Logger) LogStratumMessage(direction, message string) {
	l.Debug("stratum message",
		"direction", direction,
		"message", message,
	)
}

// LogJobReceived logs a mining.notify that was queued
func (l *Logger) LogJobReceived(jobID string, cleanJobs bool, queued int) {
	l.Info("job received",
		"job_id", jobID,
		"clean_jobs", cleanJobs,
		"queued", queued,
	)
}

// LogShareSubmission logs a share sent to or answered by the pool
func (l *Logger) LogShareSubmission(jobID, extraNonce2, nonce string, difficulty float64, status string) {
	l.Info("share submission",
		"job_id", jobID,
		"extranonce2", extraNonce2,
		"nonce", nonce,
		"difficulty", difficulty,
		"status", status,
	)
}

// LogBlockCandidate logs a share whose hash also meets the network target
func (l *Logger) LogBlockCandidate(blockHash, jobID string) {
	l.Warn("share meets network target",
		"block_hash", blockHash,
		"job_id", jobID,
	)
}

// LogThroughput logs hashing throughput over an interval
func (l *Logger) LogThroughput(hashes uint64, interval time.Duration) {
	if interval <= 0 {
		return
	}
	l.Info("hashrate",
		"hashes", hashes,
		"interval", interval.String(),
		"hashes_per_sec", float64(hashes)/interval.Seconds(),
	)
}
