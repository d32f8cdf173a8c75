// Package status serves the miner's health, stats and Prometheus endpoints.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/bardlex/gompminer/internal/metrics"
	"github.com/bardlex/gompminer/internal/reporting"
	"github.com/bardlex/gompminer/pkg/log"
)

// StatsProvider returns the current session snapshot.
type StatsProvider interface {
	Snapshot() reporting.StatsSnapshot
}

// Options wires optional data sources into the router.
type Options struct {
	// Health, if set, is consulted by /health in addition to the session.
	Health func(ctx context.Context) error
	// Journal, if set, adds per-status share counts to /stats.
	Journal func(ctx context.Context) (map[reporting.ShareStatus]int64, error)
}

type healthResult struct {
	Status string `json:"status"`
	Phase  string `json:"phase"`
	Error  string `json:"error,omitempty"`
}

type statsResult struct {
	reporting.StatsSnapshot
	UptimeText string                          `json:"uptime_text"`
	Journal    map[reporting.ShareStatus]int64 `json:"journal,omitempty"`
}

// NewRouter builds the HTTP routes.
func NewRouter(stats StatsProvider, opts Options, logger *log.Logger) *mux.Router {
	serveMux := mux.NewRouter()

	serveMux.HandleFunc("/health", func(writer http.ResponseWriter, request *http.Request) {
		snap := stats.Snapshot()
		result := healthResult{Status: "ok", Phase: snap.Phase}
		code := http.StatusOK

		if opts.Health != nil {
			if err := opts.Health(request.Context()); err != nil {
				result.Status = "degraded"
				result.Error = err.Error()
				code = http.StatusServiceUnavailable
			}
		}

		writeJSON(writer, code, result, logger)
	}).Methods(http.MethodGet)

	serveMux.HandleFunc("/stats", func(writer http.ResponseWriter, request *http.Request) {
		snap := stats.Snapshot()
		result := statsResult{StatsSnapshot: snap, UptimeText: reporting.FormatUptime(snap.Uptime)}

		if opts.Journal != nil {
			counts, err := opts.Journal(request.Context())
			if err != nil {
				logger.WithError(err).Warn("journal counts unavailable")
			} else {
				result.Journal = counts
			}
		}

		writeJSON(writer, http.StatusOK, result, logger)
	}).Methods(http.MethodGet)

	serveMux.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return serveMux
}

func writeJSON(writer http.ResponseWriter, code int, v any, logger *log.Logger) {
	buf, err := json.Marshal(v)
	if err != nil {
		logger.WithError(err).Error("failed to encode response")
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(code)
	_, _ = writer.Write(buf)
}

// Server is the status HTTP server.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *log.Logger
}

// Listen binds addr. The listener is opened eagerly so a bad address fails
// at startup.
func Listen(addr string, handler http.Handler, logger *log.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		listener: listener,
		logger:   logger.WithComponent("status"),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", s.Addr())
		errCh <- s.server.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
