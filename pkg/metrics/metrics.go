// Package metrics exposes the Prometheus metrics of a backfill run.
// All metrics are defined in their respective packages (client, ratelimit,
// pagination, extract, sink, auth) and registered via promauto.
//
// This package provides the exposition endpoint and the catalogue below.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the backfill.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default gatherer in the text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server exposes /metrics for the lifetime of a run.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// Start listens on addr and serves /metrics in the background. An empty
// addr disables exposition and returns a nil *Server.
func Start(addr string, logger zerolog.Logger) (*Server, error) {
	if addr == "" {
		return nil, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	s := &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")

	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server. Safe on a nil *Server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Metrics Documentation
//
// Auth Metrics (pkg/auth):
//   - qbo_token_refreshes_total{outcome} (Counter): Token exchanges by outcome (success, failure)
//
// Pacing Metrics (pkg/ratelimit):
//   - qbo_pacer_wait_seconds (Histogram): Wait for a pacing slot before a request
//   - qbo_pacer_throttled_total (Counter): Requests delayed by client-side pacing
//
// Request Metrics (pkg/client):
//   - qbo_requests_total{status} (Counter): Query requests by HTTP status or network_error
//   - qbo_request_duration_seconds (Histogram): Query request duration
//   - qbo_errors_total{class} (Counter): Failed attempts by class (unauthorized, rate_limit, server, network, client)
//
// Retry Metrics (pkg/client):
//   - qbo_retries_total{error_class} (Counter): Backoff retries by error class
//   - qbo_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - qbo_retry_exhausted_total{error_class} (Counter): Pages that used up all attempts
//
// Window Metrics (pkg/pagination):
//   - qbo_pages_fetched_total (Counter): Pages decoded
//   - qbo_records_extracted_total (Counter): Records produced
//   - qbo_items_skipped_total (Counter): Items without an Id
//   - qbo_window_aborts_total{reason} (Counter): Windows cut short (permanent, exhausted, decode, cancelled)
//   - qbo_window_duration_seconds (Histogram): Time to drain one day
//
// Run Metrics (pkg/extract):
//   - qbo_days_processed_total{outcome} (Counter): Days by outcome (ok, empty, aborted)
//   - qbo_last_run_records (Gauge): Records extracted by the latest run
//
// Sink Metrics (pkg/sink):
//   - qbo_sink_batches_total{driver, outcome} (Counter): Batches committed, rolled back or skipped
//   - qbo_sink_rows_total{driver} (Counter): Rows committed
//   - qbo_sink_duration_seconds{driver} (Histogram): Upsert transaction duration
//
// Example Prometheus Queries:
//
//   # Throttling share of failed attempts
//   sum(rate(qbo_errors_total{class="rate_limit"}[5m])) / sum(rate(qbo_errors_total[5m]))
//
//   # Aborted days
//   increase(qbo_days_processed_total{outcome="aborted"}[1d])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(qbo_request_duration_seconds_bucket[5m]))
