// Package ratelimit paces outbound query requests so a long backfill stays
// under the upstream per-realm request quota.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request pacing.
var (
	pacerWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qbo_pacer_wait_seconds",
		Help:    "Time spent waiting for a pacing token before a request",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	pacerThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qbo_pacer_throttled_total",
		Help: "Requests delayed by client-side pacing",
	})
)

// throttleThreshold is the wait above which a request counts as throttled.
const throttleThreshold = 10 * time.Millisecond

// Pacer spaces requests evenly across a minute. A nil *Pacer never waits.
type Pacer struct {
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewPacer returns a Pacer allowing requestsPerMinute requests per minute
// with a burst of one. A value <= 0 disables pacing and returns nil.
func NewPacer(requestsPerMinute int, logger zerolog.Logger) *Pacer {
	if requestsPerMinute <= 0 {
		return nil
	}
	every := time.Minute / time.Duration(requestsPerMinute)
	return &Pacer{
		limiter: rate.NewLimiter(rate.Every(every), 1),
		logger:  logger,
	}
}

// Wait blocks until the next request may be sent or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}

	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}

	waited := time.Since(start)
	pacerWaitSeconds.Observe(waited.Seconds())
	if waited > throttleThreshold {
		pacerThrottledTotal.Inc()
		p.logger.Debug().Dur("wait", waited).Msg("Request paced")
	}
	return nil
}

// Interval returns the spacing between requests, or zero when disabled.
func (p *Pacer) Interval() time.Duration {
	if p == nil {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(p.limiter.Limit()))
}
