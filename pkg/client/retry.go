package client

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbo_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qbo_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbo_retry_exhausted_total",
		Help: "Total number of pages whose attempts were exhausted, by last error class",
	}, []string{"error_class"})
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BackoffPolicy is the per-page attempt budget and its exponential delay.
type BackoffPolicy struct {
	// MaxAttempts is the number of attempts per page, refreshes included.
	MaxAttempts int

	// Base is the delay before the retry following attempt index 0.
	// Attempt index i waits Base * 2^i.
	Base time.Duration

	// Sleep waits out a delay. Nil uses SleepContext.
	Sleep Sleeper
}

// DefaultBackoffPolicy returns 5 attempts with 1s, 2s, 4s, 8s, 16s delays.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 5,
		Base:        time.Second,
		Sleep:       SleepContext,
	}
}

// Delay returns the wait after the attempt with the given zero-based index.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return p.Base * time.Duration(1<<uint(attempt))
}

// Wait sleeps for Delay(attempt) and records the retry under class.
func (p BackoffPolicy) Wait(ctx context.Context, class ErrorClass, attempt int) (time.Duration, error) {
	d := p.Delay(attempt)

	retriesTotal.WithLabelValues(string(class)).Inc()
	retryBackoffSeconds.WithLabelValues(string(class)).Observe(d.Seconds())

	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	if err := sleep(ctx, d); err != nil {
		return d, fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}
	return d, nil
}

// Exhausted records that a page used up its attempts and returns the error
// describing it.
func (p BackoffPolicy) Exhausted(class ErrorClass, last error) error {
	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, p.MaxAttempts, last)
}
