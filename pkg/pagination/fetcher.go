package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sternrassler/qbo-backfill/pkg/auth"
	"github.com/Sternrassler/qbo-backfill/pkg/client"
	"github.com/Sternrassler/qbo-backfill/pkg/logging"
	"github.com/Sternrassler/qbo-backfill/pkg/record"
	"github.com/Sternrassler/qbo-backfill/pkg/window"
)

// Prometheus metrics for window fetching.
var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qbo_pages_fetched_total",
		Help: "Successful pages decoded",
	})

	recordsExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qbo_records_extracted_total",
		Help: "Records produced from fetched pages",
	})

	itemsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qbo_items_skipped_total",
		Help: "Items dropped because they carried no Id",
	})

	windowAbortsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbo_window_aborts_total",
		Help: "Windows whose pagination was cut short, by reason",
	}, []string{"reason"})

	windowDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qbo_window_duration_seconds",
		Help:    "Time spent draining one day window",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300},
	})
)

// ErrPermanent marks a window aborted by a non-retryable status.
var ErrPermanent = errors.New("permanent query failure")

// Querier performs one query attempt.
type Querier interface {
	Query(ctx context.Context, accessToken, query string) (*client.Response, error)
}

// TokenSource issues a fresh bearer credential.
type TokenSource interface {
	Obtain(ctx context.Context) (auth.Credential, error)
}

// Config holds fetcher configuration.
type Config struct {
	// Entity is the resource queried and the envelope key of its items.
	Entity string

	// PageSize is the MAXRESULTS of every page.
	PageSize int

	// Backoff is the per-page attempt budget and delay schedule.
	Backoff client.BackoffPolicy
}

// DefaultConfig returns 1000-record pages of Customer with 5 attempts each.
func DefaultConfig() Config {
	return Config{
		Entity:   "Customer",
		PageSize: 1000,
		Backoff:  client.DefaultBackoffPolicy(),
	}
}

// DailyMetrics summarises one window.
type DailyMetrics struct {
	Date     string
	Pages    int
	Rows     int
	Skipped  int
	Duration time.Duration
}

// DurationSeconds returns Duration in seconds.
func (m DailyMetrics) DurationSeconds() float64 {
	return m.Duration.Seconds()
}

// WindowResult is everything FetchWindow produced for one window.
type WindowResult struct {
	Records []record.ExtractedRecord

	Metrics DailyMetrics

	// Credential is the token to use next; it differs from the input when
	// a 401 forced a refresh.
	Credential auth.Credential

	// Refreshes counts token exchanges triggered by 401 responses.
	Refreshes int

	// Err is set when pagination stopped early. Records still holds every
	// page that succeeded before it.
	Err error
}

// Aborted reports whether pagination stopped before the last page.
func (r WindowResult) Aborted() bool {
	return r.Err != nil
}

// Fetcher drains windows page by page.
type Fetcher struct {
	querier Querier
	tokens  TokenSource
	config  Config
	emitter logging.Emitter
	now     func() time.Time
}

// NewFetcher creates a Fetcher.
func NewFetcher(q Querier, tokens TokenSource, cfg Config, emitter logging.Emitter) *Fetcher {
	def := DefaultConfig()
	if cfg.Entity == "" {
		cfg.Entity = def.Entity
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff.MaxAttempts = def.Backoff.MaxAttempts
	}
	if emitter == nil {
		emitter = logging.Nop{}
	}

	return &Fetcher{
		querier: q,
		tokens:  tokens,
		config:  cfg,
		emitter: emitter,
		now:     time.Now,
	}
}

// BuildQuery renders the query text for one page of w.
func BuildQuery(entity string, w window.TimeWindow, startPosition, pageSize int) string {
	return fmt.Sprintf(
		"SELECT * FROM %s WHERE MetaData.LastUpdatedTime >= '%s' AND MetaData.LastUpdatedTime <= '%s' STARTPOSITION %d MAXRESULTS %d",
		entity, w.QueryStart(), w.QueryEnd(), startPosition, pageSize,
	)
}

// PageNumber returns the 1-based page index of startPosition.
func PageNumber(startPosition, pageSize int) int {
	return startPosition/pageSize + 1
}

// FetchWindow requests every page of w using cred, refreshing it on 401.
func (f *Fetcher) FetchWindow(ctx context.Context, w window.TimeWindow, cred auth.Credential) WindowResult {
	started := f.now()
	res := WindowResult{
		Credential: cred,
		Metrics:    DailyMetrics{Date: w.Date()},
	}

	pageSize := f.config.PageSize
	for startPosition := 1; ; startPosition += pageSize {
		query := BuildQuery(f.config.Entity, w, startPosition, pageSize)
		pageNumber := PageNumber(startPosition, pageSize)

		logging.Emit(f.emitter, logging.LevelDebug, logging.PhaseFetch, "requesting page", map[string]any{
			"day":            w.Date(),
			"page":           pageNumber,
			"start_position": startPosition,
		})

		body, err := f.fetchPage(ctx, w, query, pageNumber, &res)
		if err != nil {
			res.Err = err
			break
		}

		items, err := client.DecodeItems(body, f.config.Entity)
		if err != nil {
			logging.EmitError(f.emitter, logging.PhaseError, "undecodable page, aborting window", err, map[string]any{
				"day":  w.Date(),
				"page": pageNumber,
			})
			windowAbortsTotal.WithLabelValues("decode").Inc()
			res.Err = fmt.Errorf("%w: page %d: %v", ErrPermanent, pageNumber, err)
			break
		}
		if len(items) == 0 {
			break
		}

		page := record.Page{
			Window:     w,
			Number:     pageNumber,
			Size:       len(items),
			Query:      query,
			IngestedAt: f.now(),
		}
		kept := 0
		for _, item := range items {
			rec, err := record.FromItem(item, page)
			if err != nil {
				res.Metrics.Skipped++
				itemsSkippedTotal.Inc()
				logging.EmitError(f.emitter, logging.PhaseError, "item skipped", err, map[string]any{
					"day":  w.Date(),
					"page": pageNumber,
				})
				continue
			}
			res.Records = append(res.Records, rec)
			kept++
		}
		res.Metrics.Pages++
		res.Metrics.Rows += kept
		pagesFetchedTotal.Inc()
		recordsExtractedTotal.Add(float64(kept))

		if len(items) < pageSize {
			break
		}
	}

	res.Metrics.Duration = f.now().Sub(started)
	windowDuration.Observe(res.Metrics.Duration.Seconds())
	return res
}

// fetchPage runs the attempt loop for one page and returns the 200 body.
func (f *Fetcher) fetchPage(ctx context.Context, w window.TimeWindow, query string, pageNumber int, res *WindowResult) ([]byte, error) {
	policy := f.config.Backoff

	var (
		lastErr   error
		lastClass client.ErrorClass
	)
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		fields := map[string]any{
			"day":     w.Date(),
			"page":    pageNumber,
			"attempt": attempt + 1,
		}

		resp, err := f.querier.Query(ctx, res.Credential.AccessToken, query)
		if err == nil {
			return resp.Body, nil
		}

		var qe *client.QueryError
		if !errors.As(err, &qe) {
			// Cancellation or a request that could not be built.
			windowAbortsTotal.WithLabelValues("cancelled").Inc()
			logging.EmitError(f.emitter, logging.PhaseError, "page request aborted", err, fields)
			return nil, err
		}
		lastErr, lastClass = err, qe.Class
		fields["status_code"] = qe.StatusCode

		switch qe.Class {
		case client.ErrorClassUnauthorized:
			logging.Emit(f.emitter, logging.LevelInfo, logging.PhaseAuth, "token expired, obtaining a new one", fields)
			cred, err := f.tokens.Obtain(ctx)
			res.Refreshes++
			if err != nil {
				lastErr = err
				continue
			}
			res.Credential = cred

		case client.ErrorClassRateLimit, client.ErrorClassServer, client.ErrorClassNetwork:
			if attempt == policy.MaxAttempts-1 {
				break
			}
			fields["wait"] = policy.Delay(attempt).String()
			logging.Emit(f.emitter, logging.LevelWarn, transientPhase(qe.Class), "transient failure, backing off", fields)
			if _, err := policy.Wait(ctx, qe.Class, attempt); err != nil {
				windowAbortsTotal.WithLabelValues("cancelled").Inc()
				return nil, err
			}

		default:
			logging.EmitError(f.emitter, logging.PhaseError, "permanent failure, aborting window", err, fields)
			windowAbortsTotal.WithLabelValues("permanent").Inc()
			return nil, fmt.Errorf("%w: %w", ErrPermanent, err)
		}
	}

	err := policy.Exhausted(lastClass, lastErr)
	logging.EmitError(f.emitter, logging.PhaseRetryExhausted, "attempts exhausted, aborting window", err, map[string]any{
		"day":      w.Date(),
		"page":     pageNumber,
		"attempts": policy.MaxAttempts,
	})
	windowAbortsTotal.WithLabelValues("exhausted").Inc()
	return nil, err
}

func transientPhase(class client.ErrorClass) logging.Phase {
	switch class {
	case client.ErrorClassRateLimit:
		return logging.PhaseRateLimit
	case client.ErrorClassServer:
		return logging.PhaseServer
	default:
		return logging.PhaseNetwork
	}
}
