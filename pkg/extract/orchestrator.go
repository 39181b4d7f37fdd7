// Package extract walks a date range day by day, collects the records of
// every window and hands the complete batch to the sink.
package extract

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sternrassler/qbo-backfill/pkg/auth"
	"github.com/Sternrassler/qbo-backfill/pkg/config"
	"github.com/Sternrassler/qbo-backfill/pkg/logging"
	"github.com/Sternrassler/qbo-backfill/pkg/pagination"
	"github.com/Sternrassler/qbo-backfill/pkg/record"
	"github.com/Sternrassler/qbo-backfill/pkg/window"
)

// Prometheus metrics for runs.
var (
	daysProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbo_days_processed_total",
		Help: "Day windows processed by outcome (ok, empty, aborted)",
	}, []string{"outcome"})

	lastRunRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qbo_last_run_records",
		Help: "Records extracted by the most recent run",
	})
)

// WindowFetcher drains one day window.
type WindowFetcher interface {
	FetchWindow(ctx context.Context, w window.TimeWindow, cred auth.Credential) pagination.WindowResult
}

// DayReport is the outcome of one window.
type DayReport struct {
	Window    window.TimeWindow
	Metrics   pagination.DailyMetrics
	Refreshes int
	Err       error
}

// RunResult is everything a run extracted.
type RunResult struct {
	RunID   string
	Range   window.Range
	Records []record.ExtractedRecord
	Days    []DayReport

	// Refreshes counts 401-triggered token exchanges across all windows.
	Refreshes int
}

// AbortedDays returns the number of windows that stopped early.
func (r RunResult) AbortedDays() int {
	n := 0
	for _, d := range r.Days {
		if d.Err != nil {
			n++
		}
	}
	return n
}

// Orchestrator runs the day loop.
type Orchestrator struct {
	tokens  pagination.TokenSource
	fetcher WindowFetcher
	emitter logging.Emitter
	now     func() time.Time
	newID   func() string
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(tokens pagination.TokenSource, fetcher WindowFetcher, emitter logging.Emitter) *Orchestrator {
	if emitter == nil {
		emitter = logging.Nop{}
	}
	return &Orchestrator{
		tokens:  tokens,
		fetcher: fetcher,
		emitter: emitter,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Run extracts every day of [start, end]. Empty strings select the trailing
// two-day default. Only an invalid range, a failed initial token exchange
// or a cancelled ctx return an error; aborted windows are reported in
// RunResult.Days.
func (o *Orchestrator) Run(ctx context.Context, start, end string) (RunResult, error) {
	res := RunResult{RunID: o.newID()}
	emitter := withRunID(o.emitter, res.RunID)

	r, err := window.Resolve(start, end, o.now())
	if err != nil {
		cfgErr := &config.ConfigError{Field: "date_range", Err: err}
		logging.EmitError(emitter, logging.PhaseConfigError, "invalid date range", cfgErr, nil)
		return res, cfgErr
	}
	res.Range = r

	logging.Emit(emitter, logging.LevelInfo, logging.PhaseInit, "starting extraction", map[string]any{
		"start": r.Start.Format(window.DateLayout),
		"end":   r.End.Format(window.DateLayout),
		"days":  r.Days(),
	})

	cred, err := o.tokens.Obtain(ctx)
	if err != nil {
		logging.EmitError(emitter, logging.PhaseCritical, "initial token exchange failed, aborting run", err, nil)
		return res, err
	}

	for _, w := range r.Windows() {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		wr := o.fetcher.FetchWindow(ctx, w, cred)
		cred = wr.Credential

		res.Records = append(res.Records, wr.Records...)
		res.Refreshes += wr.Refreshes
		res.Days = append(res.Days, DayReport{
			Window:    w,
			Metrics:   wr.Metrics,
			Refreshes: wr.Refreshes,
			Err:       wr.Err,
		})
		o.report(emitter, wr)

		if wr.Err != nil && ctx.Err() != nil {
			return res, ctx.Err()
		}
	}

	lastRunRecords.Set(float64(len(res.Records)))
	logging.Emit(emitter, logging.LevelInfo, logging.PhaseDone, "extraction finished", map[string]any{
		"total":        len(res.Records),
		"days":         len(res.Days),
		"aborted_days": res.AbortedDays(),
		"refreshes":    res.Refreshes,
	})
	return res, nil
}

// report emits the per-day volumetry.
func (o *Orchestrator) report(emitter logging.Emitter, wr pagination.WindowResult) {
	m := wr.Metrics
	fields := map[string]any{
		"day":      m.Date,
		"pages":    m.Pages,
		"rows":     m.Rows,
		"duration": m.DurationSeconds(),
	}
	logging.Emit(emitter, logging.LevelInfo, logging.PhaseMetric, "window finished", fields)

	switch {
	case wr.Err != nil:
		daysProcessedTotal.WithLabelValues("aborted").Inc()
	case m.Rows == 0:
		daysProcessedTotal.WithLabelValues("empty").Inc()
	default:
		daysProcessedTotal.WithLabelValues("ok").Inc()
	}

	if m.Rows > 0 {
		logging.Emit(emitter, logging.LevelInfo, logging.PhaseReport, "day report", fields)
		return
	}
	logging.Emit(emitter, logging.LevelWarn, logging.PhaseVolumetryWarn, "0 records for day", map[string]any{"day": m.Date})
}

// runEmitter stamps run_id on every event.
type runEmitter struct {
	next  logging.Emitter
	runID string
}

func withRunID(next logging.Emitter, runID string) logging.Emitter {
	return runEmitter{next: next, runID: runID}
}

func (e runEmitter) Emit(ev logging.Event) {
	fields := make(map[string]any, len(ev.Fields)+1)
	for k, v := range ev.Fields {
		fields[k] = v
	}
	fields["run_id"] = e.runID
	ev.Fields = fields
	e.next.Emit(ev)
}
