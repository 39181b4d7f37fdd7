// Package sink persists extracted records with insert-or-replace semantics
// keyed by record id. Every Upsert call is one all-or-nothing transaction.
package sink

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sternrassler/qbo-backfill/pkg/config"
	"github.com/Sternrassler/qbo-backfill/pkg/logging"
	"github.com/Sternrassler/qbo-backfill/pkg/record"
)

// Prometheus metrics for sink operations.
var (
	sinkBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbo_sink_batches_total",
		Help: "Upsert batches by driver and outcome",
	}, []string{"driver", "outcome"})

	sinkRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbo_sink_rows_total",
		Help: "Rows committed by driver",
	}, []string{"driver"})

	sinkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qbo_sink_duration_seconds",
		Help:    "Upsert transaction duration by driver",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"driver"})
)

// Columns of the sink table, in insert order.
var Columns = []string{
	"id",
	"payload",
	"ingested_at_utc",
	"extract_window_start_utc",
	"extract_window_end_utc",
	"page_number",
	"page_size",
	"request_payload",
}

// Sink is the upsert boundary of a run.
type Sink interface {
	// Upsert writes records in one transaction. An empty slice is a
	// successful no-op with Result.NoOp set.
	Upsert(ctx context.Context, records []record.ExtractedRecord) (Result, error)

	// EnsureSchema creates the target table when it is missing.
	EnsureSchema(ctx context.Context) error

	Close() error
}

// Result describes one Upsert call.
type Result struct {
	Driver   string
	Table    string
	Rows     int
	NoOp     bool
	Duration time.Duration
}

// ErrInvalidPayload is returned for a record whose payload is not JSON.
var ErrInvalidPayload = errors.New("payload is not valid JSON")

// SinkError is a failed sink operation. The transaction was rolled back.
type SinkError struct {
	Op       string
	RecordID string
	Err      error
}

func (e *SinkError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("sink %s failed at record %s: %v", e.Op, e.RecordID, e.Err)
	}
	return fmt.Sprintf("sink %s failed: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidateTable checks that table is a plain or schema-qualified identifier.
func ValidateTable(table string) error {
	if !identPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// splitTable returns the optional schema and the table name.
func splitTable(table string) (schema, name string) {
	if i := strings.IndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

// Open connects the sink selected by cfg.Driver.
func Open(ctx context.Context, cfg config.SinkConfig, creds config.DatabaseCredentials, emitter logging.Emitter) (Sink, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return OpenPostgres(ctx, PostgresOptions{
			Host:     creds.Host,
			Database: creds.Name,
			User:     creds.User,
			Password: creds.Password,
			SSLMode:  cfg.SSLMode,
			Table:    cfg.Table,
		}, emitter)
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, cfg.Table, emitter)
	case config.DriverMongo:
		return OpenMongo(ctx, creds.MongoURI, cfg.MongoDatabase, cfg.Table, emitter)
	default:
		return nil, &config.ConfigError{Field: "sink.driver", Err: fmt.Errorf("unsupported driver %q", cfg.Driver)}
	}
}

// noOp reports an empty batch.
func noOp(emitter logging.Emitter, driver, table string) Result {
	logging.Emit(emitter, logging.LevelWarn, logging.PhaseWarn, "no records to export, sink not written", map[string]any{
		"driver": driver,
		"table":  table,
	})
	sinkBatchesTotal.WithLabelValues(driver, "noop").Inc()
	return Result{Driver: driver, Table: table, NoOp: true}
}

// committed reports a successful batch.
func committed(emitter logging.Emitter, res Result) {
	sinkBatchesTotal.WithLabelValues(res.Driver, "committed").Inc()
	sinkRowsTotal.WithLabelValues(res.Driver).Add(float64(res.Rows))
	sinkDuration.WithLabelValues(res.Driver).Observe(res.Duration.Seconds())
	logging.Emit(emitter, logging.LevelInfo, logging.PhaseMetric, "batch committed", map[string]any{
		"driver":   res.Driver,
		"table":    res.Table,
		"rows":     res.Rows,
		"duration": res.Duration.String(),
	})
}

// rolledBack reports a failed batch and returns the error to surface.
func rolledBack(emitter logging.Emitter, driver string, err *SinkError) error {
	sinkBatchesTotal.WithLabelValues(driver, "rolled_back").Inc()
	if err.RecordID != "" {
		logging.EmitError(emitter, logging.PhaseRowError, "record failed", err.Err, map[string]any{"id": err.RecordID})
	}
	logging.EmitError(emitter, logging.PhaseCritical, "transaction rolled back, nothing persisted", err, map[string]any{"driver": driver})
	return err
}
