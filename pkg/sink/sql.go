package sink

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Sternrassler/qbo-backfill/pkg/config"
	"github.com/Sternrassler/qbo-backfill/pkg/logging"
	"github.com/Sternrassler/qbo-backfill/pkg/record"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	driver      string
	placeholder func(n int) string
	payloadExpr func(ph string) string
	schemas     bool
	types       map[string]string
}

var postgresDialect = dialect{
	driver:      config.DriverPostgres,
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	payloadExpr: func(ph string) string { return ph + "::jsonb" },
	schemas:     true,
	types: map[string]string{
		"id":                       "TEXT PRIMARY KEY",
		"payload":                  "JSONB NOT NULL",
		"ingested_at_utc":          "TIMESTAMPTZ NOT NULL",
		"extract_window_start_utc": "TIMESTAMPTZ NOT NULL",
		"extract_window_end_utc":   "TIMESTAMPTZ NOT NULL",
		"page_number":              "INTEGER NOT NULL",
		"page_size":                "INTEGER NOT NULL",
		"request_payload":          "TEXT NOT NULL",
	},
}

var sqliteDialect = dialect{
	driver:      config.DriverSQLite,
	placeholder: func(int) string { return "?" },
	payloadExpr: func(ph string) string { return ph },
	types: map[string]string{
		"id":                       "TEXT PRIMARY KEY",
		"payload":                  "TEXT NOT NULL",
		"ingested_at_utc":          "TIMESTAMP NOT NULL",
		"extract_window_start_utc": "TIMESTAMP NOT NULL",
		"extract_window_end_utc":   "TIMESTAMP NOT NULL",
		"page_number":              "INTEGER NOT NULL",
		"page_size":                "INTEGER NOT NULL",
		"request_payload":          "TEXT NOT NULL",
	},
}

// SQLSink upserts into a Postgres or SQLite table.
type SQLSink struct {
	db      *sql.DB
	dialect dialect
	table   string // as configured
	schema  string
	name    string
	emitter logging.Emitter
}

// PostgresOptions holds the connection parameters of the Postgres sink.
type PostgresOptions struct {
	Host     string // host or host:port
	Database string
	User     string
	Password string
	SSLMode  string
	Table    string
}

// DSN renders the connection URL.
func (o PostgresOptions) DSN() string {
	sslmode := o.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(o.User, o.Password),
		Host:     o.Host,
		Path:     "/" + o.Database,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	return u.String()
}

// OpenPostgres connects to Postgres through lib/pq.
func OpenPostgres(ctx context.Context, opts PostgresOptions, emitter logging.Emitter) (*SQLSink, error) {
	db, err := sql.Open("postgres", opts.DSN())
	if err != nil {
		return nil, &SinkError{Op: "open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &SinkError{Op: "connect", Err: err}
	}
	return NewSQLSink(db, config.DriverPostgres, opts.Table, emitter)
}

// OpenSQLite opens (and creates) a SQLite database file.
func OpenSQLite(ctx context.Context, path, table string, emitter logging.Emitter) (*SQLSink, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &SinkError{Op: "open", Err: fmt.Errorf("create directory %s: %w", dir, err)}
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &SinkError{Op: "open", Err: err}
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &SinkError{Op: "connect", Err: err}
	}
	return NewSQLSink(db, config.DriverSQLite, table, emitter)
}

// NewSQLSink wraps an open database. driver selects the SQL dialect.
func NewSQLSink(db *sql.DB, driver, table string, emitter logging.Emitter) (*SQLSink, error) {
	if err := ValidateTable(table); err != nil {
		return nil, &config.ConfigError{Field: "sink.table", Err: err}
	}

	var d dialect
	switch driver {
	case config.DriverPostgres:
		d = postgresDialect
	case config.DriverSQLite:
		d = sqliteDialect
	default:
		return nil, &config.ConfigError{Field: "sink.driver", Err: fmt.Errorf("no SQL dialect for %q", driver)}
	}

	schema, name := splitTable(table)
	if !d.schemas && schema != "" {
		// SQLite has no schemas; raw.items becomes raw_items.
		name = schema + "_" + name
		schema = ""
	}
	if emitter == nil {
		emitter = logging.Nop{}
	}

	return &SQLSink{
		db:      db,
		dialect: d,
		table:   table,
		schema:  schema,
		name:    name,
		emitter: emitter,
	}, nil
}

// QualifiedTable returns the quoted table reference used in statements.
func (s *SQLSink) QualifiedTable() string {
	if s.schema != "" {
		return pq.QuoteIdentifier(s.schema) + "." + pq.QuoteIdentifier(s.name)
	}
	return pq.QuoteIdentifier(s.name)
}

// DB returns the underlying database handle.
func (s *SQLSink) DB() *sql.DB {
	return s.db
}

// EnsureSchema implements Sink.
func (s *SQLSink) EnsureSchema(ctx context.Context) error {
	if s.schema != "" {
		if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(s.schema)); err != nil {
			return &SinkError{Op: "create schema", Err: err}
		}
	}

	defs := make([]string, len(Columns))
	for i, c := range Columns {
		defs[i] = c + " " + s.dialect.types[c]
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", s.QualifiedTable(), strings.Join(defs, ",\n\t"))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return &SinkError{Op: "create table", Err: err}
	}

	logging.Emit(s.emitter, logging.LevelInfo, logging.PhaseInit, "sink table ready", map[string]any{
		"driver": s.dialect.driver,
		"table":  s.QualifiedTable(),
	})
	return nil
}

// upsertStatement renders the insert-or-replace statement for one row.
func (s *SQLSink) upsertStatement() string {
	values := make([]string, len(Columns))
	for i := range Columns {
		ph := s.dialect.placeholder(i + 1)
		if Columns[i] == "payload" {
			ph = s.dialect.payloadExpr(ph)
		}
		values[i] = ph
	}

	updates := make([]string, 0, len(Columns)-1)
	for _, c := range Columns[1:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		s.QualifiedTable(),
		strings.Join(Columns, ", "),
		strings.Join(values, ", "),
		strings.Join(updates, ", "),
	)
}

// Upsert implements Sink.
func (s *SQLSink) Upsert(ctx context.Context, records []record.ExtractedRecord) (Result, error) {
	if len(records) == 0 {
		return noOp(s.emitter, s.dialect.driver, s.table), nil
	}

	started := time.Now()
	logging.Emit(s.emitter, logging.LevelInfo, logging.PhaseDataProcess, "writing batch", map[string]any{
		"driver": s.dialect.driver,
		"table":  s.table,
		"rows":   len(records),
	})

	if err := s.upsertTx(ctx, records); err != nil {
		return Result{}, rolledBack(s.emitter, s.dialect.driver, err)
	}

	res := Result{
		Driver:   s.dialect.driver,
		Table:    s.table,
		Rows:     len(records),
		Duration: time.Since(started),
	}
	committed(s.emitter, res)
	return res, nil
}

func (s *SQLSink) upsertTx(ctx context.Context, records []record.ExtractedRecord) *SinkError {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &SinkError{Op: "begin", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, s.upsertStatement())
	if err != nil {
		return &SinkError{Op: "prepare", Err: err}
	}
	defer stmt.Close()

	for _, r := range records {
		if !json.Valid(r.Payload) {
			return &SinkError{Op: "upsert", RecordID: r.ID, Err: ErrInvalidPayload}
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID,
			string(r.Payload),
			r.IngestedAtUTC.UTC(),
			r.WindowStart.UTC(),
			r.WindowEnd.UTC(),
			r.PageNumber,
			r.PageSize,
			r.RequestPayload,
		); err != nil {
			return &SinkError{Op: "upsert", RecordID: r.ID, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &SinkError{Op: "commit", Err: err}
	}
	return nil
}

// Close implements Sink.
func (s *SQLSink) Close() error {
	return s.db.Close()
}
