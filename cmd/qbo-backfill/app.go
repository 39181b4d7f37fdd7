package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/qbo-backfill/pkg/auth"
	"github.com/Sternrassler/qbo-backfill/pkg/client"
	"github.com/Sternrassler/qbo-backfill/pkg/config"
	"github.com/Sternrassler/qbo-backfill/pkg/extract"
	"github.com/Sternrassler/qbo-backfill/pkg/logging"
	"github.com/Sternrassler/qbo-backfill/pkg/pagination"
	"github.com/Sternrassler/qbo-backfill/pkg/ratelimit"
	"github.com/Sternrassler/qbo-backfill/pkg/secrets"
	"github.com/Sternrassler/qbo-backfill/pkg/sink"
)

// app holds what every command needs after configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	emitter logging.Emitter
	store   secrets.Store
	closers []func() error
}

// newApp loads configuration, sets up logging and opens the secret store.
func newApp(flags *globalFlags, logOutput io.Writer) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.pretty {
		cfg.Log.Pretty = true
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: logOutput,
	})

	a := &app{
		cfg:     cfg,
		logger:  logger,
		emitter: logging.NewZerologEmitter(logger.With().Str("component", "backfill").Logger()),
	}
	a.store = a.openStore()
	return a, nil
}

func (a *app) openStore() secrets.Store {
	sc := a.cfg.Secrets
	if sc.Backend != config.BackendRedis {
		return secrets.NewEnvStore(sc.Prefix)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     sc.RedisAddr,
		Password: sc.RedisPassword,
		DB:       sc.RedisDB,
	})
	a.closers = append(a.closers, rdb.Close)
	return secrets.NewRedisStore(rdb, sc.RedisKey)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// configError reports err under CONFIG_ERROR and returns it.
func (a *app) configError(err error) error {
	logging.EmitError(a.emitter, logging.PhaseConfigError, "configuration error, export aborted", err, nil)
	return err
}

// openSink resolves the database secrets and connects the sink.
func (a *app) openSink(ctx context.Context) (sink.Sink, error) {
	creds, err := config.ResolveDatabaseCredentials(ctx, a.store, a.cfg.Sink.Driver)
	if err != nil {
		return nil, a.configError(err)
	}
	s, err := sink.Open(ctx, a.cfg.Sink, creds, a.emitter)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, s.Close)
	return s, nil
}

// buildJob resolves every secret the run needs, connects the sink (unless
// dryRun) and assembles the extraction stack. No upstream request is made.
func (a *app) buildJob(ctx context.Context, dryRun bool) (*extract.Job, error) {
	apiCreds, err := config.ResolveAPICredentials(ctx, a.store)
	if err != nil {
		return nil, a.configError(err)
	}

	var s sink.Sink
	if !dryRun {
		if s, err = a.openSink(ctx); err != nil {
			return nil, err
		}
	}

	api := a.cfg.API
	httpClient := &http.Client{Timeout: api.RequestTimeout}

	qc, err := client.New(client.Config{
		BaseURL:      api.BaseURL,
		RealmID:      apiCreds.RealmID,
		MinorVersion: api.MinorVersion,
		HTTPClient:   httpClient,
		Pacer:        ratelimit.NewPacer(api.RequestsPerMinute, logging.NewLogger("pacer")),
	})
	if err != nil {
		return nil, &config.ConfigError{Field: "api", Err: err}
	}

	tokens := auth.NewProvider(auth.Config{
		TokenURL:     api.TokenURL,
		ClientID:     apiCreds.ClientID,
		ClientSecret: apiCreds.ClientSecret,
		RefreshToken: apiCreds.RefreshToken,
	}, httpClient, a.emitter)

	policy := client.DefaultBackoffPolicy()
	policy.MaxAttempts = api.MaxAttempts
	policy.Base = api.BackoffBase

	fetcher := pagination.NewFetcher(qc, tokens, pagination.Config{
		Entity:   api.Entity,
		PageSize: api.PageSize,
		Backoff:  policy,
	}, a.emitter)

	orchestrator := extract.NewOrchestrator(tokens, fetcher, a.emitter)
	return extract.NewJob(orchestrator, s, a.emitter, extract.WithDryRun(dryRun)), nil
}

func summaryLine(s extract.Summary, elapsed time.Duration) string {
	run := s.Run
	switch {
	case s.EmptyInput:
		return fmt.Sprintf("run %s: %d days, no records extracted, sink not called (%s)",
			run.RunID, len(run.Days), elapsed.Round(time.Millisecond))
	case s.DryRun:
		return fmt.Sprintf("run %s: %d days, %d records extracted (dry run, %d aborted days, %s)",
			run.RunID, len(run.Days), len(run.Records), run.AbortedDays(), elapsed.Round(time.Millisecond))
	default:
		return fmt.Sprintf("run %s: %d days, %d records upserted into %s (%d aborted days, %s)",
			run.RunID, len(run.Days), s.Sink.Rows, s.Sink.Table, run.AbortedDays(), elapsed.Round(time.Millisecond))
	}
}
