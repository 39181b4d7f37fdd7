package extract

import (
	"context"
	"errors"

	"github.com/Sternrassler/qbo-backfill/pkg/logging"
	"github.com/Sternrassler/qbo-backfill/pkg/sink"
)

// ErrEmptyInput marks a run that extracted nothing. It is a warning: the
// run succeeds and the sink is not called.
var ErrEmptyInput = errors.New("no records to export")

// Runner produces the records of a run.
type Runner interface {
	Run(ctx context.Context, start, end string) (RunResult, error)
}

// Summary is the outcome of Job.Execute.
type Summary struct {
	Run        RunResult
	Sink       sink.Result
	EmptyInput bool
	DryRun     bool
}

// Job is one full backfill: extraction followed by a single sink call.
type Job struct {
	runner  Runner
	sink    sink.Sink
	emitter logging.Emitter
	dryRun  bool
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithDryRun extracts and reports without writing to the sink.
func WithDryRun(dryRun bool) JobOption {
	return func(j *Job) {
		j.dryRun = dryRun
	}
}

// NewJob creates a Job. s may be nil for dry runs.
func NewJob(runner Runner, s sink.Sink, emitter logging.Emitter, opts ...JobOption) *Job {
	if emitter == nil {
		emitter = logging.Nop{}
	}
	j := &Job{runner: runner, sink: s, emitter: emitter}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Execute runs the extraction for [start, end] and upserts the batch.
// A sink failure is returned as *sink.SinkError and nothing is persisted.
func (j *Job) Execute(ctx context.Context, start, end string) (Summary, error) {
	run, err := j.runner.Run(ctx, start, end)
	summary := Summary{Run: run, DryRun: j.dryRun}
	if err != nil {
		return summary, err
	}

	if len(run.Records) == 0 {
		summary.EmptyInput = true
		logging.Emit(j.emitter, logging.LevelWarn, logging.PhaseWarn, ErrEmptyInput.Error(), map[string]any{
			"run_id": run.RunID,
		})
		return summary, nil
	}

	if j.dryRun {
		logging.Emit(j.emitter, logging.LevelInfo, logging.PhaseDone, "dry run, sink skipped", map[string]any{
			"run_id":  run.RunID,
			"records": len(run.Records),
		})
		return summary, nil
	}

	if j.sink == nil {
		return summary, &sink.SinkError{Op: "upsert", Err: errors.New("no sink configured")}
	}

	res, err := j.sink.Upsert(ctx, run.Records)
	if err != nil {
		var sinkErr *sink.SinkError
		if !errors.As(err, &sinkErr) {
			err = &sink.SinkError{Op: "upsert", Err: err}
		}
		return summary, err
	}
	summary.Sink = res
	return summary, nil
}
