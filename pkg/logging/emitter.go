package logging

import (
	"sync"

	"github.com/rs/zerolog"
)

// Phase tags an event with the stage of the run that produced it.
type Phase string

// Phases emitted by the extraction core and the sink.
const (
	PhaseInit           Phase = "INIT"
	PhaseAuth           Phase = "AUTH"
	PhaseAuthError      Phase = "AUTH_ERROR"
	PhaseFetch          Phase = "FETCH"
	PhaseRateLimit      Phase = "RATE_LIMIT"
	PhaseServer         Phase = "SERVER"
	PhaseNetwork        Phase = "NETWORK"
	PhaseError          Phase = "ERROR"
	PhaseRetryExhausted Phase = "RETRY_EXHAUSTED"
	PhaseMetric         Phase = "METRIC"
	PhaseReport         Phase = "REPORT"
	PhaseVolumetryWarn  Phase = "VOLUMETRY_WARN"
	PhaseDone           Phase = "DONE"
	PhaseConfigError    Phase = "CONFIG_ERROR"
	PhaseDataProcess    Phase = "DATA_PROCESS"
	PhaseRowError       Phase = "ROW_ERROR"
	PhaseCritical       Phase = "CRITICAL"
	PhaseWarn           Phase = "WARN"
)

// Event is one structured occurrence reported by the core.
type Event struct {
	Phase   Phase
	Level   LogLevel
	Message string
	Fields  map[string]any
	Err     error
}

// Emitter receives events. Implementations must be safe to call from the
// goroutine that owns the run; Recorder is additionally safe for concurrent use.
type Emitter interface {
	Emit(ev Event)
}

// Emit builds an event and hands it to e. A nil emitter drops the event.
func Emit(e Emitter, level LogLevel, phase Phase, msg string, fields map[string]any) {
	if e == nil {
		return
	}
	e.Emit(Event{Phase: phase, Level: level, Message: msg, Fields: fields})
}

// EmitError is Emit at error level with err attached.
func EmitError(e Emitter, phase Phase, msg string, err error, fields map[string]any) {
	if e == nil {
		return
	}
	e.Emit(Event{Phase: phase, Level: LevelError, Message: msg, Fields: fields, Err: err})
}

// ZerologEmitter writes events through a zerolog logger.
type ZerologEmitter struct {
	logger zerolog.Logger
}

// NewZerologEmitter wraps logger.
func NewZerologEmitter(logger zerolog.Logger) *ZerologEmitter {
	return &ZerologEmitter{logger: logger}
}

// Emit implements Emitter.
func (z *ZerologEmitter) Emit(ev Event) {
	var e *zerolog.Event
	switch ev.Level {
	case LevelDebug:
		e = z.logger.Debug()
	case LevelWarn:
		e = z.logger.Warn()
	case LevelError:
		e = z.logger.Error()
	default:
		e = z.logger.Info()
	}

	e = e.Str("phase", string(ev.Phase))
	if ev.Err != nil {
		e = e.Err(ev.Err)
	}
	if len(ev.Fields) > 0 {
		e = e.Fields(ev.Fields)
	}
	e.Msg(ev.Message)
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements Emitter.
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of all recorded events in emission order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByPhase returns the recorded events carrying phase.
func (r *Recorder) ByPhase(phase Phase) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Phase == phase {
			out = append(out, ev)
		}
	}
	return out
}

// Nop discards events.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
