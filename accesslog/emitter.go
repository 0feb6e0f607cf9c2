package accesslog

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/wolfeidau/static-router/telemetry"
)

// Sink receives serialized log lines. Each call writes exactly one line.
type Sink interface {
	WriteLine(line []byte) error
}

// Emitter finalizes builders and writes the resulting lines to the request log.
// Failures are reported on the service logger and never returned to the caller.
type Emitter struct {
	sink   Sink
	logger *slog.Logger
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithLogger sets the service logger used for warnings.
func WithLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		e.logger = logger
	}
}

// NewEmitter creates an emitter writing request log lines to sink.
func NewEmitter(sink Sink, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		sink:   sink,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit builds the record and writes it as one JSON line. If the record is
// incomplete a single warning is logged instead.
func (e *Emitter) Emit(ctx context.Context, b *Builder) {
	line, err := Finalize(b)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to serialize request log", "error", err)
		telemetry.RecordAccessLog(ctx, telemetry.AccessLogDropped)
		return
	}

	if err := e.sink.WriteLine(line); err != nil {
		e.logger.WarnContext(ctx, "failed to write request log", "error", err)
		telemetry.RecordAccessLog(ctx, telemetry.AccessLogFailed)
		return
	}

	telemetry.RecordAccessLog(ctx, telemetry.AccessLogEmitted)
}

// Finalize builds the record and serializes it tagged with its schema version.
func Finalize(b *Builder) ([]byte, error) {
	v1, err := b.Build()
	if err != nil {
		return nil, err
	}
	return json.Marshal(LogLine{V1: &v1})
}
