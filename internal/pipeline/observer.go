package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-voice/internal/journal"
	"github.com/loqalabs/loqa-voice/internal/logging"
)

const instrumentationName = "github.com/loqalabs/loqa-voice/pipeline"

// Record summarises a finished run. It carries no transcript or reply text.
type Record struct {
	RunID       string
	Stage       Stage // StageDone or StageFailed
	FailedStage Stage
	Error       string
	Device      string
	Providers   map[string]string
	StartedAt   time.Time
	Elapsed     time.Duration
}

// Observer is notified around each stage and once per run.
type Observer interface {
	// StageStarted returns the context the stage runs under and a function
	// called with the stage's error when it ends.
	StageStarted(ctx context.Context, runID string, stage Stage) (context.Context, func(error))
	RunFinished(ctx context.Context, rec Record)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) StageStarted(ctx context.Context, _ string, _ Stage) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (NopObserver) RunFinished(context.Context, Record) {}

// Observers fans out to several observers in order.
func Observers(list ...Observer) Observer {
	return multiObserver(list)
}

type multiObserver []Observer

func (m multiObserver) StageStarted(ctx context.Context, runID string, stage Stage) (context.Context, func(error)) {
	ends := make([]func(error), 0, len(m))
	for _, o := range m {
		var end func(error)
		ctx, end = o.StageStarted(ctx, runID, stage)
		ends = append(ends, end)
	}
	return ctx, func(err error) {
		for i := len(ends) - 1; i >= 0; i-- {
			ends[i](err)
		}
	}
}

func (m multiObserver) RunFinished(ctx context.Context, rec Record) {
	for _, o := range m {
		o.RunFinished(ctx, rec)
	}
}

// TelemetryObserver records a span per stage plus run and stage metrics.
type TelemetryObserver struct {
	tracer   trace.Tracer
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	stages   metric.Float64Histogram
	inflight atomic.Int64
}

// NewTelemetryObserver uses the global providers when tp or mp is nil.
func NewTelemetryObserver(tp trace.TracerProvider, mp metric.MeterProvider) (*TelemetryObserver, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	o := &TelemetryObserver{tracer: tp.Tracer(instrumentationName)}

	var err error
	if o.runs, err = meter.Int64Counter("loqa.voice.runs",
		metric.WithDescription("Pipeline runs by outcome")); err != nil {
		return nil, err
	}
	if o.duration, err = meter.Float64Histogram("loqa.voice.run.duration",
		metric.WithDescription("Wall clock time of a pipeline run"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if o.stages, err = meter.Float64Histogram("loqa.voice.stage.duration",
		metric.WithDescription("Time spent in each pipeline stage"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	gauge, err := meter.Int64ObservableGauge("loqa.voice.stages.inflight",
		metric.WithDescription("Pipeline stages currently executing"))
	if err != nil {
		return nil, err
	}
	if _, err := meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, o.inflight.Load())
		return nil
	}, gauge); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *TelemetryObserver) StageStarted(ctx context.Context, runID string, stage Stage) (context.Context, func(error)) {
	ctx, span := o.tracer.Start(ctx, "pipeline."+string(stage),
		trace.WithAttributes(attribute.String("loqa.run_id", runID)))
	o.inflight.Add(1)
	start := time.Now()
	return ctx, func(err error) {
		o.inflight.Add(-1)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		o.stages.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.String("outcome", outcome)))
		span.End()
	}
}

func (o *TelemetryObserver) RunFinished(ctx context.Context, rec Record) {
	attrs := metric.WithAttributes(attribute.String("status", string(rec.Stage)))
	o.runs.Add(ctx, 1, attrs)
	o.duration.Record(ctx, rec.Elapsed.Seconds(), attrs)
}

// JournalObserver writes one journal row per run.
type JournalObserver struct {
	store  *journal.Store
	logger *slog.Logger
}

func NewJournalObserver(store *journal.Store, logger *slog.Logger) *JournalObserver {
	if logger == nil {
		logger = logging.Discard()
	}
	return &JournalObserver{store: store, logger: logger.With(slog.String("component", "journal-observer"))}
}

func (j *JournalObserver) StageStarted(ctx context.Context, _ string, _ Stage) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (j *JournalObserver) RunFinished(ctx context.Context, rec Record) {
	status := journal.StatusSuccess
	if rec.Stage == StageFailed {
		status = journal.StatusFailure
	}
	err := j.store.Record(context.WithoutCancel(ctx), journal.Run{
		ID:          rec.RunID,
		Status:      status,
		FailedStage: string(rec.FailedStage),
		Error:       rec.Error,
		Elapsed:     rec.Elapsed,
		Device:      rec.Device,
		STT:         rec.Providers["stt"],
		LLM:         rec.Providers["llm"],
		TTS:         rec.Providers["tts"],
		CreatedAt:   rec.StartedAt,
	})
	if err != nil {
		j.logger.Warn("journal write failed", slog.String("run_id", rec.RunID), logging.Error(err))
	}
}
