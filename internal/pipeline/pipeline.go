// Package pipeline chains transcription, response generation and speech
// synthesis into one request/response call. A failing stage produces a
// Failure result rather than an error or a panic.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/device"
	"github.com/loqalabs/loqa-voice/internal/intent"
	"github.com/loqalabs/loqa-voice/internal/llm"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/provider"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tts"
)

// Name is reported by Info.
const Name = "STT → LLM → TTS"

// EmptyTranscriptMessage is the failure text when no speech was recognized.
const EmptyTranscriptMessage = "음성을 텍스트로 변환할 수 없습니다."

// Stage is a pipeline state.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageTranscribing Stage = "transcribing"
	StageResponding   Stage = "responding"
	StageSynthesizing Stage = "synthesizing"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

var (
	ErrClosed      = errors.New("pipeline: closed")
	ErrStagePanic  = errors.New("pipeline: stage panicked")
	ErrNoPreproc   = errors.New("pipeline: preprocessing not available")
	ErrUnsupported = errors.New("pipeline: transcriber does not support this setting")
	errEmptyResult = errors.New(EmptyTranscriptMessage)
)

// Transcriber is the speech-to-text stage.
type Transcriber interface {
	Transcribe(ctx context.Context, path string, opts stt.Options) (string, error)
	Describe() provider.Info
	Close() error
}

// Synthesizer is the text-to-speech stage.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Describe() provider.Info
	Close() error
}

// Result is the outcome of one run. Exactly one of Success and Failure is
// set.
type Result struct {
	Success *Success
	Failure *Failure
}

// OK reports whether the run completed.
func (r Result) OK() bool { return r.Success != nil }

// Success carries everything a completed run produced.
type Success struct {
	RunID        string                   `json:"run_id"`
	Transcript   string                   `json:"transcribed_text"`
	ResponseText string                   `json:"llm_response"`
	Audio        []byte                   `json:"-"`
	AudioFormat  string                   `json:"audio_format"`
	Elapsed      time.Duration            `json:"-"`
	Providers    map[string]provider.Info `json:"providers"`
	Intent       *intent.Analysis         `json:"intent,omitempty"`
}

// Failure describes a run that stopped early.
type Failure struct {
	RunID     string    `json:"run_id"`
	Stage     Stage     `json:"stage"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Info describes the assembled pipeline.
type Info struct {
	PipelineName  string                   `json:"pipeline_name"`
	Device        string                   `json:"device"`
	Components    map[string]provider.Info `json:"components"`
	Preprocessing *audio.PreprocessConfig  `json:"preprocessing,omitempty"`
}

// Options assemble a pipeline. Stages left nil are built from Config.
type Options struct {
	Config      config.Config
	Prober      device.Prober
	Transcriber Transcriber
	Responder   llm.Responder
	Synthesizer Synthesizer
	Analyzer    *intent.Analyzer
	Observer    Observer
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Pipeline runs audio through the three stages. Runs are serialized.
type Pipeline struct {
	device      device.ID
	transcriber Transcriber
	responder   llm.Responder
	synthesizer Synthesizer
	pre         *audio.Preprocessor
	analyzer    *intent.Analyzer
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// New resolves the device once and builds any stage not supplied in opts.
// Construction errors are returned and partially built stages are closed.
func New(opts Options) (*Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	cfg := opts.Config
	dev := device.NewResolver(opts.Prober).Resolve(cfg.Device)

	p := &Pipeline{
		device:      dev,
		transcriber: opts.Transcriber,
		responder:   opts.Responder,
		synthesizer: opts.Synthesizer,
		analyzer:    opts.Analyzer,
		observer:    opts.Observer,
		logger:      logger.With(slog.String("component", "pipeline")),
		now:         opts.Clock,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.analyzer == nil {
		p.analyzer = intent.NewAnalyzer(p.now)
	}
	if p.observer == nil {
		p.observer = NopObserver{}
	}

	if err := p.build(cfg, logger); err != nil {
		_ = p.closeStages()
		return nil, err
	}

	p.logger.Info("pipeline ready",
		slog.String("device", string(dev)),
		slog.String("stt", p.transcriber.Describe().Name),
		slog.String("llm", p.responder.Describe().Name),
		slog.String("tts", p.synthesizer.Describe().Name))
	return p, nil
}

func (p *Pipeline) build(cfg config.Config, logger *slog.Logger) error {
	if p.transcriber == nil {
		var decoder audio.Decoder = audio.Loader{}
		if cfg.Preprocess.DecoderCommand != "" {
			exec, err := audio.NewExecDecoder(cfg.Preprocess.DecoderCommand)
			if err != nil {
				return fmt.Errorf("audio decoder: %w", err)
			}
			decoder = audio.Loader{Fallback: exec}
		}
		pre, err := audio.NewPreprocessor(audio.PreprocessConfigFrom(cfg.Preprocess), decoder, logger)
		if err != nil {
			return fmt.Errorf("preprocessor: %w", err)
		}
		recognizer, err := stt.NewRecognizer(cfg.STT)
		if err != nil {
			return fmt.Errorf("stt: %w", err)
		}
		p.pre = pre
		t := stt.New(recognizer, stt.SettingsFrom(cfg.STT, p.device), pre, logger)
		p.transcriber = t
		if cfg.STT.Model != "" {
			if err := t.SetModel(cfg.STT.Model); err != nil {
				return fmt.Errorf("stt: %w", err)
			}
		}
		if cfg.STT.Mode == "mock" || cfg.STT.Mode == "" {
			if llm.NormalizeKind(cfg.LLM.Provider) != llm.KindMock || cfg.TTS.Mode != "mock" {
				p.logger.Warn("mock speech recognition is paired with real providers; every upload is transcribed as a canned sentence",
					slog.String("llm", cfg.LLM.Provider),
					slog.String("tts", cfg.TTS.Mode))
			}
		}
	} else if t, ok := p.transcriber.(interface{ Preprocessor() *audio.Preprocessor }); ok {
		p.pre = t.Preprocessor()
	}

	if p.responder == nil {
		r, err := llm.New(cfg.LLM.Provider, llm.OptionsFromConfig(cfg.LLM, p.device, logger))
		if err != nil {
			return fmt.Errorf("llm: %w", err)
		}
		p.responder = r
	}

	if p.synthesizer == nil {
		backend, err := tts.NewBackend(cfg.TTS)
		if err != nil {
			return fmt.Errorf("tts: %w", err)
		}
		p.synthesizer = tts.New(backend, tts.SettingsFrom(cfg.TTS, p.device), logger)
	}
	return nil
}

// Device returns the resolved compute device.
func (p *Pipeline) Device() device.ID { return p.device }

type runState struct {
	id      string
	stage   Stage
	started time.Time
}

// Run processes one audio file. It never panics and never returns an
// error; failures are reported in Result.Failure.
func (p *Pipeline) Run(ctx context.Context, audioPath string) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	run := &runState{id: uuid.NewString(), stage: StageIdle, started: p.now()}
	res := p.execute(ctx, run, audioPath)

	rec := Record{
		RunID:     run.id,
		Device:    string(p.device),
		StartedAt: run.started,
		Elapsed:   p.now().Sub(run.started),
		Providers: p.providerNames(),
	}
	if res.OK() {
		rec.Stage = StageDone
	} else {
		rec.Stage = StageFailed
		rec.FailedStage = res.Failure.Stage
		rec.Error = res.Failure.Error
	}
	p.observer.RunFinished(ctx, rec)
	return res
}

func (p *Pipeline) execute(ctx context.Context, run *runState, audioPath string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = p.fail(run, fmt.Errorf("%w: %v", ErrStagePanic, r))
		}
	}()
	if p.closed {
		return p.fail(run, ErrClosed)
	}

	var transcript string
	err := p.observe(ctx, run, StageTranscribing, func(ctx context.Context) error {
		text, err := p.transcriber.Transcribe(ctx, audioPath, stt.Options{})
		if err != nil {
			return err
		}
		if text == "" {
			return errEmptyResult
		}
		transcript = text
		return nil
	})
	if err != nil {
		return p.fail(run, err)
	}
	p.logger.Debug("transcribed", slog.String("run_id", run.id), slog.Int("chars", len([]rune(transcript))))

	var reply string
	err = p.observe(ctx, run, StageResponding, func(ctx context.Context) error {
		reply = p.responder.Generate(ctx, transcript)
		return nil
	})
	if err != nil {
		return p.fail(run, err)
	}

	var speech []byte
	err = p.observe(ctx, run, StageSynthesizing, func(ctx context.Context) error {
		out, err := p.synthesizer.Synthesize(ctx, reply)
		speech = out
		return err
	})
	if err != nil {
		return p.fail(run, err)
	}

	analysis := p.analyzer.Analyze(transcript)
	elapsed := p.now().Sub(run.started)
	run.stage = StageDone
	p.logger.Info("pipeline run completed",
		slog.String("run_id", run.id),
		slog.Duration("elapsed", elapsed),
		slog.Int("audio_bytes", len(speech)))

	return Result{Success: &Success{
		RunID:        run.id,
		Transcript:   transcript,
		ResponseText: reply,
		Audio:        speech,
		AudioFormat:  p.audioFormat(),
		Elapsed:      elapsed,
		Providers:    p.providers(),
		Intent:       &analysis,
	}}
}

// observe runs one stage under the observer and turns a panic into an
// error.
func (p *Pipeline) observe(ctx context.Context, run *runState, stage Stage, fn func(context.Context) error) (err error) {
	run.stage = stage
	ctx, end := p.observer.StageStarted(ctx, run.id, stage)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrStagePanic, stage, r)
		}
		end(err)
	}()
	return fn(ctx)
}

func (p *Pipeline) fail(run *runState, err error) Result {
	stage := run.stage
	run.stage = StageFailed
	p.logger.Warn("pipeline run failed",
		slog.String("run_id", run.id),
		slog.String("stage", string(stage)),
		logging.Error(err))
	return Result{Failure: &Failure{
		RunID:     run.id,
		Stage:     stage,
		Error:     err.Error(),
		Timestamp: p.now(),
	}}
}

func (p *Pipeline) audioFormat() string {
	if f, ok := p.synthesizer.(interface{ Format() string }); ok {
		return f.Format()
	}
	return ""
}

func (p *Pipeline) providers() map[string]provider.Info {
	return map[string]provider.Info{
		"stt": p.transcriber.Describe(),
		"llm": p.responder.Describe(),
		"tts": p.synthesizer.Describe(),
	}
}

func (p *Pipeline) providerNames() map[string]string {
	names := make(map[string]string, 3)
	for k, info := range p.providers() {
		names[k] = info.Name
	}
	return names
}

// Info describes the pipeline and its stages.
func (p *Pipeline) Info() Info {
	info := Info{
		PipelineName: Name,
		Device:       string(p.device),
		Components:   p.providers(),
	}
	if p.pre != nil {
		cfg := p.pre.Config()
		info.Preprocessing = &cfg
	}
	return info
}

// ConfigurePreprocessing updates the preprocessor used by the transcription
// stage.
func (p *Pipeline) ConfigurePreprocessing(update audio.PreprocessUpdate) error {
	if p.pre == nil {
		return ErrNoPreproc
	}
	return p.pre.Configure(update)
}

// SetModel switches the speech recognition model. Unknown names are
// rejected and the current model is kept.
func (p *Pipeline) SetModel(name string) error {
	t, ok := p.transcriber.(interface{ SetModel(string) error })
	if !ok {
		return ErrUnsupported
	}
	return t.SetModel(name)
}

// SetKoreanOptimization toggles transcript post-processing.
func (p *Pipeline) SetKoreanOptimization(enable bool) error {
	t, ok := p.transcriber.(interface{ SetKoreanOptimization(bool) })
	if !ok {
		return ErrUnsupported
	}
	t.SetKoreanOptimization(enable)
	return nil
}

// Close releases all three stages once. Later runs fail with ErrClosed.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closed = true
		p.closeErr = p.closeStages()
		p.logger.Info("pipeline closed")
	})
	return p.closeErr
}

func (p *Pipeline) closeStages() error {
	var errs []error
	if p.transcriber != nil {
		errs = append(errs, p.transcriber.Close())
	}
	if p.responder != nil {
		errs = append(errs, p.responder.Close())
	}
	if p.synthesizer != nil {
		errs = append(errs, p.synthesizer.Close())
	}
	return errors.Join(errs...)
}
