package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/logging"
)

// PreprocessConfig selects the cleanup steps applied before recognition.
type PreprocessConfig struct {
	NoiseReduction         bool    `json:"noise_reduction"`
	NormalizeAudio         bool    `json:"normalize_audio"`
	RemoveSilence          bool    `json:"remove_silence"`
	SampleRate             int     `json:"sample_rate"`
	NoiseReductionStrength float64 `json:"noise_reduction_strength"`
}

// DefaultPreprocessConfig enables every step at 16 kHz with light denoising.
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		NoiseReduction:         true,
		NormalizeAudio:         true,
		RemoveSilence:          true,
		SampleRate:             DefaultSampleRate,
		NoiseReductionStrength: 0.1,
	}
}

// PreprocessConfigFrom converts the file configuration.
func PreprocessConfigFrom(cfg config.PreprocessConfig) PreprocessConfig {
	return PreprocessConfig{
		NoiseReduction:         cfg.NoiseReduction,
		NormalizeAudio:         cfg.NormalizeAudio,
		RemoveSilence:          cfg.RemoveSilence,
		SampleRate:             cfg.SampleRate,
		NoiseReductionStrength: cfg.NoiseReductionStrength,
	}
}

// PreprocessUpdate changes selected fields; nil fields are left as is.
type PreprocessUpdate struct {
	NoiseReduction         *bool
	NormalizeAudio         *bool
	RemoveSilence          *bool
	SampleRate             *int
	NoiseReductionStrength *float64
}

var ErrInvalidPreprocessConfig = errors.New("audio: invalid preprocessing config")

func (c PreprocessConfig) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidPreprocessConfig, c.SampleRate)
	}
	if c.NoiseReductionStrength < 0 || c.NoiseReductionStrength > 1 {
		return fmt.Errorf("%w: noise reduction strength %.3f outside [0,1]", ErrInvalidPreprocessConfig, c.NoiseReductionStrength)
	}
	return nil
}

// Preprocessor cleans speech audio: silence trimming, noise reduction and
// loudness normalization, in that order. A failing step is logged and
// skipped.
type Preprocessor struct {
	logger  *slog.Logger
	decoder Decoder

	mu  sync.RWMutex
	cfg PreprocessConfig
}

// NewPreprocessor validates cfg. A nil decoder decodes WAV input only.
func NewPreprocessor(cfg PreprocessConfig, decoder Decoder, logger *slog.Logger) (*Preprocessor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if decoder == nil {
		decoder = Loader{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Preprocessor{
		logger:  logger.With(slog.String("component", "preprocess")),
		decoder: decoder,
		cfg:     cfg,
	}, nil
}

// Config returns a copy of the active configuration.
func (p *Preprocessor) Config() PreprocessConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Configure applies update atomically. An invalid result leaves the
// configuration unchanged.
func (p *Preprocessor) Configure(update PreprocessUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.cfg
	if update.NoiseReduction != nil {
		next.NoiseReduction = *update.NoiseReduction
	}
	if update.NormalizeAudio != nil {
		next.NormalizeAudio = *update.NormalizeAudio
	}
	if update.RemoveSilence != nil {
		next.RemoveSilence = *update.RemoveSilence
	}
	if update.SampleRate != nil {
		next.SampleRate = *update.SampleRate
	}
	if update.NoiseReductionStrength != nil {
		next.NoiseReductionStrength = *update.NoiseReductionStrength
	}
	if err := next.validate(); err != nil {
		return err
	}
	p.cfg = next
	p.logger.Info("preprocessing configured",
		slog.Bool("noise_reduction", next.NoiseReduction),
		slog.Bool("normalize_audio", next.NormalizeAudio),
		slog.Bool("remove_silence", next.RemoveSilence),
		slog.Int("sample_rate", next.SampleRate),
		slog.Float64("noise_reduction_strength", next.NoiseReductionStrength),
	)
	return nil
}

// ProcessBuffer runs the enabled steps over buf, resampled to the configured
// rate. The input buffer is not modified.
func (p *Preprocessor) ProcessBuffer(buf Buffer) Buffer {
	cfg := p.Config()
	out := Resample(buf, cfg.SampleRate)
	if cfg.RemoveSilence {
		out = p.step("remove_silence", out, TrimSilence)
	}
	if cfg.NoiseReduction {
		strength := cfg.NoiseReductionStrength
		out = p.step("noise_reduction", out, func(b Buffer) Buffer { return ReduceNoise(b, strength) })
	}
	if cfg.NormalizeAudio {
		out = p.step("normalize", out, Normalize)
	}
	return out
}

// Process decodes the file at path, cleans it and writes the result to a new
// temporary WAV file. The caller must invoke cleanup when done with the
// returned path. On failure the original path is returned together with a
// no-op cleanup and the error; the input file is never modified.
func (p *Preprocessor) Process(ctx context.Context, path string) (string, func(), error) {
	noop := func() {}
	cfg := p.Config()
	buf, err := p.decoder.Decode(ctx, path, cfg.SampleRate)
	if err != nil {
		p.logger.Warn("preprocessing skipped", slog.String("path", path), logging.Error(err))
		return path, noop, fmt.Errorf("decode %s: %w", path, err)
	}
	cleaned := p.ProcessBuffer(buf)

	out, err := os.CreateTemp("", "loqa_pre_*.wav")
	if err != nil {
		p.logger.Warn("preprocessing skipped", slog.String("path", path), logging.Error(err))
		return path, noop, fmt.Errorf("temp file: %w", err)
	}
	name := out.Name()
	if err := WriteWAV(out, cleaned); err != nil {
		out.Close()
		os.Remove(name)
		p.logger.Warn("preprocessing skipped", slog.String("path", path), logging.Error(err))
		return path, noop, err
	}
	if err := out.Close(); err != nil {
		os.Remove(name)
		return path, noop, fmt.Errorf("close temp file: %w", err)
	}
	p.logger.Debug("audio preprocessed",
		slog.String("path", path),
		slog.Duration("input_duration", buf.Duration()),
		slog.Duration("output_duration", cleaned.Duration()),
	)
	return name, func() { os.Remove(name) }, nil
}

// step runs fn, returning the input unchanged if fn panics or produces an
// unusable buffer.
func (p *Preprocessor) step(name string, in Buffer, fn func(Buffer) Buffer) (out Buffer) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("preprocessing step failed", slog.String("step", name), slog.Any("panic", r))
			out = in
		}
	}()
	out = fn(in)
	if out.SampleRate <= 0 || (len(out.Samples) == 0 && len(in.Samples) > 0) {
		p.logger.Warn("preprocessing step produced empty output", slog.String("step", name))
		return in
	}
	return out
}
