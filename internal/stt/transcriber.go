package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/device"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/provider"
)

// DefaultLanguage is used when a request leaves the language empty.
const DefaultLanguage = "ko"

// Options tune a single Transcribe call. Zero values fall back to the
// transcriber defaults.
type Options struct {
	Language string
	Task     Task
	// UsePreprocessing overrides the configured default when non-nil.
	UsePreprocessing *bool
}

// Settings are the construction-time defaults of a Transcriber.
type Settings struct {
	Mode             string
	Model            string
	Language         string
	KoreanOptimize   bool
	UsePreprocessing bool
	Device           device.ID
}

// SettingsFrom converts the file configuration.
func SettingsFrom(cfg config.STTConfig, dev device.ID) Settings {
	return Settings{
		Mode:             cfg.Mode,
		Model:            cfg.Model,
		Language:         cfg.Language,
		KoreanOptimize:   cfg.KoreanOptimize,
		UsePreprocessing: cfg.UsePreprocessing,
		Device:           dev,
	}
}

// NewRecognizer builds the backend named by cfg.Mode.
func NewRecognizer(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecRecognizer(cfg)
	case "openai":
		return NewOpenAIRecognizer(cfg)
	case "mock", "":
		return NewMockRecognizer(""), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}

// Transcriber validates input, optionally cleans the audio and hands it to a
// Recognizer. Recognition calls are serialized; settings can be read and
// changed while one is running.
type Transcriber struct {
	logger     *slog.Logger
	recognizer Recognizer
	pre        *audio.Preprocessor

	mu     sync.Mutex // held for the whole recognition call
	closed bool

	settingsMu sync.RWMutex
	settings   Settings
}

// New returns a Transcriber. pre may be nil, which disables preprocessing.
func New(recognizer Recognizer, settings Settings, pre *audio.Preprocessor, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.Language == "" {
		settings.Language = DefaultLanguage
	}
	if settings.Model == "" {
		settings.Model = "small"
	}
	logger = logger.With(slog.String("component", "stt"))
	logger.Info("transcriber ready",
		slog.String("mode", settings.Mode),
		slog.String("model", settings.Model),
		slog.String("device", string(settings.Device)),
	)
	return &Transcriber{
		logger:     logger,
		recognizer: recognizer,
		pre:        pre,
		settings:   settings,
	}
}

// Transcribe converts the audio file at path to text. An empty result means
// no speech was recognized.
func (t *Transcriber) Transcribe(ctx context.Context, path string, opts Options) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("stat audio file: %w", err)
	}
	if !audio.SupportedExtension(path) {
		t.logger.Warn("unsupported audio format", slog.String("extension", strings.ToLower(filepath.Ext(path))))
	}

	task := opts.Task
	if task == "" {
		task = TaskTranscribe
	}
	if task != TaskTranscribe && task != TaskTranslate {
		return "", fmt.Errorf("%w: %q", ErrInvalidTask, task)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", ErrClosed
	}
	settings := t.snapshot()

	language := opts.Language
	if language == "" {
		language = settings.Language
	}
	usePre := settings.UsePreprocessing
	if opts.UsePreprocessing != nil {
		usePre = *opts.UsePreprocessing
	}

	target := path
	if usePre && t.pre != nil {
		cleaned, cleanup, err := t.pre.Process(ctx, path)
		defer cleanup()
		if err != nil {
			t.logger.Warn("using unprocessed audio", logging.Error(err))
		}
		target = cleaned
	}

	text, err := t.recognizer.Recognize(ctx, Request{Path: target, Language: language, Task: task})
	if err != nil {
		t.logger.Error("transcription failed", slog.String("path", path), logging.Error(err))
		return "", err
	}
	text = strings.TrimSpace(text)
	if t.snapshot().KoreanOptimize {
		text = PostProcessKorean(text)
	}
	return text, nil
}

// TranscribeChunks joins sample chunks recorded at sampleRate and transcribes
// them as one utterance.
func (t *Transcriber) TranscribeChunks(ctx context.Context, chunks [][]float64, sampleRate int, language string) (string, error) {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	buf := audio.Concat(sampleRate, chunks...)
	tmp, err := os.CreateTemp("", "loqa_chunks_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)
	if err := audio.WriteWAV(tmp, buf); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return t.Transcribe(ctx, name, Options{Language: language})
}

// SetModel switches the recognizer model. Unknown names are rejected and the
// current model is kept.
func (t *Transcriber) SetModel(name string) error {
	if !validModel(name) {
		t.logger.Error("invalid model name", slog.String("model", name))
		return fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if setter, ok := t.recognizer.(ModelSetter); ok {
		if err := setter.SetModel(name); err != nil {
			return err
		}
	}
	t.settingsMu.Lock()
	t.settings.Model = name
	t.settingsMu.Unlock()
	t.logger.Info("model changed", slog.String("model", name))
	return nil
}

// SetKoreanOptimization toggles transcript post-processing.
func (t *Transcriber) SetKoreanOptimization(enable bool) {
	t.settingsMu.Lock()
	t.settings.KoreanOptimize = enable
	t.settingsMu.Unlock()
	t.logger.Info("korean optimization", slog.Bool("enabled", enable))
}

// Preprocessor exposes the audio cleanup stage for configuration. It is nil
// when preprocessing is unavailable.
func (t *Transcriber) Preprocessor() *audio.Preprocessor { return t.pre }

func (t *Transcriber) snapshot() Settings {
	t.settingsMu.RLock()
	defer t.settingsMu.RUnlock()
	return t.settings
}

// Describe reports the backend, model and capabilities. It does not wait for
// a running transcription.
func (t *Transcriber) Describe() provider.Info {
	s := t.snapshot()
	info := provider.Info{
		Name:      "whisper",
		Kind:      s.Mode,
		Model:     s.Model,
		Device:    string(s.Device),
		Languages: provider.MultilingualLanguages,
		Features: map[string]bool{
			"korean_optimization":   s.KoreanOptimize,
			"preprocessing":         s.UsePreprocessing && t.pre != nil,
			"noise_reduction":       t.pre != nil,
			"silence_removal":       t.pre != nil,
			"audio_normalization":   t.pre != nil,
			"chunked_transcription": true,
		},
	}
	return info.Clone()
}

// Close releases the recognizer. Further calls fail with ErrClosed.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.recognizer.Close()
}

var whitespace = regexp.MustCompile(`\s+`)

// PostProcessKorean collapses whitespace and terminates the sentence with a
// period unless it already ends in ".", "!" or "?".
func PostProcessKorean(text string) string {
	if text == "" {
		return text
	}
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if text != "" && !strings.HasSuffix(text, ".") && !strings.HasSuffix(text, "!") && !strings.HasSuffix(text, "?") {
		text += "."
	}
	return text
}
