package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/device"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/provider"
)

// DefaultMaxChars is the length above which replies are shortened to their
// first three sentences.
const DefaultMaxChars = 500

var ErrEmptyText = errors.New("tts: nothing to synthesize")

// Settings are the construction-time defaults of a Synthesizer.
type Settings struct {
	Mode     string
	Language string
	Voice    string
	Slow     bool
	MaxChars int
	Device   device.ID
}

// SettingsFrom converts the file configuration.
func SettingsFrom(cfg config.TTSConfig, dev device.ID) Settings {
	return Settings{
		Mode:     cfg.Mode,
		Language: cfg.Language,
		Voice:    cfg.Voice,
		Slow:     cfg.Slow,
		MaxChars: cfg.MaxChars,
		Device:   dev,
	}
}

// Synthesizer prepares reply text and renders it through a Backend into
// encoded audio bytes.
type Synthesizer struct {
	backend  Backend
	settings Settings
	logger   *slog.Logger

	closeOnce sync.Once
}

func New(backend Backend, settings Settings, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.Language == "" {
		settings.Language = "ko"
	}
	if settings.MaxChars <= 0 {
		settings.MaxChars = DefaultMaxChars
	}
	return &Synthesizer{
		backend:  backend,
		settings: settings,
		logger:   logger.With(slog.String("component", "tts"), slog.String("mode", settings.Mode)),
	}
}

// Synthesize renders text and returns the encoded audio. The backend writes
// to a temporary file that is removed before returning.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	prepared := PrepareText(text, s.settings.MaxChars)
	if prepared == "" {
		return nil, ErrEmptyText
	}

	tmp, err := os.CreateTemp("", "loqa_tts_*."+s.backend.Format())
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	req := Request{
		Text:     prepared,
		Language: s.settings.Language,
		Voice:    s.settings.Voice,
		Slow:     s.settings.Slow,
		Device:   string(s.settings.Device),
	}
	if err := s.backend.Render(ctx, req, tmp); err != nil {
		tmp.Close()
		s.logger.Error("speech generation failed", logging.Error(err))
		return nil, fmt.Errorf("speech generation failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	s.logger.Debug("speech generated", slog.Int("bytes", len(data)), slog.Int("chars", len([]rune(prepared))))
	return data, nil
}

// Describe reports the backend and its capabilities.
func (s *Synthesizer) Describe() provider.Info {
	name := s.settings.Mode + "_tts"
	offline := s.settings.Mode == "exec" || s.settings.Mode == "mock"
	return provider.Info{
		Name:      name,
		Kind:      s.settings.Mode,
		Model:     s.settings.Voice,
		Device:    string(s.settings.Device),
		Languages: provider.MultilingualLanguages,
		Features: map[string]bool{
			"offline":          offline,
			"korean_text_prep": true,
			"long_text_trim":   true,
		},
	}.Clone()
}

// Format is the container of the bytes Synthesize returns, e.g. "mp3".
func (s *Synthesizer) Format() string { return s.backend.Format() }

// Close releases the backend if it holds resources.
func (s *Synthesizer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if closer, ok := s.backend.(interface{ Close() error }); ok {
			err = closer.Close()
		}
	})
	return err
}

var spaces = regexp.MustCompile(`\s+`)

// PrepareText collapses whitespace and, when the result is longer than
// maxChars runes, keeps only the first three '.'-separated segments.
func PrepareText(text string, maxChars int) string {
	if text == "" {
		return ""
	}
	text = strings.TrimSpace(spaces.ReplaceAllString(text, " "))
	if len([]rune(text)) > maxChars {
		segments := strings.Split(text, ".")
		if len(segments) > 3 {
			segments = segments[:3]
		}
		text = strings.Join(segments, ". ") + "."
	}
	return strings.TrimSpace(text)
}
