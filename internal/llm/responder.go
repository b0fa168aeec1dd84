// Package llm produces the assistant's reply to a transcribed utterance.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/device"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/provider"
)

// FallbackResponse is returned whenever a backend fails or answers with
// nothing.
const FallbackResponse = "죄송합니다. 응답을 생성하는 중에 오류가 발생했습니다."

// Persona is the system instruction every backend receives.
const Persona = `당신은 한국어 음성 명령을 처리하는 AI 어시스턴트입니다.
사용자의 음성 명령을 이해하고 적절한 응답을 제공하세요.
특히 일정 관리, 캘린더 관련 명령에 대해 도움을 주세요.
응답은 음성으로 읽히므로 짧고 자연스러운 한국어 문장으로 작성하세요.`

var (
	ErrUnsupportedProvider = errors.New("llm: unsupported provider")
	ErrMissingCredential   = errors.New("llm: missing credential")
)

// UnsupportedProviderError names the tag the factory could not resolve.
type UnsupportedProviderError struct {
	Tag string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("llm: unsupported provider %q (expected gpt, gemini, local, exec or mock)", e.Tag)
}

func (e *UnsupportedProviderError) Is(target error) bool {
	return target == ErrUnsupportedProvider
}

// APIError is a non-success HTTP answer from a hosted backend.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Responder answers user text in the assistant persona. Generate never
// fails; backend errors are logged and replaced with FallbackResponse.
type Responder interface {
	Generate(ctx context.Context, text string) string
	Describe() provider.Info
	Close() error
}

// Backend performs one completion round trip.
type Backend interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Options configure backend construction. Empty credentials are looked up
// in the environment by the factory.
type Options struct {
	OpenAIKey   string
	GeminiKey   string
	Model       string
	BaseURL     string
	Endpoint    string
	Command     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Device      device.ID
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// OptionsFromConfig builds factory options from the file configuration.
func OptionsFromConfig(cfg config.LLMConfig, dev device.ID, logger *slog.Logger) Options {
	return Options{
		OpenAIKey:   cfg.OpenAIKey,
		GeminiKey:   cfg.GeminiKey,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		Endpoint:    cfg.Endpoint,
		Command:     cfg.Command,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
		Device:      dev,
		Logger:      logger,
	}
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

type responder struct {
	info    provider.Info
	backend Backend
	logger  *slog.Logger

	closeOnce sync.Once
}

// NewResponder wraps backend with the persona and the fallback policy.
func NewResponder(info provider.Info, backend Backend, logger *slog.Logger) Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &responder{
		info:    info.Clone(),
		backend: backend,
		logger:  logger.With(slog.String("component", "llm"), slog.String("provider", info.Name)),
	}
}

func (r *responder) Generate(ctx context.Context, text string) string {
	start := time.Now()
	out, err := r.backend.Complete(ctx, Persona, text)
	if err != nil {
		r.logger.Error("response generation failed", logging.Error(err), slog.Duration("elapsed", time.Since(start)))
		return FallbackResponse
	}
	out = strings.TrimSpace(out)
	if out == "" {
		r.logger.Warn("backend returned empty response")
		return FallbackResponse
	}
	r.logger.Debug("response generated", slog.Duration("elapsed", time.Since(start)), slog.Int("chars", len([]rune(out))))
	return out
}

func (r *responder) Describe() provider.Info {
	return r.info.Clone()
}

func (r *responder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if closer, ok := r.backend.(interface{ Close() error }); ok {
			err = closer.Close()
		}
	})
	return err
}

func responderInfo(name, kind, model string, dev device.ID) provider.Info {
	return provider.Info{
		Name:      name,
		Kind:      kind,
		Model:     model,
		Device:    string(dev),
		Languages: []string{"ko", "en"},
		Features: map[string]bool{
			"korean_optimization": true,
			"command_processing":  true,
			"response_generation": true,
			"fallback_on_error":   true,
			"calendar_persona":    true,
		},
	}
}
