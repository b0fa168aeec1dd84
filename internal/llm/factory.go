package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Provider tags understood by New.
const (
	KindGPT    = "gpt"
	KindGemini = "gemini"
	KindLocal  = "local"
	KindExec   = "exec"
	KindMock   = "mock"
)

var aliases = map[string]string{
	"a":      KindGPT,
	"b":      KindGemini,
	"openai": KindGPT,
	"ollama": KindLocal,
}

// NormalizeKind lowercases tag and resolves aliases.
func NormalizeKind(tag string) string {
	kind := strings.ToLower(strings.TrimSpace(tag))
	if alias, ok := aliases[kind]; ok {
		return alias
	}
	return kind
}

// New builds the responder for tag. Hosted variants fail with
// ErrMissingCredential when no key is configured or present in the
// environment.
func New(tag string, opts Options) (Responder, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	kind := NormalizeKind(tag)
	switch kind {
	case KindGPT:
		key := firstNonEmpty(opts.OpenAIKey, os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrMissingCredential)
		}
		backend := newOpenAIBackend(key, opts)
		return NewResponder(responderInfo("gpt", kind, backend.model, opts.Device), backend, logger), nil
	case KindGemini:
		key := firstNonEmpty(opts.GeminiKey, os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrMissingCredential)
		}
		backend := newGeminiBackend(key, opts)
		return NewResponder(responderInfo("gemini", kind, backend.model, opts.Device), backend, logger), nil
	case KindLocal:
		backend := newOllamaBackend(opts)
		return NewResponder(responderInfo("ollama", kind, backend.model, opts.Device), backend, logger), nil
	case KindExec:
		backend, err := newExecBackend(opts)
		if err != nil {
			return nil, err
		}
		return NewResponder(responderInfo("exec", kind, opts.Model, opts.Device), backend, logger), nil
	case KindMock:
		return NewResponder(responderInfo("mock", kind, "mock", opts.Device), mockBackend{}, logger), nil
	default:
		return nil, &UnsupportedProviderError{Tag: tag}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
