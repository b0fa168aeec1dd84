// Package tts renders assistant replies as speech audio.
package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
)

// Request is one rendering job.
type Request struct {
	Text     string
	Language string
	Voice    string
	Slow     bool
	Device   string
}

// Backend writes encoded audio for a request.
type Backend interface {
	Render(ctx context.Context, req Request, w io.Writer) error
	// Format is the container written by Render, e.g. "mp3" or "wav".
	Format() string
}

// NewBackend builds the backend named by cfg.Mode.
func NewBackend(cfg config.TTSConfig) (Backend, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	switch cfg.Mode {
	case "google", "":
		return NewGoogleBackend(cfg.BaseURL, client), nil
	case "openai":
		return NewOpenAIBackend(cfg, client)
	case "exec":
		return NewExecBackend(cfg.Command, cfg.SampleRate, 1)
	case "mock":
		return NewMockBackend(cfg.SampleRate), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
