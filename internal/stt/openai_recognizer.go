package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/loqalabs/loqa-voice/internal/config"
)

// openAIRecognizer sends files to the hosted Whisper endpoints.
type openAIRecognizer struct {
	client *openai.Client
}

func NewOpenAIRecognizer(cfg config.STTConfig) (Recognizer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("stt: openai mode requires an API key (OPENAI_API_KEY)")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIRecognizer{client: openai.NewClientWithConfig(clientCfg)}, nil
}

func (r *openAIRecognizer) Recognize(ctx context.Context, req Request) (string, error) {
	audioReq := openai.AudioRequest{
		Model:       openai.Whisper1,
		FilePath:    req.Path,
		Temperature: 0,
		Format:      openai.AudioResponseFormatJSON,
	}
	var (
		resp openai.AudioResponse
		err  error
	)
	if req.Task == TaskTranslate {
		resp, err = r.client.CreateTranslation(ctx, audioReq)
	} else {
		audioReq.Language = req.Language
		resp, err = r.client.CreateTranscription(ctx, audioReq)
	}
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	return resp.Text, nil
}

func (r *openAIRecognizer) Close() error { return nil }
