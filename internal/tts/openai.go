package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/loqalabs/loqa-voice/internal/config"
)

type openAIBackend struct {
	client *openai.Client
	model  openai.SpeechModel
	voice  openai.SpeechVoice
}

func NewOpenAIBackend(cfg config.TTSConfig, client *http.Client) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("tts: openai mode requires an API key (OPENAI_API_KEY)")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if client != nil {
		clientCfg.HTTPClient = client
	}
	model := openai.SpeechModel(cfg.Model)
	if model == "" {
		model = openai.TTSModel1
	}
	voice := openai.SpeechVoice(cfg.Voice)
	if voice == "" {
		voice = openai.VoiceNova
	}
	return &openAIBackend{client: openai.NewClientWithConfig(clientCfg), model: model, voice: voice}, nil
}

func (o *openAIBackend) Format() string { return "mp3" }

func (o *openAIBackend) Render(ctx context.Context, req Request, w io.Writer) error {
	voice := o.voice
	if req.Voice != "" {
		voice = openai.SpeechVoice(req.Voice)
	}
	speed := 1.0
	if req.Slow {
		speed = 0.75
	}
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          speed,
	})
	if err != nil {
		return fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()
	_, err = io.Copy(w, resp)
	return err
}
