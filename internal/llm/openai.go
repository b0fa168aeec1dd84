package llm

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
)

const defaultGPTModel = openai.GPT4oMini

type openAIBackend struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func newOpenAIBackend(key string, opts Options) *openAIBackend {
	cfg := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = opts.httpClient()
	model := opts.Model
	if model == "" {
		model = defaultGPTModel
	}
	return &openAIBackend{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		maxTokens:   opts.MaxTokens,
		temperature: float32(opts.Temperature),
	}
}

func (b *openAIBackend) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
