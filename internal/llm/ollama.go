package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-voice/internal/device"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOllamaModel    = "llama3.2:latest"
)

// ollamaBackend talks to a local Ollama daemon. The streamed reply is
// accumulated into one string.
type ollamaBackend struct {
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
	numGPU      *int
	http        *http.Client
}

func newOllamaBackend(opts Options) *ollamaBackend {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	model := opts.Model
	if model == "" {
		model = defaultOllamaModel
	}
	var numGPU *int
	if opts.Device == device.CPU {
		zero := 0
		numGPU = &zero
	}
	return &ollamaBackend{
		endpoint:    strings.TrimRight(endpoint, "/"),
		numGPU:      numGPU,
		model:       model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		http:        opts.httpClient(),
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumGPU      *int    `json:"num_gpu,omitempty"` // 0 keeps every layer on the CPU
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (g *ollamaBackend) Complete(ctx context.Context, system, prompt string) (string, error) {
	payload := ollamaRequest{
		Model:  g.model,
		Prompt: prompt,
		System: system,
		Stream: true,
		Options: ollamaOptions{
			Temperature: g.temperature,
			NumPredict:  g.maxTokens,
			NumGPU:      g.numGPU,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{Provider: KindLocal, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	scanner := bufio.NewScanner(resp.Body)
	var accumulated strings.Builder
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", err
		}
		if chunk.Error != "" {
			return "", &APIError{Provider: KindLocal, StatusCode: resp.StatusCode, Message: chunk.Error}
		}
		accumulated.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return accumulated.String(), nil
}
