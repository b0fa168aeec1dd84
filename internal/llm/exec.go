package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-voice/internal/device"
)

// execBackend pipes a JSON request into a local command and reads a JSON
// object with a "content" field from its stdout.
type execBackend struct {
	cmd         []string
	model       string
	device      device.ID
	maxTokens   int
	temperature float64
	mu          sync.Mutex
}

type execRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system"`
	Model       string  `json:"model,omitempty"`
	Device      string  `json:"device,omitempty"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type execResponse struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

func newExecBackend(opts Options) (*execBackend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("llm command empty")
	}
	return &execBackend{
		cmd:         args,
		model:       opts.Model,
		device:      opts.Device,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}, nil
}

func (g *execBackend) Complete(ctx context.Context, system, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	input, err := json.Marshal(execRequest{
		Prompt:      prompt,
		System:      system,
		Model:       g.model,
		Device:      string(g.device),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("llm exec command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("decode llm exec response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("llm exec command: %s", resp.Error)
	}
	return resp.Content, nil
}
