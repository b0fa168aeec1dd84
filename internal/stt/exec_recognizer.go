package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/mattn/go-shellwords"
)

// execRecognizer runs a whisper.cpp style command per request. The command
// receives --audio, --model, --language and --task flags and must print a
// JSON object with a "text" field on stdout.
type execRecognizer struct {
	cmd       []string
	modelPath string
	mu        sync.Mutex
	model     string
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args, modelPath: cfg.ModelPath, model: cfg.Model}, nil
}

func (r *execRecognizer) SetModel(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.model = name
	return nil
}

func (r *execRecognizer) Recognize(ctx context.Context, req Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", req.Path)
	switch {
	case r.modelPath != "":
		cmdArgs = append(cmdArgs, "--model", r.modelPath)
	case r.model != "":
		cmdArgs = append(cmdArgs, "--model", r.model)
	}
	if req.Language != "" {
		cmdArgs = append(cmdArgs, "--language", req.Language)
	}
	if req.Task == TaskTranslate {
		cmdArgs = append(cmdArgs, "--task", string(TaskTranslate))
	}

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return resp.Text, nil
}

func (r *execRecognizer) Close() error { return nil }
