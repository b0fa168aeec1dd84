// Package stt turns recorded speech into text.
package stt

import (
	"context"
	"errors"
)

// Task selects between same-language transcription and translation to
// English.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

var (
	ErrNotFound     = errors.New("stt: audio file not found")
	ErrInvalidTask  = errors.New("stt: invalid task")
	ErrUnknownModel = errors.New("stt: unknown model")
	ErrClosed       = errors.New("stt: transcriber closed")
)

// Request is a single recognition call against an audio file on disk.
type Request struct {
	Path     string
	Language string
	Task     Task
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Recognize(ctx context.Context, req Request) (string, error)
	Close() error
}

// ModelSetter is implemented by recognizers that can switch model size at
// runtime.
type ModelSetter interface {
	SetModel(name string) error
}

// AvailableModels lists the recognizer sizes that can be selected.
func AvailableModels() []string {
	return []string{"tiny", "base", "small", "medium", "large"}
}

func validModel(name string) bool {
	for _, m := range AvailableModels() {
		if m == name {
			return true
		}
	}
	return false
}
