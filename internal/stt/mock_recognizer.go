package stt

import (
	"context"
)

// MockTranscript is what the mock recognizer hears in every file.
const MockTranscript = "내일 오후 3시에 병원 예약 일정 추가해줘"

type mockRecognizer struct {
	text string
}

// NewMockRecognizer returns a recognizer that answers every request with
// text, or MockTranscript when text is empty.
func NewMockRecognizer(text string) Recognizer {
	if text == "" {
		text = MockTranscript
	}
	return &mockRecognizer{text: text}
}

func (m *mockRecognizer) Recognize(ctx context.Context, _ Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.text, nil
}

func (m *mockRecognizer) Close() error { return nil }
