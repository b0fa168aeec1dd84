// Package protocol defines the JSON bodies shared by the HTTP and bus
// transports.
package protocol

import (
	"math"
	"time"

	"github.com/loqalabs/loqa-voice/internal/intent"
	"github.com/loqalabs/loqa-voice/internal/pipeline"
	"github.com/loqalabs/loqa-voice/internal/provider"
)

const (
	SubjectProcessRequest = "voice.process.request"

	StatusHealthy = "healthy"
	TestMessage   = "AI Server is running!"
)

// ProcessRequest asks for one pipeline run over the bus. Audio is base64 in
// JSON.
type ProcessRequest struct {
	RequestID string `json:"request_id"`
	Filename  string `json:"filename,omitempty"`
	Audio     []byte `json:"audio"`
}

// ProcessReply is the outcome of a run in wire form.
type ProcessReply struct {
	RequestID       string                   `json:"request_id,omitempty"`
	Success         bool                     `json:"success"`
	TranscribedText string                   `json:"transcribed_text,omitempty"`
	LLMResponse     string                   `json:"llm_response,omitempty"`
	AudioOutput     []byte                   `json:"audio_output,omitempty"`
	AudioFormat     string                   `json:"audio_format,omitempty"`
	TotalTime       float64                  `json:"total_time,omitempty"`
	Intent          *intent.Analysis         `json:"intent,omitempty"`
	Providers       map[string]provider.Info `json:"providers,omitempty"`
	Stage           string                   `json:"stage,omitempty"`
	Error           string                   `json:"error,omitempty"`
	Timestamp       time.Time                `json:"timestamp"`
}

// ReplyFromResult converts a pipeline result. total_time is seconds rounded
// to two decimals.
func ReplyFromResult(requestID string, res pipeline.Result, now time.Time) ProcessReply {
	if !res.OK() {
		return ProcessReply{
			RequestID: requestID,
			Success:   false,
			Stage:     string(res.Failure.Stage),
			Error:     res.Failure.Error,
			Timestamp: res.Failure.Timestamp,
		}
	}
	s := res.Success
	return ProcessReply{
		RequestID:       requestID,
		Success:         true,
		TranscribedText: s.Transcript,
		LLMResponse:     s.ResponseText,
		AudioOutput:     s.Audio,
		AudioFormat:     s.AudioFormat,
		TotalTime:       math.Round(s.Elapsed.Seconds()*100) / 100,
		Intent:          s.Intent,
		Providers:       s.Providers,
		Timestamp:       now,
	}
}

// ErrorReply is a transport-level failure outside the pipeline.
func ErrorReply(requestID string, err error, now time.Time) ProcessReply {
	return ProcessReply{RequestID: requestID, Error: err.Error(), Timestamp: now}
}

// Health is the /health body.
type Health struct {
	Status       string        `json:"status"`
	Device       string        `json:"device"`
	LLMType      string        `json:"llm_type"`
	PipelineInfo pipeline.Info `json:"pipeline_info"`
	Timestamp    time.Time     `json:"timestamp"`
}

// TestStatus is the /test body.
type TestStatus struct {
	Message   string    `json:"message"`
	Device    string    `json:"device"`
	Timestamp time.Time `json:"timestamp"`
}
