package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/intent"
	"github.com/loqalabs/loqa-voice/internal/pipeline"
)

func TestReplyFromSuccess(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	res := pipeline.Result{Success: &pipeline.Success{
		Transcript:   "내일 회의.",
		ResponseText: "네.",
		Audio:        []byte{0xff, 0xfb},
		AudioFormat:  "mp3",
		Elapsed:      1234567 * time.Microsecond,
		Intent:       &intent.Analysis{Category: "meeting"},
	}}

	reply := ReplyFromResult("req-1", res, now)
	assert.True(t, reply.Success)
	assert.InDelta(t, 1.23, reply.TotalTime, 1e-9)
	assert.Equal(t, now, reply.Timestamp)

	raw, err := json.Marshal(reply)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "//s=", wire["audio_output"])
	assert.Equal(t, "내일 회의.", wire["transcribed_text"])
	assert.NotContains(t, wire, "error")
}

func TestReplyFromFailure(t *testing.T) {
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	res := pipeline.Result{Failure: &pipeline.Failure{Stage: pipeline.StageTranscribing, Error: "boom", Timestamp: at}}

	reply := ReplyFromResult("req-2", res, time.Now())
	assert.False(t, reply.Success)
	assert.Equal(t, "boom", reply.Error)
	assert.Equal(t, "transcribing", reply.Stage)
	assert.Equal(t, at, reply.Timestamp)
	assert.Nil(t, reply.AudioOutput)

	e := ErrorReply("req-3", errors.New("bad payload"), at)
	assert.False(t, e.Success)
	assert.Equal(t, "bad payload", e.Error)
}
