package stt

import (
	"context"
	"errors"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/device"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/provider"
)

type recordingRecognizer struct {
	text     string
	err      error
	requests []Request
	existed  []bool
	model    string
	closed   int
}

func (r *recordingRecognizer) Recognize(_ context.Context, req Request) (string, error) {
	r.requests = append(r.requests, req)
	_, statErr := os.Stat(req.Path)
	r.existed = append(r.existed, statErr == nil)
	return r.text, r.err
}

func (r *recordingRecognizer) SetModel(name string) error {
	r.model = name
	return nil
}

func (r *recordingRecognizer) Close() error {
	r.closed++
	return nil
}

func writeTone(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	samples := make([]float64, 16000)
	for i := range samples {
		samples[i] = 0.3 * math.Sin(2*math.Pi*220*float64(i)/16000)
	}
	require.NoError(t, audio.WriteWAVFile(path, audio.Buffer{Samples: samples, SampleRate: 16000}))
	return path
}

func newTranscriber(t *testing.T, rec Recognizer, withPre bool) *Transcriber {
	t.Helper()
	var pre *audio.Preprocessor
	if withPre {
		var err error
		pre, err = audio.NewPreprocessor(audio.DefaultPreprocessConfig(), nil, logging.Discard())
		require.NoError(t, err)
	}
	settings := SettingsFrom(config.Default().STT, device.CPU)
	return New(rec, settings, pre, logging.Discard())
}

func TestTranscribeMissingFile(t *testing.T) {
	tr := newTranscriber(t, &recordingRecognizer{text: "x"}, false)
	_, err := tr.Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), Options{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTranscribeRejectsUnknownTask(t *testing.T) {
	tr := newTranscriber(t, &recordingRecognizer{text: "x"}, false)
	_, err := tr.Transcribe(context.Background(), writeTone(t, "a.wav"), Options{Task: "summarize"})
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestTranscribeDefaultsAndPostProcessing(t *testing.T) {
	rec := &recordingRecognizer{text: "  안녕하세요   반갑습니다 "}
	tr := newTranscriber(t, rec, false)

	text, err := tr.Transcribe(context.Background(), writeTone(t, "a.wav"), Options{})
	require.NoError(t, err)
	assert.Equal(t, "안녕하세요 반갑습니다.", text)
	require.Len(t, rec.requests, 1)
	assert.Equal(t, "ko", rec.requests[0].Language)
	assert.Equal(t, TaskTranscribe, rec.requests[0].Task)
}

func TestTranscribeEmptyStaysEmpty(t *testing.T) {
	tr := newTranscriber(t, &recordingRecognizer{text: "   "}, false)
	text, err := tr.Transcribe(context.Background(), writeTone(t, "a.wav"), Options{})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestTranscribeWithoutKoreanOptimization(t *testing.T) {
	tr := newTranscriber(t, &recordingRecognizer{text: "hello   world"}, false)
	tr.SetKoreanOptimization(false)
	text, err := tr.Transcribe(context.Background(), writeTone(t, "a.wav"), Options{Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "hello   world", text)
}

func TestTranscribeCleansUpPreprocessedFile(t *testing.T) {
	rec := &recordingRecognizer{text: "네"}
	tr := newTranscriber(t, rec, true)
	src := writeTone(t, "a.wav")

	_, err := tr.Transcribe(context.Background(), src, Options{})
	require.NoError(t, err)
	require.Len(t, rec.requests, 1)
	used := rec.requests[0].Path
	assert.NotEqual(t, src, used)
	assert.True(t, rec.existed[0], "artifact must exist during recognition")
	_, statErr := os.Stat(used)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "artifact must be removed")

	off := false
	_, err = tr.Transcribe(context.Background(), src, Options{UsePreprocessing: &off})
	require.NoError(t, err)
	assert.Equal(t, src, rec.requests[1].Path)
}

func TestTranscribeCleansUpOnRecognizerError(t *testing.T) {
	rec := &recordingRecognizer{err: errors.New("backend down")}
	tr := newTranscriber(t, rec, true)

	_, err := tr.Transcribe(context.Background(), writeTone(t, "a.wav"), Options{})
	require.Error(t, err)
	_, statErr := os.Stat(rec.requests[0].Path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestTranscribeChunks(t *testing.T) {
	rec := &recordingRecognizer{text: "테스트"}
	tr := newTranscriber(t, rec, false)
	chunk := make([]float64, 800)
	for i := range chunk {
		chunk[i] = 0.1
	}
	text, err := tr.TranscribeChunks(context.Background(), [][]float64{chunk, chunk}, 16000, "")
	require.NoError(t, err)
	assert.Equal(t, "테스트.", text)
	_, statErr := os.Stat(rec.requests[0].Path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestSetModel(t *testing.T) {
	rec := &recordingRecognizer{}
	tr := newTranscriber(t, rec, false)

	require.NoError(t, tr.SetModel("medium"))
	assert.Equal(t, "medium", rec.model)
	assert.Equal(t, "medium", tr.Describe().Model)

	err := tr.SetModel("gigantic")
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.Equal(t, "medium", tr.Describe().Model)
}

type blockingRecognizer struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingRecognizer) Recognize(ctx context.Context, _ Request) (string, error) {
	close(b.started)
	select {
	case <-b.release:
		return "회의 잡아줘", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *blockingRecognizer) Close() error { return nil }

func TestDescribeDuringTranscription(t *testing.T) {
	rec := &blockingRecognizer{started: make(chan struct{}), release: make(chan struct{})}
	tr := newTranscriber(t, rec, false)
	path := writeTone(t, "slow.wav")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := tr.Transcribe(ctx, path, Options{})
		done <- err
	}()
	<-rec.started

	described := make(chan provider.Info, 1)
	go func() { described <- tr.Describe() }()
	select {
	case info := <-described:
		assert.Equal(t, "whisper", info.Name)
	case <-time.After(time.Second):
		t.Fatal("Describe waited for the running transcription")
	}

	tr.SetKoreanOptimization(false)
	assert.False(t, tr.Describe().Features["korean_optimization"])

	close(rec.release)
	require.NoError(t, <-done)
}

func TestDescribeReturnsCopy(t *testing.T) {
	tr := newTranscriber(t, &recordingRecognizer{}, true)
	info := tr.Describe()
	assert.Equal(t, "whisper", info.Name)
	assert.Contains(t, info.Languages, "ko")
	assert.True(t, info.Features["noise_reduction"])

	info.Languages[0] = "xx"
	info.Features["noise_reduction"] = false
	again := tr.Describe()
	assert.Equal(t, "ko", again.Languages[0])
	assert.True(t, again.Features["noise_reduction"])
}

func TestCloseIsIdempotent(t *testing.T) {
	rec := &recordingRecognizer{text: "x"}
	tr := newTranscriber(t, rec, false)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, 1, rec.closed)

	_, err := tr.Transcribe(context.Background(), writeTone(t, "a.wav"), Options{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPostProcessKorean(t *testing.T) {
	assert.Equal(t, "", PostProcessKorean(""))
	assert.Equal(t, "정말요?", PostProcessKorean("정말요?"))
	assert.Equal(t, "좋아요!", PostProcessKorean(" 좋아요! "))
	assert.Equal(t, "일정 추가.", PostProcessKorean("일정\n\t추가"))
}

func TestNewRecognizerModes(t *testing.T) {
	rec, err := NewRecognizer(config.STTConfig{Mode: "mock"})
	require.NoError(t, err)
	text, err := rec.Recognize(context.Background(), Request{Path: "x.wav"})
	require.NoError(t, err)
	assert.Equal(t, MockTranscript, text)

	_, err = NewRecognizer(config.STTConfig{Mode: "openai"})
	assert.Error(t, err)

	_, err = NewRecognizer(config.STTConfig{Mode: "exec", Command: ""})
	assert.Error(t, err)

	_, err = NewRecognizer(config.STTConfig{Mode: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestExecRecognizerPassesFlags(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	rec, err := NewExecRecognizer(config.STTConfig{
		Command: `sh -c 'echo "{\"text\": \"$*\"}"' stt`,
		Model:   "small",
	})
	require.NoError(t, err)

	text, err := rec.Recognize(context.Background(), Request{Path: "/tmp/a.wav", Language: "ko", Task: TaskTranslate})
	require.NoError(t, err)
	assert.Equal(t, "--audio /tmp/a.wav --model small --language ko --task translate", text)
}
