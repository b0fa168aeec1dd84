package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/device"
	"github.com/loqalabs/loqa-voice/internal/logging"
)

type recordingBackend struct {
	format string
	err    error
	req    Request
	paths  []string
}

func (r *recordingBackend) Format() string { return r.format }

func (r *recordingBackend) Render(_ context.Context, req Request, w io.Writer) error {
	r.req = req
	if f, ok := w.(*os.File); ok {
		r.paths = append(r.paths, f.Name())
	}
	if r.err != nil {
		return r.err
	}
	_, err := io.WriteString(w, "ID3-audio")
	return err
}

func TestPrepareText(t *testing.T) {
	assert.Equal(t, "", PrepareText("", 500))
	assert.Equal(t, "안녕하세요 반갑습니다", PrepareText("  안녕하세요 \n\t반갑습니다 ", 500))

	long := strings.Repeat("가", 200) + "." + strings.Repeat("나", 200) + "." + strings.Repeat("다", 200) + "." + "라라."
	out := PrepareText(long, 500)
	assert.Equal(t, strings.Repeat("가", 200)+". "+strings.Repeat("나", 200)+". "+strings.Repeat("다", 200)+".", out)

	exact := strings.Repeat("가", 500)
	assert.Equal(t, exact, PrepareText(exact, 500))
}

func TestSynthesizeRemovesTempFile(t *testing.T) {
	backend := &recordingBackend{format: "mp3"}
	s := New(backend, Settings{Mode: "google"}, logging.Discard())

	data, err := s.Synthesize(context.Background(), "  일정을   추가했습니다. ")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-audio"), data)
	assert.Equal(t, "일정을 추가했습니다.", backend.req.Text)
	assert.Equal(t, "ko", backend.req.Language)
	require.Len(t, backend.paths, 1)
	assert.Equal(t, ".mp3", filepath.Ext(backend.paths[0]))
	_, statErr := os.Stat(backend.paths[0])
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestSynthesizeForwardsDevice(t *testing.T) {
	backend := &recordingBackend{format: "wav"}
	s := New(backend, SettingsFrom(config.TTSConfig{Mode: "exec"}, device.CUDA), logging.Discard())

	_, err := s.Synthesize(context.Background(), "안녕하세요")
	require.NoError(t, err)
	assert.Equal(t, "cuda", backend.req.Device)
	assert.Equal(t, "cuda", s.Describe().Device)
}

func TestSynthesizeEmptyText(t *testing.T) {
	s := New(&recordingBackend{format: "mp3"}, Settings{}, logging.Discard())
	_, err := s.Synthesize(context.Background(), "   \n ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestSynthesizePropagatesBackendError(t *testing.T) {
	backend := &recordingBackend{format: "mp3", err: errors.New("network unreachable")}
	s := New(backend, Settings{}, logging.Discard())
	_, err := s.Synthesize(context.Background(), "안녕")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network unreachable")
	_, statErr := os.Stat(backend.paths[0])
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestMockBackendProducesWAV(t *testing.T) {
	s := New(NewMockBackend(16000), Settings{Mode: "mock"}, logging.Discard())
	data, err := s.Synthesize(context.Background(), "테스트 응답입니다.")
	require.NoError(t, err)
	buf, err := audio.DecodeWAV(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16000, buf.SampleRate)
	assert.Greater(t, buf.Len(), 0)
	assert.True(t, s.Describe().Features["offline"])
}

func TestGoogleBackendChunksRequests(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/translate_tts", r.URL.Path)
		assert.Equal(t, "ko", r.URL.Query().Get("tl"))
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q"))
		mu.Unlock()
		fmt.Fprintf(w, "[%s]", r.URL.Query().Get("idx"))
	}))
	defer srv.Close()

	text := strings.Repeat("가나다라마 ", 30) + "끝."
	var out bytes.Buffer
	err := NewGoogleBackend(srv.URL, srv.Client()).Render(context.Background(), Request{Text: text, Language: "ko"}, &out)
	require.NoError(t, err)
	require.Greater(t, len(queries), 1)
	for _, q := range queries {
		assert.LessOrEqual(t, len([]rune(q)), googleChunkLimit)
	}
	assert.True(t, strings.HasPrefix(out.String(), "[0][1]"))
}

func TestGoogleBackendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewGoogleBackend(srv.URL, srv.Client()).Render(context.Background(), Request{Text: "안녕"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"짧은 문장."}, splitText("짧은 문장.", 100))

	pieces := splitText("첫 문장입니다. 두 번째 문장입니다. 세 번째.", 12)
	for _, p := range pieces {
		assert.LessOrEqual(t, len([]rune(p)), 12)
	}
	assert.Equal(t, "첫 문장입니다.", pieces[0])

	hard := splitText(strings.Repeat("가", 25), 10)
	assert.Equal(t, []string{strings.Repeat("가", 10), strings.Repeat("가", 10), strings.Repeat("가", 5)}, hard)
}

func TestExecBackendWrapsPCM(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	// Two 16-bit samples (0x1000, 0x2000), base64 "ABAAIA==".
	backend, err := NewExecBackend(`sh -c 'cat >/dev/null; echo "{\"pcm_base64\":\"ABAAIA==\",\"final\":true}"'`, 8000, 1)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, backend.Render(context.Background(), Request{Text: "hi"}, &out))
	buf, err := audio.DecodeWAV(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 8000, buf.SampleRate)
	require.Len(t, buf.Samples, 2)
	assert.InDelta(t, 4096.0/32768, buf.Samples[0], 1e-3)
}

func TestNewBackendModes(t *testing.T) {
	for _, mode := range []string{"google", "mock"} {
		b, err := NewBackend(config.TTSConfig{Mode: mode, SampleRate: 16000})
		require.NoError(t, err, mode)
		assert.NotEmpty(t, b.Format())
	}
	_, err := NewBackend(config.TTSConfig{Mode: "openai"})
	assert.Error(t, err)
	_, err = NewBackend(config.TTSConfig{Mode: "exec"})
	assert.Error(t, err)
	_, err = NewBackend(config.TTSConfig{Mode: "telegraph"})
	assert.Error(t, err)
}
