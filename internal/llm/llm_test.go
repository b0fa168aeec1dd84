package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/device"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/provider"
)

type fakeBackend struct {
	out    string
	err    error
	system string
	prompt string
}

func (f *fakeBackend) Complete(_ context.Context, system, prompt string) (string, error) {
	f.system = system
	f.prompt = prompt
	return f.out, f.err
}

func clearCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
}

func TestNewResolvesTags(t *testing.T) {
	clearCredentials(t)
	opts := Options{OpenAIKey: "sk-test", GeminiKey: "g-test", Logger: logging.Discard()}
	cases := map[string]string{
		"gpt":    "gpt",
		"GPT":    "gpt",
		"a":      "gpt",
		"A":      "gpt",
		"openai": "gpt",
		"gemini": "gemini",
		"b":      "gemini",
		"Gemini": "gemini",
		"local":  "ollama",
		"mock":   "mock",
	}
	for tag, name := range cases {
		r, err := New(tag, opts)
		require.NoError(t, err, tag)
		assert.Equal(t, name, r.Describe().Name, tag)
	}
}

func TestNewUnknownTag(t *testing.T) {
	_, err := New("claude-on-a-toaster", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
	var upe *UnsupportedProviderError
	require.True(t, errors.As(err, &upe))
	assert.Equal(t, "claude-on-a-toaster", upe.Tag)
}

func TestNewMissingCredential(t *testing.T) {
	clearCredentials(t)
	_, err := New("gpt", Options{})
	assert.ErrorIs(t, err, ErrMissingCredential)
	_, err = New("gemini", Options{})
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestNewReadsCredentialFromEnvironment(t *testing.T) {
	clearCredentials(t)
	t.Setenv("GOOGLE_API_KEY", "from-env")
	r, err := New("b", Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, defaultGeminiModel, r.Describe().Model)
}

func TestGenerateSubstitutesFallback(t *testing.T) {
	failing := NewResponder(provider.Info{Name: "fake"}, &fakeBackend{err: errors.New("quota exceeded")}, logging.Discard())
	assert.Equal(t, FallbackResponse, failing.Generate(context.Background(), "안녕"))

	empty := NewResponder(provider.Info{Name: "fake"}, &fakeBackend{out: "  \n"}, logging.Discard())
	assert.Equal(t, FallbackResponse, empty.Generate(context.Background(), "안녕"))
}

func TestGenerateSendsPersona(t *testing.T) {
	backend := &fakeBackend{out: " 내일 일정을 추가했습니다. "}
	r := NewResponder(provider.Info{Name: "fake"}, backend, logging.Discard())
	assert.Equal(t, "내일 일정을 추가했습니다.", r.Generate(context.Background(), "내일 일정 추가해줘"))
	assert.Equal(t, Persona, backend.system)
	assert.Equal(t, "내일 일정 추가해줘", backend.prompt)
}

func TestMockResponder(t *testing.T) {
	r, err := New("mock", Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Contains(t, r.Generate(context.Background(), "회의 잡아줘"), "회의 잡아줘")
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func TestGeminiBackend(t *testing.T) {
	var captured geminiRequest
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"네, "},{"text":"추가했어요."}]}}]}`)
	}))
	defer srv.Close()

	r, err := New("gemini", Options{GeminiKey: "secret", BaseURL: srv.URL, Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, "네, 추가했어요.", r.Generate(context.Background(), "병원 예약"))
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "/models/"+defaultGeminiModel+":generateContent", gotPath)
	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, Persona, captured.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "병원 예약", captured.Contents[0].Parts[0].Text)
}

func TestGeminiBackendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"API key not valid"}}`)
	}))
	defer srv.Close()

	backend := newGeminiBackend("bad", Options{BaseURL: srv.URL})
	_, err := backend.Complete(context.Background(), Persona, "hi")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "API key not valid", apiErr.Message)
}

func TestOpenAIBackend(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"회의를 등록했습니다."}}]}`)
	}))
	defer srv.Close()

	r, err := New("a", Options{OpenAIKey: "sk-test", BaseURL: srv.URL, Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, "회의를 등록했습니다.", r.Generate(context.Background(), "회의 등록"))

	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, Persona, first["content"])
}

func TestOllamaBackendAccumulatesStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		fmt.Fprintln(w, `{"response":"내일 ","done":false}`)
		fmt.Fprintln(w, `{"response":"오후 3시요.","done":true}`)
	}))
	defer srv.Close()

	r, err := New("local", Options{Endpoint: srv.URL, Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, "내일 오후 3시요.", r.Generate(context.Background(), "언제?"))
}

func TestOllamaBackendPinsCPUDevice(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprintln(w, `{"response":"네.","done":true}`)
	}))
	defer srv.Close()

	r, err := New("local", Options{Endpoint: srv.URL, Device: device.CPU, Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, "네.", r.Generate(context.Background(), "확인"))
	require.NotNil(t, got.Options.NumGPU)
	assert.Equal(t, 0, *got.Options.NumGPU)
	assert.Equal(t, "cpu", r.Describe().Device)

	r, err = New("local", Options{Endpoint: srv.URL, Device: device.CUDA, Logger: logging.Discard()})
	require.NoError(t, err)
	r.Generate(context.Background(), "확인")
	assert.Nil(t, got.Options.NumGPU)
	assert.Equal(t, "cuda", r.Describe().Device)
}

func TestOllamaBackendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	r, err := New("local", Options{Endpoint: srv.URL, Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, FallbackResponse, r.Generate(context.Background(), "hi"))
}

func TestExecBackendRequiresCommand(t *testing.T) {
	_, err := New("exec", Options{})
	assert.Error(t, err)
}
