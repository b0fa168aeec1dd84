package runtime

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/device"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.HTTP.Enabled = false
	cfg.STT.Mode = "mock"
	cfg.LLM.Provider = "mock"
	cfg.TTS.Mode = "mock"
	cfg.Journal.RetentionMode = "persistent"
	cfg.Journal.Path = filepath.Join(t.TempDir(), "runs.db")
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	return cfg
}

func startRuntime(t *testing.T, cfg config.Config) (*Runtime, context.CancelFunc, <-chan error) {
	t.Helper()
	rt := New(cfg, logging.Discard(), WithProber(device.ProberFunc(func() bool { return false })))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()
	require.Eventually(t, rt.Ready, 10*time.Second, 20*time.Millisecond)
	return rt, cancel, done
}

func toneWAV(t *testing.T) []byte {
	t.Helper()
	samples := make([]float64, audio.DefaultSampleRate/2)
	for i := range samples {
		samples[i] = 0.25 * math.Sin(2*math.Pi*330*float64(i)/float64(audio.DefaultSampleRate))
	}
	data, err := audio.EncodeWAV(audio.Buffer{Samples: samples, SampleRate: audio.DefaultSampleRate})
	require.NoError(t, err)
	return data
}

func TestRuntimeServesBusRequests(t *testing.T) {
	cfg := testConfig(t)
	rt, cancel, done := startRuntime(t, cfg)

	client, err := bus.Connect(context.Background(), cfg.Bus, "runtime-test", rt.nats.ClientURL(), logging.Discard())
	require.NoError(t, err)
	defer client.Close()

	payload, err := json.Marshal(protocol.ProcessRequest{RequestID: "rt-1", Filename: "cmd.wav", Audio: toneWAV(t)})
	require.NoError(t, err)
	msg, err := client.Conn().Request(cfg.Bus.Subject, payload, 30*time.Second)
	require.NoError(t, err)

	var reply protocol.ProcessReply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	require.True(t, reply.Success, reply.Error)
	assert.Equal(t, "rt-1", reply.RequestID)
	assert.NotEmpty(t, reply.AudioOutput)
	require.NotNil(t, reply.Intent)
	assert.Equal(t, "medical", reply.Intent.Category)

	runs, err := rt.journal.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "success", runs[0].Status)
	assert.Equal(t, "cpu", runs[0].Device)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("runtime did not stop")
	}
	assert.False(t, rt.Ready())
}

func TestRuntimeFailsOnBadProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = false
	cfg.LLM.Provider = "toaster"
	rt := New(cfg, logging.Discard())
	err := rt.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build pipeline")
}
