package busapi

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/pipeline"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

type recordingRunner struct {
	path    string
	content []byte
	result  pipeline.Result
}

func (r *recordingRunner) Run(_ context.Context, path string) pipeline.Result {
	r.path = path
	r.content, _ = os.ReadFile(path)
	return r.result
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	cfg := config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1, ConnectTimeout: 1000}
	srv, err := natsserver.Start(cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), cfg, "busapi-test", srv.ClientURL(), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func request(t *testing.T, client *bus.Client, req any) protocol.ProcessReply {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	msg, err := client.Conn().Request(protocol.SubjectProcessRequest, payload, 5*time.Second)
	require.NoError(t, err)
	var reply protocol.ProcessReply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	return reply
}

func TestProcessRequestSuccess(t *testing.T) {
	client := startBus(t)
	runner := &recordingRunner{result: pipeline.Result{Success: &pipeline.Success{
		Transcript:   "내일 회의.",
		ResponseText: "네, 등록했습니다.",
		Audio:        []byte("mp3-bytes"),
		Elapsed:      1500 * time.Millisecond,
	}}}
	svc := NewService(context.Background(), client, runner, Options{QueueGroup: "loqa-voice"}, logging.Discard())
	require.NoError(t, svc.Start())
	defer svc.Close()
	assert.True(t, svc.Healthy())

	reply := request(t, client, protocol.ProcessRequest{RequestID: "r-1", Filename: "clip.M4A", Audio: []byte("fake audio")})
	require.True(t, reply.Success, reply.Error)
	assert.Equal(t, "r-1", reply.RequestID)
	assert.Equal(t, "내일 회의.", reply.TranscribedText)
	assert.Equal(t, []byte("mp3-bytes"), reply.AudioOutput)
	assert.InDelta(t, 1.5, reply.TotalTime, 1e-9)

	assert.Equal(t, ".m4a", runner.path[len(runner.path)-4:])
	assert.Equal(t, []byte("fake audio"), runner.content)
	_, err := os.Stat(runner.path)
	assert.True(t, os.IsNotExist(err), "staged audio should be removed")
}

func TestProcessRequestFailures(t *testing.T) {
	client := startBus(t)
	runner := &recordingRunner{result: pipeline.Result{Failure: &pipeline.Failure{
		Stage: pipeline.StageTranscribing,
		Error: pipeline.EmptyTranscriptMessage,
	}}}
	svc := NewService(context.Background(), client, runner, Options{}, logging.Discard())
	require.NoError(t, svc.Start())
	defer svc.Close()

	reply := request(t, client, protocol.ProcessRequest{Audio: []byte("x")})
	assert.False(t, reply.Success)
	assert.NotEmpty(t, reply.RequestID)
	assert.Equal(t, pipeline.EmptyTranscriptMessage, reply.Error)

	reply = request(t, client, protocol.ProcessRequest{RequestID: "empty"})
	assert.False(t, reply.Success)
	assert.Equal(t, ErrEmptyAudio.Error(), reply.Error)

	msg, err := client.Conn().Request(protocol.SubjectProcessRequest, []byte("{not json"), 5*time.Second)
	require.NoError(t, err)
	var bad protocol.ProcessReply
	require.NoError(t, json.Unmarshal(msg.Data, &bad))
	assert.Contains(t, bad.Error, "invalid request")
}
