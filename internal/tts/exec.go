package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

// execBackend runs a local synthesizer. The command reads a JSON request on
// stdin and answers with newline-delimited JSON chunks carrying base64
// 16-bit little-endian PCM, which is wrapped into a WAV file.
type execBackend struct {
	cmd        []string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	Language   string `json:"language"`
	Device     string `json:"device,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

func NewExecBackend(command string, sampleRate, channels int) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	if channels <= 0 {
		channels = 1
	}
	return &execBackend{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execBackend) Format() string { return "wav" }

func (e *execBackend) Render(ctx context.Context, req Request, w io.Writer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		Language:   req.Language,
		Device:     req.Device,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	var pcm []byte
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			_ = cmd.Wait()
			return fmt.Errorf("decode tts chunk: %w", err)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			_ = cmd.Wait()
			return fmt.Errorf("decode tts pcm: %w", err)
		}
		pcm = append(pcm, chunk...)
		if resp.Final {
			break
		}
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("tts command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if scanErr != nil {
		return scanErr
	}

	encoded, err := audio.EncodeWAV(pcmToBuffer(pcm, e.sampleRate, e.channels))
	if err != nil {
		return err
	}
	_, err = w.Write(encoded)
	return err
}

// pcmToBuffer downmixes interleaved 16-bit PCM to a mono buffer.
func pcmToBuffer(pcm []byte, sampleRate, channels int) audio.Buffer {
	frames := len(pcm) / (2 * channels)
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			sum += float64(int16(binary.LittleEndian.Uint16(pcm[off:]))) / 32768
		}
		samples[i] = sum / float64(channels)
	}
	return audio.Buffer{Samples: samples, SampleRate: sampleRate}
}
