package tts

import (
	"context"
	"io"
	"math"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

// mockBackend renders a quiet tone whose length follows the text, so
// callers get a playable WAV without network access.
type mockBackend struct {
	sampleRate int
}

func NewMockBackend(sampleRate int) Backend {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	return &mockBackend{sampleRate: sampleRate}
}

func (m *mockBackend) Format() string { return "wav" }

func (m *mockBackend) Render(ctx context.Context, req Request, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := time.Duration(len([]rune(req.Text))) * 60 * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	if d < 200*time.Millisecond {
		d = 200 * time.Millisecond
	}
	n := int(d.Seconds() * float64(m.sampleRate))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.2 * math.Sin(2*math.Pi*440*float64(i)/float64(m.sampleRate))
	}
	encoded, err := audio.EncodeWAV(audio.Buffer{Samples: samples, SampleRate: m.sampleRate})
	if err != nil {
		return err
	}
	_, err = w.Write(encoded)
	return err
}
