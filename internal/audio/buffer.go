// Package audio loads, cleans and stores speech audio ahead of recognition.
package audio

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// DefaultSampleRate is the rate recognition backends expect.
const DefaultSampleRate = 16000

// Buffer is mono floating-point audio. Samples are nominally in [-1, 1].
type Buffer struct {
	Samples    []float64
	SampleRate int
}

// Len returns the number of samples.
func (b Buffer) Len() int { return len(b.Samples) }

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Clone returns a buffer with its own sample storage.
func (b Buffer) Clone() Buffer {
	return Buffer{Samples: append([]float64(nil), b.Samples...), SampleRate: b.SampleRate}
}

// RMS returns the root-mean-square energy of the samples.
func (b Buffer) RMS() float64 {
	return rms(b.Samples)
}

// Peak returns the largest absolute sample value.
func (b Buffer) Peak() float64 {
	if len(b.Samples) == 0 {
		return 0
	}
	return math.Max(math.Abs(floats.Min(b.Samples)), math.Abs(floats.Max(b.Samples)))
}

// Concat joins chunks recorded at the same sample rate.
func Concat(sampleRate int, chunks ...[]float64) Buffer {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]float64, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return Buffer{Samples: out, SampleRate: sampleRate}
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(samples, samples) / float64(len(samples)))
}

func clip(samples []float64, lo, hi float64) {
	for i, s := range samples {
		switch {
		case s > hi:
			samples[i] = hi
		case s < lo:
			samples[i] = lo
		case math.IsNaN(s):
			samples[i] = 0
		}
	}
}
