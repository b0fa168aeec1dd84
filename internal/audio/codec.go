package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

var (
	ErrInvalidWAV        = errors.New("audio: invalid wav data")
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
)

var supportedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
}

// SupportedExtension reports whether path has an extension the recognizers
// are known to accept.
func SupportedExtension(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// DecodeWAV reads PCM WAV data and downmixes it to mono.
func DecodeWAV(r io.ReadSeeker) (Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Buffer{}, ErrInvalidWAV
	}
	if dec.WavAudioFormat != 1 && dec.WavAudioFormat != 0xFFFE {
		return Buffer{}, fmt.Errorf("%w: wav encoding %d", ErrUnsupportedFormat, dec.WavAudioFormat)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("decode wav: %w", err)
	}
	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	depth := int(dec.BitDepth)
	if depth <= 0 {
		return Buffer{}, ErrInvalidWAV
	}
	scale := float64(int64(1) << uint(depth-1))
	offset := 0.0
	if depth == 8 {
		offset = 128
	}

	frames := len(pcm.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += (float64(pcm.Data[i*channels+c]) - offset) / scale
		}
		samples[i] = sum / float64(channels)
	}
	return Buffer{Samples: samples, SampleRate: int(dec.SampleRate)}, nil
}

// ReadWAVFile decodes the WAV file at path.
func ReadWAVFile(path string) (Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Buffer{}, err
	}
	defer f.Close()
	return DecodeWAV(f)
}

// WriteWAV encodes buf as 16-bit mono PCM. Samples are clipped to [-1, 1].
func WriteWAV(w io.WriteSeeker, buf Buffer) error {
	if buf.SampleRate <= 0 {
		return fmt.Errorf("write wav: invalid sample rate %d", buf.SampleRate)
	}
	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		if math.IsNaN(s) {
			s = 0
		}
		s = math.Max(-1, math.Min(1, s))
		data[i] = int(math.Round(s * math.MaxInt16))
	}
	enc := wav.NewEncoder(w, buf.SampleRate, 16, 1, 1)
	ib := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: buf.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(ib); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile writes buf to path, replacing any existing file.
func WriteWAVFile(path string, buf Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, buf); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// EncodeWAV returns buf as an in-memory WAV file.
func EncodeWAV(buf Buffer) ([]byte, error) {
	ws := &memoryWriteSeeker{}
	if err := WriteWAV(ws, buf); err != nil {
		return nil, err
	}
	return ws.data, nil
}

// memoryWriteSeeker lets the wav encoder patch its header in memory.
type memoryWriteSeeker struct {
	data []byte
	pos  int
}

func (m *memoryWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.data) {
		m.data = append(m.data, make([]byte, end-len(m.data))...)
	}
	copy(m.data[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memoryWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.data))
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("seek: negative position")
	}
	m.pos = int(next)
	return next, nil
}

// antiAliasTaps is the length of the low-pass filter applied before
// downsampling.
const antiAliasTaps = 101

// Resample converts buf to rate using linear interpolation. When
// downsampling, the signal is first low-passed below the new Nyquist
// frequency.
func Resample(buf Buffer, rate int) Buffer {
	if rate <= 0 || buf.SampleRate <= 0 || buf.SampleRate == rate || len(buf.Samples) == 0 {
		out := buf.Clone()
		if rate > 0 && out.SampleRate <= 0 {
			out.SampleRate = rate
		}
		return out
	}
	src := buf.Samples
	if rate < buf.SampleRate {
		// 0.45 leaves room for the filter's transition band.
		src = lowPass(src, 0.45*float64(rate)/float64(buf.SampleRate))
	}
	ratio := float64(buf.SampleRate) / float64(rate)
	n := int(float64(len(src)) / ratio)
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	last := len(src) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = src[last]
			continue
		}
		frac := pos - float64(idx)
		out[i] = src[idx]*(1-frac) + src[idx+1]*frac
	}
	return Buffer{Samples: out, SampleRate: rate}
}

// lowPass filters samples with a Hamming-windowed sinc FIR. cutoff is in
// cycles per sample. The output is aligned with the input.
func lowPass(samples []float64, cutoff float64) []float64 {
	half := antiAliasTaps / 2
	h := make([]float64, antiAliasTaps)
	for i := range h {
		x := float64(i - half)
		if x == 0 {
			h[i] = 2 * cutoff
			continue
		}
		h[i] = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
	}
	h = window.Hamming(h)
	floats.Scale(1/floats.Sum(h), h)

	out := make([]float64, len(samples))
	for n := range out {
		var acc float64
		for k, c := range h {
			j := n + half - k
			if j < 0 || j >= len(samples) {
				continue
			}
			acc += c * samples[j]
		}
		out[n] = acc
	}
	return out
}

// Decoder turns an audio file into a mono buffer at the requested rate.
type Decoder interface {
	Decode(ctx context.Context, path string, sampleRate int) (Buffer, error)
}

// ExecDecoder converts arbitrary containers through an external command
// (ffmpeg compatible). The command receives "-i <input> -ac 1 -ar <rate>
// -f wav -y <output>" after its configured arguments.
type ExecDecoder struct {
	cmd []string
}

func NewExecDecoder(command string) (*ExecDecoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse decoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("decoder command is empty")
	}
	return &ExecDecoder{cmd: args}, nil
}

func (d *ExecDecoder) Decode(ctx context.Context, path string, sampleRate int) (Buffer, error) {
	out, err := os.CreateTemp("", "loqa_decode_*.wav")
	if err != nil {
		return Buffer{}, fmt.Errorf("temp file: %w", err)
	}
	out.Close()
	defer os.Remove(out.Name())

	args := append([]string{}, d.cmd[1:]...)
	args = append(args, "-i", path, "-ac", "1", "-ar", strconv.Itoa(sampleRate), "-f", "wav", "-y", out.Name())
	command := exec.CommandContext(ctx, d.cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return Buffer{}, fmt.Errorf("decoder command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ReadWAVFile(out.Name())
}

// Loader decodes WAV natively and hands every other container (or a WAV
// encoding the native decoder rejects) to the fallback decoder.
type Loader struct {
	Fallback Decoder
}

func (l Loader) Decode(ctx context.Context, path string, sampleRate int) (Buffer, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		buf, err := ReadWAVFile(path)
		if err == nil {
			return Resample(buf, sampleRate), nil
		}
		if l.Fallback == nil || errors.Is(err, os.ErrNotExist) {
			return Buffer{}, err
		}
	}
	if l.Fallback == nil {
		return Buffer{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	buf, err := l.Fallback.Decode(ctx, path, sampleRate)
	if err != nil {
		return Buffer{}, err
	}
	return Resample(buf, sampleRate), nil
}
