package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	denoiseFFTSize      = 1024
	denoiseHopLength    = denoiseFFTSize / 4
	denoiseTimeConstant = 0.5 // seconds
	denoiseThreshold    = 2.0
	denoiseSlope        = 10.0
	denoiseEpsilon      = 1e-12
)

// ReduceNoise applies non-stationary spectral gating. Each frequency bin is
// compared against its own time-smoothed magnitude; components that do not
// rise above that floor are attenuated. strength scales the attenuation and
// is clamped to [0, 1]; zero returns buf untouched.
func ReduceNoise(buf Buffer, strength float64) Buffer {
	if strength <= 0 || buf.SampleRate <= 0 || len(buf.Samples) < denoiseFFTSize {
		return buf
	}
	if strength > 1 {
		strength = 1
	}

	n := len(buf.Samples)
	pad := denoiseFFTSize / 2
	frames := 1 + (n+2*pad-denoiseFFTSize+denoiseHopLength-1)/denoiseHopLength
	total := (frames-1)*denoiseHopLength + denoiseFFTSize
	padded := make([]float64, total)
	copy(padded[pad:], buf.Samples)

	win := make([]float64, denoiseFFTSize)
	for i := range win {
		win[i] = 1
	}
	win = window.Hann(win)

	fft := fourier.NewFFT(denoiseFFTSize)
	spectra := make([][]complex128, frames)
	mags := make([][]float64, frames)
	frame := make([]float64, denoiseFFTSize)
	for t := 0; t < frames; t++ {
		seg := padded[t*denoiseHopLength : t*denoiseHopLength+denoiseFFTSize]
		for i := range frame {
			frame[i] = seg[i] * win[i]
		}
		spectra[t] = fft.Coefficients(nil, frame)
		mags[t] = make([]float64, len(spectra[t]))
		for k, c := range spectra[t] {
			mags[t][k] = cmplx.Abs(c)
		}
	}

	floor := smoothOverTime(mags, smoothingCoefficient(buf.SampleRate))
	for t := range spectra {
		for k := range spectra[t] {
			s := floor[t][k]
			ratio := (mags[t][k] - s) / (s + denoiseEpsilon)
			mask := 1 / (1 + math.Exp(-(ratio-denoiseThreshold)*denoiseSlope))
			gain := 1 - strength*(1-mask)
			spectra[t][k] *= complex(gain, 0)
		}
	}

	out := make([]float64, total)
	weights := make([]float64, total)
	seq := make([]float64, denoiseFFTSize)
	for t := range spectra {
		fft.Sequence(seq, spectra[t])
		base := t * denoiseHopLength
		for i, v := range seq {
			// Sequence is unnormalized.
			out[base+i] += v / denoiseFFTSize * win[i]
			weights[base+i] += win[i] * win[i]
		}
	}

	result := make([]float64, n)
	for i := range result {
		j := i + pad
		if weights[j] > 1e-8 {
			result[i] = out[j] / weights[j]
		} else {
			result[i] = buf.Samples[i]
		}
	}
	return Buffer{Samples: result, SampleRate: buf.SampleRate}
}

// smoothingCoefficient returns the one-pole filter weight for the noise
// floor time constant at the STFT frame rate.
func smoothingCoefficient(sampleRate int) float64 {
	tFrames := denoiseTimeConstant * float64(sampleRate) / float64(denoiseHopLength)
	return (math.Sqrt(1+4*tFrames*tFrames) - 1) / (2 * tFrames * tFrames)
}

// smoothOverTime runs a zero-phase (forward then backward) one-pole low-pass
// over each frequency bin.
func smoothOverTime(mags [][]float64, b float64) [][]float64 {
	frames := len(mags)
	if frames == 0 {
		return nil
	}
	bins := len(mags[0])
	out := make([][]float64, frames)
	for t := range out {
		out[t] = make([]float64, bins)
	}
	for k := 0; k < bins; k++ {
		y := mags[0][k]
		for t := 0; t < frames; t++ {
			y = b*mags[t][k] + (1-b)*y
			out[t][k] = y
		}
		y = out[frames-1][k]
		for t := frames - 1; t >= 0; t-- {
			y = b*out[t][k] + (1-b)*y
			out[t][k] = y
		}
	}
	return out
}
