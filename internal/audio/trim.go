package audio

import "math"

const (
	trimFrameLength = 2048
	trimHopLength   = 512
	trimTopDB       = 40.0
	powerFloor      = 1e-10
)

// Interval is a half-open sample range [Start, End).
type Interval struct {
	Start int
	End   int
}

// NonSilentIntervals splits samples into runs whose centered frame energy is
// within topDB of the loudest frame.
func NonSilentIntervals(samples []float64, topDB float64, frameLength, hopLength int) []Interval {
	n := len(samples)
	if n == 0 || frameLength <= 0 || hopLength <= 0 {
		return nil
	}

	// prefix[i] is the sum of squares of samples[:i].
	prefix := make([]float64, n+1)
	for i, s := range samples {
		prefix[i+1] = prefix[i] + s*s
	}
	half := frameLength / 2
	frames := 1 + n/hopLength
	power := make([]float64, frames)
	maxPower := 0.0
	for t := 0; t < frames; t++ {
		lo := t*hopLength - half
		hi := lo + frameLength
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		var sum float64
		if hi > lo {
			sum = prefix[hi] - prefix[lo]
		}
		power[t] = sum / float64(frameLength)
		if power[t] > maxPower {
			maxPower = power[t]
		}
	}

	ref := 10 * math.Log10(math.Max(powerFloor, maxPower))
	var intervals []Interval
	start := -1
	for t := 0; t <= frames; t++ {
		loud := t < frames && 10*math.Log10(math.Max(powerFloor, power[t]))-ref > -topDB
		switch {
		case loud && start < 0:
			start = t
		case !loud && start >= 0:
			iv := Interval{Start: start * hopLength, End: t * hopLength}
			if iv.End > n {
				iv.End = n
			}
			if iv.End > iv.Start {
				intervals = append(intervals, iv)
			}
			start = -1
		}
	}
	return intervals
}

// TrimSilence keeps only the non-silent intervals of buf. A signal with no
// qualifying interval is returned unchanged.
func TrimSilence(buf Buffer) Buffer {
	intervals := NonSilentIntervals(buf.Samples, trimTopDB, trimFrameLength, trimHopLength)
	if len(intervals) == 0 {
		return buf
	}
	chunks := make([][]float64, 0, len(intervals))
	for _, iv := range intervals {
		chunks = append(chunks, buf.Samples[iv.Start:iv.End])
	}
	return Concat(buf.SampleRate, chunks...)
}
