package audio

import "gonum.org/v1/gonum/floats"

// TargetRMS is the loudness speech is normalized to.
const TargetRMS = 0.1

// Normalize scales buf to TargetRMS and clips to [-1, 1]. Digital silence is
// only clipped.
func Normalize(buf Buffer) Buffer {
	out := buf.Clone()
	if level := rms(out.Samples); level > 0 {
		floats.Scale(TargetRMS/level, out.Samples)
	}
	clip(out.Samples, -1, 1)
	return out
}
