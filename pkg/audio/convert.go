package audio

import "encoding/binary"

// PCM16ToFloat32 converts interleaved 16-bit little-endian PCM to float32
// samples in [-1, 1). A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// Float32ToPCM16 converts float32 samples to 16-bit little-endian PCM,
// clamping to the int16 range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768.0
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Downmix averages interleaved multi-channel samples into mono. With one
// channel the input is returned unchanged.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ResampleNearest converts mono samples from srcRate to dstRate by picking
// the nearest preceding source sample: out[i] = in[int(i*srcRate/dstRate)].
// No anti-alias filter is applied.
func ResampleNearest(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	out := make([]float32, n)
	for i := range n {
		idx := int(int64(i) * int64(srcRate) / int64(dstRate))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		out[i] = samples[idx]
	}
	return out
}

// ToSpeechInput converts decoded WAV data to mono float32 at rate.
func ToSpeechInput(info WAVInfo, pcm []byte, rate int) []float32 {
	return ResampleNearest(Downmix(PCM16ToFloat32(pcm), info.Channels), info.SampleRate, rate)
}
