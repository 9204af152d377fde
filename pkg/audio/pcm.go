package audio

// Helpers for code that works in int16 sample space, such as the Opus
// decode path on the remote-audio bridge.

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// SamplesToFloat converts int16 samples to float samples using the same
// asymmetric scaling as DecodePCM16.
func SamplesToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, v := range samples {
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out
}
