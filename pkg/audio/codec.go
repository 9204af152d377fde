// Package audio converts between raw float sample frames and the wire
// encoding the conversational service requires: 24kHz mono 16-bit PCM,
// little-endian, framed as base64. All functions are pure and allocation-light
// so they are safe to call from audio-rate callbacks.
package audio

import (
	"encoding/base64"
	"math"
)

// Wire format constants. Every chunk sent upstream is at this rate and
// channel count; no frame ever leaves in its source format.
const (
	// TargetSampleRate is the sample rate required by the conversational
	// audio service.
	TargetSampleRate = 24000

	// TargetChannels is the channel count of the wire format.
	TargetChannels = 1

	// SilenceThreshold is the peak-amplitude floor below which a frame is
	// considered silent on the remote-to-avatar leg. Near-zero frames cause
	// visible mouth jitter on the rendered avatar, so they are dropped
	// before ingestion. The threshold applies only on that leg; user audio
	// is never gated.
	SilenceThreshold = 0.01
)

// ToMono mixes an interleaved multi-channel frame down to mono by averaging
// the channels at each frame index. A mono input is returned as-is.
func ToMono(frame []float32, channels int) []float32 {
	if channels <= 1 {
		return frame
	}

	mono := make([]float32, len(frame)/channels)
	for i := range mono {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += frame[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Resample converts a mono frame between sample rates using linear
// interpolation. Equal rates return the input unchanged, no copy. The last
// sample is held for positions that interpolate past the end of the input.
func Resample(frame []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(frame) == 0 {
		return frame
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(math.Round(float64(len(frame)) / ratio))
	if newLen == 0 {
		return []float32{}
	}

	out := make([]float32, newLen)
	for i := range out {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := float32(srcPos - float64(idx))

		if idx >= len(frame)-1 {
			out[i] = frame[len(frame)-1]
			continue
		}
		out[i] = frame[idx] + frac*(frame[idx+1]-frame[idx])
	}
	return out
}

// EncodePCM16 converts float samples in [-1, 1] to 16-bit little-endian PCM.
// Samples are clamped, then scaled by 32767 for positive values and 32768
// for negative values. The asymmetry matches the service's wire format and
// is mirrored exactly by DecodePCM16; do not "fix" it.
func EncodePCM16(frame []float32) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}

		var v int16
		if s < 0 {
			v = int16(math.Round(float64(s) * 32768))
		} else {
			v = int16(math.Round(float64(s) * 32767))
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM back to float samples,
// dividing by 32768 for negative codes and 32767 for positive codes.
func DecodePCM16(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out
}

// EncodeBase64 frames a PCM16 buffer for the JSON control protocol.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 recovers a PCM16 buffer from its base64 framing.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// ProcessCaptureFrame is the single chokepoint all outbound audio passes
// through: mix to mono, resample to the target rate, encode to PCM16, and
// frame as base64.
func ProcessCaptureFrame(frame []float32, srcRate, srcChannels int) string {
	mono := ToMono(frame, srcChannels)
	resampled := Resample(mono, srcRate, TargetSampleRate)
	return EncodeBase64(EncodePCM16(resampled))
}

// PeakAmplitude returns the maximum absolute sample value in the frame.
func PeakAmplitude(frame []float32) float32 {
	var peak float32
	for _, s := range frame {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// IsSilent reports whether the frame falls below SilenceThreshold.
func IsSilent(frame []float32) bool {
	return PeakAmplitude(frame) < SilenceThreshold
}
