package audio

import (
	"math"
	"testing"
)

func TestEncodePCM16Boundaries(t *testing.T) {
	got := EncodePCM16([]float32{0, 1, -1})
	want := []int16{0, 32767, -32768}

	samples := BytesToSamples(got)
	for i, w := range want {
		if samples[i] != w {
			t.Errorf("sample %d: expected %d, got %d", i, w, samples[i])
		}
	}
}

func TestEncodePCM16ClampsOutOfRange(t *testing.T) {
	samples := BytesToSamples(EncodePCM16([]float32{2.0, -3.5}))
	if samples[0] != 32767 {
		t.Errorf("expected +clip to 32767, got %d", samples[0])
	}
	if samples[1] != -32768 {
		t.Errorf("expected -clip to -32768, got %d", samples[1])
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	frame := make([]float32, 1024)
	for i := range frame {
		frame[i] = float32(math.Sin(2 * math.Pi * float64(i) / 64))
	}

	decoded := DecodePCM16(EncodePCM16(frame))
	if len(decoded) != len(frame) {
		t.Fatalf("length changed: %d -> %d", len(frame), len(decoded))
	}

	const tolerance = 1.0 / 32768
	for i := range frame {
		if diff := math.Abs(float64(frame[i] - decoded[i])); diff > tolerance {
			t.Fatalf("sample %d: diff %g exceeds tolerance %g", i, diff, tolerance)
		}
	}
}

func TestResampleIdentity(t *testing.T) {
	frame := []float32{0.1, 0.2, 0.3}
	out := Resample(frame, 48000, 48000)
	if &out[0] != &frame[0] {
		t.Error("equal-rate resample should return the input, not a copy")
	}
}

func TestResampleLengths(t *testing.T) {
	tests := []struct {
		name     string
		inLen    int
		from, to int
		wantLen  int
	}{
		{"halve 48k to 24k", 48000, 48000, 24000, 24000},
		{"double 24k to 48k", 24000, 24000, 48000, 48000},
		{"44.1k to 24k", 44100, 44100, 24000, 24000},
		{"empty input", 0, 48000, 24000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]float32, tt.inLen)
			out := Resample(in, tt.from, tt.to)
			if len(out) != tt.wantLen {
				t.Errorf("expected %d samples, got %d", tt.wantLen, len(out))
			}
		})
	}
}

func TestResamplePreservesConstantSignal(t *testing.T) {
	in := make([]float32, 480)
	for i := range in {
		in[i] = 0.5
	}
	out := Resample(in, 48000, 24000)
	for i, s := range out {
		if math.Abs(float64(s-0.5)) > 1e-6 {
			t.Fatalf("sample %d: expected 0.5, got %g", i, s)
		}
	}
}

func TestToMono(t *testing.T) {
	t.Run("stereo averages pairs", func(t *testing.T) {
		out := ToMono([]float32{0, 1, 0.2, 0.8}, 2)
		want := []float32{0.5, 0.5}
		if len(out) != len(want) {
			t.Fatalf("expected %d samples, got %d", len(want), len(out))
		}
		for i := range want {
			if math.Abs(float64(out[i]-want[i])) > 1e-6 {
				t.Errorf("sample %d: expected %g, got %g", i, want[i], out[i])
			}
		}
	})

	t.Run("mono passes through", func(t *testing.T) {
		frame := []float32{0.1, 0.2}
		out := ToMono(frame, 1)
		if &out[0] != &frame[0] {
			t.Error("mono input should pass through unchanged")
		}
	})
}

func TestBase64RoundTrip(t *testing.T) {
	pcm := EncodePCM16([]float32{0.25, -0.25, 0.5})
	decoded, err := DecodeBase64(EncodeBase64(pcm))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(decoded) != string(pcm) {
		t.Error("base64 round trip is not byte-exact")
	}
}

func TestProcessCaptureFrameComposition(t *testing.T) {
	// Stereo 48kHz sine, 20ms.
	const srcRate = 48000
	const frames = srcRate / 50
	in := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		s := float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/srcRate))
		in[i*2] = s
		in[i*2+1] = s
	}

	chunk := ProcessCaptureFrame(in, srcRate, 2)
	pcm, err := DecodeBase64(chunk)
	if err != nil {
		t.Fatalf("chunk is not valid base64: %v", err)
	}

	// 20ms at the target rate.
	wantSamples := TargetSampleRate / 50
	got := DecodePCM16(pcm)
	if len(got) != wantSamples {
		t.Errorf("expected %d samples at target rate, got %d", wantSamples, len(got))
	}

	// Amplitude survives the pipeline within a resampling tolerance.
	peak := PeakAmplitude(got)
	if math.Abs(float64(peak-0.8)) > 0.05 {
		t.Errorf("peak amplitude drifted: expected ~0.8, got %g", peak)
	}
}

func TestSilenceGate(t *testing.T) {
	quiet := make([]float32, 480)
	for i := range quiet {
		quiet[i] = SilenceThreshold / 2
	}
	if !IsSilent(quiet) {
		t.Error("frame below threshold should be silent")
	}

	loud := make([]float32, 480)
	loud[100] = SilenceThreshold
	if IsSilent(loud) {
		t.Error("frame at threshold should not be silent")
	}
}

func TestSamplesToFloatMatchesDecode(t *testing.T) {
	samples := []int16{0, 32767, -32768, 100, -100}
	bytes := SamplesToBytes(samples)

	a := DecodePCM16(bytes)
	b := SamplesToFloat(samples)
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("sample %d: DecodePCM16=%g SamplesToFloat=%g", i, a[i], b[i])
		}
	}
}
