package mic

import (
	"context"
	"io"
	"math"
	"sync"
	"time"
)

// MockSource is a synthetic Source for tests: silence by default, or a sine
// wave when configured. It emits 20ms frames on Read.
type MockSource struct {
	mu      sync.Mutex
	running bool

	rate      int
	channels  int
	frequency float64
	amplitude float64

	// StartErr, when set, is returned from Start to simulate device failures.
	StartErr error

	phase float64
}

// MockOption configures a MockSource.
type MockOption func(*MockSource)

// WithSineWave makes the mock emit a sine wave instead of silence.
func WithSineWave(frequency, amplitude float64) MockOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithFormat overrides the default 48kHz stereo capture format.
func WithFormat(rate, channels int) MockOption {
	return func(m *MockSource) {
		m.rate = rate
		m.channels = channels
	}
}

// NewMockSource creates a mock capture source.
func NewMockSource(opts ...MockOption) *MockSource {
	m := &MockSource{
		rate:      48000,
		channels:  2,
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start implements Source.
func (m *MockSource) Start(ctx context.Context) error {
	if m.StartErr != nil {
		return m.StartErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	return nil
}

// Stop implements Source.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Read implements Source. It synthesizes one 20ms frame per call.
func (m *MockSource) Read(ctx context.Context) (Frame, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return Frame{}, io.EOF
	}
	rate, channels := m.rate, m.channels
	freq, amp := m.frequency, m.amplitude
	phase := m.phase
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-time.After(time.Millisecond):
		// Pace reads a little so pump loops in tests don't spin.
	}

	frames := rate / 50
	samples := make([]float32, frames*channels)
	if freq > 0 {
		step := 2 * math.Pi * freq / float64(rate)
		for i := 0; i < frames; i++ {
			s := float32(amp * math.Sin(phase))
			phase += step
			for c := 0; c < channels; c++ {
				samples[i*channels+c] = s
			}
		}
	}

	m.mu.Lock()
	m.phase = phase
	m.mu.Unlock()

	return Frame{Samples: samples, SampleRate: rate, Channels: channels}, nil
}

// SampleRate implements Source.
func (m *MockSource) SampleRate() int { return m.rate }

// Channels implements Source.
func (m *MockSource) Channels() int { return m.channels }

var _ Source = (*MockSource)(nil)
