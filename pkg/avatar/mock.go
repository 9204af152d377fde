package avatar

import (
	"context"
	"sync"

	"github.com/visagelabs/go-visage/pkg/lifecycle"
)

// MockProvider is an in-memory Provider for tests. It records calls and
// exposes Simulate helpers to drive the attached listeners.
type MockProvider struct {
	mu sync.Mutex

	// StartErr, when set, is returned from Start.
	StartErr error

	StartCalls     int
	StopCalls      int
	InterruptCalls int
	RepeatTexts    []string
	AudioChunks    []string
	AttachedSinks  []VideoSink

	// StreamURL is handed to attached sinks.
	StreamURL string

	onStateChange  func(state lifecycle.State)
	onStreamReady  func()
	onSpeakStarted func()
	onSpeakEnded   func()
	onDisconnected func(reason string)
	onError        func(err error)
}

// NewMockProvider creates a mock provider.
func NewMockProvider() *MockProvider { return &MockProvider{} }

// Start implements Provider.
func (m *MockProvider) Start(ctx context.Context, creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
	return m.StartErr
}

// Stop implements Provider.
func (m *MockProvider) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	return nil
}

// Attach implements Provider.
func (m *MockProvider) Attach(sink VideoSink) error {
	m.mu.Lock()
	m.AttachedSinks = append(m.AttachedSinks, sink)
	url := m.StreamURL
	m.mu.Unlock()
	return sink.Attach(url)
}

// Repeat implements Provider.
func (m *MockProvider) Repeat(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RepeatTexts = append(m.RepeatTexts, text)
	return nil
}

// SpeakAudio implements Provider.
func (m *MockProvider) SpeakAudio(chunk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AudioChunks = append(m.AudioChunks, chunk)
	return nil
}

// Interrupt implements Provider.
func (m *MockProvider) Interrupt() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InterruptCalls++
	return nil
}

// OnStateChange implements Provider.
func (m *MockProvider) OnStateChange(fn func(state lifecycle.State)) { m.onStateChange = fn }

// OnStreamReady implements Provider.
func (m *MockProvider) OnStreamReady(fn func()) { m.onStreamReady = fn }

// OnSpeakStarted implements Provider.
func (m *MockProvider) OnSpeakStarted(fn func()) { m.onSpeakStarted = fn }

// OnSpeakEnded implements Provider.
func (m *MockProvider) OnSpeakEnded(fn func()) { m.onSpeakEnded = fn }

// OnDisconnected implements Provider.
func (m *MockProvider) OnDisconnected(fn func(reason string)) { m.onDisconnected = fn }

// OnError implements Provider.
func (m *MockProvider) OnError(fn func(err error)) { m.onError = fn }

// SimulateStreamReady fires the stream-ready listener.
func (m *MockProvider) SimulateStreamReady() {
	if m.onStreamReady != nil {
		m.onStreamReady()
	}
}

// SimulateSpeakStarted fires the speak-started listener.
func (m *MockProvider) SimulateSpeakStarted() {
	if m.onSpeakStarted != nil {
		m.onSpeakStarted()
	}
}

// SimulateSpeakEnded fires the speak-ended listener.
func (m *MockProvider) SimulateSpeakEnded() {
	if m.onSpeakEnded != nil {
		m.onSpeakEnded()
	}
}

// SimulateDisconnect fires the disconnect listener.
func (m *MockProvider) SimulateDisconnect(reason string) {
	if m.onDisconnected != nil {
		m.onDisconnected(reason)
	}
}

// SimulateError fires the error listener.
func (m *MockProvider) SimulateError(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}

var _ Provider = (*MockProvider)(nil)
