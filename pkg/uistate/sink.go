// Package uistate defines the sink interface the session core writes
// display state into. The core holds no global state; anything a frontend
// needs to render is pushed through a Sink, which makes the controllers
// unit-testable against a recording fake.
package uistate

import (
	"sync"
	"time"

	"github.com/visagelabs/go-visage/pkg/lifecycle"
)

// Role identifies who produced a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the append-only conversation log.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives display state from the session core. Implementations must
// be safe for concurrent use; the core calls setters from event goroutines.
type Sink interface {
	// SetAvatarState mirrors the avatar controller's lifecycle state.
	SetAvatarState(s lifecycle.State)

	// SetVoiceState mirrors the voice controller's lifecycle state.
	SetVoiceState(s lifecycle.State)

	// SetActive reports whether the combined session is fully up: both
	// remote sessions connected and the microphone capturing.
	SetActive(active bool)

	// SetConnecting reports whether either remote controller is connecting.
	SetConnecting(connecting bool)

	// SetMuted reports the microphone mute flag.
	SetMuted(muted bool)

	// SetSpeaking reports whether the avatar is currently speaking.
	SetSpeaking(speaking bool)

	// SetError reports the combined session error, or "" to clear it.
	SetError(msg string)

	// AppendMessage appends one transcript entry to the conversation log.
	AppendMessage(m Message)
}

// NullSink discards everything. Useful when no frontend is attached.
type NullSink struct{}

func (NullSink) SetAvatarState(lifecycle.State) {}
func (NullSink) SetVoiceState(lifecycle.State)  {}
func (NullSink) SetActive(bool)                 {}
func (NullSink) SetConnecting(bool)             {}
func (NullSink) SetMuted(bool)                  {}
func (NullSink) SetSpeaking(bool)               {}
func (NullSink) SetError(string)                {}
func (NullSink) AppendMessage(Message)          {}

// MemorySink records every write for assertions in tests.
type MemorySink struct {
	mu sync.Mutex

	AvatarState lifecycle.State
	VoiceState  lifecycle.State
	Active      bool
	Connecting  bool
	Muted       bool
	Speaking    bool
	ErrorMsg    string
	Messages    []Message

	// ActiveHistory records every SetActive call in order.
	ActiveHistory []bool
}

// NewMemorySink creates an empty recording sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) SetAvatarState(s lifecycle.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AvatarState = s
}

func (m *MemorySink) SetVoiceState(s lifecycle.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VoiceState = s
}

func (m *MemorySink) SetActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Active = active
	m.ActiveHistory = append(m.ActiveHistory, active)
}

func (m *MemorySink) SetConnecting(connecting bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Connecting = connecting
}

func (m *MemorySink) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Muted = muted
}

func (m *MemorySink) SetSpeaking(speaking bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Speaking = speaking
}

func (m *MemorySink) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorMsg = msg
}

func (m *MemorySink) AppendMessage(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, msg)
}

// Snapshot returns a copy of the current state for assertions.
func (m *MemorySink) Snapshot() MemorySink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MemorySink{
		AvatarState:   m.AvatarState,
		VoiceState:    m.VoiceState,
		Active:        m.Active,
		Connecting:    m.Connecting,
		Muted:         m.Muted,
		Speaking:      m.Speaking,
		ErrorMsg:      m.ErrorMsg,
		Messages:      append([]Message{}, m.Messages...),
		ActiveHistory: append([]bool{}, m.ActiveHistory...),
	}
}

var (
	_ Sink = NullSink{}
	_ Sink = (*MemorySink)(nil)
)
