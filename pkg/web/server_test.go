package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visagelabs/go-visage/pkg/lifecycle"
	"github.com/visagelabs/go-visage/pkg/uistate"
)

// fakeControls records control calls without a real session behind them.
type fakeControls struct {
	startErr   error
	startCalls int
	stopCalls  int
	interrupts int
	muted      bool
	active     bool
}

func (f *fakeControls) Start(ctx context.Context) error {
	f.startCalls++
	return f.startErr
}
func (f *fakeControls) Stop(ctx context.Context) { f.stopCalls++ }
func (f *fakeControls) ToggleMute() bool {
	f.muted = !f.muted
	return f.muted
}
func (f *fakeControls) Interrupt()       { f.interrupts++ }
func (f *fakeControls) Active() bool     { return f.active }
func (f *fakeControls) Connecting() bool { return false }

func doJSON(t *testing.T, s *Server, method, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStateEndpoint(t *testing.T) {
	s := NewServer("0", &fakeControls{}, false)

	var state SessionState
	code := doJSON(t, s, http.MethodGet, "/api/state", &state)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", state.AvatarState)
	assert.Equal(t, "idle", state.VoiceState)
	assert.False(t, state.Active)

	s.SetAvatarState(lifecycle.StateConnected)
	s.SetActive(true)
	s.SetSpeaking(true)

	code = doJSON(t, s, http.MethodGet, "/api/state", &state)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "connected", state.AvatarState)
	assert.True(t, state.Active)
	assert.True(t, state.Speaking)
}

func TestSessionStartEndpoint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		controls := &fakeControls{}
		s := NewServer("0", controls, false)

		var body map[string]any
		code := doJSON(t, s, http.MethodPost, "/api/session/start", &body)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, 1, controls.startCalls)
	})

	t.Run("failure surfaces as bad gateway", func(t *testing.T) {
		controls := &fakeControls{startErr: errors.New("signaling exchange failed")}
		s := NewServer("0", controls, false)

		var body map[string]any
		code := doJSON(t, s, http.MethodPost, "/api/session/start", &body)
		assert.Equal(t, http.StatusBadGateway, code)
		assert.Equal(t, false, body["success"])
	})

	t.Run("already running is a no-op", func(t *testing.T) {
		controls := &fakeControls{active: true}
		s := NewServer("0", controls, false)

		code := doJSON(t, s, http.MethodPost, "/api/session/start", nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Zero(t, controls.startCalls)
	})
}

func TestSessionControlEndpoints(t *testing.T) {
	controls := &fakeControls{}
	s := NewServer("0", controls, false)

	var body map[string]any
	code := doJSON(t, s, http.MethodPost, "/api/session/mute", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["muted"])

	code = doJSON(t, s, http.MethodPost, "/api/session/interrupt", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, controls.interrupts)

	code = doJSON(t, s, http.MethodPost, "/api/session/stop", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, controls.stopCalls)
}

func TestMessagesEndpointKeepsBoundedLog(t *testing.T) {
	s := NewServer("0", &fakeControls{}, false)

	for i := 0; i < maxMessages+10; i++ {
		s.AppendMessage(uistate.Message{
			ID:        "m",
			Role:      uistate.RoleUser,
			Content:   "hello",
			Timestamp: time.Now(),
		})
	}

	var msgs []uistate.Message
	code := doJSON(t, s, http.MethodGet, "/api/messages", &msgs)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, msgs, maxMessages)
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer("0", &fakeControls{active: true}, false)

	var body map[string]any
	code := doJSON(t, s, http.MethodGet, "/api/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["active"])
}
