package voice

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visagelabs/go-visage/pkg/backend"
)

func newTestController() *Controller {
	return NewController(backend.NewClient("http://127.0.0.1:0"), Options{
		Instructions: "be brief",
		Voice:        "verse",
	})
}

func TestHandleControlMessageDispatch(t *testing.T) {
	t.Run("user transcript", func(t *testing.T) {
		c := newTestController()
		var got string
		c.OnUserTranscript(func(text string) { got = text })
		c.handleControlMessage([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello there"}`))
		assert.Equal(t, "hello there", got)
	})

	t.Run("assistant delta and done", func(t *testing.T) {
		c := newTestController()
		var deltas []string
		var final string
		c.OnAssistantDelta(func(delta string) { deltas = append(deltas, delta) })
		c.OnAssistantDone(func(text string) { final = text })

		c.handleControlMessage([]byte(`{"type":"response.audio_transcript.delta","delta":"Hi "}`))
		c.handleControlMessage([]byte(`{"type":"response.audio_transcript.delta","delta":"friend"}`))
		c.handleControlMessage([]byte(`{"type":"response.audio_transcript.done","transcript":"Hi friend"}`))

		assert.Equal(t, []string{"Hi ", "friend"}, deltas)
		assert.Equal(t, "Hi friend", final)
	})

	t.Run("speech boundaries", func(t *testing.T) {
		c := newTestController()
		var started, stopped bool
		c.OnSpeechStarted(func() { started = true })
		c.OnSpeechStopped(func() { stopped = true })

		c.handleControlMessage([]byte(`{"type":"input_audio_buffer.speech_started"}`))
		c.handleControlMessage([]byte(`{"type":"input_audio_buffer.speech_stopped"}`))
		assert.True(t, started)
		assert.True(t, stopped)
	})

	t.Run("response done", func(t *testing.T) {
		c := newTestController()
		var done bool
		c.OnResponseDone(func() { done = true })
		c.handleControlMessage([]byte(`{"type":"response.done"}`))
		assert.True(t, done)
	})

	t.Run("service error is surfaced not fatal", func(t *testing.T) {
		c := newTestController()
		var got error
		c.OnError(func(err error) { got = err })
		c.handleControlMessage([]byte(`{"type":"error","error":{"message":"rate limited"}}`))
		require.Error(t, got)
		assert.Equal(t, "rate limited", got.Error())
	})

	t.Run("garbage payload is skipped", func(t *testing.T) {
		c := newTestController()
		c.handleControlMessage([]byte(`{not json`))
	})

	t.Run("unknown type is ignored", func(t *testing.T) {
		c := newTestController()
		c.handleControlMessage([]byte(`{"type":"something.new"}`))
	})
}

func TestBuildSessionUpdate(t *testing.T) {
	c := newTestController()
	upd := c.buildSessionUpdate()

	assert.Equal(t, "session.update", upd.Type)
	assert.Equal(t, "be brief", upd.Session.Instructions)
	assert.Equal(t, "verse", upd.Session.Voice)
	assert.Equal(t, "pcm16", upd.Session.InputAudioFormat)
	assert.Equal(t, "pcm16", upd.Session.OutputAudioFormat)
	assert.Equal(t, "server_vad", upd.Session.TurnDetection["type"])
}

func TestBuildSessionUpdateDefaultVoice(t *testing.T) {
	c := NewController(backend.NewClient("http://127.0.0.1:0"), Options{})
	assert.Equal(t, "alloy", c.buildSessionUpdate().Session.Voice)
}

func TestSendEventWithoutChannel(t *testing.T) {
	c := newTestController()
	err := c.SendEvent(map[string]string{"type": "response.cancel"})
	assert.ErrorIs(t, err, ErrChannelNotOpen)
}

func TestConnectIsIdempotent(t *testing.T) {
	c := newTestController()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()

	c.mu.Lock()
	c.pc = pc
	c.mu.Unlock()

	// A second connect must not touch the network or replace the connection.
	require.NoError(t, c.Connect(context.Background(), nil))

	c.mu.Lock()
	assert.Same(t, pc, c.pc)
	c.mu.Unlock()
}

func TestConnectOverlapIsNoOp(t *testing.T) {
	if testing.Short() {
		t.Skip("negotiates a real peer connection")
	}

	var offers atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offers.Add(1)
		// Hold the first exchange open so the second Connect arrives
		// while negotiation is still in flight.
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, `{"success":false,"message":"no answer"}`)
	}))
	defer srv.Close()

	c := NewController(backend.NewClient(srv.URL), Options{})

	firstDone := make(chan error, 1)
	go func() { firstDone <- c.Connect(context.Background(), nil) }()

	// Wait until the first call has claimed the connection slot.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.connecting
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Connect(context.Background(), nil))

	require.ErrorIs(t, <-firstDone, backend.ErrSignalingExchangeFailed)
	assert.Equal(t, int32(1), offers.Load())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c := newTestController()
	c.Disconnect()
	c.Disconnect()
	assert.False(t, c.Connected())
}
