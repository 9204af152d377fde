package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visagelabs/go-visage/internal/store"
	"github.com/visagelabs/go-visage/pkg/avatar"
	"github.com/visagelabs/go-visage/pkg/backend"
	"github.com/visagelabs/go-visage/pkg/lifecycle"
	"github.com/visagelabs/go-visage/pkg/mic"
	"github.com/visagelabs/go-visage/pkg/uistate"
	"github.com/visagelabs/go-visage/pkg/voice"
)

// testBackend serves avatar tokens and terminations, and answers voice
// offers either with a real peer or a failure envelope.
type testBackend struct {
	mu         sync.Mutex
	stops      []string
	offerFails bool
	answerPC   *webrtc.PeerConnection
}

func (tb *testBackend) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/avatar/token":
			json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-1", "sessionToken": "tok-1"})
		case "/api/avatar/stop":
			var body struct {
				SessionID string `json:"sessionId"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			tb.mu.Lock()
			tb.stops = append(tb.stops, body.SessionID)
			tb.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		case "/api/voice/offer":
			if tb.offerFails {
				json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "upstream rejected offer"})
				return
			}
			var req struct {
				SDP string `json:"sdp"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			answer, err := tb.answer(req.SDP)
			if err != nil {
				t.Logf("answer failed: %v", err)
				json.NewEncoder(w).Encode(map[string]any{"success": false, "message": err.Error()})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]string{"sdp": answer},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

// answer builds a real answering peer so ICE can complete over loopback.
func (tb *testBackend) answer(offerSDP string) (string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", err
	}
	tb.mu.Lock()
	tb.answerPC = pc
	tb.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: offerSDP,
	}); err != nil {
		return "", err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	<-gathered
	return pc.LocalDescription().SDP, nil
}

func (tb *testBackend) close() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.answerPC != nil {
		tb.answerPC.Close()
	}
}

func (tb *testBackend) stopCalls() []string {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	out := make([]string, len(tb.stops))
	copy(out, tb.stops)
	return out
}

type fixture struct {
	orch     *Orchestrator
	provider *avatar.MockProvider
	sink     *uistate.MemorySink
	backend  *testBackend
}

func newFixture(t *testing.T, offerFails bool) (*fixture, func()) {
	t.Helper()
	tb := &testBackend{offerFails: offerFails}
	srv := tb.server(t)

	client := backend.NewClient(srv.URL)
	provider := avatar.NewMockProvider()
	av := avatar.NewController(client, provider, store.NewMemoryStore())
	vc := voice.NewController(client, voice.Options{Instructions: "test"})
	mc := mic.NewController(mic.NewMockSource(mic.WithSineWave(440, 0.5)))
	sink := uistate.NewMemorySink()

	f := &fixture{orch: New(av, vc, mc, sink), provider: provider, sink: sink, backend: tb}
	cleanup := func() {
		f.orch.Stop(context.Background())
		tb.close()
		srv.Close()
	}
	return f, cleanup
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartFullSession(t *testing.T) {
	if testing.Short() {
		t.Skip("full handshake test skipped in short mode")
	}

	f, cleanup := newFixture(t, false)
	defer cleanup()

	require.NoError(t, f.orch.Start(context.Background()))
	assert.Equal(t, 1, f.provider.StartCalls)

	waitFor(t, 10*time.Second, f.orch.Active, "session never became active")
	assert.NoError(t, f.orch.Err())
	assert.False(t, f.orch.Connecting())

	snap := f.sink.Snapshot()
	assert.True(t, snap.Active)
	assert.Equal(t, lifecycle.StateConnected, snap.AvatarState)
	assert.Equal(t, lifecycle.StateConnected, snap.VoiceState)
}

func TestStartUnwindsOnSignalingFailure(t *testing.T) {
	f, cleanup := newFixture(t, true)
	defer cleanup()

	err := f.orch.Start(context.Background())
	require.ErrorIs(t, err, backend.ErrSignalingExchangeFailed)

	// Everything that came up before the failure is torn back down: the
	// provider session stopped and its remote session terminated.
	assert.Equal(t, 1, f.provider.StopCalls)
	assert.Equal(t, []string{"sess-1"}, f.backend.stopCalls())
	assert.False(t, f.orch.Active())
	assert.False(t, f.orch.Connecting())
	assert.ErrorIs(t, f.orch.Err(), backend.ErrSignalingExchangeFailed)

	snap := f.sink.Snapshot()
	assert.False(t, snap.Active)
	assert.False(t, snap.Connecting)
	assert.NotEmpty(t, snap.ErrorMsg)
}

func TestStartIsIdempotentWhileActive(t *testing.T) {
	f, cleanup := newFixture(t, true)
	defer cleanup()

	f.orch.mu.Lock()
	f.orch.active = true
	f.orch.mu.Unlock()

	require.NoError(t, f.orch.Start(context.Background()))
	assert.Zero(t, f.provider.StartCalls)
}

func TestToggleMuteMirrorsToSink(t *testing.T) {
	f, cleanup := newFixture(t, true)
	defer cleanup()

	assert.True(t, f.orch.ToggleMute())
	assert.True(t, f.sink.Snapshot().Muted)
	assert.False(t, f.orch.ToggleMute())
	assert.False(t, f.sink.Snapshot().Muted)
}

func TestSpeakingMirrorsToSink(t *testing.T) {
	f, cleanup := newFixture(t, true)
	defer cleanup()

	f.provider.SimulateSpeakStarted()
	assert.True(t, f.sink.Snapshot().Speaking)
	f.provider.SimulateSpeakEnded()
	assert.False(t, f.sink.Snapshot().Speaking)
}

func TestTranscriptsBecomeMessages(t *testing.T) {
	f, cleanup := newFixture(t, true)
	defer cleanup()

	f.orch.appendMessage(uistate.RoleUser, "what's the weather")
	f.orch.appendMessage(uistate.RoleAssistant, "Sunny and warm today.")

	msgs := f.sink.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, uistate.RoleUser, msgs[0].Role)
	assert.Equal(t, "what's the weather", msgs[0].Content)
	assert.Equal(t, uistate.RoleAssistant, msgs[1].Role)
	assert.NotEmpty(t, msgs[0].ID)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

// parkedTrack blocks ReadRTP until a read deadline lands, the way a live
// remote track sits between RTP packets.
type parkedTrack struct {
	deadline chan struct{}
}

func (p *parkedTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	<-p.deadline
	return nil, nil, os.ErrDeadlineExceeded
}

func (p *parkedTrack) SetReadDeadline(time.Time) error {
	close(p.deadline)
	return nil
}

func TestStopBridgeUnblocksParkedReader(t *testing.T) {
	f, cleanup := newFixture(t, true)
	defer cleanup()

	track := &parkedTrack{deadline: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	b := &bridge{track: track, cancel: cancel, done: make(chan struct{})}

	f.orch.mu.Lock()
	f.orch.bridge = b
	f.orch.mu.Unlock()
	go f.orch.runBridge(ctx, track, b.done)

	stopped := make(chan struct{})
	go func() {
		f.orch.stopBridge()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stopBridge hung on a reader parked between packets")
	}
}

func TestBridgeFrameSilenceGate(t *testing.T) {
	f, cleanup := newFixture(t, true)
	defer cleanup()

	require.NoError(t, f.orch.avatar.StartSession(context.Background()))

	// Dead air stays out of the avatar's speech input.
	silent := make([]float32, 960)
	assert.False(t, f.orch.forwardBridgeFrame(silent))
	assert.Empty(t, f.provider.AudioChunks)

	loud := make([]float32, 960)
	for i := range loud {
		loud[i] = 0.5
	}
	assert.True(t, f.orch.forwardBridgeFrame(loud))
	assert.Len(t, f.provider.AudioChunks, 1)
}

func TestStopIsFailureTolerant(t *testing.T) {
	f, cleanup := newFixture(t, true)
	defer cleanup()

	// Stop with nothing started must not hang or panic.
	f.orch.Stop(context.Background())
	f.orch.Stop(context.Background())
	assert.False(t, f.orch.Active())
}
