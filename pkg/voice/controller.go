// Package voice manages the realtime voice connection: a WebRTC peer
// carrying microphone audio up, synthesized speech down, and a data channel
// of control events in both directions. Signaling rides through the backend
// proxy so no service credential ever reaches this process.
package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/visagelabs/go-visage/internal/log"
	"github.com/visagelabs/go-visage/internal/observability"
	"github.com/visagelabs/go-visage/pkg/backend"
	"github.com/visagelabs/go-visage/pkg/lifecycle"
)

// Sentinel errors for the voice package.
var (
	// ErrPeerConnectionFailed indicates local WebRTC setup failed.
	ErrPeerConnectionFailed = errors.New("voice: peer connection setup failed")

	// ErrChannelNotOpen indicates a send on a control channel that is not open.
	ErrChannelNotOpen = errors.New("voice: control channel not open")
)

// ICEGatherTimeout bounds how long the offer waits for candidate gathering
// before sending whatever has been collected so far.
const ICEGatherTimeout = 2 * time.Second

const controlChannelLabel = "events"

// Options configure a voice Controller.
type Options struct {
	// Instructions is the system prompt pushed in the session configuration.
	Instructions string

	// Voice selects the synthesized voice. Empty means the service default.
	Voice string

	// STUNServer is the ICE server URL. Empty disables STUN.
	STUNServer string
}

// Controller owns one realtime voice peer connection.
type Controller struct {
	backend      *backend.Client
	instructions string
	voice        string
	stunServer   string
	logger       zerolog.Logger

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	dc         *webrtc.DataChannel
	connecting bool
	connected  bool
	closed     bool

	onStateChange    func(state lifecycle.State)
	onRemoteTrack    func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onSpeechStarted  func()
	onSpeechStopped  func()
	onUserTranscript func(text string)
	onAssistantDelta func(delta string)
	onAssistantDone  func(text string)
	onResponseDone   func()
	onError          func(err error)
}

// NewController creates a voice controller that signals through the given
// backend client.
func NewController(client *backend.Client, opts Options) *Controller {
	return &Controller{
		backend:      client,
		instructions: opts.Instructions,
		voice:        opts.Voice,
		stunServer:   opts.STUNServer,
		logger:       log.With("voice"),
	}
}

// OnStateChange registers the lifecycle observer.
func (c *Controller) OnStateChange(fn func(state lifecycle.State)) { c.onStateChange = fn }

// OnRemoteTrack fires when the downstream audio track arrives.
func (c *Controller) OnRemoteTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.onRemoteTrack = fn
}

// OnSpeechStarted fires when server-side VAD detects user speech.
func (c *Controller) OnSpeechStarted(fn func()) { c.onSpeechStarted = fn }

// OnSpeechStopped fires when server-side VAD detects the user stopped.
func (c *Controller) OnSpeechStopped(fn func()) { c.onSpeechStopped = fn }

// OnUserTranscript fires with each completed user utterance transcript.
func (c *Controller) OnUserTranscript(fn func(text string)) { c.onUserTranscript = fn }

// OnAssistantDelta fires with each incremental assistant transcript piece.
func (c *Controller) OnAssistantDelta(fn func(delta string)) { c.onAssistantDelta = fn }

// OnAssistantDone fires with the final assistant transcript for a turn.
func (c *Controller) OnAssistantDone(fn func(text string)) { c.onAssistantDone = fn }

// OnResponseDone fires when the service finishes a response turn.
func (c *Controller) OnResponseDone(fn func()) { c.onResponseDone = fn }

// OnError registers the observer for non-fatal service errors.
func (c *Controller) OnError(fn func(err error)) { c.onError = fn }

// Connected reports whether the peer connection is established.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Controller) setState(s lifecycle.State) {
	if c.onStateChange != nil {
		c.onStateChange(s)
	}
}

// Connect builds the peer connection and runs the offer/answer exchange.
// localTrack, when non-nil, is added as the upstream microphone track;
// otherwise a receive-capable audio transceiver is negotiated so the
// downstream track still arrives. Calling Connect on a live connection is a
// no-op.
func (c *Controller) Connect(ctx context.Context, localTrack webrtc.TrackLocal) error {
	c.mu.Lock()
	if c.pc != nil || c.connecting {
		c.mu.Unlock()
		c.logger.Debug().Msg("connect skipped, already connected or connecting")
		return nil
	}
	c.connecting = true
	c.closed = false
	c.mu.Unlock()

	c.setState(lifecycle.StateConnecting)

	config := webrtc.Configuration{}
	if c.stunServer != "" {
		config.ICEServers = []webrtc.ICEServer{{URLs: []string{c.stunServer}}}
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		c.setState(lifecycle.StateError)
		return errors.Join(ErrPeerConnectionFailed, err)
	}

	if err := c.negotiate(ctx, pc, localTrack); err != nil {
		pc.Close()
		c.mu.Lock()
		c.connecting = false
		c.dc = nil
		c.mu.Unlock()
		c.setState(lifecycle.StateError)
		observability.RecordError("voice")
		return err
	}

	c.mu.Lock()
	c.pc = pc
	c.connecting = false
	c.mu.Unlock()
	return nil
}

func (c *Controller) negotiate(ctx context.Context, pc *webrtc.PeerConnection, localTrack webrtc.TrackLocal) error {
	// The control channel must exist before the offer so the channel's
	// m-line is part of the initial negotiation.
	dc, err := pc.CreateDataChannel(controlChannelLabel, nil)
	if err != nil {
		return errors.Join(ErrPeerConnectionFailed, err)
	}
	dc.OnOpen(func() {
		c.logger.Debug().Msg("control channel open")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.handleControlMessage(msg.Data)
	})

	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	if localTrack != nil {
		if _, err := pc.AddTrack(localTrack); err != nil {
			return errors.Join(ErrPeerConnectionFailed, err)
		}
	} else {
		// No microphone yet: negotiate audio anyway so the remote track
		// can land and a track can be attached on renegotiation later.
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			return errors.Join(ErrPeerConnectionFailed, err)
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().Str("codec", track.Codec().MimeType).Msg("remote audio track")
		if c.onRemoteTrack != nil {
			c.onRemoteTrack(track, receiver)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug().Str("state", state.String()).Msg("peer connection state")
		switch state {
		case webrtc.PeerConnectionStateConnected:
			c.mu.Lock()
			c.connected = true
			c.mu.Unlock()
			c.setState(lifecycle.StateConnected)
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			c.mu.Lock()
			wasClosed := c.closed
			c.connected = false
			c.mu.Unlock()
			if !wasClosed {
				c.setState(lifecycle.StateDisconnected)
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return errors.Join(ErrPeerConnectionFailed, err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return errors.Join(ErrPeerConnectionFailed, err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(ICEGatherTimeout):
		c.logger.Debug().Msg("ice gathering timeout, sending partial candidates")
	case <-ctx.Done():
		return ctx.Err()
	}

	answerSDP, err := c.backend.ExchangeSDP(ctx, pc.LocalDescription().SDP)
	if err != nil {
		return err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return errors.Join(ErrPeerConnectionFailed, err)
	}
	return nil
}

// AddMicrophoneTrack attaches an upstream track after connect. Logged and
// skipped when no connection exists yet; callers prefer passing the track to
// Connect so it rides the initial negotiation.
func (c *Controller) AddMicrophoneTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()

	if pc == nil {
		c.logger.Warn().Msg("microphone track ignored, no connection")
		return nil
	}
	_, err := pc.AddTrack(track)
	return err
}

// SendEvent marshals and sends one control event. Events offered while the
// channel is not open are logged and dropped, never queued.
func (c *Controller) SendEvent(event any) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		c.logger.Warn().Msg("control event dropped, channel not open")
		return ErrChannelNotOpen
	}

	payload, err := sonic.Marshal(event)
	if err != nil {
		return err
	}
	return dc.SendText(string(payload))
}

// Interrupt asks the service to cancel the in-progress response.
func (c *Controller) Interrupt() error {
	return c.SendEvent(map[string]string{"type": "response.cancel"})
}

// Disconnect tears the peer connection down. Safe to call repeatedly.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	pc := c.pc
	c.pc = nil
	c.dc = nil
	c.connected = false
	c.closed = true
	c.mu.Unlock()

	if pc == nil {
		return
	}
	if err := pc.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("peer connection close failed")
	}
	c.setState(lifecycle.StateIdle)
	c.logger.Info().Msg("voice connection closed")
}
