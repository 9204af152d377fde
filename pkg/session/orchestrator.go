// Package session composes the avatar, voice, and microphone controllers
// into one conversation session: concurrent startup, the remote-audio bridge
// that lip-syncs the avatar, failure-tolerant teardown, and state mirroring
// into the UI sink.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/visagelabs/go-visage/internal/log"
	"github.com/visagelabs/go-visage/internal/observability"
	"github.com/visagelabs/go-visage/pkg/avatar"
	"github.com/visagelabs/go-visage/pkg/lifecycle"
	"github.com/visagelabs/go-visage/pkg/mic"
	"github.com/visagelabs/go-visage/pkg/uistate"
	"github.com/visagelabs/go-visage/pkg/voice"
)

// Orchestrator drives one end-to-end conversation session.
type Orchestrator struct {
	avatar *avatar.Controller
	voice  *voice.Controller
	mic    *mic.Controller
	sink   uistate.Sink
	logger zerolog.Logger

	mu          sync.Mutex
	active      bool
	connecting  bool
	avatarState lifecycle.State
	voiceState  lifecycle.State
	streamReady bool
	remoteTrack *webrtc.TrackRemote
	bridge      *bridge
	pendingText strings.Builder
	lastErr     error
}

// New wires the orchestrator. A nil sink gets replaced by a NullSink.
func New(av *avatar.Controller, vc *voice.Controller, mc *mic.Controller, sink uistate.Sink) *Orchestrator {
	if sink == nil {
		sink = uistate.NullSink{}
	}
	o := &Orchestrator{
		avatar: av,
		voice:  vc,
		mic:    mc,
		sink:   sink,
		logger: log.With("session"),
	}
	o.attachListeners()
	return o
}

// SetSink replaces the UI sink. Call before Start; the frontend server is
// usually constructed after the orchestrator it controls.
func (o *Orchestrator) SetSink(sink uistate.Sink) {
	if sink == nil {
		sink = uistate.NullSink{}
	}
	o.sink = sink
}

func (o *Orchestrator) attachListeners() {
	o.avatar.OnStateChange(func(s lifecycle.State) {
		o.mu.Lock()
		o.avatarState = s
		o.mu.Unlock()
		o.sink.SetAvatarState(s)
		o.recomputeActivity()
	})
	o.avatar.OnStreamReady(func() {
		o.mu.Lock()
		o.streamReady = true
		o.mu.Unlock()
		o.maybeStartBridge()
	})
	o.avatar.OnSpeakStarted(func() { o.sink.SetSpeaking(true) })
	o.avatar.OnSpeakEnded(func() { o.sink.SetSpeaking(false) })
	o.avatar.OnError(func(err error) { o.reportError(err) })

	o.voice.OnStateChange(func(s lifecycle.State) {
		o.mu.Lock()
		o.voiceState = s
		o.mu.Unlock()
		o.sink.SetVoiceState(s)
		o.recomputeActivity()
	})
	o.voice.OnRemoteTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		o.mu.Lock()
		o.remoteTrack = track
		o.mu.Unlock()
		o.maybeStartBridge()
	})
	o.voice.OnSpeechStarted(func() {
		// User barge-in: cut avatar speech immediately rather than waiting
		// for the service to cancel the response.
		if err := o.avatar.Interrupt(); err != nil {
			o.logger.Warn().Err(err).Msg("barge-in interrupt failed")
		}
	})
	o.voice.OnUserTranscript(func(text string) {
		o.appendMessage(uistate.RoleUser, text)
	})
	o.voice.OnAssistantDelta(func(delta string) {
		o.mu.Lock()
		o.pendingText.WriteString(delta)
		o.mu.Unlock()
	})
	o.voice.OnAssistantDone(func(text string) {
		o.mu.Lock()
		if text == "" {
			text = o.pendingText.String()
		}
		o.pendingText.Reset()
		o.mu.Unlock()
		if text != "" {
			o.appendMessage(uistate.RoleAssistant, text)
		}
	})
	o.voice.OnError(func(err error) { o.reportError(err) })
}

func (o *Orchestrator) appendMessage(role uistate.Role, content string) {
	o.sink.AppendMessage(uistate.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) reportError(err error) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
	o.sink.SetError(err.Error())
}

// recomputeActivity derives the session-level flags from the component
// states: active only while both legs are connected and capture runs.
func (o *Orchestrator) recomputeActivity() {
	o.mu.Lock()
	active := o.avatarState == lifecycle.StateConnected &&
		o.voiceState == lifecycle.StateConnected &&
		o.mic.Active()
	connecting := !active &&
		(o.avatarState == lifecycle.StateConnecting || o.voiceState == lifecycle.StateConnecting)
	o.active = active
	o.connecting = connecting
	o.mu.Unlock()

	o.sink.SetActive(active)
	o.sink.SetConnecting(connecting)
}

// Start brings the full session up. Avatar session and microphone capture
// start concurrently; the voice connection follows so the published
// microphone track rides the initial negotiation. Any failure unwinds
// everything already started and is returned.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.active || o.connecting {
		o.mu.Unlock()
		return nil
	}
	o.connecting = true
	o.lastErr = nil
	o.mu.Unlock()
	o.sink.SetConnecting(true)
	o.sink.SetError("")

	var wg sync.WaitGroup
	var avatarErr, micErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		avatarErr = o.avatar.StartSession(ctx)
	}()
	go func() {
		defer wg.Done()
		micErr = o.mic.StartCapture(ctx)
	}()
	wg.Wait()

	if avatarErr != nil {
		o.failStart(ctx, avatarErr)
		return avatarErr
	}
	if micErr != nil {
		o.failStart(ctx, micErr)
		return micErr
	}

	var localTrack webrtc.TrackLocal
	publisher, err := o.mic.PublishTrack()
	if err != nil {
		// No encoder available: fall back to pushing encoded chunks over
		// the control channel instead of a media track.
		o.logger.Warn().Err(err).Msg("track publish unavailable, using control channel audio")
		o.mic.OnFrame(func(chunk string) {
			o.voice.SendEvent(map[string]string{"type": "input_audio_buffer.append", "audio": chunk})
		})
	} else {
		localTrack = publisher.Track()
	}

	if err := o.voice.Connect(ctx, localTrack); err != nil {
		o.failStart(ctx, err)
		return err
	}

	observability.SessionStarted()
	o.recomputeActivity()
	o.logger.Info().Msg("session started")
	return nil
}

// failStart unwinds whatever came up before the failure.
func (o *Orchestrator) failStart(ctx context.Context, err error) {
	o.logger.Error().Err(err).Msg("session start failed")
	observability.SessionFailed()
	o.reportError(err)
	o.teardown(ctx)

	o.mu.Lock()
	o.connecting = false
	o.active = false
	o.mu.Unlock()
	o.sink.SetConnecting(false)
	o.sink.SetActive(false)
}

// Stop tears the session down. Component shutdowns run concurrently and a
// failure in one never blocks the others.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.teardown(ctx)

	o.mu.Lock()
	o.active = false
	o.connecting = false
	o.mu.Unlock()

	observability.SessionStopped()
	o.sink.SetActive(false)
	o.sink.SetConnecting(false)
	o.sink.SetSpeaking(false)
	o.logger.Info().Msg("session stopped")
}

func (o *Orchestrator) teardown(ctx context.Context) {
	o.stopBridge()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		o.voice.Disconnect()
	}()
	go func() {
		defer wg.Done()
		o.mic.StopCapture()
	}()
	go func() {
		defer wg.Done()
		o.avatar.StopSession(ctx)
	}()
	wg.Wait()

	o.mu.Lock()
	o.streamReady = false
	o.remoteTrack = nil
	o.mu.Unlock()
}

// Shutdown is the process-exit path: best-effort termination beacon plus
// local teardown, bounded by the caller's context.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	done := o.avatar.UnloadHandler()
	o.stopBridge()
	o.voice.Disconnect()
	o.mic.StopCapture()

	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn().Msg("shutdown beacon still in flight at exit")
	}
}

// ToggleMute flips microphone mute and mirrors the flag to the sink.
func (o *Orchestrator) ToggleMute() bool {
	muted := o.mic.ToggleMute()
	o.sink.SetMuted(muted)
	return muted
}

// Interrupt cancels the in-progress response on both legs.
func (o *Orchestrator) Interrupt() {
	if err := o.voice.Interrupt(); err != nil {
		o.logger.Warn().Err(err).Msg("voice interrupt failed")
	}
	if err := o.avatar.Interrupt(); err != nil {
		o.logger.Warn().Err(err).Msg("avatar interrupt failed")
	}
}

// Active reports whether the full session is live.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Connecting reports whether any leg is still coming up.
func (o *Orchestrator) Connecting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connecting
}

// Err returns the most recent session error, nil when healthy.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}
