package avatar

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/visagelabs/go-visage/internal/log"
	"github.com/visagelabs/go-visage/internal/observability"
	"github.com/visagelabs/go-visage/internal/store"
	"github.com/visagelabs/go-visage/pkg/backend"
	"github.com/visagelabs/go-visage/pkg/lifecycle"
)

// Controller drives the avatar session lifecycle. It owns the provider
// adapter, the short-lived credential exchange, and the durable session-id
// record used to clean up sessions orphaned by a crash.
type Controller struct {
	backend  *backend.Client
	provider Provider
	store    store.SessionStore
	logger   zerolog.Logger

	mu          sync.Mutex
	state       lifecycle.State
	sessionID   string
	speaking    bool
	streamReady bool
	videoSink   VideoSink

	onStateChange  func(state lifecycle.State)
	onStreamReady  func()
	onSpeakStarted func()
	onSpeakEnded   func()
	onError        func(err error)
}

// NewController wires the avatar controller. The store may be nil, in which
// case orphan recovery is disabled and terminations rely on live exit paths.
func NewController(client *backend.Client, provider Provider, sessions store.SessionStore) *Controller {
	if sessions == nil {
		sessions = store.NewMemoryStore()
	}
	return &Controller{
		backend:  client,
		provider: provider,
		store:    sessions,
		logger:   log.With("avatar"),
		state:    lifecycle.StateIdle,
	}
}

// OnStateChange registers the lifecycle observer.
func (c *Controller) OnStateChange(fn func(state lifecycle.State)) { c.onStateChange = fn }

// OnStreamReady fires when the provider's media stream is playable.
func (c *Controller) OnStreamReady(fn func()) { c.onStreamReady = fn }

// OnSpeakStarted fires when the avatar begins speaking.
func (c *Controller) OnSpeakStarted(fn func()) { c.onSpeakStarted = fn }

// OnSpeakEnded fires when the avatar finishes speaking.
func (c *Controller) OnSpeakEnded(fn func()) { c.onSpeakEnded = fn }

// OnError registers the error observer for provider-reported failures.
func (c *Controller) OnError(fn func(err error)) { c.onError = fn }

// State returns the current lifecycle state.
func (c *Controller) State() lifecycle.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Speaking reports whether the avatar is currently speaking.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// SessionID returns the live session id, empty when no session is active.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Controller) setState(s lifecycle.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.onStateChange != nil {
		c.onStateChange(s)
	}
}

// StartSession establishes a new avatar session. Any session id left behind
// by a previous run is terminated first, exactly once, before a new token is
// requested. Listeners are attached before the provider starts so the first
// stream-ready event cannot be missed.
func (c *Controller) StartSession(ctx context.Context) error {
	c.setState(lifecycle.StateConnecting)

	c.reconcileOrphan(ctx)

	creds, err := c.backend.FetchAvatarToken(ctx)
	if err != nil {
		c.setState(lifecycle.StateError)
		observability.RecordError("avatar")
		return err
	}

	c.attachListeners()

	if err := c.provider.Start(ctx, Credentials{SessionID: creds.SessionID, SessionToken: creds.SessionToken}); err != nil {
		c.setState(lifecycle.StateError)
		observability.RecordError("avatar")
		return fmt.Errorf("%w: %v", ErrProviderConnectFailed, err)
	}

	c.mu.Lock()
	c.sessionID = creds.SessionID
	c.mu.Unlock()

	if err := c.store.Set(creds.SessionID); err != nil {
		c.logger.Warn().Err(err).Msg("failed to persist session id")
	}

	c.setState(lifecycle.StateConnected)
	c.logger.Info().Str("session_id", creds.SessionID).Msg("avatar session started")
	return nil
}

// reconcileOrphan terminates a session recorded by a previous run that never
// reached a clean stop. Best effort: the stale record is cleared either way
// so the cost is paid at most once.
func (c *Controller) reconcileOrphan(ctx context.Context) {
	staleID, ok := c.store.Get()
	if !ok {
		return
	}
	c.logger.Info().Str("session_id", staleID).Msg("terminating orphaned session")
	if err := c.backend.TerminateAvatarSession(ctx, staleID); err != nil {
		c.logger.Warn().Err(err).Str("session_id", staleID).Msg("orphan termination failed")
	}
	observability.RecordTermination("orphan")
	if err := c.store.Clear(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to clear stale session id")
	}
}

func (c *Controller) attachListeners() {
	c.provider.OnStateChange(func(s lifecycle.State) {
		c.setState(s)
	})
	c.provider.OnStreamReady(func() {
		c.logger.Debug().Msg("avatar stream ready")
		c.mu.Lock()
		c.streamReady = true
		sink := c.videoSink
		c.mu.Unlock()
		if sink != nil {
			if err := c.provider.Attach(sink); err != nil {
				c.logger.Warn().Err(err).Msg("video sink attach failed")
			}
		}
		if c.onStreamReady != nil {
			c.onStreamReady()
		}
	})
	c.provider.OnSpeakStarted(func() {
		c.mu.Lock()
		c.speaking = true
		c.mu.Unlock()
		if c.onSpeakStarted != nil {
			c.onSpeakStarted()
		}
	})
	c.provider.OnSpeakEnded(func() {
		c.mu.Lock()
		c.speaking = false
		c.mu.Unlock()
		if c.onSpeakEnded != nil {
			c.onSpeakEnded()
		}
	})
	c.provider.OnDisconnected(func(reason string) {
		// The persisted id is deliberately left in place: the session may
		// still be live on the vendor side and the next start will settle it.
		c.logger.Warn().Str("reason", reason).Msg("avatar session disconnected")
		c.mu.Lock()
		c.sessionID = ""
		c.speaking = false
		c.streamReady = false
		c.mu.Unlock()
		c.setState(lifecycle.StateDisconnected)
	})
	c.provider.OnError(func(err error) {
		observability.RecordError("avatar")
		c.logger.Error().Err(err).Msg("avatar provider error")
		if c.onError != nil {
			c.onError(err)
		}
	})
}

// AttachVideo registers the rendering sink. Attached immediately when the
// stream is already ready, otherwise deferred until the ready event.
func (c *Controller) AttachVideo(sink VideoSink) error {
	c.mu.Lock()
	c.videoSink = sink
	ready := c.streamReady
	c.mu.Unlock()

	if ready {
		return c.provider.Attach(sink)
	}
	return nil
}

// Repeat makes the avatar speak the given text.
func (c *Controller) Repeat(text string) error {
	if c.SessionID() == "" {
		return ErrNotInitialized
	}
	return c.provider.Repeat(text)
}

// SpeakAudio feeds one base64 PCM16 chunk to the avatar.
func (c *Controller) SpeakAudio(chunk string) error {
	if c.SessionID() == "" {
		return ErrNotInitialized
	}
	return c.provider.SpeakAudio(chunk)
}

// Interrupt cuts off avatar speech. A no-op when no session is live.
func (c *Controller) Interrupt() error {
	if c.SessionID() == "" {
		return nil
	}
	return c.provider.Interrupt()
}

// StopSession shuts the session down cleanly. The three steps are
// independent: a failure in one never blocks the others.
func (c *Controller) StopSession(ctx context.Context) {
	c.mu.Lock()
	id := c.sessionID
	c.sessionID = ""
	c.speaking = false
	c.streamReady = false
	c.mu.Unlock()

	if err := c.provider.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("provider stop failed")
	}

	if id != "" {
		if err := c.backend.TerminateAvatarSession(ctx, id); err != nil {
			c.logger.Warn().Err(err).Str("session_id", id).Msg("session termination failed")
		}
		observability.RecordTermination("stop")
	}

	if err := c.store.Clear(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to clear session id")
	}

	c.setState(lifecycle.StateIdle)
	c.logger.Info().Str("session_id", id).Msg("avatar session stopped")
}

// Teardown fires a non-blocking termination for the current session. Used
// when the process is going away and cannot wait on network round trips.
func (c *Controller) Teardown() {
	c.mu.Lock()
	id := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()

	_ = c.provider.Stop()
	if id != "" {
		c.backend.TerminateAvatarSessionAsync(id)
		observability.RecordTermination("teardown")
	}
	if err := c.store.Clear(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to clear session id")
	}
	c.setState(lifecycle.StateIdle)
}

// UnloadHandler sends a best-effort termination beacon and returns a channel
// closed when the attempt completes. Call on SIGTERM or equivalent; the
// caller may wait on the channel with its own deadline.
func (c *Controller) UnloadHandler() <-chan struct{} {
	c.mu.Lock()
	id := c.sessionID
	c.mu.Unlock()

	if id == "" {
		done := make(chan struct{})
		close(done)
		return done
	}
	observability.RecordTermination("unload")
	return c.backend.TerminateAvatarSessionAsync(id)
}
