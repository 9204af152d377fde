package mic

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/visagelabs/go-visage/internal/log"
	"github.com/visagelabs/go-visage/internal/observability"
	"github.com/visagelabs/go-visage/pkg/audio"
)

// FrameFunc receives one encoded chunk per captured frame.
type FrameFunc func(chunk string)

// Permission tracks microphone permission separately from capture activity,
// so a frontend can distinguish "never asked", "granted", and "denied".
type Permission int

const (
	PermissionUnknown Permission = iota
	PermissionGranted
	PermissionDenied
)

// String returns a human-readable permission state.
func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Controller owns the capture source and its processing graph.
type Controller struct {
	source Source
	logger zerolog.Logger

	mu         sync.Mutex
	active     bool
	muted      bool
	permission Permission
	onFrame    FrameFunc
	publisher  *TrackPublisher
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewController creates a capture controller over the given source.
func NewController(source Source) *Controller {
	return &Controller{
		source: source,
		logger: log.With("mic"),
	}
}

// OnFrame registers the per-frame callback. When set before StartCapture,
// every captured frame is run through the capture pipeline and the encoded
// chunk forwarded here, gated by the mute flag.
func (c *Controller) OnFrame(fn FrameFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = fn
}

// StartCapture acquires the device and starts the frame pump. Calling it
// while already capturing is a no-op.
func (c *Controller) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.source.Start(ctx); err != nil {
		c.mu.Lock()
		if errors.Is(err, ErrPermissionDenied) {
			c.permission = PermissionDenied
		}
		c.mu.Unlock()
		observability.RecordError("mic")
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.active = true
	c.permission = PermissionGranted
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.pump(pumpCtx, done)

	c.logger.Info().Int("rate", c.source.SampleRate()).Int("channels", c.source.Channels()).Msg("capture started")
	return nil
}

// pump reads frames until the source stops, converting each through the
// capture pipeline. It performs no blocking I/O per frame, only pure
// transformation and non-blocking sends.
func (c *Controller) pump(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		frame, err := c.source.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				// The device died on its own rather than through
				// StopCapture; drop the active flag so state readers
				// stop reporting a live capture.
				c.logger.Warn().Err(err).Msg("capture source failed")
				observability.RecordError("mic")
				c.mu.Lock()
				c.active = false
				if c.cancel != nil {
					c.cancel()
					c.cancel = nil
				}
				c.done = nil
				c.mu.Unlock()
			}
			return
		}
		observability.RecordCaptureFrame()

		c.mu.Lock()
		muted := c.muted
		onFrame := c.onFrame
		publisher := c.publisher
		c.mu.Unlock()

		if muted {
			// Frames keep flowing while muted but nothing leaves the device:
			// the callback is skipped and the outbound track goes quiet.
			continue
		}

		if onFrame != nil {
			onFrame(audio.ProcessCaptureFrame(frame.Samples, frame.SampleRate, frame.Channels))
		}
		if publisher != nil {
			if err := publisher.Write(frame); err != nil {
				c.logger.Warn().Err(err).Msg("track publish failed")
			}
		}
	}
}

// StopCapture disconnects the capture graph and stops the device.
// Calling it twice is safe.
func (c *Controller) StopCapture() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if err := c.source.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("source stop failed")
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.logger.Info().Msg("capture stopped")
}

// ToggleMute flips the mute flag and returns the new value.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = !c.muted
	return c.muted
}

// Muted returns the current mute flag.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Active returns true while the device is capturing.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Permission returns the tracked permission state.
func (c *Controller) Permission() Permission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permission
}

// PublishTrack creates a local WebRTC audio track fed from capture frames.
// The returned track is handed to the voice connection before the offer is
// created so the negotiated session already carries the send direction.
func (c *Controller) PublishTrack() (*TrackPublisher, error) {
	pub, err := NewTrackPublisher()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.publisher = pub
	c.mu.Unlock()
	return pub, nil
}
