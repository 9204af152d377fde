package session

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/visagelabs/go-visage/internal/observability"
	"github.com/visagelabs/go-visage/pkg/audio"
)

// rtpTrack is the slice of webrtc.TrackRemote the bridge reads from.
type rtpTrack interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	SetReadDeadline(deadline time.Time) error
}

const (
	bridgeSampleRate = 48000
	// One Opus packet can hold up to 120ms of audio.
	bridgeMaxFrame = bridgeSampleRate * 120 / 1000
)

// bridge forwards the remote voice track into the avatar's speech input:
// RTP in, Opus decode, resample to the wire format, silence-gated base64
// chunks out. One bridge per (track, stream) pairing; it is rebuilt when
// either side reconnects.
type bridge struct {
	track  rtpTrack
	cancel context.CancelFunc
	done   chan struct{}
}

// maybeStartBridge starts the bridge once both the remote track and the
// avatar stream are available. Any previous bridge is stopped first.
func (o *Orchestrator) maybeStartBridge() {
	o.mu.Lock()
	track := o.remoteTrack
	ready := o.streamReady
	o.mu.Unlock()

	if track == nil || !ready {
		return
	}

	o.stopBridge()

	ctx, cancel := context.WithCancel(context.Background())
	b := &bridge{track: track, cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.bridge = b
	o.mu.Unlock()

	go o.runBridge(ctx, track, b.done)
	o.logger.Info().Msg("audio bridge started")
}

func (o *Orchestrator) stopBridge() {
	o.mu.Lock()
	b := o.bridge
	o.bridge = nil
	o.mu.Unlock()

	if b == nil {
		return
	}
	b.cancel()
	// ReadRTP takes no context; between packets the reader sits in a
	// blocking read that only a deadline can interrupt.
	if err := b.track.SetReadDeadline(time.Now()); err != nil {
		o.logger.Warn().Err(err).Msg("bridge read deadline failed")
	}
	<-b.done
}

func (o *Orchestrator) runBridge(ctx context.Context, track rtpTrack, done chan struct{}) {
	defer close(done)

	decoder, err := opus.NewDecoder(bridgeSampleRate, 1)
	if err != nil {
		o.logger.Error().Err(err).Msg("bridge decoder init failed")
		observability.RecordError("bridge")
		return
	}
	pcm := make([]int16, bridgeMaxFrame)

	for {
		if ctx.Err() != nil {
			return
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				o.logger.Warn().Err(err).Msg("bridge read failed")
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		n, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			o.logger.Warn().Err(err).Msg("bridge decode failed")
			continue
		}

		o.forwardBridgeFrame(audio.SamplesToFloat(pcm[:n]))
	}
}

// forwardBridgeFrame applies the silence gate to one decoded frame and
// pushes it to the avatar. Reports whether the frame was delivered.
func (o *Orchestrator) forwardBridgeFrame(samples []float32) bool {
	if audio.IsSilent(samples) {
		// Comfort noise and dead air never reach the avatar; feeding
		// them would hold its mouth open between utterances.
		observability.RecordBridgeFrame(false)
		return false
	}

	chunk := audio.ProcessCaptureFrame(samples, bridgeSampleRate, 1)
	if err := o.avatar.SpeakAudio(chunk); err != nil {
		o.logger.Warn().Err(err).Msg("bridge forward failed")
		observability.RecordBridgeFrame(false)
		return false
	}
	observability.RecordBridgeFrame(true)
	return true
}
