package mic

import (
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/visagelabs/go-visage/pkg/audio"
)

const (
	trackSampleRate = 48000
	trackFrameSize  = trackSampleRate / 50 // 20ms
	maxPacketBytes  = 1500
)

// TrackPublisher encodes capture frames to Opus and writes them onto a
// local WebRTC track. Frames of any rate and channel count are accepted;
// they are downmixed and resampled to the track format internally.
type TrackPublisher struct {
	track   *webrtc.TrackLocalStaticSample
	encoder *opus.Encoder
	pending []int16
	packet  []byte
}

// NewTrackPublisher creates the track and its Opus encoder.
func NewTrackPublisher() (*TrackPublisher, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: trackSampleRate, Channels: 1},
		"audio-"+uuid.NewString(),
		"visage-mic",
	)
	if err != nil {
		return nil, err
	}
	encoder, err := opus.NewEncoder(trackSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	return &TrackPublisher{
		track:   track,
		encoder: encoder,
		packet:  make([]byte, maxPacketBytes),
	}, nil
}

// Track returns the local track to add to a peer connection.
func (p *TrackPublisher) Track() *webrtc.TrackLocalStaticSample {
	return p.track
}

// Write converts one capture frame to the track format and flushes every
// complete 20ms Opus packet. Leftover samples carry over to the next call.
func (p *TrackPublisher) Write(frame Frame) error {
	mono := audio.ToMono(frame.Samples, frame.Channels)
	resampled := audio.Resample(mono, frame.SampleRate, trackSampleRate)

	for _, s := range resampled {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s >= 0 {
			v = int16(s * 32767)
		} else {
			v = int16(s * 32768)
		}
		p.pending = append(p.pending, v)
	}

	for len(p.pending) >= trackFrameSize {
		n, err := p.encoder.Encode(p.pending[:trackFrameSize], p.packet)
		if err != nil {
			return err
		}
		p.pending = p.pending[trackFrameSize:]
		if err := p.track.WriteSample(media.Sample{
			Data:     append([]byte(nil), p.packet[:n]...),
			Duration: 20 * time.Millisecond,
		}); err != nil {
			return err
		}
	}
	return nil
}
