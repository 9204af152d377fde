package voice

import (
	"errors"

	"github.com/bytedance/sonic"

	"github.com/visagelabs/go-visage/internal/observability"
)

// controlEvent is the envelope for messages on the "events" data channel.
// Only the fields relevant to a given type are populated.
type controlEvent struct {
	Type       string        `json:"type"`
	Delta      string        `json:"delta,omitempty"`
	Transcript string        `json:"transcript,omitempty"`
	Error      *controlError `json:"error,omitempty"`
}

type controlError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// sessionUpdate carries the session configuration sent once the service
// acknowledges the session.
type sessionUpdate struct {
	Type    string         `json:"type"`
	Session sessionOptions `json:"session"`
}

type sessionOptions struct {
	Modalities        []string       `json:"modalities"`
	Instructions      string         `json:"instructions,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	Transcription     map[string]any `json:"input_audio_transcription"`
	TurnDetection     map[string]any `json:"turn_detection"`
}

func (c *Controller) buildSessionUpdate() sessionUpdate {
	voice := c.voice
	if voice == "" {
		voice = "alloy"
	}
	return sessionUpdate{
		Type: "session.update",
		Session: sessionOptions{
			Modalities:        []string{"text", "audio"},
			Instructions:      c.instructions,
			Voice:             voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			Transcription:     map[string]any{"model": "whisper-1"},
			TurnDetection: map[string]any{
				"type":                "server_vad",
				"threshold":           0.5,
				"prefix_padding_ms":   300,
				"silence_duration_ms": 500,
			},
		},
	}
}

// handleControlMessage parses and dispatches one data-channel message.
// Unparseable payloads and unknown types are logged and skipped; a stray
// message never takes the session down.
func (c *Controller) handleControlMessage(payload []byte) {
	var evt controlEvent
	if err := sonic.Unmarshal(payload, &evt); err != nil {
		c.logger.Warn().Err(err).Msg("unparseable control event")
		return
	}
	observability.RecordControlEvent(evt.Type)

	switch evt.Type {
	case "session.created":
		// First acknowledgement from the service: push our configuration.
		if err := c.SendEvent(c.buildSessionUpdate()); err != nil {
			c.logger.Warn().Err(err).Msg("session.update send failed")
		}

	case "session.updated":
		c.logger.Debug().Msg("session configured")

	case "input_audio_buffer.speech_started":
		if c.onSpeechStarted != nil {
			c.onSpeechStarted()
		}

	case "input_audio_buffer.speech_stopped":
		if c.onSpeechStopped != nil {
			c.onSpeechStopped()
		}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript != "" && c.onUserTranscript != nil {
			c.onUserTranscript(evt.Transcript)
		}

	case "response.audio_transcript.delta":
		if evt.Delta != "" && c.onAssistantDelta != nil {
			c.onAssistantDelta(evt.Delta)
		}

	case "response.audio_transcript.done":
		if c.onAssistantDone != nil {
			c.onAssistantDone(evt.Transcript)
		}

	case "response.done":
		if c.onResponseDone != nil {
			c.onResponseDone()
		}

	case "error":
		// Service-reported errors are surfaced but non-fatal: the peer
		// connection state decides when the session is actually dead.
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		observability.RecordError("voice")
		if c.onError != nil {
			c.onError(errors.New(msg))
		}

	default:
		c.logger.Debug().Str("type", evt.Type).Msg("ignoring control event")
	}
}
