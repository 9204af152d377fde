package avatar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/visagelabs/go-visage/internal/log"
	"github.com/visagelabs/go-visage/pkg/lifecycle"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsHandshakeLimit = 10 * time.Second
)

// wsEvent is the envelope for every message on the provider socket.
type wsEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Audio   string `json:"audio,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
}

// WSProvider speaks the vendor's websocket session protocol. One socket per
// session; the read loop dispatches events to the attached listeners and the
// write path is serialized behind a mutex.
type WSProvider struct {
	url    string
	logger zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	streamURL string

	onStateChange  func(state lifecycle.State)
	onStreamReady  func()
	onSpeakStarted func()
	onSpeakEnded   func()
	onDisconnected func(reason string)
	onError        func(err error)
}

// NewWSProvider creates a provider that dials the given session endpoint.
func NewWSProvider(url string) *WSProvider {
	return &WSProvider{
		url:    url,
		logger: log.With("avatar-ws"),
	}
}

// OnStateChange implements Provider.
func (p *WSProvider) OnStateChange(fn func(state lifecycle.State)) { p.onStateChange = fn }

// OnStreamReady implements Provider.
func (p *WSProvider) OnStreamReady(fn func()) { p.onStreamReady = fn }

// OnSpeakStarted implements Provider.
func (p *WSProvider) OnSpeakStarted(fn func()) { p.onSpeakStarted = fn }

// OnSpeakEnded implements Provider.
func (p *WSProvider) OnSpeakEnded(fn func()) { p.onSpeakEnded = fn }

// OnDisconnected implements Provider.
func (p *WSProvider) OnDisconnected(fn func(reason string)) { p.onDisconnected = fn }

// OnError implements Provider.
func (p *WSProvider) OnError(fn func(err error)) { p.onError = fn }

// Start implements Provider. It dials the session socket with the grant in
// the Authorization header and begins the read loop.
func (p *WSProvider) Start(ctx context.Context, creds Credentials) error {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.SessionToken)
	header.Set("X-Session-Id", creds.SessionID)

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeLimit}
	conn, resp, err := dialer.DialContext(ctx, p.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("avatar socket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("avatar socket dial failed: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.connected = true
	p.closed = false
	p.mu.Unlock()

	go p.readLoop(conn)
	return nil
}

func (p *WSProvider) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			wasClosed := p.closed
			p.connected = false
			p.mu.Unlock()

			if !wasClosed && p.onDisconnected != nil {
				p.onDisconnected(err.Error())
			}
			return
		}

		var evt wsEvent
		if err := sonic.Unmarshal(payload, &evt); err != nil {
			p.logger.Warn().Err(err).Msg("unparseable provider event")
			continue
		}
		p.dispatch(evt)
	}
}

func (p *WSProvider) dispatch(evt wsEvent) {
	switch evt.Type {
	case "session.ready":
		if p.onStateChange != nil {
			p.onStateChange(lifecycle.StateConnected)
		}
	case "stream.ready":
		p.mu.Lock()
		p.streamURL = evt.URL
		p.mu.Unlock()
		if p.onStreamReady != nil {
			p.onStreamReady()
		}
	case "speak.started":
		if p.onSpeakStarted != nil {
			p.onSpeakStarted()
		}
	case "speak.ended":
		if p.onSpeakEnded != nil {
			p.onSpeakEnded()
		}
	case "session.disconnected":
		if p.onDisconnected != nil {
			p.onDisconnected(evt.Reason)
		}
	case "error":
		if p.onError != nil {
			p.onError(errors.New(evt.Message))
		}
	default:
		p.logger.Debug().Str("type", evt.Type).Msg("ignoring provider event")
	}
}

func (p *WSProvider) send(evt wsEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected || p.conn == nil {
		return ErrNotInitialized
	}
	payload, err := sonic.Marshal(evt)
	if err != nil {
		return err
	}
	p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

// Attach implements Provider. The vendor exposes the rendered stream as a
// playback URL announced with the stream-ready event.
func (p *WSProvider) Attach(sink VideoSink) error {
	p.mu.Lock()
	url := p.streamURL
	p.mu.Unlock()
	if url == "" {
		return ErrNotInitialized
	}
	return sink.Attach(url)
}

// Repeat implements Provider.
func (p *WSProvider) Repeat(text string) error {
	return p.send(wsEvent{Type: "task.repeat", Text: text})
}

// SpeakAudio implements Provider.
func (p *WSProvider) SpeakAudio(chunk string) error {
	return p.send(wsEvent{Type: "task.audio", Audio: chunk})
}

// Interrupt implements Provider.
func (p *WSProvider) Interrupt() error {
	return p.send(wsEvent{Type: "task.interrupt"})
}

// Stop implements Provider. It marks the socket closed first so the read
// loop does not surface the close as a disconnect.
func (p *WSProvider) Stop() error {
	p.mu.Lock()
	conn := p.conn
	p.closed = true
	p.connected = false
	p.conn = nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
	return conn.Close()
}

var _ Provider = (*WSProvider)(nil)
