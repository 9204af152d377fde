// Package web serves the session frontend: REST endpoints for state and
// control, a websocket feed of live state, and Prometheus metrics. The
// server implements the uistate.Sink interface, so the session core pushes
// state here and every connected client sees it in real time.
package web

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/visagelabs/go-visage/internal/log"
	"github.com/visagelabs/go-visage/pkg/hub"
	"github.com/visagelabs/go-visage/pkg/lifecycle"
	"github.com/visagelabs/go-visage/pkg/uistate"
)

const maxMessages = 200

// SessionControls is the slice of the orchestrator the frontend drives.
type SessionControls interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	ToggleMute() bool
	Interrupt()
	Active() bool
	Connecting() bool
}

// SessionState is the JSON shape pushed to clients and served on /api/state.
type SessionState struct {
	AvatarState string `json:"avatarState"`
	VoiceState  string `json:"voiceState"`
	Active      bool   `json:"active"`
	Connecting  bool   `json:"connecting"`
	Muted       bool   `json:"muted"`
	Speaking    bool   `json:"speaking"`
	Error       string `json:"error,omitempty"`
}

// Server is the frontend server.
type Server struct {
	app      *fiber.App
	port     string
	controls SessionControls
	logger   zerolog.Logger

	stateMu sync.RWMutex
	state   SessionState

	messagesMu sync.RWMutex
	messages   []uistate.Message

	stateHub   *hub.Hub
	messageHub *hub.Hub

	metricsEnabled bool
}

// NewServer builds the fiber app and its routes.
func NewServer(port string, controls SessionControls, metricsEnabled bool) *Server {
	s := &Server{
		port:           port,
		controls:       controls,
		logger:         log.With("web"),
		messages:       make([]uistate.Message, 0, maxMessages),
		stateHub:       hub.New("state"),
		messageHub:     hub.New("messages"),
		metricsEnabled: metricsEnabled,
	}
	s.state = SessionState{
		AvatarState: lifecycle.StateIdle.String(),
		VoiceState:  lifecycle.StateIdle.String(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Visage",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/messages", s.handleMessages)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Post("/session/mute", s.handleMute)
	api.Post("/session/interrupt", s.handleInterrupt)
	api.Get("/health", s.handleHealth)

	if metricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(s.handleStateWS))
	app.Get("/ws/messages", websocket.New(s.handleMessagesWS))

	s.app = app
	return s
}

// Start runs the hubs and listens. Blocks until the listener stops.
func (s *Server) Start() error {
	go s.stateHub.Run()
	go s.messageHub.Run()
	s.logger.Info().Str("port", s.port).Msg("frontend listening")
	return s.app.Listen(":" + s.port)
}

// StartAsync runs the server in a goroutine, logging any listen failure.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error().Err(err).Msg("frontend server stopped")
		}
	}()
}

// Shutdown stops the listener and the broadcast hubs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stateHub.Stop()
	s.messageHub.Stop()
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) snapshotState() SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// updateState mutates the shared state and pushes it to every client.
func (s *Server) updateState(mutate func(*SessionState)) {
	s.stateMu.Lock()
	mutate(&s.state)
	state := s.state
	s.stateMu.Unlock()
	s.stateHub.BroadcastJSON(state)
}

// Sink implementation. The session core calls these from event goroutines.

// SetAvatarState implements uistate.Sink.
func (s *Server) SetAvatarState(st lifecycle.State) {
	s.updateState(func(ss *SessionState) { ss.AvatarState = st.String() })
}

// SetVoiceState implements uistate.Sink.
func (s *Server) SetVoiceState(st lifecycle.State) {
	s.updateState(func(ss *SessionState) { ss.VoiceState = st.String() })
}

// SetActive implements uistate.Sink.
func (s *Server) SetActive(active bool) {
	s.updateState(func(ss *SessionState) { ss.Active = active })
}

// SetConnecting implements uistate.Sink.
func (s *Server) SetConnecting(connecting bool) {
	s.updateState(func(ss *SessionState) { ss.Connecting = connecting })
}

// SetMuted implements uistate.Sink.
func (s *Server) SetMuted(muted bool) {
	s.updateState(func(ss *SessionState) { ss.Muted = muted })
}

// SetSpeaking implements uistate.Sink.
func (s *Server) SetSpeaking(speaking bool) {
	s.updateState(func(ss *SessionState) { ss.Speaking = speaking })
}

// SetError implements uistate.Sink.
func (s *Server) SetError(msg string) {
	s.updateState(func(ss *SessionState) { ss.Error = msg })
}

// AppendMessage implements uistate.Sink.
func (s *Server) AppendMessage(m uistate.Message) {
	s.messagesMu.Lock()
	s.messages = append(s.messages, m)
	if len(s.messages) > maxMessages {
		s.messages = s.messages[1:]
	}
	s.messagesMu.Unlock()
	s.messageHub.BroadcastJSON(m)
}

var _ uistate.Sink = (*Server)(nil)

// Handlers.

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.snapshotState())
}

func (s *Server) handleMessages(c *fiber.Ctx) error {
	s.messagesMu.RLock()
	msgs := make([]uistate.Message, len(s.messages))
	copy(msgs, s.messages)
	s.messagesMu.RUnlock()
	return c.JSON(msgs)
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if s.controls.Active() || s.controls.Connecting() {
		return c.JSON(fiber.Map{"success": true, "message": "session already running"})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := s.controls.Start(ctx); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.controls.Stop(ctx)
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleMute(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "muted": s.controls.ToggleMute()})
}

func (s *Server) handleInterrupt(c *fiber.Ctx) error {
	s.controls.Interrupt()
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "active": s.controls.Active()})
}

func (s *Server) handleStateWS(conn *websocket.Conn) {
	// Send the current state immediately so new clients render without
	// waiting for the next change.
	if payload, err := marshalState(s.snapshotState()); err == nil {
		conn.WriteMessage(websocket.TextMessage, payload)
	}
	hub.NewClient(s.stateHub, conn).Run()
}

func (s *Server) handleMessagesWS(conn *websocket.Conn) {
	hub.NewClient(s.messageHub, conn).Run()
}

func marshalState(state SessionState) ([]byte, error) {
	return sonic.Marshal(state)
}
