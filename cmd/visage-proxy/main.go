// Visage proxy - the trusted backend that holds provider credentials.
// The session runtime never sees an API key: token grants, session
// terminations, and SDP exchanges all pass through here.
package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog"

	"github.com/visagelabs/go-visage/internal/config"
	"github.com/visagelabs/go-visage/internal/httpc"
	"github.com/visagelabs/go-visage/internal/log"
)

const upstreamTimeout = 30 * time.Second

type proxy struct {
	cfg    *config.ProxyConfig
	http   *http.Client
	logger zerolog.Logger
}

func main() {
	cfg, err := config.LoadProxy()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log.Init(cfg.LogLevel, cfg.LogPretty)
	logger := log.With("proxy")

	p := &proxy{
		cfg:    cfg,
		http:   httpc.NewClient(upstreamTimeout),
		logger: logger,
	}

	app := fiber.New(fiber.Config{
		AppName:               "Visage Proxy",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Post("/avatar/token", p.handleToken)
	api.Post("/avatar/stop", p.handleStop)
	api.Post("/voice/offer", p.handleOffer)
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("proxy listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal().Err(err).Msg("proxy listen failed")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown failed")
	}
}

// handleToken requests a short-lived session grant from the avatar vendor
// and relays only the grant, never the API key.
func (p *proxy) handleToken(c *fiber.Ctx) error {
	req, err := http.NewRequestWithContext(c.Context(), http.MethodPost,
		p.cfg.AvatarBaseURL+"/sessions/token", nil)
	if err != nil {
		return p.upstreamError(c, err)
	}
	req.Header.Set("X-Api-Key", p.cfg.AvatarAPIKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return p.upstreamError(c, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return p.upstreamError(c, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.Warn().Int("status", resp.StatusCode).Msg("avatar token request rejected")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"message": "avatar provider rejected token request",
		})
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

// handleStop forwards a session termination to the avatar vendor. Accepts
// both JSON bodies and beacon-style posts.
func (p *proxy) handleStop(c *fiber.Ctx) error {
	req, err := http.NewRequestWithContext(c.Context(), http.MethodPost,
		p.cfg.AvatarBaseURL+"/sessions/stop", bytes.NewReader(c.Body()))
	if err != nil {
		return p.upstreamError(c, err)
	}
	req.Header.Set("X-Api-Key", p.cfg.AvatarAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return p.upstreamError(c, err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.Warn().Int("status", resp.StatusCode).Msg("avatar stop rejected")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"success": false})
	}
	return c.JSON(fiber.Map{"success": true})
}

type offerRequest struct {
	SDP string `json:"sdp"`
}

// handleOffer exchanges the client's SDP offer with the realtime voice
// service and wraps the answer in the response envelope.
func (p *proxy) handleOffer(c *fiber.Ctx) error {
	var offer offerRequest
	if err := c.BodyParser(&offer); err != nil || offer.SDP == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "missing sdp",
		})
	}

	url := p.cfg.RealtimeURL + "?model=" + p.cfg.RealtimeModel
	req, err := http.NewRequestWithContext(c.Context(), http.MethodPost, url,
		bytes.NewReader([]byte(offer.SDP)))
	if err != nil {
		return p.upstreamError(c, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.RealtimeAPIKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := p.http.Do(req)
	if err != nil {
		return p.upstreamError(c, err)
	}
	defer resp.Body.Close()

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return p.upstreamError(c, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.Warn().Int("status", resp.StatusCode).Msg("offer rejected upstream")
		return c.JSON(fiber.Map{
			"success": false,
			"message": "voice provider rejected offer",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"sdp": string(answer)},
	})
}

func (p *proxy) upstreamError(c *fiber.Ctx, err error) error {
	p.logger.Error().Err(err).Msg("upstream request failed")
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
		"success": false,
		"message": "upstream request failed",
	})
}
