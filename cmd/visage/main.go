// Visage - realtime avatar conversation runtime.
// Orchestrates the rendered avatar session, the realtime voice connection,
// and local microphone capture behind a small web frontend.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/visagelabs/go-visage/internal/config"
	"github.com/visagelabs/go-visage/internal/log"
	"github.com/visagelabs/go-visage/internal/store"
	"github.com/visagelabs/go-visage/pkg/avatar"
	"github.com/visagelabs/go-visage/pkg/backend"
	"github.com/visagelabs/go-visage/pkg/mic"
	"github.com/visagelabs/go-visage/pkg/session"
	"github.com/visagelabs/go-visage/pkg/voice"
	"github.com/visagelabs/go-visage/pkg/web"
)

const shutdownGrace = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}
	applyFlags(cfg)

	log.Init(cfg.LogLevel, cfg.LogPretty)
	logger := log.With("main")

	sessions, err := newStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("session store init failed")
	}

	client := backend.NewClient(cfg.ProxyBaseURL)
	provider := avatar.NewWSProvider(cfg.AvatarSessionURL)
	avatarCtrl := avatar.NewController(client, provider, sessions)
	voiceCtrl := voice.NewController(client, voice.Options{
		Instructions: cfg.Instructions,
		Voice:        cfg.Voice,
		STUNServer:   cfg.STUNServer,
	})
	micCtrl := mic.NewController(mic.NewCmdSource(cfg.CaptureDevice))

	if err := avatarCtrl.AttachVideo(logSink{logger}); err != nil {
		logger.Warn().Err(err).Msg("video sink attach failed")
	}

	orch := session.New(avatarCtrl, voiceCtrl, micCtrl, nil)

	var server *web.Server
	if cfg.WebEnabled {
		server = web.NewServer(cfg.WebPort, orch, cfg.MetricsEnabled)
		orch.SetSink(server)
		server.StartAsync()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("session start failed, waiting for frontend retry")
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	graceCtx, graceCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer graceCancel()

	orch.Shutdown(graceCtx)
	if server != nil {
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Warn().Err(err).Msg("frontend shutdown failed")
		}
	}
	logger.Info().Msg("exited")
}

// applyFlags lets command-line flags override environment configuration.
func applyFlags(cfg *config.Config) {
	proxy := flag.String("proxy", "", "backend proxy base URL (overrides VISAGE_PROXY_URL)")
	port := flag.String("port", "", "web frontend port (overrides VISAGE_WEB_PORT)")
	device := flag.String("device", "", "capture device (overrides VISAGE_CAPTURE_DEVICE)")
	voiceName := flag.String("voice", "", "synthesized voice (overrides VISAGE_VOICE)")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	flag.Parse()

	if *proxy != "" {
		cfg.ProxyBaseURL = *proxy
	}
	if *port != "" {
		cfg.WebPort = *port
	}
	if *device != "" {
		cfg.CaptureDevice = *device
	}
	if *voiceName != "" {
		cfg.Voice = *voiceName
	}
	if *pretty {
		cfg.LogPretty = true
	}
}

// logSink announces the avatar stream location so an external player or the
// frontend can pick it up.
type logSink struct {
	logger zerolog.Logger
}

func (s logSink) Attach(streamURL string) error {
	s.logger.Info().Str("url", streamURL).Msg("avatar stream ready")
	return nil
}

func newStore(cfg *config.Config) (store.SessionStore, error) {
	if cfg.StatePath != "" {
		fs, err := store.NewFileStore(cfg.StatePath)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	fs, err := store.NewDefaultStore()
	if err != nil {
		return nil, err
	}
	return fs, nil
}
