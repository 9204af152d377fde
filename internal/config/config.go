// Package config loads application configuration from the environment.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the visage session runtime.
type Config struct {
	// Backend proxy configuration. The proxy holds provider credentials
	// and exchanges signaling payloads on the client's behalf.
	ProxyBaseURL string `envconfig:"VISAGE_PROXY_URL" default:"http://localhost:8787"`

	// Web dashboard / UI state server.
	WebPort    string `envconfig:"VISAGE_WEB_PORT" default:"8080"`
	WebEnabled bool   `envconfig:"VISAGE_WEB_ENABLED" default:"true"`

	// Conversational session parameters sent over the control channel.
	Instructions string `envconfig:"VISAGE_INSTRUCTIONS" default:""`
	Voice        string `envconfig:"VISAGE_VOICE" default:"alloy"`

	// Audio capture device (backend-specific identifier, empty = default).
	CaptureDevice string `envconfig:"VISAGE_CAPTURE_DEVICE" default:""`

	// Avatar provider session socket. The session token from the proxy is
	// presented on this connection; the API key never leaves the proxy.
	AvatarSessionURL string `envconfig:"VISAGE_AVATAR_WS_URL" default:"wss://api.avatar.example.com/v1/session"`

	// ICE relay hint for the peer connection.
	STUNServer string `envconfig:"VISAGE_STUN_SERVER" default:"stun:stun.l.google.com:19302"`

	// Durable store for orphaned-session recovery.
	StatePath string `envconfig:"VISAGE_STATE_PATH" default:""`

	// Observability.
	LogLevel       string `envconfig:"VISAGE_LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"VISAGE_LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"VISAGE_METRICS_ENABLED" default:"true"`
}

// ProxyConfig holds configuration for the trusted backend proxy binary.
type ProxyConfig struct {
	Port string `envconfig:"VISAGE_PROXY_PORT" default:"8787"`

	// Avatar rendering provider.
	AvatarAPIKey  string `envconfig:"AVATAR_API_KEY" required:"true"`
	AvatarBaseURL string `envconfig:"AVATAR_BASE_URL" default:"https://api.avatar.example.com/v1"`

	// Conversational audio provider.
	RealtimeAPIKey string `envconfig:"REALTIME_API_KEY" required:"true"`
	RealtimeURL    string `envconfig:"REALTIME_URL" default:"https://api.openai.com/v1/realtime"`
	RealtimeModel  string `envconfig:"REALTIME_MODEL" default:"gpt-4o-realtime-preview-2024-12-17"`

	LogLevel  string `envconfig:"VISAGE_LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"VISAGE_LOG_PRETTY" default:"false"`
}

// Load reads configuration from environment variables. A .env file is
// loaded first when present so local development does not need exports.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// LoadProxy reads the backend proxy configuration from the environment.
func LoadProxy() (*ProxyConfig, error) {
	_ = godotenv.Load()

	var cfg ProxyConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
