package config

import (
	"fmt"
	"os"
	"time"

	"playlink/pkg/validation"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Signaling struct {
		URL                 string        `yaml:"url"`
		ReconnectDelay      time.Duration `yaml:"reconnect_delay"`
		HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
		AuthToken           string        `yaml:"auth_token,omitempty"`
	} `yaml:"signaling"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		InputChannelLabel string `yaml:"input_channel_label"`
	} `yaml:"webrtc"`

	Input struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"input"`

	Metrics struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"metrics"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		Address           string `yaml:"address"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Relay struct {
		Address             string        `yaml:"address"`
		AllowedOrigins      []string      `yaml:"allowed_origins"`
		JWTSecret           string        `yaml:"jwt_secret,omitempty"`
		TokenTTL            time.Duration `yaml:"token_ttl"`
		ConnectsPerSecond   float64       `yaml:"connects_per_second"`
		ConnectBurst        int           `yaml:"connect_burst"`
		MessagesPerSecond   float64       `yaml:"messages_per_second"`
		Burst               int           `yaml:"burst"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"relay"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Signaling
	if err := validation.ValidateSignalingURL(c.Signaling.URL); err != nil {
		return fmt.Errorf("signaling.url: %w", err)
	}
	if c.Signaling.ReconnectDelay <= 0 {
		return fmt.Errorf("signaling.reconnect_delay must be > 0")
	}
	if c.Signaling.HandshakeTimeout <= 0 {
		return fmt.Errorf("signaling.handshake_timeout must be > 0")
	}
	if c.Signaling.PingInterval <= 0 {
		return fmt.Errorf("signaling.ping_interval must be > 0")
	}
	if c.Signaling.PongTimeout <= c.Signaling.PingInterval {
		return fmt.Errorf("signaling.pong_timeout must be > signaling.ping_interval")
	}
	if c.Signaling.WriteTimeout <= 0 {
		return fmt.Errorf("signaling.write_timeout must be > 0")
	}
	if c.Signaling.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("signaling.max_message_size_bytes must be >= 0")
	}

	// WebRTC
	if len(c.WebRTC.ICEServers) == 0 {
		return fmt.Errorf("webrtc.ice_servers must not be empty")
	}
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
		for _, u := range s.URLs {
			if err := validation.ValidateICEServerURL(u); err != nil {
				return fmt.Errorf("webrtc.ice_servers[%d]: %w", i, err)
			}
		}
	}
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if c.WebRTC.InputChannelLabel == "" {
		return fmt.Errorf("webrtc.input_channel_label must not be empty")
	}

	// Input
	if err := validation.ValidateResolution(c.Input.Width, c.Input.Height); err != nil {
		return fmt.Errorf("input: %w", err)
	}

	// Metrics
	if c.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics.interval must be > 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.Address == "" {
		return fmt.Errorf("monitoring.address must not be empty when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Relay
	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.ConnectsPerSecond < 0 {
		return fmt.Errorf("relay.connects_per_second must be >= 0")
	}
	if c.Relay.ConnectsPerSecond > 0 && c.Relay.ConnectBurst <= 0 {
		return fmt.Errorf("relay.connect_burst must be > 0 when relay.connects_per_second is set")
	}
	if c.Relay.MessagesPerSecond <= 0 {
		return fmt.Errorf("relay.messages_per_second must be > 0")
	}
	if c.Relay.Burst <= 0 {
		return fmt.Errorf("relay.burst must be > 0")
	}
	if c.Relay.MaxMessageSizeBytes <= 0 {
		return fmt.Errorf("relay.max_message_size_bytes must be > 0")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= c.Relay.PingInterval {
		return fmt.Errorf("relay.pong_timeout must be > relay.ping_interval")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be > 0")
	}
	if c.Relay.JWTSecret != "" && c.Relay.TokenTTL <= 0 {
		return fmt.Errorf("relay.token_ttl must be > 0 when relay.jwt_secret is set")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signaling.URL = "ws://localhost:3000"
	cfg.Signaling.ReconnectDelay = 2 * time.Second
	cfg.Signaling.HandshakeTimeout = 10 * time.Second
	cfg.Signaling.PingInterval = 15 * time.Second
	cfg.Signaling.PongTimeout = 45 * time.Second
	cfg.Signaling.WriteTimeout = 5 * time.Second
	cfg.Signaling.MaxMessageSizeBytes = 64 * 1024

	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
	cfg.WebRTC.InputChannelLabel = "input"

	cfg.Input.Width = 1920
	cfg.Input.Height = 1080

	cfg.Metrics.Interval = time.Second

	cfg.Monitoring.PrometheusEnabled = false
	cfg.Monitoring.Address = ":9090"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "playlink"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Relay.Address = ":3000"
	cfg.Relay.AllowedOrigins = []string{"*"}
	cfg.Relay.TokenTTL = 12 * time.Hour
	cfg.Relay.ConnectsPerSecond = 5
	cfg.Relay.ConnectBurst = 10
	cfg.Relay.MessagesPerSecond = 100
	cfg.Relay.Burst = 200
	cfg.Relay.MaxMessageSizeBytes = 64 * 1024
	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.ShutdownTimeout = 10 * time.Second

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("PLAYLINK_SIGNALING_URL"); url != "" {
		c.Signaling.URL = url
	}
	if token := os.Getenv("PLAYLINK_AUTH_TOKEN"); token != "" {
		c.Signaling.AuthToken = token
	}
	if addr := os.Getenv("PLAYLINK_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if level := os.Getenv("PLAYLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("PLAYLINK_JWT_SECRET"); secret != "" {
		c.Relay.JWTSecret = secret
	}
}
