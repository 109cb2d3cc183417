package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/wricardo/rover-relay-hub/hub/relay"
)

var (
	ErrConfigNotFound = errors.New("configuration not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Duration is a time.Duration that reads and writes Go duration strings.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// NgrokConfig controls the optional public tunnel.
type NgrokConfig struct {
	Enabled   bool   `json:"enabled"`
	AuthToken string `json:"auth_token,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

// Config holds all hub server settings.
type Config struct {
	Host           string      `json:"host"`
	Port           int         `json:"port"`
	HubID          string      `json:"hub_id"`
	StaticDir      string      `json:"static_dir"`
	SendBufferSize int         `json:"send_buffer_size"`
	MaxMessageSize int64       `json:"max_message_size"`
	WriteWait      Duration    `json:"write_wait"`
	PongWait       Duration    `json:"pong_wait"`
	PingPeriod     Duration    `json:"ping_period"`
	AllowedOrigins []string    `json:"allowed_origins"`
	Ngrok          NgrokConfig `json:"ngrok"`
}

// Default returns the built-in configuration.
func Default() *Config {
	pongWait := 60 * time.Second
	return &Config{
		Host:           "0.0.0.0",
		Port:           3000,
		HubID:          relay.DefaultHubID,
		StaticDir:      "static",
		SendBufferSize: 256,
		MaxMessageSize: 64 * 1024,
		WriteWait:      Duration(10 * time.Second),
		PongWait:       Duration(pongWait),
		PingPeriod:     Duration((pongWait * 9) / 10),
		AllowedOrigins: []string{},
	}
}

// Load reads a JSON file and overlays it on the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration can be used to start a server.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.HubID == "" {
		return fmt.Errorf("%w: hub_id is required", ErrInvalidConfig)
	}
	if c.SendBufferSize <= 0 {
		return fmt.Errorf("%w: send_buffer_size must be positive", ErrInvalidConfig)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max_message_size must be positive", ErrInvalidConfig)
	}
	if c.WriteWait <= 0 || c.PongWait <= 0 || c.PingPeriod <= 0 {
		return fmt.Errorf("%w: write_wait, pong_wait and ping_period must be positive", ErrInvalidConfig)
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("%w: ping_period (%s) must be less than pong_wait (%s)",
			ErrInvalidConfig, time.Duration(c.PingPeriod), time.Duration(c.PongWait))
	}
	if c.Ngrok.Enabled && c.Ngrok.AuthToken == "" {
		return fmt.Errorf("%w: ngrok enabled without an auth token", ErrInvalidConfig)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
