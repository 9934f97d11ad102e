package pixel

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/google/uuid"
)

// Default configuration values.
const (
	DefaultSendRate       = 10.0
	DefaultBufferCapacity = 1000
	DefaultFrameInterval  = 16 * time.Millisecond
	DefaultUnloadGrace    = 2 * time.Second
)

// Config holds the tracker configuration. It is supplied once at startup and
// never modified by the tracker.
type Config struct {
	// Endpoint is the collection URL batches are posted to (required).
	Endpoint string `env:"PIXEL_ENDPOINT"`

	// ClientID identifies the vendor/customer account (required).
	ClientID string `env:"PIXEL_CLIENT_ID"`

	// VisitorID identifies the visitor. A random UUID is used when empty and
	// kept for the tracker's lifetime.
	VisitorID string `env:"PIXEL_VISITOR_ID"`

	// AlterationID correlates events with a page or variant (optional).
	AlterationID string `env:"PIXEL_ALTERATION_ID"`

	// SendRate is the send task frequency in Hz (default: 10)
	SendRate float64 `env:"PIXEL_SEND_RATE" envDefault:"10"`

	// BufferCapacity bounds the number of buffered events (default: 1000)
	BufferCapacity int `env:"PIXEL_BUFFER_CAPACITY" envDefault:"1000"`

	// FrameInterval is the period of the scheduler's driver (default: 16ms)
	FrameInterval time.Duration `env:"PIXEL_FRAME_INTERVAL" envDefault:"16ms"`

	// UnloadGrace bounds the final flush when the caller's context has no
	// deadline (default: 2s)
	UnloadGrace time.Duration `env:"PIXEL_UNLOAD_GRACE" envDefault:"2s"`

	// HeartbeatRate emits a "heartbeat" event at this frequency in Hz.
	// Zero disables the heartbeat.
	HeartbeatRate float64 `env:"PIXEL_HEARTBEAT_RATE" envDefault:"0"`

	// AllowProducerOverride lets a later producer registration replace an
	// earlier one under the same event name instead of failing.
	AllowProducerOverride bool `env:"PIXEL_ALLOW_PRODUCER_OVERRIDE" envDefault:"false"`
}

// ConfigFromEnv loads a Config from PIXEL_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("pixel: parse env: %w", err)
	}
	return cfg, nil
}

// validate checks that required fields are set and values are valid.
func (c *Config) validate() error {
	if c.Endpoint == "" {
		return errors.New("pixel: Endpoint is required")
	}
	if c.ClientID == "" {
		return errors.New("pixel: ClientID is required")
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("pixel: Endpoint must be an absolute URL")
	}

	if c.SendRate < 0 {
		return errors.New("pixel: SendRate must be non-negative")
	}
	if c.BufferCapacity < 0 {
		return errors.New("pixel: BufferCapacity must be non-negative")
	}
	if c.FrameInterval < 0 {
		return errors.New("pixel: FrameInterval must be non-negative")
	}
	if c.UnloadGrace < 0 {
		return errors.New("pixel: UnloadGrace must be non-negative")
	}
	if c.HeartbeatRate < 0 {
		return errors.New("pixel: HeartbeatRate must be non-negative")
	}

	return nil
}

// withDefaults returns a copy of the config with default values applied.
func (c Config) withDefaults() Config {
	cfg := c

	if cfg.VisitorID == "" {
		cfg.VisitorID = uuid.New().String()
	}
	if cfg.SendRate == 0 {
		cfg.SendRate = DefaultSendRate
	}
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}
	if cfg.FrameInterval == 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.UnloadGrace == 0 {
		cfg.UnloadGrace = DefaultUnloadGrace
	}

	return cfg
}
