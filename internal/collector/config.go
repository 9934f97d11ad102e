// Package collector provides the HTTP collection endpoint the pixel posts
// event batches to.
package collector

import (
	"time"

	"github.com/SebastienMelki/pixel/internal/dedup"
)

// Config holds collector configuration. Every variable is read under the
// COLLECTOR_ prefix by the collector command.
type Config struct {
	// Addr is the address to listen on (e.g., ":8080")
	Addr string `env:"ADDR" envDefault:":8080"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// MaxBodyBytes is the largest accepted request body
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"1048576"` // 1MB

	// MaxBatchEvents is the largest accepted batch. The pixel buffer holds
	// 1000 events by default and sends them all at once.
	MaxBatchEvents int `env:"MAX_BATCH_EVENTS" envDefault:"1000"`

	// DBPath is the SQLite database file
	DBPath string `env:"DB_PATH" envDefault:"pixel-events.db"`

	// CORS configuration
	CORS CORSConfig `envPrefix:"CORS_"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`

	// Dedup configuration
	Dedup dedup.Config
}

// CORSConfig holds CORS configuration for browser pixels.
type CORSConfig struct {
	// AllowedOrigins is a list of allowed origins; "*" allows any
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*"`

	// AllowedHeaders is a list of allowed request headers
	AllowedHeaders []string `env:"ALLOWED_HEADERS" envDefault:"Content-Type,X-Client-Id,X-Visitor-Id,X-Request-ID"`

	// MaxAge is the max age (in seconds) for preflight cache
	MaxAge int `env:"MAX_AGE" envDefault:"86400"` // 24 hours
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Enabled indicates whether rate limiting is enabled
	Enabled bool `env:"ENABLED" envDefault:"true"`

	// RequestsPerSecond is the global request rate
	RequestsPerSecond float64 `env:"REQUESTS_PER_SECOND" envDefault:"1000"`

	// BurstSize is the global burst size
	BurstSize int `env:"BURST_SIZE" envDefault:"2000"`

	// PerClientRPS is the request rate allowed for each client id. A pixel
	// sends at most 10 batches a second.
	PerClientRPS float64 `env:"PER_CLIENT_RPS" envDefault:"50"`

	// PerClientBurst is the burst size for each client id
	PerClientBurst int `env:"PER_CLIENT_BURST" envDefault:"100"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxBodyBytes:    1 << 20,
		MaxBatchEvents:  1000,
		DBPath:          "pixel-events.db",
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedHeaders: []string{"Content-Type", HeaderClientID, HeaderVisitorID, HeaderRequestID},
			MaxAge:         86400,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 1000,
			BurstSize:         2000,
			PerClientRPS:      50,
			PerClientBurst:    100,
		},
		Dedup: dedup.DefaultConfig(),
	}
}
