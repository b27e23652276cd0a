package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/kmuchiri/dukachat/internal/mpesa"
)

// Config holds the complete application configuration, loadable from
// environment variables (DUKA_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string        `usage:"PostgreSQL connection URL (DUKA_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string        `usage:"Redis URL for session storage; empty uses in-process sessions" flag:"redis-url"`
	SessionTTL  time.Duration `default:"30m" usage:"Idle session time-to-live" flag:"session-ttl"`
	Kafka       KafkaConfig
	Mpesa       mpesa.Config
	Delivery    DeliveryConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// KafkaConfig controls the completed-order event producer. An empty broker
// list disables publishing.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka broker addresses; empty disables order events"`
	Topic   string   `default:"orders.completed" usage:"Topic for completed-order events"`
}

// DeliveryConfig holds the ordered delivery zone table. Zones are matched
// against addresses in the order declared here, so more specific keywords
// must come first.
type DeliveryConfig struct {
	Zones []ZoneConfig `usage:"Ordered delivery zone table (config file only)"`
}

// ZoneConfig is one zone table row. Fee is a decimal string so a mangled
// table is detected at load time instead of quoting garbage.
type ZoneConfig struct {
	Keyword string `usage:"Address substring identifying the zone"`
	Fee     string `usage:"Delivery fee for the zone, e.g. \"150\""`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DUKA",
		Files:     []string{"config.yaml", "/etc/dukachat/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set DUKA_DATABASE_URL or DATABASE_URL")
	}
	if !cfg.Mpesa.Simulate && (cfg.Mpesa.ConsumerKey == "" || cfg.Mpesa.ConsumerSecret == "") {
		return nil, errors.New("M-Pesa credentials are required unless DUKA_MPESA_SIMULATE is set")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's DUKA_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
