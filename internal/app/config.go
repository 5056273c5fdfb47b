package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/shopwave/internal/domain/assistant"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (SHOPWAVE_ prefix), flags, or YAML config files.
type Config struct {
	Addr string `default:"0.0.0.0:8080" usage:"API server listen address"`
	// DatabaseURL selects the PostgreSQL catalog and order store. Without
	// it the catalog is served from CatalogFile and orders stay in memory.
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOPWAVE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	// RedisURL selects the Redis cart store. Without it carts are kept in
	// process memory.
	RedisURL    string `usage:"Redis connection URL (SHOPWAVE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	CatalogFile string `usage:"Products JSON (.json or .json.gz) served without a database; defaults to the embedded catalog" flag:"catalog-file"`
	Session     SessionConfig
	Model       ModelConfig
	Assistant   AssistantConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Health      HealthConfig
	Graceful    GracefulConfig
}

// SessionConfig controls the session cookie and cart lifetime.
type SessionConfig struct {
	CookieName      string        `default:"shopwave_session" usage:"Session cookie name"`
	CookieSecure    bool          `default:"false" usage:"Mark the session cookie Secure" flag:"cookie-secure"`
	IdleTimeout     time.Duration `default:"30m" usage:"Evict sessions idle for this long"`
	JanitorInterval time.Duration `default:"1m" usage:"Idle session eviction interval"`
	CartTTL         time.Duration `default:"168h" usage:"How long a saved cart outlives its session"`
}

// ModelConfig selects the prompt-execution backend.
type ModelConfig struct {
	APIKey      string  `usage:"Gemini API key (SHOPWAVE_MODEL_APIKEY, GEMINI_API_KEY or GOOGLE_API_KEY)" flag:"model-api-key"`
	Name        string  `default:"gemini-2.0-flash" usage:"Model name"`
	Temperature float32 `default:"0" usage:"Sampling temperature; zero keeps the model default"`
	Breaker     BreakerConfig
}

// BreakerConfig controls the circuit breaker around the model.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `default:"5" usage:"Failures that open the breaker"`
	OpenTimeout         time.Duration `default:"30s" usage:"How long the breaker stays open"`
}

// AssistantConfig controls the AI actions.
type AssistantConfig struct {
	MaxImageBytes      int           `default:"5242880" usage:"Largest accepted photo in bytes"`
	MaxActionBodyBytes int64         `default:"8388608" usage:"Largest accepted action request body in bytes"`
	ExcludeCartItems   bool          `default:"false" usage:"Drop recommendations that repeat a cart item" flag:"exclude-cart-items"`
	FetchTimeout       time.Duration `default:"20s" usage:"Timeout of a cart recommendation request"`
}

// RateLimitConfig controls the per-session token bucket on AI actions.
type RateLimitConfig struct {
	Rate    float64       `default:"0.5" usage:"Sustained actions per second"`
	Burst   int           `default:"5" usage:"Actions allowed at once"`
	IdleTTL time.Duration `default:"10m" usage:"Forget idle sessions after this long"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies)" flag:"cors-credentials"`
}

// HealthConfig controls the probe checks.
type HealthConfig struct {
	Interval      time.Duration `default:"10s" usage:"Health check interval"`
	MaxGoroutines int           `default:"10000" usage:"Liveness goroutine threshold"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and flags, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOPWAVE",
		Files:     []string{"config.yaml", "/etc/shopwave/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the standard variables set by hosting
// platforms (PORT, DATABASE_URL, REDIS_URL) and the Gemini SDK key
// variables to unset fields.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	fallback := func(dst *string, keys ...string) {
		for _, k := range keys {
			if *dst != "" {
				return
			}
			*dst = getenv(k)
		}
	}
	fallback(&c.DatabaseURL, "DATABASE_URL")
	fallback(&c.RedisURL, "REDIS_URL")
	fallback(&c.Model.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")

	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch {
	case c.Assistant.MaxImageBytes <= 0:
		return errors.New("assistant max image bytes must be positive")
	case c.Assistant.MaxActionBodyBytes < int64(assistant.MaxPhotoURILen(c.Assistant.MaxImageBytes)):
		return errors.Errorf("assistant max action body bytes must fit the largest image as a data URI (%d bytes)",
			assistant.MaxPhotoURILen(c.Assistant.MaxImageBytes))
	case c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0:
		return errors.New("rate limit rate and burst must be positive")
	case c.Health.Interval <= 0 || c.Session.JanitorInterval <= 0:
		return errors.New("health and session janitor intervals must be positive")
	case c.CatalogFile != "" && c.DatabaseURL != "":
		return errors.New("catalog file is only served without a database; load it with seed-db instead")
	}
	if c.RedisURL != "" && !strings.Contains(c.RedisURL, "://") {
		return errors.Errorf("redis URL %q must include a scheme", c.RedisURL)
	}
	return nil
}
