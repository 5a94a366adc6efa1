package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Telegram TelegramConfig
	Channels ChannelsConfig
	Delivery DeliveryConfig
	Dispatch DispatchConfig
	Log      LogConfig
	OTel     OTelConfig
	Claim    ClaimConfig
	Env      string
	Port     string
}

type TelegramConfig struct {
	APIID         int
	APIHash       string
	Phone         string
	SessionString string // Telethon string session, takes precedence over SessionName
	SessionName   string
	TwoFAPassword string
}

type ChannelsConfig struct {
	Source      string
	Destination string
}

type DeliveryConfig struct {
	MaxAttempts                int
	BaseDelay                  time.Duration
	ServerWaitsConsumeAttempts bool
	MaxServerWait              time.Duration
	RequestTimeout             time.Duration
	RatePerMinute              int
}

type DispatchConfig struct {
	Concurrency          int
	QueueSize            int
	VerifyPostPermission bool
}

type LogConfig struct {
	Level string // empty picks DEBUG in development and INFO elsewhere
	Dir   string // empty disables the daily file
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type ClaimConfig struct {
	RedisURL string
	TTL      time.Duration
}

type ServiceType string

const (
	ServiceTypeRelay ServiceType = "relay"
)

// Error reports every missing or malformed key found while loading, so an
// operator can fix the environment in one pass.
type Error struct {
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required environment variables: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid environment variables: "+strings.Join(e.Invalid, "; "))
	}
	return strings.Join(parts, "; ")
}

// Load loads configuration from environment variables.
// In development, it loads from .env.relay, falling back to .env.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("RELAY_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	p := &parser{}

	cfg := Config{
		Env:  getEnv("RELAY_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		Telegram: TelegramConfig{
			APIID:         p.requiredInt("TELEGRAM_API_ID"),
			APIHash:       p.required("TELEGRAM_API_HASH"),
			Phone:         getEnv("TELEGRAM_PHONE_NUMBER", ""),
			SessionString: getEnv("SESSION_STRING", ""),
			SessionName:   getEnv("SESSION_NAME", "video_forwarder_session"),
			TwoFAPassword: getEnv("TELEGRAM_2FA_PASSWORD", ""),
		},
		Channels: ChannelsConfig{
			Source:      p.required("SOURCE_CHANNEL"),
			Destination: p.required("DEST_CHANNEL"),
		},
		Delivery: DeliveryConfig{
			MaxAttempts:                p.positiveInt("MAX_RETRIES", 3),
			BaseDelay:                  time.Duration(p.positiveInt("RETRY_DELAY", 5)) * time.Second,
			ServerWaitsConsumeAttempts: p.flag("SERVER_WAITS_CONSUME_ATTEMPTS", true),
			MaxServerWait:              p.duration("MAX_SERVER_WAIT", time.Hour),
			RequestTimeout:             p.duration("REQUEST_TIMEOUT", 30*time.Second),
			RatePerMinute:              p.optionalInt("FORWARD_RATE_PER_MINUTE", 0),
		},
		Dispatch: DispatchConfig{
			Concurrency:          p.positiveInt("DISPATCH_CONCURRENCY", 1),
			QueueSize:            p.positiveInt("QUEUE_SIZE", 256),
			VerifyPostPermission: p.flag("VERIFY_POST_PERMISSION", true),
		},
		Log: LogConfig{
			Level: strings.ToUpper(getEnv("LOG_LEVEL", "")),
			Dir:   getEnv("LOG_DIR", "logs"),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "video-relay"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Claim: ClaimConfig{
			RedisURL: getEnv("REDIS_URL", ""),
			TTL:      p.duration("CLAIM_TTL", 24*time.Hour),
		},
	}

	if cfg.Telegram.Phone == "" && cfg.Telegram.SessionString == "" {
		p.missing = append(p.missing, "TELEGRAM_PHONE_NUMBER or SESSION_STRING")
	}

	switch cfg.Log.Level {
	case "", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		p.invalid = append(p.invalid, fmt.Sprintf("LOG_LEVEL: unknown level %q", cfg.Log.Level))
	}

	if !cfg.Delivery.ServerWaitsConsumeAttempts && cfg.Delivery.MaxServerWait <= 0 {
		p.invalid = append(p.invalid, "MAX_SERVER_WAIT: must be positive when SERVER_WAITS_CONSUME_ATTEMPTS=false")
	}

	if len(p.missing) > 0 || len(p.invalid) > 0 {
		return Config{}, &Error{Missing: p.missing, Invalid: p.invalid}
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c ClaimConfig) Enabled() bool {
	return c.RedisURL != ""
}

func (c TelegramConfig) SessionFile() string {
	return c.SessionName + ".session"
}

type parser struct {
	missing []string
	invalid []string
}

func (p *parser) required(key string) string {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		p.missing = append(p.missing, key)
	}
	return value
}

func (p *parser) requiredInt(key string) int {
	value := p.required(key)
	if value == "" {
		return 0
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		p.invalid = append(p.invalid, fmt.Sprintf("%s: must be a numeric value", key))
		return 0
	}
	return i
}

func (p *parser) optionalInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil || i < 0 {
		p.invalid = append(p.invalid, fmt.Sprintf("%s: must be a non-negative integer", key))
		return fallback
	}
	return i
}

func (p *parser) positiveInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil || i < 1 {
		p.invalid = append(p.invalid, fmt.Sprintf("%s: must be a positive integer", key))
		return fallback
	}
	return i
}

func (p *parser) flag(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.invalid = append(p.invalid, fmt.Sprintf("%s: must be a boolean", key))
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		p.invalid = append(p.invalid, fmt.Sprintf("%s: must be a duration like 30s or 1h", key))
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
