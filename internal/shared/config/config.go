package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingSetting marks a configuration error that must stop the process.
var ErrMissingSetting = errors.New("missing required setting")

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	DatabaseURL     string
	RedisURL        string
	JWTSecret       string

	PhraseBufferSize    int
	PhraseFlushInterval time.Duration
	PhraseTopN          int
	PhraseSnapshotTTL   time.Duration
	PhraseQueueURL      string
	AWSRegion           string

	StatsCacheTTL      time.Duration
	StatsDashboardTTL  time.Duration
	StatsRecomputeCron string

	RemoteTimeout     time.Duration
	BackgroundTimeout time.Duration

	UsernameFallback bool

	SubmitRateLimit  RateLimit
	ClaimRateLimit   RateLimit
	RefreshRateLimit RateLimit
}

// RateLimit is a token bucket rule; zero values disable limiting.
type RateLimit struct {
	Rate  float64
	Burst int
}

// Load reads configuration from environment variables with sensible defaults.
// A returned error is a configuration error and is never worth retrying.
func Load() (Config, error) {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	cfg := Config{
		Port:            getEnv("PORT", "8080"),
		Env:             normalizeEnv(getEnv("ENV", "dev")),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		JWTSecret:       strings.TrimSpace(os.Getenv("JWT_SECRET")),

		PhraseBufferSize:    getInt("PHRASE_BUFFER_SIZE", 50),
		PhraseFlushInterval: getDuration("PHRASE_FLUSH_INTERVAL", 30*time.Second),
		PhraseTopN:          getInt("PHRASE_TOP_N", 20),
		PhraseSnapshotTTL:   getDuration("PHRASE_SNAPSHOT_TTL", 10*time.Minute),
		PhraseQueueURL:      strings.TrimSpace(os.Getenv("PHRASE_SQS_QUEUE_URL")),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),

		StatsCacheTTL:      getDuration("STATS_CACHE_TTL", time.Hour),
		StatsDashboardTTL:  getDuration("STATS_DASHBOARD_TTL", time.Minute),
		StatsRecomputeCron: getEnv("STATS_RECOMPUTE_CRON", "@every 1h"),

		RemoteTimeout:     getDuration("REMOTE_TIMEOUT", 3*time.Second),
		BackgroundTimeout: getDuration("BACKGROUND_TIMEOUT", 15*time.Second),

		UsernameFallback: getBool("IDENTITY_USERNAME_FALLBACK", true),

		SubmitRateLimit: RateLimit{
			Rate:  getFloat("RATE_LIMIT_SUBMIT_RPS", 2),
			Burst: getInt("RATE_LIMIT_SUBMIT_BURST", 10),
		},
		ClaimRateLimit: RateLimit{
			Rate:  getFloat("RATE_LIMIT_CLAIM_RPS", 0.5),
			Burst: getInt("RATE_LIMIT_CLAIM_BURST", 5),
		},
		RefreshRateLimit: RateLimit{
			Rate:  getFloat("RATE_LIMIT_REFRESH_RPS", 0.05),
			Burst: getInt("RATE_LIMIT_REFRESH_BURST", 2),
		},
	}

	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			return cfg, missingSetting("DATABASE_URL")
		}
		if cfg.JWTSecret == "" {
			return cfg, missingSetting("JWT_SECRET")
		}
	}
	if cfg.JWTSecret == "" {
		if !cfg.IsDevLike() {
			return cfg, missingSetting("JWT_SECRET")
		}
		cfg.JWTSecret = "dev-secret"
	}
	return cfg, nil
}

// IsDevLike reports whether in-memory fallbacks are acceptable.
func (c Config) IsDevLike() bool {
	switch c.Env {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func missingSetting(key string) error {
	return &settingError{key: key}
}

type settingError struct {
	key string
}

func (e *settingError) Error() string {
	return e.key + " is required outside dev"
}

func (e *settingError) Unwrap() error { return ErrMissingSetting }

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		log.Printf("config: %s invalid int %q, using %d", key, raw, def)
		return def
	}
	return val
}

func getFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil || val < 0 {
		log.Printf("config: %s invalid float %q, using %v", key, raw, def)
		return def
	}
	return val
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		log.Printf("config: %s invalid duration %q, using %s", key, raw, def)
		return def
	}
	return val
}

func getBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}
