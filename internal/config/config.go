// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as the ops listener, logging, database path, platform credentials,
// generation models, discovery knobs, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// BlueskyConfig defines the platform connection and its client-side rate
// limit.
type BlueskyConfig struct {
	Host      string  // BLUESKY_HOST (PDS base URL)
	Handle    string  // BLUESKY_HANDLE (login identifier)
	Password  string  // BLUESKY_APP_PASSWORD (app password, not the account password)
	RateRPS   float64 // BLUESKY_RATE_RPS (requests per second, >= 0)
	RateBurst int     // BLUESKY_RATE_BURST (bucket size, >= 1)
}

// GenAIConfig defines the OpenAI-compatible generation endpoint.
type GenAIConfig struct {
	APIKey     string // OPENAI_API_KEY
	BaseURL    string // OPENAI_BASE_URL
	ChatModel  string // OPENAI_CHAT_MODEL
	EmbedModel string // OPENAI_EMBED_MODEL
}

// ProfileConfig seeds the owner's engagement profile on first boot.
type ProfileConfig struct {
	Name       string   // PROFILE_NAME
	Voice      string   // PROFILE_VOICE
	Principles string   // PROFILE_PRINCIPLES
	Interests  string   // PROFILE_INTERESTS
	Keywords   []string // PROFILE_KEYWORDS (comma separated)
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-engage-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Ops listener (/healthz, /metrics)
	OpsPort           string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Storage
	DBPath    string // SQLite path
	ChromaURL string // Chroma base URL

	// External services
	Bluesky BlueskyConfig
	GenAI   GenAIConfig

	// Discovery
	Threshold        float64       // minimum total score [0,100]
	FetchLimit       int           // max posts per discovery run (>= 1)
	Lookback         time.Duration // window for a schedule's first run
	OpportunityTTL   time.Duration // pending lifetime before expiry
	RepliesCron      string        // cron expression for the replies schedule
	SearchCron       string        // cron expression for the search schedule
	DispatchInterval time.Duration // how often due schedules are checked

	// Lifecycle
	DismissedRetention time.Duration // how long dismissed rows are kept
	CleanupInterval    time.Duration // how often the cleanup cycle runs

	// Knowledge
	TopK         int    // retrieved chunks per draft (>= 1)
	MaxChunks    int    // chunk cap per indexed document (0 = no cap)
	KnowledgeDir string // directory of owner documents indexed at boot ("" = skip)

	// Owner seed
	Profile ProfileConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Ops listener
		OpsPort:           getenv("OPS_PORT", "9090"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Storage
		DBPath:    getenv("DB_PATH", "engage.db"),
		ChromaURL: getenv("CHROMA_URL", "http://localhost:8000"),

		// External services
		Bluesky: BlueskyConfig{
			Host:      getenv("BLUESKY_HOST", "https://bsky.social"),
			Handle:    getenv("BLUESKY_HANDLE", ""),
			Password:  getenv("BLUESKY_APP_PASSWORD", ""),
			RateRPS:   getfloat("BLUESKY_RATE_RPS", 5.0),
			RateBurst: getint("BLUESKY_RATE_BURST", 10),
		},
		GenAI: GenAIConfig{
			APIKey:     getenv("OPENAI_API_KEY", ""),
			BaseURL:    getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			ChatModel:  getenv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			EmbedModel: getenv("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		},

		// Discovery
		Threshold:        getfloat("SCORE_THRESHOLD", 30),
		FetchLimit:       getint("FETCH_LIMIT", 50),
		Lookback:         getdur("LOOKBACK", 24*time.Hour),
		OpportunityTTL:   getdur("OPPORTUNITY_TTL", 48*time.Hour),
		RepliesCron:      getenv("REPLIES_CRON", "*/15 * * * *"),
		SearchCron:       getenv("SEARCH_CRON", "*/30 * * * *"),
		DispatchInterval: getdur("DISPATCH_INTERVAL", time.Minute),

		// Lifecycle
		DismissedRetention: getdur("DISMISSED_RETENTION", 5*time.Minute),
		CleanupInterval:    getdur("CLEANUP_INTERVAL", 5*time.Minute),

		// Knowledge
		TopK:         getint("KNOWLEDGE_TOP_K", 5),
		MaxChunks:    getint("KNOWLEDGE_MAX_CHUNKS", 0),
		KnowledgeDir: getenv("KNOWLEDGE_DIR", ""),

		// Owner seed
		Profile: ProfileConfig{
			Name:       getenv("PROFILE_NAME", "Owner"),
			Voice:      getenv("PROFILE_VOICE", ""),
			Principles: getenv("PROFILE_PRINCIPLES", ""),
			Interests:  getenv("PROFILE_INTERESTS", ""),
			Keywords:   splitCSV(getenv("PROFILE_KEYWORDS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-engage-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.OpsPort) == "" {
		return cfg, errors.New("OPS_PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.ChromaURL) == "" {
		return cfg, errors.New("CHROMA_URL must not be empty")
	}
	if strings.TrimSpace(cfg.Bluesky.Host) == "" {
		return cfg, errors.New("BLUESKY_HOST must not be empty")
	}
	if strings.TrimSpace(cfg.Bluesky.Handle) == "" {
		return cfg, errors.New("BLUESKY_HANDLE must not be empty")
	}
	if strings.TrimSpace(cfg.Bluesky.Password) == "" {
		return cfg, errors.New("BLUESKY_APP_PASSWORD must not be empty")
	}
	if cfg.Bluesky.RateRPS < 0 {
		return cfg, errors.New("BLUESKY_RATE_RPS must be >= 0")
	}
	if cfg.Bluesky.RateBurst < 1 {
		return cfg, errors.New("BLUESKY_RATE_BURST must be >= 1")
	}
	if strings.TrimSpace(cfg.GenAI.APIKey) == "" {
		return cfg, errors.New("OPENAI_API_KEY must not be empty")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 100 {
		return cfg, errors.New("SCORE_THRESHOLD must be between 0 and 100")
	}
	if cfg.FetchLimit < 1 {
		return cfg, errors.New("FETCH_LIMIT must be >= 1")
	}
	if cfg.Lookback <= 0 || cfg.OpportunityTTL <= 0 {
		return cfg, errors.New("LOOKBACK and OPPORTUNITY_TTL must be > 0")
	}
	if cfg.DismissedRetention <= 0 {
		return cfg, errors.New("DISMISSED_RETENTION must be > 0")
	}
	if cfg.CleanupInterval <= 0 || cfg.DispatchInterval <= 0 {
		return cfg, errors.New("CLEANUP_INTERVAL and DISPATCH_INTERVAL must be > 0")
	}
	if cfg.TopK < 1 {
		return cfg, errors.New("KNOWLEDGE_TOP_K must be >= 1")
	}
	if cfg.MaxChunks < 0 {
		return cfg, errors.New("KNOWLEDGE_MAX_CHUNKS must be >= 0")
	}
	if _, err := cron.ParseStandard(cfg.RepliesCron); err != nil {
		return cfg, fmt.Errorf("REPLIES_CRON is not a valid cron expression: %w", err)
	}
	if _, err := cron.ParseStandard(cfg.SearchCron); err != nil {
		return cfg, fmt.Errorf("SEARCH_CRON is not a valid cron expression: %w", err)
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
