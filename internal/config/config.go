// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, WhatsApp credentials,
// agent/model access, media storage, scheduling, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// WhatsAppConfig defines the credentials and identifiers used to talk to the
// WhatsApp Cloud API and to authenticate inbound webhooks.
type WhatsAppConfig struct {
	VerifyToken  string // WHATSAPP_VERIFY_TOKEN: webhook subscribe handshake token
	AccessToken  string // WHATSAPP_ACCESS_TOKEN: bearer token for outbound calls
	SenderID     string // WHATSAPP_SENDER_ID: phone-number id used to send messages
	AppSecret    string // WHATSAPP_APP_SECRET: HMAC secret for X-Hub-Signature-256
	BaseURL      string // WHATSAPP_BASE_URL: Graph API base (override for tests)
	SenderNumber string // WHATSAPP_SENDER_NUMBER: display phone number (informational)
}

// AgentConfig defines access to the conversation model backing replies.
type AgentConfig struct {
	APIKey  string // OPENAI_API_KEY
	BaseURL string // OPENAI_BASE_URL (override for proxies/tests)
	Model   string // AGENT_MODEL (e.g. "gpt-4o-mini")
}

// BlobConfig defines the S3-compatible object store holding inbound media.
type BlobConfig struct {
	Endpoint   string // BLOB_ENDPOINT (host:port)
	AccessKey  string // BLOB_ACCESS_KEY
	SecretKey  string // BLOB_SECRET_KEY
	Bucket     string // BLOB_BUCKET
	UseSSL     bool   // BLOB_USE_SSL
	PublicHost string // BLOB_PUBLIC_HOST: optional host rewrite for presigned URLs
}

// SchedulerConfig defines the polling job executor settings.
type SchedulerConfig struct {
	PollInterval time.Duration // CRON_POLL_INTERVAL: delay between poll ticks
	JobTimeout   time.Duration // CRON_JOB_TIMEOUT: per-job execution budget
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-wa-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath       string // SQLite path
	HistoryLimit int    // max turns replayed to the agent per conversation
	APIBasePath  string // base path for the operator API

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Collaborators
	WhatsApp  WhatsAppConfig
	Agent     AgentConfig
	Blob      BlobConfig
	Scheduler SchedulerConfig

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
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath:       getenv("DB_PATH", "wa.db"),
		HistoryLimit: getint("HISTORY_LIMIT", 10),
		APIBasePath:  normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		WhatsApp: WhatsAppConfig{
			VerifyToken:  getenv("WHATSAPP_VERIFY_TOKEN", ""),
			AccessToken:  getenv("WHATSAPP_ACCESS_TOKEN", ""),
			SenderID:     getenv("WHATSAPP_SENDER_ID", ""),
			AppSecret:    getenv("WHATSAPP_APP_SECRET", ""),
			BaseURL:      getenv("WHATSAPP_BASE_URL", "https://graph.facebook.com/v22.0"),
			SenderNumber: getenv("WHATSAPP_SENDER_NUMBER", ""),
		},

		Agent: AgentConfig{
			APIKey:  getenv("OPENAI_API_KEY", ""),
			BaseURL: getenv("OPENAI_BASE_URL", "https://api.openai.com"),
			Model:   getenv("AGENT_MODEL", "gpt-4o-mini"),
		},

		Blob: BlobConfig{
			Endpoint:   getenv("BLOB_ENDPOINT", "localhost:9000"),
			AccessKey:  getenv("BLOB_ACCESS_KEY", ""),
			SecretKey:  getenv("BLOB_SECRET_KEY", ""),
			Bucket:     getenv("BLOB_BUCKET", "wa-media"),
			UseSSL:     getbool("BLOB_USE_SSL", false),
			PublicHost: getenv("BLOB_PUBLIC_HOST", ""),
		},

		Scheduler: SchedulerConfig{
			PollInterval: getdur("CRON_POLL_INTERVAL", time.Minute),
			JobTimeout:   getdur("CRON_JOB_TIMEOUT", 2*time.Minute),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-wa-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
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
	if cfg.HistoryLimit < 1 {
		return cfg, errors.New("HISTORY_LIMIT must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Scheduler.PollInterval <= 0 {
		return cfg, errors.New("CRON_POLL_INTERVAL must be > 0")
	}
	if cfg.Scheduler.JobTimeout <= 0 {
		return cfg, errors.New("CRON_JOB_TIMEOUT must be > 0")
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

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
