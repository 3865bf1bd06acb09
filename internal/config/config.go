// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, database paths, rate limiting, observability, and the Zoho CRM
// integration credentials and relay tuning knobs.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-crm-relay")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ZohoConfig holds the OAuth client credentials and endpoint bases for the
// Zoho CRM integration. All four values come from the initial OAuth client
// registration; the refresh token itself lives in the database, not here.
type ZohoConfig struct {
	ClientID        string        // ZOHO_CLIENT_ID
	ClientSecret    string        // ZOHO_CLIENT_SECRET
	AccountsBaseURL string        // ZOHO_ACCOUNTS_URL (e.g. "https://accounts.zoho.com")
	APIDomain       string        // ZOHO_API_DOMAIN   (e.g. "https://www.zohoapis.com")
	HTTPTimeout     time.Duration // ZOHO_HTTP_TIMEOUT, bound on every outbound call
}

// RequiredVars enumerates the environment variables the integration cannot
// run without, mapped to whether each is currently present. Values are never
// included; the map is safe to expose in health snapshots.
func (z ZohoConfig) RequiredVars() map[string]bool {
	return map[string]bool{
		"ZOHO_CLIENT_ID":     z.ClientID != "",
		"ZOHO_CLIENT_SECRET": z.ClientSecret != "",
		"ZOHO_ACCOUNTS_URL":  z.AccountsBaseURL != "",
		"ZOHO_API_DOMAIN":    z.APIDomain != "",
	}
}

// Complete reports whether every required credential is present. The token
// service fails closed, without any network call, when this is false.
func (z ZohoConfig) Complete() bool {
	for _, ok := range z.RequiredVars() {
		if !ok {
			return false
		}
	}
	return true
}

// RelayConfig tunes the lead relay retry loop.
type RelayConfig struct {
	MaxAttempts int           // RELAY_MAX_ATTEMPTS, total attempts per invocation
	BaseBackoff time.Duration // RELAY_BASE_BACKOFF, doubled between attempts
}

// BatchConfig tunes the background batch scheduler.
type BatchConfig struct {
	Enabled  bool          // BATCH_ENABLED
	Interval time.Duration // BATCH_INTERVAL between runs
	Limit    int           // BATCH_LIMIT leads drained per run, in [1,100]
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
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath string // SQLite path

	// Integration
	Zoho  ZohoConfig
	Relay RelayConfig
	Batch BatchConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

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
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "app.db"),

		// Integration
		Zoho: ZohoConfig{
			ClientID:        getenv("ZOHO_CLIENT_ID", ""),
			ClientSecret:    getenv("ZOHO_CLIENT_SECRET", ""),
			AccountsBaseURL: strings.TrimSuffix(getenv("ZOHO_ACCOUNTS_URL", ""), "/"),
			APIDomain:       strings.TrimSuffix(getenv("ZOHO_API_DOMAIN", ""), "/"),
			HTTPTimeout:     getdur("ZOHO_HTTP_TIMEOUT", 30*time.Second),
		},
		Relay: RelayConfig{
			MaxAttempts: getint("RELAY_MAX_ATTEMPTS", 3),
			BaseBackoff: getdur("RELAY_BASE_BACKOFF", time.Second),
		},
		Batch: BatchConfig{
			Enabled:  getbool("BATCH_ENABLED", true),
			Interval: getdur("BATCH_INTERVAL", 5*time.Minute),
			Limit:    getint("BATCH_LIMIT", 25),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-crm-relay"),
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
	if cfg.Zoho.HTTPTimeout <= 0 {
		return cfg, errors.New("ZOHO_HTTP_TIMEOUT must be > 0")
	}
	if cfg.Relay.MaxAttempts < 1 {
		return cfg, errors.New("RELAY_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Relay.BaseBackoff <= 0 {
		return cfg, errors.New("RELAY_BASE_BACKOFF must be > 0")
	}
	if cfg.Batch.Limit < 1 || cfg.Batch.Limit > 100 {
		return cfg, errors.New("BATCH_LIMIT must be in [1,100]")
	}
	if cfg.Batch.Interval <= 0 {
		return cfg, errors.New("BATCH_INTERVAL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
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
		if p == "" {
			p = "/"
		}
	}
	return p
}
