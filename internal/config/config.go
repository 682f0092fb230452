// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP surface, logging, persistence backends, the Telegram transport, the
// promo engine, the reminder scheduler and observability.
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-promo-bot")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the SQL backend used by the GORM stores.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	DSN    string // Postgres DSN
}

// TelegramConfig configures the Bot API transport.
type TelegramConfig struct {
	Mode          string        // polling|webhook|off
	Token         string        // TELEGRAM_BOT_TOKEN
	APIURL        string        // base Bot API URL, without the /bot<token> suffix
	PollTimeout   time.Duration // long-poll timeout passed to getUpdates
	WebhookURL    string        // public URL registered with setWebhook
	WebhookSecret string        // X-Telegram-Bot-Api-Secret-Token value
}

// SheetsConfig configures the Google Sheets roster backend.
type SheetsConfig struct {
	SpreadsheetID   string
	CredentialsFile string
	MembersTab      string
	PromoTab        string
	PhoneColumn     int // 1-based
	NameColumn      int // 1-based
}

// RedisConfig configures the Redis user store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig configures the optional domain event stream.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	ClientID    string
	Partitions  int32
	Replication int16
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

	// Logging / API
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for admin API routes
	AdminToken  string // bearer token for the admin API; empty disables it

	// Persistence
	DB            DBConfig
	UserStore     string // db|redis
	Redis         RedisConfig
	RosterBackend string // db|sheets
	Sheets        SheetsConfig
	RosterRetries int           // attempts for transient roster failures
	RosterBackoff time.Duration // fixed delay between attempts

	// Chat transport
	Telegram         TelegramConfig
	AntispamInterval time.Duration // minimum gap between requests per sender
	UpdateDedupTTL   time.Duration // how long a processed update_id is remembered

	// Promo engine
	PromoValidity time.Duration
	PromoQR       bool
	Timezone      string // IANA zone used for displayed and stored dates

	// Reminders
	ReminderEnabled  bool
	ReminderSchedule string // robfig/cron spec, e.g. "@every 1h"
	ReminderCap      int    // lifetime notifications per user

	// Supervision of long-lived loops
	SupervisorMaxRestarts int
	SupervisorBackoff     time.Duration

	// Rate limiting (admin API)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Events
	Kafka KafkaConfig

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

		// Logging / API
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		AdminToken:  getenv("ADMIN_TOKEN", ""),

		// Persistence
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "app.db"),
			DSN:    getenv("DB_DSN", ""),
		},
		UserStore: strings.ToLower(getenv("USER_STORE", "db")),
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},
		RosterBackend: strings.ToLower(getenv("ROSTER_BACKEND", "db")),
		Sheets: SheetsConfig{
			SpreadsheetID:   getenv("GOOGLE_SPREADSHEET_ID", ""),
			CredentialsFile: getenv("GOOGLE_CREDENTIALS_FILE", "./config/google-service-account-key.json"),
			MembersTab:      getenv("SHEETS_MEMBERS_TAB", "Sheet1"),
			PromoTab:        getenv("SHEETS_PROMO_TAB", "Promocodes"),
			PhoneColumn:     getint("SHEETS_PHONE_COLUMN", 7),
			NameColumn:      getint("SHEETS_NAME_COLUMN", 1),
		},
		RosterRetries: getint("ROSTER_RETRY_ATTEMPTS", 5),
		RosterBackoff: getdur("ROSTER_RETRY_DELAY", 10*time.Second),

		// Chat transport
		Telegram: TelegramConfig{
			Mode:          strings.ToLower(getenv("BOT_MODE", "polling")),
			Token:         getenv("TELEGRAM_BOT_TOKEN", ""),
			APIURL:        strings.TrimRight(getenv("TELEGRAM_API_URL", "https://api.telegram.org"), "/"),
			PollTimeout:   getdur("TELEGRAM_POLL_TIMEOUT", 10*time.Second),
			WebhookURL:    getenv("TELEGRAM_WEBHOOK_URL", ""),
			WebhookSecret: getenv("TELEGRAM_WEBHOOK_SECRET", ""),
		},
		AntispamInterval: getdur("ANTISPAM_INTERVAL", 2*time.Second),
		UpdateDedupTTL:   getdur("UPDATE_DEDUP_TTL", 24*time.Hour),

		// Promo engine
		PromoValidity: getdur("PROMO_VALIDITY", 72*time.Hour),
		PromoQR:       getbool("PROMO_QR_ENABLED", false),
		Timezone:      getenv("TIMEZONE", "Europe/Moscow"),

		// Reminders
		ReminderEnabled:  getbool("REMINDER_ENABLED", true),
		ReminderSchedule: getenv("REMINDER_SCHEDULE", "@every 1h"),
		ReminderCap:      getint("REMINDER_CAP", 3),

		// Supervision
		SupervisorMaxRestarts: getint("SUPERVISOR_MAX_RESTARTS", 10),
		SupervisorBackoff:     getdur("SUPERVISOR_BACKOFF", time.Second),

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

		// Events
		Kafka: KafkaConfig{
			Brokers:     splitCSV(getenv("KAFKA_BROKERS", "")),
			Topic:       getenv("KAFKA_TOPIC", "promo-bot.events"),
			ClientID:    getenv("KAFKA_CLIENT_ID", "go-promo-bot"),
			Partitions:  int32(getint("KAFKA_TOPIC_PARTITIONS", 3)),
			Replication: int16(getint("KAFKA_TOPIC_REPLICATION", 1)),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-promo-bot"),
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

	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.DSN) == "" {
			return cfg, errors.New("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	switch cfg.UserStore {
	case "db":
	case "redis":
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return cfg, errors.New("REDIS_ADDR is required when USER_STORE=redis")
		}
	default:
		return cfg, errors.New("USER_STORE must be one of: db, redis")
	}
	switch cfg.RosterBackend {
	case "db":
	case "sheets":
		if strings.TrimSpace(cfg.Sheets.SpreadsheetID) == "" {
			return cfg, errors.New("GOOGLE_SPREADSHEET_ID is required when ROSTER_BACKEND=sheets")
		}
		if cfg.Sheets.PhoneColumn < 1 || cfg.Sheets.NameColumn < 1 {
			return cfg, errors.New("SHEETS_PHONE_COLUMN and SHEETS_NAME_COLUMN must be >= 1")
		}
	default:
		return cfg, errors.New("ROSTER_BACKEND must be one of: db, sheets")
	}
	if cfg.RosterRetries < 1 {
		return cfg, errors.New("ROSTER_RETRY_ATTEMPTS must be >= 1")
	}
	if cfg.RosterBackoff < 0 {
		return cfg, errors.New("ROSTER_RETRY_DELAY must be >= 0")
	}

	switch cfg.Telegram.Mode {
	case "polling", "webhook":
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return cfg, errors.New("TELEGRAM_BOT_TOKEN is required unless BOT_MODE=off")
		}
	case "off":
	default:
		return cfg, errors.New("BOT_MODE must be one of: polling, webhook, off")
	}
	if cfg.Telegram.PollTimeout < 0 {
		return cfg, errors.New("TELEGRAM_POLL_TIMEOUT must be >= 0")
	}
	if cfg.AntispamInterval < 0 {
		return cfg, errors.New("ANTISPAM_INTERVAL must be >= 0")
	}
	if cfg.UpdateDedupTTL <= 0 {
		return cfg, errors.New("UPDATE_DEDUP_TTL must be > 0")
	}

	if cfg.PromoValidity <= 0 {
		return cfg, errors.New("PROMO_VALIDITY must be > 0")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return cfg, errors.New("TIMEZONE must be a valid IANA zone name")
	}
	if cfg.ReminderEnabled && strings.TrimSpace(cfg.ReminderSchedule) == "" {
		return cfg, errors.New("REMINDER_SCHEDULE must not be empty")
	}
	if cfg.ReminderCap < 1 {
		return cfg, errors.New("REMINDER_CAP must be >= 1")
	}
	if cfg.SupervisorMaxRestarts < 0 {
		return cfg, errors.New("SUPERVISOR_MAX_RESTARTS must be >= 0")
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
	if len(cfg.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Kafka.Topic) == "" {
		return cfg, errors.New("KAFKA_TOPIC must not be empty when KAFKA_BROKERS is set")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// Location resolves the configured Timezone, falling back to a fixed UTC+3
// zone when the tz database is unavailable in the runtime image.
func (c Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.FixedZone("MSK", 3*60*60)
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
	}
	return p
}
