package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// baseEnv sets the minimum environment for Load() to succeed without a bot token.
func baseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BOT_MODE", "off")
	t.Setenv("TIMEZONE", "UTC")
}

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	baseEnv(t)
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	baseEnv(t)
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}

// --- Load success + normalization + parsing ---

func TestLoad_Defaults(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIBasePath != "/api/v1" || cfg.AdminToken != "" {
		t.Fatalf("api defaults unexpected: %q %q", cfg.APIBasePath, cfg.AdminToken)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.Path != "app.db" {
		t.Fatalf("db defaults unexpected: %+v", cfg.DB)
	}
	if cfg.UserStore != "db" || cfg.RosterBackend != "db" {
		t.Fatalf("backend defaults unexpected: user=%q roster=%q", cfg.UserStore, cfg.RosterBackend)
	}
	if cfg.RosterRetries != 5 || cfg.RosterBackoff != 10*time.Second {
		t.Fatalf("roster retry defaults unexpected: %d %v", cfg.RosterRetries, cfg.RosterBackoff)
	}
	if cfg.Sheets.PromoTab != "Promocodes" || cfg.Sheets.PhoneColumn != 7 || cfg.Sheets.NameColumn != 1 {
		t.Fatalf("sheets defaults unexpected: %+v", cfg.Sheets)
	}
	if cfg.PromoValidity != 72*time.Hour || cfg.PromoQR {
		t.Fatalf("promo defaults unexpected: %v %v", cfg.PromoValidity, cfg.PromoQR)
	}
	if !cfg.ReminderEnabled || cfg.ReminderSchedule != "@every 1h" || cfg.ReminderCap != 3 {
		t.Fatalf("reminder defaults unexpected: %v %q %d", cfg.ReminderEnabled, cfg.ReminderSchedule, cfg.ReminderCap)
	}
	if cfg.AntispamInterval != 2*time.Second {
		t.Fatalf("antispam default unexpected: %v", cfg.AntispamInterval)
	}
	if cfg.Telegram.APIURL != "https://api.telegram.org" || cfg.Telegram.PollTimeout != 10*time.Second {
		t.Fatalf("telegram defaults unexpected: %+v", cfg.Telegram)
	}
	if cfg.Kafka.Brokers != nil || cfg.Kafka.Topic != "promo-bot.events" {
		t.Fatalf("kafka defaults unexpected: %+v", cfg.Kafka)
	}
	if cfg.OTEL.ServiceName != "go-promo-bot" {
		t.Fatalf("otel service name default unexpected: %q", cfg.OTEL.ServiceName)
	}
}

func TestLoad_Success_Overrides(t *testing.T) {
	// Server
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / API
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("API_BASE_PATH", "admin/") // -> "/admin"
	t.Setenv("ADMIN_TOKEN", "s3cret")

	// Persistence
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DB_DSN", "postgres://u:p@db/promo")
	t.Setenv("USER_STORE", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("ROSTER_BACKEND", "sheets")
	t.Setenv("GOOGLE_SPREADSHEET_ID", "sheet-123")
	t.Setenv("SHEETS_PHONE_COLUMN", "3")
	t.Setenv("ROSTER_RETRY_ATTEMPTS", "2")
	t.Setenv("ROSTER_RETRY_DELAY", "250ms")

	// Chat transport
	t.Setenv("BOT_MODE", "webhook")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_API_URL", "http://tg.local/")
	t.Setenv("TELEGRAM_WEBHOOK_SECRET", "hook")
	t.Setenv("ANTISPAM_INTERVAL", "500ms")

	// Promo / reminders
	t.Setenv("PROMO_VALIDITY", "1h")
	t.Setenv("PROMO_QR_ENABLED", "on")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("REMINDER_SCHEDULE", "@every 5m")
	t.Setenv("REMINDER_CAP", "5")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// Events
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.APIBasePath != "/admin" || cfg.AdminToken != "s3cret" {
		t.Fatalf("logging/api unexpected: %+v", cfg)
	}
	if cfg.DB.Driver != "postgres" || cfg.DB.DSN != "postgres://u:p@db/promo" {
		t.Fatalf("db unexpected: %+v", cfg.DB)
	}
	if cfg.UserStore != "redis" || cfg.Redis.Addr != "cache:6379" || cfg.Redis.DB != 2 {
		t.Fatalf("redis unexpected: %q %+v", cfg.UserStore, cfg.Redis)
	}
	if cfg.RosterBackend != "sheets" || cfg.Sheets.SpreadsheetID != "sheet-123" || cfg.Sheets.PhoneColumn != 3 {
		t.Fatalf("sheets unexpected: %q %+v", cfg.RosterBackend, cfg.Sheets)
	}
	if cfg.RosterRetries != 2 || cfg.RosterBackoff != 250*time.Millisecond {
		t.Fatalf("roster retry unexpected: %d %v", cfg.RosterRetries, cfg.RosterBackoff)
	}
	if cfg.Telegram.Mode != "webhook" || cfg.Telegram.APIURL != "http://tg.local" || cfg.Telegram.WebhookSecret != "hook" {
		t.Fatalf("telegram unexpected: %+v", cfg.Telegram)
	}
	if cfg.AntispamInterval != 500*time.Millisecond {
		t.Fatalf("antispam unexpected: %v", cfg.AntispamInterval)
	}
	if cfg.PromoValidity != time.Hour || !cfg.PromoQR || cfg.ReminderSchedule != "@every 5m" || cfg.ReminderCap != 5 {
		t.Fatalf("promo/reminder unexpected: %+v", cfg)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"k1:9092", "k2:9092"}) {
		t.Fatalf("kafka brokers unexpected: %#v", cfg.Kafka.Brokers)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes <= 0", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"empty DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"unknown DB_DRIVER", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"postgres without DSN", map[string]string{"DB_DRIVER": "postgres"}, "DB_DSN"},
		{"unknown USER_STORE", map[string]string{"USER_STORE": "mongo"}, "USER_STORE"},
		{"sheets without id", map[string]string{"ROSTER_BACKEND": "sheets"}, "GOOGLE_SPREADSHEET_ID"},
		{"sheets bad column", map[string]string{"ROSTER_BACKEND": "sheets", "GOOGLE_SPREADSHEET_ID": "x", "SHEETS_PHONE_COLUMN": "0"}, "SHEETS_PHONE_COLUMN"},
		{"unknown ROSTER_BACKEND", map[string]string{"ROSTER_BACKEND": "csv"}, "ROSTER_BACKEND"},
		{"retries < 1", map[string]string{"ROSTER_RETRY_ATTEMPTS": "0"}, "ROSTER_RETRY_ATTEMPTS"},
		{"polling without token", map[string]string{"BOT_MODE": "polling"}, "TELEGRAM_BOT_TOKEN"},
		{"unknown BOT_MODE", map[string]string{"BOT_MODE": "sms"}, "BOT_MODE"},
		{"dedup ttl non-positive", map[string]string{"UPDATE_DEDUP_TTL": "0s"}, "UPDATE_DEDUP_TTL"},
		{"promo validity non-positive", map[string]string{"PROMO_VALIDITY": "0s"}, "PROMO_VALIDITY"},
		{"bad timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}, "TIMEZONE"},
		{"negative reminder cap", map[string]string{"REMINDER_CAP": "-1"}, "REMINDER_CAP"},
		{"zero reminder cap", map[string]string{"REMINDER_CAP": "0"}, "REMINDER_CAP"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"otel sample ratio out of range", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			baseEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

func TestConfig_Location(t *testing.T) {
	if loc := (Config{Timezone: "UTC"}).Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	loc := (Config{Timezone: "Not/AZone"}).Location()
	_, off := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	if off != 3*60*60 {
		t.Fatalf("fallback zone offset = %d; want +3h", off)
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"} {
		t.Setenv("B_T", v)
		if !getbool("B_T", false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	for _, v := range []string{"0", "false", "FALSE", " no ", "N", "off", "Off"} {
		t.Setenv("B_F", v)
		if getbool("B_F", true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV mismatch: got %#v", got)
	}

	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

// Ensure ambient env from the host does not leak into defaults.
func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "TELEGRAM_BOT_TOKEN", "DB_DRIVER", "USER_STORE", "ROSTER_BACKEND", "KAFKA_BROKERS"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
