package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// Marketplace API.
	APIBaseURL string
	APIToken   string

	// Current user identity. Messaging is disabled when UserID is empty.
	UserID          string
	UserDisplayName string
	UserEmail       string

	// Booking whose conversation this runtime tails.
	BookingID string

	PollInterval time.Duration

	CacheMaxAge     time.Duration
	CacheMaxEntries int
	CacheMaxBytes   int

	// Durable cache tier selection: Postgres wins over Redis; neither
	// configured means memory-only.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	RedisURL    string

	// Cadence of the API reachability probe feeding the online signal.
	OnlineProbeInterval time.Duration

	// If true, /readyz returns 503 unless a durable backend is
	// configured and reachable.
	ReadinessRequireBackend bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("SKIFF_HTTP_ADDR", "127.0.0.1:9090"),
		LogLevel: EnvString("SKIFF_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("SKIFF_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("SKIFF_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("SKIFF_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("SKIFF_HTTP_IDLE_TIMEOUT", 60*time.Second),

		APIBaseURL: EnvString("SKIFF_API_BASE_URL", "http://localhost:8080"),
		APIToken:   EnvString("SKIFF_API_TOKEN", ""),

		UserID:          EnvString("SKIFF_USER_ID", ""),
		UserDisplayName: EnvString("SKIFF_USER_DISPLAY_NAME", ""),
		UserEmail:       EnvString("SKIFF_USER_EMAIL", ""),

		BookingID: EnvString("SKIFF_BOOKING_ID", ""),

		PollInterval: EnvDuration("SKIFF_POLL_INTERVAL", 5*time.Second),

		CacheMaxAge:     EnvDuration("SKIFF_CACHE_MAX_AGE", 5*time.Minute),
		CacheMaxEntries: EnvInt("SKIFF_CACHE_MAX_ENTRIES", 64),
		CacheMaxBytes:   EnvInt("SKIFF_CACHE_MAX_BYTES", 1<<20),

		DatabaseURL: EnvString("SKIFF_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("SKIFF_DB_MAX_CONNS", 5),
		DBMinConns:  EnvInt32("SKIFF_DB_MIN_CONNS", 0),
		RedisURL:    EnvString("SKIFF_REDIS_URL", ""),

		OnlineProbeInterval: EnvDuration("SKIFF_ONLINE_PROBE_INTERVAL", 30*time.Second),

		ReadinessRequireBackend: EnvBool("SKIFF_READINESS_REQUIRE_BACKEND", false),
	}
}
