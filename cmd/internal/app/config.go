package app

import (
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by KONNECT_STORE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
)

// DefaultAccountID is the business phone number used as the sender of outbound messages.
const DefaultAccountID = "918329446654"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// StoreDriver selects the message store backend; StoreDSN is its connection string.
	StoreDriver string
	StoreDSN    string
	DBMaxConns  int32
	DBMinConns  int32
	AutoMigrate bool
	PGSchema    string
	RedisPrefix string

	// AccountID is the local business account; messages from it are flagged isSent.
	AccountID string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true:
	// - /readyz returns 503 unless a persistent store is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
// A .env file in the working directory is applied first; real environment variables win.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:  EnvString("KONNECT_HTTP_ADDR", "0.0.0.0:5000"),
		LogLevel:  EnvString("KONNECT_LOG_LEVEL", "info"),
		LogFormat: EnvString("KONNECT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("KONNECT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("KONNECT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("KONNECT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("KONNECT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("KONNECT_HTTP_MAX_HEADER_BYTES", 1<<20),

		StoreDriver: EnvString("KONNECT_STORE_DRIVER", DriverMemory),
		StoreDSN:    EnvString("KONNECT_STORE_DSN", ""),
		DBMaxConns:  EnvInt32("KONNECT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("KONNECT_DB_MIN_CONNS", 0),
		AutoMigrate: EnvBool("KONNECT_DB_AUTO_MIGRATE", true),
		PGSchema:    EnvString("KONNECT_PG_SCHEMA", "public"),
		RedisPrefix: EnvString("KONNECT_REDIS_PREFIX", "konnect"),

		AccountID: EnvString("KONNECT_ACCOUNT_ID", DefaultAccountID),

		CORSAllowedOrigins:   EnvCSV("KONNECT_CORS_ORIGINS", []string{"http://localhost:3000", "http://127.0.0.1:3000"}),
		CORSAllowCredentials: EnvBool("KONNECT_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("KONNECT_CORS_MAX_AGE", 600),

		ReadinessRequireDB: EnvBool("KONNECT_READINESS_REQUIRE_DB", false),
	}
}
