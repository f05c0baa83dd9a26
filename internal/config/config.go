package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Identity modes
const (
	IdentityModeSupabase = "supabase"
	IdentityModeLocal    = "local"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	// HTTP Server Configuration
	Server ServerConfig

	// Database Configuration
	Database DatabaseConfig

	// Redis Configuration
	Redis RedisConfig

	// Logging Configuration
	Logging LoggingConfig

	// Identity provider Configuration
	Identity IdentityConfig

	// Object storage Configuration
	Storage StorageConfig

	// Marketplace rules and background jobs
	Marketplace MarketplaceConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port               string
	AllowedOrigins     []string
	AuthRateLimitRPS   float64 // Requests per second per client IP on /api/auth
	AuthRateLimitBurst int
	PolicyFile         string // Optional override of the embedded authorization policy
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string // sqlite, postgres
	URL    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address string // Redis address (host:port)
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// IdentityConfig selects and configures the identity provider
type IdentityConfig struct {
	Mode        string // supabase, local
	SupabaseURL string
	AnonKey     string
	Timeout     time.Duration // Upper bound for a single provider call
	CookieName  string

	// Local mode only
	JWTSecret string
	TokenTTL  time.Duration
}

// StorageConfig holds Supabase Storage configuration
type StorageConfig struct {
	ServiceRoleKey string
	Bucket         string
	MaxUploadBytes int64
}

// MarketplaceConfig holds business rule tunables
type MarketplaceConfig struct {
	OfferTTL            time.Duration
	OfferExpirySchedule string // Cron expression
	BookingReminderLead time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	var errs []string
	duration := func(key string, fallback time.Duration) time.Duration {
		value := os.Getenv(key)
		if value == "" {
			return fallback
		}
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", key, value))
			return fallback
		}
		return parsed
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			AllowedOrigins:     splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
			AuthRateLimitRPS:   getFloat("AUTH_RATE_LIMIT_RPS", 2),
			AuthRateLimitBurst: int(getInt("AUTH_RATE_LIMIT_BURST", 10)),
			PolicyFile:         os.Getenv("POLICY_FILE"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DATABASE_DRIVER", DriverSQLite)),
			URL:    getEnv("DATABASE_URL", "fixmart.sqlite"),
		},
		Redis: RedisConfig{
			Address: getEnv("REDIS_ADDRESS", "localhost:6379"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Identity: IdentityConfig{
			Mode:        strings.ToLower(getEnv("IDENTITY_MODE", IdentityModeSupabase)),
			SupabaseURL: strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
			AnonKey:     os.Getenv("SUPABASE_ANON_KEY"),
			Timeout:     duration("IDENTITY_TIMEOUT", 5*time.Second),
			CookieName:  getEnv("IDENTITY_COOKIE_NAME", "sb-access-token"),
			JWTSecret:   os.Getenv("JWT_SECRET"),
			TokenTTL:    duration("TOKEN_TTL", 24*time.Hour),
		},
		Storage: StorageConfig{
			ServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
			Bucket:         getEnv("STORAGE_BUCKET", "listings"),
			MaxUploadBytes: getInt("MAX_UPLOAD_BYTES", 5<<20),
		},
		Marketplace: MarketplaceConfig{
			OfferTTL:            duration("OFFER_TTL", 72*time.Hour),
			OfferExpirySchedule: getEnv("OFFER_EXPIRY_SCHEDULE", "*/5 * * * *"),
			BookingReminderLead: duration("BOOKING_REMINDER_LEAD", 24*time.Hour),
		},
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

func (c *Config) validate() []string {
	var errs []string

	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Sprintf("DATABASE_DRIVER: unsupported driver %q", c.Database.Driver))
	}

	switch c.Identity.Mode {
	case IdentityModeSupabase:
		if c.Identity.SupabaseURL == "" || c.Identity.AnonKey == "" {
			errs = append(errs, "SUPABASE_URL and SUPABASE_ANON_KEY are required in supabase identity mode")
		}
	case IdentityModeLocal:
		// HS256 needs at least 256 bits of key material
		if len(c.Identity.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters in local identity mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("IDENTITY_MODE: unsupported mode %q", c.Identity.Mode))
	}

	if c.Storage.MaxUploadBytes <= 0 {
		errs = append(errs, "MAX_UPLOAD_BYTES must be positive")
	}

	return errs
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
