package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/upb/rolegate/utils"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Database      *DatabaseConfig // Optional: audit decisions go to the log when nil
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string `validate:"required"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int `validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// AuthConfig holds token trust, signing key and role mapping settings
type AuthConfig struct {
	Issuers           []string      `validate:"required,min=1,dive,url"`
	Audience          string        // This service's identifier; empty disables the aud check
	ClientID          string        // Selects resource_access.<client>.roles
	AllowedAlgorithms []string      `validate:"required,min=1,dive,oneof=RS256 RS384 RS512 PS256 PS384 PS512 ES256 ES384 ES512 EdDSA HS256 HS384 HS512"`
	ClockSkew         time.Duration `validate:"gte=0,lte=5m"`

	JWKSURL          string `validate:"omitempty,url"`
	JWKSFile         string
	DiscoveryEnabled bool
	RefreshInterval  time.Duration `validate:"gte=1s"`
	FetchTimeout     time.Duration `validate:"gte=100ms"`
	AlertAfter       int           `validate:"gte=1"`

	HMACSecret string
	HMACKeyID  string

	RoleClaims []string
	RolePrefix string
	KnownRoles []string
	PolicyFile string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuditConfig holds decision audit settings
type AuditConfig struct {
	Enabled      bool
	BufferSize   int `validate:"gte=1"`
	WorkerCount  int `validate:"gte=1"`
	WriteTimeout time.Duration
	InitSchema   bool
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"required,oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=json text"` // json or text
	MetricsEnabled bool
	MetricsPort    int `validate:"gt=0,lte=65535"`
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*"}),
		},
		Auth: AuthConfig{
			Issuers:           getEnvAsList("AUTH_ISSUERS", nil),
			Audience:          getEnv("AUTH_AUDIENCE", ""),
			ClientID:          getEnv("AUTH_CLIENT_ID", ""),
			AllowedAlgorithms: getEnvAsList("AUTH_ALLOWED_ALGORITHMS", []string{"RS256", "ES256"}),
			ClockSkew:         getEnvAsDuration("AUTH_CLOCK_SKEW", 60*time.Second),
			JWKSURL:           getEnv("AUTH_JWKS_URL", ""),
			JWKSFile:          getEnv("AUTH_JWKS_FILE", ""),
			DiscoveryEnabled:  getEnvAsBool("AUTH_DISCOVERY_ENABLED", false),
			RefreshInterval:   getEnvAsDuration("AUTH_JWKS_REFRESH_INTERVAL", 5*time.Minute),
			FetchTimeout:      getEnvAsDuration("AUTH_JWKS_FETCH_TIMEOUT", 5*time.Second),
			AlertAfter:        getEnvAsInt("AUTH_JWKS_ALERT_AFTER", 3),
			HMACSecret:        getEnv("AUTH_HMAC_SECRET", ""),
			HMACKeyID:         getEnv("AUTH_HMAC_KEY_ID", "hmac"),
			RoleClaims:        getEnvAsList("AUTH_ROLE_CLAIMS", nil),
			RolePrefix:        getEnvAllowEmpty("AUTH_ROLE_PREFIX", "role_"),
			KnownRoles:        getEnvAsList("AUTH_KNOWN_ROLES", []string{"client_user", "client_admin"}),
			PolicyFile:        getEnv("AUTH_POLICY_FILE", ""),
		},
		Database: loadDatabaseConfig(),
		Audit: AuditConfig{
			Enabled:      getEnvAsBool("AUDIT_ENABLED", true),
			BufferSize:   getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			WorkerCount:  getEnvAsInt("AUDIT_WORKERS", 2),
			WriteTimeout: getEnvAsDuration("AUDIT_WRITE_TIMEOUT", 5*time.Second),
			InitSchema:   getEnvAsBool("AUDIT_INIT_SCHEMA", true),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks struct tags and the rules that span several fields
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}

	a := c.Auth
	if a.JWKSURL == "" && a.JWKSFile == "" && !a.DiscoveryEnabled && a.HMACSecret == "" {
		return fmt.Errorf("a signing key source is required: set AUTH_JWKS_URL, AUTH_JWKS_FILE, AUTH_DISCOVERY_ENABLED or AUTH_HMAC_SECRET")
	}
	if a.HMACSecret != "" {
		if !a.allowsHMAC() {
			return fmt.Errorf("AUTH_HMAC_SECRET requires an HS* algorithm in AUTH_ALLOWED_ALGORITHMS")
		}
		if a.HMACKeyID == "" {
			return fmt.Errorf("AUTH_HMAC_KEY_ID is required with AUTH_HMAC_SECRET")
		}
		if c.IsProduction() && len(a.HMACSecret) < 32 {
			return fmt.Errorf("AUTH_HMAC_SECRET must be at least 32 bytes in production")
		}
	}
	if c.IsProduction() && a.Audience == "" {
		return fmt.Errorf("AUTH_AUDIENCE is required in production")
	}

	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	return nil
}

func (a AuthConfig) allowsHMAC() bool {
	for _, alg := range a.AllowedAlgorithms {
		if strings.HasPrefix(alg, "HS") {
			return true
		}
	}
	return false
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither DATABASE_URL nor DB_HOST is set.
func loadDatabaseConfig() *DatabaseConfig {
	pool := func(cfg *DatabaseConfig) *DatabaseConfig {
		cfg.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", 10)
		cfg.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", 2)
		cfg.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
		return cfg
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		return pool(&DatabaseConfig{ConnectionString: dbURL})
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	return pool(&DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "rolegate"),
		Password: getEnv("DB_PASSWORD", ""),
		Database: getEnv("DB_NAME", "rolegate"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	})
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsAddress returns the metrics listener address
func (c *Config) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Observability.MetricsPort)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return getEnvAsInt("SERVER_PORT", 8080)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty is getEnv, except an explicitly empty variable stays empty
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping empty entries
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
