package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Gateway configuration
	Gateway GatewayConfig

	// Connection bootstrap timing
	Connect ConnectConfig

	// Transcription configuration
	Transcribe TranscribeConfig

	// Logging configuration
	Log LogConfig

	// Security configuration
	Security SecurityConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// GatewayConfig describes how to reach the WhatsApp gateway
type GatewayConfig struct {
	BaseURL           string
	Token             string
	TokenFile         string // Read on every request when set, takes precedence over Token
	Timeout           time.Duration
	WebhookURL        string   // Registered on new sessions when not empty
	WebhookEvents     []string // Events the gateway should deliver to WebhookURL
	WebhookSecret     string   // HMAC key for deliveries to /webhooks/gateway
	RequestsPerSecond float64
}

// ConnectConfig holds the delays and bounds of the connection bootstrap flow
type ConnectConfig struct {
	InitDelay        time.Duration // Wait after session creation
	StartDelay       time.Duration // Wait after the start call
	PollInterval     time.Duration
	MaxPolls         int
	ConnectedDelay   time.Duration // Wait before notifying the caller of success
	StatusCheckDelay time.Duration // Wait before a status check when no QR was found
}

// TranscribeConfig holds the audio transcription endpoint settings
type TranscribeConfig struct {
	URL        string
	MaxBytes   int64
	MediaHosts []string      // Foreign https hosts audio may be fetched from
	Retention  time.Duration // How long finished transcriptions stay queryable
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// SecurityConfig holds security-specific configuration
type SecurityConfig struct {
	// API Keys - sent by clients for authentication
	APIKeys            []string
	RateLimitPerMinute int
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	// Try to load .env file (ignore errors - it's optional)
	_ = godotenv.Load(".env")

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// FromEnv builds the configuration from the current environment without validating it
func FromEnv() *Config {
	baseURL := strings.TrimRight(getEnv("GATEWAY_BASE_URL", ""), "/")

	transcribeURL := getEnv("TRANSCRIBE_URL", "")
	if transcribeURL == "" && baseURL != "" {
		transcribeURL = baseURL + "/api/transcribe"
	}

	return &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", ""),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver: getEnv("DB_DRIVER", "sqlite3"),
			DSN:    getEnv("DB_DSN", "file:wacrm.db?_foreign_keys=on"),
		},
		Gateway: GatewayConfig{
			BaseURL:           baseURL,
			Token:             getEnv("GATEWAY_TOKEN", ""),
			TokenFile:         getEnv("GATEWAY_TOKEN_FILE", ""),
			Timeout:           getEnvAsDuration("GATEWAY_TIMEOUT", 30*time.Second),
			WebhookURL:        getEnv("GATEWAY_WEBHOOK_URL", ""),
			WebhookEvents:     getEnvAsSlice("GATEWAY_WEBHOOK_EVENTS", []string{"message", "session.status"}),
			WebhookSecret:     getEnv("GATEWAY_WEBHOOK_SECRET", ""),
			RequestsPerSecond: getEnvAsFloat("GATEWAY_REQUESTS_PER_SECOND", 10),
		},
		Connect: ConnectConfig{
			InitDelay:        getEnvAsDuration("CONNECT_INIT_DELAY", 2*time.Second),
			StartDelay:       getEnvAsDuration("CONNECT_START_DELAY", 3*time.Second),
			PollInterval:     getEnvAsDuration("CONNECT_POLL_INTERVAL", 3*time.Second),
			MaxPolls:         getEnvAsInt("CONNECT_MAX_POLLS", 100),
			ConnectedDelay:   getEnvAsDuration("CONNECT_CONNECTED_DELAY", 2*time.Second),
			StatusCheckDelay: getEnvAsDuration("CONNECT_STATUS_CHECK_DELAY", 5*time.Second),
		},
		Transcribe: TranscribeConfig{
			URL:        transcribeURL,
			MaxBytes:   int64(getEnvAsInt("TRANSCRIBE_MAX_BYTES", 16<<20)),
			MediaHosts: getEnvAsSlice("TRANSCRIBE_MEDIA_HOSTS", []string{}),
			Retention:  getEnvAsDuration("TRANSCRIBE_RETENTION", time.Hour),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Security: SecurityConfig{
			APIKeys:            getEnvAsSlice("API_KEYS", []string{}),
			RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver == "" {
		return fmt.Errorf("database driver is required")
	}

	if c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	if err := c.Gateway.Validate(); err != nil {
		return err
	}

	if err := c.Connect.Validate(); err != nil {
		return err
	}

	if c.Transcribe.MaxBytes <= 0 {
		return fmt.Errorf("TRANSCRIBE_MAX_BYTES must be positive")
	}

	if c.Transcribe.Retention <= 0 {
		return fmt.Errorf("TRANSCRIBE_RETENTION must be positive")
	}

	// Security validation
	if len(c.Security.APIKeys) == 0 {
		return fmt.Errorf("at least one API key is required")
	}

	// Check for default/insecure API keys
	for _, key := range c.Security.APIKeys {
		if key == "default-api-key" || key == "api-key-123" || len(key) < 8 {
			return fmt.Errorf("insecure or default API key detected: '%s'. Please set secure API keys in environment variables", key)
		}
	}

	if c.Security.RateLimitPerMinute < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be at least 1")
	}

	return nil
}

// Validate checks the gateway settings
func (g *GatewayConfig) Validate() error {
	if g.BaseURL == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is required")
	}

	u, err := url.Parse(g.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is not an absolute URL: %q", g.BaseURL)
	}

	if g.Token == "" && g.TokenFile == "" {
		return fmt.Errorf("either GATEWAY_TOKEN or GATEWAY_TOKEN_FILE is required")
	}

	if g.Timeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}

	if g.RequestsPerSecond <= 0 {
		return fmt.Errorf("GATEWAY_REQUESTS_PER_SECOND must be positive")
	}

	return nil
}

// Validate checks the bootstrap timing values
func (c *ConnectConfig) Validate() error {
	if c.MaxPolls < 1 {
		return fmt.Errorf("CONNECT_MAX_POLLS must be at least 1")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("CONNECT_POLL_INTERVAL must be positive")
	}

	for name, d := range map[string]time.Duration{
		"CONNECT_INIT_DELAY":         c.InitDelay,
		"CONNECT_START_DELAY":        c.StartDelay,
		"CONNECT_CONNECTED_DELAY":    c.ConnectedDelay,
		"CONNECT_STATUS_CHECK_DELAY": c.StatusCheckDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	return nil
}

// Address returns the server address in the format host:port
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Helper functions to get environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
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

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	// Split by comma and trim spaces
	values := make([]string, 0)
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}

	return values
}
