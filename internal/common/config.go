package common

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/batchwatch/constants"
)

// Config holds all application configuration
type Config struct {
	API     APIConfig
	Monitor MonitorConfig
	History HistoryConfig
	Inbox   InboxConfig
	Server  ServerConfig
	Log     LogConfig
}

// APIConfig holds the remote processing service settings
type APIConfig struct {
	BaseURL         string
	DownloadBaseURL string
	Timeout         time.Duration
}

// MonitorConfig holds the task monitor tuning knobs
type MonitorConfig struct {
	PollInterval             time.Duration
	FirstPollDelay           time.Duration
	RequireConnectivityCheck bool
	MaxConsecutiveErrors     int
}

// HistoryConfig holds the run archive settings. An empty DSN disables the archive.
type HistoryConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// InboxConfig holds the drop-folder settings used by the daemon
type InboxConfig struct {
	Dir             string
	OutDir          string
	Debounce        time.Duration
	InitialScan     bool
	AffiliationType string
	SubmitterName   string
	Download        bool
	RunTimeout      time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	baseURL := strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8000"), "/")
	return &Config{
		API: APIConfig{
			BaseURL:         baseURL,
			DownloadBaseURL: getEnv("DOWNLOAD_BASE_URL", baseURL+"/download/"),
			Timeout:         getEnvAsDuration("API_TIMEOUT", 60*time.Second),
		},
		Monitor: MonitorConfig{
			PollInterval:             getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
			FirstPollDelay:           getEnvAsDuration("FIRST_POLL_DELAY", 3*time.Second),
			RequireConnectivityCheck: getEnvAsBool("REQUIRE_CONNECTIVITY_CHECK", true),
			MaxConsecutiveErrors:     getEnvAsInt("MAX_CONSECUTIVE_ERRORS", 3),
		},
		History: HistoryConfig{
			DSN:             getEnv("HISTORY_DSN", ""),
			MaxConns:        getEnvAsInt32("HISTORY_MAX_CONNS", 4),
			MinConns:        getEnvAsInt32("HISTORY_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("HISTORY_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("HISTORY_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("HISTORY_DIAL_TIMEOUT", 3*time.Second),
		},
		Inbox: InboxConfig{
			Dir:             getEnv("INBOX_DIR", ""),
			OutDir:          getEnv("INBOX_OUT_DIR", ""),
			Debounce:        getEnvAsDuration("INBOX_DEBOUNCE", 2*time.Second),
			InitialScan:     getEnvAsBool("INBOX_INITIAL_SCAN", false),
			AffiliationType: getEnv("INBOX_AFFILIATION_TYPE", "express"),
			SubmitterName:   getEnv("INBOX_SUBMITTER_NAME", ""),
			Download:        getEnvAsBool("INBOX_DOWNLOAD", true),
			RunTimeout:      getEnvAsDuration("INBOX_RUN_TIMEOUT", 2*time.Hour),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return NewAppError(CodeConfig, "API_BASE_URL is required", ErrInvalidInput)
	}
	if c.Monitor.PollInterval <= 0 {
		return NewAppError(CodeConfig, "POLL_INTERVAL must be positive", ErrInvalidInput)
	}
	if c.Monitor.FirstPollDelay < 0 {
		return NewAppError(CodeConfig, "FIRST_POLL_DELAY must not be negative", ErrInvalidInput)
	}
	if c.Monitor.MaxConsecutiveErrors <= 0 {
		return NewAppError(CodeConfig, "MAX_CONSECUTIVE_ERRORS must be positive", ErrInvalidInput)
	}
	return nil
}

// ValidateInbox checks the settings the inbox daemon needs on top of Validate.
func (c *Config) ValidateInbox() error {
	if err := c.Validate(); err != nil {
		return err
	}
	v := NewValidator().
		Field("INBOX_DIR", c.Inbox.Dir, Required).
		Field("INBOX_SUBMITTER_NAME", c.Inbox.SubmitterName, Required, MaxLength(200))
	_, ok := constants.CanonicalizeAffiliation(c.Inbox.AffiliationType)
	v.Check(ok, "INBOX_AFFILIATION_TYPE", c.Inbox.AffiliationType, "INBOX_AFFILIATION_TYPE must be one of "+strings.Join(constants.AffiliationsAsStringSlice(), ", "))
	if c.Inbox.OutDir != "" {
		v.Check(filepath.Clean(c.Inbox.OutDir) != filepath.Clean(c.Inbox.Dir), "INBOX_OUT_DIR", c.Inbox.OutDir, "INBOX_OUT_DIR must differ from INBOX_DIR")
	}
	if v.HasErrors() {
		return NewAppError(CodeConfig, v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}
