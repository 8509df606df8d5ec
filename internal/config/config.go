// Package config provides the runtime defaults, environment loading, and
// validation for the relay service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Invite modes.
const (
	InviteModeRequest = "request"
	InviteModeDirect  = "direct"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
	StoreDynamo = "dynamo"
)

// MongoConfig holds the connection settings for the MongoDB directory store.
type MongoConfig struct {
	URI      string
	Database string
}

// DynamoConfig holds the settings for the DynamoDB directory store.
type DynamoConfig struct {
	Region      string
	TablePrefix string
	Endpoint    string
}

// ProfanityConfig controls the outbound text filter.
type ProfanityConfig struct {
	Words       []string
	Placeholder string
	StripHTML   bool
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string
	Format string
}

// Config holds the relay configuration.
type Config struct {
	Port               string
	AllowedOrigins     []string
	MaxMessageSize     int64
	AuthTokens         []string
	InviteMode         string
	Store              string
	Mongo              MongoConfig
	Dynamo             DynamoConfig
	Profanity          ProfanityConfig
	Log                LogConfig
	MaxHandlerFailures int
	ShutdownTimeout    time.Duration
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		InviteMode:     InviteModeRequest,
		Store:          StoreMemory,
		Mongo: MongoConfig{
			Database: "relay",
		},
		Dynamo: DynamoConfig{
			TablePrefix: "Relay",
		},
		Profanity: ProfanityConfig{
			Placeholder: "*",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		MaxHandlerFailures: 3,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	cfg := defaultConfig()
	return &cfg
}

// FromEnv creates a Config from RELAY_* environment variables. A .env file
// in the working directory is loaded first when present; variables already
// set in the environment take precedence over it. Unparseable values fall
// back to the defaults.
func FromEnv() *Config {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if port := os.Getenv("RELAY_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("RELAY_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}
	if maxSize := os.Getenv("RELAY_MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}
	if tokens := os.Getenv("RELAY_AUTH_TOKENS"); tokens != "" {
		cfg.AuthTokens = parseList(tokens)
	}
	if mode := os.Getenv("RELAY_INVITE_MODE"); mode != "" {
		cfg.InviteMode = strings.ToLower(strings.TrimSpace(mode))
	}
	if store := os.Getenv("RELAY_STORE"); store != "" {
		cfg.Store = strings.ToLower(strings.TrimSpace(store))
	}
	if uri := os.Getenv("RELAY_MONGO_URI"); uri != "" {
		cfg.Mongo.URI = uri
	}
	if db := os.Getenv("RELAY_MONGO_DATABASE"); db != "" {
		cfg.Mongo.Database = db
	}
	if region := os.Getenv("RELAY_DYNAMO_REGION"); region != "" {
		cfg.Dynamo.Region = region
	}
	if prefix := os.Getenv("RELAY_DYNAMO_TABLE_PREFIX"); prefix != "" {
		cfg.Dynamo.TablePrefix = prefix
	}
	if endpoint := os.Getenv("RELAY_DYNAMO_ENDPOINT"); endpoint != "" {
		cfg.Dynamo.Endpoint = endpoint
	}
	if words := os.Getenv("RELAY_PROFANITY_WORDS"); words != "" {
		cfg.Profanity.Words = parseList(words)
	}
	if placeholder := os.Getenv("RELAY_PROFANITY_PLACEHOLDER"); placeholder != "" {
		cfg.Profanity.Placeholder = placeholder
	}
	if strip := os.Getenv("RELAY_STRIP_HTML"); strip != "" {
		cfg.Profanity.StripHTML = parseBoolValue(strip, cfg.Profanity.StripHTML)
	}
	if level := os.Getenv("RELAY_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := os.Getenv("RELAY_LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}
	if failures := os.Getenv("RELAY_MAX_HANDLER_FAILURES"); failures != "" {
		cfg.MaxHandlerFailures = parseIntValue(failures, cfg.MaxHandlerFailures)
	}
	if timeout := os.Getenv("RELAY_SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	return &cfg
}

// Sanitize fills zero values with defaults.
func (c *Config) Sanitize() {
	def := defaultConfig()
	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.InviteMode == "" {
		c.InviteMode = def.InviteMode
	}
	if c.Store == "" {
		c.Store = def.Store
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = def.Mongo.Database
	}
	if c.Profanity.Placeholder == "" {
		c.Profanity.Placeholder = def.Profanity.Placeholder
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.MaxHandlerFailures <= 0 {
		c.MaxHandlerFailures = def.MaxHandlerFailures
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
}

// Validate rejects configurations the relay cannot start with.
func (c *Config) Validate() error {
	switch c.InviteMode {
	case InviteModeRequest, InviteModeDirect:
	default:
		return fmt.Errorf("invalid invite mode %q (want %q or %q)", c.InviteMode, InviteModeRequest, InviteModeDirect)
	}

	switch c.Store {
	case StoreMemory, StoreDynamo:
	case StoreMongo:
		if c.Mongo.URI == "" {
			return errors.New("RELAY_MONGO_URI is required when RELAY_STORE=mongo")
		}
	default:
		return fmt.Errorf("invalid store backend %q", c.Store)
	}

	return nil
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseBoolValue(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
