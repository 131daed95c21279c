// Package config reads service configuration from the environment. In
// development a .env file is loaded first.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"intake-agent/internal/provider"
)

type StoreBackend string

const (
	StoreDynamoDB StoreBackend = "dynamodb"
	StoreSQLite   StoreBackend = "sqlite"
	StorePostgres StoreBackend = "postgres"
)

type Config struct {
	Env              string
	Port             string
	LogLevel         slog.Level
	Store            StoreConfig
	Provider         provider.Config
	NotesDir         string
	PolicyFile       string
	MaxMessageLength int
}

type StoreConfig struct {
	Backend     StoreBackend
	StateTable  string
	DatabaseURL string
}

// Load reads the environment. defaultBackend applies when STORE_BACKEND is
// unset: the Lambda binary defaults to dynamodb, the local server to sqlite.
func Load(defaultBackend StoreBackend) (Config, error) {
	if getEnv("APP_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	kind, err := provider.ParseKind(getEnv("AI_PROVIDER", string(provider.KindMock)))
	if err != nil {
		return Config{}, err
	}
	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Env:      getEnv("APP_ENV", "development"),
		Port:     getEnv("PORT", "8080"),
		LogLevel: level,
		Store: StoreConfig{
			Backend:     StoreBackend(strings.ToLower(getEnv("STORE_BACKEND", string(defaultBackend)))),
			StateTable:  getEnv("STATE_TABLE", ""),
			DatabaseURL: getEnv("DATABASE_URL", "intake.db"),
		},
		Provider: provider.Config{
			Kind:            kind,
			APIKey:          getEnv("AI_API_KEY", ""),
			APIKeyParam:     getEnv("AI_API_KEY_PARAM", ""),
			Model:           getEnv("AI_MODEL", ""),
			APIBase:         getEnv("AI_API_BASE", ""),
			AzureAPIVersion: getEnv("AZURE_OPENAI_API_VERSION", ""),
			Timeout:         time.Duration(getEnvInt("AI_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		NotesDir:         getEnv("NOTES_DIR", getEnv("ONEDRIVE_SAVE_DIR", "notes")),
		PolicyFile:       getEnv("INTAKE_POLICY_FILE", ""),
		MaxMessageLength: getEnvInt("MAX_MESSAGE_LENGTH", 4000),
	}

	switch cfg.Store.Backend {
	case StoreDynamoDB:
		if cfg.Store.StateTable == "" {
			return Config{}, fmt.Errorf("STATE_TABLE is required for the dynamodb store")
		}
	case StoreSQLite, StorePostgres:
		if cfg.Store.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required for the %s store", cfg.Store.Backend)
		}
	default:
		return Config{}, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.Store.Backend)
	}
	if cfg.MaxMessageLength <= 0 {
		return Config{}, fmt.Errorf("MAX_MESSAGE_LENGTH must be positive")
	}
	// Provider problems are not fatal: requests degrade with hints instead.
	return cfg, nil
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return l, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
