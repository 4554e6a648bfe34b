// Package config loads the client configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/programshouse/medicaldash/pkg/constants"
)

// Config is the client configuration. Every field maps to a MEDADMIN_
// environment variable.
type Config struct {
	APIURL  string        `env:"API_URL" envDefault:"https://www.programshouse.com/dashboards/medical/api"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`

	// Storage is the session storage driver: sqlite, file or memory.
	Storage     string `env:"STORAGE" envDefault:"sqlite"`
	StoragePath string `env:"STORAGE_PATH"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	SessionTTL           time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SessionCheckInterval time.Duration `env:"SESSION_CHECK_INTERVAL" envDefault:"24m"`

	MediaDir string `env:"MEDIA_DIR"`

	// UpdateOverrideMethod is the verb tunnelled through POST for multipart updates.
	UpdateOverrideMethod string `env:"UPDATE_OVERRIDE_METHOD" envDefault:"PATCH"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Prefix is prepended to every variable name.
const Prefix = "MEDADMIN_"

// ParseEnv loads configuration from environment variables.
func ParseEnv() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.UpdateOverrideMethod = strings.ToUpper(strings.TrimSpace(cfg.UpdateOverrideMethod))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the optional dotenv files, then the environment. Variables
// already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return ParseEnv()
}

// DefaultStoragePath is used when StoragePath is empty.
func (c *Config) DefaultStoragePath() string {
	if c.StoragePath != "" {
		return c.StoragePath
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	name := "session.db"
	if c.Storage == "file" {
		name = "session.cbor"
	}
	return filepath.Join(dir, "medadmin", name)
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return constants.ErrNoBaseURL
	}
	switch c.Storage {
	case "sqlite", "file", "memory":
	default:
		return fmt.Errorf("parse env: unknown storage driver %q", c.Storage)
	}
	switch c.UpdateOverrideMethod {
	case "PATCH", "PUT":
	default:
		return fmt.Errorf("parse env: %sUPDATE_OVERRIDE_METHOD must be PATCH or PUT, got %q", Prefix, c.UpdateOverrideMethod)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("parse env: %sTIMEOUT must be positive", Prefix)
	}
	return nil
}
