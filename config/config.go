package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	DB      DBConfig      `yaml:"db"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	StaticDir      string   `yaml:"static_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type SessionConfig struct {
	// Secret is base64; empty means a random per-process secret, which
	// invalidates every session on restart.
	Secret       string        `yaml:"secret"`
	TTL          time.Duration `yaml:"ttl"`
	CookieSecure bool          `yaml:"cookie_secure"`
	PurgeEvery   time.Duration `yaml:"purge_every"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json|console
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":5001",
			StaticDir: "./static",
		},
		DB: DBConfig{Path: "./games.db"},
		Session: SessionConfig{
			TTL:        7 * 24 * time.Hour,
			PurgeEvery: time.Hour,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped if absent), then a .env file (skipped if absent), then ARCADE_*
// environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.Session.PurgeEvery <= 0 {
		cfg.Session.PurgeEvery = time.Hour
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("ARCADE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ARCADE_STATIC_DIR"); v != "" {
		cfg.Server.StaticDir = v
	}
	if v := os.Getenv("ARCADE_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		cfg.Server.AllowedOrigins = origins
	}
	if v := os.Getenv("ARCADE_DB_PATH"); v != "" {
		cfg.DB.Path = v
	}
	if v := os.Getenv("ARCADE_SESSION_SECRET"); v != "" {
		cfg.Session.Secret = v
	}
	if v := os.Getenv("ARCADE_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ARCADE_SESSION_TTL value: %w", err)
		}
		cfg.Session.TTL = d
	}
	if v := os.Getenv("ARCADE_COOKIE_SECURE"); v != "" {
		cfg.Session.CookieSecure = v == "true"
	}
	if v := os.Getenv("ARCADE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ARCADE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

// SessionKey decodes the configured secret, or generates a fresh one when
// none is set. generated reports which happened.
func (c *Config) SessionKey() (key []byte, generated bool, err error) {
	if c.Session.Secret == "" {
		key = securecookie.GenerateRandomKey(32)
		if key == nil {
			return nil, false, errors.New("failed to generate session secret")
		}
		return key, true, nil
	}

	key, err = base64.StdEncoding.DecodeString(c.Session.Secret)
	if err != nil {
		return nil, false, fmt.Errorf("session secret must be base64: %w", err)
	}
	if len(key) < 32 {
		return nil, false, fmt.Errorf("session secret must decode to at least 32 bytes, got %d", len(key))
	}
	return key, false, nil
}
