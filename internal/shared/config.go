package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// PersistTimeout bounds the history and timestamp writes that follow a refresh. They run after the
// refresh timeout, so the refresh lock must outlive both.
const PersistTimeout = 10 * time.Second

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Reasoning   ReasoningConfig   `toml:"reasoning"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Locks       LocksConfig       `toml:"locks"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify    SpotifyConfig    `toml:"spotify"`
	AppleMusic AppleMusicConfig `toml:"apple_music"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// AppleMusicConfig holds the MusicKit signing key used to mint developer tokens.
type AppleMusicConfig struct {
	TeamID         string `toml:"team_id"`
	KeyID          string `toml:"key_id"`
	PrivateKeyPath string `toml:"private_key_path"`
	Storefront     string `toml:"storefront"`
}

// ReasoningConfig points at a hosted chat-completions endpoint.
type ReasoningConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	MaxAttempts    int    `toml:"max_attempts"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// SchedulerConfig tunes the auto-update sweep and refresh pipeline.
type SchedulerConfig struct {
	IntervalSeconds       int `toml:"interval_seconds"`
	CooldownHours         int `toml:"cooldown_hours"`
	RefreshTimeoutSeconds int `toml:"refresh_timeout_seconds"`
	PerQueryLimit         int `toml:"per_query_limit"`
	PacingMillis          int `toml:"pacing_ms"`
}

// LocksConfig selects the refresh lock backend.
type LocksConfig struct {
	Backend       string `toml:"backend"` // memory | redis
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	TTLSeconds    int    `toml:"ttl_seconds"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Interval returns the sweep interval.
func (c SchedulerConfig) Interval() time.Duration {
	return seconds(c.IntervalSeconds, 60)
}

// Cooldown returns the window after a manual refresh during which auto refresh is suppressed.
func (c SchedulerConfig) Cooldown() time.Duration {
	if c.CooldownHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.CooldownHours) * time.Hour
}

// RefreshTimeout bounds a single refresh run.
func (c SchedulerConfig) RefreshTimeout() time.Duration {
	return seconds(c.RefreshTimeoutSeconds, 300)
}

// Pacing is the minimum gap between catalog searches.
func (c SchedulerConfig) Pacing() time.Duration {
	if c.PacingMillis <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.PacingMillis) * time.Millisecond
}

// TTL is how long a lock may be held before it expires on its own.
func (c LocksConfig) TTL() time.Duration {
	return seconds(c.TTLSeconds, 600)
}

// Timeout bounds a single reasoning request.
func (c ReasoningConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds, 60)
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadDotEnv loads variables from the given .env files into the process environment.
// Missing files are ignored; variables already set are left alone.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides secrets and endpoints with MIXTAPE_* environment variables.
func (c *Config) ApplyEnv() {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	str("MIXTAPE_SPOTIFY_CLIENT_ID", &c.Credentials.Spotify.ClientID)
	str("MIXTAPE_SPOTIFY_CLIENT_SECRET", &c.Credentials.Spotify.ClientSecret)
	str("MIXTAPE_APPLE_TEAM_ID", &c.Credentials.AppleMusic.TeamID)
	str("MIXTAPE_APPLE_KEY_ID", &c.Credentials.AppleMusic.KeyID)
	str("MIXTAPE_APPLE_PRIVATE_KEY_PATH", &c.Credentials.AppleMusic.PrivateKeyPath)
	str("MIXTAPE_REASONING_API_KEY", &c.Reasoning.APIKey)
	str("MIXTAPE_REASONING_BASE_URL", &c.Reasoning.BaseURL)
	str("MIXTAPE_DATABASE_PATH", &c.Database.Path)
	str("MIXTAPE_REDIS_ADDR", &c.Locks.RedisAddr)
	str("MIXTAPE_LOG_LEVEL", &c.Log.Level)

	if v, ok := os.LookupEnv("MIXTAPE_SERVER_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// Validate reports configuration that cannot work at all.
func (c *Config) Validate() error {
	switch c.Locks.Backend {
	case "", "memory":
	case "redis":
		if c.Locks.RedisAddr == "" {
			return fmt.Errorf("%w: locks.redis_addr is required for the redis backend", ErrInvalidConfig)
		}
		if held := c.Scheduler.RefreshTimeout() + PersistTimeout; c.Locks.TTL() <= held {
			return fmt.Errorf("%w: locks.ttl_seconds (%s) must exceed scheduler.refresh_timeout_seconds plus %s (%s)",
				ErrInvalidConfig, c.Locks.TTL(), PersistTimeout, held)
		}
	default:
		return fmt.Errorf("%w: unknown lock backend %q", ErrInvalidConfig, c.Locks.Backend)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is empty", ErrInvalidConfig)
	}
	return nil
}
