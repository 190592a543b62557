package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"agora/internal/archive"
	dbconfig "agora/pkg/database"
)

// EnvPrefix prefixes every environment variable, e.g. AGORA_HTTP_PORT
const EnvPrefix = "AGORA"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database   dbconfig.Config  `yaml:"database"`
	HTTP       HTTPConfig       `yaml:"http"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Moderation ModerationConfig `yaml:"moderation"`
	Timing     TimingConfig     `yaml:"timing"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	AllowedOrigins  []string      `yaml:"allowed_origins" split_words:"true"`
}

// FUNCTIONAL DISCOVERY: WebSocket heartbeat plus per-participant send limit
type WebSocketConfig struct {
	PingInterval  time.Duration `yaml:"ping_interval" split_words:"true"`
	ReadTimeout   time.Duration `yaml:"read_timeout" split_words:"true"`
	MaxFrameBytes int64         `yaml:"max_frame_bytes" split_words:"true"`
	RateLimit     int           `yaml:"rate_limit" split_words:"true"`
	RateWindow    time.Duration `yaml:"rate_window" split_words:"true"`
}

type ModerationConfig struct {
	Denylist     []string `yaml:"denylist"`
	Triggers     []string `yaml:"triggers"`
	WarningLimit int      `yaml:"warning_limit" split_words:"true"`
	Quorum       int      `yaml:"quorum"`
}

// TimingConfig holds the moderator's pacing delays
type TimingConfig struct {
	ApprovalDelay   time.Duration `yaml:"approval_delay" split_words:"true"`
	WelcomeDelay    time.Duration `yaml:"welcome_delay" split_words:"true"`
	JoinNoticeDelay time.Duration `yaml:"join_notice_delay" split_words:"true"`
	AdvisoryDelay   time.Duration `yaml:"advisory_delay" split_words:"true"`
	SummaryDelay    time.Duration `yaml:"summary_delay" split_words:"true"`
}

// ArchiveConfig selects where concluded sessions go once evicted from memory
type ArchiveConfig struct {
	Type          string        `yaml:"type"`
	Retention     time.Duration `yaml:"retention"`
	RedisAddr     string        `yaml:"redis_addr" split_words:"true"`
	RedisPassword string        `yaml:"redis_password" split_words:"true"`
	RedisDB       int           `yaml:"redis_db" split_words:"true"`
	RedisTTL      time.Duration `yaml:"redis_ttl" split_words:"true"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns production defaults; pacing follows the moderator's
// conversational rhythm (approval 3s, welcome 1s, advisory 1.5s, summary 2s)
func DefaultConfig() *Config {
	return &Config{
		Database: *dbconfig.DefaultConfig(),
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:  30 * time.Second,
			ReadTimeout:   60 * time.Second,
			MaxFrameBytes: 8192,
			RateLimit:     100,
			RateWindow:    time.Minute,
		},
		Moderation: ModerationConfig{
			WarningLimit: 3,
			Quorum:       3,
		},
		Timing: TimingConfig{
			ApprovalDelay:   3 * time.Second,
			WelcomeDelay:    time.Second,
			JoinNoticeDelay: time.Second,
			AdvisoryDelay:   1500 * time.Millisecond,
			SummaryDelay:    2 * time.Second,
		},
		Archive: ArchiveConfig{
			Type:      string(archive.StoreTypeMemory),
			Retention: time.Hour,
			RedisAddr: "localhost:6379",
			RedisTTL:  7 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	// Port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.MaxFrameBytes <= 0 {
		return errors.New("WebSocket max frame bytes must be positive")
	}
	if c.WebSocket.RateLimit <= 0 || c.WebSocket.RateWindow <= 0 {
		return errors.New("WebSocket rate limit and window must be positive")
	}

	if c.Moderation.WarningLimit <= 0 {
		return errors.New("moderation warning limit must be positive")
	}
	if c.Moderation.Quorum <= 0 {
		return errors.New("moderation quorum must be positive")
	}

	t := c.Timing
	for name, d := range map[string]time.Duration{
		"approval_delay":    t.ApprovalDelay,
		"welcome_delay":     t.WelcomeDelay,
		"join_notice_delay": t.JoinNoticeDelay,
		"advisory_delay":    t.AdvisoryDelay,
		"summary_delay":     t.SummaryDelay,
	} {
		if d < 0 {
			return fmt.Errorf("timing %s cannot be negative", name)
		}
	}

	switch archive.StoreType(c.Archive.Type) {
	case archive.StoreTypeMemory:
	case archive.StoreTypeRedis:
		if c.Archive.RedisAddr == "" {
			return errors.New("archive redis address cannot be empty")
		}
	default:
		return fmt.Errorf("unknown archive type %q", c.Archive.Type)
	}
	if c.Archive.Retention < 0 {
		return errors.New("archive retention cannot be negative")
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return errors.New("metrics path cannot be empty when metrics are enabled")
	}
	return nil
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv overlays AGORA_* environment variables on the defaults
// FUNCTIONAL DISCOVERY: Environment variable configuration enables containerized deployment
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile overlays a YAML file on the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults. An empty
// path skips the file layer.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func applyEnv(config *Config) error {
	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return fmt.Errorf("error processing environment: %w", err)
	}
	return nil
}

// applyFile unmarshals only the keys present in the file onto config
func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
