// Package config provides YAML/TOML configuration loading for stylequeue.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level stylequeue configuration, loaded from stylequeue.yaml.
type Config struct {
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Escalation EscalationConfig `yaml:"escalation" toml:"escalation"`
	Events     EventsConfig     `yaml:"events" toml:"events"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
	Profile    ProfileConfig    `yaml:"profile" toml:"profile"`
	Transport  TransportConfig  `yaml:"transport" toml:"transport"`
	Notify     NotifyConfig     `yaml:"notify" toml:"notify"`
	Log        LogConfig        `yaml:"log" toml:"log"`
}

// DatabaseConfig selects and addresses the conversation store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" toml:"driver"` // sqlite or mysql
	Path     string `yaml:"path" toml:"path"`     // sqlite file
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	Name     string `yaml:"name" toml:"name"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port             int           `yaml:"port" toml:"port"`
	OperationTimeout time.Duration `yaml:"operation_timeout" toml:"operation_timeout"`
}

// EscalationConfig holds SLA and claim-timeout policy.
type EscalationConfig struct {
	Interval     time.Duration            `yaml:"interval" toml:"interval"`
	Schedule     string                   `yaml:"schedule" toml:"schedule"` // cron expression; overrides Interval
	ClaimTimeout time.Duration            `yaml:"claim_timeout" toml:"claim_timeout"`
	OnTimeout    string                   `yaml:"on_timeout" toml:"on_timeout"` // escalate or requeue
	AutoRetriage *bool                    `yaml:"auto_retriage" toml:"auto_retriage"`
	Thresholds   map[string]time.Duration `yaml:"thresholds" toml:"thresholds"`
}

// Retriage reports whether escalations re-enter the queue immediately.
func (e EscalationConfig) Retriage() bool {
	return e.AutoRetriage == nil || *e.AutoRetriage
}

// EventsConfig sizes the event bus history ring.
type EventsConfig struct {
	History int `yaml:"history" toml:"history"`
}

// MetricsConfig tunes the metrics fold.
type MetricsConfig struct {
	Window     int `yaml:"window" toml:"window"`
	DedupeSize int `yaml:"dedupe_size" toml:"dedupe_size"`
}

// ProfileConfig bounds profile lookups during queue listing.
type ProfileConfig struct {
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// TransportConfig selects the outbound email transport.
type TransportConfig struct {
	Driver         string `yaml:"driver" toml:"driver"` // log or sendgrid
	SendGridAPIKey string `yaml:"sendgrid_api_key" toml:"sendgrid_api_key"`
	FromEmail      string `yaml:"from_email" toml:"from_email"`
	FromName       string `yaml:"from_name" toml:"from_name"`
}

// NotifyConfig holds escalation alert destinations. Empty values disable a destination.
type NotifyConfig struct {
	SlackWebhookURL  string `yaml:"slack_webhook_url" toml:"slack_webhook_url"`
	DiscordBotToken  string `yaml:"discord_bot_token" toml:"discord_bot_token"`
	DiscordChannelID string `yaml:"discord_channel_id" toml:"discord_channel_id"`
}

// LogConfig controls the zerolog logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // json or console
}

// Default SLA thresholds per priority.
var DefaultThresholds = map[string]time.Duration{
	"urgent": 10 * time.Minute,
	"high":   20 * time.Minute,
	"normal": 45 * time.Minute,
	"low":    120 * time.Minute,
}

// Load reads a YAML or TOML config file from path and returns a validated Config.
// A .env file in the working directory is loaded first, if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(data)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return finish(&cfg)
}

// ParseTOML unmarshals TOML bytes into a validated Config.
func ParseTOML(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse toml: %w", err)
	}
	return finish(&cfg)
}

// Default returns a validated Config with every default applied.
func Default() *Config {
	cfg, _ := finish(&Config{})
	return cfg
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "stylequeue.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "stylequeue"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.OperationTimeout == 0 {
		c.Server.OperationTimeout = 5 * time.Second
	}
	if c.Escalation.Interval == 0 {
		c.Escalation.Interval = 30 * time.Second
	}
	if c.Escalation.ClaimTimeout == 0 {
		c.Escalation.ClaimTimeout = 30 * time.Minute
	}
	if c.Escalation.OnTimeout == "" {
		c.Escalation.OnTimeout = "escalate"
	}
	if c.Escalation.Thresholds == nil {
		c.Escalation.Thresholds = make(map[string]time.Duration, len(DefaultThresholds))
	}
	for p, d := range DefaultThresholds {
		if _, ok := c.Escalation.Thresholds[p]; !ok {
			c.Escalation.Thresholds[p] = d
		}
	}
	if c.Events.History == 0 {
		c.Events.History = 1024
	}
	if c.Metrics.Window == 0 {
		c.Metrics.Window = 50
	}
	if c.Metrics.DedupeSize == 0 {
		c.Metrics.DedupeSize = 10000
	}
	if c.Profile.Timeout == 0 {
		c.Profile.Timeout = 200 * time.Millisecond
	}
	if c.Transport.Driver == "" {
		c.Transport.Driver = "log"
	}
	if c.Transport.FromName == "" {
		c.Transport.FromName = "Your Stylist"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// applyEnv lets secrets and deployment-specific values come from the environment.
func (c *Config) applyEnv() {
	setString(&c.Database.Driver, "SQ_DATABASE_DRIVER")
	setString(&c.Database.Path, "SQ_DATABASE_PATH")
	setString(&c.Database.Host, "SQ_DATABASE_HOST")
	setString(&c.Database.Password, "SQ_DATABASE_PASSWORD")
	setString(&c.Log.Level, "SQ_LOG_LEVEL")
	setString(&c.Transport.SendGridAPIKey, "SENDGRID_API_KEY")
	setString(&c.Notify.SlackWebhookURL, "SLACK_WEBHOOK_URL")
	setString(&c.Notify.DiscordBotToken, "DISCORD_BOT_TOKEN")
	setString(&c.Notify.DiscordChannelID, "DISCORD_CHANNEL_ID")
	if v := os.Getenv("SQ_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	case "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	switch c.Escalation.OnTimeout {
	case "escalate", "requeue":
	default:
		errs = append(errs, fmt.Sprintf("escalation.on_timeout %q must be escalate or requeue", c.Escalation.OnTimeout))
	}
	for p, d := range c.Escalation.Thresholds {
		if _, ok := DefaultThresholds[p]; !ok {
			errs = append(errs, fmt.Sprintf("escalation.thresholds: unknown priority %q", p))
		}
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("escalation.thresholds.%s must be positive", p))
		}
	}
	switch c.Transport.Driver {
	case "log":
	case "sendgrid":
		if c.Transport.SendGridAPIKey == "" {
			errs = append(errs, "transport.sendgrid_api_key is required for sendgrid")
		}
		if c.Transport.FromEmail == "" {
			errs = append(errs, "transport.from_email is required for sendgrid")
		}
	default:
		errs = append(errs, fmt.Sprintf("transport.driver %q is not supported (log, sendgrid)", c.Transport.Driver))
	}
	if c.Notify.DiscordBotToken != "" && c.Notify.DiscordChannelID == "" {
		errs = append(errs, "notify.discord_channel_id is required with a discord bot token")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
