// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from switchboard.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Desk     DeskConfig     `yaml:"desk"`
	Stats    StatsConfig    `yaml:"stats"`
	Notify   NotifyConfig   `yaml:"notify"`
	Escalate EscalateConfig `yaml:"escalate"`
	Agents   []AgentConfig  `yaml:"agents"`
}

// DatabaseConfig selects and configures the ticket store backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DeskConfig holds queue and session defaults.
type DeskConfig struct {
	DefaultCapacity int `yaml:"default_capacity"`
	EventBuffer     int `yaml:"event_buffer"`
}

// StatsConfig bounds the rolling averages and sets the refresh schedule.
type StatsConfig struct {
	Window  int           `yaml:"window"`  // max samples per average
	MaxAge  time.Duration `yaml:"max_age"` // samples older than this are dropped
	Refresh string        `yaml:"refresh"` // cron spec, e.g. "@every 5s"
}

// NotifyConfig routes desk events to chat webhooks.
type NotifyConfig struct {
	SlackWebhookURL string   `yaml:"slack_webhook_url"`
	DiscordWebhook  string   `yaml:"discord_webhook"` // "<id>/<token>"
	Events          []string `yaml:"events"`
	DigestCron      string   `yaml:"digest_cron"`
}

// Enabled reports whether any notification sink is configured.
func (n NotifyConfig) Enabled() bool {
	return n.SlackWebhookURL != "" || n.DiscordWebhook != ""
}

// EscalateConfig points ticket escalation at a GitHub repository.
type EscalateConfig struct {
	Owner  string   `yaml:"owner"`
	Repo   string   `yaml:"repo"`
	Token  string   `yaml:"token"`
	Labels []string `yaml:"labels"`
}

// Enabled reports whether escalation is configured.
func (e EscalateConfig) Enabled() bool {
	return e.Owner != "" && e.Repo != ""
}

// AgentConfig seeds an agent account on `sb db init`.
type AgentConfig struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Capacity int    `yaml:"capacity"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "switchboard.db"
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
			c.Database.Name = "switchboard"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Desk.DefaultCapacity == 0 {
		c.Desk.DefaultCapacity = 3
	}
	if c.Desk.EventBuffer == 0 {
		c.Desk.EventBuffer = 256
	}
	if c.Stats.Window == 0 {
		c.Stats.Window = 100
	}
	if c.Stats.MaxAge == 0 {
		c.Stats.MaxAge = 24 * time.Hour
	}
	if c.Stats.Refresh == "" {
		c.Stats.Refresh = "@every 5s"
	}
	for i := range c.Agents {
		if c.Agents[i].Capacity == 0 {
			c.Agents[i].Capacity = c.Desk.DefaultCapacity
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (mysql, sqlite)", c.Database.Driver))
	}
	if c.Desk.DefaultCapacity < 1 {
		errs = append(errs, "desk.default_capacity must be at least 1")
	}
	if c.Stats.Window < 1 {
		errs = append(errs, "stats.window must be at least 1")
	}
	if c.Notify.DiscordWebhook != "" && !strings.Contains(c.Notify.DiscordWebhook, "/") {
		errs = append(errs, "notify.discord_webhook must be <id>/<token>")
	}
	if c.Escalate.Enabled() && c.Escalate.Token == "" {
		errs = append(errs, "escalate.token is required when escalate.owner/repo are set")
	}
	seen := make(map[string]bool)
	for i, a := range c.Agents {
		if a.Email == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].email is required", i))
		}
		if a.Password == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].password is required", i))
		}
		if a.Capacity < 1 {
			errs = append(errs, fmt.Sprintf("agents[%d].capacity must be at least 1", i))
		}
		if seen[a.Email] {
			errs = append(errs, fmt.Sprintf("agents[%d].email %q is duplicated", i, a.Email))
		}
		seen[a.Email] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
