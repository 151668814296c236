// Package config loads application configuration from YAML and environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment variables before merging; nested
// keys use a double underscore, e.g. IW_DATABASE__URL -> database.url.
const envPrefix = "IW_"

// Config is the root application configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Log          LogConfig          `koanf:"log"`
	Auth         AuthConfig         `koanf:"auth"`
	Options      OptionsConfig      `koanf:"options"`
	Lifecycle    domain.Lifecycle   `koanf:"lifecycle"`
	Dispatcher   DispatcherConfig   `koanf:"dispatcher"`
	Slack        SlackConfig        `koanf:"slack"`
	Integrations IntegrationsConfig `koanf:"integrations"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	// MigrationsPath points at the migration files; empty skips
	// migrations on startup.
	MigrationsPath string `koanf:"migrations_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AuthConfig holds API token settings.
type AuthConfig struct {
	SecretKey string        `koanf:"secret_key"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// OptionsConfig holds orchestrator behavior knobs.
type OptionsConfig struct {
	// SlugPrefix is the prefix of incident slugs and channel names.
	SlugPrefix string `koanf:"slug_prefix"`
	// DigestChannel receives announcements about every incident.
	DigestChannel string `koanf:"digest_channel"`
	// CommsReminderInterval is the initial cadence of the communications
	// reminder; zero disables the job.
	CommsReminderInterval time.Duration `koanf:"comms_reminder_interval"`
	// RoleWatcherInterval is the cadence of the unclaimed-role watcher;
	// zero disables the job.
	RoleWatcherInterval time.Duration `koanf:"role_watcher_interval"`
	// RecentLimit bounds the default listRecent page size.
	RecentLimit int `koanf:"recent_limit"`
}

// DispatcherConfig bounds the integration fan-out.
type DispatcherConfig struct {
	Workers        int           `koanf:"workers"`
	AdapterTimeout time.Duration `koanf:"adapter_timeout"`
}

// SlackConfig holds the notification gateway settings.
type SlackConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
}

// IntegrationsConfig enables and configures the external-system adapters.
type IntegrationsConfig struct {
	Jira       JiraConfig       `koanf:"jira"`
	PagerDuty  PagerDutyConfig  `koanf:"pagerduty"`
	Confluence ConfluenceConfig `koanf:"confluence"`
	Statuspage StatuspageConfig `koanf:"statuspage"`
}

// JiraConfig holds the ticketing adapter settings.
type JiraConfig struct {
	Enabled         bool              `koanf:"enabled"`
	BaseURL         string            `koanf:"base_url"`
	User            string            `koanf:"user"`
	APIToken        string            `koanf:"api_token"`
	ProjectKey      string            `koanf:"project_key"`
	IssueType       string            `koanf:"issue_type"`
	AutoCreateIssue bool              `koanf:"auto_create_issue"`
	StatusMapping   map[string]string `koanf:"status_mapping"`
	SeverityMapping map[string]string `koanf:"severity_mapping"`
}

// PagerDutyConfig holds the paging adapter settings.
type PagerDutyConfig struct {
	Enabled    bool   `koanf:"enabled"`
	RoutingKey string `koanf:"routing_key"`
	AutoPage   bool   `koanf:"auto_page"`
}

// ConfluenceConfig holds the document generator adapter settings.
type ConfluenceConfig struct {
	Enabled              bool   `koanf:"enabled"`
	BaseURL              string `koanf:"base_url"`
	User                 string `koanf:"user"`
	APIToken             string `koanf:"api_token"`
	Space                string `koanf:"space"`
	ParentPage           string `koanf:"parent_page"`
	AutoCreatePostmortem bool   `koanf:"auto_create_postmortem"`
}

// StatuspageConfig holds the status page adapter settings.
type StatuspageConfig struct {
	Enabled   bool    `koanf:"enabled"`
	APIToken  string  `koanf:"api_token"`
	PageID    string  `koanf:"page_id"`
	RateLimit float64 `koanf:"rate_limit"`
}

// Default returns the built-in configuration, matching the documented
// defaults. File and environment values are merged on top of it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			MigrationsPath:  "migrations",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Options: OptionsConfig{
			SlugPrefix:            "inc",
			DigestChannel:         "incidents",
			CommsReminderInterval: 30 * time.Minute,
			RoleWatcherInterval:   10 * time.Minute,
			RecentLimit:           25,
		},
		Lifecycle: domain.Lifecycle{
			Statuses: []domain.StatusDefinition{
				{Name: "investigating", Initial: true},
				{Name: "identified"},
				{Name: "monitoring"},
				{Name: "resolved", Final: true},
			},
			Severities: []string{"sev1", "sev2", "sev3", "sev4"},
			Roles: []domain.RoleDefinition{
				{Name: "incident_commander", Description: "Decision maker during the incident.", IsLead: true},
				{Name: "scribe", Description: "Maintains the incident timeline."},
				{Name: "subject_matter_expert", Description: "Domain expert for an affected component."},
				{Name: "communications_liaison", Description: "Keeps stakeholders informed."},
			},
		},
		Dispatcher: DispatcherConfig{
			Workers:        4,
			AdapterTimeout: 30 * time.Second,
		},
	}
}

// Load reads configuration from the optional YAML file at path and from
// IW_-prefixed environment variables, merged over the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field invariants that koanf cannot express.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if err := c.Lifecycle.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Dispatcher.Workers <= 0 {
		return fmt.Errorf("config: dispatcher.workers must be positive")
	}
	if c.Dispatcher.AdapterTimeout <= 0 {
		return fmt.Errorf("config: dispatcher.adapter_timeout must be positive")
	}
	return nil
}

// envKey maps IW_DATABASE__URL to database.url.
func envKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}
