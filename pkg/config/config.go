package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/dixie/pkg/models"
)

// Config holds all dixie configuration.
type Config struct {
	Listen   string                           `yaml:"listen" toml:"listen"`
	DBPath   string                           `yaml:"db_path" toml:"db_path"`
	Interval time.Duration                    `yaml:"interval" toml:"interval"`
	Log      LogConfig                        `yaml:"log" toml:"log"`
	Ledger   LedgerConfig                     `yaml:"ledger" toml:"ledger"`
	Pressure PressureConfig                   `yaml:"pressure" toml:"pressure"`
	Services map[string]models.ServiceProfile `yaml:"services" toml:"services"`
	Executor ExecutorConfig                   `yaml:"executor" toml:"executor"`
	Notify   NotifyConfig                     `yaml:"notify" toml:"notify"`
	LLM      LLMConfig                        `yaml:"llm" toml:"llm"`
	Proxy    ProxyConfig                      `yaml:"proxy" toml:"proxy"`
	Tasks    map[string]TaskOverride          `yaml:"tasks" toml:"tasks"`
}

// LogConfig selects the zap preset and level.
type LogConfig struct {
	Env   string `yaml:"env" toml:"env"`
	Level string `yaml:"level" toml:"level"`
}

// LedgerConfig selects the usage ledger backend.
// Driver is "sqlite" (default, uses db_path) or "postgres".
type LedgerConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// PressureConfig holds the urgency band thresholds and the amount granted
// in each band. A band amount of zero means Hold.
type PressureConfig struct {
	Low      float64       `yaml:"low" toml:"low"`
	Moderate float64       `yaml:"moderate" toml:"moderate"`
	High     float64       `yaml:"high" toml:"high"`
	Amounts  AmountsConfig `yaml:"amounts" toml:"amounts"`
}

// AmountsConfig is the prompt grant per urgency band.
type AmountsConfig struct {
	Low      int64 `yaml:"low" toml:"low"`
	Moderate int64 `yaml:"moderate" toml:"moderate"`
	High     int64 `yaml:"high" toml:"high"`
}

// ExecutorConfig controls autonomous execution.
type ExecutorConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	// Service is the quota the executor spends. Defaults to the only
	// configured service when there is exactly one.
	Service                    string             `yaml:"service" toml:"service"`
	AllowModerate              bool               `yaml:"allow_moderate" toml:"allow_moderate"`
	MaxAutonomousPromptsPerDay int64              `yaml:"max_autonomous_prompts_per_day" toml:"max_autonomous_prompts_per_day"`
	ApprovalTimeout            time.Duration      `yaml:"approval_timeout" toml:"approval_timeout"`
	Notifications              NotificationConfig `yaml:"notifications" toml:"notifications"`
}

// NotificationConfig selects how humans are involved.
type NotificationConfig struct {
	Style models.NotificationStyle `yaml:"style" toml:"style"`
}

// NotifyConfig configures the notification gateway.
type NotifyConfig struct {
	// Gateway is "log" (default), "redis" or "terminal".
	Gateway string      `yaml:"gateway" toml:"gateway"`
	Redis   RedisConfig `yaml:"redis" toml:"redis"`
}

// RedisConfig configures the Redis notification gateway.
type RedisConfig struct {
	Addr           string `yaml:"addr" toml:"addr"`
	Password       string `yaml:"password" toml:"password"`
	DB             int    `yaml:"db" toml:"db"`
	Channel        string `yaml:"channel" toml:"channel"`
	ApprovalPrefix string `yaml:"approval_prefix" toml:"approval_prefix"`
}

// LLMConfig configures the OpenAI-compatible completion endpoint used by tasks.
type LLMConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
	Model   string `yaml:"model" toml:"model"`
}

// ProxyConfig configures the metering proxy for interactive clients.
type ProxyConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
	// Upstream is the provider base URL, e.g. https://api.anthropic.com.
	Upstream string `yaml:"upstream" toml:"upstream"`
	// Service is charged one prompt per metered request.
	Service string `yaml:"service" toml:"service"`
	// APIKey replaces the client's credentials when set.
	APIKey string `yaml:"api_key" toml:"api_key"`
}

// TaskOverride adjusts a built-in task definition.
type TaskOverride struct {
	Enabled       *bool  `yaml:"enabled" toml:"enabled"`
	EstimatedCost int64  `yaml:"estimated_cost" toml:"estimated_cost"`
	MaxRunsPerDay int    `yaml:"max_runs_per_day" toml:"max_runs_per_day"`
	Priority      int    `yaml:"priority" toml:"priority"`
	Safety        string `yaml:"safety" toml:"safety"`
}

// IsEnabled reports whether the override leaves the task enabled.
func (o TaskOverride) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:   "127.0.0.1:8474",
		DBPath:   "dixie.db",
		Interval: 30 * time.Minute,
		Log: LogConfig{
			Env:   "prod",
			Level: "info",
		},
		Ledger: LedgerConfig{Driver: "sqlite"},
		Pressure: PressureConfig{
			Low:      0.2,
			Moderate: 0.4,
			High:     0.6,
			Amounts: AmountsConfig{
				Low:      0,
				Moderate: 200,
				High:     500,
			},
		},
		Executor: ExecutorConfig{
			Enabled:         false,
			AllowModerate:   false,
			ApprovalTimeout: 2 * time.Minute,
			Notifications:   NotificationConfig{Style: models.StylePassive},
		},
		Notify: NotifyConfig{
			Gateway: "log",
			Redis: RedisConfig{
				Addr:           "localhost:6379",
				Channel:        "dixie:events",
				ApprovalPrefix: "dixie:approval:",
			},
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Proxy: ProxyConfig{Listen: "127.0.0.1:8475"},
	}
}

// Load reads a YAML or TOML config file, expands environment variables,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills derived fields left empty by the config file.
func (c *Config) ApplyDefaults() {
	for name, svc := range c.Services {
		svc.Name = name
		if svc.DefaultMode == "" {
			svc.DefaultMode = models.ModeAuto
			if svc.Type == models.ServicePayPerUse {
				svc.DefaultMode = models.ModeManual
			}
		}
		c.Services[name] = svc
	}
	if c.Executor.Service == "" && len(c.Services) == 1 {
		for name := range c.Services {
			c.Executor.Service = name
		}
	}
	if c.Executor.Notifications.Style == "" {
		c.Executor.Notifications.Style = models.StylePassive
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "sqlite"
	}
	if c.Ledger.Driver == "sqlite" && c.Ledger.DSN == "" {
		c.Ledger.DSN = c.DBPath
	}
	if c.Proxy.Service == "" {
		c.Proxy.Service = c.Executor.Service
	}
}

// Validate checks the configuration. Every failure is a *ConfigurationError.
func (c *Config) Validate() error {
	p := c.Pressure
	for field, v := range map[string]float64{"pressure.low": p.Low, "pressure.moderate": p.Moderate, "pressure.high": p.High} {
		if v < 0 || v > 1 {
			return &ConfigurationError{Field: field, Reason: fmt.Sprintf("must be within [0,1], got %v", v)}
		}
	}
	if !(p.Low <= p.Moderate && p.Moderate <= p.High) {
		return &ConfigurationError{Field: "pressure", Reason: "thresholds must satisfy low <= moderate <= high"}
	}
	if p.Amounts.Low < 0 || p.Amounts.Moderate < 0 || p.Amounts.High < 0 {
		return &ConfigurationError{Field: "pressure.amounts", Reason: "amounts must not be negative"}
	}
	if c.Interval <= 0 {
		return &ConfigurationError{Field: "interval", Reason: "must be positive"}
	}

	for _, name := range c.ServiceNames() {
		svc := c.Services[name]
		field := "services." + name
		switch svc.Type {
		case models.ServicePrepaid:
			if svc.DailyLimit <= 0 {
				return &ConfigurationError{Field: field + ".daily_limit", Reason: "prepaid services need a positive daily_limit"}
			}
		case models.ServicePayPerUse:
			if svc.CostPerCall < 0 {
				return &ConfigurationError{Field: field + ".cost_per_call", Reason: "must not be negative"}
			}
		default:
			return &ConfigurationError{Field: field + ".type", Reason: fmt.Sprintf("unknown service type %q", svc.Type)}
		}
		switch svc.DefaultMode {
		case models.ModeAuto, models.ModeManual:
		default:
			return &ConfigurationError{Field: field + ".default_mode", Reason: fmt.Sprintf("unknown mode %q", svc.DefaultMode)}
		}
		if svc.Timezone != "" {
			if _, err := time.LoadLocation(svc.Timezone); err != nil {
				return &ConfigurationError{Field: field + ".timezone", Reason: err.Error()}
			}
		}
	}

	if c.Executor.Service != "" {
		if _, ok := c.Services[c.Executor.Service]; !ok {
			return &ConfigurationError{Field: "executor.service", Reason: fmt.Sprintf("unknown service %q", c.Executor.Service)}
		}
	} else if c.Executor.Enabled {
		return &ConfigurationError{Field: "executor.service", Reason: "required when more than one service is configured"}
	}
	if c.Executor.MaxAutonomousPromptsPerDay < 0 {
		return &ConfigurationError{Field: "executor.max_autonomous_prompts_per_day", Reason: "must not be negative"}
	}
	if c.Executor.ApprovalTimeout <= 0 {
		return &ConfigurationError{Field: "executor.approval_timeout", Reason: "must be positive"}
	}
	switch c.Executor.Notifications.Style {
	case models.StyleProactive, models.StylePassive, models.StyleAskPermission:
	default:
		return &ConfigurationError{Field: "executor.notifications.style", Reason: fmt.Sprintf("unknown style %q", c.Executor.Notifications.Style)}
	}

	switch c.Notify.Gateway {
	case "log", "redis", "terminal":
	default:
		return &ConfigurationError{Field: "notify.gateway", Reason: fmt.Sprintf("unknown gateway %q", c.Notify.Gateway)}
	}

	switch c.Ledger.Driver {
	case "sqlite":
	case "postgres":
		if c.Ledger.DSN == "" {
			return &ConfigurationError{Field: "ledger.dsn", Reason: "required for postgres"}
		}
	default:
		return &ConfigurationError{Field: "ledger.driver", Reason: fmt.Sprintf("unknown driver %q", c.Ledger.Driver)}
	}

	if c.Proxy.Service != "" {
		if _, ok := c.Services[c.Proxy.Service]; !ok {
			return &ConfigurationError{Field: "proxy.service", Reason: fmt.Sprintf("unknown service %q", c.Proxy.Service)}
		}
	}

	for name, o := range c.Tasks {
		if o.Safety != "" {
			if _, err := models.ParseSafetyLevel(o.Safety); err != nil {
				return &ConfigurationError{Field: "tasks." + name + ".safety", Reason: err.Error()}
			}
		}
		if o.EstimatedCost < 0 || o.MaxRunsPerDay < 0 {
			return &ConfigurationError{Field: "tasks." + name, Reason: "costs and run limits must not be negative"}
		}
	}
	return nil
}

// MaxSafety is the highest safety level the executor may select.
func (c *Config) MaxSafety() models.SafetyLevel {
	if c.Executor.AllowModerate {
		return models.SafetyModerate
	}
	return models.SafetySafe
}

// ServiceNames returns configured service names in sorted order.
func (c *Config) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Locations maps each service to its calendar-day timezone.
func (c *Config) Locations() map[string]*time.Location {
	locs := make(map[string]*time.Location, len(c.Services))
	for name, svc := range c.Services {
		locs[name] = svc.Location()
	}
	return locs
}
