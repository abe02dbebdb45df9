// Package config loads the briefing service configuration from YAML,
// layered over built-in defaults. Values of the form ${VAR} are expanded
// from the environment so API keys stay out of config files.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/deniel666/news-agent-maya/briefing"
	"github.com/deniel666/news-agent-maya/engine"
	"github.com/deniel666/news-agent-maya/engine/store"
	"github.com/deniel666/news-agent-maya/services"
)

// Storage selects the checkpoint backend.
type Storage struct {
	// Backend is one of "memory", "sqlite", "mysql".
	Backend string `yaml:"backend"`
	// Path is the database file for the sqlite backend.
	Path string `yaml:"path,omitempty"`
	// DSN is the connection string for the mysql backend.
	DSN string `yaml:"dsn,omitempty"`
}

// LLM selects the chat provider and models.
type LLM struct {
	// Provider is one of "openai", "anthropic", "google", "mock".
	Provider      string  `yaml:"provider"`
	Model         string  `yaml:"model,omitempty"`
	FallbackModel string  `yaml:"fallback_model,omitempty"`
	APIKey        string  `yaml:"api_key,omitempty"`
	Temperature   float64 `yaml:"temperature,omitempty"`
}

// Video configures the HeyGen renderer.
type Video struct {
	APIKey   string `yaml:"api_key,omitempty"`
	AvatarID string `yaml:"avatar_id,omitempty"`
	VoiceID  string `yaml:"voice_id,omitempty"`
	Locale   string `yaml:"locale,omitempty"`
}

// Social configures the Blotato publisher.
type Social struct {
	APIKey   string   `yaml:"api_key,omitempty"`
	BaseURL  string   `yaml:"base_url,omitempty"`
	Hashtags []string `yaml:"hashtags,omitempty"`
}

// Notifications configures reviewer channels. Empty sections are skipped.
type Notifications struct {
	Slack struct {
		WebhookURL  string `yaml:"webhook_url,omitempty"`
		FrontendURL string `yaml:"frontend_url,omitempty"`
	} `yaml:"slack,omitempty"`
	Telegram struct {
		BotToken string `yaml:"bot_token,omitempty"`
		ChatID   string `yaml:"chat_id,omitempty"`
	} `yaml:"telegram,omitempty"`
}

// NodeOverride adjusts one node of the built-in table. Nil fields keep
// the default; Params merge key by key.
type NodeOverride struct {
	ID             string         `yaml:"id"`
	Enabled        *bool          `yaml:"enabled,omitempty"`
	TimeoutSeconds *int           `yaml:"timeout_seconds,omitempty"`
	MaxItems       *int           `yaml:"max_items,omitempty"`
	Params         map[string]any `yaml:"params,omitempty"`
}

// Config is the full service configuration.
type Config struct {
	Language      string          `yaml:"language"`
	MaxRevisions  int             `yaml:"max_revisions"`
	MetricsListen string          `yaml:"metrics_listen,omitempty"`
	Storage       Storage         `yaml:"storage"`
	LLM           LLM             `yaml:"llm"`
	Video         Video           `yaml:"video"`
	Social        Social          `yaml:"social"`
	Notifications Notifications   `yaml:"notifications"`
	Feeds         []services.Feed `yaml:"feeds,omitempty"`
	Nodes         []NodeOverride  `yaml:"nodes,omitempty"`
}

// Default returns the configuration used when no file is given: in-memory
// checkpoints, OpenAI models, the standard feed list.
func Default() *Config {
	return &Config{
		Language:     "en-SG",
		MaxRevisions: briefing.DefaultMaxRevisions,
		Storage:      Storage{Backend: "memory"},
		LLM:          LLM{Provider: "openai", Model: "gpt-4o", FallbackModel: "gpt-4o-mini"},
	}
}

// Load reads and validates a YAML config file, layered over Default.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML bytes, layered over Default. Unknown keys are
// rejected so typos fail loudly instead of silently using defaults.
func Parse(raw []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(raw))

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("config: sqlite backend requires storage.path")
		}
	case "mysql":
		if c.Storage.DSN == "" {
			return fmt.Errorf("config: mysql backend requires storage.dsn")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	switch c.LLM.Provider {
	case "openai", "anthropic", "google", "mock":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}

	if c.MaxRevisions < 0 {
		return fmt.Errorf("config: max_revisions must be >= 0, got %d", c.MaxRevisions)
	}

	defaults := nodeIndex(briefing.DefaultConfigs())
	for _, o := range c.Nodes {
		if _, ok := defaults[o.ID]; !ok {
			return fmt.Errorf("config: override for unknown node %q", o.ID)
		}
	}
	return nil
}

// OpenStore opens the configured checkpoint backend.
func (c *Config) OpenStore() (store.Store[briefing.State], error) {
	switch c.Storage.Backend {
	case "sqlite":
		return store.NewSQLiteStore[briefing.State](c.Storage.Path)
	case "mysql":
		return store.NewMySQLStore[briefing.State](c.Storage.DSN)
	default:
		return store.NewMemStore[briefing.State](), nil
	}
}

// NodeConfigs returns the built-in node table with this config's
// overrides applied.
func (c *Config) NodeConfigs() []engine.NodeConfig {
	configs := briefing.DefaultConfigs()
	idx := nodeIndex(configs)
	for _, o := range c.Nodes {
		i, ok := idx[o.ID]
		if !ok {
			continue
		}
		if o.Enabled != nil {
			configs[i].Enabled = *o.Enabled
		}
		if o.TimeoutSeconds != nil {
			configs[i].TimeoutSeconds = *o.TimeoutSeconds
		}
		if o.MaxItems != nil {
			configs[i].MaxItems = *o.MaxItems
		}
		if len(o.Params) > 0 {
			merged := make(map[string]any, len(configs[i].Params)+len(o.Params))
			for k, v := range configs[i].Params {
				merged[k] = v
			}
			for k, v := range o.Params {
				merged[k] = v
			}
			configs[i].Params = merged
		}
	}
	return configs
}

// Notifiers builds the configured notification channels.
func (c *Config) Notifiers() []briefing.Notifier {
	var out []briefing.Notifier
	if c.Notifications.Slack.WebhookURL != "" {
		out = append(out, services.NewSlackNotifier(
			c.Notifications.Slack.WebhookURL, c.Notifications.Slack.FrontendURL, nil))
	}
	if c.Notifications.Telegram.BotToken != "" && c.Notifications.Telegram.ChatID != "" {
		out = append(out, services.NewTelegramNotifier(
			c.Notifications.Telegram.BotToken, c.Notifications.Telegram.ChatID, nil))
	}
	return out
}

func nodeIndex(configs []engine.NodeConfig) map[string]int {
	idx := make(map[string]int, len(configs))
	for i, cfg := range configs {
		idx[cfg.ID] = i
	}
	return idx
}
