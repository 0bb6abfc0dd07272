package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models growboard.yml.
type Config struct {
	Bot struct {
		Name         string `yaml:"name"`
		DefaultNiche string `yaml:"default_niche"`
	} `yaml:"bot"`
	Leaderboard struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"leaderboard"`
	Admins    []string `yaml:"admins"`
	Platforms map[string]struct {
		Label string `yaml:"label"`
	} `yaml:"platforms"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with gb config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Bot.DefaultNiche == "" {
		return fmt.Errorf("config.bot.default_niche is required")
	}
	if c.Leaderboard.DefaultLimit <= 0 {
		return fmt.Errorf("config.leaderboard.default_limit must be positive")
	}
	if c.Leaderboard.MaxLimit > 0 && c.Leaderboard.MaxLimit < c.Leaderboard.DefaultLimit {
		return fmt.Errorf("config.leaderboard.max_limit must not be below default_limit")
	}
	for i, admin := range c.Admins {
		if admin == "" {
			return fmt.Errorf("config.admins[%d] is empty", i)
		}
	}
	for key, p := range c.Platforms {
		if key == "" {
			return fmt.Errorf("config.platforms contains empty key")
		}
		if p.Label == "" {
			return fmt.Errorf("platform %s has empty label", key)
		}
	}
	return nil
}

// PlatformLabel resolves a display label for a platform key.
func (c *Config) PlatformLabel(key string) string {
	if p, ok := c.Platforms[key]; ok {
		return p.Label
	}
	return "Link"
}

// IsAdmin reports whether the actor is in the seed admin list.
func (c *Config) IsAdmin(actorID string) bool {
	for _, a := range c.Admins {
		if a == actorID {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "growboard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `bot:
  name: Growboard
  default_niche: general

leaderboard:
  default_limit: 10
  max_limit: 100

admins: []

platforms:
  twitter:
    label: Twitter
  x:
    label: X
  instagram:
    label: Instagram
  youtube:
    label: YouTube
  tiktok:
    label: TikTok
  discord:
    label: Discord
  telegram:
    label: Telegram
  website:
    label: Website
`
