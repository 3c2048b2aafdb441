package toksearch

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level toksearch configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Search  SearchConfig  `yaml:"search"`
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Sinks   []SinkConfig  `yaml:"sinks"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Mode         string `yaml:"mode"`   // headless | headful
	Remote       string `yaml:"remote"` // ws:// URL of an external Chrome
	UserAgent    string `yaml:"user_agent"`
	WindowWidth  int    `yaml:"window_width"`
	WindowHeight int    `yaml:"window_height"`
}

// SearchConfig tunes the acquisition loop.
type SearchConfig struct {
	MaxScrolls         int           `yaml:"max_scrolls"`
	StagnationLimit    int           `yaml:"stagnation_limit"`
	SettleInterval     time.Duration `yaml:"settle_interval"`
	MinDelay           time.Duration `yaml:"min_delay"`
	UnauthenticatedCap int           `yaml:"unauthenticated_cap"`
}

// SessionConfig controls where login state lives.
type SessionConfig struct {
	Path string `yaml:"path"`
	// Key is a hex-encoded 32-byte key. When set, the session file is
	// encrypted at rest.
	Key          string        `yaml:"key"`
	LoginTimeout time.Duration `yaml:"login_timeout"`
}

// StoreConfig names the record store. Extension picks the backend:
// .db/.sqlite/.sqlite3 for SQLite, anything else for a workbook.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SinkConfig defines an output backend for progress and result events.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("toksearch: parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.WindowWidth <= 0 {
		c.Browser.WindowWidth = 1920
	}
	if c.Browser.WindowHeight <= 0 {
		c.Browser.WindowHeight = 1080
	}
	if c.Search.MaxScrolls <= 0 {
		c.Search.MaxScrolls = 50
	}
	if c.Search.StagnationLimit <= 0 {
		c.Search.StagnationLimit = 3
	}
	if c.Search.SettleInterval <= 0 {
		c.Search.SettleInterval = 3 * time.Second
	}
	if c.Search.MinDelay <= 0 {
		c.Search.MinDelay = time.Second
	}
	if c.Search.UnauthenticatedCap <= 0 {
		c.Search.UnauthenticatedCap = 6
	}
	if c.Session.Path == "" {
		c.Session.Path = "toksearch_session.json"
	}
	if c.Session.LoginTimeout <= 0 {
		c.Session.LoginTimeout = 5 * time.Minute
	}
	if c.Store.Path == "" {
		c.Store.Path = "tiktok_videos.xlsx"
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
}

// Validate rejects configurations that would only fail mid-run.
func (c *Config) Validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("%w: browser mode %q (want headless or headful)", ErrInvalidInput, c.Browser.Mode)
	}
	if _, err := c.sessionKey(); err != nil {
		return err
	}
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("%w: webhook sink needs a url", ErrInvalidInput)
			}
		default:
			return fmt.Errorf("%w: unknown sink type %q", ErrInvalidInput, s.Type)
		}
	}
	return nil
}

// DefaultStorePath derives a workbook filename from a search target, keeping
// only filesystem-safe characters.
func DefaultStorePath(target string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(target)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '@' || r == '.':
			b.WriteByte('_')
		}
	}
	slug := strings.Trim(b.String(), "_")
	if len(slug) > 60 {
		slug = slug[:60]
	}
	if slug == "" {
		slug = "videos"
	}
	return "tiktok_" + slug + ".xlsx"
}

// sessionKey decodes the optional at-rest encryption key.
func (c *Config) sessionKey() ([]byte, error) {
	if c.Session.Key == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Session.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: session key is not hex", ErrInvalidInput)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: session key must be 32 bytes, got %d", ErrInvalidInput, len(key))
	}
	return key, nil
}
