package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultConfigFile      = "~/.riverlevels.conf"
	DefaultSaveFile        = "~/.riverlevels.save"
	DefaultAPIRoot         = "http://environment.data.gov.uk/flood-monitoring"
	DefaultWebBase         = "https://flood-warning-information.service.gov.uk/station"
	DefaultAcknowledgement = "This uses Environment Agency flood and river level data" +
		" from the real-time data API (Beta)"
	DefaultQualifier   = "Stage"
	DefaultThreshold   = 0.1
	DefaultHTTPTimeout = 30 * time.Second
	DefaultInterval    = 15 * time.Minute
	DefaultSendmail    = "/usr/sbin/sendmail"
	DefaultBackend     = "json"
)

// Config is the top-level riverlevels configuration.
// The file may be JSON or YAML.
type Config struct {
	// Monitors lists the station measures to track.
	Monitors []Monitor `yaml:"monitors"`

	// SaveFile is where alert baselines are persisted between runs.
	SaveFile string `yaml:"savefile"`

	// APIRoot is the base URL of the flood-monitoring API.
	APIRoot string `yaml:"api_root"`

	// WebBase is the base URL used to link station names in HTML email.
	WebBase string `yaml:"web_base"`

	// Acknowledgement is appended to every notification, as required by
	// the data provider's terms.
	Acknowledgement string `yaml:"acknowledgement"`

	// HTTPTimeout bounds each request to the upstream API.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	State    StateConfig     `yaml:"state"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Watch    WatchConfig     `yaml:"watch"`
	Email    *EmailConfig    `yaml:"email"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// Monitor describes one measure at a station.
type Monitor struct {
	// Station is the upstream station reference, e.g. "1503TH".
	Station string `yaml:"station"`

	// Qualifier selects the measure at the station (default "Stage").
	Qualifier string `yaml:"qualifier"`

	// Name is the display name. Defaults to Station.
	Name string `yaml:"name"`

	// ExternalID is the river-levels-on-the-internet id used to build web links.
	ExternalID string `yaml:"externalId"`

	// RLOIid is the legacy spelling of ExternalID.
	RLOIid string `yaml:"RLOIid"`

	// Threshold is the minimum level change, in metres, that raises an alert.
	Threshold float64 `yaml:"threshold"`
}

// UnmarshalYAML applies per-monitor defaults before decoding so that an
// explicit zero threshold is kept.
func (m *Monitor) UnmarshalYAML(value *yaml.Node) error {
	type plain Monitor
	p := plain{Qualifier: DefaultQualifier, Threshold: DefaultThreshold}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*m = Monitor(p)
	if m.Name == "" {
		m.Name = m.Station
	}
	if m.ExternalID == "" {
		m.ExternalID = m.RLOIid
	}
	return nil
}

// StateConfig selects the persistence backend for alert baselines.
type StateConfig struct {
	// Backend is one of: json | sqlite.
	Backend string `yaml:"backend"`

	// Path overrides SaveFile for the selected backend.
	Path string `yaml:"path"`
}

// MetricsConfig configures optional Prometheus exposition.
type MetricsConfig struct {
	// Textfile, when set, receives the metrics after every run in the
	// node_exporter textfile-collector format.
	Textfile string `yaml:"textfile"`

	// Listen is the address for a /metrics endpoint in watch mode.
	Listen string `yaml:"listen"`
}

// WatchConfig controls the long-running watch mode.
type WatchConfig struct {
	// Interval between evaluation cycles.
	Interval time.Duration `yaml:"interval"`
}

// EmailConfig holds email notification settings.
type EmailConfig struct {
	Recipients []string `yaml:"recipients"`
	HTML       bool     `yaml:"html"`
	Subject    string   `yaml:"subject"`
	From       string   `yaml:"from"`
	Sendmail   string   `yaml:"sendmail"`
}

// SendmailPath returns the configured mail transfer program, or the default.
func (e EmailConfig) SendmailPath() string {
	if e.Sendmail != "" {
		return e.Sendmail
	}
	return DefaultSendmail
}

// WebhookConfig defines one chat/webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http | discord.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`

	// TokenEnv is the name of the environment variable holding the discord bot token.
	TokenEnv string `yaml:"token_env"`

	// ChannelID is the discord channel to post to.
	ChannelID string `yaml:"channel_id"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Token returns the bot token resolved from the environment.
func (w WebhookConfig) Token() string {
	if w.TokenEnv == "" {
		return ""
	}
	return os.Getenv(w.TokenEnv)
}

// StatePath returns the expanded path of the state store.
func (c *Config) StatePath() string {
	if c.State.Path != "" {
		return ExpandHome(c.State.Path)
	}
	return ExpandHome(c.SaveFile)
}

// Load reads and parses the config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON or YAML config document. A document starting with
// "{" is JSON and must be valid JSON; anything else is read as YAML.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if isJSON(data) {
		if err := decodeJSON(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func isJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// decodeJSON parses data strictly as JSON, then routes the result through a
// yaml.Node so the YAML unmarshal hooks and defaults apply unchanged.
func decodeJSON(data []byte, cfg *Config) error {
	var doc map[string]interface{}
	if err := sonic.ConfigStd.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	var node yaml.Node
	if err := node.Encode(doc); err != nil {
		return err
	}
	return node.Decode(cfg)
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		SaveFile:        DefaultSaveFile,
		APIRoot:         DefaultAPIRoot,
		WebBase:         DefaultWebBase,
		Acknowledgement: DefaultAcknowledgement,
		HTTPTimeout:     DefaultHTTPTimeout,
		State:           StateConfig{Backend: DefaultBackend},
		Watch:           WatchConfig{Interval: DefaultInterval},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}
	if cfg.Watch.Interval <= 0 {
		return fmt.Errorf("watch.interval must be positive")
	}
	switch cfg.State.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("state.backend %q unknown: want json|sqlite", cfg.State.Backend)
	}
	seen := make(map[string]bool, len(cfg.Monitors))
	for i, m := range cfg.Monitors {
		if m.Station == "" {
			return fmt.Errorf("monitors[%d]: station is required", i)
		}
		if m.Threshold < 0 {
			return fmt.Errorf("monitors[%d] %q: threshold must not be negative", i, m.Station)
		}
		key := m.Station + "." + m.Qualifier
		if seen[key] {
			return fmt.Errorf("monitors[%d]: duplicate monitor %q", i, key)
		}
		seen[key] = true
	}
	for i, wh := range cfg.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
			if wh.URLEnv == "" {
				return fmt.Errorf("webhooks[%d] %s: url_env is required", i, wh.Type)
			}
		case "discord":
			if wh.TokenEnv == "" || wh.ChannelID == "" {
				return fmt.Errorf("webhooks[%d] discord: token_env and channel_id are required", i)
			}
		default:
			return fmt.Errorf("webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}
	return nil
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
