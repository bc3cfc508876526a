package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models gotodo.yml, the system configuration edited from the admin panel.
type Config struct {
	Platform      PlatformConfig      `yaml:"platform" json:"platform"`
	Services      ServicesConfig      `yaml:"services" json:"services"`
	Bidding       BiddingConfig       `yaml:"bidding" json:"bidding"`
	Chat          ChatConfig          `yaml:"chat" json:"chat"`
	Notifications NotificationsConfig `yaml:"notifications" json:"notifications"`
	Hunter        HunterConfig        `yaml:"hunter" json:"hunter"`
	Webhooks      []WebhookConfig     `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type PlatformConfig struct {
	Name            string `yaml:"name" json:"name"`
	MaintenanceMode bool   `yaml:"maintenance_mode" json:"maintenance_mode"`
	SupportEmail    string `yaml:"support_email" json:"support_email,omitempty"`
}

type ServiceType struct {
	Description string `yaml:"description" json:"description"`
}

type ServicesConfig struct {
	Catalog map[string]ServiceType `yaml:"catalog" json:"catalog"`
}

type BiddingConfig struct {
	MaxBidsPerRequest  int     `yaml:"max_bids_per_request" json:"max_bids_per_request"`
	MinBidAmount       float64 `yaml:"min_bid_amount" json:"min_bid_amount"`
	PlatformFeePercent float64 `yaml:"platform_fee_percent" json:"platform_fee_percent"`
}

type ChatConfig struct {
	MinDelaySeconds    int      `yaml:"min_delay_seconds" json:"min_delay_seconds"`
	MaxDelaySeconds    int      `yaml:"max_delay_seconds" json:"max_delay_seconds"`
	// IdleTimeoutSeconds ends a session nobody has looked at for that long.
	IdleTimeoutSeconds int      `yaml:"idle_timeout_seconds,omitempty" json:"idle_timeout_seconds,omitempty"`
	PreviewLength      int      `yaml:"preview_length" json:"preview_length"`
	Replies            []string `yaml:"replies" json:"replies"`
}

type NotificationsConfig struct {
	Limit int `yaml:"limit" json:"limit"`
}

type HunterConfig struct {
	DefaultRadiusKm float64 `yaml:"default_radius_km" json:"default_radius_km"`
	MaxRadiusKm     float64 `yaml:"max_radius_km" json:"max_radius_km"`
}

// WebhookConfig subscribes an external URL to audit events. An empty Events
// list means every event.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Platform.Name == "" {
		return fmt.Errorf("config.platform.name is required")
	}
	if len(c.Services.Catalog) == 0 {
		return fmt.Errorf("config.services.catalog is required")
	}
	for name := range c.Services.Catalog {
		if name == "" {
			return fmt.Errorf("config.services.catalog contains empty service type")
		}
	}
	if c.Bidding.MaxBidsPerRequest < 0 {
		return fmt.Errorf("config.bidding.max_bids_per_request must not be negative")
	}
	if c.Bidding.MinBidAmount < 0 {
		return fmt.Errorf("config.bidding.min_bid_amount must not be negative")
	}
	if c.Bidding.PlatformFeePercent < 0 || c.Bidding.PlatformFeePercent > 100 {
		return fmt.Errorf("config.bidding.platform_fee_percent must be between 0 and 100")
	}
	if c.Chat.MinDelaySeconds <= 0 || c.Chat.MaxDelaySeconds < c.Chat.MinDelaySeconds {
		return fmt.Errorf("config.chat delays must satisfy 0 < min_delay_seconds <= max_delay_seconds")
	}
	if c.Chat.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("config.chat.idle_timeout_seconds must not be negative")
	}
	if c.Chat.PreviewLength <= 0 {
		return fmt.Errorf("config.chat.preview_length must be positive")
	}
	if len(c.Chat.Replies) == 0 {
		return fmt.Errorf("config.chat.replies is required")
	}
	if c.Notifications.Limit <= 0 {
		return fmt.Errorf("config.notifications.limit must be positive")
	}
	if c.Hunter.DefaultRadiusKm <= 0 || c.Hunter.MaxRadiusKm < c.Hunter.DefaultRadiusKm {
		return fmt.Errorf("config.hunter radii must satisfy 0 < default_radius_km <= max_radius_km")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// HasServiceType reports whether the catalog lists the given type.
func (c *Config) HasServiceType(name string) bool {
	_, ok := c.Services.Catalog[name]
	return ok
}

func (c *Config) ChatDelayRange() (time.Duration, time.Duration) {
	return time.Duration(c.Chat.MinDelaySeconds) * time.Second, time.Duration(c.Chat.MaxDelaySeconds) * time.Second
}

// ChatIdleTimeout is zero when unset; the chat manager then uses its default.
func (c *Config) ChatIdleTimeout() time.Duration {
	return time.Duration(c.Chat.IdleTimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gotodo.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in system configuration.
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

const defaultTemplate = `platform:
  name: gotodo
  maintenance_mode: false
  support_email: support@gotodo.local

services:
  catalog:
    plumbing:
      description: "Leaks, installs and drain work"
    electrical:
      description: "Wiring, fixtures and panels"
    cleaning:
      description: "Home and office cleaning"
    moving:
      description: "Moving and hauling"
    delivery:
      description: "Courier and parcel delivery"
    repair:
      description: "General handyman repairs"
    product:
      description: "Buy and deliver a product"
    other:
      description: "Anything else"

bidding:
  max_bids_per_request: 10
  min_bid_amount: 1
  platform_fee_percent: 10

chat:
  min_delay_seconds: 15
  max_delay_seconds: 40
  idle_timeout_seconds: 300
  preview_length: 20
  replies:
    - "Sounds good, I'll be there soon."
    - "Can you share a photo of the issue?"
    - "I'm about 10 minutes away."
    - "Thanks for the details!"
    - "Is the entrance on the main street?"

notifications:
  limit: 50

hunter:
  default_radius_km: 10
  max_radius_km: 100

# webhooks:
#   - url: https://example.com/gotodo
#     events: [request.status, bid.accept]
#     secret: change-me
`
