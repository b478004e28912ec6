package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models stallfront.yml.
type Config struct {
	Marketplace struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Currency string `yaml:"currency"`
	} `yaml:"marketplace"`
	Onboarding struct {
		Rules OnboardingRules `yaml:"rules"`
	} `yaml:"onboarding"`
	Payments struct {
		BaseURL   string `yaml:"base_url"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"payments"`
	Assets struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"assets"`
	Cache struct {
		ProfileTTL string `yaml:"profile_ttl"`
	} `yaml:"cache"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// OnboardingRules bounds the stage validator. Zero values fall back to the
// defaults below at validation time.
type OnboardingRules struct {
	StoreNameMin int `yaml:"store_name_min"`
	OwnerNameMin int `yaml:"owner_name_min"`
	BioMin       int `yaml:"bio_min"`
	BioMax       int `yaml:"bio_max"`
	PhoneMin     int `yaml:"phone_min"`
	PhoneMax     int `yaml:"phone_max"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

const defaultProfileTTL = 5 * time.Hour

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sf config import --file <path>", path)
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
	if c.Marketplace.ID == "" {
		return fmt.Errorf("config.marketplace.id is required")
	}
	if len(c.Marketplace.Currency) != 3 {
		return fmt.Errorf("config.marketplace.currency must be a 3-letter code")
	}
	r := c.Onboarding.Rules
	if r.BioMax != 0 && r.BioMin > r.BioMax {
		return fmt.Errorf("onboarding.rules bio_min %d exceeds bio_max %d", r.BioMin, r.BioMax)
	}
	if r.PhoneMax != 0 && r.PhoneMin > r.PhoneMax {
		return fmt.Errorf("onboarding.rules phone_min %d exceeds phone_max %d", r.PhoneMin, r.PhoneMax)
	}
	if c.Cache.ProfileTTL != "" {
		if _, err := time.ParseDuration(c.Cache.ProfileTTL); err != nil {
			return fmt.Errorf("cache.profile_ttl: %w", err)
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// ProfileTTL parses cache.profile_ttl, falling back to the 5h default.
func (c *Config) ProfileTTL() time.Duration {
	if c.Cache.ProfileTTL == "" {
		return defaultProfileTTL
	}
	d, err := time.ParseDuration(c.Cache.ProfileTTL)
	if err != nil || d <= 0 {
		return defaultProfileTTL
	}
	return d
}

// Rules returns the validator bounds with defaults applied.
func (c *Config) Rules() OnboardingRules {
	r := c.Onboarding.Rules
	if r.StoreNameMin == 0 {
		r.StoreNameMin = 2
	}
	if r.OwnerNameMin == 0 {
		r.OwnerNameMin = 2
	}
	if r.BioMin == 0 {
		r.BioMin = 10
	}
	if r.BioMax == 0 {
		r.BioMax = 500
	}
	if r.PhoneMin == 0 {
		r.PhoneMin = 7
	}
	if r.PhoneMax == 0 {
		r.PhoneMax = 15
	}
	return r
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stallfront.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(marketplaceID string) string {
	return fmt.Sprintf(defaultTemplate, marketplaceID)
}

// Default returns the default Config struct for a marketplace.
func Default(marketplaceID string) *Config {
	var cfg Config
	cfg.Marketplace.ID = marketplaceID
	cfg.Marketplace.Currency = "NGN"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, marketplaceID))).Decode(&cfg)
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

const defaultTemplate = `marketplace:
  id: %s
  name: Stallfront
  currency: NGN

onboarding:
  rules:
    store_name_min: 2
    owner_name_min: 2
    bio_min: 10
    bio_max: 500
    phone_min: 7
    phone_max: 15

payments:
  base_url: https://api.paystack.co
  secret_key: ""

assets:
  base_url: ""
  api_key: ""

cache:
  profile_ttl: 5h
`
