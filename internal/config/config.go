package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"freshchain/internal/domain"
	"freshchain/internal/wallet"
)

// Config models freshchain.yml.
type Config struct {
	Backend struct {
		URL string `yaml:"url"`
	} `yaml:"backend"`
	Wallet struct {
		ProviderURL     string       `yaml:"provider_url"`
		ContractAddress string       `yaml:"contract_address"`
		Chain           wallet.Chain `yaml:"chain"`
	} `yaml:"wallet"`
	Payment struct {
		KeyID        string `yaml:"key_id"`
		ScriptURL    string `yaml:"script_url"`
		MerchantName string `yaml:"merchant_name"`
		ThemeColor   string `yaml:"theme_color"`
	} `yaml:"payment"`
	DevServer DevServer `yaml:"devserver"`
}

// DevServer configures the local development backend.
type DevServer struct {
	Addr           string     `yaml:"addr"`
	JWTSecret      string     `yaml:"jwt_secret"`
	TokenTTL       string     `yaml:"token_ttl"`
	AdvancePercent float64    `yaml:"advance_percent"`
	Users          []SeedUser `yaml:"users"`
}

type SeedUser struct {
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Role          string `yaml:"role"`
	WalletAddress string `yaml:"wallet_address"`
}

// TTL parses TokenTTL, defaulting to 24h.
func (d DevServer) TTL() time.Duration {
	ttl, err := time.ParseDuration(d.TokenTTL)
	if err != nil || ttl <= 0 {
		return 24 * time.Hour
	}
	return ttl
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("config.backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config.backend.url %q is not an absolute URL", c.Backend.URL)
	}
	if c.Wallet.Chain.ID != "" && !strings.HasPrefix(c.Wallet.Chain.ID, "0x") {
		return fmt.Errorf("config.wallet.chain.id must be hex (0x...)")
	}
	if p := c.DevServer.AdvancePercent; p <= 0 || p > 1 {
		return fmt.Errorf("config.devserver.advance_percent must be greater than 0 and at most 1")
	}
	if c.DevServer.TokenTTL != "" {
		if _, err := time.ParseDuration(c.DevServer.TokenTTL); err != nil {
			return fmt.Errorf("config.devserver.token_ttl: %w", err)
		}
	}
	seen := map[string]bool{}
	for _, u := range c.DevServer.Users {
		if u.Username == "" || u.Password == "" {
			return fmt.Errorf("config.devserver.users entries need username and password")
		}
		if seen[u.Username] {
			return fmt.Errorf("config.devserver.users has duplicate username %s", u.Username)
		}
		seen[u.Username] = true
		if _, ok := domain.ParseRole(u.Role); !ok {
			return fmt.Errorf("user %s has unknown role %s", u.Username, u.Role)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "freshchain.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with freshchain config init", path)
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

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	cfg.Wallet.Chain = wallet.DefaultChain()
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Resolve loads the workspace config, falling back to defaults, and applies
// flag and FRESHCHAIN_* environment overrides bound in v.
func Resolve(workspace string, v *viper.Viper) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default()
	}
	if v == nil {
		return cfg, nil
	}
	overrides := map[string]*string{
		"backend-url":         &cfg.Backend.URL,
		"wallet-provider-url": &cfg.Wallet.ProviderURL,
		"payment-key-id":      &cfg.Payment.KeyID,
		"devserver-addr":      &cfg.DevServer.Addr,
		"jwt-secret":          &cfg.DevServer.JWTSecret,
	}
	for key, dst := range overrides {
		if val := strings.TrimSpace(v.GetString(key)); val != "" {
			*dst = val
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `backend:
  url: http://localhost:8000

wallet:
  provider_url: ""
  contract_address: ""

payment:
  key_id: ""
  script_url: https://checkout.razorpay.com/v1/checkout.js
  merchant_name: FreshChain Marketplace
  theme_color: "#14b8a6"

devserver:
  addr: 127.0.0.1:8000
  jwt_secret: freshchain-dev-secret
  token_ttl: 24h
  advance_percent: 0.3
  users:
    - {username: admin, password: admin123, role: admin, wallet_address: "0x0000000000000000000000000000000000000001"}
    - {username: producer, password: producer123, role: producer}
    - {username: retailer, password: retailer123, role: retailer}
    - {username: transporter, password: transporter123, role: transporter}
    - {username: consumer, password: consumer123, role: consumer}
`
