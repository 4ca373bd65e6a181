// Package config provides configuration management.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"flexplan/internal/logging"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "FLEXPLAN_"

// Config is the main application configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version"`

	// Billing contains billing service settings
	Billing BillingConfig `json:"billing"`

	// Ledger contains ledger settings
	Ledger LedgerConfig `json:"ledger"`

	// Output contains output configuration
	Output OutputConfig `json:"output"`

	// Metrics contains instrumentation settings
	Metrics MetricsConfig `json:"metrics"`

	// Webhook announces finished provisioning runs
	Webhook WebhookConfig `json:"webhook"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging"`
}

// BillingConfig contains billing service settings
type BillingConfig struct {
	// BaseURL is the billing API root
	BaseURL string `json:"base_url"`

	// TimeoutSeconds bounds each HTTP request
	TimeoutSeconds int `json:"timeout_seconds"`

	// MaxRetries is how often idempotent reads are retried
	MaxRetries int `json:"max_retries"`

	// CredentialsFile is the INI file holding access tokens
	CredentialsFile string `json:"credentials_file"`

	// Profile selects the credentials section
	Profile string `json:"profile"`
}

// Timeout returns the request timeout as a duration
func (b BillingConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// LedgerConfig contains ledger settings
type LedgerConfig struct {
	// BillingContract is the address granted the deposit allowance
	BillingContract string `json:"billing_contract"`

	// SandboxDB is the sqlite file backing the local sandbox ledger
	SandboxDB string `json:"sandbox_db"`

	// SandboxFunds is the wallet balance a new sandbox account starts with
	SandboxFunds string `json:"sandbox_funds"`
}

// OutputConfig contains output-related settings
type OutputConfig struct {
	// DefaultFormat is the default output format (text, json)
	DefaultFormat string `json:"default_format"`

	// Color enables colored terminal output
	Color bool `json:"color"`

	// TokenPriceUSD enables fiat estimates when set
	TokenPriceUSD string `json:"token_price_usd,omitempty"`
}

// TokenPrice returns the configured token price, zero when unset or invalid
func (o OutputConfig) TokenPrice() decimal.Decimal {
	if o.TokenPriceUSD == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(o.TokenPriceUSD)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// MetricsConfig contains instrumentation settings
type MetricsConfig struct {
	// Enabled records pipeline metrics
	Enabled bool `json:"enabled"`

	// Listen is the address /metrics is served on by the sandbox server
	Listen string `json:"listen"`
}

// WebhookConfig contains provisioning notification settings
type WebhookConfig struct {
	// URL receives one POST per run; empty disables notifications
	URL string `json:"url,omitempty"`

	// Provider formats the body: custom, slack or teams
	Provider string `json:"provider,omitempty"`

	// Secret signs custom payloads
	Secret string `json:"secret,omitempty"`

	// Retries is how often a failed delivery is retried
	Retries int `json:"retries"`
}

// Dir returns the per-user configuration directory
func Dir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".flexplan")
}

// DefaultPath returns the default configuration file path
func DefaultPath() string {
	return filepath.Join(Dir(), "config.json")
}

// Default returns a default configuration
func Default() *Config {
	dir := Dir()

	return &Config{
		Version: "1.0",
		Billing: BillingConfig{
			BaseURL:         "http://127.0.0.1:8480",
			TimeoutSeconds:  30,
			MaxRetries:      3,
			CredentialsFile: filepath.Join(dir, "credentials"),
			Profile:         "default",
		},
		Ledger: LedgerConfig{
			BillingContract: "0x0000000000000000000000000000000000b111",
			SandboxDB:       filepath.Join(dir, "sandbox.db"),
			SandboxFunds:    "10000",
		},
		Output: OutputConfig{
			DefaultFormat: "text",
			Color:         true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9480",
		},
		Webhook: WebhookConfig{
			Provider: "custom",
			Retries:  2,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return config, nil
}

// LoadWithEnv loads the file at path, then applies .env files and the
// process environment, in that order of increasing precedence.
func LoadWithEnv(path string, envFiles ...string) (*Config, error) {
	config, err := Load(path)
	if err != nil {
		return nil, err
	}

	env, err := ReadEnvFiles(envFiles...)
	if err != nil {
		return nil, err
	}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}

	if err := config.ApplyEnv(env); err != nil {
		return nil, err
	}
	return config, nil
}

// ReadEnvFiles merges the given .env files; later files win. Missing files
// are skipped.
func ReadEnvFiles(paths ...string) (map[string]string, error) {
	merged := make(map[string]string)
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		values, err := godotenv.Read(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		for k, v := range values {
			merged[k] = v
		}
	}
	return merged, nil
}

// ApplyEnv overrides fields from FLEXPLAN_* variables
func (c *Config) ApplyEnv(env map[string]string) error {
	str := func(key string, dst *string) {
		if v, ok := env[EnvPrefix+key]; ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := env[EnvPrefix+key]
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := env[EnvPrefix+key]
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
		return nil
	}

	str("BILLING_URL", &c.Billing.BaseURL)
	str("CREDENTIALS_FILE", &c.Billing.CredentialsFile)
	str("PROFILE", &c.Billing.Profile)
	str("BILLING_CONTRACT", &c.Ledger.BillingContract)
	str("SANDBOX_DB", &c.Ledger.SandboxDB)
	str("SANDBOX_FUNDS", &c.Ledger.SandboxFunds)
	str("TOKEN_PRICE_USD", &c.Output.TokenPriceUSD)
	str("OUTPUT_FORMAT", &c.Output.DefaultFormat)
	str("METRICS_LISTEN", &c.Metrics.Listen)
	str("WEBHOOK_URL", &c.Webhook.URL)
	str("WEBHOOK_PROVIDER", &c.Webhook.Provider)
	str("WEBHOOK_SECRET", &c.Webhook.Secret)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_OUTPUT", &c.Logging.Output)

	if err := num("BILLING_TIMEOUT", &c.Billing.TimeoutSeconds); err != nil {
		return err
	}
	if err := num("BILLING_RETRIES", &c.Billing.MaxRetries); err != nil {
		return err
	}
	if err := flag("METRICS_ENABLED", &c.Metrics.Enabled); err != nil {
		return err
	}
	return flag("COLOR", &c.Output.Color)
}

// Validate checks the settings every command depends on
func (c *Config) Validate() error {
	u, err := url.Parse(c.Billing.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("billing.base_url %q is not an absolute URL", c.Billing.BaseURL)
	}
	if c.Billing.TimeoutSeconds <= 0 {
		return fmt.Errorf("billing.timeout_seconds must be positive")
	}
	if c.Billing.MaxRetries < 0 {
		return fmt.Errorf("billing.max_retries cannot be negative")
	}
	if c.Ledger.BillingContract == "" {
		return fmt.Errorf("ledger.billing_contract is required")
	}
	if c.Ledger.SandboxFunds != "" {
		if _, err := decimal.NewFromString(c.Ledger.SandboxFunds); err != nil {
			return fmt.Errorf("ledger.sandbox_funds: %w", err)
		}
	}
	if c.Webhook.URL != "" {
		if u, err := url.Parse(c.Webhook.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("webhook.url %q is not an absolute URL", c.Webhook.URL)
		}
		switch c.Webhook.Provider {
		case "", "custom", "slack", "teams":
		default:
			return fmt.Errorf("webhook.provider %q must be custom, slack or teams", c.Webhook.Provider)
		}
	}
	switch c.Output.DefaultFormat {
	case "text", "json":
	default:
		return fmt.Errorf("output.default_format %q must be text or json", c.Output.DefaultFormat)
	}
	return nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Global configuration instance
var globalConfig = Default()

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// Set sets the global configuration
func Set(config *Config) {
	globalConfig = config
}
