// Package config loads daemon configuration from an optional YAML file with
// environment variable overrides. Env always wins, so secrets can stay out of
// the file entirely.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved daemon configuration.
type Config struct {
	HTTPPort string

	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string

	// AudioURL is the blob origin the consumption endpoint proxies.
	AudioURL   string
	SuccessURL string
	CancelURL  string

	// DataDir backs the embedded store; RedisURL, when set, selects the Redis
	// store instead.
	DataDir  string
	RedisURL string

	// VaultKey encrypts embedded-store files at rest. Nil disables encryption.
	VaultKey []byte

	// TLSSelfSigned makes the daemon generate and serve its own certificate.
	TLSSelfSigned bool

	// WebhookValidity bounds the lifetime of records created by webhook
	// ingestion alone.
	WebhookValidity time.Duration
}

type configFile struct {
	Server struct {
		HTTPPort      string `yaml:"http_port"`
		TLSSelfSigned bool   `yaml:"tls_self_signed"`
	} `yaml:"server"`
	Stripe struct {
		SecretKey      string `yaml:"secret_key"`
		PublishableKey string `yaml:"publishable_key"`
		WebhookSecret  string `yaml:"webhook_secret"`
	} `yaml:"stripe"`
	Content struct {
		AudioURL   string `yaml:"audio_url"`
		SuccessURL string `yaml:"success_url"`
		CancelURL  string `yaml:"cancel_url"`
	} `yaml:"content"`
	Store struct {
		DataDir         string `yaml:"data_dir"`
		RedisURL        string `yaml:"redis_url"`
		VaultKeyHex     string `yaml:"vault_key_hex"`
		WebhookValidity string `yaml:"webhook_validity"`
	} `yaml:"store"`
}

// Load resolves configuration: defaults, then the YAML file at path (missing
// file is fine), then environment variables.
func Load(path string) (Config, error) {
	cfg := Config{
		HTTPPort:        "8080",
		DataDir:         "./data",
		WebhookValidity: 24 * time.Hour,
	}

	var vaultHex string

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Server.HTTPPort != "" {
			cfg.HTTPPort = f.Server.HTTPPort
		}
		cfg.TLSSelfSigned = f.Server.TLSSelfSigned
		cfg.StripeSecretKey = f.Stripe.SecretKey
		cfg.StripePublishableKey = f.Stripe.PublishableKey
		cfg.StripeWebhookSecret = f.Stripe.WebhookSecret
		cfg.AudioURL = f.Content.AudioURL
		cfg.SuccessURL = f.Content.SuccessURL
		cfg.CancelURL = f.Content.CancelURL
		if f.Store.DataDir != "" {
			cfg.DataDir = f.Store.DataDir
		}
		cfg.RedisURL = f.Store.RedisURL
		vaultHex = f.Store.VaultKeyHex
		if f.Store.WebhookValidity != "" {
			d, parseErr := time.ParseDuration(f.Store.WebhookValidity)
			if parseErr != nil {
				return Config{}, fmt.Errorf("parse webhook_validity: %w", parseErr)
			}
			cfg.WebhookValidity = d
		}
	}

	overrideString(&cfg.HTTPPort, "ETERNAL_HTTP_PORT")
	overrideString(&cfg.StripeSecretKey, "STRIPE_SECRET_KEY")
	overrideString(&cfg.StripePublishableKey, "STRIPE_PUBLISHABLE_KEY")
	overrideString(&cfg.StripeWebhookSecret, "STRIPE_WEBHOOK_SECRET")
	overrideString(&cfg.AudioURL, "AUDIO_URL")
	overrideString(&cfg.SuccessURL, "SUCCESS_URL")
	overrideString(&cfg.CancelURL, "CANCEL_URL")
	overrideString(&cfg.DataDir, "ETERNAL_DATA_DIR")
	overrideString(&cfg.RedisURL, "ETERNAL_REDIS_URL")
	overrideString(&vaultHex, "ETERNAL_VAULT_KEY")
	switch os.Getenv("ETERNAL_TLS_SELF_SIGNED") {
	case "true":
		cfg.TLSSelfSigned = true
	case "false":
		cfg.TLSSelfSigned = false
	}

	if vaultHex != "" {
		key, decodeErr := hex.DecodeString(vaultHex)
		if decodeErr != nil {
			return Config{}, fmt.Errorf("vault key is not hex: %w", decodeErr)
		}
		if len(key) != 32 {
			return Config{}, fmt.Errorf("vault key must be 32 bytes, got %d", len(key))
		}
		cfg.VaultKey = key
	}

	if cfg.StripeSecretKey == "" {
		return Config{}, fmt.Errorf("missing STRIPE_SECRET_KEY")
	}
	if cfg.AudioURL == "" {
		return Config{}, fmt.Errorf("missing AUDIO_URL")
	}
	return cfg, nil
}

func overrideString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
