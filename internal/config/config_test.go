package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

const minimalYAML = `
stripe:
  secret_key: sk_test_file
content:
  audio_url: https://blobs.example/eternal.m4a
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPPort != "8080" {
		t.Errorf("Expected default port, got %q", cfg.HTTPPort)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("Expected default data dir, got %q", cfg.DataDir)
	}
	if cfg.WebhookValidity != 24*time.Hour {
		t.Errorf("Expected default validity, got %v", cfg.WebhookValidity)
	}
	if cfg.VaultKey != nil {
		t.Error("Vault key should be nil by default")
	}
}

func TestLoadFullFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  http_port: "9090"
  tls_self_signed: true
stripe:
  secret_key: sk_test_file
  publishable_key: pk_test_file
  webhook_secret: whsec_file
content:
  audio_url: https://blobs.example/eternal.m4a
  success_url: https://eternal.example/?done=1
store:
  data_dir: /var/lib/eternal
  vault_key_hex: `+strings.Repeat("ab", 32)+`
  webhook_validity: 48h
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPPort != "9090" || !cfg.TLSSelfSigned {
		t.Errorf("Server section not applied: %+v", cfg)
	}
	if cfg.StripePublishableKey != "pk_test_file" || cfg.StripeWebhookSecret != "whsec_file" {
		t.Errorf("Stripe section not applied: %+v", cfg)
	}
	if cfg.DataDir != "/var/lib/eternal" {
		t.Errorf("Store section not applied: %+v", cfg)
	}
	if len(cfg.VaultKey) != 32 {
		t.Errorf("Expected 32-byte vault key, got %d", len(cfg.VaultKey))
	}
	if cfg.WebhookValidity != 48*time.Hour {
		t.Errorf("Expected 48h validity, got %v", cfg.WebhookValidity)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("ETERNAL_HTTP_PORT", "7070")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_env")
	t.Setenv("ETERNAL_REDIS_URL", "redis://localhost:6379")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPPort != "7070" {
		t.Errorf("Env should override the port, got %q", cfg.HTTPPort)
	}
	if cfg.StripeSecretKey != "sk_test_env" {
		t.Errorf("Env should override the secret key, got %q", cfg.StripeSecretKey)
	}
	if cfg.RedisURL != "redis://localhost:6379" {
		t.Errorf("Env should set the redis url, got %q", cfg.RedisURL)
	}
}

func TestEnvTogglesSelfSignedTLS(t *testing.T) {
	withTLS := `
server:
  tls_self_signed: true
` + minimalYAML

	// Env can switch it off, not just on.
	t.Setenv("ETERNAL_TLS_SELF_SIGNED", "false")
	cfg, err := Load(writeConfig(t, withTLS))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TLSSelfSigned {
		t.Error("Env false should override the file")
	}

	t.Setenv("ETERNAL_TLS_SELF_SIGNED", "true")
	cfg, err = Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.TLSSelfSigned {
		t.Error("Env true should override the file")
	}

	// Unset env leaves the file value alone.
	t.Setenv("ETERNAL_TLS_SELF_SIGNED", "")
	cfg, err = Load(writeConfig(t, withTLS))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.TLSSelfSigned {
		t.Error("Empty env must not override the file")
	}
}

func TestEnvOnlyWithoutFile(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_env")
	t.Setenv("AUDIO_URL", "https://blobs.example/eternal.m4a")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load without file failed: %v", err)
	}
	if cfg.StripeSecretKey != "sk_test_env" {
		t.Errorf("Unexpected secret key: %q", cfg.StripeSecretKey)
	}
}

func TestLoadRejectsIncomplete(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Error("Expected an error when the secret key is missing")
	}

	t.Setenv("STRIPE_SECRET_KEY", "sk_test_env")
	if _, err := Load(filepath.Join(t.TempDir(), "none.yaml")); err == nil || !strings.Contains(err.Error(), "AUDIO_URL") {
		t.Errorf("Expected missing AUDIO_URL error, got %v", err)
	}
}

func TestLoadRejectsBadVaultKey(t *testing.T) {
	t.Setenv("ETERNAL_VAULT_KEY", "not-hex")
	if _, err := Load(writeConfig(t, minimalYAML)); err == nil {
		t.Error("Expected an error for a non-hex vault key")
	}

	t.Setenv("ETERNAL_VAULT_KEY", "abcd")
	if _, err := Load(writeConfig(t, minimalYAML)); err == nil {
		t.Error("Expected an error for a short vault key")
	}
}
