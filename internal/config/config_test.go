package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func resetViper() {
	viper.Reset()
}

const defaultYAML = `
node:
  ilp_address: g.connector
  asset_code: USD
  asset_scale: 2
listen:
  http_addr: ":7768"
  btp_addr: ":7769"
ccp:
  broadcast_interval_ms: 30000
exchange_rate:
  spread_percent: 0.5
rate_limit:
  default_packets_per_minute: 6000
`

func TestLoadParsesDefaultConfig(t *testing.T) {
	resetViper()
	dir := t.TempDir()
	configDir := filepath.Join(dir, "config")
	if err := os.Mkdir(configDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, configDir, "default.yaml", defaultYAML)

	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Node.ILPAddress != "g.connector" {
		t.Fatalf("unexpected ilp_address: %s", cfg.Node.ILPAddress)
	}
	if cfg.Node.AssetScale != 2 {
		t.Fatalf("unexpected asset_scale: %d", cfg.Node.AssetScale)
	}
	if cfg.Settlement.MaxAttempts != 10 {
		t.Fatalf("expected default max_attempts of 10, got %d", cfg.Settlement.MaxAttempts)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("expected default store backend of memory, got %s", cfg.Store.Backend)
	}
	if cfg.Listen.HTTPPath == "" {
		t.Fatal("expected default http path to be set")
	}
}

func TestLoadMergesEnvironmentOverlay(t *testing.T) {
	resetViper()
	dir := t.TempDir()
	configDir := filepath.Join(dir, "config")
	if err := os.Mkdir(configDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, configDir, "default.yaml", defaultYAML)
	writeConfigFile(t, configDir, "production.yaml", `
node:
  ilp_address: g.connector.prod
`)

	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("production")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Node.ILPAddress != "g.connector.prod" {
		t.Fatalf("expected overlay to override ilp_address, got %s", cfg.Node.ILPAddress)
	}
	if cfg.Node.AssetCode != "USD" {
		t.Fatalf("expected base config value to survive merge, got %s", cfg.Node.AssetCode)
	}
}
