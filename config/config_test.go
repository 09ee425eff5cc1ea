package config

import (
	"os"
	"testing"
)

// writeTempConfig creates a minimal configuration file required for
// LoadConfig and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `kisflow:
  name: "TestApp"
  version: "1.0"
channels:
  raw_buffer: 10
  signal_buffer: 10
  order_buffer: 10
  persist_buffer: 10
feed:
  url: "ws://localhost:21000"
  subscriptions:
    - tr_id: "H0STCNT0"
      tr_key: "069500"
strategy:
  instrument: "069500"
paper:
  initial_capital: 1940000
  fee_rate: 0.0000404
storage:
  enabled: false
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Kisflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Kisflow.Name)
	}
	if cfg.Channels.RawBuffer != 10 {
		t.Errorf("unexpected raw buffer: %d", cfg.Channels.RawBuffer)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Strategy.BandWindow != 20 {
		t.Errorf("band window default = %d, want 20", cfg.Strategy.BandWindow)
	}
	if cfg.Strategy.TakeProfit != 0.003 {
		t.Errorf("take profit default = %v, want 0.003", cfg.Strategy.TakeProfit)
	}
	if cfg.Paper.Allocations["b1"] != 0.06 || cfg.Paper.Allocations["b2"] != 0.12 {
		t.Errorf("unexpected allocation defaults: %v", cfg.Paper.Allocations)
	}
	if cfg.Feed.BackoffSec != 5 {
		t.Errorf("backoff default = %d, want 5", cfg.Feed.BackoffSec)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("APP_KEY", "env-key")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "3307")

	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Broker.AppKey != "env-key" {
		t.Errorf("app key override failed: %s", cfg.Broker.AppKey)
	}
	if cfg.Storage.Host != "db.internal" || cfg.Storage.Port != 3307 {
		t.Errorf("db override failed: %s:%d", cfg.Storage.Host, cfg.Storage.Port)
	}
}

func TestBrokerBaseURL(t *testing.T) {
	b := BrokerConfig{
		Mode:           "real",
		RealBaseURL:    "https://real",
		VirtualBaseURL: "https://virtual",
	}
	if b.BaseURL() != "https://real" {
		t.Errorf("unexpected real url: %s", b.BaseURL())
	}
	b.Mode = "virtual"
	if b.BaseURL() != "https://virtual" {
		t.Errorf("unexpected virtual url: %s", b.BaseURL())
	}
}

func TestValidateConfigMissingSubscription(t *testing.T) {
	content := `kisflow:
  name: "TestApp"
  version: "1.0"
channels:
  raw_buffer: 10
  signal_buffer: 10
  order_buffer: 10
  persist_buffer: 10
feed:
  url: "ws://localhost:21000"
strategy:
  instrument: "069500"
paper:
  initial_capital: 1940000
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatalf("expected validation error for missing subscriptions")
	}
}
