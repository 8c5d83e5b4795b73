package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadFromPathMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signer.yaml")
	data := []byte(`
relay:
  endpoint: wss://relay.example.com
  pingInterval: 15s
signer:
  autoApproveKinds: [1, 7]
  approvalTimeout: 90s
wallet:
  encryption: nip44
engine:
  outboxSize: 8
rpc:
  addr: 127.0.0.1:9999
logging:
  format: JSON
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, source, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if source != path {
		t.Fatalf("unexpected source: %q", source)
	}
	if cfg.Relay.Endpoint != "wss://relay.example.com" || cfg.Relay.PingInterval != 15*time.Second {
		t.Fatalf("relay section not merged: %+v", cfg.Relay)
	}
	if cfg.Relay.ActivityTimeout != DefaultConfig().Relay.ActivityTimeout {
		t.Fatalf("unset relay fields must keep defaults, got %s", cfg.Relay.ActivityTimeout)
	}
	if !reflect.DeepEqual(cfg.Signer.AutoApproveKinds, []int{1, 7}) || cfg.Signer.ApprovalTimeout != 90*time.Second {
		t.Fatalf("signer section not merged: %+v", cfg.Signer)
	}
	if cfg.Wallet.Encryption != "nip44" {
		t.Fatalf("expected nip44, got %q", cfg.Wallet.Encryption)
	}
	if cfg.Engine.OutboxSize != 8 || cfg.Engine.SeenCacheSize != DefaultConfig().Engine.SeenCacheSize {
		t.Fatalf("engine section not merged: %+v", cfg.Engine)
	}
	if cfg.RPC.Addr != "127.0.0.1:9999" || cfg.RPC.RateLimitBurst != DefaultConfig().RPC.RateLimitBurst {
		t.Fatalf("rpc section not merged: %+v", cfg.RPC)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized format json, got %q", cfg.Logging.Format)
	}
}

func TestLoadFromPathExplicitMissingFileFails(t *testing.T) {
	if _, _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadFromPathRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("relay: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg, envMap(map[string]string{
		"SIGNER_RELAY_URL":          " wss://env.example.com ",
		"SIGNER_NWC_URL":            "nostr+walletconnect://abc",
		"SIGNER_RPC_ADDR":           "127.0.0.1:1234",
		"SIGNER_RPC_TOKEN":          "tok",
		"SIGNER_METRICS_ADDR":       "127.0.0.1:9100",
		"SIGNER_KEY_FILE":           "/tmp/k",
		"SIGNER_CONNECT_SECRET":     "s3",
		"SIGNER_AUTO_APPROVE_KINDS": "1, 7,bogus,-3",
		"SIGNER_REQUIRE_RPC_TOKEN":  "yes",
	}))
	if cfg.Relay.Endpoint != "wss://env.example.com" {
		t.Fatalf("unexpected endpoint %q", cfg.Relay.Endpoint)
	}
	if cfg.Wallet.PairingURL != "nostr+walletconnect://abc" || cfg.RPC.Addr != "127.0.0.1:1234" || cfg.RPC.Token != "tok" {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Wallet, cfg.RPC)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9100" || cfg.Identity.KeyFile != "/tmp/k" || cfg.Signer.ConnectSecret != "s3" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Signer.AutoApproveKinds, []int{1, 7}) {
		t.Fatalf("unexpected kinds: %v", cfg.Signer.AutoApproveKinds)
	}
	if !cfg.RPC.RequireToken {
		t.Fatal("expected token requirement")
	}
}

func TestValidate(t *testing.T) {
	cfg := Normalize(DefaultConfig())
	if err := cfg.Validate(); !errors.Is(err, ErrNoRelay) {
		t.Fatalf("expected ErrNoRelay, got %v", err)
	}
	cfg.Relay.Endpoint = "https://relay.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected scheme error")
	}
	cfg.Relay.Endpoint = "wss://relay.example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.RPC.RequireToken = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing token error")
	}
	cfg.RPC.Token = "tok"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeFillsZeroValues(t *testing.T) {
	cfg := Normalize(Config{})
	def := DefaultConfig()
	if cfg.RPC.Addr != DefaultRPCAddr || cfg.Identity.KeyFile != def.Identity.KeyFile {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Engine.TickInterval != def.Engine.TickInterval || cfg.Relay.MaxMessageBytes != def.Relay.MaxMessageBytes {
		t.Fatal("component configs must be normalized")
	}
	if cfg.Logging.Format != "text" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestIdentityStatePath(t *testing.T) {
	id := IdentityConfig{KeyFile: filepath.Join("keys", "device.key")}
	if got := id.StatePath(); got != filepath.Join("keys", "approvals.enc") {
		t.Fatalf("expected state next to key file, got %q", got)
	}
	id.StateFile = "/var/lib/signer/state.enc"
	if got := id.StatePath(); got != "/var/lib/signer/state.enc" {
		t.Fatalf("explicit state file must win, got %q", got)
	}
}
