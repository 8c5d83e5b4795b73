// Package config loads the daemon settings: a YAML file merged over defaults,
// then environment overrides. The daemon never writes the file back.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nostr-signer/go-backend/internal/engine"
	"nostr-signer/go-backend/internal/relay"
	"nostr-signer/go-backend/internal/signer"
	"nostr-signer/go-backend/internal/wallet"
)

const (
	DefaultRPCAddr   = "127.0.0.1:7647"
	defaultKeyFile   = "device.key"
	defaultStateFile = "approvals.enc"
)

var ErrNoRelay = errors.New("no relay endpoint configured and no wallet pairing relay to fall back to")

type Config struct {
	Relay    relay.Config   `yaml:"relay"`
	Signer   signer.Config  `yaml:"signer"`
	Wallet   wallet.Config  `yaml:"wallet"`
	Engine   engine.Config  `yaml:"engine"`
	Identity IdentityConfig `yaml:"identity"`
	RPC      RPCConfig      `yaml:"rpc"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type IdentityConfig struct {
	KeyFile string `yaml:"keyFile"`
	// StateFile holds remembered approvals, sealed with the key passphrase.
	StateFile string `yaml:"stateFile"`
}

// StatePath returns StateFile, or approvals.enc next to the key file.
func (c IdentityConfig) StatePath() string {
	if c.StateFile != "" {
		return c.StateFile
	}
	return filepath.Join(filepath.Dir(c.KeyFile), defaultStateFile)
}

type RPCConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
	// RequireToken refuses to start the RPC server without a token.
	RequireToken       bool    `yaml:"requireToken"`
	RateLimitRPS       float64 `yaml:"rateLimitRPS"`
	RateLimitBurst     int     `yaml:"rateLimitBurst"`
	StreamMaxGlobal    int     `yaml:"streamMaxGlobal"`
	StreamMaxPerClient int     `yaml:"streamMaxPerClient"`
}

type MetricsConfig struct {
	// Addr is empty when the metrics listener is disabled.
	Addr    string `yaml:"addr"`
	Runtime bool   `yaml:"runtime"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() Config {
	return Config{
		Relay:    relay.DefaultConfig(),
		Signer:   signer.DefaultConfig(),
		Wallet:   wallet.DefaultConfig(),
		Engine:   engine.DefaultConfig(),
		Identity: IdentityConfig{KeyFile: defaultKeyPath()},
		RPC: RPCConfig{
			Addr:               DefaultRPCAddr,
			RateLimitRPS:       30,
			RateLimitBurst:     60,
			StreamMaxGlobal:    32,
			StreamMaxPerClient: 4,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// LoadFromPath reads configPath, or the first default location that exists,
// and returns the merged config together with the file it came from ("" when
// only defaults and environment were used).
func LoadFromPath(configPath string) (Config, string, error) {
	cfg := DefaultConfig()

	candidates := []string{configPath}
	if configPath == "" {
		candidates = []string{"configs/signer.yaml", "signer.yaml"}
	}
	source := ""
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath != "" {
				return Config{}, "", fmt.Errorf("read config %s: %w", path, err)
			}
			continue
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, "", fmt.Errorf("parse config %s: %w", path, err)
		}
		source = path
		break
	}

	ApplyEnvOverrides(&cfg, os.Getenv)
	return Normalize(cfg), source, nil
}

func ApplyEnvOverrides(cfg *Config, getenv func(string) string) {
	set := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	set("SIGNER_RELAY_URL", &cfg.Relay.Endpoint)
	set("SIGNER_NWC_URL", &cfg.Wallet.PairingURL)
	set("SIGNER_RPC_ADDR", &cfg.RPC.Addr)
	set("SIGNER_RPC_TOKEN", &cfg.RPC.Token)
	set("SIGNER_METRICS_ADDR", &cfg.Metrics.Addr)
	set("SIGNER_KEY_FILE", &cfg.Identity.KeyFile)
	set("SIGNER_STATE_FILE", &cfg.Identity.StateFile)
	set("SIGNER_CONNECT_SECRET", &cfg.Signer.ConnectSecret)
	set("SIGNER_LOG_LEVEL", &cfg.Logging.Level)

	if raw := strings.TrimSpace(getenv("SIGNER_AUTO_APPROVE_KINDS")); raw != "" {
		cfg.Signer.AutoApproveKinds = parseKinds(raw)
	}
	if v, ok := parseBool(getenv("SIGNER_REQUIRE_RPC_TOKEN")); ok {
		cfg.RPC.RequireToken = v
	}
}

// Normalize fills zero values from defaults. It never fails; Validate reports
// settings the daemon cannot run with.
func Normalize(cfg Config) Config {
	def := DefaultConfig()
	cfg.Relay = relay.NormalizeConfig(cfg.Relay)
	cfg.Signer = signer.NormalizeConfig(cfg.Signer)
	cfg.Wallet = wallet.NormalizeConfig(cfg.Wallet)
	cfg.Engine = engine.NormalizeConfig(cfg.Engine)

	cfg.Identity.KeyFile = strings.TrimSpace(cfg.Identity.KeyFile)
	cfg.Identity.StateFile = strings.TrimSpace(cfg.Identity.StateFile)
	if cfg.Identity.KeyFile == "" {
		cfg.Identity.KeyFile = def.Identity.KeyFile
	}
	cfg.RPC.Addr = strings.TrimSpace(cfg.RPC.Addr)
	if cfg.RPC.Addr == "" {
		cfg.RPC.Addr = def.RPC.Addr
	}
	cfg.RPC.Token = strings.TrimSpace(cfg.RPC.Token)
	if cfg.RPC.RateLimitRPS <= 0 {
		cfg.RPC.RateLimitRPS = def.RPC.RateLimitRPS
	}
	if cfg.RPC.RateLimitBurst <= 0 {
		cfg.RPC.RateLimitBurst = def.RPC.RateLimitBurst
	}
	if cfg.RPC.StreamMaxGlobal <= 0 {
		cfg.RPC.StreamMaxGlobal = def.RPC.StreamMaxGlobal
	}
	if cfg.RPC.StreamMaxPerClient <= 0 {
		cfg.RPC.StreamMaxPerClient = def.RPC.StreamMaxPerClient
	}
	cfg.Metrics.Addr = strings.TrimSpace(cfg.Metrics.Addr)
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
		cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	default:
		cfg.Logging.Format = def.Logging.Format
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	return cfg
}

func (c Config) Validate() error {
	if c.Relay.Endpoint == "" && c.Wallet.PairingURL == "" {
		return ErrNoRelay
	}
	if c.Relay.Endpoint != "" {
		if err := relay.ValidateEndpoint(c.Relay.Endpoint); err != nil {
			return err
		}
	}
	if c.Wallet.PairingURL != "" {
		if _, err := wallet.ParsePairingURL(c.Wallet.PairingURL); err != nil {
			return fmt.Errorf("wallet pairing url: %w", err)
		}
	}
	if c.RPC.RequireToken && c.RPC.Token == "" {
		return errors.New("rpc token is required (SIGNER_RPC_TOKEN)")
	}
	return nil
}

// Timeouts is a compact view used in the startup log line.
func (c Config) Timeouts() map[string]time.Duration {
	return map[string]time.Duration{
		"approval":     c.Signer.ApprovalTimeout,
		"request":      c.Wallet.RequestTimeout,
		"activity":     c.Relay.ActivityTimeout,
		"notification": c.Wallet.NotificationTimeout,
	}
}

func parseKinds(raw string) []int {
	var kinds []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			continue
		}
		kinds = append(kinds, n)
	}
	return kinds
}

func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func defaultKeyPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return defaultKeyFile
	}
	return filepath.Join(dir, "nostr-signer", defaultKeyFile)
}
