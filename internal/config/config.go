// config.go - Daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"veil/internal/hashing"
)

// Config is the daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Vault     VaultConfig     `yaml:"vault"`
	Threat    ThreatConfig    `yaml:"threat"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Mixer     MixerConfig     `yaml:"mixer"`
	P2P       P2PConfig       `yaml:"p2p"`
}

type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig selects the ledger backend. SnapshotPath is used by the memory backend
// to save on shutdown and restore on start.
type StorageConfig struct {
	Backend      string `yaml:"backend"`
	Path         string `yaml:"path"`
	SnapshotPath string `yaml:"snapshot_path"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Encoding   string `yaml:"encoding"`
	File       string `yaml:"file"`
	AuditFile  string `yaml:"audit_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// VaultConfig selects the signature verifier. DilithiumKeys holds hex packed mode3 public
// keys registered with the dilithium verifier.
type VaultConfig struct {
	DefaultTimeLock time.Duration `yaml:"default_time_lock"`
	Verifier        string        `yaml:"verifier"`
	DilithiumKeys   []string      `yaml:"dilithium_keys,omitempty"`
}

// ThreatConfig sets the sampling window for vault signature attempts.
type ThreatConfig struct {
	Window time.Duration `yaml:"window"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type MixerConfig struct {
	SNARK SNARKConfig `yaml:"snark"`
}

type SNARKConfig struct {
	Enabled bool   `yaml:"enabled"`
	KeyDir  string `yaml:"key_dir"`
}

// P2PConfig enables announcement gossip when Listen is set. ScanKey is a hex master
// private key; with it the node records payments addressed to that key.
type P2PConfig struct {
	NodeID         string        `yaml:"node_id"`
	Listen         string        `yaml:"listen"`
	Peers          []string      `yaml:"peers"`
	ScanKey        string        `yaml:"scan_key,omitempty"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"

	VerifierLength    = "length"
	VerifierDilithium = "dilithium"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:      BackendBolt,
			Path:         "data/ledger.db",
			SnapshotPath: "data/ledger.json",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Encoding:   "json",
			AuditFile:  "logs/audit.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Vault: VaultConfig{
			DefaultTimeLock: 24 * time.Hour,
			Verifier:        VerifierLength,
		},
		Threat: ThreatConfig{Window: time.Second},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Mixer: MixerConfig{SNARK: SNARKConfig{KeyDir: "keys"}},
		P2P:   P2PConfig{NodeID: "veil-node", HealthInterval: 30 * time.Second},
	}
}

// Load reads path, or writes and returns the defaults if it does not exist.
// Environment overrides are applied after either.
func Load(path string) (*Config, error) {
	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg = Default()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case os.IsNotExist(err):
		cfg = Default()
		if err := Save(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields from VEIL_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("VEIL_LISTEN"); ok {
		c.Server.Listen = v
	}
	if v, ok := lookup("VEIL_STORAGE_BACKEND"); ok {
		c.Storage.Backend = v
	}
	if v, ok := lookup("VEIL_STORAGE_PATH"); ok {
		c.Storage.Path = v
	}
	if v, ok := lookup("VEIL_LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := lookup("VEIL_P2P_SCAN_KEY"); ok {
		c.P2P.ScanKey = v
	}
	if v, ok := lookup("VEIL_VAULT_VERIFIER"); ok {
		c.Vault.Verifier = v
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the bolt backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Vault.Verifier {
	case VerifierLength, VerifierDilithium:
	default:
		return fmt.Errorf("unknown vault.verifier %q", c.Vault.Verifier)
	}
	if c.Vault.DefaultTimeLock < 0 {
		return fmt.Errorf("vault.default_time_lock must not be negative")
	}
	if c.Threat.Window < time.Second {
		return fmt.Errorf("threat.window must be at least 1s")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be positive")
	}
	if c.Mixer.SNARK.Enabled && c.Mixer.SNARK.KeyDir == "" {
		return fmt.Errorf("mixer.snark.key_dir is required when the snark is enabled")
	}
	if c.P2P.Listen != "" {
		if c.P2P.HealthInterval <= 0 {
			return fmt.Errorf("p2p.health_interval must be positive")
		}
		if c.P2P.ScanKey != "" {
			if _, err := hashing.ParseDigest(c.P2P.ScanKey); err != nil {
				return fmt.Errorf("p2p.scan_key: %w", err)
			}
		}
	}
	return nil
}
