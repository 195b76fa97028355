package provchain

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Store backend names accepted in the configuration.
const (
	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"
	StoreBackendBadger = "badger"
)

// Config is the daemon/CLI configuration, loaded from YAML.
type Config struct {
	// DataDir holds the chain store and the artifact directory.
	DataDir string `yaml:"data_dir"`
	// KeysDir holds private_key.pem and public_key.pem.
	KeysDir string `yaml:"keys_dir"`
	// SpoolDir is polled for artifacts dropped by the capture pipeline.
	SpoolDir string `yaml:"spool_dir"`
	// StoreBackend selects the chain store: file, sqlite or badger.
	StoreBackend string `yaml:"store"`
	// ListenAddr is the status API bind address.
	ListenAddr string `yaml:"listen_addr"`
	// PollIntervalMS is the spool poll interval in milliseconds.
	PollIntervalMS int `yaml:"poll_interval_ms"`
	// VerifyIntervalMS enables periodic verification when > 0.
	VerifyIntervalMS int `yaml:"verify_interval_ms"`
	// WebhookURL, when set, receives chain and verification events as JSON.
	WebhookURL string `yaml:"webhook_url"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		DataDir:        "data",
		KeysDir:        "keys",
		SpoolDir:       "spool",
		StoreBackend:   StoreBackendSQLite,
		ListenAddr:     ":5000",
		PollIntervalMS: 2000,
	}
}

// LoadConfig reads a YAML config file and applies defaults to unset fields.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.KeysDir == "" {
		c.KeysDir = def.KeysDir
	}
	if c.SpoolDir == "" {
		c.SpoolDir = def.SpoolDir
	}
	if c.StoreBackend == "" {
		c.StoreBackend = def.StoreBackend
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.PollIntervalMS <= 0 {
		c.PollIntervalMS = def.PollIntervalMS
	}
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case StoreBackendFile, StoreBackendSQLite, StoreBackendBadger:
		return nil
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
}

// PollInterval returns the spool poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// VerifyInterval returns the periodic verification interval, 0 if disabled.
func (c Config) VerifyInterval() time.Duration {
	return time.Duration(c.VerifyIntervalMS) * time.Millisecond
}

// ArtifactsDir is where ingested artifact bytes live.
func (c Config) ArtifactsDir() string { return filepath.Join(c.DataDir, "frames") }

// OpenStore opens the configured chain store backend under DataDir.
func (c Config) OpenStore() (Store, error) {
	switch c.StoreBackend {
	case StoreBackendFile:
		return OpenFileStore(filepath.Join(c.DataDir, "chain"))
	case StoreBackendSQLite:
		return OpenSQLiteStore(filepath.Join(c.DataDir, "chain.db"))
	case StoreBackendBadger:
		return OpenBadgerStore(filepath.Join(c.DataDir, "chain.badger"))
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
}
