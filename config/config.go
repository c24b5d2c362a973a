package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"assetmech/crypto"
	"assetmech/observability/logging"
)

const (
	DefaultRPCAddress = ":8080"
	DefaultDataDir    = "./settlement-data"
	DefaultChainID    = uint64(187001)
	DefaultSecretEnv  = "SETTLEMENT_ORACLE_JWT_SECRET"
)

// Config holds the node level settings of settlementd.
type Config struct {
	RPCAddress        string       `toml:"RPCAddress"`
	DataDir           string       `toml:"DataDir"`
	ChainID           uint64       `toml:"ChainID"`
	Env               string       `toml:"Env"`
	LogLevel          string       `toml:"LogLevel"`
	Log               logging.File `toml:"Log"`
	AdminKeystorePath string       `toml:"AdminKeystorePath"`
	CataloguePath     string       `toml:"CataloguePath"`
	JournalDSN        string       `toml:"JournalDSN"`
	OracleSecretEnv   string       `toml:"OracleSecretEnv"`
	RateLimit         RateLimit    `toml:"RateLimit"`
	Addresses         Addresses    `toml:"Addresses"`
}

// RateLimit bounds requests per client on the HTTP surface.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Addresses pins the accounts of the singleton engines.
type Addresses struct {
	Exchange    string `toml:"Exchange"`
	Factory     string `toml:"Factory"`
	Coordinator string `toml:"Coordinator"`
}

type loadOptions struct {
	passphrase func() (string, error)
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

// WithKeystorePassphrase supplies the passphrase used to create or unlock the
// admin keystore.
func WithKeystorePassphrase(passphrase string) LoadOption {
	return WithKeystorePassphraseSource(func() (string, error) { return passphrase, nil })
}

// WithKeystorePassphraseSource resolves the passphrase lazily, only when a
// new admin key has to be written.
func WithKeystorePassphraseSource(source func() (string, error)) LoadOption {
	return func(o *loadOptions) { o.passphrase = source }
}

func (o loadOptions) resolvePassphrase() (string, error) {
	if o.passphrase == nil {
		return "", errNoPassphrase
	}
	return o.passphrase()
}

var errNoPassphrase = errors.New("config: keystore passphrase required to create admin key")

// Load loads the configuration from the given path, writing a default file and
// admin keystore when none exist yet.
func Load(path string, opts ...LoadOption) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, o)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
	}
	cfg.normalize(path)
	if err := ensureKeystore(path, cfg, o); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) normalize(configPath string) {
	cfg.RPCAddress = strings.TrimSpace(cfg.RPCAddress)
	if cfg.RPCAddress == "" {
		cfg.RPCAddress = DefaultRPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = DefaultChainID
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.OracleSecretEnv == "" {
		cfg.OracleSecretEnv = DefaultSecretEnv
	}
	if cfg.JournalDSN == "" {
		cfg.JournalDSN = filepath.Join(cfg.DataDir, "journal.db")
	}
	if cfg.CataloguePath == "" {
		cfg.CataloguePath = filepath.Join(filepath.Dir(configPath), "catalogue.yaml")
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
}

// OracleSecret reads the HS256 secret used to verify oracle tokens.
func (cfg *Config) OracleSecret() []byte {
	return []byte(strings.TrimSpace(os.Getenv(cfg.OracleSecretEnv)))
}

// LoggingOptions converts the logging section for logging.Setup.
func (cfg *Config) LoggingOptions() logging.Options {
	return logging.Options{Level: cfg.LogLevel, File: cfg.Log}
}

func ensureKeystore(configPath string, cfg *Config, o loadOptions) error {
	keystorePath := cfg.AdminKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		passphrase, passErr := o.resolvePassphrase()
		if passErr != nil {
			return passErr
		}
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.AdminKeystorePath != keystorePath {
		cfg.AdminKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string, o loadOptions) (*Config, error) {
	passphrase, err := o.resolvePassphrase()
	if err != nil {
		return nil, err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}

	cfg := &Config{
		Log: logging.File{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14, Compress: true},
	}
	cfg.normalize(path)
	cfg.AdminKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "admin.keystore")
}
