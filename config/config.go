package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"factorpool/crypto"

	"github.com/BurntSushi/toml"
)

// Config holds the node-level pool parameters shared by the daemon and the
// oracle tooling. Basis-point fields are validated on load so a bad file
// fails fast instead of initializing a pool with nonsense economics.
type Config struct {
	PoolID              string `toml:"PoolID"`
	DataDir             string `toml:"DataDir"`
	MaxUtilizationBps   uint64 `toml:"MaxUtilizationBps"`
	ProtocolFeeBps      uint64 `toml:"ProtocolFeeBps"`
	OracleAddress       string `toml:"OracleAddress"`
	OracleKeystorePath  string `toml:"OracleKeystorePath"`
	OracleKeystoreEnv   string `toml:"OracleKeystoreEnv"`
	FeeRecipientAddress string `toml:"FeeRecipientAddress"`
}

const (
	maxUtilizationCeilingBps = 10_000
	protocolFeeCeilingBps    = 5_000
)

// Load reads the configuration at path, creating a default file (and a fresh
// oracle keystore next to it) when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.PoolID) == "" {
		cfg.PoolID = "default"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./pool-data"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if cfg.OracleKeystoreEnv == "" {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks the economic parameters and address fields.
func (c *Config) Validate() error {
	if c.MaxUtilizationBps == 0 || c.MaxUtilizationBps > maxUtilizationCeilingBps {
		return fmt.Errorf("MaxUtilizationBps must be in (0, %d], got %d", maxUtilizationCeilingBps, c.MaxUtilizationBps)
	}
	if c.ProtocolFeeBps > protocolFeeCeilingBps {
		return fmt.Errorf("ProtocolFeeBps must not exceed %d, got %d", protocolFeeCeilingBps, c.ProtocolFeeBps)
	}
	if addr := strings.TrimSpace(c.OracleAddress); addr != "" {
		if _, err := crypto.DecodeAddress(addr); err != nil {
			return fmt.Errorf("OracleAddress: %w", err)
		}
	}
	if addr := strings.TrimSpace(c.FeeRecipientAddress); addr != "" {
		if _, err := crypto.DecodeAddress(addr); err != nil {
			return fmt.Errorf("FeeRecipientAddress: %w", err)
		}
	}
	return nil
}

// Oracle resolves the trusted oracle signer. The explicit OracleAddress wins;
// otherwise the address is derived from the configured keystore.
func (c *Config) Oracle(passphrase string) ([20]byte, error) {
	var out [20]byte
	if addr := strings.TrimSpace(c.OracleAddress); addr != "" {
		decoded, err := crypto.DecodeAddress(addr)
		if err != nil {
			return out, err
		}
		copy(out[:], decoded.Bytes())
		return out, nil
	}
	key, err := crypto.LoadFromKeystore(c.OracleKeystorePath, passphrase)
	if err != nil {
		return out, err
	}
	return key.PubKey().EthAddress(), nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OracleKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OracleKeystorePath != keystorePath {
		cfg.OracleKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		PoolID:            "default",
		DataDir:           "./pool-data",
		MaxUtilizationBps: 9_000,
		ProtocolFeeBps:    1_000,
	}
	cfg.OracleKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "oracle.keystore")
}
