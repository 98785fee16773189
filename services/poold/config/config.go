package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the pool stats daemon.
type Config struct {
	ListenAddress  string `yaml:"listen"`
	NodeConfigPath string `yaml:"node_config"`
	DataDir        string `yaml:"data_dir"`
	Environment    string `yaml:"environment"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8650",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8650"
	}
	cfg.NodeConfigPath = strings.TrimSpace(cfg.NodeConfigPath)
	if cfg.NodeConfigPath == "" {
		cfg.NodeConfigPath = "pool.toml"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.Environment = strings.TrimSpace(cfg.Environment)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if !strings.HasPrefix(cfg.ListenAddress, ":") && !strings.Contains(cfg.ListenAddress, ":") {
		return fmt.Errorf("listen: %q is not a host:port address", cfg.ListenAddress)
	}
	return nil
}
