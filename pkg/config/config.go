// Package config loads fabricd's node configuration from a TOML file, with
// environment-variable overrides for container deployments.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds all fabricd node configuration.
type Config struct {
	Node    NodeConfig    `toml:"node"`
	Storage StorageConfig `toml:"storage"`
	Network NetworkConfig `toml:"network"`
	Logging LoggingConfig `toml:"logging"`
}

// NodeConfig identifies and parameterises the Matter node.
type NodeConfig struct {
	DeviceName    string `toml:"device_name"`
	VendorID      uint16 `toml:"vendor_id"`
	ProductID     uint16 `toml:"product_id"`
	Discriminator uint16 `toml:"discriminator"`
	Passcode      uint32 `toml:"passcode"`
}

// StorageConfig controls durable persistence.
type StorageConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `toml:"driver"`
	// Path is the SQLite storage directory. Ignored for the memory driver.
	Path string `toml:"path"`
}

// NetworkConfig controls transport and discovery binding.
type NetworkConfig struct {
	Port         int    `toml:"port"`
	MDNSInterface string `toml:"mdns_interface"`
	BLEHCIID     int    `toml:"ble_hci_id"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns fabricd's default configuration.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{
			DeviceName:    "Matter Device",
			VendorID:      0xFFF1,
			ProductID:     0x8001,
			Discriminator: 3840,
			Passcode:      20202021,
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
		Network: NetworkConfig{
			Port:     5540,
			BLEHCIID: 0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config from path, falling back to defaults if path does not
// exist, then applies FABRICD_* environment variable overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", filepath.Clean(path), err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// applyEnvOverrides lets container deployments override individual keys
// without a config file, using FABRICD_<SECTION>_<KEY> names.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FABRICD_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("FABRICD_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("FABRICD_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FABRICD_NETWORK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Network.Port = port
		}
	}
	if v := os.Getenv("FABRICD_NETWORK_MDNS_INTERFACE"); v != "" {
		cfg.Network.MDNSInterface = v
	}
}
