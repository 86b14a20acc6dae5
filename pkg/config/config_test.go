package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	if cfg != want {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[node]
device_name = "Kitchen Light"
vendor_id = 65521

[storage]
driver = "sqlite"
path = "/var/lib/fabricd"

[network]
port = 5541
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.DeviceName != "Kitchen Light" {
		t.Errorf("DeviceName = %q, want %q", cfg.Node.DeviceName, "Kitchen Light")
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/var/lib/fabricd" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Network.Port != 5541 {
		t.Errorf("Port = %d, want 5541", cfg.Network.Port)
	}
	// Unset fields keep their defaults.
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FABRICD_STORAGE_DRIVER", "sqlite")
	t.Setenv("FABRICD_NETWORK_PORT", "9999")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Network.Port != 9999 {
		t.Errorf("Network.Port = %d, want 9999", cfg.Network.Port)
	}
}
