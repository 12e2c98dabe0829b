package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
)

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Gateway: GatewayConfig{
			GatewayID:         uuid.NewString(),
			Name:              "meshgate",
			HeartbeatInterval: 30 * time.Second,
			CleanupInterval:   time.Hour,
		},
		Mesh: MeshConfig{
			Name:          "default",
			ConsumerGroup: "meshgate",
		},
		Tracker: TrackerConfig{
			MaxTaskAge: 24 * time.Hour,
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
			Path:    filepath.Join(home, ".meshgate", "checkpoint.db"),
		},
	}
}

// ConfigPath returns the configuration file location.
func ConfigPath() (string, error) {
	if p := os.Getenv("MESHGATE_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".meshgate", "config.json"), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	envconfig.Process("MESHGATE_GATEWAY", &cfg.Gateway)
	envconfig.Process("MESHGATE_MESH", &cfg.Mesh)
	envconfig.Process("MESHGATE_SECURITY", &cfg.Security)
	envconfig.Process("MESHGATE_CHECKPOINT", &cfg.Checkpoint)

	return cfg, nil
}

// Save writes the configuration back to its file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
