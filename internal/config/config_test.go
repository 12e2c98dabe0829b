package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MESHGATE_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.GatewayID == "" {
		t.Error("expected a generated gateway id")
	}
	if cfg.Mesh.Name != "default" {
		t.Errorf("expected default mesh name, got %s", cfg.Mesh.Name)
	}
	if !cfg.Checkpoint.Enabled {
		t.Error("checkpointing should default on")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	fileCfg := map[string]any{
		"gateway": map[string]any{"gatewayId": "gw-from-file", "name": "filegate"},
		"mesh":    map[string]any{"name": "prod", "kafkaBrokers": "broker-1:9092"},
	}
	data, _ := json.Marshal(fileCfg)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MESHGATE_CONFIG", path)
	t.Setenv("MESHGATE_MESH_KAFKA_BROKERS", "broker-2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.GatewayID != "gw-from-file" {
		t.Errorf("expected file value, got %s", cfg.Gateway.GatewayID)
	}
	if cfg.Mesh.Name != "prod" {
		t.Errorf("expected file mesh name, got %s", cfg.Mesh.Name)
	}
	// Environment beats the file.
	if cfg.Mesh.KafkaBrokers != "broker-2:9092" {
		t.Errorf("expected env override, got %s", cfg.Mesh.KafkaBrokers)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	t.Setenv("MESHGATE_CONFIG", path)

	cfg := DefaultConfig()
	cfg.Gateway.Name = "saved"
	if err := Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Gateway.Name != "saved" {
		t.Errorf("expected saved name, got %s", loaded.Gateway.Name)
	}
}
