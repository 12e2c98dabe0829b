// Package config provides configuration types and loading for meshgate.
package config

import "time"

// Config is the root configuration struct.
type Config struct {
	Gateway    GatewayConfig    `json:"gateway"`
	Mesh       MeshConfig       `json:"mesh"`
	Security   SecurityConfig   `json:"security"`
	Tracker    TrackerConfig    `json:"tracker"`
	Checkpoint CheckpointConfig `json:"checkpoint"`
}

// GatewayConfig identifies this gateway in the mesh.
type GatewayConfig struct {
	GatewayID         string        `json:"gatewayId" envconfig:"GATEWAY_ID"`
	Name              string        `json:"name" envconfig:"NAME"`
	Endpoint          string        `json:"endpoint,omitempty" envconfig:"ENDPOINT"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval"`
	CleanupInterval   time.Duration `json:"cleanupInterval"`
}

// MeshConfig configures the peer link.
type MeshConfig struct {
	Name          string `json:"name" envconfig:"NAME"`
	KafkaBrokers  string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	ConsumerGroup string `json:"consumerGroup" envconfig:"CONSUMER_GROUP"`
	ProxyURL      string `json:"proxyUrl,omitempty" envconfig:"PROXY_URL"`
	ProxyAPIKey   string `json:"proxyApiKey,omitempty" envconfig:"PROXY_API_KEY"`
}

// SecurityConfig holds the shared message secret.
type SecurityConfig struct {
	// SharedSecret is base64; empty generates a random per-process secret.
	SharedSecret string `json:"sharedSecret,omitempty" envconfig:"SHARED_SECRET"`
}

// TrackerConfig holds task retention settings. MaxTaskAge is loaded and saved
// with the file, but the gateway's periodic cleanup always uses the tracker's
// default 24 h cutoff.
type TrackerConfig struct {
	MaxTaskAge time.Duration `json:"maxTaskAge"`
}

// CheckpointConfig configures the state snapshot store.
type CheckpointConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Path    string `json:"path" envconfig:"PATH"`
}
