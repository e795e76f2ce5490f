package config

import (
	"time"

	"github.com/manuel-valencia/lab-framework/internal/util"
)

// Controller configures the controller process: correlator, registry,
// offline sweeper, and the HTTP API.
type Controller struct {
	// ClientID identifies the controller on the broker. Required.
	ClientID string

	// BrokerAddress / BrokerPort locate the MQTT broker.
	BrokerAddress string
	BrokerPort    int

	// ConnectTimeout bounds the blocking connect (default 30s).
	ConnectTimeout time.Duration

	// ResponseTimeout is the default wait for a command response.
	ResponseTimeout time.Duration

	// NodeTimeout is how long a node may stay silent before the sweep
	// marks it offline.
	NodeTimeout time.Duration

	// SweepInterval between offline sweeps.
	SweepInterval time.Duration

	// RegistryPath is the JSON snapshot location for the file-backed
	// registry store.
	RegistryPath string

	// RedisURL enables the Redis-backed registry store when non-empty;
	// the JSON file store is the default.
	RedisURL string

	// APIBind is the listen address of the controller HTTP API; empty
	// disables the API server.
	APIBind string
}

// DefaultControllerConfigFromEnv builds a Controller configuration from
// the environment with documented defaults.
func DefaultControllerConfigFromEnv() Controller {
	return Controller{
		ClientID:        util.GetEnv("LAB_CONTROLLER_ID", "master_node"),
		BrokerAddress:   util.GetEnv("LAB_MQTT_BROKER", "localhost"),
		BrokerPort:      util.GetEnvAsInt("LAB_MQTT_PORT", 1883),
		ConnectTimeout:  util.GetEnvAsDuration("LAB_MQTT_CONNECT_TIMEOUT", 30*time.Second),
		ResponseTimeout: util.GetEnvAsDuration("LAB_RESPONSE_TIMEOUT", 10*time.Second),
		NodeTimeout:     util.GetEnvAsDuration("LAB_NODE_TIMEOUT", 5*time.Second),
		SweepInterval:   util.GetEnvAsDuration("LAB_SWEEP_INTERVAL", time.Second),
		RegistryPath:    util.GetEnv("LAB_REGISTRY_PATH", "config/node_registry.json"),
		RedisURL:        util.GetEnv("LAB_REGISTRY_REDIS_URL", ""),
		APIBind:         util.GetEnv("LAB_API_BIND", ":8080"),
	}
}

// Validate fails fast when required fields are missing.
func (c Controller) Validate() error {
	if c.ClientID == "" {
		return ErrMissingClientID
	}
	return nil
}
