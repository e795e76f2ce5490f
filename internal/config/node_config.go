// Package config provides typed, env-backed configuration for the node
// and controller processes. Every field has a documented default;
// required fields are validated at construction and fail fast with a
// typed error.
package config

import (
	"time"

	"github.com/pkg/errors"

	"github.com/manuel-valencia/lab-framework/internal/util"
)

// ErrMissingClientID is returned when a configuration lacks the required
// node identity.
var ErrMissingClientID = errors.New("config: clientID is required")

// Hardware describes the physical capabilities of a node.
type Hardware struct {
	HasSensor   bool
	HasActuator bool
}

// Capabilities returns the capability set as wire strings.
func (h Hardware) Capabilities() []string {
	caps := []string{}
	if h.HasSensor {
		caps = append(caps, "sensor")
	}
	if h.HasActuator {
		caps = append(caps, "actuator")
	}
	return caps
}

// Node configures an experiment node process.
type Node struct {
	// ClientID is the unique node identity. Required.
	ClientID string

	// Role tags the node for the controller registry (default: the
	// client id).
	Role string

	// BrokerAddress / BrokerPort locate the MQTT broker.
	BrokerAddress string
	BrokerPort    int

	// KeepAlive is the MQTT keepalive duration (default 60s).
	KeepAlive time.Duration

	// ConnectTimeout bounds the blocking connect (default 30s).
	ConnectTimeout time.Duration

	// HeartbeatInterval between <id>/status heartbeats; zero disables
	// the publisher.
	HeartbeatInterval time.Duration

	// AnnounceInterval between lab/discovery/response announcements
	// that drive the controller registry's last-seen tracking.
	AnnounceInterval time.Duration

	// DeadmanTimeout aborts running hardware when no controller traffic
	// arrives for this long; zero disables the watchdog.
	DeadmanTimeout time.Duration

	// RestAddress / RestPort locate the data-egress REST collaborator.
	RestAddress string
	RestPort    int
	RestTimeout time.Duration

	// DataDir is where experiment exports and calibration gains are
	// written (default "<ClientID>Data").
	DataDir string

	Hardware Hardware
}

// DefaultNodeConfigFromEnv builds a Node configuration from the
// environment with documented defaults.
func DefaultNodeConfigFromEnv() Node {
	clientID := util.GetEnv("LAB_NODE_ID", "")
	return Node{
		ClientID:          clientID,
		Role:              util.GetEnv("LAB_NODE_ROLE", clientID),
		BrokerAddress:     util.GetEnv("LAB_MQTT_BROKER", "localhost"),
		BrokerPort:        util.GetEnvAsInt("LAB_MQTT_PORT", 1883),
		KeepAlive:         util.GetEnvAsDuration("LAB_MQTT_KEEPALIVE", 60*time.Second),
		ConnectTimeout:    util.GetEnvAsDuration("LAB_MQTT_CONNECT_TIMEOUT", 30*time.Second),
		HeartbeatInterval: util.GetEnvAsDuration("LAB_HEARTBEAT_INTERVAL", 100*time.Millisecond),
		AnnounceInterval:  util.GetEnvAsDuration("LAB_ANNOUNCE_INTERVAL", time.Second),
		DeadmanTimeout:    util.GetEnvAsDuration("LAB_DEADMAN_TIMEOUT", 0),
		RestAddress:       util.GetEnv("LAB_REST_ADDRESS", "localhost"),
		RestPort:          util.GetEnvAsInt("LAB_REST_PORT", 5000),
		RestTimeout:       util.GetEnvAsDuration("LAB_REST_TIMEOUT", 15*time.Second),
		DataDir:           util.GetEnv("LAB_NODE_DATA_DIR", ""),
		Hardware:          hardwareFromEnv(),
	}
}

// hardwareFromEnv derives the capability set from the individual
// LAB_NODE_HAS_* switches, extended by the LAB_NODE_CAPABILITIES list
// (e.g. "sensor,actuator"). Unknown list entries are ignored.
func hardwareFromEnv() Hardware {
	hw := Hardware{
		HasSensor:   util.GetEnvAsBool("LAB_NODE_HAS_SENSOR", false),
		HasActuator: util.GetEnvAsBool("LAB_NODE_HAS_ACTUATOR", false),
	}
	for _, capability := range util.GetEnvAsStringSlice("LAB_NODE_CAPABILITIES", nil) {
		switch capability {
		case "sensor":
			hw.HasSensor = true
		case "actuator":
			hw.HasActuator = true
		}
	}
	return hw
}

// Validate fails fast when required fields are missing.
func (c Node) Validate() error {
	if c.ClientID == "" {
		return ErrMissingClientID
	}
	return nil
}
