// Package protocol defines the JSON wire types exchanged between the
// controller and experiment nodes over MQTT. Field names follow the
// schema used by every node implementation, so changing a tag here is a
// breaking protocol change.
package protocol

import "time"

// Command names understood by experiment nodes.
const (
	CommandCalibrate = "Calibrate"
	CommandTest      = "Test"
	CommandRun       = "Run"
	CommandTestValid = "TestValid"
	CommandRunValid  = "RunValid"
	CommandReset     = "Reset"
	CommandAbort     = "Abort"
)

// ValidCommands is the recognized command set. Anything else is rejected
// as a validation error without touching node state.
var ValidCommands = []string{
	CommandCalibrate,
	CommandTest,
	CommandRun,
	CommandTestValid,
	CommandRunValid,
	CommandReset,
	CommandAbort,
}

// IsValidCommand reports whether name is in the recognized command set.
func IsValidCommand(name string) bool {
	for _, c := range ValidCommands {
		if c == name {
			return true
		}
	}
	return false
}

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusWarning = "warning"
)

// Command is an addressed command record published by the controller on
// lab/commands/<node_id>. Immutable once sent.
type Command struct {
	Command   string                 `json:"command"`
	Params    map[string]interface{} `json:"params"`
	NodeID    string                 `json:"node_id"`
	SessionID string                 `json:"session_id"`
	Timestamp float64                `json:"timestamp"`
}

// Response is published by a node on lab/commands/response after it has
// handled a command. Consumed exactly once by the controller correlator.
type Response struct {
	Status         string  `json:"status"`
	Command        string  `json:"command"`
	NodeID         string  `json:"node_id"`
	Details        string  `json:"details"`
	Timestamp      float64 `json:"timestamp"`
	ResponseTimeMS float64 `json:"response_time_ms"`
}

// Heartbeat is the liveness record published on <node_id>/status at a
// fixed interval while a transport session is connected.
type Heartbeat struct {
	NodeID    string `json:"node_id"`
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
}

// StatusRecord is published on <node_id>/status on every state entry and
// on abort.
type StatusRecord struct {
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// LogRecord is a structured log line published on <node_id>/log.
type LogRecord struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Timestamp string `json:"timestamp"`
}

// DiscoveryResponse announces node metadata on lab/discovery/response,
// both in reply to a discovery request and periodically as the
// registry-facing heartbeat.
type DiscoveryResponse struct {
	NodeID       string   `json:"node_id"`
	IPAddress    string   `json:"ip_address"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
}

// WireTime formats t the way node payloads carry human-readable
// timestamps (millisecond precision).
func WireTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05.000")
}

// UnixTime converts t to the fractional-seconds form used by command and
// response timestamps.
func UnixTime(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
