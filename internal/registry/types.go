// Package registry tracks the fleet of experiment nodes known to the
// controller: identity, capabilities, liveness, and per-node command
// history. A pluggable Store persists the full registry snapshot after
// every mutation.
package registry

import "time"

// Node status values. Status is single-valued: a successful calibration
// overwrites ONLINE, and the offline sweep overwrites both.
const (
	StatusOnline     = "ONLINE"
	StatusOffline    = "OFFLINE"
	StatusCalibrated = "CALIBRATED"
)

// CommandRecord is one entry in a node's command history.
type CommandRecord struct {
	Command   string    `json:"command"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Node is the controller-side view of one experiment node.
type Node struct {
	NodeID       string          `json:"node_id"`
	IPAddress    string          `json:"ip_address"`
	Role         string          `json:"role"`
	Capabilities []string        `json:"capabilities"`
	Status       string          `json:"status"`
	LastSeen     time.Time       `json:"last_seen"`
	History      []CommandRecord `json:"history,omitempty"`
}

// clone copies the node deeply enough that callers cannot mutate
// registry internals through the returned value.
func (n *Node) clone() Node {
	out := *n
	out.Capabilities = append([]string(nil), n.Capabilities...)
	out.History = append([]CommandRecord(nil), n.History...)
	return out
}
