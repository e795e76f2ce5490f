package comm

import "fmt"

// Shared lab-wide topics.
const (
	DiscoveryRequestTopic  = "lab/discovery/request"
	DiscoveryResponseTopic = "lab/discovery/response"
	CommandTopicPrefix     = "lab/commands"
	ResponseTopic          = "lab/commands/response"
)

// CommandTopic returns the addressed command topic for a node.
func CommandTopic(nodeID string) string {
	return fmt.Sprintf("%s/%s", CommandTopicPrefix, nodeID)
}

// NodeTopic returns a node-scoped topic such as <id>/cmd or <id>/status.
func NodeTopic(nodeID, suffix string) string {
	return fmt.Sprintf("%s/%s", nodeID, suffix)
}

// Node-scoped topic suffixes.
const (
	TopicSuffixCmd    = "cmd"
	TopicSuffixStatus = "status"
	TopicSuffixData   = "data"
	TopicSuffixLog    = "log"
)
