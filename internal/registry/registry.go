package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/rs/zerolog/log"

	"github.com/manuel-valencia/lab-framework/internal/protocol"
)

// Registry is the in-memory fleet view with write-through persistence.
// All methods are safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	nodes       map[string]*Node
	store       Store
	clock       time2.Clock
	nodeTimeout time.Duration
}

// New loads the persisted snapshot (if any) and returns a registry that
// marks nodes offline after nodeTimeout of silence.
func New(store Store, nodeTimeout time.Duration, clock time2.Clock) (*Registry, error) {
	if clock == nil {
		clock = time2.DefaultClock
	}

	nodes, err := store.Load(context.Background())
	if err != nil {
		return nil, err
	}

	return &Registry{
		nodes:       nodes,
		store:       store,
		clock:       clock,
		nodeTimeout: nodeTimeout,
	}, nil
}

// AddOrUpdateNode upserts a node from a discovery announcement and
// refreshes its liveness.
func (r *Registry) AddOrUpdateNode(info protocol.DiscoveryResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, known := r.nodes[info.NodeID]
	if !known {
		node = &Node{NodeID: info.NodeID, Status: StatusOnline}
		r.nodes[info.NodeID] = node
		log.Info().
			Str("node_id", info.NodeID).
			Str("role", info.Role).
			Strs("capabilities", info.Capabilities).
			Msg("Node registered")
	} else if node.Status == StatusOffline {
		// Only recover from OFFLINE; a CALIBRATED node keeps its status
		// through the periodic announcements.
		node.Status = StatusOnline
		log.Info().Str("node_id", info.NodeID).Msg("Node recovered")
	}

	node.IPAddress = info.IPAddress
	node.Role = info.Role
	node.Capabilities = append([]string(nil), info.Capabilities...)
	node.LastSeen = r.clock.Now()

	r.persistLocked()
}

// MarkSeen refreshes liveness for an already-known node, e.g. from a
// heartbeat or command response. Unknown ids are ignored; only discovery
// announcements carry enough metadata to register a node.
func (r *Registry) MarkSeen(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	if node.Status == StatusOffline {
		node.Status = StatusOnline
		log.Info().Str("node_id", nodeID).Msg("Node recovered")
	}
	node.LastSeen = r.clock.Now()
	r.persistLocked()
}

// Get returns a copy of the node, when known.
func (r *Registry) Get(nodeID string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return node.clone(), true
}

// List returns copies of all known nodes, ordered by id.
func (r *Registry) List() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, node.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// RecordCommand appends a command outcome to the node's history. A
// successful Calibrate additionally marks the node calibrated.
func (r *Registry) RecordCommand(nodeID, command, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		log.Warn().Str("node_id", nodeID).Str("command", command).Msg("Command recorded for unknown node")
		return
	}

	node.History = append(node.History, CommandRecord{
		Command:   command,
		Status:    status,
		Timestamp: r.clock.Now(),
	})
	if command == protocol.CommandCalibrate && status == protocol.StatusSuccess {
		node.Status = StatusCalibrated
	}
	r.persistLocked()
}

// CheckForOfflineNodes marks every node silent for longer than the
// timeout as OFFLINE. Idempotent: already-offline nodes are untouched.
// Returns the ids newly marked offline.
func (r *Registry) CheckForOfflineNodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var marked []string
	for id, node := range r.nodes {
		if node.Status == StatusOffline {
			continue
		}
		if r.clock.Since(node.LastSeen) > r.nodeTimeout {
			node.Status = StatusOffline
			marked = append(marked, id)
			log.Warn().
				Str("node_id", id).
				Time("last_seen", node.LastSeen).
				Msg("Node marked offline")
		}
	}
	if len(marked) > 0 {
		sort.Strings(marked)
		r.persistLocked()
	}
	return marked
}

func (r *Registry) persistLocked() {
	if r.store == nil {
		return
	}
	if err := r.store.Save(context.Background(), r.nodes); err != nil {
		log.Error().Err(err).Msg("Failed to persist registry snapshot")
	}
}
