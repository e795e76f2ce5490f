// Package controller implements the lab-side coordination process: the
// command/response correlator, fleet registry wiring, offline sweeps,
// and scripted experiment sequences.
package controller

import (
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/manuel-valencia/lab-framework/internal/comm"
	"github.com/manuel-valencia/lab-framework/internal/protocol"
)

var (
	// ErrUnknownCommand means the command name is outside the recognized
	// set and was never sent.
	ErrUnknownCommand = errors.New("unknown command name")

	// ErrResponseTimeout means no response arrived within the wait
	// window. The command may still complete on the node.
	ErrResponseTimeout = errors.New("timed out waiting for node response")
)

// waitPollInterval is how often WaitForResponse re-checks the pending
// flag. Command round-trips are tens of milliseconds, so finer polling
// buys nothing.
const waitPollInterval = 100 * time.Millisecond

// Publisher is the transport dependency of the correlator.
type Publisher interface {
	Publish(topic string, payload interface{}) error
}

// Correlator matches addressed commands with the responses nodes publish
// on the shared response topic. Correlation is keyed by node id alone:
// one in-flight command per node. Overlapping sends to the same node
// make the earlier wait adopt whichever response lands first; sequence
// callers serialize per node to avoid that.
type Correlator struct {
	pub   Publisher
	clock time2.Clock

	mu      sync.Mutex
	pending map[string]bool
	latest  map[string]*protocol.Response
}

// NewCorrelator builds a correlator publishing through pub.
func NewCorrelator(pub Publisher, clock time2.Clock) *Correlator {
	if clock == nil {
		clock = time2.DefaultClock
	}
	return &Correlator{
		pub:     pub,
		clock:   clock,
		pending: map[string]bool{},
		latest:  map[string]*protocol.Response{},
	}
}

// SendCommand publishes an addressed command and marks the node pending.
// It does not wait; pair with WaitForResponse.
func (c *Correlator) SendCommand(nodeID, command string, params map[string]interface{}, sessionID string) error {
	if !protocol.IsValidCommand(command) {
		return errors.Wrapf(ErrUnknownCommand, "%q", command)
	}

	cmd := protocol.Command{
		Command:   command,
		Params:    params,
		NodeID:    nodeID,
		SessionID: sessionID,
		Timestamp: protocol.UnixTime(c.clock.Now()),
	}

	// Pending is raised before the publish so a fast response cannot
	// race the flag.
	c.mu.Lock()
	c.pending[nodeID] = true
	delete(c.latest, nodeID)
	c.mu.Unlock()

	if err := c.pub.Publish(comm.CommandTopic(nodeID), cmd); err != nil {
		c.mu.Lock()
		delete(c.pending, nodeID)
		c.mu.Unlock()
		return errors.Wrapf(err, "send %s to %s", command, nodeID)
	}

	log.Info().
		Str("node_id", nodeID).
		Str("command", command).
		Str("session_id", sessionID).
		Msg("Command sent")
	return nil
}

// HandleResponse resolves the node's pending flag and stores the
// response for the waiter.
func (c *Correlator) HandleResponse(resp *protocol.Response) {
	c.mu.Lock()
	c.latest[resp.NodeID] = resp
	delete(c.pending, resp.NodeID)
	c.mu.Unlock()

	log.Info().
		Str("node_id", resp.NodeID).
		Str("command", resp.Command).
		Str("status", resp.Status).
		Float64("response_time_ms", resp.ResponseTimeMS).
		Msg("Response received")
}

// Pending reports whether the node has an unresolved command.
func (c *Correlator) Pending(nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[nodeID]
}

// WaitForResponse blocks until the node's pending command resolves or
// the timeout elapses. Returns the resolving response.
func (c *Correlator) WaitForResponse(nodeID string, timeout time.Duration) (*protocol.Response, error) {
	deadline := c.clock.Now().Add(timeout)
	for {
		c.mu.Lock()
		pending := c.pending[nodeID]
		resp := c.latest[nodeID]
		c.mu.Unlock()

		if !pending {
			if resp == nil {
				return nil, errors.Wrapf(ErrResponseTimeout, "no command in flight for %s", nodeID)
			}
			return resp, nil
		}
		if !c.clock.Now().Before(deadline) {
			return nil, errors.Wrapf(ErrResponseTimeout, "node %s after %s", nodeID, timeout)
		}
		time.Sleep(waitPollInterval)
	}
}
