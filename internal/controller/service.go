package controller

import (
	"encoding/json"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/manuel-valencia/lab-framework/internal/comm"
	"github.com/manuel-valencia/lab-framework/internal/config"
	"github.com/manuel-valencia/lab-framework/internal/protocol"
	"github.com/manuel-valencia/lab-framework/internal/registry"
)

// ErrNodeUnknown means a command was addressed to a node the registry
// has never seen.
var ErrNodeUnknown = errors.New("node is not in the registry")

// Service is the controller process: one transport session, the fleet
// registry, the correlator, and the periodic offline sweep.
type Service struct {
	cfg        config.Controller
	session    *comm.Session
	registry   *registry.Registry
	correlator *Correlator
	clock      time2.Clock

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewService wires a controller from configuration. The store backs the
// registry; the session stays disconnected until Start.
func NewService(cfg config.Controller, store registry.Store, clock time2.Clock) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time2.DefaultClock
	}

	reg, err := registry.New(store, cfg.NodeTimeout, clock)
	if err != nil {
		return nil, err
	}

	session, err := comm.NewSession(comm.Options{
		ClientID:       cfg.ClientID,
		BrokerAddress:  cfg.BrokerAddress,
		BrokerPort:     cfg.BrokerPort,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:        cfg,
		session:    session,
		registry:   reg,
		correlator: NewCorrelator(session, clock),
		clock:      clock,
	}, nil
}

// Registry exposes the fleet view, e.g. to the HTTP API.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Correlator exposes command correlation, e.g. to sequence runners.
func (s *Service) Correlator() *Correlator {
	return s.correlator
}

// Start connects the transport, subscribes the controller topics, asks
// the fleet to announce itself, and begins the offline sweep.
func (s *Service) Start() error {
	if err := s.session.Connect(); err != nil {
		return errors.Wrap(err, "controller transport")
	}

	if err := s.session.Subscribe(comm.DiscoveryResponseTopic, s.handleDiscoveryResponse); err != nil {
		return err
	}
	if err := s.session.Subscribe(comm.ResponseTopic, s.handleCommandResponse); err != nil {
		return err
	}

	if err := s.RequestDiscovery(); err != nil {
		log.Warn().Err(err).Msg("Initial discovery request failed")
	}

	s.startSweep()
	log.Info().Str("controller_id", s.cfg.ClientID).Msg("Controller ready")
	return nil
}

// Stop halts the sweep and disconnects the transport.
func (s *Service) Stop() {
	s.stopSweep()
	s.session.Disconnect()
}

// RequestDiscovery asks every listening node to announce itself.
func (s *Service) RequestDiscovery() error {
	return s.session.Publish(comm.DiscoveryRequestTopic, map[string]interface{}{
		"controller_id": s.cfg.ClientID,
		"timestamp":     protocol.UnixTime(s.clock.Now()),
	})
}

// SendCommand addresses a command to a registered node. Unknown nodes
// are rejected; offline nodes get the command anyway with a warning,
// since liveness lags reality by up to one sweep.
func (s *Service) SendCommand(nodeID, command string, params map[string]interface{}, sessionID string) error {
	node, known := s.registry.Get(nodeID)
	if !known {
		return errors.Wrapf(ErrNodeUnknown, "%s", nodeID)
	}
	if node.Status == registry.StatusOffline {
		log.Warn().Str("node_id", nodeID).Str("command", command).Msg("Sending command to offline node")
	}
	return s.correlator.SendCommand(nodeID, command, params, sessionID)
}

// WaitForResponse blocks for the node's in-flight command using the
// configured default timeout.
func (s *Service) WaitForResponse(nodeID string) (*protocol.Response, error) {
	return s.correlator.WaitForResponse(nodeID, s.cfg.ResponseTimeout)
}

func (s *Service) handleDiscoveryResponse(topic string, payload []byte) {
	var info protocol.DiscoveryResponse
	if err := json.Unmarshal(payload, &info); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("JSON decode failed for discovery response")
		return
	}
	if info.NodeID == "" {
		log.Warn().Str("topic", topic).Msg("Ignored discovery response without node_id")
		return
	}
	s.registry.AddOrUpdateNode(info)
}

func (s *Service) handleCommandResponse(topic string, payload []byte) {
	var resp protocol.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("JSON decode failed for command response")
		return
	}
	if resp.NodeID == "" {
		log.Warn().Str("topic", topic).Msg("Ignored response without node_id")
		return
	}

	s.correlator.HandleResponse(&resp)
	s.registry.MarkSeen(resp.NodeID)
	s.registry.RecordCommand(resp.NodeID, resp.Command, resp.Status)
}

func (s *Service) startSweep() {
	if s.cfg.SweepInterval <= 0 {
		return
	}
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.registry.CheckForOfflineNodes()
			}
		}
	}(s.sweepStop, s.sweepDone)
}

func (s *Service) stopSweep() {
	if s.sweepStop == nil {
		return
	}
	close(s.sweepStop)
	select {
	case <-s.sweepDone:
	case <-time.After(time.Second):
		log.Warn().Msg("Offline sweep did not stop within bound")
	}
	s.sweepStop = nil
	s.sweepDone = nil
}
