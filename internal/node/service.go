// Package node assembles one experiment node process: transport
// session, state machine, hardware driver, and the discovery announce
// loop the controller registry relies on.
package node

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/manuel-valencia/lab-framework/internal/comm"
	"github.com/manuel-valencia/lab-framework/internal/config"
	"github.com/manuel-valencia/lab-framework/internal/fsm"
	"github.com/manuel-valencia/lab-framework/internal/hardware"
	"github.com/manuel-valencia/lab-framework/internal/protocol"
	"github.com/manuel-valencia/lab-framework/internal/util"
)

// Service runs a single experiment node.
type Service struct {
	cfg     config.Node
	session *comm.Session
	manager *fsm.Manager
	driver  hardware.Driver
	sink    fsm.DataSink

	deadman *comm.Monitor

	announceStop chan struct{}
	announceDone chan struct{}
}

// New wires a node service. The session stays disconnected until Start.
func New(cfg config.Node, driver hardware.Driver, sink fsm.DataSink) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, driver: driver, sink: sink}

	session, err := comm.NewSession(comm.Options{
		ClientID:          cfg.ClientID,
		BrokerAddress:     cfg.BrokerAddress,
		BrokerPort:        cfg.BrokerPort,
		KeepAlive:         cfg.KeepAlive,
		ConnectTimeout:    cfg.ConnectTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StateFunc: func() string {
			if s.manager == nil {
				return fsm.StateBoot.String()
			}
			return s.manager.State().String()
		},
	})
	if err != nil {
		return nil, err
	}
	s.session = session
	return s, nil
}

// Manager exposes the state machine, primarily for tests and the CLI.
func (s *Service) Manager() *fsm.Manager {
	return s.manager
}

// Start connects the transport, verifies the data service, boots the
// state machine to IDLE, and begins serving commands and discovery.
// Connection-establishment failures propagate: a node cannot usefully
// run disconnected.
func (s *Service) Start() error {
	if err := s.session.Connect(); err != nil {
		return errors.Wrap(err, "node transport")
	}

	if s.sink != nil {
		if ok := s.sink.CheckHealth(); !ok {
			s.session.Disconnect()
			return errors.New("data service is not online or did not respond to /health")
		}
	}

	manager, err := fsm.NewManager(s.cfg, s.driver, s.session, s.sink)
	if err != nil {
		s.session.Disconnect()
		return err
	}
	s.manager = manager

	if sim, ok := s.driver.(*hardware.Sim); ok {
		s.manager.SeedBias(sim.DefaultBias)
	}

	// Addressed commands arrive on both the node-scoped cmd topic and
	// the lab-wide addressed command topic.
	for _, topic := range []string{
		comm.NodeTopic(s.cfg.ClientID, comm.TopicSuffixCmd),
		comm.CommandTopic(s.cfg.ClientID),
	} {
		if err := s.session.Subscribe(topic, s.handleCommandMessage); err != nil {
			return err
		}
	}
	if err := s.session.Subscribe(comm.DiscoveryRequestTopic, s.handleDiscoveryRequest); err != nil {
		return err
	}

	// The deadman watchdog aborts running hardware when controller
	// traffic stops. It fires once; the machine then needs a Reset.
	if s.cfg.DeadmanTimeout > 0 {
		s.deadman = comm.NewMonitor(s.cfg.DeadmanTimeout, func() {
			s.manager.Abort("command link silent beyond deadman window")
		}, nil)
		s.deadman.Start()
	}

	s.startAnnounceLoop()
	log.Info().Str("node_id", s.cfg.ClientID).Msg("Node ready and listening for commands")
	return nil
}

// Stop shuts the node down: announce loop, state machine, message-log
// flush, transport.
func (s *Service) Stop() {
	s.stopAnnounceLoop()
	if s.deadman != nil {
		s.deadman.Stop()
	}

	if s.manager != nil {
		if err := s.manager.Shutdown(); err != nil {
			log.Warn().Err(err).Str("node_id", s.cfg.ClientID).Msg("State machine shutdown incomplete")
		}
	}
	s.saveMessageLog()
	s.session.Disconnect()
}

func (s *Service) handleCommandMessage(topic string, payload []byte) {
	if s.deadman != nil {
		s.deadman.Reset()
	}

	var cmd protocol.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Warn().
			Err(err).
			Str("node_id", s.cfg.ClientID).
			Str("topic", topic).
			Msg("JSON decode failed for command message")
		return
	}
	if cmd.Command == "" {
		log.Warn().
			Str("node_id", s.cfg.ClientID).
			Str("topic", topic).
			Msg("Ignored non-command message")
		return
	}

	log.Info().
		Str("node_id", s.cfg.ClientID).
		Str("command", cmd.Command).
		Str("topic", topic).
		Msg("Dispatching command")
	s.manager.HandleCommand(&cmd)
}

func (s *Service) handleDiscoveryRequest(_ string, _ []byte) {
	s.announce()
}

// announce publishes this node's metadata on the discovery response
// topic. The controller registry treats these as liveness signals.
func (s *Service) announce() {
	info := protocol.DiscoveryResponse{
		NodeID:       s.cfg.ClientID,
		IPAddress:    util.LocalIP(),
		Role:         s.cfg.Role,
		Capabilities: s.cfg.Hardware.Capabilities(),
	}
	if err := s.session.Publish(comm.DiscoveryResponseTopic, info); err != nil {
		log.Debug().Err(err).Str("node_id", s.cfg.ClientID).Msg("Discovery announce skipped")
	}
}

func (s *Service) startAnnounceLoop() {
	if s.cfg.AnnounceInterval <= 0 {
		return
	}
	s.announceStop = make(chan struct{})
	s.announceDone = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.cfg.AnnounceInterval)
		defer ticker.Stop()
		s.announce()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.announce()
			}
		}
	}(s.announceStop, s.announceDone)
}

func (s *Service) stopAnnounceLoop() {
	if s.announceStop == nil {
		return
	}
	close(s.announceStop)
	select {
	case <-s.announceDone:
	case <-time.After(time.Second):
		log.Warn().Str("node_id", s.cfg.ClientID).Msg("Announce loop did not stop within bound")
	}
	s.announceStop = nil
	s.announceDone = nil
}

func (s *Service) saveMessageLog() {
	entries := s.session.MessageLog().Entries()
	if len(entries) == 0 {
		return
	}

	logDir := s.cfg.ClientID + "Logs"
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("Failed to create log dir for message log")
		return
	}
	path := filepath.Join(logDir, fmt.Sprintf("%s_commLog.jsonl", s.cfg.ClientID))
	f, err := os.Create(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to save message log")
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to encode message log entry")
			return
		}
	}
	log.Info().Str("path", path).Msg("Message log saved")
}
