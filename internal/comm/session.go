// Package comm owns the MQTT transport session shared by every node and
// by the controller: connect/reconnect handling, topic subscription,
// outbound publishing, the periodic heartbeat publisher, and the deadman
// monitor used for heartbeat supervision.
package comm

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/manuel-valencia/lab-framework/internal/protocol"
)

// reconnectInterval is the fixed backoff between broker reconnection
// attempts after an established connection drops.
const reconnectInterval = 2 * time.Second

// MessageHandler receives inbound messages for a subscribed topic.
// Handlers are invoked in arrival order on the client's dispatch
// goroutine, so per-session message handling is serialized.
type MessageHandler func(topic string, payload []byte)

// Options configures a Session.
type Options struct {
	// ClientID is the unique node identity. Required.
	ClientID string

	// BrokerAddress and BrokerPort locate the external MQTT broker.
	BrokerAddress string
	BrokerPort    int

	// KeepAlive is the MQTT keepalive duration.
	KeepAlive time.Duration

	// ConnectTimeout bounds how long Connect blocks waiting for the
	// broker to confirm the session.
	ConnectTimeout time.Duration

	// HeartbeatInterval enables the background heartbeat publisher on
	// <ClientID>/status when greater than zero.
	HeartbeatInterval time.Duration

	// StateFunc supplies the state field for heartbeat records. When
	// nil heartbeats report "READY".
	StateFunc func() string
}

// Session maintains one publish/subscribe connection scoped to a node
// identity. All connection-state mutation is mutex guarded; background
// loops (network I/O, heartbeat publisher) are cancellable and joined
// with a bounded wait on Disconnect.
type Session struct {
	opts Options

	mu        sync.Mutex
	client    mqtt.Client
	connected bool
	subs      map[string]MessageHandler

	messageLog *MessageLog

	hbStop chan struct{}
	hbDone chan struct{}
}

// NewSession creates a disconnected session. Fails fast when the client
// id is missing.
func NewSession(opts Options) (*Session, error) {
	if opts.ClientID == "" {
		return nil, ErrMissingClientID
	}
	if opts.BrokerAddress == "" {
		opts.BrokerAddress = "localhost"
	}
	if opts.BrokerPort == 0 {
		opts.BrokerPort = 1883
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 60 * time.Second
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 30 * time.Second
	}

	return &Session{
		opts:       opts,
		subs:       make(map[string]MessageHandler),
		messageLog: NewMessageLog(MessageLogCapacity),
	}, nil
}

// ClientID returns the node identity this session is scoped to.
func (s *Session) ClientID() string {
	return s.opts.ClientID
}

// MessageLog returns the bounded audit log of inbound and outbound
// messages.
func (s *Session) MessageLog() *MessageLog {
	return s.messageLog
}

// Connect establishes the broker session, blocking until confirmation or
// the configured timeout. Calling Connect while connected is a no-op.
// After the initial connection, broker-level failures are retried with a
// fixed backoff and tracked subscriptions are restored on reconnect.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		log.Debug().Str("client_id", s.opts.ClientID).Msg("Already connected")
		return nil
	}

	broker := fmt.Sprintf("tcp://%s:%d", s.opts.BrokerAddress, s.opts.BrokerPort)
	log.Info().
		Str("client_id", s.opts.ClientID).
		Str("broker", broker).
		Msg("Connecting to MQTT broker")

	will := protocol.StatusRecord{
		State:     "OFFLINE",
		Timestamp: protocol.WireTime(time.Now()),
	}
	willPayload, _ := json.Marshal(will)

	mqttOpts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(s.opts.ClientID).
		SetKeepAlive(s.opts.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetryInterval(reconnectInterval).
		SetMaxReconnectInterval(reconnectInterval).
		SetBinaryWill(NodeTopic(s.opts.ClientID, TopicSuffixStatus), willPayload, 0, true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)

	client := mqtt.NewClient(mqttOpts)
	token := client.Connect()
	if !token.WaitTimeout(s.opts.ConnectTimeout) {
		client.Disconnect(0)
		return errors.Wrapf(ErrConnectionTimeout, "after %s", s.opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return errors.Wrap(err, "mqtt connect")
	}

	s.client = client
	s.connected = true

	// Restore any subscriptions registered before (re)connection.
	for topic, handler := range s.subs {
		if err := s.subscribeLocked(topic, handler); err != nil {
			return err
		}
	}

	if s.opts.HeartbeatInterval > 0 {
		s.startHeartbeatLocked()
	}

	log.Info().Str("client_id", s.opts.ClientID).Msg("Connected and subscribed")
	return nil
}

// Disconnect stops the heartbeat publisher, unsubscribes all topics, and
// closes the connection. Idempotent and safe when never connected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.stopHeartbeatLocked()

	client := s.client
	topics := make([]string, 0, len(s.subs))
	for topic := range s.subs {
		topics = append(topics, topic)
	}
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		if len(topics) > 0 {
			client.Unsubscribe(topics...).WaitTimeout(time.Second)
		}
		client.Disconnect(250)
	}
	log.Info().Str("client_id", s.opts.ClientID).Msg("Disconnected from broker")
}

// Connected reports whether the session currently holds a confirmed
// broker connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && s.client != nil && s.client.IsConnected()
}

// Publish serializes payload and sends it to topic. Structured payloads
// are canonically JSON-encoded; strings and raw bytes pass through.
func (s *Session) Publish(topic string, payload interface{}) error {
	s.mu.Lock()
	client := s.client
	connected := s.connected
	s.mu.Unlock()

	if !connected || client == nil {
		return errors.Wrapf(ErrNotConnected, "publish to %q", topic)
	}

	data, err := encodePayload(payload)
	if err != nil {
		return errors.Wrapf(err, "encode payload for %q", topic)
	}

	token := client.Publish(topic, 0, false, data)
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Wrapf(ErrPublishFailure, "topic %q: %v", topic, err)
	}

	s.messageLog.Append(topic, string(data))
	log.Debug().
		Str("client_id", s.opts.ClientID).
		Str("topic", topic).
		Msg("Published message")
	return nil
}

// Subscribe registers handler for topic. Subscribing to an already
// subscribed topic is a no-op.
func (s *Session) Subscribe(topic string, handler MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.client == nil {
		return errors.Wrapf(ErrNotConnected, "subscribe to %q", topic)
	}
	if _, ok := s.subs[topic]; ok {
		log.Debug().Str("topic", topic).Msg("Topic already subscribed")
		return nil
	}
	if err := s.subscribeLocked(topic, handler); err != nil {
		return err
	}
	s.subs[topic] = handler
	log.Info().Str("client_id", s.opts.ClientID).Str("topic", topic).Msg("Subscribed to topic")
	return nil
}

// Unsubscribe removes a topic subscription. Unsubscribing from a topic
// that is not subscribed is a no-op.
func (s *Session) Unsubscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.client == nil {
		return errors.Wrapf(ErrNotConnected, "unsubscribe from %q", topic)
	}
	if _, ok := s.subs[topic]; !ok {
		log.Debug().Str("topic", topic).Msg("Topic is not currently subscribed")
		return nil
	}

	token := s.client.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "unsubscribe from %q", topic)
	}
	delete(s.subs, topic)
	log.Info().Str("client_id", s.opts.ClientID).Str("topic", topic).Msg("Unsubscribed from topic")
	return nil
}

// SendHeartbeat publishes a liveness record to <ClientID>/status. It is
// silently skipped, never fatal, when the session is disconnected.
func (s *Session) SendHeartbeat() {
	if !s.Connected() {
		log.Debug().Str("client_id", s.opts.ClientID).Msg("Skipped heartbeat: not connected")
		return
	}

	state := "READY"
	if s.opts.StateFunc != nil {
		state = s.opts.StateFunc()
	}
	hb := protocol.Heartbeat{
		NodeID:    s.opts.ClientID,
		Timestamp: protocol.WireTime(time.Now()),
		State:     state,
	}

	if err := s.Publish(NodeTopic(s.opts.ClientID, TopicSuffixStatus), hb); err != nil {
		log.Error().Err(err).Str("client_id", s.opts.ClientID).Msg("Failed to send heartbeat")
	}
}

func (s *Session) subscribeLocked(topic string, handler MessageHandler) error {
	token := s.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		s.messageLog.Append(msg.Topic(), string(msg.Payload()))
		if handler != nil {
			handler(msg.Topic(), msg.Payload())
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "subscribe to %q", topic)
	}
	return nil
}

func (s *Session) startHeartbeatLocked() {
	s.hbStop = make(chan struct{})
	s.hbDone = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.SendHeartbeat()
			}
		}
	}(s.hbStop, s.hbDone)

	log.Debug().
		Str("client_id", s.opts.ClientID).
		Dur("interval", s.opts.HeartbeatInterval).
		Msg("Heartbeat publisher started")
}

func (s *Session) stopHeartbeatLocked() {
	if s.hbStop == nil {
		return
	}
	close(s.hbStop)
	select {
	case <-s.hbDone:
	case <-time.After(time.Second):
		log.Warn().Str("client_id", s.opts.ClientID).Msg("Heartbeat publisher did not stop within bound")
	}
	s.hbStop = nil
	s.hbDone = nil
}

func (s *Session) onConnect(_ mqtt.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		// Initial Connect still in progress; it handles subscriptions.
		return
	}
	for topic, handler := range s.subs {
		if err := s.subscribeLocked(topic, handler); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("Failed to restore subscription")
		}
	}
	log.Info().Str("client_id", s.opts.ClientID).Msg("Reconnected to broker")
}

func (s *Session) onConnectionLost(_ mqtt.Client, err error) {
	log.Warn().
		Err(err).
		Str("client_id", s.opts.ClientID).
		Msg("Connection lost, reconnecting with fixed backoff")
}

func encodePayload(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return json.Marshal(p)
	}
}
