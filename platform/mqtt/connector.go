// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/relabs-tech/thingagent/core/logger"
	"github.com/relabs-tech/thingagent/platform"
	"github.com/sirupsen/logrus"
)

// Connector is a platform.Connector speaking MQTT
type Connector struct {
	broker          string
	deviceID        string
	tlsConfig       *tls.Config
	connectTimeout  time.Duration
	publishTimeout  time.Duration
	protocolVersion uint
}

// Builder is a builder helper for the Connector
type Builder struct {
	// Broker is the broker URL, for example tcp://localhost:1883. This is mandatory.
	Broker string
	// DeviceID is the MQTT client ID and the device segment of all topics. This is mandatory.
	DeviceID string
	// TLSConfig is optional
	TLSConfig *tls.Config
	// ConnectTimeout is the maximum duration of a connection attempt. Default is 10s.
	ConnectTimeout time.Duration
	// PublishTimeout is the maximum time to wait for a publish acknowledgement. Default is 5s.
	PublishTimeout time.Duration
	// ProtocolVersion is the MQTT protocol version. Default is 4 (MQTT 3.1.1).
	ProtocolVersion uint
}

// NewConnector returns a new connector. It does not connect yet.
func NewConnector(b *Builder) *Connector {
	if len(b.Broker) == 0 {
		panic("broker missing")
	}
	if len(b.DeviceID) == 0 {
		panic("device ID missing")
	}
	c := &Connector{
		broker:          b.Broker,
		deviceID:        b.DeviceID,
		tlsConfig:       b.TLSConfig,
		connectTimeout:  b.ConnectTimeout,
		publishTimeout:  b.PublishTimeout,
		protocolVersion: b.ProtocolVersion,
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = 10 * time.Second
	}
	if c.publishTimeout <= 0 {
		c.publishTimeout = 5 * time.Second
	}
	if c.protocolVersion == 0 {
		c.protocolVersion = 4
	}
	return c
}

// ClientTLSConfig returns a TLS configuration which authenticates the device with the
// given certificate and trusts the broker certificates signed by the CA
func ClientTLSConfig(caCertFile, certFile, keyFile string) (*tls.Config, error) {
	crt, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("cannot load key pair: %w", err)
	}
	caCert, err := os.ReadFile(caCertFile)
	if err != nil {
		return nil, fmt.Errorf("cannot read ca-cert: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("no certificates in %s", caCertFile)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{crt},
		RootCAs:      caCertPool,
	}, nil
}

// Connect implements platform.Connector. It blocks until the broker accepted or refused
// the connection. Automatic reconnects are disabled, a lost connection is reported to
// the observer instead.
func (c *Connector) Connect(observer platform.ConnectionObserver) (platform.Session, error) {
	if observer == nil {
		return nil, errors.New("connection observer missing")
	}
	_, rlog := logger.ContextWithLoggerIdentity(context.Background(), c.deviceID)
	s := &session{
		deviceID:       c.deviceID,
		publishTimeout: c.publishTimeout,
		observer:       observer,
		nodes:          make(map[string]*node),
		rlog:           rlog,
	}

	will, _ := json.Marshal(Presence{Connected: false, Reason: "connection lost"})
	opts := paho.NewClientOptions().
		AddBroker(c.broker).
		SetClientID(c.deviceID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetOrderMatters(false).
		SetConnectTimeout(c.connectTimeout).
		SetProtocolVersion(c.protocolVersion).
		SetBinaryWill(Route{Kind: KindDevicePresence, DeviceID: c.deviceID}.Topic(), will, 1, true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)
	if c.tlsConfig != nil {
		opts.SetTLSConfig(c.tlsConfig)
	}
	s.client = paho.NewClient(opts)

	rlog.Debugln("connecting to", c.broker)
	token := s.client.Connect()
	if !token.WaitTimeout(c.connectTimeout) {
		s.client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: timed out after %s", c.broker, c.connectTimeout)
	}
	if err := token.Error(); err != nil {
		if ct, ok := token.(*paho.ConnectToken); ok && ct.ReturnCode() == packets.ErrRefusedBadProtocolVersion {
			return nil, fmt.Errorf("connect to %s: %w", c.broker, platform.ErrUnsupportedVersion)
		}
		return nil, fmt.Errorf("connect to %s: %w", c.broker, err)
	}
	return s, nil
}

// session implements platform.Session on top of a paho client
type session struct {
	deviceID       string
	publishTimeout time.Duration
	observer       platform.ConnectionObserver
	client         paho.Client
	rlog           *logrus.Entry

	mu        sync.Mutex
	nodes     map[string]*node
	closeOnce sync.Once
}

func (s *session) onConnect(client paho.Client) {
	token := client.SubscribeMultiple(InboundFilters(s.deviceID), s.route)
	if !token.WaitTimeout(s.publishTimeout) || token.Error() != nil {
		s.rlog.WithError(token.Error()).Errorln("cannot subscribe to platform notifications")
	}
	s.publish(Route{Kind: KindDevicePresence, DeviceID: s.deviceID}.Topic(),
		Presence{Connected: true, At: time.Now().UTC()}, true)
	s.rlog.Infoln("session established")
	s.observer.OnConnected(s)
}

func (s *session) onConnectionLost(client paho.Client, err error) {
	s.rlog.WithError(err).Warnln("session lost")
	s.observer.OnDisconnected()
}

// CreateNode implements platform.Session. A node created with an existing ID
// replaces the previous node for inbound notifications.
func (s *session) CreateNode(id, label string, nodeType platform.NodeType, observer platform.NodeObserver) platform.Node {
	n := &node{
		s:        s,
		id:       id,
		label:    label,
		nodeType: nodeType,
		observer: observer,
		things:   make(map[string]*thing),
	}
	s.mu.Lock()
	s.nodes[id] = n
	s.mu.Unlock()
	return n
}

// Close implements platform.Session
func (s *session) Close() {
	s.closeOnce.Do(func() {
		if s.client.IsConnected() {
			s.publish(Route{Kind: KindDevicePresence, DeviceID: s.deviceID}.Topic(),
				Presence{Connected: false, Reason: "session closed", At: time.Now().UTC()}, true)
		}
		s.client.Disconnect(250)
		s.rlog.Infoln("session closed")
	})
}

func (s *session) node(id string) *node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[id]
}

// publish sends a JSON payload with QoS 1 and waits for the acknowledgement
func (s *session) publish(topic string, payload interface{}, retained bool) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		s.rlog.WithError(err).Errorln("cannot encode payload for", topic)
		return false
	}
	token := s.client.Publish(topic, 1, retained, body)
	if !token.WaitTimeout(s.publishTimeout) {
		s.rlog.Warnln("publish timed out on", topic)
		return false
	}
	if err := token.Error(); err != nil {
		s.rlog.WithError(err).Warnln("publish failed on", topic)
		return false
	}
	return true
}

// route dispatches inbound platform notifications to the observers
func (s *session) route(_ paho.Client, msg paho.Message) {
	r, ok := ParseTopic(msg.Topic())
	if !ok || r.DeviceID != s.deviceID {
		s.rlog.Debugln("ignoring message on", msg.Topic())
		return
	}
	n := s.node(r.NodeID)
	if n == nil {
		s.rlog.WithField("node", r.NodeID).Debugln("notification for unknown node")
		return
	}

	if r.Kind == KindNodeUnregistered {
		n.setRegistered(false)
		if n.observer != nil {
			n.observer.OnNodeUnregistered(r.NodeID)
		}
		return
	}

	th := n.thing(r.ThingID)
	if th == nil {
		s.rlog.WithField("node", r.NodeID).WithField("thing", r.ThingID).Debugln("notification for unknown thing")
		return
	}
	switch r.Kind {
	case KindThingUnregistered:
		th.setRegistered(false)
		if th.observer != nil {
			th.observer.OnThingUnregistered(r.NodeID, r.ThingID)
		}
	case KindThingActions:
		if th.observer != nil {
			th.observer.OnActionReceived(r.NodeID, r.ThingID, platform.ThingActionData{
				NodeID:  r.NodeID,
				ThingID: r.ThingID,
				Message: string(msg.Payload()),
			})
		}
	case KindThingConfig:
		var config Configuration
		if err := json.Unmarshal(msg.Payload(), &config); err != nil {
			s.rlog.WithError(err).Warnln("invalid configuration for thing", r.ThingID)
			return
		}
		th.setConfiguration(platform.ThingConfiguration{
			DataReadingFrequency: time.Duration(config.DataReadingFrequencyMS) * time.Millisecond,
			ReceivedAt:           time.Now().UTC(),
		})
		if th.observer != nil {
			th.observer.OnConfigurationReceived(th)
		}
	default:
		s.rlog.Debugln("ignoring message on", msg.Topic())
	}
}
