// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"
	"github.com/relabs-tech/thingagent/core/logger"
	"github.com/relabs-tech/thingagent/platform/mqtt"
	"github.com/sirupsen/logrus"
)

// MessagePublisher is an interface to publish MQTT message
type MessagePublisher interface {
	PublishMessageQ1(topic string, payload []byte)
}

// Broker is the MQTT broker of the platform simulator
type Broker struct {
	p    *plugin
	ln   net.Listener
	stop func(ctx context.Context)
}

// Builder is a builder helper for the Broker
type Builder struct {
	// Listen is the TCP address of the broker, default is ":1883"
	Listen string
	// Registry receives the device messages. This is mandatory.
	Registry *Registry
	// CACertFile, CertFile and KeyFile enable mutual TLS. Either all or none must be set.
	// With TLS the certificate common name must match the MQTT client ID.
	CACertFile string
	CertFile   string
	KeyFile    string
}

// plugin is the plugin for GMQTT
type plugin struct {
	registry *Registry
	tls      bool
	rlog     *logrus.Entry

	commonNamesRwmux sync.RWMutex
	commonNames      map[net.Conn]string

	service gmqtt.Server
}

// NewBroker returns a new broker listening on the configured address. The broker will
// not actually serve until you call Start()
func NewBroker(bb *Builder) (*Broker, error) {
	if bb.Registry == nil {
		panic("Registry is missing")
	}
	listen := bb.Listen
	if len(listen) == 0 {
		listen = ":1883"
	}

	p := &plugin{
		registry:    bb.Registry,
		rlog:        logger.Default().WithField("component", "broker"),
		commonNames: make(map[net.Conn]string),
	}

	var (
		ln  net.Listener
		err error
	)
	withTLS := len(bb.CACertFile) > 0 || len(bb.CertFile) > 0 || len(bb.KeyFile) > 0
	if withTLS {
		tlsConfig, err := serverTLSConfig(bb.CACertFile, bb.CertFile, bb.KeyFile)
		if err != nil {
			return nil, err
		}
		p.tls = true
		ln, err = tls.Listen("tcp", listen, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("cannot listen on %s: %w", listen, err)
		}
	} else {
		ln, err = net.Listen("tcp", listen)
		if err != nil {
			return nil, fmt.Errorf("cannot listen on %s: %w", listen, err)
		}
	}
	return &Broker{p: p, ln: ln}, nil
}

func serverTLSConfig(caCertFile, certFile, keyFile string) (*tls.Config, error) {
	if len(caCertFile) == 0 || len(certFile) == 0 || len(keyFile) == 0 {
		return nil, fmt.Errorf("ca-cert, cert and key file are required for TLS")
	}
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
		ClientCAs:    caCertPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}, nil
}

// Addr returns the address the broker listens on
func (b *Broker) Addr() net.Addr {
	return b.ln.Addr()
}

// Start starts serving. It does not block.
func (b *Broker) Start() {
	s := gmqtt.NewServer(
		gmqtt.WithTCPListener(b.ln),
		gmqtt.WithPlugin(b.p),
	)
	s.Run()
	b.stop = func(ctx context.Context) { s.Stop(ctx) }
	b.p.rlog.WithField("addr", b.ln.Addr().String()).Infoln("started")
}

// Stop stops serving and disconnects all clients
func (b *Broker) Stop(ctx context.Context) {
	if b.stop != nil {
		b.stop(ctx)
		b.p.rlog.Infoln("stopped")
	}
}

// PublishMessageQ1 publishes an MQTT messsage with quality level 1
func (b *Broker) PublishMessageQ1(topic string, payload []byte) {
	if b.p.service == nil {
		b.p.rlog.WithField("topic", topic).Warnln("broker not started, message dropped")
		return
	}
	b.p.rlog.WithField("topic", topic).Debugf("publish %d bytes", len(payload))
	msg := gmqtt.NewMessage(topic, payload, packets.QOS_1)
	b.p.service.PublishService().Publish(msg)
}

// Load implements plugin interface
func (p *plugin) Load(service gmqtt.Server) error {
	p.service = service
	return nil
}

// Unload implements plugin interface
func (p *plugin) Unload() error {
	return nil
}

// Name implements plugin interface
func (p *plugin) Name() string { return "thingagent platform" }

// HookWrapper implements plugin interface
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnAcceptWrapper:     p.OnAcceptWrapper,
		OnConnectWrapper:    p.OnConnectWrapper,
		OnSubscribeWrapper:  p.OnSubscribeWrapper,
		OnSubscribedWrapper: p.OnSubscribedWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
	}
}

func (p *plugin) commonNameFromConnection(conn net.Conn) string {
	p.commonNamesRwmux.RLock()
	defer p.commonNamesRwmux.RUnlock()
	return p.commonNames[conn]
}

// mayConnect checks the MQTT client ID. It must be usable as a single topic segment
// and, with TLS, equal the certificate common name.
func (p *plugin) mayConnect(clientID, commonName string) bool {
	if len(clientID) == 0 || strings.ContainsAny(clientID, "/+#") {
		return false
	}
	if p.tls && clientID != commonName {
		return false
	}
	return true
}

// maySubscribe allows subscriptions to the device's own topics only
func (p *plugin) maySubscribe(clientID, topic string) bool {
	return strings.HasPrefix(topic, mqtt.DevicePrefix(clientID))
}

// ingest applies a message of a device to the registry. Messages outside of the device's
// own topics are rejected.
func (p *plugin) ingest(clientID, topic string, payload []byte) error {
	route, ok := mqtt.ParseTopic(topic)
	if !ok || route.DeviceID != clientID {
		return fmt.Errorf("topic %s: %w", topic, ErrRejected)
	}
	return p.registry.Ingest(route, payload)
}

// OnAcceptWrapper records the certificate common name of TLS clients
func (p *plugin) OnAcceptWrapper(accept gmqtt.OnAccept) gmqtt.OnAccept {
	return func(ctx context.Context, conn net.Conn) bool {
		tlsConn, ok := conn.(*tls.Conn)
		if ok {
			err := tlsConn.Handshake()
			if err != nil {
				p.rlog.WithError(err).Warnln("handshake failed")
				return false
			}
			state := tlsConn.ConnectionState()
			if len(state.VerifiedChains) == 0 || len(state.VerifiedChains[0]) == 0 {
				return false
			}
			commonName := state.VerifiedChains[0][0].Subject.CommonName

			p.commonNamesRwmux.Lock()
			p.commonNames[conn] = commonName
			p.commonNamesRwmux.Unlock()
			p.rlog.WithField("common_name", commonName).Debugln("accept")
		}
		return accept(ctx, conn)
	}
}

// OnConnectWrapper enforces the client ID policy
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		clientID := client.OptionsReader().ClientID()
		commonName := p.commonNameFromConnection(client.Connection())
		if !p.mayConnect(clientID, commonName) {
			p.rlog.WithField("client_id", clientID).Warnln("connect denied, not authorized")
			return packets.CodeNotAuthorized
		}
		p.rlog.WithField("client_id", clientID).Infoln("connect")
		return connect(ctx, client)
	}
}

// OnMsgArrivedWrapper feeds device messages into the registry
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		clientID := client.OptionsReader().ClientID()
		if err := p.ingest(clientID, msg.Topic(), msg.Payload()); err != nil {
			p.rlog.WithFields(logrus.Fields{"client_id": clientID, "topic": msg.Topic()}).WithError(err).Warnln("message dropped")
			return false
		}
		return arrived(ctx, client, msg)
	}
}

// OnSubscribeWrapper enforces topic policy
func (p *plugin) OnSubscribeWrapper(subscribe gmqtt.OnSubscribe) gmqtt.OnSubscribe {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) (qos uint8) {
		clientID := client.OptionsReader().ClientID()
		if !p.maySubscribe(clientID, topic.Name) {
			p.rlog.WithFields(logrus.Fields{"client_id": clientID, "topic": topic.Name}).Warnln("subscribe denied")
			return packets.SUBSCRIBE_FAILURE
		}
		return subscribe(ctx, client, topic)
	}
}

// OnSubscribedWrapper logs the subscription
func (p *plugin) OnSubscribedWrapper(subscribed gmqtt.OnSubscribed) gmqtt.OnSubscribed {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) {
		p.rlog.WithFields(logrus.Fields{"client_id": client.OptionsReader().ClientID(), "topic": topic.Name}).Debugln("subscribed")
		subscribed(ctx, client, topic)
	}
}
