package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/thingagent/agent"
	"github.com/relabs-tech/thingagent/core/logger"
	"github.com/relabs-tech/thingagent/peripheral"
	"github.com/relabs-tech/thingagent/platform/mqtt"
)

// Service holds the configuration for this service
//
// use AGENT_DEVICE_ID=dev-1 AGENT_BROKER=tcp://localhost:1883
type Service struct {
	DeviceID          string        `env:"AGENT_DEVICE_ID,required" description:"the device ID, used as MQTT client ID"`
	Broker            string        `env:"AGENT_BROKER,default=tcp://localhost:1883" description:"the URL of the platform broker"`
	ReconnectInterval time.Duration `env:"AGENT_RECONNECT_INTERVAL,default=10s" description:"the interval between connection attempts"`
	LedPin            string        `env:"AGENT_LED_PIN,default=BCM21" description:"the GPIO of the LED"`
	ButtonPin         string        `env:"AGENT_BUTTON_PIN,default=BCM6" description:"the GPIO of the button"`
	Topology          string        `env:"AGENT_TOPOLOGY" description:"optional YAML file with nodes and things, replaces the default topology"`
	Listen            string        `env:"AGENT_LISTEN,default=:3000" description:"the address of the status API"`
	CACertFile        string        `env:"AGENT_CA_CERT" description:"optional CA certificate for TLS"`
	CertFile          string        `env:"AGENT_CERT" description:"optional device certificate for TLS"`
	KeyFile           string        `env:"AGENT_KEY" description:"optional device key for TLS"`
	LogLevel          string        `env:"LOG_LEVEL,default=info" description:"the log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	logger.InitLogger(logger.ParseLevel(service.LogLevel))
	rlog := logger.Default()

	topology := agent.DefaultTopology(service.LedPin, service.ButtonPin)
	if len(service.Topology) > 0 {
		var err error
		topology, err = agent.LoadTopology(service.Topology)
		if err != nil {
			rlog.WithError(err).Fatalln("cannot load topology")
		}
	}
	if err := topology.Validate(); err != nil {
		rlog.WithError(err).Fatalln("invalid topology")
	}

	var tlsConfig *tls.Config
	if len(service.CACertFile) > 0 {
		var err error
		tlsConfig, err = mqtt.ClientTLSConfig(service.CACertFile, service.CertFile, service.KeyFile)
		if err != nil {
			rlog.WithError(err).Fatalln("cannot load TLS configuration")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := agent.NewMetrics(registry)

	ledger := agent.NewLedger(topology, metrics)
	periph, err := peripheral.NewPeriph()
	if err != nil {
		rlog.WithError(err).Fatalln("cannot access GPIO")
	}
	gateway := peripheral.NewGateway(periph)
	publisher := agent.NewPublisher(ledger, gateway, metrics)
	actions := agent.NewActionRouter(ledger, publisher)
	supervisor := agent.NewSupervisor(&agent.Builder{
		Connector: mqtt.NewConnector(&mqtt.Builder{
			Broker:    service.Broker,
			DeviceID:  service.DeviceID,
			TLSConfig: tlsConfig,
		}),
		Ledger:            ledger,
		Gateway:           gateway,
		KeyHandler:        publisher.HandleKey,
		NodeObserver:      actions,
		ThingObserver:     actions,
		ReconnectInterval: service.ReconnectInterval,
		Metrics:           metrics,
	})

	router := mux.NewRouter()
	logger.AddRequestID(router)
	agent.NewAPI(&agent.APIBuilder{
		Supervisor: supervisor,
		Router:     router,
		Actions:    actions,
		Gatherer:   registry,
	})
	server := &http.Server{
		Addr:    service.Listen,
		Handler: handlers.RecoveryHandler(handlers.RecoveryLogger(rlog))(router),
	}
	go func() {
		rlog.Infoln("listen on", service.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rlog.WithError(err).Errorln("status API stopped")
		}
	}()

	supervisor.Start()
	rlog.WithField("device", service.DeviceID).Infoln("agent started")

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	<-signalCh

	supervisor.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopServer(ctx, server, rlog)
	rlog.Infoln("agent stopped")
}

// stopServer shuts the server down gracefully and logs failures
func stopServer(ctx context.Context, server *http.Server, rlog *logrus.Entry) {
	if err := server.Shutdown(ctx); err != nil {
		rlog.WithError(err).Errorln("error shutting down status API")
	}
}
