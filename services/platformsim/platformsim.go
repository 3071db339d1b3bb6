package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/thingagent/core/logger"
	"github.com/relabs-tech/thingagent/platform/broker"
)

// Service holds the configuration for this service
type Service struct {
	Listen     string `env:"PLATFORMSIM_LISTEN,default=:1883" description:"the address of the MQTT broker"`
	HTTP       string `env:"PLATFORMSIM_HTTP,default=:3001" description:"the address of the REST API"`
	CACertFile string `env:"PLATFORMSIM_CA_CERT" description:"optional CA certificate, enables TLS"`
	CertFile   string `env:"PLATFORMSIM_CERT" description:"optional server certificate, enables TLS"`
	KeyFile    string `env:"PLATFORMSIM_KEY" description:"optional server key, enables TLS"`
	LogLevel   string `env:"LOG_LEVEL,default=info" description:"the log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		panic(err)
	}
	logger.InitLogger(logger.ParseLevel(service.LogLevel))
	rlog := logger.Default()

	registry := broker.NewRegistry()
	iotBroker, err := broker.NewBroker(&broker.Builder{
		Listen:     service.Listen,
		Registry:   registry,
		CACertFile: service.CACertFile,
		CertFile:   service.CertFile,
		KeyFile:    service.KeyFile,
	})
	if err != nil {
		rlog.WithError(err).Fatalln("cannot create broker")
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	broker.NewAPI(&broker.APIBuilder{
		Registry:  registry,
		Router:    router,
		Publisher: iotBroker,
	})
	server := &http.Server{
		Addr:    service.HTTP,
		Handler: handlers.CompressHandler(handlers.RecoveryHandler(handlers.RecoveryLogger(rlog))(router)),
	}
	go func() {
		rlog.Infoln("listen on", service.HTTP)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rlog.WithError(err).Errorln("REST API stopped")
		}
	}()

	iotBroker.Start()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	<-signalCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopServer(ctx, server, rlog)
	iotBroker.Stop(ctx)
}

// stopServer shuts the server down gracefully and logs failures
func stopServer(ctx context.Context, server *http.Server, rlog *logrus.Entry) {
	if err := server.Shutdown(ctx); err != nil {
		rlog.WithError(err).Errorln("error shutting down REST API")
	}
}
