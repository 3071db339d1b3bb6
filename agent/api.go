// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package agent

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relabs-tech/thingagent/core/logger"
	"github.com/relabs-tech/thingagent/peripheral"
)

// API is the local RESTful interface of the agent
type API struct {
	supervisor *Supervisor
	actions    *ActionRouter
}

// APIBuilder is a builder helper for the API
type APIBuilder struct {
	// Supervisor is mandatory
	Supervisor *Supervisor
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Actions is optional. When set, actions can be applied locally.
	Actions *ActionRouter
	// Gatherer is optional. When set, its metrics are served on /metrics
	Gatherer prometheus.Gatherer
}

// NewAPI adds the agent routes to the router
func NewAPI(b *APIBuilder) *API {
	if b.Supervisor == nil {
		panic("Supervisor is missing")
	}
	if b.Router == nil {
		panic("Router is missing")
	}
	a := &API{
		supervisor: b.Supervisor,
		actions:    b.Actions,
	}
	a.handleRoutes(b.Router, b.Gatherer)
	return a
}

func (a *API) handleRoutes(router *mux.Router, gatherer prometheus.Gatherer) {
	rlog := logger.Default()
	rlog.Debugln("agent: handle route /agent/status GET")
	router.HandleFunc("/agent/status", func(w http.ResponseWriter, r *http.Request) {
		jsonData, _ := json.MarshalIndent(a.supervisor.Status(), "", " ")
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	}).Methods(http.MethodGet)

	if a.actions != nil {
		rlog.Debugln("agent: handle route /agent/nodes/{node_id}/things/{thing_id}/actions PUT")
		router.HandleFunc("/agent/nodes/{node_id}/things/{thing_id}/actions", func(w http.ResponseWriter, r *http.Request) {
			params := mux.Vars(r)
			rlog := logger.FromContext(r.Context()).WithField("thing", params["node_id"]+"/"+params["thing_id"])
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			err = a.actions.Apply(params["node_id"], params["thing_id"], string(body))
			switch {
			case err == nil:
				w.WriteHeader(http.StatusNoContent)
			case errors.Is(err, ErrUnknownThing):
				http.Error(w, err.Error(), http.StatusNotFound)
			case errors.Is(err, peripheral.ErrNotOpen):
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
			default:
				http.Error(w, err.Error(), http.StatusBadRequest)
			}
			if err != nil {
				rlog.WithError(err).Debugln("action rejected")
			}
		}).Methods(http.MethodPut)
	}

	if gatherer != nil {
		rlog.Debugln("agent: handle route /metrics GET")
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}
