// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package broker

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/thingagent/core/logger"
	"github.com/relabs-tech/thingagent/platform/mqtt"
)

// API is the RESTful interface of the platform simulator
type API struct {
	registry  *Registry
	publisher MessagePublisher
}

// APIBuilder is a builder helper for the API
type APIBuilder struct {
	// Registry is mandatory
	Registry *Registry
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Publisher sends notifications to devices. This is mandatory.
	Publisher MessagePublisher
}

// NewAPI adds the device routes to router
func NewAPI(b *APIBuilder) *API {
	if b.Registry == nil {
		panic("Registry is missing")
	}
	if b.Router == nil {
		panic("Router is missing")
	}
	if b.Publisher == nil {
		panic("Publisher is missing")
	}
	a := &API{
		registry:  b.Registry,
		publisher: b.Publisher,
	}
	a.handleRoutes(b.Router)
	return a
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	jsonData, _ := json.MarshalIndent(v, "", " ")
	w.Header().Set("Content-Type", "application/json")
	w.Write(jsonData)
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (a *API) handleRoutes(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("broker: handle route /devices GET")
	rlog.Debugln("broker: handle route /devices/{device_id} GET")
	rlog.Debugln("broker: handle route /devices/{device_id}/nodes/{node_id} DELETE")
	rlog.Debugln("broker: handle route /devices/{device_id}/nodes/{node_id}/things/{thing_id} DELETE")
	rlog.Debugln("broker: handle route /devices/{device_id}/nodes/{node_id}/things/{thing_id}/actions PUT")
	rlog.Debugln("broker: handle route /devices/{device_id}/nodes/{node_id}/things/{thing_id}/config PUT")

	router.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.registry.Devices())
	}).Methods(http.MethodGet)

	router.HandleFunc("/devices/{device_id}", func(w http.ResponseWriter, r *http.Request) {
		device, err := a.registry.Device(mux.Vars(r)["device_id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, device)
	}).Methods(http.MethodGet)

	router.HandleFunc("/devices/{device_id}/nodes/{node_id}", func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		route := mqtt.Route{Kind: mqtt.KindNodeUnregistered, DeviceID: params["device_id"], NodeID: params["node_id"]}
		if err := a.registry.UnregisterNode(route.DeviceID, route.NodeID); err != nil {
			writeError(w, err)
			return
		}
		a.publisher.PublishMessageQ1(route.Topic(), []byte("{}"))
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	router.HandleFunc("/devices/{device_id}/nodes/{node_id}/things/{thing_id}", func(w http.ResponseWriter, r *http.Request) {
		route := thingRoute(r, mqtt.KindThingUnregistered)
		if err := a.registry.UnregisterThing(route.DeviceID, route.NodeID, route.ThingID); err != nil {
			writeError(w, err)
			return
		}
		a.publisher.PublishMessageQ1(route.Topic(), []byte("{}"))
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	router.HandleFunc("/devices/{device_id}/nodes/{node_id}/things/{thing_id}/actions", func(w http.ResponseWriter, r *http.Request) {
		route := thingRoute(r, mqtt.KindThingActions)
		thing, err := a.registry.Thing(route.DeviceID, route.NodeID, route.ThingID)
		if err != nil {
			writeError(w, err)
			return
		}
		if !thing.Registered || !thing.Actionable {
			http.Error(w, "thing is not registered as actionable", http.StatusConflict)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil || len(body) == 0 {
			http.Error(w, "missing action", http.StatusBadRequest)
			return
		}
		a.publisher.PublishMessageQ1(route.Topic(), body)
		w.WriteHeader(http.StatusAccepted)
	}).Methods(http.MethodPut)

	router.HandleFunc("/devices/{device_id}/nodes/{node_id}/things/{thing_id}/config", func(w http.ResponseWriter, r *http.Request) {
		route := thingRoute(r, mqtt.KindThingConfig)
		var config mqtt.Configuration
		if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
			http.Error(w, "invalid json data", http.StatusBadRequest)
			return
		}
		if config.DataReadingFrequencyMS < 0 {
			http.Error(w, "negative data reading frequency", http.StatusBadRequest)
			return
		}
		if err := a.registry.SetConfiguration(route.DeviceID, route.NodeID, route.ThingID, config); err != nil {
			writeError(w, err)
			return
		}
		payload, _ := json.Marshal(config)
		a.publisher.PublishMessageQ1(route.Topic(), payload)
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPut)
}

func thingRoute(r *http.Request, kind mqtt.Kind) mqtt.Route {
	params := mux.Vars(r)
	return mqtt.Route{Kind: kind, DeviceID: params["device_id"], NodeID: params["node_id"], ThingID: params["thing_id"]}
}
