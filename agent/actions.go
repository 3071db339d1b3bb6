// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/thingagent/core/logger"
	"github.com/relabs-tech/thingagent/platform"
	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
)

// The errors of ActionRouter.Apply
var (
	ErrUnknownThing  = errors.New("unknown thing")
	ErrNotActionable = errors.New("thing is not actionable")
	ErrUnsupported   = errors.New("thing does not support actions")
)

const switchActionSchema = `{
	"type": "object",
	"required": ["state"],
	"additionalProperties": false,
	"properties": {
		"state": {"oneOf": [{"type": "boolean"}, {"enum": [0, 1]}]}
	}
}`

var switchActionLoader = gojsonschema.NewStringLoader(switchActionSchema)

// ParseSwitchAction parses an action message for a switchable thing. Accepted are
// 1, 0, true, false, on and off, or a JSON object like {"state": true}.
func ParseSwitchAction(message string) (bool, error) {
	m := strings.TrimSpace(message)
	switch strings.ToLower(m) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	}
	if !strings.HasPrefix(m, "{") {
		return false, fmt.Errorf("invalid action '%s'", message)
	}

	result, err := gojsonschema.Validate(switchActionLoader, gojsonschema.NewStringLoader(m))
	if err != nil {
		return false, fmt.Errorf("invalid action: %w", err)
	}
	if !result.Valid() {
		var details []string
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return false, fmt.Errorf("invalid action: %s", strings.Join(details, "; "))
	}
	var action struct {
		State interface{} `json:"state"`
	}
	if err := json.Unmarshal([]byte(m), &action); err != nil {
		return false, fmt.Errorf("invalid action: %w", err)
	}
	switch v := action.State.(type) {
	case bool:
		return v, nil
	case float64:
		return v == 1, nil
	}
	return false, fmt.Errorf("invalid action state %v", action.State)
}

// ActionRouter applies inbound actions to the peripherals of the addressed things and
// logs the other remote notifications. It serves as node and thing observer.
type ActionRouter struct {
	ledger    *Ledger
	publisher *Publisher
	rlog      *logrus.Entry
}

// NewActionRouter returns a router which drives the output through publisher
func NewActionRouter(ledger *Ledger, publisher *Publisher) *ActionRouter {
	if ledger == nil {
		panic("ledger missing")
	}
	if publisher == nil {
		panic("publisher missing")
	}
	return &ActionRouter{
		ledger:    ledger,
		publisher: publisher,
		rlog:      logger.Default().WithField("component", "actions"),
	}
}

// Apply executes an action message for the given thing
func (a *ActionRouter) Apply(nodeID, thingID, message string) error {
	t := a.ledger.Thing(nodeID, thingID)
	if t == nil {
		return fmt.Errorf("%w: %s/%s", ErrUnknownThing, nodeID, thingID)
	}
	spec := t.Spec()
	if !spec.Actionable {
		return fmt.Errorf("%w: %s/%s", ErrNotActionable, nodeID, thingID)
	}
	if spec.Binding != BindingOutput {
		return fmt.Errorf("%w: %s/%s", ErrUnsupported, nodeID, thingID)
	}
	state, err := ParseSwitchAction(message)
	if err != nil {
		return err
	}
	return a.publisher.SetOutput(state)
}

// OnActionReceived implements platform.ThingObserver
func (a *ActionRouter) OnActionReceived(nodeID, thingID string, action platform.ThingActionData) {
	rlog := a.rlog.WithFields(logrus.Fields{"node": nodeID, "thing": thingID})
	rlog.WithField("message", action.Message).Infoln("action received")
	if err := a.Apply(nodeID, thingID, action.Message); err != nil {
		rlog.WithError(err).Warnln("action ignored")
	}
}

// OnConfigurationReceived implements platform.ThingObserver
func (a *ActionRouter) OnConfigurationReceived(thing platform.Thing) {
	logConfiguration(a.rlog, thing)
}

// OnThingUnregistered implements platform.ThingObserver. The thing is registered again
// with the next connection.
func (a *ActionRouter) OnThingUnregistered(nodeID, thingID string) {
	a.rlog.WithFields(logrus.Fields{"node": nodeID, "thing": thingID}).Warnln("thing unregistered remotely")
}

// OnNodeUnregistered implements platform.NodeObserver
func (a *ActionRouter) OnNodeUnregistered(nodeID string) {
	a.rlog.WithField("node", nodeID).Warnln("node unregistered remotely")
}

func logConfiguration(rlog *logrus.Entry, thing platform.Thing) {
	config := thing.Configuration()
	rlog.WithFields(logrus.Fields{
		"node":                   thing.NodeID(),
		"thing":                  thing.ID(),
		"data_reading_frequency": config.DataReadingFrequency,
	}).Infoln("configuration received")
}

// loggingObserver logs all remote notifications
type loggingObserver struct {
	rlog *logrus.Entry
}

func (o *loggingObserver) OnNodeUnregistered(nodeID string) {
	o.rlog.WithField("node", nodeID).Warnln("node unregistered remotely")
}

func (o *loggingObserver) OnConfigurationReceived(thing platform.Thing) {
	logConfiguration(o.rlog, thing)
}

func (o *loggingObserver) OnActionReceived(nodeID, thingID string, action platform.ThingActionData) {
	o.rlog.WithFields(logrus.Fields{"node": nodeID, "thing": thingID, "message": action.Message}).Infoln("action received")
}

func (o *loggingObserver) OnThingUnregistered(nodeID, thingID string) {
	o.rlog.WithFields(logrus.Fields{"node": nodeID, "thing": thingID}).Warnln("thing unregistered remotely")
}
