// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package mqtt

import (
	"sync"
	"time"

	"github.com/relabs-tech/thingagent/platform"
)

type node struct {
	s        *session
	id       string
	label    string
	nodeType platform.NodeType
	observer platform.NodeObserver

	mu         sync.Mutex
	registered bool
	things     map[string]*thing
}

func (n *node) route(kind Kind) string {
	return Route{Kind: kind, DeviceID: n.s.deviceID, NodeID: n.id}.Topic()
}

func (n *node) ID() string { return n.id }

func (n *node) CreateThing(id string, thingType platform.ThingType, category platform.ThingCategory, actionable bool, observer platform.ThingObserver) platform.Thing {
	th := &thing{
		n:          n,
		id:         id,
		thingType:  thingType,
		category:   category,
		actionable: actionable,
		observer:   observer,
	}
	n.mu.Lock()
	n.things[id] = th
	n.mu.Unlock()
	return th
}

func (n *node) thing(id string) *thing {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.things[id]
}

// Register announces the node. The node counts as registered once the
// broker acknowledged the announcement.
func (n *node) Register() bool {
	ok := n.s.publish(n.route(KindNodeRegister), NodeRegistration{
		Label: n.label,
		Type:  n.nodeType.String(),
	}, false)
	if ok {
		n.setRegistered(true)
	}
	return ok
}

func (n *node) IsRegistered() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.registered
}

func (n *node) setRegistered(registered bool) {
	n.mu.Lock()
	n.registered = registered
	n.mu.Unlock()
}

func (n *node) SetConnected(connected bool, reason string) {
	n.s.publish(n.route(KindNodePresence), Presence{
		Connected: connected,
		Reason:    reason,
		At:        time.Now().UTC(),
	}, true)
}

type thing struct {
	n          *node
	id         string
	thingType  platform.ThingType
	category   platform.ThingCategory
	actionable bool
	observer   platform.ThingObserver

	mu         sync.Mutex
	registered bool
	data       platform.ThingData
	config     platform.ThingConfiguration
}

func (t *thing) route(kind Kind) string {
	return Route{Kind: kind, DeviceID: t.n.s.deviceID, NodeID: t.n.id, ThingID: t.id}.Topic()
}

func (t *thing) ID() string     { return t.id }
func (t *thing) NodeID() string { return t.n.id }

func (t *thing) Register() bool {
	ok := t.n.s.publish(t.route(KindThingRegister), ThingRegistration{
		Type:       t.thingType.Name,
		Vendor:     t.thingType.Vendor,
		DataType:   t.thingType.DataType.String(),
		Category:   t.category.String(),
		Actionable: t.actionable,
	}, false)
	if ok {
		t.setRegistered(true)
	}
	return ok
}

func (t *thing) IsRegistered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registered
}

func (t *thing) setRegistered(registered bool) {
	t.mu.Lock()
	t.registered = registered
	t.mu.Unlock()
}

func (t *thing) SetConnected(connected bool, reason string) {
	t.n.s.publish(t.route(KindThingPresence), Presence{
		Connected: connected,
		Reason:    reason,
		At:        time.Now().UTC(),
	}, true)
}

func (t *thing) SetData(data platform.ThingData) {
	t.mu.Lock()
	t.data = data
	t.mu.Unlock()
}

func (t *thing) SendData(data platform.ThingData) bool {
	at := data.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return t.n.s.publish(t.route(KindThingData), Data{Values: data.Values, At: at}, false)
}

func (t *thing) Configuration() platform.ThingConfiguration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config
}

func (t *thing) setConfiguration(config platform.ThingConfiguration) {
	t.mu.Lock()
	t.config = config
	t.mu.Unlock()
}
