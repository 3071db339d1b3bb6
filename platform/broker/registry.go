// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package broker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/thingagent/platform/mqtt"
)

// The errors of the registry
var (
	ErrNotFound      = errors.New("not found")
	ErrNotRegistered = errors.New("not registered")
	ErrRejected      = errors.New("message rejected")
)

// Thing is the platform side record of a thing
type Thing struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	Vendor     string              `json:"vendor"`
	DataType   string              `json:"data_type"`
	Category   string              `json:"category"`
	Actionable bool                `json:"actionable"`
	Registered bool                `json:"registered"`
	Connected  bool                `json:"connected"`
	Reason     string              `json:"reason,omitempty"`
	LastData   *mqtt.Data          `json:"last_data,omitempty"`
	Config     *mqtt.Configuration `json:"config,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Node is the platform side record of a node
type Node struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Type       string    `json:"type"`
	Registered bool      `json:"registered"`
	Connected  bool      `json:"connected"`
	Reason     string    `json:"reason,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	Things     []*Thing  `json:"things"`
}

// Device is the platform side record of a device
type Device struct {
	ID        string    `json:"id"`
	Connected bool      `json:"connected"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Nodes     []*Node   `json:"nodes"`
}

func (d *Device) node(id string) *Node {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func (n *Node) thing(id string) *Thing {
	for _, t := range n.Things {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (d *Device) clone() Device {
	c := *d
	c.Nodes = make([]*Node, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		nc := *n
		nc.Things = make([]*Thing, 0, len(n.Things))
		for _, t := range n.Things {
			tc := *t
			nc.Things = append(nc.Things, &tc)
		}
		c.Nodes = append(c.Nodes, &nc)
	}
	return c
}

// Registry keeps the nodes and things devices registered. It is the in-memory state of
// the platform simulator.
type Registry struct {
	now func() time.Time

	mu      sync.RWMutex
	devices map[string]*Device
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		now:     func() time.Time { return time.Now().UTC() },
		devices: make(map[string]*Device),
	}
}

// Devices returns all devices ordered by id
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		result = append(result, d.clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Device returns a device
func (r *Registry) Device(deviceID string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return Device{}, fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
	}
	return d.clone(), nil
}

// Thing returns a thing of a device
func (r *Registry) Thing(deviceID, nodeID, thingID string) (Thing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, err := r.findThing(deviceID, nodeID, thingID)
	if err != nil {
		return Thing{}, err
	}
	return *t, nil
}

func (r *Registry) device(deviceID string) *Device {
	d, ok := r.devices[deviceID]
	if !ok {
		d = &Device{ID: deviceID, Nodes: []*Node{}}
		r.devices[deviceID] = d
	}
	return d
}

func (r *Registry) findNode(deviceID, nodeID string) (*Node, error) {
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
	}
	n := d.node(nodeID)
	if n == nil {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	return n, nil
}

func (r *Registry) findThing(deviceID, nodeID, thingID string) (*Thing, error) {
	n, err := r.findNode(deviceID, nodeID)
	if err != nil {
		return nil, err
	}
	t := n.thing(thingID)
	if t == nil {
		return nil, fmt.Errorf("thing %s: %w", thingID, ErrNotFound)
	}
	return t, nil
}

// Ingest applies a device message. Only messages which flow from devices to the platform
// are accepted. Things can only be registered below registered nodes.
func (r *Registry) Ingest(route mqtt.Route, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	switch route.Kind {
	case mqtt.KindDevicePresence:
		var p mqtt.Presence
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("invalid presence: %w", err)
		}
		d := r.device(route.DeviceID)
		d.Connected = p.Connected
		d.Reason = p.Reason
		d.UpdatedAt = now
		return nil

	case mqtt.KindNodeRegister:
		var reg mqtt.NodeRegistration
		if err := json.Unmarshal(payload, &reg); err != nil {
			return fmt.Errorf("invalid node registration: %w", err)
		}
		d := r.device(route.DeviceID)
		n := d.node(route.NodeID)
		if n == nil {
			n = &Node{ID: route.NodeID, Things: []*Thing{}}
			d.Nodes = append(d.Nodes, n)
		}
		n.Label = reg.Label
		n.Type = reg.Type
		n.Registered = true
		n.UpdatedAt = now
		return nil

	case mqtt.KindNodePresence:
		var p mqtt.Presence
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("invalid presence: %w", err)
		}
		n, err := r.findNode(route.DeviceID, route.NodeID)
		if err != nil {
			return err
		}
		n.Connected = p.Connected
		n.Reason = p.Reason
		n.UpdatedAt = now
		return nil

	case mqtt.KindThingRegister:
		var reg mqtt.ThingRegistration
		if err := json.Unmarshal(payload, &reg); err != nil {
			return fmt.Errorf("invalid thing registration: %w", err)
		}
		n, err := r.findNode(route.DeviceID, route.NodeID)
		if err != nil {
			return err
		}
		if !n.Registered {
			return fmt.Errorf("node %s: %w", route.NodeID, ErrNotRegistered)
		}
		t := n.thing(route.ThingID)
		if t == nil {
			t = &Thing{ID: route.ThingID}
			n.Things = append(n.Things, t)
		}
		t.Type = reg.Type
		t.Vendor = reg.Vendor
		t.DataType = reg.DataType
		t.Category = reg.Category
		t.Actionable = reg.Actionable
		t.Registered = true
		t.UpdatedAt = now
		return nil

	case mqtt.KindThingPresence:
		var p mqtt.Presence
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("invalid presence: %w", err)
		}
		t, err := r.findThing(route.DeviceID, route.NodeID, route.ThingID)
		if err != nil {
			return err
		}
		t.Connected = p.Connected
		t.Reason = p.Reason
		t.UpdatedAt = now
		return nil

	case mqtt.KindThingData:
		var data mqtt.Data
		if err := json.Unmarshal(payload, &data); err != nil {
			return fmt.Errorf("invalid data: %w", err)
		}
		t, err := r.findThing(route.DeviceID, route.NodeID, route.ThingID)
		if err != nil {
			return err
		}
		if !t.Registered {
			return fmt.Errorf("thing %s: %w", route.ThingID, ErrNotRegistered)
		}
		t.LastData = &data
		t.UpdatedAt = now
		return nil
	}
	return fmt.Errorf("%s: %w", route.Kind, ErrRejected)
}

// SetConfiguration stores the configuration of a thing
func (r *Registry) SetConfiguration(deviceID, nodeID, thingID string, config mqtt.Configuration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.findThing(deviceID, nodeID, thingID)
	if err != nil {
		return err
	}
	t.Config = &config
	t.UpdatedAt = r.now()
	return nil
}

// UnregisterNode marks a node and all its things unregistered and offline
func (r *Registry) UnregisterNode(deviceID, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.findNode(deviceID, nodeID)
	if err != nil {
		return err
	}
	now := r.now()
	n.Registered = false
	n.Connected = false
	n.UpdatedAt = now
	for _, t := range n.Things {
		t.Registered = false
		t.Connected = false
		t.UpdatedAt = now
	}
	return nil
}

// UnregisterThing marks a thing unregistered and offline
func (r *Registry) UnregisterThing(deviceID, nodeID, thingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.findThing(deviceID, nodeID, thingID)
	if err != nil {
		return err
	}
	t.Registered = false
	t.Connected = false
	t.UpdatedAt = r.now()
	return nil
}
