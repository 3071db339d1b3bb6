// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package agent

import (
	"sync"
	"time"

	"github.com/relabs-tech/thingagent/platform"
)

// presence is the part of a node or thing handle the ledger toggles
type presence interface {
	IsRegistered() bool
	SetConnected(connected bool, reason string)
}

// Entry is a node or thing of the ledger
type Entry interface {
	ID() string
	presence() presence
	markOnline(online bool)
}

// NodeEntry is a declared node together with its current platform handle
type NodeEntry struct {
	spec   NodeSpec
	handle platform.Node
	online bool
	things []*ThingEntry
}

// ID returns the node id
func (n *NodeEntry) ID() string { return n.spec.ID }

// Spec returns the declaration of the node
func (n *NodeEntry) Spec() NodeSpec { return n.spec }

// Things returns the node's things in declaration order
func (n *NodeEntry) Things() []*ThingEntry { return n.things }

func (n *NodeEntry) presence() presence {
	if n == nil || n.handle == nil {
		return nil
	}
	return n.handle
}

func (n *NodeEntry) markOnline(online bool) { n.online = online }

// ThingEntry is a declared thing together with its current platform handle
type ThingEntry struct {
	spec   ThingSpec
	node   *NodeEntry
	handle platform.Thing
	online bool
	last   *platform.ThingData
}

// ID returns the thing id
func (t *ThingEntry) ID() string { return t.spec.ID }

// NodeID returns the id of the owning node
func (t *ThingEntry) NodeID() string { return t.node.spec.ID }

// Spec returns the declaration of the thing
func (t *ThingEntry) Spec() ThingSpec { return t.spec }

func (t *ThingEntry) presence() presence {
	if t == nil || t.handle == nil {
		return nil
	}
	return t.handle
}

func (t *ThingEntry) markOnline(online bool) { t.online = online }

// Ledger tracks the registration and online state of every declared node and thing.
// An entry is only ever marked online while its handle is registered.
type Ledger struct {
	metrics *Metrics

	mu    sync.Mutex
	nodes []*NodeEntry
}

// NewLedger creates entries for all nodes and things of the topology
func NewLedger(topology Topology, metrics *Metrics) *Ledger {
	l := &Ledger{metrics: metrics}
	for _, ns := range topology.Nodes {
		n := &NodeEntry{spec: ns}
		for _, ts := range ns.Things {
			n.things = append(n.things, &ThingEntry{spec: ts, node: n})
		}
		l.nodes = append(l.nodes, n)
	}
	return l
}

// Nodes returns all node entries in declaration order
func (l *Ledger) Nodes() []*NodeEntry {
	return l.nodes
}

// Node returns the node entry with the given id or nil
func (l *Ledger) Node(id string) *NodeEntry {
	for _, n := range l.nodes {
		if n.spec.ID == id {
			return n
		}
	}
	return nil
}

// Thing returns the thing entry with the given ids or nil
func (l *Ledger) Thing(nodeID, thingID string) *ThingEntry {
	n := l.Node(nodeID)
	if n == nil {
		return nil
	}
	for _, t := range n.things {
		if t.spec.ID == thingID {
			return t
		}
	}
	return nil
}

// Bound returns the thing bound to the given peripheral or nil
func (l *Ledger) Bound(binding Binding) *ThingEntry {
	if binding == BindingNone {
		return nil
	}
	for _, n := range l.nodes {
		for _, t := range n.things {
			if t.spec.Binding == binding {
				return t
			}
		}
	}
	return nil
}

// AttachNode replaces the handle of a node. The handles of its things are dropped,
// they belong to the replaced node handle.
func (l *Ledger) AttachNode(n *NodeEntry, handle platform.Node) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n.handle = handle
	n.online = false
	for _, t := range n.things {
		t.handle = nil
		t.online = false
	}
}

// AttachThing replaces the handle of a thing
func (l *Ledger) AttachThing(t *ThingEntry, handle platform.Thing) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t.handle = handle
	t.online = false
}

// RegisterNodeAndSetOnline registers the node unless it already is, and sets it online
// once registered. Nothing happens for a nil entry or an entry without handle.
func (l *Ledger) RegisterNodeAndSetOnline(n *NodeEntry) {
	if n == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n.handle == nil {
		return
	}
	if l.ensureRegistered(n.handle, "node") {
		n.handle.SetConnected(true, "")
		n.online = true
	}
}

// RegisterThingAndSetOnline registers the thing unless it already is, and sets it
// online once registered. Nothing happens unless the node is registered.
func (l *Ledger) RegisterThingAndSetOnline(n *NodeEntry, t *ThingEntry) {
	if n == nil || t == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n.handle == nil || !n.handle.IsRegistered() || t.handle == nil {
		return
	}
	if l.ensureRegistered(t.handle, "thing") {
		t.handle.SetConnected(true, "")
		t.online = true
	}
}

func (l *Ledger) ensureRegistered(handle interface {
	IsRegistered() bool
	Register() bool
}, kind string) bool {
	if handle.IsRegistered() {
		return true
	}
	ok := handle.Register()
	l.metrics.registration(kind, ok)
	return ok && handle.IsRegistered()
}

// SetConnection pushes the presence state of a node or thing to the platform. The entry
// is only marked online if it is registered. Nothing happens for a nil entry.
func (l *Ledger) SetConnection(e Entry, state bool, reason string) {
	if e == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p := e.presence()
	if p == nil {
		return
	}
	p.SetConnected(state, reason)
	e.markOnline(state && p.IsRegistered())
}

// SetAllOffline sets every node and thing offline with the given reason
func (l *Ledger) SetAllOffline(reason string) {
	for _, n := range l.nodes {
		l.SetConnection(n, false, reason)
		for _, t := range n.things {
			l.SetConnection(t, false, reason)
		}
	}
}

// IsRegistered reports whether the entry has a registered handle
func (l *Ledger) IsRegistered(e Entry) bool {
	if e == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p := e.presence()
	return p != nil && p.IsRegistered()
}

// IsOnline reports whether the entry was last set online
func (l *Ledger) IsOnline(e Entry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch v := e.(type) {
	case *NodeEntry:
		return v != nil && v.online
	case *ThingEntry:
		return v != nil && v.online
	}
	return false
}

// The outcomes of send
const (
	sampleDropped = "dropped"
	sampleSent    = "sent"
	sampleFailed  = "failed"
)

// send stores data as last value of a registered thing and sends it. Unregistered or
// absent things are left untouched.
func (l *Ledger) send(t *ThingEntry, data platform.ThingData) string {
	if t == nil {
		return sampleDropped
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.handle == nil || !t.handle.IsRegistered() {
		return sampleDropped
	}
	t.handle.SetData(data)
	t.last = &data
	if !t.handle.SendData(data) {
		return sampleFailed
	}
	return sampleSent
}

// NodeStatus is the state of a node entry
type NodeStatus struct {
	ID         string        `json:"id"`
	Label      string        `json:"label"`
	Type       string        `json:"type"`
	Registered bool          `json:"registered"`
	Online     bool          `json:"online"`
	Things     []ThingStatus `json:"things"`
}

// ThingStatus is the state of a thing entry
type ThingStatus struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Actionable bool       `json:"actionable"`
	Binding    Binding    `json:"binding,omitempty"`
	Registered bool       `json:"registered"`
	Online     bool       `json:"online"`
	LastValues []float64  `json:"last_values,omitempty"`
	LastAt     *time.Time `json:"last_at,omitempty"`
}

// Snapshot returns the state of all entries in declaration order
func (l *Ledger) Snapshot() []NodeStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]NodeStatus, 0, len(l.nodes))
	for _, n := range l.nodes {
		ns := NodeStatus{
			ID:         n.spec.ID,
			Label:      n.spec.Label,
			Type:       n.spec.Type.String(),
			Registered: n.handle != nil && n.handle.IsRegistered(),
			Online:     n.online,
			Things:     []ThingStatus{},
		}
		for _, t := range n.things {
			ts := ThingStatus{
				ID:         t.spec.ID,
				Type:       t.spec.Type.Name,
				Actionable: t.spec.Actionable,
				Binding:    t.spec.Binding,
				Registered: t.handle != nil && t.handle.IsRegistered(),
				Online:     t.online,
			}
			if t.last != nil {
				ts.LastValues = t.last.Values
				at := t.last.At
				ts.LastAt = &at
			}
			ns.Things = append(ns.Things, ts)
		}
		result = append(result, ns)
	}
	return result
}
