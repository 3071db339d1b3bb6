// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package platform

import "errors"

// ErrUnsupportedVersion is returned by a Connector when the platform refuses the
// protocol version spoken by the device.
var ErrUnsupportedVersion = errors.New("unsupported platform version")

// Connector builds sessions with the platform
type Connector interface {
	// Connect establishes a new session. The observer receives OnConnected once the
	// session is live and OnDisconnected when it is lost. An error means the attempt
	// failed; errors.Is(err, ErrUnsupportedVersion) identifies version refusals.
	Connect(observer ConnectionObserver) (Session, error)
}

// Session is a live connection to the platform
type Session interface {
	// CreateNode creates a node handle. The node is not registered yet.
	CreateNode(id, label string, nodeType NodeType, observer NodeObserver) Node
	// Close terminates the session without notifying the connection observer
	Close()
}

// Node is a handle to a platform node
type Node interface {
	ID() string
	// CreateThing creates a thing handle attached to this node. The thing is not registered yet.
	CreateThing(id string, thingType ThingType, category ThingCategory, actionable bool, observer ThingObserver) Thing
	Register() bool
	IsRegistered() bool
	SetConnected(connected bool, reason string)
}

// Thing is a handle to a platform thing, a sensor or actuator
type Thing interface {
	ID() string
	NodeID() string
	Register() bool
	IsRegistered() bool
	SetConnected(connected bool, reason string)
	// SetData stores data as the thing's last known value without sending it
	SetData(data ThingData)
	// SendData sends data to the platform and reports whether it was accepted
	SendData(data ThingData) bool
	// Configuration returns the last configuration received from the platform
	Configuration() ThingConfiguration
}

// ConnectionObserver receives connection transitions
type ConnectionObserver interface {
	OnConnected(session Session)
	OnDisconnected()
}

// NodeObserver receives remote node notifications
type NodeObserver interface {
	OnNodeUnregistered(nodeID string)
}

// ThingObserver receives remote thing notifications
type ThingObserver interface {
	OnConfigurationReceived(thing Thing)
	OnActionReceived(nodeID, thingID string, action ThingActionData)
	OnThingUnregistered(nodeID, thingID string)
}
