// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package platform describes the contract between the device agent and the cloud IoT platform

The platform knows two kinds of entities: nodes and things. A node is a logical device or
endpoint. A thing is a sensor or actuator attached to exactly one node. Both are created
from a live session, registered with the platform, and then announced online or offline
with a human readable reason.

A session is obtained from a Connector. The connector reports connection transitions to a
ConnectionObserver; nodes and things report remote notifications to a NodeObserver and a
ThingObserver respectively:

	ConnectionObserver: OnConnected(session), OnDisconnected()
	NodeObserver:       OnNodeUnregistered(nodeID)
	ThingObserver:      OnConfigurationReceived(thing), OnActionReceived(nodeID, thingID, action),
	                    OnThingUnregistered(nodeID, thingID)

The wire protocol is owned by the implementation. Package mqtt provides one over MQTT.
*/
package platform
