/*Package broker provides a platform simulator: an MQTT broker speaking the device
protocol of package platform/mqtt together with a RESTful interface

The broker keeps a registry of all devices, their nodes and things. Register, presence
and data messages of devices update the registry. A device may only publish to and
subscribe on its own topics below thingagent/{device_id}/. With TLS enabled, the device
ID must equal the common name of the client certificate.

The REST API lists the registry and sends notifications to devices:

	GET    /devices
	GET    /devices/{device_id}
	DELETE /devices/{device_id}/nodes/{node_id}
	DELETE /devices/{device_id}/nodes/{node_id}/things/{thing_id}
	PUT    /devices/{device_id}/nodes/{node_id}/things/{thing_id}/actions
	PUT    /devices/{device_id}/nodes/{node_id}/things/{thing_id}/config

A DELETE marks the node or thing unregistered and notifies the device. The body of an
action is forwarded as is, for example

	on

or

	{"state": true}

A configuration looks like this:

	{"data_reading_frequency_ms": 1000}
*/
package broker
