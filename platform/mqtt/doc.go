/*Package mqtt implements the platform contract over MQTT

The device connects with its device ID as MQTT client ID. All topics live under
thingagent/{device_id}/ and identifiers are path-escaped:

	thingagent/{device_id}/presence
	thingagent/{device_id}/nodes/{node_id}/register
	thingagent/{device_id}/nodes/{node_id}/presence
	thingagent/{device_id}/nodes/{node_id}/unregistered
	thingagent/{device_id}/nodes/{node_id}/things/{thing_id}/register
	thingagent/{device_id}/nodes/{node_id}/things/{thing_id}/presence
	thingagent/{device_id}/nodes/{node_id}/things/{thing_id}/data
	thingagent/{device_id}/nodes/{node_id}/things/{thing_id}/actions
	thingagent/{device_id}/nodes/{node_id}/things/{thing_id}/config
	thingagent/{device_id}/nodes/{node_id}/things/{thing_id}/unregistered

Register, presence and data messages flow from the device to the platform. A node or thing
counts as registered once its register message was acknowledged with QoS 1. Presence
messages are retained. Actions, configurations and unregistrations flow from the platform to
the device.

Example presence payload:
	{"connected": true, "reason": "", "at": "2021-03-24T16:39:49.581168Z"}

Example data payload:
	{"values": [1], "at": "2021-03-24T16:39:49.581168Z"}

A broker refusing the protocol version is reported as platform.ErrUnsupportedVersion.
*/
package mqtt
