package broker

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/thingagent/platform/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}

func registerLed(t *testing.T, r *Registry) {
	t.Helper()
	require.NoError(t, r.Ingest(mqtt.Route{Kind: mqtt.KindNodeRegister, DeviceID: "dev-1", NodeID: "node"},
		mustJSON(t, mqtt.NodeRegistration{Label: "Node", Type: "GENERIC"})))
	require.NoError(t, r.Ingest(mqtt.Route{Kind: mqtt.KindThingRegister, DeviceID: "dev-1", NodeID: "node", ThingID: "Led"},
		mustJSON(t, mqtt.ThingRegistration{Type: "LED", Vendor: "Raspberry Pi 3 GPIO", DataType: "INTEGER", Category: "BUILTIN", Actionable: true})))
}

func TestRegistryIngest(t *testing.T) {
	r := NewRegistry()
	registerLed(t, r)

	thingRoute := mqtt.Route{Kind: mqtt.KindThingPresence, DeviceID: "dev-1", NodeID: "node", ThingID: "Led"}
	require.NoError(t, r.Ingest(thingRoute, mustJSON(t, mqtt.Presence{Connected: true})))
	thingRoute.Kind = mqtt.KindThingData
	require.NoError(t, r.Ingest(thingRoute, mustJSON(t, mqtt.Data{Values: []float64{1}})))
	require.NoError(t, r.Ingest(mqtt.Route{Kind: mqtt.KindDevicePresence, DeviceID: "dev-1"}, mustJSON(t, mqtt.Presence{Connected: true})))

	device, err := r.Device("dev-1")
	require.NoError(t, err)
	assert.True(t, device.Connected)
	require.Len(t, device.Nodes, 1)
	assert.Equal(t, "Node", device.Nodes[0].Label)
	assert.True(t, device.Nodes[0].Registered)
	require.Len(t, device.Nodes[0].Things, 1)

	led := device.Nodes[0].Things[0]
	assert.Equal(t, "LED", led.Type)
	assert.True(t, led.Actionable)
	assert.True(t, led.Connected)
	require.NotNil(t, led.LastData)
	assert.Equal(t, []float64{1}, led.LastData.Values)

	// snapshots are copies
	led.Connected = false
	again, err := r.Thing("dev-1", "node", "Led")
	require.NoError(t, err)
	assert.True(t, again.Connected)
}

func TestRegistryRejects(t *testing.T) {
	r := NewRegistry()

	err := r.Ingest(mqtt.Route{Kind: mqtt.KindThingRegister, DeviceID: "dev-1", NodeID: "node", ThingID: "Led"},
		mustJSON(t, mqtt.ThingRegistration{Type: "LED"}))
	assert.ErrorIs(t, err, ErrNotFound)

	err = r.Ingest(mqtt.Route{Kind: mqtt.KindNodeRegister, DeviceID: "dev-1", NodeID: "node"}, []byte("garbage"))
	assert.Error(t, err)

	err = r.Ingest(mqtt.Route{Kind: mqtt.KindThingActions, DeviceID: "dev-1", NodeID: "node", ThingID: "Led"}, []byte("on"))
	assert.ErrorIs(t, err, ErrRejected)

	registerLed(t, r)
	require.NoError(t, r.UnregisterNode("dev-1", "node"))
	err = r.Ingest(mqtt.Route{Kind: mqtt.KindThingRegister, DeviceID: "dev-1", NodeID: "node", ThingID: "Button"},
		mustJSON(t, mqtt.ThingRegistration{Type: "BUTTON"}))
	assert.ErrorIs(t, err, ErrNotRegistered)
	err = r.Ingest(mqtt.Route{Kind: mqtt.KindThingData, DeviceID: "dev-1", NodeID: "node", ThingID: "Led"},
		mustJSON(t, mqtt.Data{Values: []float64{0}}))
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	registerLed(t, r)

	require.NoError(t, r.UnregisterThing("dev-1", "node", "Led"))
	led, err := r.Thing("dev-1", "node", "Led")
	require.NoError(t, err)
	assert.False(t, led.Registered)

	// registering again restores the thing
	registerLed(t, r)
	require.NoError(t, r.UnregisterNode("dev-1", "node"))
	device, err := r.Device("dev-1")
	require.NoError(t, err)
	assert.False(t, device.Nodes[0].Registered)
	assert.False(t, device.Nodes[0].Things[0].Registered)

	assert.ErrorIs(t, r.UnregisterNode("dev-2", "node"), ErrNotFound)
	assert.ErrorIs(t, r.UnregisterThing("dev-1", "node", "Fan"), ErrNotFound)
	_, err = r.Device("dev-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryDevicesOrdered(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Ingest(mqtt.Route{Kind: mqtt.KindDevicePresence, DeviceID: id}, mustJSON(t, mqtt.Presence{Connected: true})))
	}
	devices := r.Devices()
	require.Len(t, devices, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{devices[0].ID, devices[1].ID, devices[2].ID})
}
