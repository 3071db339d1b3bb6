package broker

import (
	"testing"

	"github.com/relabs-tech/thingagent/platform/mqtt"
	"github.com/stretchr/testify/assert"
)

func TestPluginConnectPolicy(t *testing.T) {
	p := &plugin{}
	assert.True(t, p.mayConnect("dev-1", ""))
	assert.True(t, p.mayConnect("dev 1", ""))
	assert.False(t, p.mayConnect("", ""))
	assert.False(t, p.mayConnect("dev/1", ""))
	assert.False(t, p.mayConnect("dev+", ""))
	assert.False(t, p.mayConnect("#", ""))

	p.tls = true
	assert.True(t, p.mayConnect("dev-1", "dev-1"))
	assert.False(t, p.mayConnect("dev-1", "dev-2"))
	assert.False(t, p.mayConnect("dev-1", ""))
}

func TestPluginSubscribePolicy(t *testing.T) {
	p := &plugin{}
	for topic := range mqtt.InboundFilters("dev 1") {
		assert.True(t, p.maySubscribe("dev 1", topic), topic)
	}
	assert.False(t, p.maySubscribe("dev-1", "thingagent/dev-2/nodes/+/unregistered"))
	assert.False(t, p.maySubscribe("dev-1", "thingagent/#"))
	assert.False(t, p.maySubscribe("dev-1", "#"))
}

func TestPluginIngestOwnTopicsOnly(t *testing.T) {
	p := &plugin{registry: NewRegistry()}
	presence := mustJSON(t, mqtt.Presence{Connected: true})

	assert.NoError(t, p.ingest("dev-1", mqtt.Route{Kind: mqtt.KindDevicePresence, DeviceID: "dev-1"}.Topic(), presence))
	assert.ErrorIs(t, p.ingest("dev-1", mqtt.Route{Kind: mqtt.KindDevicePresence, DeviceID: "dev-2"}.Topic(), presence), ErrRejected)
	assert.ErrorIs(t, p.ingest("dev-1", "other/topic", presence), ErrRejected)

	_, err := p.registry.Device("dev-2")
	assert.ErrorIs(t, err, ErrNotFound)
}
