package agent

import (
	"testing"

	"github.com/relabs-tech/thingagent/peripheral"
	"github.com/relabs-tech/thingagent/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSwitchAction(t *testing.T) {
	tests := []struct {
		message string
		state   bool
		valid   bool
	}{
		{"1", true, true},
		{"0", false, true},
		{" On ", true, true},
		{"off", false, true},
		{"TRUE", true, true},
		{"false", false, true},
		{`{"state": true}`, true, true},
		{`{"state": 0}`, false, true},
		{`{"state": 1}`, true, true},
		{`{"state": 2}`, false, false},
		{`{"state": "on"}`, false, false},
		{`{"state": true, "extra": 1}`, false, false},
		{`{}`, false, false},
		{`{"state": `, false, false},
		{"maybe", false, false},
		{"", false, false},
	}
	for _, test := range tests {
		state, err := ParseSwitchAction(test.message)
		if !test.valid {
			assert.Error(t, err, test.message)
			continue
		}
		require.NoError(t, err, test.message)
		assert.Equal(t, test.state, state, test.message)
	}
}

func TestActionRouterApply(t *testing.T) {
	h := newHarness(t, DefaultTopology("BCM21", "BCM6"))

	assert.ErrorIs(t, h.actions.Apply(DeviceNodeID, LedThingID, "on"), peripheral.ErrNotOpen, "pin not open before the first connection")

	h.connect(t)
	h.j.reset()

	assert.ErrorIs(t, h.actions.Apply(DeviceNodeID, "Missing", "on"), ErrUnknownThing)
	assert.ErrorIs(t, h.actions.Apply("Missing", LedThingID, "on"), ErrUnknownThing)
	assert.ErrorIs(t, h.actions.Apply(DeviceNodeID, ButtonThingID, "on"), ErrNotActionable)
	assert.ErrorIs(t, h.actions.Apply(ExampleNodeID, ExampleThingID, "on"), ErrUnsupported)
	assert.Error(t, h.actions.Apply(DeviceNodeID, LedThingID, "maybe"))
	assert.Empty(t, h.periph.outputValues())

	require.NoError(t, h.actions.Apply(DeviceNodeID, LedThingID, `{"state": true}`))
	assert.Equal(t, []bool{true}, h.periph.outputValues())
	assert.Equal(t, []string{"sendData Led [1]"}, h.j.entries())
}

func TestActionRouterObserves(t *testing.T) {
	h := newHarness(t, DefaultTopology("BCM21", "BCM6"))
	h.connect(t)

	h.actions.OnActionReceived(DeviceNodeID, LedThingID, platform.ThingActionData{
		NodeID: DeviceNodeID, ThingID: LedThingID, Message: "1",
	})
	h.actions.OnActionReceived(DeviceNodeID, ButtonThingID, platform.ThingActionData{
		NodeID: DeviceNodeID, ThingID: ButtonThingID, Message: "1",
	})
	assert.Equal(t, []bool{true}, h.periph.outputValues())

	// remote unregistrations are informational only
	h.j.reset()
	h.actions.OnThingUnregistered(DeviceNodeID, LedThingID)
	h.actions.OnNodeUnregistered(DeviceNodeID)
	h.actions.OnConfigurationReceived(h.connector.sessions[0].node(DeviceNodeID).thing(LedThingID))
	assert.Empty(t, h.j.entries())
}
