// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package agent

import (
	"fmt"
	"os"
	"strings"

	"github.com/relabs-tech/thingagent/peripheral"
	"github.com/relabs-tech/thingagent/platform"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// The identifiers of the default topology
const (
	ExampleNodeID  = "My Example Node"
	ExampleThingID = "My Example Thing"
	DeviceNodeID   = "Android Things Node"
	LedThingID     = "Led"
	ButtonThingID  = "Button"
)

// Binding ties a thing to a peripheral of the gateway
type Binding string

// The supported bindings
const (
	BindingNone   Binding = ""
	BindingOutput Binding = "output"
	BindingInput  Binding = "input"
)

// ThingSpec declares a thing the agent keeps registered
type ThingSpec struct {
	ID         string
	Type       platform.ThingType
	Category   platform.ThingCategory
	Actionable bool
	Binding    Binding
	// Pin, Polarity and KeyCode describe the peripheral of bound things
	Pin      string
	Polarity peripheral.Polarity
	KeyCode  int
}

// NodeSpec declares a node and its things in declaration order
type NodeSpec struct {
	ID     string
	Label  string
	Type   platform.NodeType
	Things []ThingSpec
}

// Topology is the set of nodes the agent keeps registered
type Topology struct {
	Nodes []NodeSpec
}

// DefaultTopology returns a sample node with one external thing, and a device node with
// a LED on ledPin and a button on buttonPin.
func DefaultTopology(ledPin, buttonPin string) Topology {
	return Topology{
		Nodes: []NodeSpec{
			{
				ID:    ExampleNodeID,
				Label: ExampleNodeID,
				Type:  platform.NodeTypeGeneric,
				Things: []ThingSpec{
					{
						ID:         ExampleThingID,
						Type:       platform.ThingType{Name: "My Sample Thing Type", Vendor: "My Sample Vendor", DataType: platform.DataTypeInteger},
						Category:   platform.ThingCategoryExternal,
						Actionable: true,
					},
				},
			},
			{
				ID:    DeviceNodeID,
				Label: DeviceNodeID,
				Type:  platform.NodeTypeGeneric,
				Things: []ThingSpec{
					{
						ID:         LedThingID,
						Type:       platform.ThingType{Name: "LED", Vendor: "Raspberry Pi 3 GPIO", DataType: platform.DataTypeInteger},
						Category:   platform.ThingCategoryBuiltin,
						Actionable: true,
						Binding:    BindingOutput,
						Pin:        ledPin,
					},
					{
						ID:         ButtonThingID,
						Type:       platform.ThingType{Name: "BUTTON", Vendor: "Raspberry Pi 3 GPIO", DataType: platform.DataTypeInteger},
						Category:   platform.ThingCategoryBuiltin,
						Actionable: false,
						Binding:    BindingInput,
						Pin:        buttonPin,
						Polarity:   peripheral.PressedWhenLow,
						KeyCode:    peripheral.KeyCodeSpace,
					},
				},
			},
		},
	}
}

// Validate checks that identifiers are unique and that the gateway's single output and
// single input are bound at most once.
func (t Topology) Validate() error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("topology has no nodes")
	}
	nodeIDs := map[string]bool{}
	bound := map[Binding]string{}
	for _, n := range t.Nodes {
		if len(n.ID) == 0 {
			return fmt.Errorf("node without id")
		}
		if nodeIDs[n.ID] {
			return fmt.Errorf("duplicate node id '%s'", n.ID)
		}
		nodeIDs[n.ID] = true

		thingIDs := map[string]bool{}
		for _, th := range n.Things {
			if len(th.ID) == 0 {
				return fmt.Errorf("thing without id in node '%s'", n.ID)
			}
			if thingIDs[th.ID] {
				return fmt.Errorf("duplicate thing id '%s' in node '%s'", th.ID, n.ID)
			}
			thingIDs[th.ID] = true

			switch th.Binding {
			case BindingNone:
			case BindingOutput, BindingInput:
				if len(th.Pin) == 0 {
					return fmt.Errorf("thing '%s' is bound to the %s but has no pin", th.ID, th.Binding)
				}
				if other, ok := bound[th.Binding]; ok {
					return fmt.Errorf("%s is bound twice, by '%s' and '%s'", th.Binding, other, th.ID)
				}
				bound[th.Binding] = th.ID
			default:
				return fmt.Errorf("thing '%s' has unknown binding '%s'", th.ID, th.Binding)
			}
		}
	}
	return nil
}

// topologySchema is the JSON schema of a topology document
const topologySchema = `{
	"type": "object",
	"required": ["nodes"],
	"additionalProperties": false,
	"properties": {
		"nodes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id"],
				"additionalProperties": false,
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"label": {"type": "string"},
					"type": {"type": "string"},
					"things": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["id", "type"],
							"additionalProperties": false,
							"properties": {
								"id": {"type": "string", "minLength": 1},
								"type": {"type": "string"},
								"vendor": {"type": "string"},
								"data_type": {"type": "string"},
								"category": {"type": "string"},
								"actionable": {"type": "boolean"},
								"binding": {"enum": ["", "output", "input"]},
								"pin": {"type": "string"},
								"polarity": {"enum": ["PRESSED_WHEN_LOW", "PRESSED_WHEN_HIGH"]},
								"key_code": {"type": "integer"}
							}
						}
					}
				}
			}
		}
	}
}`

type topologyDocument struct {
	Nodes []struct {
		ID     string `yaml:"id"`
		Label  string `yaml:"label"`
		Type   string `yaml:"type"`
		Things []struct {
			ID         string `yaml:"id"`
			Type       string `yaml:"type"`
			Vendor     string `yaml:"vendor"`
			DataType   string `yaml:"data_type"`
			Category   string `yaml:"category"`
			Actionable bool   `yaml:"actionable"`
			Binding    string `yaml:"binding"`
			Pin        string `yaml:"pin"`
			Polarity   string `yaml:"polarity"`
			KeyCode    *int   `yaml:"key_code"`
		} `yaml:"things"`
	} `yaml:"nodes"`
}

// LoadTopology reads a topology from a YAML file
func LoadTopology(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("cannot read topology: %w", err)
	}
	return ParseTopology(data)
}

// ParseTopology parses and validates a YAML topology document. Omitted labels default to
// the node id, omitted types to GENERIC, INTEGER and UNDEFINED, omitted key codes to space.
func ParseTopology(data []byte) (Topology, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Topology{}, fmt.Errorf("parse error in topology: %w", err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(topologySchema), gojsonschema.NewGoLoader(raw))
	if err != nil {
		return Topology{}, fmt.Errorf("cannot validate topology: %w", err)
	}
	if !result.Valid() {
		var details []string
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return Topology{}, fmt.Errorf("invalid topology: %s", strings.Join(details, "; "))
	}

	var doc topologyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Topology{}, fmt.Errorf("parse error in topology: %w", err)
	}

	var topology Topology
	for _, n := range doc.Nodes {
		node := NodeSpec{ID: n.ID, Label: n.Label}
		if len(node.Label) == 0 {
			node.Label = n.ID
		}
		if len(n.Type) > 0 {
			if node.Type, err = platform.ParseNodeType(n.Type); err != nil {
				return Topology{}, fmt.Errorf("node '%s': %w", n.ID, err)
			}
		}
		for _, th := range n.Things {
			thing := ThingSpec{
				ID:         th.ID,
				Type:       platform.ThingType{Name: th.Type, Vendor: th.Vendor},
				Actionable: th.Actionable,
				Binding:    Binding(th.Binding),
				Pin:        th.Pin,
				KeyCode:    peripheral.KeyCodeSpace,
			}
			if len(th.DataType) > 0 {
				if thing.Type.DataType, err = platform.ParseThingDataType(th.DataType); err != nil {
					return Topology{}, fmt.Errorf("thing '%s': %w", th.ID, err)
				}
			}
			if len(th.Category) > 0 {
				if thing.Category, err = platform.ParseThingCategory(th.Category); err != nil {
					return Topology{}, fmt.Errorf("thing '%s': %w", th.ID, err)
				}
			}
			if th.Polarity == peripheral.PressedWhenHigh.String() {
				thing.Polarity = peripheral.PressedWhenHigh
			}
			if th.KeyCode != nil {
				thing.KeyCode = *th.KeyCode
			}
			node.Things = append(node.Things, thing)
		}
		topology.Nodes = append(topology.Nodes, node)
	}
	if err := topology.Validate(); err != nil {
		return Topology{}, err
	}
	return topology, nil
}
