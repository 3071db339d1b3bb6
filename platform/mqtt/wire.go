// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package mqtt

import (
	"net/url"
	"strings"
	"time"
)

// TopicRoot is the first segment of all topics
const TopicRoot = "thingagent"

// Kind is the kind of message carried by a topic
type Kind int

// The topic kinds
const (
	KindUnknown Kind = iota
	KindDevicePresence
	KindNodeRegister
	KindNodePresence
	KindNodeUnregistered
	KindThingRegister
	KindThingPresence
	KindThingData
	KindThingActions
	KindThingConfig
	KindThingUnregistered
)

var nodeLeaves = map[string]Kind{
	"register":     KindNodeRegister,
	"presence":     KindNodePresence,
	"unregistered": KindNodeUnregistered,
}

var thingLeaves = map[string]Kind{
	"register":     KindThingRegister,
	"presence":     KindThingPresence,
	"data":         KindThingData,
	"actions":      KindThingActions,
	"config":       KindThingConfig,
	"unregistered": KindThingUnregistered,
}

func leafOf(kind Kind) string {
	for leaf, k := range nodeLeaves {
		if k == kind {
			return leaf
		}
	}
	for leaf, k := range thingLeaves {
		if k == kind {
			return leaf
		}
	}
	return ""
}

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindDevicePresence:
		return "device presence"
	case KindNodeRegister, KindNodePresence, KindNodeUnregistered:
		return "node " + leafOf(k)
	}
	return "thing " + leafOf(k)
}

// Route addresses a device, node or thing topic
type Route struct {
	Kind     Kind
	DeviceID string
	NodeID   string
	ThingID  string
}

// Topic returns the MQTT topic of the route. Identifiers are escaped, so they
// may contain spaces, slashes or MQTT wildcards.
func (r Route) Topic() string {
	device := TopicRoot + "/" + escape(r.DeviceID)
	switch r.Kind {
	case KindDevicePresence:
		return device + "/presence"
	case KindNodeRegister, KindNodePresence, KindNodeUnregistered:
		return device + "/nodes/" + escape(r.NodeID) + "/" + leafOf(r.Kind)
	case KindUnknown:
		return ""
	}
	return device + "/nodes/" + escape(r.NodeID) + "/things/" + escape(r.ThingID) + "/" + leafOf(r.Kind)
}

// ParseTopic parses an MQTT topic into a route
func ParseTopic(topic string) (Route, bool) {
	segments := strings.Split(topic, "/")
	if len(segments) < 3 || segments[0] != TopicRoot {
		return Route{}, false
	}
	var (
		r   Route
		err error
	)
	if r.DeviceID, err = url.PathUnescape(segments[1]); err != nil || len(r.DeviceID) == 0 {
		return Route{}, false
	}

	switch len(segments) {
	case 3:
		if segments[2] != "presence" {
			return Route{}, false
		}
		r.Kind = KindDevicePresence
	case 5:
		kind, ok := nodeLeaves[segments[4]]
		if !ok || segments[2] != "nodes" {
			return Route{}, false
		}
		r.Kind = kind
	case 7:
		kind, ok := thingLeaves[segments[6]]
		if !ok || segments[2] != "nodes" || segments[4] != "things" {
			return Route{}, false
		}
		r.Kind = kind
		if r.ThingID, err = url.PathUnescape(segments[5]); err != nil || len(r.ThingID) == 0 {
			return Route{}, false
		}
	default:
		return Route{}, false
	}
	if len(segments) > 3 {
		if r.NodeID, err = url.PathUnescape(segments[3]); err != nil || len(r.NodeID) == 0 {
			return Route{}, false
		}
	}
	return r, true
}

// DevicePrefix returns the topic prefix owned by a device, including the trailing slash
func DevicePrefix(deviceID string) string {
	return TopicRoot + "/" + escape(deviceID) + "/"
}

// InboundFilters returns the subscriptions a device needs for platform notifications
func InboundFilters(deviceID string) map[string]byte {
	prefix := DevicePrefix(deviceID)
	return map[string]byte{
		prefix + "nodes/+/unregistered":          1,
		prefix + "nodes/+/things/+/unregistered": 1,
		prefix + "nodes/+/things/+/actions":      1,
		prefix + "nodes/+/things/+/config":       1,
	}
}

func escape(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), "+", "%2B")
}

// NodeRegistration is the payload of a node register message
type NodeRegistration struct {
	Label string `json:"label"`
	Type  string `json:"type"`
}

// ThingRegistration is the payload of a thing register message
type ThingRegistration struct {
	Type       string `json:"type"`
	Vendor     string `json:"vendor"`
	DataType   string `json:"data_type"`
	Category   string `json:"category"`
	Actionable bool   `json:"actionable"`
}

// Presence is the payload of a presence message
type Presence struct {
	Connected bool      `json:"connected"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Data is the payload of a thing data message
type Data struct {
	Values []float64 `json:"values"`
	At     time.Time `json:"at"`
}

// Configuration is the payload of a thing config message
type Configuration struct {
	DataReadingFrequencyMS int64 `json:"data_reading_frequency_ms"`
}
