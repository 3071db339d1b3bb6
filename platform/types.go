// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package platform

import (
	"fmt"
	"strings"
	"time"
)

// NodeType is the category of a node
type NodeType int

// The supported node types
const (
	NodeTypeGeneric NodeType = iota
	NodeTypeRaspberryPi
	NodeTypeArduinoYun
)

var nodeTypeNames = map[NodeType]string{
	NodeTypeGeneric:     "GENERIC",
	NodeTypeRaspberryPi: "RASPBERRY_PI",
	NodeTypeArduinoYun:  "ARDUINO_YUN",
}

func (t NodeType) String() string {
	if s, ok := nodeTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// ParseNodeType parses the upper case name of a node type
func ParseNodeType(s string) (NodeType, error) {
	for t, name := range nodeTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return NodeTypeGeneric, fmt.Errorf("unknown node type '%s'", s)
}

// ThingCategory tells where a thing is located relative to its node
type ThingCategory int

// The supported thing categories
const (
	ThingCategoryUndefined ThingCategory = iota
	ThingCategoryExternal
	ThingCategoryBuiltin
)

var thingCategoryNames = map[ThingCategory]string{
	ThingCategoryUndefined: "UNDEFINED",
	ThingCategoryExternal:  "EXTERNAL",
	ThingCategoryBuiltin:   "BUILTIN",
}

func (c ThingCategory) String() string {
	if s, ok := thingCategoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ThingCategory(%d)", int(c))
}

// ParseThingCategory parses the upper case name of a thing category
func ParseThingCategory(s string) (ThingCategory, error) {
	for c, name := range thingCategoryNames {
		if strings.EqualFold(name, s) {
			return c, nil
		}
	}
	return ThingCategoryUndefined, fmt.Errorf("unknown thing category '%s'", s)
}

// ThingDataType is the type of the samples a thing produces
type ThingDataType int

// The supported data types
const (
	DataTypeInteger ThingDataType = iota
	DataTypeFloat
	DataTypeString
)

var dataTypeNames = map[ThingDataType]string{
	DataTypeInteger: "INTEGER",
	DataTypeFloat:   "FLOAT",
	DataTypeString:  "STRING",
}

func (d ThingDataType) String() string {
	if s, ok := dataTypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("ThingDataType(%d)", int(d))
}

// ParseThingDataType parses the upper case name of a data type
func ParseThingDataType(s string) (ThingDataType, error) {
	for d, name := range dataTypeNames {
		if strings.EqualFold(name, s) {
			return d, nil
		}
	}
	return DataTypeInteger, fmt.Errorf("unknown data type '%s'", s)
}

// ThingType is shared, read-only metadata describing a class of things
type ThingType struct {
	Name     string
	Vendor   string
	DataType ThingDataType
}

// ThingData is an ordered sequence of samples sent for a thing at a point in time
type ThingData struct {
	Values []float64
	At     time.Time
}

// NewThingData returns thing data stamped with the current time
func NewThingData(values ...float64) ThingData {
	return ThingData{Values: values, At: time.Now().UTC()}
}

// Add appends a sample
func (d *ThingData) Add(value float64) {
	d.Values = append(d.Values, value)
}

// ThingActionData is an inbound command addressed to a node and thing
type ThingActionData struct {
	NodeID  string
	ThingID string
	Message string
}

// ThingConfiguration is the configuration the platform pushes to a thing
type ThingConfiguration struct {
	DataReadingFrequency time.Duration
	ReceivedAt           time.Time
}
