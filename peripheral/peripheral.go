// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package peripheral

import "errors"

// ErrNotOpen is returned when a pin is used before it was opened
var ErrNotOpen = errors.New("peripheral not open")

// Polarity is the logic level at which a button counts as pressed
type Polarity int

// The supported polarities
const (
	PressedWhenLow Polarity = iota
	PressedWhenHigh
)

func (p Polarity) String() string {
	if p == PressedWhenHigh {
		return "PRESSED_WHEN_HIGH"
	}
	return "PRESSED_WHEN_LOW"
}

// KeyCodeSpace is the key code of the space bar
const KeyCodeSpace = 62

// KeyEvent is emitted by an input driver when its button changes state
type KeyEvent struct {
	Code int
	Down bool
}

// KeyHandler receives key events from an input driver
type KeyHandler func(KeyEvent)

// OutputPin is a digital output
type OutputPin interface {
	SetValue(value bool) error
	Close() error
}

// InputDriver turns a digital input into key events. Events are only delivered
// between Register and Unregister.
type InputDriver interface {
	Register() error
	Unregister() error
	Close() error
}

// Peripherals opens pins
type Peripherals interface {
	OpenOutput(pin string) (OutputPin, error)
	OpenInputDriver(pin string, polarity Polarity, keyCode int, handler KeyHandler) (InputDriver, error)
}
