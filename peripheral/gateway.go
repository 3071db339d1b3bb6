// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package peripheral

import (
	"fmt"
	"sync"

	"github.com/relabs-tech/thingagent/core/logger"
	"go.uber.org/multierr"
)

// Gateway owns a single digital output and a single input driver.
type Gateway struct {
	peripherals Peripherals

	mu        sync.Mutex
	output    OutputPin
	outputPin string
	input     InputDriver
	inputPin  string
}

// NewGateway returns a gateway which opens its pins from p
func NewGateway(p Peripherals) *Gateway {
	if p == nil {
		panic("peripherals missing")
	}
	return &Gateway{peripherals: p}
}

// OpenOutput opens the output pin and drives it low. It does nothing if an output
// is already open.
func (g *Gateway) OpenOutput(pin string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.output != nil {
		if g.outputPin != pin {
			return fmt.Errorf("output already open on %s", g.outputPin)
		}
		return nil
	}
	output, err := g.peripherals.OpenOutput(pin)
	if err != nil {
		return fmt.Errorf("open output %s: %w", pin, err)
	}
	g.output = output
	g.outputPin = pin
	logger.Default().WithField("pin", pin).Infoln("output opened")
	return nil
}

// OpenInput opens the input driver and registers it, so that key events are
// delivered to handler. It does nothing if an input is already open.
func (g *Gateway) OpenInput(pin string, polarity Polarity, keyCode int, handler KeyHandler) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.input != nil {
		if g.inputPin != pin {
			return fmt.Errorf("input already open on %s", g.inputPin)
		}
		return nil
	}
	input, err := g.peripherals.OpenInputDriver(pin, polarity, keyCode, handler)
	if err != nil {
		return fmt.Errorf("open input driver %s: %w", pin, err)
	}
	if err := input.Register(); err != nil {
		if cerr := input.Close(); cerr != nil {
			logger.Default().WithField("pin", pin).WithError(cerr).Errorln("error closing input driver")
		}
		return fmt.Errorf("register input driver %s: %w", pin, err)
	}
	g.input = input
	g.inputPin = pin
	logger.Default().WithField("pin", pin).Infoln("input driver registered")
	return nil
}

// SetOutput writes the output pin
func (g *Gateway) SetOutput(value bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.output == nil {
		return ErrNotOpen
	}
	if err := g.output.SetValue(value); err != nil {
		return fmt.Errorf("set output %s: %w", g.outputPin, err)
	}
	return nil
}

// OutputOpen returns true if the output pin is open
func (g *Gateway) OutputOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.output != nil
}

// InputOpen returns true if the input driver is open
func (g *Gateway) InputOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.input != nil
}

// Release unregisters and closes the input driver, then closes the output pin.
//
// Every stage is attempted regardless of earlier failures and both references are
// cleared before the pins are released, so key handlers calling SetOutput meanwhile
// get ErrNotOpen instead of blocking. The returned error combines all failures.
func (g *Gateway) Release() error {
	g.mu.Lock()
	input, inputPin := g.input, g.inputPin
	output, outputPin := g.output, g.outputPin
	g.input, g.inputPin = nil, ""
	g.output, g.outputPin = nil, ""
	g.mu.Unlock()

	var err error
	if input != nil {
		if uerr := input.Unregister(); uerr != nil {
			err = multierr.Append(err, fmt.Errorf("unregister input driver %s: %w", inputPin, uerr))
		}
		if cerr := input.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close input driver %s: %w", inputPin, cerr))
		}
	}
	if output != nil {
		if cerr := output.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close output %s: %w", outputPin, cerr))
		}
	}
	return err
}
