// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package peripheral

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/thingagent/core/logger"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Periph opens pins from the periph.io GPIO registry. Pins are named the periph.io
// way ("GPIO21") or Broadcom style ("BCM21").
type Periph struct {
	// ByName resolves pin names. Default is gpioreg.ByName.
	ByName func(name string) gpio.PinIO
	// EdgeTimeout bounds a single wait for an edge so that input drivers notice
	// Unregister. Default is 100ms.
	EdgeTimeout time.Duration
}

// NewPeriph loads the periph.io host drivers and returns peripherals backed by them
func NewPeriph() (*Periph, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("cannot initialize host drivers: %w", err)
	}
	logger.Default().WithField("drivers", len(state.Loaded)).Infoln("host drivers loaded")
	return &Periph{}, nil
}

func (p *Periph) edgeTimeout() time.Duration {
	if p.EdgeTimeout <= 0 {
		return 100 * time.Millisecond
	}
	return p.EdgeTimeout
}

func pinName(pin string) string {
	name := strings.TrimSpace(pin)
	if len(name) > 3 && strings.EqualFold(name[:3], "BCM") {
		return "GPIO" + name[3:]
	}
	return name
}

func (p *Periph) pin(name string) (gpio.PinIO, error) {
	byName := p.ByName
	if byName == nil {
		byName = gpioreg.ByName
	}
	pin := byName(pinName(name))
	if pin == nil {
		return nil, fmt.Errorf("unknown pin '%s'", name)
	}
	return pin, nil
}

// OpenOutput implements Peripherals. The pin starts out low.
func (p *Periph) OpenOutput(name string) (OutputPin, error) {
	pin, err := p.pin(name)
	if err != nil {
		return nil, err
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("set %s low: %w", pin.Name(), err)
	}
	return &periphOutput{pin: pin}, nil
}

// OpenInputDriver implements Peripherals. The pin is pulled towards its released level
// and edge detection is enabled on both edges.
func (p *Periph) OpenInputDriver(name string, polarity Polarity, keyCode int, handler KeyHandler) (InputDriver, error) {
	if handler == nil {
		return nil, fmt.Errorf("key handler missing for pin %s", name)
	}
	pin, err := p.pin(name)
	if err != nil {
		return nil, err
	}
	pull := gpio.PullUp
	if polarity == PressedWhenHigh {
		pull = gpio.PullDown
	}
	if err := pin.In(pull, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("set %s as input: %w", pin.Name(), err)
	}
	return &periphInput{
		pin:         pin,
		polarity:    polarity,
		keyCode:     keyCode,
		handler:     handler,
		edgeTimeout: p.edgeTimeout(),
	}, nil
}

type periphOutput struct {
	pin gpio.PinIO

	mu     sync.Mutex
	closed bool
}

func (o *periphOutput) SetValue(value bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrNotOpen
	}
	return o.pin.Out(gpio.Level(value))
}

func (o *periphOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.pin.Halt()
}

type periphInput struct {
	pin         gpio.PinIO
	polarity    Polarity
	keyCode     int
	handler     KeyHandler
	edgeTimeout time.Duration

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

func (i *periphInput) pressed() bool {
	return bool(i.pin.Read()) == (i.polarity == PressedWhenHigh)
}

func (i *periphInput) Register() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrNotOpen
	}
	if i.stop != nil {
		return nil
	}
	i.stop = make(chan struct{})
	i.done = make(chan struct{})
	go i.watch(i.pressed(), i.stop, i.done)
	return nil
}

// Unregister stops event delivery. It waits for a running key handler to return.
func (i *periphInput) Unregister() error {
	i.mu.Lock()
	if i.stop == nil {
		i.mu.Unlock()
		return nil
	}
	close(i.stop)
	done := i.done
	i.stop = nil
	i.done = nil
	i.mu.Unlock()
	<-done
	return nil
}

func (i *periphInput) Close() error {
	i.Unregister()
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	return multierr.Combine(
		i.pin.In(gpio.PullNoChange, gpio.NoEdge),
		i.pin.Halt(),
	)
}

// watch emits a key event for every edge which changes the pressed state
func (i *periphInput) watch(last bool, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !i.pin.WaitForEdge(i.edgeTimeout) {
			continue
		}
		select {
		case <-stop:
			return
		default:
		}
		if pressed := i.pressed(); pressed != last {
			last = pressed
			i.handler(KeyEvent{Code: i.keyCode, Down: pressed})
		}
	}
}
