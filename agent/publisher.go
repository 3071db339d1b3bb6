// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package agent

import (
	"errors"
	"sync"

	"github.com/relabs-tech/thingagent/core/logger"
	"github.com/relabs-tech/thingagent/peripheral"
	"github.com/relabs-tech/thingagent/platform"
	"github.com/sirupsen/logrus"
)

// Publisher turns peripheral state into samples of the bound things. Samples of
// things which are not registered are dropped, nothing is queued.
type Publisher struct {
	ledger  *Ledger
	gateway *peripheral.Gateway
	metrics *Metrics
	rlog    *logrus.Entry

	mu      sync.Mutex
	keyDown bool
}

// NewPublisher returns a publisher for the things of ledger. gateway may be nil, then
// SetOutput always fails with peripheral.ErrNotOpen.
func NewPublisher(ledger *Ledger, gateway *peripheral.Gateway, metrics *Metrics) *Publisher {
	if ledger == nil {
		panic("ledger missing")
	}
	return &Publisher{
		ledger:  ledger,
		gateway: gateway,
		metrics: metrics,
		rlog:    logger.Default().WithField("component", "publisher"),
	}
}

// Code returns the sample value of a boolean state
func Code(state bool) float64 {
	if state {
		return 1
	}
	return 0
}

// Publish sends a boolean state as 1 or 0
func (p *Publisher) Publish(t *ThingEntry, state bool) {
	p.PublishValue(t, Code(state))
}

// PublishValue stores value as last value of the thing and sends it. Nothing happens
// for an absent or unregistered thing.
func (p *Publisher) PublishValue(t *ThingEntry, value float64) {
	outcome := p.ledger.send(t, platform.NewThingData(value))
	if t == nil {
		return
	}
	rlog := p.rlog.WithFields(logrus.Fields{"node": t.NodeID(), "thing": t.ID(), "value": value})
	switch outcome {
	case sampleDropped:
		rlog.Debugln("thing not registered, sample dropped")
	case sampleSent:
		rlog.Debugln("sample sent")
	case sampleFailed:
		rlog.Warnln("sample not accepted")
	}
	p.metrics.sample(t.ID(), outcome)
}

// SetOutput writes the output pin and then publishes the new state on the output bound
// thing. The write does not depend on the platform connection.
func (p *Publisher) SetOutput(state bool) error {
	if p.gateway == nil {
		return peripheral.ErrNotOpen
	}
	if err := p.gateway.SetOutput(state); err != nil {
		return err
	}
	p.Publish(p.ledger.Bound(BindingOutput), state)
	return nil
}

// SetInputState publishes the state of the input bound thing
func (p *Publisher) SetInputState(pressed bool) {
	p.Publish(p.ledger.Bound(BindingInput), pressed)
}

// HandleKey is the key handler of the input driver. A press turns the output on and
// publishes the pressed state, a release turns it off again. Only changes of the key
// declared by the input bound thing count, repeats are ignored.
func (p *Publisher) HandleKey(ev peripheral.KeyEvent) {
	t := p.ledger.Bound(BindingInput)
	if t == nil || t.Spec().KeyCode != ev.Code {
		return
	}
	p.mu.Lock()
	if p.keyDown == ev.Down {
		p.mu.Unlock()
		return
	}
	p.keyDown = ev.Down
	p.mu.Unlock()
	if err := p.SetOutput(ev.Down); err != nil && !errors.Is(err, peripheral.ErrNotOpen) {
		p.rlog.WithError(err).Warnln("output not switched")
	}
	p.SetInputState(ev.Down)
}
