package agent

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/thingagent/peripheral"
	"github.com/relabs-tech/thingagent/platform"
)

// journal records platform and peripheral calls in order
type journal struct {
	mu         sync.Mutex
	calls      []string
	violations []string
}

func (j *journal) add(format string, args ...interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, fmt.Sprintf(format, args...))
}

func (j *journal) violation(format string, args ...interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.violations = append(j.violations, fmt.Sprintf(format, args...))
}

func (j *journal) entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string{}, j.calls...)
}

func (j *journal) count(call string) int {
	n := 0
	for _, c := range j.entries() {
		if c == call {
			n++
		}
	}
	return n
}

func (j *journal) reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = nil
}

type fakeConnector struct {
	j *journal

	mu sync.Mutex
	// err is returned by Connect
	err error
	// connectNow makes Connect call OnConnected before returning
	connectNow bool
	attempts   int
	sessions   []*fakeSession
	// ids of nodes and things refusing registration
	refuse map[string]bool
	// onRegister is called after a thing registered
	onRegister func(thingID string)
}

func newFakeConnector(j *journal) *fakeConnector {
	return &fakeConnector{j: j, refuse: map[string]bool{}}
}

func (c *fakeConnector) Connect(observer platform.ConnectionObserver) (platform.Session, error) {
	c.mu.Lock()
	c.attempts++
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	s := &fakeSession{c: c, nodes: map[string]*fakeNode{}}
	c.sessions = append(c.sessions, s)
	connectNow := c.connectNow
	c.mu.Unlock()
	if connectNow {
		observer.OnConnected(s)
	}
	return s, nil
}

func (c *fakeConnector) attemptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *fakeConnector) refused(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refuse[id]
}

type fakeSession struct {
	c *fakeConnector

	mu     sync.Mutex
	nodes  map[string]*fakeNode
	closed int
}

func (s *fakeSession) CreateNode(id, label string, nodeType platform.NodeType, observer platform.NodeObserver) platform.Node {
	s.c.j.add("createNode %s", id)
	n := &fakeNode{s: s, id: id, things: map[string]*fakeThing{}}
	s.mu.Lock()
	s.nodes[id] = n
	s.mu.Unlock()
	return n
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
}

func (s *fakeSession) node(id string) *fakeNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[id]
}

type fakeNode struct {
	s  *fakeSession
	id string

	mu         sync.Mutex
	registered bool
	things     map[string]*fakeThing
}

func (n *fakeNode) ID() string { return n.id }

func (n *fakeNode) CreateThing(id string, thingType platform.ThingType, category platform.ThingCategory, actionable bool, observer platform.ThingObserver) platform.Thing {
	n.s.c.j.add("createThing %s", id)
	t := &fakeThing{n: n, id: id}
	n.mu.Lock()
	n.things[id] = t
	n.mu.Unlock()
	return t
}

func (n *fakeNode) Register() bool {
	n.s.c.j.add("registerNode %s", n.id)
	ok := !n.s.c.refused(n.id)
	n.setRegistered(ok)
	return ok
}

func (n *fakeNode) IsRegistered() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.registered
}

func (n *fakeNode) setRegistered(registered bool) {
	n.mu.Lock()
	n.registered = registered
	n.mu.Unlock()
}

func (n *fakeNode) SetConnected(connected bool, reason string) {
	if connected && !n.IsRegistered() {
		n.s.c.j.violation("node %s online while unregistered", n.id)
	}
	n.s.c.j.add("setNodeConnected %s %t %s", n.id, connected, reason)
}

func (n *fakeNode) thing(id string) *fakeThing {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.things[id]
}

type fakeThing struct {
	n  *fakeNode
	id string

	mu         sync.Mutex
	registered bool
	data       *platform.ThingData
	sendFails  bool
}

func (t *fakeThing) ID() string     { return t.id }
func (t *fakeThing) NodeID() string { return t.n.id }

func (t *fakeThing) Register() bool {
	t.n.s.c.j.add("registerThing %s", t.id)
	ok := !t.n.s.c.refused(t.id)
	t.setRegistered(ok)
	if hook := t.n.s.c.onRegister; hook != nil {
		hook(t.id)
	}
	return ok
}

func (t *fakeThing) IsRegistered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registered
}

func (t *fakeThing) setRegistered(registered bool) {
	t.mu.Lock()
	t.registered = registered
	t.mu.Unlock()
}

func (t *fakeThing) SetConnected(connected bool, reason string) {
	if connected && !t.IsRegistered() {
		t.n.s.c.j.violation("thing %s online while unregistered", t.id)
	}
	t.n.s.c.j.add("setThingConnected %s %t %s", t.id, connected, reason)
}

func (t *fakeThing) SetData(data platform.ThingData) {
	t.mu.Lock()
	t.data = &data
	t.mu.Unlock()
}

func (t *fakeThing) SendData(data platform.ThingData) bool {
	t.n.s.c.j.add("sendData %s %v", t.id, data.Values)
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.sendFails
}

func (t *fakeThing) Configuration() platform.ThingConfiguration {
	return platform.ThingConfiguration{DataReadingFrequency: time.Second}
}

// fakeScheduler runs timers only when the test fires them
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	pending := !t.stopped && !t.fired
	t.stopped = true
	return pending
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			result = append(result, t)
		}
	}
	return result
}

// fire runs the oldest pending timer and reports whether there was one
func (s *fakeScheduler) fire() bool {
	s.mu.Lock()
	var next *fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	s.mu.Unlock()
	if next == nil {
		return false
	}
	next.f()
	return true
}

type fakePeripherals struct {
	j *journal

	openOutputErr  error
	closeOutputErr error
	unregisterErr  error
	closeInputErr  error

	mu      sync.Mutex
	values  []bool
	handler peripheral.KeyHandler
}

func (p *fakePeripherals) OpenOutput(pin string) (peripheral.OutputPin, error) {
	p.j.add("openOutput %s", pin)
	if p.openOutputErr != nil {
		return nil, p.openOutputErr
	}
	return &fakeOutput{p: p}, nil
}

func (p *fakePeripherals) OpenInputDriver(pin string, polarity peripheral.Polarity, keyCode int, handler peripheral.KeyHandler) (peripheral.InputDriver, error) {
	p.j.add("openInput %s %s %d", pin, polarity, keyCode)
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
	return &fakeInput{p: p}, nil
}

func (p *fakePeripherals) outputValues() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool{}, p.values...)
}

type fakeOutput struct{ p *fakePeripherals }

func (o *fakeOutput) SetValue(value bool) error {
	o.p.mu.Lock()
	o.p.values = append(o.p.values, value)
	o.p.mu.Unlock()
	return nil
}

func (o *fakeOutput) Close() error {
	o.p.j.add("closeOutput")
	return o.p.closeOutputErr
}

type fakeInput struct{ p *fakePeripherals }

func (i *fakeInput) Register() error {
	i.p.j.add("registerInput")
	return nil
}

func (i *fakeInput) Unregister() error {
	i.p.j.add("unregisterInput")
	return i.p.unregisterErr
}

func (i *fakeInput) Close() error {
	i.p.j.add("closeInput")
	return i.p.closeInputErr
}

type harness struct {
	j          *journal
	connector  *fakeConnector
	scheduler  *fakeScheduler
	periph     *fakePeripherals
	ledger     *Ledger
	gateway    *peripheral.Gateway
	publisher  *Publisher
	actions    *ActionRouter
	supervisor *Supervisor
}

const testInterval = 10 * time.Second

func newHarness(t *testing.T, topology Topology) *harness {
	t.Helper()
	j := &journal{}
	h := &harness{
		j:         j,
		connector: newFakeConnector(j),
		scheduler: &fakeScheduler{},
		periph:    &fakePeripherals{j: j},
	}
	h.ledger = NewLedger(topology, nil)
	h.gateway = peripheral.NewGateway(h.periph)
	h.publisher = NewPublisher(h.ledger, h.gateway, nil)
	h.actions = NewActionRouter(h.ledger, h.publisher)
	h.supervisor = NewSupervisor(&Builder{
		Connector:         h.connector,
		Ledger:            h.ledger,
		Gateway:           h.gateway,
		KeyHandler:        h.publisher.HandleKey,
		NodeObserver:      h.actions,
		ThingObserver:     h.actions,
		ReconnectInterval: testInterval,
		Scheduler:         h.scheduler,
	})
	return h
}

// connect starts the supervisor and lets the first watchdog tick connect
func (h *harness) connect(t *testing.T) *fakeSession {
	t.Helper()
	h.connector.connectNow = true
	h.supervisor.Start()
	if !h.scheduler.fire() {
		t.Fatal("watchdog not armed")
	}
	if len(h.connector.sessions) == 0 {
		t.Fatal("no session")
	}
	return h.connector.sessions[len(h.connector.sessions)-1]
}

func twoThingTopology() Topology {
	return Topology{Nodes: []NodeSpec{{
		ID:    "node",
		Label: "node",
		Things: []ThingSpec{
			{ID: "first", Type: platform.ThingType{Name: "T"}, Category: platform.ThingCategoryExternal},
			{ID: "second", Type: platform.ThingType{Name: "T"}, Category: platform.ThingCategoryExternal, Actionable: true},
		},
	}}}
}
