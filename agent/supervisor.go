// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package agent

import (
	"errors"
	"sync"
	"time"

	"github.com/relabs-tech/thingagent/core/logger"
	"github.com/relabs-tech/thingagent/peripheral"
	"github.com/relabs-tech/thingagent/platform"
	"github.com/sirupsen/logrus"
)

// DefaultReconnectInterval is the watchdog interval used when the builder leaves it empty
const DefaultReconnectInterval = 10 * time.Second

// ShutdownReason is sent with the offline presence of every node and thing on shutdown
const ShutdownReason = "Application Destroyed"

// Supervisor keeps the agent connected to the platform and the declared nodes and things
// registered and online.
//
// While disconnected a watchdog attempts a new connection once per interval. When a
// connection comes up, all nodes and things of the ledger are registered and set online
// in declaration order, and the peripherals of registered bound things are opened.
type Supervisor struct {
	connector     platform.Connector
	ledger        *Ledger
	gateway       *peripheral.Gateway
	keyHandler    peripheral.KeyHandler
	nodeObserver  platform.NodeObserver
	thingObserver platform.ThingObserver
	metrics       *Metrics
	watchdog      *Watchdog
	rlog          *logrus.Entry

	// buildMu prevents overlapping connection attempts
	buildMu sync.Mutex
	// registerMu serializes registration passes with shutdown
	registerMu sync.Mutex

	mu            sync.Mutex
	started       bool
	stopped       bool
	connected     bool
	lastConnected time.Time
	session       platform.Session

	shutdownOnce sync.Once
}

// Builder is a builder helper for the Supervisor
type Builder struct {
	// Connector builds platform sessions. Mandatory.
	Connector platform.Connector
	// Ledger holds the nodes and things to register. Mandatory.
	Ledger *Ledger
	// Gateway owns the peripherals of bound things. Without a gateway no peripheral is opened.
	Gateway *peripheral.Gateway
	// KeyHandler receives the key events of the input bound thing
	KeyHandler peripheral.KeyHandler
	// NodeObserver and ThingObserver receive remote notifications. They default to logging.
	NodeObserver  platform.NodeObserver
	ThingObserver platform.ThingObserver
	// ReconnectInterval is the watchdog interval, default is DefaultReconnectInterval
	ReconnectInterval time.Duration
	// Scheduler runs the watchdog, default is time.AfterFunc
	Scheduler Scheduler
	// Metrics are optional
	Metrics *Metrics
}

// NewSupervisor returns a new supervisor. Call Start to begin connecting.
func NewSupervisor(b *Builder) *Supervisor {
	if b.Connector == nil {
		panic("connector missing")
	}
	if b.Ledger == nil {
		panic("ledger missing")
	}
	interval := b.ReconnectInterval
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}
	s := &Supervisor{
		connector:     b.Connector,
		ledger:        b.Ledger,
		gateway:       b.Gateway,
		keyHandler:    b.KeyHandler,
		nodeObserver:  b.NodeObserver,
		thingObserver: b.ThingObserver,
		metrics:       b.Metrics,
		rlog:          logger.Default().WithField("component", "supervisor"),
	}
	if s.nodeObserver == nil || s.thingObserver == nil {
		l := &loggingObserver{rlog: logger.Default().WithField("component", "observer")}
		if s.nodeObserver == nil {
			s.nodeObserver = l
		}
		if s.thingObserver == nil {
			s.thingObserver = l
		}
	}
	if s.keyHandler == nil {
		s.keyHandler = func(peripheral.KeyEvent) {}
	}
	s.watchdog = NewWatchdog(interval, b.Scheduler, s.tick)
	return s
}

// Start arms the watchdog. The first connection attempt happens after one interval.
// Calling Start again does nothing.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.rlog.Infoln("starting watchdog")
	s.watchdog.Arm()
}

// tick runs when the watchdog fires
func (s *Supervisor) tick() {
	s.mu.Lock()
	if s.stopped || s.connected {
		s.mu.Unlock()
		s.rlog.Debugln("already connected")
		return
	}
	s.watchdog.Arm()
	s.mu.Unlock()

	s.rlog.Warnln("not connected, trying to reconnect")
	s.rebuild()
}

// rebuild attempts a new connection. A concurrent attempt makes it a no-op.
func (s *Supervisor) rebuild() {
	if !s.buildMu.TryLock() {
		s.rlog.Debugln("connection attempt already in progress")
		return
	}
	defer s.buildMu.Unlock()

	s.mu.Lock()
	if s.stopped || s.connected {
		s.mu.Unlock()
		return
	}
	previous := s.session
	s.session = nil
	s.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	s.metrics.connectAttempt()
	session, err := s.connector.Connect(s)
	if err != nil {
		if errors.Is(err, platform.ErrUnsupportedVersion) {
			s.metrics.connectFailure("unsupported_version")
			s.rlog.WithError(err).Errorln("platform refused version")
		} else {
			s.metrics.connectFailure("error")
			s.rlog.WithError(err).Errorln("cannot connect")
		}
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		session.Close()
		return
	}
	if s.session == nil {
		s.session = session
	}
	s.mu.Unlock()
}

// OnConnected cancels the watchdog and registers all nodes and things with the session
func (s *Supervisor) OnConnected(session platform.Session) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.watchdog.Disarm()
	s.connected = true
	s.lastConnected = time.Now()
	s.session = session
	s.mu.Unlock()

	s.metrics.setConnected(true)
	s.rlog.Infoln("connected")
	s.registerAll(session)
}

// registerAll stops as soon as the supervisor is shut down. Shutdown waits for the
// running pass, so nothing is set online or opened after shutdown released it.
func (s *Supervisor) registerAll(session platform.Session) {
	s.registerMu.Lock()
	defer s.registerMu.Unlock()
	for _, n := range s.ledger.Nodes() {
		if s.isStopped() {
			return
		}
		spec := n.Spec()
		nlog := s.rlog.WithField("node", spec.ID)
		nlog.Infoln("creating node")
		handle := session.CreateNode(spec.ID, spec.Label, spec.Type, s.nodeObserver)
		s.ledger.AttachNode(n, handle)
		s.ledger.RegisterNodeAndSetOnline(n)
		if !s.ledger.IsRegistered(n) {
			nlog.Warnln("node not registered, skipping its things")
			continue
		}

		for _, t := range n.Things() {
			if s.isStopped() {
				return
			}
			ts := t.Spec()
			thing := handle.CreateThing(ts.ID, ts.Type, ts.Category, ts.Actionable, s.thingObserver)
			s.ledger.AttachThing(t, thing)
			s.ledger.RegisterThingAndSetOnline(n, t)
			if !s.ledger.IsRegistered(t) {
				nlog.WithField("thing", ts.ID).Warnln("thing not registered")
				continue
			}
			if s.isStopped() {
				return
			}
			s.openPeripheral(t)
		}
	}
}

// openPeripheral opens the peripheral of a bound thing. A failure is logged and leaves
// the thing online.
func (s *Supervisor) openPeripheral(t *ThingEntry) {
	if s.gateway == nil {
		return
	}
	spec := t.Spec()
	var err error
	switch spec.Binding {
	case BindingOutput:
		err = s.gateway.OpenOutput(spec.Pin)
	case BindingInput:
		err = s.gateway.OpenInput(spec.Pin, spec.Polarity, spec.KeyCode, s.keyHandler)
	default:
		return
	}
	if err != nil {
		s.rlog.WithField("thing", spec.ID).WithError(err).Errorln("cannot open peripheral")
	}
}

// OnDisconnected marks the agent disconnected and arms the watchdog. The online flags of
// nodes and things are left untouched.
func (s *Supervisor) OnDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.connected = false
	s.metrics.setConnected(false)
	s.rlog.Warnln("disconnected")
	s.watchdog.Arm()
}

// Shutdown sets every node and thing offline, releases the peripherals and closes the
// session. Release failures are logged. Only the first call has an effect.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.connected = false
		s.watchdog.Disarm()
		session := s.session
		s.session = nil
		s.mu.Unlock()

		s.rlog.Infoln("shutting down")
		s.registerMu.Lock()
		s.ledger.SetAllOffline(ShutdownReason)
		if s.gateway != nil {
			if err := s.gateway.Release(); err != nil {
				s.rlog.WithError(err).Errorln("error releasing peripherals")
			}
		}
		s.registerMu.Unlock()
		if session != nil {
			session.Close()
		}
		s.metrics.setConnected(false)
	})
}

func (s *Supervisor) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Connected reports whether the agent currently holds a live session
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// WatchdogArmed reports whether a connection attempt is scheduled
func (s *Supervisor) WatchdogArmed() bool {
	return s.watchdog.Armed()
}

// Status is the state of the supervisor and its ledger
type Status struct {
	Connected       bool         `json:"connected"`
	LastConnectedAt *time.Time   `json:"last_connected_at,omitempty"`
	WatchdogArmed   bool         `json:"watchdog_armed"`
	Nodes           []NodeStatus `json:"nodes"`
}

// Status returns a snapshot of the supervisor state
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	status := Status{Connected: s.connected}
	if !s.lastConnected.IsZero() {
		at := s.lastConnected.UTC()
		status.LastConnectedAt = &at
	}
	s.mu.Unlock()
	status.WatchdogArmed = s.watchdog.Armed()
	status.Nodes = s.ledger.Snapshot()
	return status
}
