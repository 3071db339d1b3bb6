// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package agent

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the prometheus collectors of the agent. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	connectAttempts prometheus.Counter
	connectFailures *prometheus.CounterVec
	connected       prometheus.Gauge
	registrations   *prometheus.CounterVec
	samples         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thingagent_connect_attempts_total",
			Help: "Number of connection attempts to the platform",
		}),
		connectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thingagent_connect_failures_total",
			Help: "Number of failed connection attempts to the platform",
		}, []string{"reason"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thingagent_connected",
			Help: "1 while the agent is connected to the platform",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thingagent_registrations_total",
			Help: "Number of node and thing registration attempts",
		}, []string{"kind", "result"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thingagent_samples_total",
			Help: "Number of samples published per thing",
		}, []string{"thing", "result"}),
	}
	reg.MustRegister(m.connectAttempts, m.connectFailures, m.connected, m.registrations, m.samples)
	return m
}

func (m *Metrics) connectAttempt() {
	if m != nil {
		m.connectAttempts.Inc()
	}
}

func (m *Metrics) connectFailure(reason string) {
	if m != nil {
		m.connectFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) setConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) registration(kind string, ok bool) {
	if m != nil {
		m.registrations.WithLabelValues(kind, result(ok)).Inc()
	}
}

func (m *Metrics) sample(thingID, outcome string) {
	if m != nil {
		m.samples.WithLabelValues(thingID, outcome).Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
