/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the softphone's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	callsTotal           *prometheus.CounterVec
	callsActive          prometheus.Gauge
	callDuration         prometheus.Histogram
	missedCalls          prometheus.Counter
	registrationFailures prometheus.Counter
	transferFailures     prometheus.Counter
}

// NewMetrics registers the collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		callsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "softphone",
			Name:      "calls_total",
			Help:      "Calls by direction and outcome",
		}, []string{"direction", "outcome"}),
		callsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "softphone",
			Name:      "calls_active",
			Help:      "1 while a call is active or on hold",
		}),
		callDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "softphone",
			Name:      "call_duration_seconds",
			Help:      "Duration of answered calls",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		missedCalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: "softphone",
			Name:      "missed_calls_total",
			Help:      "Incoming calls that ended before being answered",
		}),
		registrationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "softphone",
			Name:      "registration_failures_total",
			Help:      "Failed registration attempts",
		}),
		transferFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "softphone",
			Name:      "transfer_failures_total",
			Help:      "Transfers refused or failed",
		}),
	}
}

func (m *Metrics) callActive() {
	if m == nil {
		return
	}
	m.callsActive.Set(1)
}

func (m *Metrics) callEnded(ended EndedCall, outcome string) {
	if m == nil {
		return
	}
	direction := "unknown"
	if ended.Session != nil {
		direction = string(ended.Session.Direction)
	}
	m.callsTotal.WithLabelValues(direction, outcome).Inc()
	m.callsActive.Set(0)
	if ended.Answered {
		m.callDuration.Observe(ended.Duration.Seconds())
	}
	if ended.Missed {
		m.missedCalls.Inc()
	}
}

func (m *Metrics) registrationFailed() {
	if m == nil {
		return
	}
	m.registrationFailures.Inc()
}

func (m *Metrics) transferFailed() {
	if m == nil {
		return
	}
	m.transferFailures.Inc()
}
