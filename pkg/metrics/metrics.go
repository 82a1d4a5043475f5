/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exposes the agent's prometheus collectors. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aries_agent"

// Metrics groups the agent collectors.
type Metrics struct {
	futuresPending  prometheus.Gauge
	futuresResolved prometheus.Counter
	futuresExpired  prometheus.Counter
	lateReplies     prometheus.Counter
	inboundMessages *prometheus.CounterVec
	connections     *prometheus.CounterVec
	gatherer        prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a fresh private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		futuresPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "futures_pending",
				Help:      "Number of futures waiting for a reply",
			},
		),
		futuresResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "futures_resolved_total",
				Help:      "Number of futures resolved by a correlated reply",
			},
		),
		futuresExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "futures_expired_total",
				Help:      "Number of futures evicted on timeout",
			},
		),
		lateReplies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "late_replies_total",
				Help:      "Number of replies arriving for no pending future",
			},
		),
		inboundMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_messages_total",
				Help:      "Number of inbound messages by routing outcome",
			},
			[]string{"route"},
		),
		connections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Number of finished connection handshakes by role and final state",
			},
			[]string{"role", "state"},
		),
	}

	reg.MustRegister(m.futuresPending, m.futuresResolved, m.futuresExpired, m.lateReplies, m.inboundMessages,
		m.connections)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	return m
}

// Handler serves the collectors in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// FuturePending records a newly registered future.
func (m *Metrics) FuturePending() {
	if m == nil {
		return
	}

	m.futuresPending.Inc()
}

// FutureResolved records a future resolved by a reply.
func (m *Metrics) FutureResolved() {
	if m == nil {
		return
	}

	m.futuresPending.Dec()
	m.futuresResolved.Inc()
}

// FutureExpired records a future evicted on timeout.
func (m *Metrics) FutureExpired() {
	if m == nil {
		return
	}

	m.futuresPending.Dec()
	m.futuresExpired.Inc()
}

// LateReply records a reply for which no future was pending.
func (m *Metrics) LateReply() {
	if m == nil {
		return
	}

	m.lateReplies.Inc()
}

// InboundMessage records how an inbound message was routed.
func (m *Metrics) InboundMessage(route string) {
	if m == nil {
		return
	}

	m.inboundMessages.WithLabelValues(route).Inc()
}

// ConnectionFinished records the final state of a handshake.
func (m *Metrics) ConnectionFinished(role, state string) {
	if m == nil {
		return
	}

	m.connections.WithLabelValues(role, state).Inc()
}
