// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	reg *prometheus.Registry

	sentencesRead      prometheus.Counter
	sentencesForwarded prometheus.Counter
	sentencesDropped   *prometheus.CounterVec
	fixes              *prometheus.CounterVec

	subscribers         prometheus.Gauge
	subscribersRejected prometheus.Counter
	subscribersDropped  *prometheus.CounterVec

	correctionBytes     prometheus.Counter
	correctionState     *prometheus.GaugeVec
	ggaUploads          prometheus.Counter
	serialWriteFailures prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		sentencesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_sentences_read_total",
			Help: "NMEA sentences read from the serial link.",
		}),
		sentencesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_sentences_forwarded_total",
			Help: "Sentences accepted by the filter and broadcast.",
		}),
		sentencesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sentences_dropped_total",
			Help: "Sentences rejected by the filter, by sentence type.",
		}, []string{"type"}),
		fixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_position_fixes_total",
			Help: "Decoded GGA fixes by fix quality.",
		}, []string{"quality"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_subscribers",
			Help: "Currently connected subscribers.",
		}),
		subscribersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_subscribers_rejected_total",
			Help: "Connections refused because the subscriber limit was reached.",
		}),
		subscribersDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_subscribers_dropped_total",
			Help: "Subscribers removed by the relay, by reason.",
		}, []string{"reason"}),
		correctionBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ntrip_correction_bytes_total",
			Help: "RTCM bytes received from the caster and written to the receiver.",
		}),
		correctionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ntrip_session_state",
			Help: "1 for the current correction session state.",
		}, []string{"state"}),
		ggaUploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ntrip_gga_uploads_total",
			Help: "GGA sentences sent to the caster.",
		}),
		serialWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_serial_write_failures_total",
			Help: "Failed correction writes to the receiver.",
		}),
	}
	m.reg.MustRegister(
		m.sentencesRead, m.sentencesForwarded, m.sentencesDropped, m.fixes,
		m.subscribers, m.subscribersRejected, m.subscribersDropped,
		m.correctionBytes, m.correctionState, m.ggaUploads, m.serialWriteFailures,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) SentenceRead() {
	if m == nil {
		return
	}
	m.sentencesRead.Inc()
}

func (m *Metrics) SentenceForwarded() {
	if m == nil {
		return
	}
	m.sentencesForwarded.Inc()
}

func (m *Metrics) SentenceDropped(typ string) {
	if m == nil {
		return
	}
	if typ == "" {
		typ = "none"
	}
	m.sentencesDropped.WithLabelValues(typ).Inc()
}

func (m *Metrics) FixDecoded(quality string) {
	if m == nil {
		return
	}
	m.fixes.WithLabelValues(quality).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) SubscriberRejected() {
	if m == nil {
		return
	}
	m.subscribersRejected.Inc()
}

func (m *Metrics) SubscriberDropped(reason string) {
	if m == nil {
		return
	}
	m.subscribersDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) CorrectionBytes(n int) {
	if m == nil {
		return
	}
	m.correctionBytes.Add(float64(n))
}

// CorrectionState marks state as current and clears the others.
func (m *Metrics) CorrectionState(state string) {
	if m == nil {
		return
	}
	m.correctionState.Reset()
	m.correctionState.WithLabelValues(state).Set(1)
}

func (m *Metrics) GGAUploaded() {
	if m == nil {
		return
	}
	m.ggaUploads.Inc()
}

func (m *Metrics) SerialWriteFailed() {
	if m == nil {
		return
	}
	m.serialWriteFailures.Inc()
}
