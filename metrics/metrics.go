// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package metrics wires Prometheus counters and a histogram onto a
// Server's lifecycle callbacks. It is a pure observer: nothing here may
// feed back into engine behavior.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result is the terminal disposition of one connection, used as the
// "result" label on hookproxy_connections_total.
type Result string

const (
	ResultOK            Result = "ok"
	ResultClientError   Result = "client_error"
	ResultAuthRequired  Result = "auth_required"
	ResultHookError     Result = "hook_error"
	ResultUpstreamError Result = "upstream_error"
	ResultDenied        Result = "denied"
)

// Direction labels hookproxy_bytes_total.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Metrics collects the counters and histogram fed by ObserveClosed from a
// Server's OnConnectionClosed callback.
type Metrics struct {
	connectionsTotal *prometheus.CounterVec
	bytesTotal       *prometheus.CounterVec
	tunnelDuration   prometheus.Histogram
}

// New registers the hookproxy_* metrics on r. If r is nil, a throwaway
// registry is used, so callers that don't care about metrics can still
// construct one without a nil check of their own.
func New(r prometheus.Registerer) *Metrics {
	if r == nil {
		r = prometheus.NewRegistry()
	}
	f := promauto.With(r)

	return &Metrics{
		connectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hookproxy_connections_total",
			Help: "Total number of connections by terminal result.",
		}, []string{"result"}),
		bytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hookproxy_bytes_total",
			Help: "Total bytes transferred by direction.",
		}, []string{"direction"}),
		tunnelDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hookproxy_tunnel_duration_seconds",
			Help:    "Duration of CONNECT tunnels in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveClosed records one connection's terminal disposition and its
// final byte counters; call from Server.Options.OnConnectionClosed.
func (m *Metrics) ObserveClosed(result Result, bytesIn, bytesOut uint64, tunnel bool, duration float64) {
	m.connectionsTotal.WithLabelValues(string(result)).Inc()
	m.bytesTotal.WithLabelValues(string(DirectionIn)).Add(float64(bytesIn))
	m.bytesTotal.WithLabelValues(string(DirectionOut)).Add(float64(bytesOut))
	if tunnel {
		m.tunnelDuration.Observe(duration)
	}
}
