// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestObserveClosedIncrementsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveClosed(ResultOK, 100, 200, false, 0)
	m.ObserveClosed(ResultDenied, 0, 0, false, 0)
	m.ObserveClosed(ResultOK, 10, 10, true, 1.5)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	var connTotal, bytesTotal float64
	var sawTunnelHistogram bool
	for _, mf := range mfs {
		switch mf.GetName() {
		case "hookproxy_connections_total":
			for _, m := range mf.GetMetric() {
				connTotal += m.GetCounter().GetValue()
			}
		case "hookproxy_bytes_total":
			for _, m := range mf.GetMetric() {
				bytesTotal += m.GetCounter().GetValue()
			}
		case "hookproxy_tunnel_duration_seconds":
			for _, m := range mf.GetMetric() {
				if m.GetHistogram().GetSampleCount() > 0 {
					sawTunnelHistogram = true
				}
			}
		}
	}

	if connTotal != 3 {
		t.Errorf("connections total = %v, want 3", connTotal)
	}
	if bytesTotal != 320 {
		t.Errorf("bytes total = %v, want 320", bytesTotal)
	}
	if !sawTunnelHistogram {
		t.Errorf("tunnel duration histogram recorded no samples")
	}
}
