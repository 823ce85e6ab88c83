// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package bridge

import (
	"github.com/pingcap/rowactor/pkg/swss"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	subscribersGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rowactor",
			Subsystem: "bridge",
			Name:      "subscribers",
			Help:      "The number of subscribers of a bridged table.",
		}, []string{"table"})
	forwardedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowactor",
			Subsystem: "bridge",
			Name:      "forwarded_changes_total",
			Help:      "The total number of row changes sent to subscribers.",
		}, []string{"table"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(subscribersGauge)
	registry.MustRegister(forwardedCounter)
}

type bridgeMetrics struct {
	table       string
	subscribers prometheus.Gauge
	forwarded   prometheus.Counter
}

func newBridgeMetrics(tid swss.TableID) *bridgeMetrics {
	label := tid.String()
	return &bridgeMetrics{
		table:       label,
		subscribers: subscribersGauge.WithLabelValues(label),
		forwarded:   forwardedCounter.WithLabelValues(label),
	}
}

func (m *bridgeMetrics) unregister() {
	subscribersGauge.DeleteLabelValues(m.table)
	forwardedCounter.DeleteLabelValues(m.table)
}
