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

package actor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowactor",
			Subsystem: "actor",
			Name:      "requests_total",
			Help:      "The total number of requests handled by an actor.",
		}, []string{"actor"})
	handlerFailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowactor",
			Subsystem: "actor",
			Name:      "handler_failures_total",
			Help:      "The total number of failed actor callbacks.",
		}, []string{"actor", "callback"})
	deliveryFailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowactor",
			Subsystem: "actor",
			Name:      "delivery_failures_total",
			Help:      "The total number of requests that were not delivered or acknowledged.",
		}, []string{"actor"})
	resendCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowactor",
			Subsystem: "actor",
			Name:      "resends_total",
			Help:      "The total number of resent requests.",
		}, []string{"actor"})
	writeFailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowactor",
			Subsystem: "actor",
			Name:      "output_write_failures_total",
			Help:      "The total number of failed output table writes.",
		}, []string{"actor"})
	unackedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rowactor",
			Subsystem: "actor",
			Name:      "unacked_requests",
			Help:      "The number of requests waiting for a response.",
		}, []string{"actor"})
	failedUpdatesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rowactor",
			Subsystem: "actor",
			Name:      "failed_table_updates",
			Help:      "The number of table updates waiting to be retried.",
		}, []string{"actor"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(requestCounter)
	registry.MustRegister(handlerFailureCounter)
	registry.MustRegister(deliveryFailureCounter)
	registry.MustRegister(resendCounter)
	registry.MustRegister(writeFailureCounter)
	registry.MustRegister(unackedGauge)
	registry.MustRegister(failedUpdatesGauge)
}

type driverMetrics struct {
	id string

	requests         prometheus.Counter
	handlerFailures  *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	resends          prometheus.Counter
	writeFailures    prometheus.Counter
	unacked          prometheus.Gauge
	failedUpdates    prometheus.Gauge
}

func newDriverMetrics(id string) *driverMetrics {
	return &driverMetrics{
		id:               id,
		requests:         requestCounter.WithLabelValues(id),
		handlerFailures:  handlerFailureCounter.MustCurryWith(prometheus.Labels{"actor": id}),
		deliveryFailures: deliveryFailureCounter.WithLabelValues(id),
		resends:          resendCounter.WithLabelValues(id),
		writeFailures:    writeFailureCounter.WithLabelValues(id),
		unacked:          unackedGauge.WithLabelValues(id),
		failedUpdates:    failedUpdatesGauge.WithLabelValues(id),
	}
}

func (m *driverMetrics) unregister() {
	requestCounter.DeleteLabelValues(m.id)
	handlerFailureCounter.DeletePartialMatch(prometheus.Labels{"actor": m.id})
	deliveryFailureCounter.DeleteLabelValues(m.id)
	resendCounter.DeleteLabelValues(m.id)
	writeFailureCounter.DeleteLabelValues(m.id)
	unackedGauge.DeleteLabelValues(m.id)
	failedUpdatesGauge.DeleteLabelValues(m.id)
}
