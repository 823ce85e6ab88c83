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

package bus

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sentCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowactor",
			Subsystem: "bus",
			Name:      "messages_sent_total",
			Help:      "The total number of messages sent on the bus.",
		}, []string{"type"})
	deliveryFailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rowactor",
			Subsystem: "bus",
			Name:      "delivery_failures_total",
			Help:      "The total number of messages that could not be delivered.",
		}, []string{"type"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(sentCounter)
	registry.MustRegister(deliveryFailureCounter)
}
