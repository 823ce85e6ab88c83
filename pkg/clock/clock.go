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

// Package clock provides the clock used by drivers and tables so that
// timers and tickers can be replaced with a mock in tests.
//
// Tickers from both the real and the mock clock drop ticks that are not
// received in time instead of queueing them.
package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/gavv/monotime"
)

type (
	// Timer is a timer created by a Clock.
	Timer = bclock.Timer
	// Ticker is a ticker created by a Clock.
	Ticker = bclock.Ticker
	// MonotonicTime is a reading of a monotonic clock.
	MonotonicTime time.Duration
)

var unixEpoch = time.Unix(0, 0)

// Clock is a bclock.Clock that can also read monotonic time.
type Clock interface {
	bclock.Clock
	Mono() MonotonicTime
}

type realClock struct {
	bclock.Clock
}

func (realClock) Mono() MonotonicTime {
	return MonotonicTime(monotime.Now())
}

// Mock is a Clock whose time only moves when Add or Set is called.
// Its monotonic time follows the wall time.
type Mock struct {
	*bclock.Mock
}

// Mono implements Clock.
func (m Mock) Mono() MonotonicTime {
	return ToMono(m.Now())
}

// New returns the real clock.
func New() Clock {
	return realClock{bclock.New()}
}

// NewMock returns a mock clock set to the unix epoch.
func NewMock() *Mock {
	return &Mock{bclock.NewMock()}
}

// Sub returns m-other.
func (m MonotonicTime) Sub(other MonotonicTime) time.Duration {
	return time.Duration(m - other)
}

// Add returns m+d.
func (m MonotonicTime) Add(d time.Duration) MonotonicTime {
	return m + MonotonicTime(d)
}

// ToMono converts a wall time to a MonotonicTime comparable with the
// readings of a Mock.
func ToMono(t time.Time) MonotonicTime {
	return MonotonicTime(t.Sub(unixEpoch))
}
