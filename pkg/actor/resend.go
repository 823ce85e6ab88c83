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
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/rowactor/pkg/bus"
	"github.com/pingcap/rowactor/pkg/clock"
)

// ResendConfig controls how unacknowledged requests are resent.
type ResendConfig struct {
	// Interval is the time to wait for a response before the first resend.
	Interval time.Duration `toml:"interval" json:"interval"`
	// MaxInterval caps the wait between two resends.
	MaxInterval time.Duration `toml:"max-interval" json:"max-interval"`
	// Multiplier grows the wait after every resend.
	Multiplier float64 `toml:"multiplier" json:"multiplier"`
	// MaxTries is the number of times a request is sent, including the
	// first send, before it is reported as failed. Zero disables resending.
	MaxTries int `toml:"max-tries" json:"max-tries"`
}

// DefaultResendConfig resends every 3 seconds, up to 20 times.
func DefaultResendConfig() ResendConfig {
	return ResendConfig{
		Interval:    3 * time.Second,
		MaxInterval: 3 * time.Second,
		Multiplier:  1,
		MaxTries:    20,
	}
}

type unackedMessage struct {
	id       bus.MessageID
	msg      bus.OutgoingMessage
	tries    int
	deadline clock.MonotonicTime
	backoff  *backoff.ExponentialBackOff
}

// resendLedger keeps the requests that were sent but not acknowledged yet.
type resendLedger struct {
	config  ResendConfig
	clock   clock.Clock
	unacked map[bus.MessageID]*unackedMessage
}

func newResendLedger(config ResendConfig, clk clock.Clock) *resendLedger {
	return &resendLedger{
		config:  config,
		clock:   clk,
		unacked: make(map[bus.MessageID]*unackedMessage),
	}
}

func (l *resendLedger) enabled() bool {
	return l.config.MaxTries > 0
}

// track records a request that has just been sent for the first time.
func (l *resendLedger) track(id bus.MessageID, msg bus.OutgoingMessage) {
	if !l.enabled() {
		return
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.config.Interval
	b.MaxInterval = l.config.MaxInterval
	b.Multiplier = l.config.Multiplier
	b.RandomizationFactor = 0
	// MaxElapsedTime=0 means the backoff never stops, the number of tries
	// is bounded by MaxTries instead.
	b.MaxElapsedTime = 0
	b.Reset()

	l.unacked[id] = &unackedMessage{
		id:       id,
		msg:      msg,
		tries:    1,
		deadline: l.clock.Mono().Add(b.NextBackOff()),
		backoff:  b,
	}
}

// ack forgets the request of id. It returns false for unknown IDs.
func (l *resendLedger) ack(id bus.MessageID) bool {
	if _, ok := l.unacked[id]; !ok {
		return false
	}
	delete(l.unacked, id)
	return true
}

func (l *resendLedger) len() int {
	return len(l.unacked)
}

// expired returns the requests whose deadline has passed, in ID order.
// Requests that may be tried again are returned in resend with their
// deadline moved forward. Requests that reached MaxTries are forgotten and
// returned in exhausted.
func (l *resendLedger) expired() (resend, exhausted []*unackedMessage) {
	now := l.clock.Mono()
	for _, m := range l.unacked {
		if m.deadline > now {
			continue
		}
		if m.tries >= l.config.MaxTries {
			exhausted = append(exhausted, m)
			delete(l.unacked, m.id)
			continue
		}
		m.tries++
		m.deadline = now.Add(m.backoff.NextBackOff())
		resend = append(resend, m)
	}
	sortByID(resend)
	sortByID(exhausted)
	return resend, exhausted
}

func sortByID(msgs []*unackedMessage) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].id < msgs[j].id })
}
