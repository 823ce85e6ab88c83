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
	"testing"
	"time"

	"github.com/pingcap/rowactor/pkg/bus"
	"github.com/pingcap/rowactor/pkg/clock"
	"github.com/stretchr/testify/require"
)

func idsOf(msgs []*unackedMessage) []bus.MessageID {
	ids := make([]bus.MessageID, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.id)
	}
	return ids
}

func TestResendLedger(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	l := newResendLedger(ResendConfig{
		Interval:    time.Second,
		MaxInterval: 3 * time.Second,
		Multiplier:  2,
		MaxTries:    3,
	}, clk)
	dest := bus.MustParseServicePath("r.c.n/actor/peer")

	l.track(1, bus.NewRequest(dest, []byte("1")))
	l.track(2, bus.NewRequest(dest, []byte("2")))
	require.Equal(t, 2, l.len())

	resend, exhausted := l.expired()
	require.Empty(t, resend)
	require.Empty(t, exhausted)

	// t=1s, both are resent and the next wait doubles
	clk.Add(time.Second)
	resend, exhausted = l.expired()
	require.Equal(t, []bus.MessageID{1, 2}, idsOf(resend))
	require.Empty(t, exhausted)
	require.Equal(t, 2, resend[0].tries)

	require.True(t, l.ack(2))
	require.False(t, l.ack(2))
	require.False(t, l.ack(42))

	// t=2s
	clk.Add(time.Second)
	resend, _ = l.expired()
	require.Empty(t, resend)

	// t=3s
	clk.Add(time.Second)
	resend, _ = l.expired()
	require.Equal(t, []bus.MessageID{1}, idsOf(resend))
	require.Equal(t, 3, resend[0].tries)

	// t=6s, the wait is capped by MaxInterval and MaxTries is reached
	clk.Add(2 * time.Second)
	resend, exhausted = l.expired()
	require.Empty(t, resend)
	require.Empty(t, exhausted)
	clk.Add(time.Second)
	resend, exhausted = l.expired()
	require.Empty(t, resend)
	require.Equal(t, []bus.MessageID{1}, idsOf(exhausted))
	require.Equal(t, 0, l.len())
}

func TestResendLedgerDisabled(t *testing.T) {
	t.Parallel()

	l := newResendLedger(ResendConfig{}, clock.NewMock())
	l.track(1, bus.NewRequest(bus.MustParseServicePath("r.c.n/actor/peer"), nil))
	require.Equal(t, 0, l.len())
	require.False(t, l.ack(1))
}
