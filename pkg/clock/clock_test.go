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

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockMono(t *testing.T) {
	t.Parallel()

	c := NewMock()
	start := c.Mono()
	c.Add(3 * time.Second)
	require.Equal(t, 3*time.Second, c.Mono().Sub(start))
	require.Equal(t, c.Mono(), start.Add(3*time.Second))
}

func TestMockTickerSkipsMissedTicks(t *testing.T) {
	t.Parallel()

	c := NewMock()
	ticker := c.Ticker(time.Second)
	defer ticker.Stop()

	// nobody receives while five periods elapse
	for i := 0; i < 5; i++ {
		c.Add(time.Second)
	}
	<-ticker.C
	select {
	case <-ticker.C:
		t.Fatal("missed ticks must not be queued")
	default:
	}
}

func TestRealMonoIsMonotonic(t *testing.T) {
	t.Parallel()

	c := New()
	a := c.Mono()
	b := c.Mono()
	require.GreaterOrEqual(t, b.Sub(a), time.Duration(0))
}
