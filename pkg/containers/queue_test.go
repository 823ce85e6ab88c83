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

package containers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	_, ok := q.Pop()
	require.False(t, ok)
	require.Nil(t, q.PopAll())

	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	require.Equal(t, 100, q.Size())
	v, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, 0, v)

	all := q.PopAll()
	require.Len(t, all, 99)
	require.Equal(t, 1, all[0])
	require.Equal(t, 99, all[98])
	require.Equal(t, 0, q.Size())
}

func TestQueueConcurrentPush(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				q.Push(j)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 8000, q.Size())
}
