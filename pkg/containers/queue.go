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

	"github.com/edwingeng/deque"
)

// Queue is an unbounded FIFO queue that is safe for concurrent use.
type Queue[T any] struct {
	mu    sync.Mutex
	deque deque.Deque
}

// NewQueue creates an empty Queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		deque: deque.NewDeque(),
	}
}

// Push appends elem to the back of the queue.
func (q *Queue[T]) Push(elem T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.deque.PushBack(elem)
}

// Pop removes and returns the front element.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.deque.Empty() {
		var noVal T
		return noVal, false
	}
	return q.deque.PopFront().(T), true
}

// PopAll removes and returns all elements in FIFO order.
func (q *Queue[T]) PopAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.deque.Empty() {
		return nil
	}
	ret := make([]T, 0, q.deque.Len())
	for !q.deque.Empty() {
		ret = append(ret, q.deque.PopFront().(T))
	}
	return ret
}

// Size returns the number of queued elements.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.deque.Len()
}
