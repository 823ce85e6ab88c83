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
	"context"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
)

// lazyValue is a value that is set exactly once, possibly after readers
// started waiting for it. Readers arriving after it is set do not block.
type lazyValue[T any] struct {
	isSet atomic.Bool
	ready chan struct{}
	value T
}

func newLazyValue[T any]() *lazyValue[T] {
	return &lazyValue[T]{ready: make(chan struct{})}
}

// set sets the value and wakes up all readers. It panics if called twice.
func (l *lazyValue[T]) set(v T) {
	if l.isSet.Swap(true) {
		log.Panic("lazy value is set twice")
	}
	l.value = v
	close(l.ready)
}

// get blocks until the value is set or ctx is done.
func (l *lazyValue[T]) get(ctx context.Context) (T, error) {
	select {
	case <-l.ready:
		return l.value, nil
	case <-ctx.Done():
		var zero T
		return zero, errors.Trace(ctx.Err())
	}
}
