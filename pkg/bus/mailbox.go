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
	"context"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/rowactor/pkg/containers"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
)

// mailbox is the inbox of a Client.
//
// Regular messages go through a fixed capacity channel and are rejected
// when it is full. Delivery failures reported back to the owner are kept
// in an unbounded queue so that they are never lost.
type mailbox struct {
	path ServicePath
	ch   chan Message

	failures *containers.Queue[Message]
	notifyCh chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newMailbox(path ServicePath, capacity int) *mailbox {
	return &mailbox{
		path:     path,
		ch:       make(chan Message, capacity),
		failures: containers.NewQueue[Message](),
		notifyCh: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// send is a non-blocking send. It returns ErrMailboxFull when it's full.
func (m *mailbox) send(msg Message) error {
	select {
	case <-m.closed:
		return cerrors.ErrBusClosed.GenWithStackByArgs(m.path.String())
	default:
	}
	select {
	case m.ch <- msg:
		return nil
	default:
		return cerrors.ErrMailboxFull.GenWithStackByArgs(m.path.String())
	}
}

func (m *mailbox) notifyFailure(msg Message) {
	m.failures.Push(msg)
	select {
	case m.notifyCh <- struct{}{}:
	default:
	}
}

func (m *mailbox) recv(ctx context.Context) (Message, error) {
	for {
		if msg, ok := m.failures.Pop(); ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return Message{}, errors.Trace(ctx.Err())
		case <-m.closed:
			return Message{}, cerrors.ErrBusClosed.GenWithStackByArgs(m.path.String())
		case msg := <-m.ch:
			return msg, nil
		case <-m.notifyCh:
		}
	}
}

func (m *mailbox) close() {
	m.closeOnce.Do(func() {
		close(m.closed)
	})
}

func (m *mailbox) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}
