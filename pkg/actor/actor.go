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
	"context"
	"sync"

	"github.com/pingcap/rowactor/pkg/bus"
	"github.com/pingcap/rowactor/pkg/swss"
)

// Actor is a stateful participant of the control plane. All callbacks of
// an actor are invoked by its Driver from a single goroutine, one at a
// time, so an actor needs no locking of its own.
//
// The ctx passed to callbacks is only for cancellation.
type Actor interface {
	// Init is called once before any other callback.
	Init(ctx context.Context, outbox *Outbox) error
	// HandleRequest handles a request received from source. A nil error is
	// answered with an OK response, any other error with an error response
	// carrying its code.
	HandleRequest(ctx context.Context, state *State, outbox *Outbox,
		source bus.ServicePath, payload []byte) error
	// HandleTableUpdate is called after the input table of key changed.
	// If it returns an error, it is called again for the same key during
	// maintenance until it succeeds.
	HandleTableUpdate(ctx context.Context, state *State, outbox *Outbox, key swss.Key) error
}

// MessageFailureHandler is implemented by actors that want to know about
// requests that could not be delivered, or were not acknowledged in time.
type MessageFailureHandler interface {
	HandleMessageFailure(ctx context.Context, outbox *Outbox, id bus.MessageID, destination bus.ServicePath)
}

// Outbox collects the messages an actor wants to send. Messages are sent
// by the Driver after the current callback returns, in the order they were
// added.
//
// Outbox is threadsafe. Messages added from other goroutines are sent as
// soon as the Driver is idle.
type Outbox struct {
	mu      sync.Mutex
	pending []outgoing
	notify  chan struct{}
}

type outgoing struct {
	msg       bus.OutgoingMessage
	// untracked requests are never resent.
	untracked bool
}

func newOutbox() *Outbox {
	return &Outbox{notify: make(chan struct{}, 1)}
}

// Send queues msg.
func (o *Outbox) Send(msg bus.OutgoingMessage) {
	o.queue(outgoing{msg: msg})
}

// Request queues a request carrying payload to dest. The request is resent
// until it is acknowledged.
func (o *Outbox) Request(dest bus.ServicePath, payload []byte) {
	o.Send(bus.NewRequest(dest, payload))
}

// Push queues a request carrying payload to dest that is sent only once.
// A delivery failure is still reported to the actor, but a lost
// acknowledgement is not, so later pushes to dest keep their order.
func (o *Outbox) Push(dest bus.ServicePath, payload []byte) {
	o.queue(outgoing{msg: bus.NewRequest(dest, payload), untracked: true})
}

func (o *Outbox) queue(out outgoing) {
	o.mu.Lock()
	o.pending = append(o.pending, out)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *Outbox) take() []outgoing {
	o.mu.Lock()
	defer o.mu.Unlock()

	ret := o.pending
	o.pending = nil
	return ret
}
