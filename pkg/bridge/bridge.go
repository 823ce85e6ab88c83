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

// Package bridge exposes an external table on the bus. A ConsumerBridge
// watches a table and forwards every change of it to the actors that
// subscribed to it.
package bridge

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/rowactor/pkg/actor"
	"github.com/pingcap/rowactor/pkg/bridge/payload"
	"github.com/pingcap/rowactor/pkg/bus"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
	"github.com/pingcap/rowactor/pkg/table"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DefaultControlChannelSize is the default number of control requests
// that can be queued for the watcher.
const DefaultControlChannelSize = 128

var (
	_ actor.Actor                 = (*ConsumerBridge)(nil)
	_ actor.MessageFailureHandler = (*ConsumerBridge)(nil)
)

// ConsumerBridge is an actor that forwards the changes of a table to its
// subscribers as bus requests.
//
// Subscribers are added and removed with the requests encoded by
// payload.EncodeSubscribe and payload.EncodeUnsubscribe. A subscriber is
// also removed as soon as a change fails to be delivered to it.
type ConsumerBridge struct {
	tableID   swss.TableID
	outbox    *lazyValue[*actor.Outbox]
	controlCh chan payload.Control

	numSubscribers atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	err    error
}

// NewConsumerBridge creates a bridge over t and starts watching t. Changes
// are only forwarded once the bridge is run by a Driver. The bridge owns t.
func NewConsumerBridge(t table.InputTable, controlChannelSize int) *ConsumerBridge {
	if controlChannelSize <= 0 {
		controlChannelSize = DefaultControlChannelSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &ConsumerBridge{
		tableID:   t.ID().Owned(),
		outbox:    newLazyValue[*actor.Outbox](),
		controlCh: make(chan payload.Control, controlChannelSize),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	w := &tableWatcher{
		table:          t,
		outbox:         b.outbox,
		controlCh:      b.controlCh,
		subscribers:    make(map[bus.ServicePath]struct{}),
		numSubscribers: &b.numSubscribers,
		metrics:        newBridgeMetrics(b.tableID),
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(b.done)
		defer w.metrics.unregister()
		defer func() {
			if err := t.Close(); err != nil {
				log.Warn("close bridged table failed",
					zap.Stringer("table", b.tableID), zap.Error(err))
			}
		}()
		err := w.run(ctx)
		if err != nil && !cerrors.Is(err, context.Canceled) {
			log.Warn("table watcher exited",
				zap.Stringer("table", b.tableID), zap.Error(err))
			b.err = err
		}
	}()
	return b
}

// TableID returns the table watched by the bridge.
func (b *ConsumerBridge) TableID() swss.TableID {
	return b.tableID
}

// Init implements actor.Actor. It binds the outbox used to forward changes.
func (b *ConsumerBridge) Init(_ context.Context, outbox *actor.Outbox) error {
	b.outbox.set(outbox)
	return nil
}

// HandleRequest implements actor.Actor. It handles subscription requests.
func (b *ConsumerBridge) HandleRequest(
	ctx context.Context, _ *actor.State, _ *actor.Outbox, source bus.ServicePath, data []byte,
) error {
	ctrl, err := payload.DecodeControl(data)
	if err != nil {
		log.Warn("reject malformed control request",
			zap.Stringer("table", b.tableID),
			zap.Stringer("source", source),
			zap.Error(err))
		return errors.Trace(err)
	}
	return b.control(ctx, ctrl)
}

// HandleTableUpdate implements actor.Actor. A bridge has no input tables.
func (b *ConsumerBridge) HandleTableUpdate(context.Context, *actor.State, *actor.Outbox, swss.Key) error {
	return nil
}

// HandleMessageFailure implements actor.MessageFailureHandler. The
// destination is unsubscribed.
func (b *ConsumerBridge) HandleMessageFailure(
	ctx context.Context, _ *actor.Outbox, id bus.MessageID, destination bus.ServicePath,
) {
	log.Info("change is not delivered, unsubscribe",
		zap.Stringer("table", b.tableID),
		zap.Uint64("requestID", uint64(id)),
		zap.Stringer("subscriber", destination))
	if err := b.control(ctx, payload.Control{Kind: payload.Unsubscribe, Subscriber: destination}); err != nil {
		log.Warn("unsubscribe failed", zap.Stringer("table", b.tableID), zap.Error(err))
	}
}

func (b *ConsumerBridge) control(ctx context.Context, ctrl payload.Control) error {
	select {
	case <-b.done:
		return cerrors.ErrTableClosed.GenWithStackByArgs(b.tableID.String())
	default:
	}
	select {
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	case <-b.done:
		return cerrors.ErrTableClosed.GenWithStackByArgs(b.tableID.String())
	case b.controlCh <- ctrl:
		return nil
	}
}

// NumSubscribers returns the current number of subscribers.
func (b *ConsumerBridge) NumSubscribers() int {
	return int(b.numSubscribers.Load())
}

// Done returns a channel that is closed once the watcher exits.
func (b *ConsumerBridge) Done() <-chan struct{} {
	return b.done
}

// Err returns the error that stopped the watcher. It must only be called
// after Done is closed.
func (b *ConsumerBridge) Err() error {
	return b.err
}

// Close stops the watcher and closes the table.
func (b *ConsumerBridge) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.err
}
