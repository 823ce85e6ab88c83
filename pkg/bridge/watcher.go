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
	"sort"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/rowactor/pkg/actor"
	"github.com/pingcap/rowactor/pkg/bridge/payload"
	"github.com/pingcap/rowactor/pkg/bus"
	"github.com/pingcap/rowactor/pkg/table"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// tableWatcher forwards the changes of a table to its subscribers. The
// subscriber set is only accessed by the goroutine running the watcher,
// and is changed by sending it control messages.
type tableWatcher struct {
	table     table.InputTable
	outbox    *lazyValue[*actor.Outbox]
	controlCh <-chan payload.Control

	subscribers    map[bus.ServicePath]struct{}
	numSubscribers *atomic.Int64

	metrics *bridgeMetrics
}

func (w *tableWatcher) run(ctx context.Context) error {
	mux := table.NewMultiplexer(w.table)
	mux.Start(ctx)
	defer mux.Close()

	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case ctrl := <-w.controlCh:
			w.handleControl(ctrl)
		case <-mux.Ready():
			if err := w.forward(ctx); err != nil {
				return errors.Trace(err)
			}
			mux.Resume(w.table.ID())
		case err := <-mux.Err():
			return errors.Trace(err)
		}
	}
}

func (w *tableWatcher) handleControl(ctrl payload.Control) {
	switch ctrl.Kind {
	case payload.Subscribe:
		if _, ok := w.subscribers[ctrl.Subscriber]; ok {
			return
		}
		w.subscribers[ctrl.Subscriber] = struct{}{}
		log.Info("subscriber added",
			zap.Stringer("table", w.table.ID()),
			zap.Stringer("subscriber", ctrl.Subscriber))
	case payload.Unsubscribe:
		if _, ok := w.subscribers[ctrl.Subscriber]; !ok {
			return
		}
		delete(w.subscribers, ctrl.Subscriber)
		log.Info("subscriber removed",
			zap.Stringer("table", w.table.ID()),
			zap.Stringer("subscriber", ctrl.Subscriber))
	default:
		log.Panic("unknown control message", zap.Stringer("kind", ctrl.Kind))
	}
	w.numSubscribers.Store(int64(len(w.subscribers)))
	w.metrics.subscribers.Set(float64(len(w.subscribers)))
}

// forward pops the pending changes and sends every change to every
// subscriber, in the order the changes were popped.
func (w *tableWatcher) forward(ctx context.Context) error {
	kfvs, err := w.table.Pops(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if len(kfvs) == 0 {
		return nil
	}
	outbox, err := w.outbox.get(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	subscribers := make([]bus.ServicePath, 0, len(w.subscribers))
	for sub := range w.subscribers {
		subscribers = append(subscribers, sub)
	}
	sort.Slice(subscribers, func(i, j int) bool {
		return subscribers[i].String() < subscribers[j].String()
	})
	for _, kfv := range kfvs {
		data := payload.EncodeKeyOpFieldValues(kfv)
		for _, sub := range subscribers {
			outbox.Push(sub, data)
		}
		w.metrics.forwarded.Add(float64(len(subscribers)))
	}
	return nil
}
