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

package table

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/rowactor/pkg/containers"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
)

var (
	_ InputTable  = (*QueueTable)(nil)
	_ OutputTable = (*QueueTable)(nil)
)

// QueueTable is an in-memory table whose changes are pushed by the owner.
// It carries changes delivered over the bus into a driver, and rows written
// to it can be popped again, which makes it usable as a loopback.
type QueueTable struct {
	id      swss.TableID
	pending *containers.Queue[swss.KeyOpFieldValues]

	notifyCh  chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

// NewQueueTable creates an empty QueueTable.
func NewQueueTable(id swss.TableID) *QueueTable {
	return &QueueTable{
		id:       id.Owned(),
		pending:  containers.NewQueue[swss.KeyOpFieldValues](),
		notifyCh: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// ID implements InputTable and OutputTable.
func (q *QueueTable) ID() swss.TableID {
	return q.id
}

// Push appends changes. It fails once the table is closed.
func (q *QueueTable) Push(kfvs ...swss.KeyOpFieldValues) error {
	select {
	case <-q.closed:
		return cerrors.ErrTableClosed.GenWithStackByArgs(q.id.String())
	default:
	}
	for _, kfv := range kfvs {
		kfv.FieldValues = kfv.FieldValues.Clone()
		q.pending.Push(kfv)
	}
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
	return nil
}

// ReadData implements InputTable.
func (q *QueueTable) ReadData(ctx context.Context) error {
	for {
		if q.pending.Size() > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-q.closed:
			return cerrors.ErrTableClosed.GenWithStackByArgs(q.id.String())
		case <-q.notifyCh:
		}
	}
}

// Pops implements InputTable.
func (q *QueueTable) Pops(_ context.Context) ([]swss.KeyOpFieldValues, error) {
	return q.pending.PopAll(), nil
}

// Set implements OutputTable.
func (q *QueueTable) Set(_ context.Context, row string, fvs swss.FieldValues) error {
	return q.Push(swss.KeyOpFieldValues{Key: row, Operation: swss.OpSet, FieldValues: fvs})
}

// Del implements OutputTable.
func (q *QueueTable) Del(_ context.Context, row string) error {
	return q.Push(swss.KeyOpFieldValues{Key: row, Operation: swss.OpDel})
}

// Close implements InputTable. Blocked readers return ErrTableClosed.
func (q *QueueTable) Close() error {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
	return nil
}
