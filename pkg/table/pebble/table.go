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


package pebble

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
	"github.com/pingcap/rowactor/pkg/table"
)

// DefaultPopBatchSize is the max number of changes returned by a Pops.
const DefaultPopBatchSize = 1024

var (
	_ table.OutputTable = (*Table)(nil)
	_ table.OutputTable = (*ProducerTable)(nil)
	_ table.InputTable  = (*ConsumerTable)(nil)
)

// Table writes rows without notifying anyone.
type Table struct {
	db *DB
	id swss.TableID
}

// NewTable creates a Table.
func NewTable(db *DB, id swss.TableID) *Table {
	return &Table{db: db, id: id.Owned()}
}

// ID implements table.OutputTable.
func (t *Table) ID() swss.TableID { return t.id }

// Get returns a row. It returns false if the row does not exist.
func (t *Table) Get(_ context.Context, row string) (swss.FieldValues, bool, error) {
	return t.db.GetRow(t.id, row)
}

// Set implements table.OutputTable.
func (t *Table) Set(_ context.Context, row string, fvs swss.FieldValues) error {
	return t.db.write(t.id, swss.KeyOpFieldValues{Key: row, Operation: swss.OpSet, FieldValues: fvs}, false)
}

// Del implements table.OutputTable.
func (t *Table) Del(_ context.Context, row string) error {
	return t.db.write(t.id, swss.KeyOpFieldValues{Key: row, Operation: swss.OpDel}, false)
}

// ProducerTable writes rows and queues every change for ConsumerTables
// of the same table.
type ProducerTable struct {
	Table
}

// NewProducerTable creates a ProducerTable.
func NewProducerTable(db *DB, id swss.TableID) *ProducerTable {
	return &ProducerTable{Table: Table{db: db, id: id.Owned()}}
}

// Set implements table.OutputTable.
func (t *ProducerTable) Set(_ context.Context, row string, fvs swss.FieldValues) error {
	return t.db.write(t.id, swss.KeyOpFieldValues{Key: row, Operation: swss.OpSet, FieldValues: fvs}, true)
}

// Del implements table.OutputTable.
func (t *ProducerTable) Del(_ context.Context, row string) error {
	return t.db.write(t.id, swss.KeyOpFieldValues{Key: row, Operation: swss.OpDel}, true)
}

// ConsumerTable pops the changes queued by ProducerTables. Changes of a
// table should be popped by a single consumer.
type ConsumerTable struct {
	db           *DB
	id           swss.TableID
	popBatchSize int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConsumerTable creates a ConsumerTable. A popBatchSize that is not
// positive means DefaultPopBatchSize.
func NewConsumerTable(db *DB, id swss.TableID, popBatchSize int) *ConsumerTable {
	if popBatchSize <= 0 {
		popBatchSize = DefaultPopBatchSize
	}
	return &ConsumerTable{
		db:           db,
		id:           id.Owned(),
		popBatchSize: popBatchSize,
		closed:       make(chan struct{}),
	}
}

// ID implements table.InputTable.
func (c *ConsumerTable) ID() swss.TableID { return c.id }

// ReadData implements table.InputTable.
func (c *ConsumerTable) ReadData(ctx context.Context) error {
	for {
		changed := c.db.changed(c.id)
		select {
		case <-c.closed:
			return cerrors.ErrTableClosed.GenWithStackByArgs(c.id.String())
		case <-c.db.closed:
			return cerrors.ErrTableClosed.GenWithStackByArgs(c.id.String())
		default:
		}
		pending, err := c.db.hasPending(c.id)
		if err != nil {
			return cerrors.ErrTableRead.Wrap(err).GenWithStackByArgs(c.id.String())
		}
		if pending {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-c.closed:
			return cerrors.ErrTableClosed.GenWithStackByArgs(c.id.String())
		case <-c.db.closed:
			return cerrors.ErrTableClosed.GenWithStackByArgs(c.id.String())
		case <-changed:
		}
	}
}

// Pops implements table.InputTable.
func (c *ConsumerTable) Pops(_ context.Context) ([]swss.KeyOpFieldValues, error) {
	kfvs, err := c.db.popQueue(c.id, c.popBatchSize)
	if err != nil {
		return nil, cerrors.ErrTableRead.Wrap(err).GenWithStackByArgs(c.id.String())
	}
	return kfvs, nil
}

// Close implements table.InputTable. The DB is left open.
func (c *ConsumerTable) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}
