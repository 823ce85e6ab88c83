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

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Multiplexer waits on many input tables at once.
//
// Every table is watched by its own goroutine. When a table has pending
// changes its ID is published on Ready, and the table is not watched again
// until the consumer has popped the changes and called Resume. A table that
// fails to read stops the Multiplexer, and the error is published on Err.
type Multiplexer struct {
	tables   map[swss.TableID]InputTable
	resumeCh map[swss.TableID]chan struct{}
	readyCh  chan swss.TableID
	errCh    chan error

	cancel context.CancelFunc
	eg     *errgroup.Group
}

// NewMultiplexer creates a Multiplexer over tables. Two tables must not
// share an ID.
func NewMultiplexer(tables ...InputTable) *Multiplexer {
	m := &Multiplexer{
		tables:   make(map[swss.TableID]InputTable, len(tables)),
		resumeCh: make(map[swss.TableID]chan struct{}, len(tables)),
		readyCh:  make(chan swss.TableID, len(tables)),
		errCh:    make(chan error, 1),
	}
	for _, t := range tables {
		if _, ok := m.tables[t.ID()]; ok {
			log.Panic("duplicate input table", zap.Stringer("table", t.ID()))
		}
		m.tables[t.ID()] = t
		m.resumeCh[t.ID()] = make(chan struct{}, 1)
	}
	return m
}

// Start starts watching the tables until ctx is done or Close is called.
func (m *Multiplexer) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	m.eg = eg
	for id, t := range m.tables {
		id, t := id, t
		eg.Go(func() error {
			err := m.watch(ctx, id, t)
			if err != nil && !cerrors.Is(err, context.Canceled) {
				select {
				case m.errCh <- err:
				default:
				}
			}
			return err
		})
	}
}

func (m *Multiplexer) watch(ctx context.Context, id swss.TableID, t InputTable) error {
	for {
		if err := t.ReadData(ctx); err != nil {
			if ctx.Err() != nil {
				return errors.Trace(ctx.Err())
			}
			log.Warn("read data from input table failed",
				zap.Stringer("table", id), zap.Error(err))
			return errors.Trace(err)
		}
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case m.readyCh <- id:
		}
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-m.resumeCh[id]:
		}
	}
}

// Table returns the table of id.
func (m *Multiplexer) Table(id swss.TableID) (InputTable, bool) {
	t, ok := m.tables[id]
	return t, ok
}

// Ready returns a channel receiving the IDs of tables with pending changes.
func (m *Multiplexer) Ready() <-chan swss.TableID {
	return m.readyCh
}

// Resume resumes watching the table of id. It must be called exactly once
// for every ID received from Ready.
func (m *Multiplexer) Resume(id swss.TableID) {
	ch, ok := m.resumeCh[id]
	if !ok {
		log.Panic("resume unknown input table", zap.Stringer("table", id))
	}
	select {
	case ch <- struct{}{}:
	default:
		log.Panic("resume input table twice", zap.Stringer("table", id))
	}
}

// Err returns a channel receiving the first read error of any table.
func (m *Multiplexer) Err() <-chan error {
	return m.errCh
}

// Close stops all goroutines and waits for them to exit. The tables are
// not closed.
func (m *Multiplexer) Close() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	_ = m.eg.Wait()
}
