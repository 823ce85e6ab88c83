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


// Package mirror implements an actor that copies every row of a table
// into another table.
package mirror

import (
	"context"

	"github.com/pingcap/log"
	"github.com/pingcap/rowactor/pkg/actor"
	"github.com/pingcap/rowactor/pkg/bus"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var _ actor.Actor = (*Mirror)(nil)

// Mirror copies the rows of the source table into the destination table.
// Deleted source rows are deleted from the destination.
type Mirror struct {
	source swss.TableID
	dest   swss.TableID

	copied  atomic.Int64
	deleted atomic.Int64
}

// New creates a Mirror.
func New(source, dest swss.TableID) *Mirror {
	return &Mirror{source: source.Owned(), dest: dest.Owned()}
}

// Init implements actor.Actor.
func (m *Mirror) Init(context.Context, *actor.Outbox) error {
	log.Info("mirror started", zap.Stringer("source", m.source), zap.Stringer("dest", m.dest))
	return nil
}

// HandleRequest implements actor.Actor. A mirror serves no requests.
func (m *Mirror) HandleRequest(
	_ context.Context, _ *actor.State, _ *actor.Outbox, source bus.ServicePath, _ []byte,
) error {
	return cerrors.ErrInvalidPayload.GenWithStackByArgs("mirror serves no requests, from " + source.String())
}

// HandleTableUpdate implements actor.Actor.
func (m *Mirror) HandleTableUpdate(
	_ context.Context, state *actor.State, _ *actor.Outbox, key swss.Key,
) error {
	if key.TableID() != m.source {
		return nil
	}
	in, err := state.Input(key)
	if err != nil {
		return err
	}
	out := state.AddOutputTable(m.dest.Key(key.Row), nil)
	if in.Exists() {
		out.SetRow(in.Row())
		m.copied.Inc()
	} else {
		out.Delete()
		m.deleted.Inc()
	}
	return nil
}

// Copied returns the number of rows copied so far.
func (m *Mirror) Copied() int64 { return m.copied.Load() }

// Deleted returns the number of rows deleted so far.
func (m *Mirror) Deleted() int64 { return m.deleted.Load() }
