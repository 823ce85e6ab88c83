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
	"fmt"
	"sort"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
	"github.com/pingcap/rowactor/pkg/swss/fv"
	"go.uber.org/zap"
)

// Table is implemented by InputTable and OutputTable.
type Table interface {
	// Row returns the raw field values of the table. It must not be modified.
	Row() swss.FieldValues

	cache() *cachedRow
}

// Typed returns the row of t deserialized into a T. The result is cached
// until the raw row changes, and must be treated as read-only.
func Typed[T any](t Table) (*T, error) {
	return typed[T](t.cache())
}

// InputTable is a read-only in-memory copy of a row that is input to the actor.
type InputTable struct {
	row    cachedRow
	exists bool
}

func newInputTable(fvs swss.FieldValues) *InputTable {
	return &InputTable{row: newCachedRow(fvs), exists: fvs != nil}
}

// Row implements Table.
func (t *InputTable) Row() swss.FieldValues {
	return t.row.row()
}

// Exists returns false if the row has never been seen, or was deleted.
func (t *InputTable) Exists() bool {
	return t.exists
}

func (t *InputTable) cache() *cachedRow {
	return &t.row
}

func (t *InputTable) apply(kfv swss.KeyOpFieldValues) {
	switch kfv.Operation {
	case swss.OpSet:
		t.row.set(kfv.FieldValues.Clone(), true)
		t.exists = true
	case swss.OpDel:
		t.row.set(nil, true)
		t.exists = false
	}
}

// OutputTable is a read-write in-memory copy of a row that is output or
// internal state of the actor. Modifications mark the table dirty, and
// dirty tables are written back by the driver.
type OutputTable struct {
	row     cachedRow
	dirty   bool
	deleted bool
}

func newOutputTable(fvs swss.FieldValues) *OutputTable {
	return &OutputTable{row: newCachedRow(fvs)}
}

// Row implements Table.
func (t *OutputTable) Row() swss.FieldValues {
	return t.row.row()
}

// RowMut returns the raw field values for modification. The table is
// marked dirty and its typed cache is dropped.
func (t *OutputTable) RowMut() swss.FieldValues {
	t.dirty = true
	t.deleted = false
	t.row.invalidate()
	return t.row.rowMut()
}

// SetRow replaces the raw field values and marks the table dirty.
func (t *OutputTable) SetRow(fvs swss.FieldValues) {
	t.dirty = true
	t.deleted = false
	t.row.set(fvs.Clone(), true)
}

// Delete clears the row and marks it to be deleted from the backing table.
func (t *OutputTable) Delete() {
	t.dirty = true
	t.deleted = true
	t.row.set(nil, true)
}

// IsDirty returns true if the table was modified since it was last drained.
func (t *OutputTable) IsDirty() bool {
	return t.dirty
}

func (t *OutputTable) cache() *cachedRow {
	return &t.row
}

// Guard is a mutable typed view of an OutputTable. Release writes the value
// back into the raw row; it must be called exactly once, usually deferred.
type Guard[T any] struct {
	table    *OutputTable
	value    *T
	released bool
}

// TypedMut returns a Guard over the row of t deserialized into a T.
// The table is marked dirty.
func TypedMut[T any](t *OutputTable) (*Guard[T], error) {
	v, err := typed[T](&t.row)
	if err != nil {
		return nil, errors.Trace(err)
	}
	t.dirty = true
	t.deleted = false
	return &Guard[T]{table: t, value: v}, nil
}

// Value returns the value guarded by g.
func (g *Guard[T]) Value() *T {
	return g.value
}

// Release serializes the value back into the table row, leaving the typed
// cache valid. It panics with ErrRowEncode if the value cannot be
// serialized, which the Driver reports as a failed callback.
func (g *Guard[T]) Release() {
	if g.released {
		return
	}
	g.released = true

	fvs, err := fv.Marshal(g.value)
	if err != nil {
		err = cerrors.ErrRowEncode.Wrap(err).GenWithStackByArgs(fmt.Sprintf("%T", g.value))
		log.Error("re-serialize guarded row failed", zap.Error(err))
		g.table.row.invalidate()
		panic(err)
	}
	g.table.row.commit(fvs, g.value)
	g.table.dirty = true
}

// Mutate runs fn on the typed row of t and writes the result back, even if
// fn returns an error.
func Mutate[T any](t *OutputTable, fn func(*T) error) error {
	g, err := TypedMut[T](t)
	if err != nil {
		return errors.Trace(err)
	}
	defer g.Release()
	return fn(g.Value())
}

// DirtyOutput is a snapshot of a drained OutputTable.
type DirtyOutput struct {
	Key         swss.Key
	FieldValues swss.FieldValues
	Deleted     bool
}

// State is the actor state: a set of input and output rows identified by key.
type State struct {
	inputs  map[swss.Key]*InputTable
	outputs map[swss.Key]*OutputTable
}

// NewState creates an empty State.
func NewState() *State {
	return &State{
		inputs:  make(map[swss.Key]*InputTable),
		outputs: make(map[swss.Key]*OutputTable),
	}
}

// Input returns the input table of key.
func (s *State) Input(key swss.Key) (*InputTable, error) {
	t, ok := s.inputs[key]
	if !ok {
		return nil, cerrors.ErrTableNotFound.GenWithStackByArgs(key.String())
	}
	return t, nil
}

// Output returns the output table of key.
func (s *State) Output(key swss.Key) (*OutputTable, error) {
	t, ok := s.outputs[key]
	if !ok {
		return nil, cerrors.ErrTableNotFound.GenWithStackByArgs(key.String())
	}
	return t, nil
}

// AddInputTable registers an input table. A nil fvs registers a row that
// has not been seen yet. Registering an existing key is a no-op.
func (s *State) AddInputTable(key swss.Key, fvs swss.FieldValues) *InputTable {
	if t, ok := s.inputs[key]; ok {
		return t
	}
	t := newInputTable(fvs)
	s.inputs[key.Owned()] = t
	return t
}

// AddOutputTable registers an output table. Registering an existing key is
// a no-op.
func (s *State) AddOutputTable(key swss.Key, fvs swss.FieldValues) *OutputTable {
	if t, ok := s.outputs[key]; ok {
		return t
	}
	t := newOutputTable(fvs)
	s.outputs[key.Owned()] = t
	return t
}

// InputKeys returns the keys of all input tables in order.
func (s *State) InputKeys() []swss.Key {
	return sortedKeys(s.inputs)
}

// OutputKeys returns the keys of all output tables in order.
func (s *State) OutputKeys() []swss.Key {
	return sortedKeys(s.outputs)
}

// DrainDirtyOutputs returns every dirty output table once, in key order,
// and clears their dirty flags. A table modified afterwards is returned by
// the next call.
func (s *State) DrainDirtyOutputs() []DirtyOutput {
	var ret []DirtyOutput
	for _, key := range sortedKeys(s.outputs) {
		t := s.outputs[key]
		if !t.dirty {
			continue
		}
		t.dirty = false
		ret = append(ret, DirtyOutput{
			Key:         key,
			FieldValues: t.row.row().Clone(),
			Deleted:     t.deleted,
		})
	}
	return ret
}

// markDirty re-marks an output table, used when writing it back failed.
func (s *State) markDirty(key swss.Key) {
	if t, ok := s.outputs[key]; ok {
		t.dirty = true
	}
}

// applyInput applies a row change of table tid. Unknown rows are registered
// only if autoAdd is true. It returns the key of the row and whether the
// change was applied.
func (s *State) applyInput(tid swss.TableID, kfv swss.KeyOpFieldValues, autoAdd bool) (swss.Key, bool) {
	key := tid.Key(kfv.Key)
	t, ok := s.inputs[key]
	if !ok {
		if !autoAdd {
			return key, false
		}
		t = s.AddInputTable(key, nil)
	}
	t.apply(kfv)
	return key.Owned(), true
}

func sortedKeys[V any](m map[swss.Key]V) []swss.Key {
	keys := make([]swss.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}
