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
	"testing"

	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
	"github.com/stretchr/testify/require"
)

type point struct {
	X int32 `fv:"x"`
}

type haState struct {
	Term    uint64  `fv:"term"`
	Primary string  `fv:"primary"`
	Peer    *string `fv:"peer"`
}

func TestGuardWriteBack(t *testing.T) {
	t.Parallel()

	s := NewState()
	key := swss.NewKey("DPU_STATE_DB", "POINT", "p1")
	s.AddOutputTable(key, swss.FieldValues{"x": "1"})

	out, err := s.Output(key)
	require.Nil(t, err)
	require.False(t, out.IsDirty())

	g, err := TypedMut[point](out)
	require.Nil(t, err)
	require.True(t, out.IsDirty())
	g.Value().X = 5
	g.Release()

	require.Equal(t, swss.FieldValues{"x": "5"}, out.Row())
	require.True(t, out.IsDirty())

	memo := out.row.memo
	p, err := Typed[point](out)
	require.Nil(t, err)
	require.Equal(t, point{X: 5}, *p)
	// served from the memo, not reparsed
	require.Same(t, memo, any(p))

	// releasing twice is harmless
	g.Release()
	require.Equal(t, swss.FieldValues{"x": "5"}, out.Row())
}

type pointLabel struct {
	X string `fv:"x"`
}

func TestReleaseReplacesMemoOfOtherType(t *testing.T) {
	t.Parallel()

	out := newOutputTable(swss.FieldValues{"x": "1"})
	g, err := TypedMut[point](out)
	require.Nil(t, err)

	// reading through another type while the guard is held
	l, err := Typed[pointLabel](out)
	require.Nil(t, err)
	require.Equal(t, "1", l.X)

	g.Value().X = 5
	g.Release()
	require.Equal(t, swss.FieldValues{"x": "5"}, out.Row())

	l, err = Typed[pointLabel](out)
	require.Nil(t, err)
	require.Equal(t, "5", l.X)

	p, err := Typed[point](out)
	require.Nil(t, err)
	require.Equal(t, int32(5), p.X)
}

func TestRowMutInvalidatesMemo(t *testing.T) {
	t.Parallel()

	s := NewState()
	key := swss.NewKey("db", "POINT", "p1")
	out := s.AddOutputTable(key, swss.FieldValues{"x": "1"})

	p, err := Typed[point](out)
	require.Nil(t, err)
	require.Equal(t, int32(1), p.X)

	out.RowMut()["x"] = "7"
	require.True(t, out.IsDirty())
	p, err = Typed[point](out)
	require.Nil(t, err)
	require.Equal(t, int32(7), p.X)

	out.SetRow(swss.FieldValues{"x": "8"})
	p, err = Typed[point](out)
	require.Nil(t, err)
	require.Equal(t, int32(8), p.X)
}

func TestCacheCoherence(t *testing.T) {
	t.Parallel()

	out := newOutputTable(swss.FieldValues{"term": "1", "primary": "a"})
	for i := 0; i < 10; i++ {
		err := Mutate(out, func(st *haState) error {
			st.Term++
			if i%2 == 0 {
				peer := "b"
				st.Peer = &peer
			} else {
				st.Peer = nil
			}
			return nil
		})
		require.Nil(t, err)
		if i%3 == 0 {
			out.RowMut()["primary"] = "c"
		}
	}
	st, err := Typed[haState](out)
	require.Nil(t, err)
	require.Equal(t, uint64(11), st.Term)
	require.Equal(t, "c", st.Primary)
	require.Nil(t, st.Peer)
	require.Equal(t, swss.FieldValues{"term": "11", "primary": "c"}, out.Row())
}

func TestMutateReleasesOnError(t *testing.T) {
	t.Parallel()

	out := newOutputTable(swss.FieldValues{"x": "1"})
	err := Mutate(out, func(p *point) error {
		p.X = 2
		return cerrors.ErrHandlerFailed.GenWithStackByArgs("boom")
	})
	require.True(t, cerrors.Is(err, cerrors.ErrHandlerFailed))
	require.Equal(t, swss.FieldValues{"x": "2"}, out.Row())
}

func TestTypedSchemaError(t *testing.T) {
	t.Parallel()

	in := newInputTable(swss.FieldValues{"x": "not-a-number"})
	_, err := Typed[point](in)
	require.True(t, cerrors.Is(err, cerrors.ErrFieldInvalid))

	out := newOutputTable(swss.FieldValues{})
	_, err = TypedMut[point](out)
	require.True(t, cerrors.Is(err, cerrors.ErrFieldMissing))
	require.False(t, out.IsDirty())
}

func TestStateLookup(t *testing.T) {
	t.Parallel()

	s := NewState()
	_, err := s.Input(swss.NewKey("db", "t", "r"))
	require.True(t, cerrors.Is(err, cerrors.ErrTableNotFound))
	_, err = s.Output(swss.NewKey("db", "t", "r"))
	require.True(t, cerrors.Is(err, cerrors.ErrTableNotFound))

	in := s.AddInputTable(swss.NewKey("db", "t", "r"), nil)
	require.False(t, in.Exists())
	require.Same(t, in, s.AddInputTable(swss.NewKey("db", "t", "r"), swss.FieldValues{"a": "b"}))
	require.Empty(t, in.Row())

	s.AddInputTable(swss.NewKey("db", "t", "a"), swss.FieldValues{})
	require.Equal(t, []swss.Key{
		swss.NewKey("db", "t", "a"),
		swss.NewKey("db", "t", "r"),
	}, s.InputKeys())
}

func TestApplyInput(t *testing.T) {
	t.Parallel()

	s := NewState()
	tid := swss.NewTableID("db", "POINT")
	s.AddInputTable(tid.Key("p1"), nil)

	_, ok := s.applyInput(tid, swss.KeyOpFieldValues{
		Key: "p2", Operation: swss.OpSet, FieldValues: swss.FieldValues{"x": "1"},
	}, false)
	require.False(t, ok)

	key, ok := s.applyInput(tid, swss.KeyOpFieldValues{
		Key: "p1", Operation: swss.OpSet, FieldValues: swss.FieldValues{"x": "3"},
	}, false)
	require.True(t, ok)
	require.Equal(t, tid.Key("p1"), key)
	in, err := s.Input(key)
	require.Nil(t, err)
	require.True(t, in.Exists())
	p, err := Typed[point](in)
	require.Nil(t, err)
	require.Equal(t, int32(3), p.X)

	_, ok = s.applyInput(tid, swss.KeyOpFieldValues{Key: "p1", Operation: swss.OpDel}, false)
	require.True(t, ok)
	require.False(t, in.Exists())
	require.Empty(t, in.Row())

	_, ok = s.applyInput(tid, swss.KeyOpFieldValues{
		Key: "p3", Operation: swss.OpSet, FieldValues: swss.FieldValues{"x": "1"},
	}, true)
	require.True(t, ok)
	require.Len(t, s.InputKeys(), 2)
}

func TestDrainDirtyOutputs(t *testing.T) {
	t.Parallel()

	s := NewState()
	a := s.AddOutputTable(swss.NewKey("db", "t", "a"), swss.FieldValues{"x": "1"})
	b := s.AddOutputTable(swss.NewKey("db", "t", "b"), swss.FieldValues{"x": "2"})
	s.AddOutputTable(swss.NewKey("db", "t", "c"), swss.FieldValues{"x": "3"})
	require.Empty(t, s.DrainDirtyOutputs())

	b.RowMut()["x"] = "20"
	a.Delete()
	drained := s.DrainDirtyOutputs()
	require.Equal(t, []DirtyOutput{
		{Key: swss.NewKey("db", "t", "a"), FieldValues: swss.FieldValues{}, Deleted: true},
		{Key: swss.NewKey("db", "t", "b"), FieldValues: swss.FieldValues{"x": "20"}},
	}, drained)
	require.False(t, a.IsDirty())
	require.False(t, b.IsDirty())
	require.Empty(t, s.DrainDirtyOutputs())

	// the drained snapshot is detached from the table
	b.RowMut()["x"] = "21"
	require.Equal(t, "20", drained[1].FieldValues["x"])
	drained = s.DrainDirtyOutputs()
	require.Len(t, drained, 1)
	require.Equal(t, "21", drained[0].FieldValues["x"])

	s.markDirty(swss.NewKey("db", "t", "b"))
	require.Len(t, s.DrainDirtyOutputs(), 1)
}
