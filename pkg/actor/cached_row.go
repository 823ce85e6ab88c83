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
	"github.com/pingcap/errors"
	"github.com/pingcap/rowactor/pkg/swss"
	"github.com/pingcap/rowactor/pkg/swss/fv"
)

// cachedRow is an in-memory copy of a table row.
//
// fvs is the source of truth. memo is a lazily computed *T deserialized
// from fvs; whenever memo is non-nil it matches the last deserialization
// of the current fvs.
type cachedRow struct {
	fvs  swss.FieldValues
	memo any
}

func newCachedRow(fvs swss.FieldValues) cachedRow {
	if fvs == nil {
		fvs = make(swss.FieldValues)
	}
	return cachedRow{fvs: fvs}
}

// set replaces the raw row. The memo is dropped iff invalidate is true.
func (c *cachedRow) set(fvs swss.FieldValues, invalidate bool) {
	if fvs == nil {
		fvs = make(swss.FieldValues)
	}
	c.fvs = fvs
	if invalidate {
		c.memo = nil
	}
}

// commit replaces the raw row with fvs, the serialization of memo.
func (c *cachedRow) commit(fvs swss.FieldValues, memo any) {
	c.fvs = fvs
	c.memo = memo
}

func (c *cachedRow) row() swss.FieldValues {
	return c.fvs
}

// rowMut gives direct access to the raw row. Callers are responsible for
// invalidating the memo.
func (c *cachedRow) rowMut() swss.FieldValues {
	return c.fvs
}

func (c *cachedRow) invalidate() {
	c.memo = nil
}

// typed returns the memo as a *T, deserializing fvs first if the memo is
// empty or holds another type.
func typed[T any](c *cachedRow) (*T, error) {
	if v, ok := c.memo.(*T); ok {
		return v, nil
	}
	v := new(T)
	if err := fv.Unmarshal(c.fvs, v); err != nil {
		return nil, errors.Trace(err)
	}
	c.memo = v
	return v, nil
}
