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

package swss

import (
	"strings"

	"github.com/pingcap/errors"
)

// FieldValues is the raw content of a row: an unordered map from field
// name to value.
type FieldValues map[string]string

// Clone returns a deep copy of fvs. Cloning a nil map returns an empty one.
func (fvs FieldValues) Clone() FieldValues {
	ret := make(FieldValues, len(fvs))
	for f, v := range fvs {
		ret[f] = v
	}
	return ret
}

// Equal reports whether fvs and other contain the same fields and values.
func (fvs FieldValues) Equal(other FieldValues) bool {
	if len(fvs) != len(other) {
		return false
	}
	for f, v := range fvs {
		if ov, ok := other[f]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Operation is the kind of a row change.
type Operation int

const (
	// OpSet means a row was created or overwritten.
	OpSet Operation = iota
	// OpDel means a row was deleted.
	OpDel
)

// String implements fmt.Stringer.
func (op Operation) String() string {
	switch op {
	case OpSet:
		return "SET"
	case OpDel:
		return "DEL"
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler.
func (op Operation) MarshalText() ([]byte, error) {
	switch op {
	case OpSet, OpDel:
		return []byte(op.String()), nil
	}
	return nil, errors.Errorf("unknown operation %d", int(op))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (op *Operation) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "SET":
		*op = OpSet
	case "DEL":
		*op = OpDel
	default:
		return errors.Errorf("unknown operation %q", text)
	}
	return nil
}

// KeyOpFieldValues is a single row change popped from a table.
// FieldValues is empty for OpDel.
type KeyOpFieldValues struct {
	Key         string      `json:"key" msgpack:"key"`
	Operation   Operation   `json:"operation" msgpack:"op"`
	FieldValues FieldValues `json:"field_values" msgpack:"fvs"`
}
