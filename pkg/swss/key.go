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

	cerrors "github.com/pingcap/rowactor/pkg/errors"
)

const keySeparator = ":"

// Key identifies a single row of a table.
//
// Key is a comparable value, so it can be used directly as a map key.
// NewKey returns a key that shares the caller's strings and is cheap to
// build for lookups. Owned returns a key that does not retain any larger
// buffer the fields were sliced from, and must be used whenever a key is
// stored or handed to another goroutine. Both compare and hash identically.
type Key struct {
	DB    string
	Table string
	Row   string
}

// NewKey creates a Key that borrows the given strings.
func NewKey(db, table, row string) Key {
	return Key{DB: db, Table: table, Row: row}
}

// Owned returns a copy of k that owns its strings.
func (k Key) Owned() Key {
	return Key{
		DB:    strings.Clone(k.DB),
		Table: strings.Clone(k.Table),
		Row:   strings.Clone(k.Row),
	}
}

// TableID returns the identifier of the table k belongs to.
func (k Key) TableID() TableID {
	return TableID{DB: k.DB, Table: k.Table}
}

// String implements fmt.Stringer. The format is "db:table:row".
func (k Key) String() string {
	return k.DB + keySeparator + k.Table + keySeparator + k.Row
}

// Less reports whether k sorts before other.
func (k Key) Less(other Key) bool {
	if k.DB != other.DB {
		return k.DB < other.DB
	}
	if k.Table != other.Table {
		return k.Table < other.Table
	}
	return k.Row < other.Row
}

// ParseKey parses a key in the format produced by Key.String.
// The row part may itself contain separators.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, keySeparator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Key{}, cerrors.ErrInvalidKey.GenWithStackByArgs(s)
	}
	return NewKey(parts[0], parts[1], parts[2]).Owned(), nil
}

// TableID identifies a whole table.
type TableID struct {
	DB    string
	Table string
}

// NewTableID creates a TableID.
func NewTableID(db, table string) TableID {
	return TableID{DB: db, Table: table}
}

// Key returns the key of the given row in table t.
func (t TableID) Key(row string) Key {
	return Key{DB: t.DB, Table: t.Table, Row: row}
}

// Owned returns a copy of t that owns its strings.
func (t TableID) Owned() TableID {
	return TableID{DB: strings.Clone(t.DB), Table: strings.Clone(t.Table)}
}

// String implements fmt.Stringer. The format is "db:table".
func (t TableID) String() string {
	return t.DB + keySeparator + t.Table
}

// Less reports whether t sorts before other.
func (t TableID) Less(other TableID) bool {
	if t.DB != other.DB {
		return t.DB < other.DB
	}
	return t.Table < other.Table
}
