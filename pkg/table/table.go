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

// Package table defines how the runtime reads and writes the rows of
// external tables, independently of the transport behind them.
//
// An input table is consumed in two steps. ReadData blocks until at least
// one change is pending without consuming anything, and Pops returns and
// clears the pending changes in the order they happened. Output tables
// apply one row at a time and surface transport errors to the caller.
package table

import (
	"context"

	"github.com/pingcap/rowactor/pkg/swss"
)

// InputTable is a source of row changes.
type InputTable interface {
	// ID returns the table the changes belong to.
	ID() swss.TableID
	// ReadData blocks until at least one change is pending. An error means
	// the table is broken and must not be read from again.
	ReadData(ctx context.Context) error
	// Pops returns and clears all pending changes. Keys are row keys.
	Pops(ctx context.Context) ([]swss.KeyOpFieldValues, error)
	// Close releases the resources held by the table.
	Close() error
}

// OutputTable is a sink of rows.
type OutputTable interface {
	// ID returns the table rows are written to.
	ID() swss.TableID
	// Set creates or overwrites a row.
	Set(ctx context.Context, row string, fvs swss.FieldValues) error
	// Del deletes a row. Deleting an absent row is not an error.
	Del(ctx context.Context, row string) error
}
