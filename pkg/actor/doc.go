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

// Package actor runs actors that mirror rows of external tables into
// memory, react to table changes and bus requests, and write their own
// output rows back.
//
// The following diagram shows how a Driver dispatches events to an actor.
//
//	  input tables          bus              ticker
//	       |                 |                  |
//	  Multiplexer        recv loop              |
//	       |                 |                  |
//	       `-------------> Driver <-------------'
//	                         |
//	      HandleTableUpdate / HandleRequest / maintenance
//	                         |
//	          State (dirty outputs) + Outbox
//	                         |
//	     output tables <-- flush --> bus (requests are tracked
//	                                      until acknowledged)
//
// Every row known to an actor is held in a cached row: the raw field
// values, which are the source of truth, and a lazily deserialized typed
// value. Output rows are marked dirty whenever they are modified, and the
// Driver drains and writes them back after every callback.
package actor
