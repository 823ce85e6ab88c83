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

package errors

import (
	"github.com/pingcap/errors"
)

// errors
var (
	// schema errors
	ErrFieldMissing = errors.Normalize(
		"field %s is missing",
		errors.RFCCodeText("RA:ErrFieldMissing"),
	)
	ErrFieldInvalid = errors.Normalize(
		"field %s has invalid value '%s'",
		errors.RFCCodeText("RA:ErrFieldInvalid"),
	)
	ErrRowEncode = errors.Normalize(
		"encode row of type %s failed",
		errors.RFCCodeText("RA:ErrRowEncode"),
	)
	ErrUnsupportedFieldType = errors.Normalize(
		"field %s has unsupported type %s",
		errors.RFCCodeText("RA:ErrUnsupportedFieldType"),
	)

	// lookup errors
	ErrTableNotFound = errors.Normalize(
		"table %s is not registered",
		errors.RFCCodeText("RA:ErrTableNotFound"),
	)
	ErrInvalidKey = errors.Normalize(
		"invalid key: %s",
		errors.RFCCodeText("RA:ErrInvalidKey"),
	)

	// table transport errors
	ErrTableRead = errors.Normalize(
		"read data from table %s failed",
		errors.RFCCodeText("RA:ErrTableRead"),
	)
	ErrTableWrite = errors.Normalize(
		"write row %s failed",
		errors.RFCCodeText("RA:ErrTableWrite"),
	)
	ErrTableClosed = errors.Normalize(
		"table %s is closed",
		errors.RFCCodeText("RA:ErrTableClosed"),
	)

	// bus errors
	ErrBusClosed = errors.Normalize(
		"bus client %s is closed",
		errors.RFCCodeText("RA:ErrBusClosed"),
	)
	ErrBusUnreachable = errors.Normalize(
		"destination %s is unreachable",
		errors.RFCCodeText("RA:ErrBusUnreachable"),
	)
	ErrBusDuplicatePath = errors.Normalize(
		"service path %s is already registered",
		errors.RFCCodeText("RA:ErrBusDuplicatePath"),
	)
	ErrMailboxFull = errors.Normalize(
		"mailbox of %s is full",
		errors.RFCCodeText("RA:ErrMailboxFull"),
	)
	ErrInvalidServicePath = errors.Normalize(
		"invalid service path: %s",
		errors.RFCCodeText("RA:ErrInvalidServicePath"),
	)

	// handler errors
	ErrHandlerFailed = errors.Normalize(
		"actor handler failed: %s",
		errors.RFCCodeText("RA:ErrHandlerFailed"),
	)
	ErrHandlerPanicked = errors.Normalize(
		"actor handler panicked: %v",
		errors.RFCCodeText("RA:ErrHandlerPanicked"),
	)
	ErrResendExhausted = errors.Normalize(
		"message %d to %s was not acknowledged after %d tries",
		errors.RFCCodeText("RA:ErrResendExhausted"),
	)

	// protocol errors
	ErrInvalidPayload = errors.Normalize(
		"invalid payload: %s",
		errors.RFCCodeText("RA:ErrInvalidPayload"),
	)

	// config errors
	ErrInvalidConfig = errors.Normalize(
		"invalid config: %s",
		errors.RFCCodeText("RA:ErrInvalidConfig"),
	)
)
