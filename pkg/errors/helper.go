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
	"context"
	stderrors "errors"

	"github.com/pingcap/errors"
)

// Is reports whether any error in the chain of err matches target.
// Normalized errors match by their RFC code.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in the chain of err that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// codeUnknown is reported for errors that carry no RFC code.
const codeUnknown = "RA:ErrUnknown"

// ErrorCode returns the RFC code of the outermost normalized error in the
// chain of err.
func ErrorCode(err error) errors.RFCErrorCode {
	if err == nil {
		return ""
	}
	var rfcErr *errors.Error
	if As(err, &rfcErr) {
		return rfcErr.RFCCode()
	}
	return codeUnknown
}

// IsTransportError returns true if err indicates that the underlying
// table or bus connection is broken.
func IsTransportError(err error) bool {
	for _, e := range []*errors.Error{
		ErrTableRead, ErrTableClosed, ErrBusClosed,
	} {
		if Is(err, e) {
			return true
		}
	}
	return false
}

// IsRetryableError returns true if an operation that failed with err may
// succeed if it is tried again later.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, context.Canceled) || Is(err, context.DeadlineExceeded) {
		return false
	}
	return !IsTransportError(err) && !Is(err, ErrTableNotFound)
}
