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

package bus

import (
	"fmt"

	cerrors "github.com/pingcap/rowactor/pkg/errors"
)

// MessageID identifies a message sent on a Router. IDs are unique per
// Router and start from 1.
type MessageID uint64

// CodeOK is the code of a successful Response.
const CodeOK = "OK"

// Body is the content of a Message. It is one of *Request, *Response or
// *Failure.
type Body interface {
	fmt.Stringer
	isBody()
}

// Request carries an opaque payload.
type Request struct {
	Payload []byte
}

// Response acknowledges a Request.
type Response struct {
	RequestID    MessageID
	Code         string
	ErrorMessage string
}

// Failure notifies the sender of a request that it could not be delivered.
type Failure struct {
	RequestID   MessageID
	Destination ServicePath
	Reason      string
}

func (*Request) isBody()  {}
func (*Response) isBody() {}
func (*Failure) isBody()  {}

func (r *Request) String() string {
	return fmt.Sprintf("request(%d bytes)", len(r.Payload))
}

func (r *Response) String() string {
	if r.Code == CodeOK {
		return fmt.Sprintf("response(%d, ok)", r.RequestID)
	}
	return fmt.Sprintf("response(%d, %s: %s)", r.RequestID, r.Code, r.ErrorMessage)
}

func (f *Failure) String() string {
	return fmt.Sprintf("failure(%d to %s: %s)", f.RequestID, f.Destination, f.Reason)
}

// IsOK returns true if r reports success.
func (r *Response) IsOK() bool {
	return r.Code == CodeOK
}

// Message is a message received from the bus.
type Message struct {
	ID          MessageID
	Source      ServicePath
	Destination ServicePath
	Body        Body
}

// OutgoingMessage is a message to be sent on the bus. The source is filled
// in by the Client.
type OutgoingMessage struct {
	Destination ServicePath
	Body        Body
}

// NewRequest creates a request to dest.
func NewRequest(dest ServicePath, payload []byte) OutgoingMessage {
	return OutgoingMessage{Destination: dest, Body: &Request{Payload: payload}}
}

// NewResponse creates the response to request. A nil err reports success,
// otherwise the RFC code and message of err are reported.
func NewResponse(request Message, err error) OutgoingMessage {
	resp := &Response{RequestID: request.ID, Code: CodeOK}
	if err != nil {
		resp.Code = string(cerrors.ErrorCode(err))
		resp.ErrorMessage = err.Error()
	}
	return OutgoingMessage{Destination: request.Source, Body: resp}
}
