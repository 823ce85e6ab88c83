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

// Package payload encodes the bus payloads exchanged with a consumer
// bridge: subscription control requests and row change events. Both are
// JSON documents.
package payload

import (
	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
	"github.com/pingcap/rowactor/pkg/bus"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
)

// ControlKind is the kind of a Control request.
type ControlKind int

const (
	// Subscribe adds the subscriber.
	Subscribe ControlKind = iota + 1
	// Unsubscribe removes the subscriber.
	Unsubscribe
)

func (k ControlKind) String() string {
	switch k {
	case Subscribe:
		return "subscribe"
	case Unsubscribe:
		return "unsubscribe"
	}
	return "unknown"
}

// Control is a request to change the subscribers of a bridge.
type Control struct {
	Kind       ControlKind
	Subscriber bus.ServicePath
}

type subscriberArgs struct {
	Subscriber *bus.ServicePath `json:"subscriber"`
}

// controlMessage is encoded as {"Subscribe":{"subscriber":"<path>"}} or
// {"Unsubscribe":{"subscriber":"<path>"}}.
type controlMessage struct {
	Subscribe   *subscriberArgs `json:"Subscribe,omitempty"`
	Unsubscribe *subscriberArgs `json:"Unsubscribe,omitempty"`
}

// EncodeSubscribe encodes a request asking a bridge to send row changes
// to subscriber.
func EncodeSubscribe(subscriber bus.ServicePath) []byte {
	return mustMarshal(controlMessage{Subscribe: &subscriberArgs{Subscriber: &subscriber}})
}

// EncodeUnsubscribe encodes a request asking a bridge to stop sending row
// changes to subscriber. A subscriber is also unsubscribed the first time
// a change fails to be delivered to it.
func EncodeUnsubscribe(subscriber bus.ServicePath) []byte {
	return mustMarshal(controlMessage{Unsubscribe: &subscriberArgs{Subscriber: &subscriber}})
}

// DecodeControl decodes a Subscribe or Unsubscribe request.
func DecodeControl(data []byte) (Control, error) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Control{}, cerrors.ErrInvalidPayload.Wrap(err).GenWithStackByArgs(err.Error())
	}

	var (
		kind ControlKind
		args *subscriberArgs
	)
	switch {
	case msg.Subscribe != nil && msg.Unsubscribe == nil:
		kind, args = Subscribe, msg.Subscribe
	case msg.Unsubscribe != nil && msg.Subscribe == nil:
		kind, args = Unsubscribe, msg.Unsubscribe
	default:
		return Control{}, cerrors.ErrInvalidPayload.GenWithStackByArgs(
			"expect exactly one of Subscribe and Unsubscribe")
	}
	if args.Subscriber == nil {
		return Control{}, cerrors.ErrInvalidPayload.GenWithStackByArgs("subscriber is missing")
	}
	return Control{Kind: kind, Subscriber: *args.Subscriber}, nil
}

// EncodeKeyOpFieldValues encodes a row change forwarded by a bridge.
func EncodeKeyOpFieldValues(kfv swss.KeyOpFieldValues) []byte {
	if kfv.FieldValues == nil {
		kfv.FieldValues = swss.FieldValues{}
	}
	return mustMarshal(kfv)
}

// DecodeKeyOpFieldValues decodes a row change forwarded by a bridge.
func DecodeKeyOpFieldValues(data []byte) (swss.KeyOpFieldValues, error) {
	var kfv swss.KeyOpFieldValues
	if err := json.Unmarshal(data, &kfv); err != nil {
		return swss.KeyOpFieldValues{}, cerrors.ErrInvalidPayload.Wrap(err).GenWithStackByArgs(err.Error())
	}
	if kfv.FieldValues == nil {
		kfv.FieldValues = swss.FieldValues{}
	}
	return kfv, nil
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Only values of the types above are marshaled, which cannot fail.
		panic(errors.Trace(err))
	}
	return data
}
