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
	"context"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DefaultInboxSize is the inbox capacity used when none is given.
const DefaultInboxSize = 1024

// Router is an in-process bus. It routes messages between the Clients
// registered on it by their ServicePath.
type Router struct {
	mu      sync.RWMutex
	clients map[ServicePath]*Client

	nextID   atomic.Uint64
	isClosed atomic.Bool
}

// NewRouter creates a new Router.
func NewRouter() *Router {
	return &Router{
		clients: make(map[ServicePath]*Client),
	}
}

// Register creates a Client listening on path. A path can only be
// registered by one open Client at a time.
func (r *Router) Register(path ServicePath, inboxSize int) (*Client, error) {
	if path.IsZero() {
		return nil, cerrors.ErrInvalidServicePath.GenWithStackByArgs("<empty>")
	}
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isClosed.Load() {
		return nil, cerrors.ErrBusClosed.GenWithStackByArgs(path.String())
	}
	if _, ok := r.clients[path]; ok {
		return nil, cerrors.ErrBusDuplicatePath.GenWithStackByArgs(path.String())
	}
	c := &Client{
		path:   path,
		router: r,
		inbox:  newMailbox(path, inboxSize),
	}
	r.clients[path] = c
	log.Debug("bus client registered", zap.Stringer("path", path))
	return c, nil
}

// Close closes every registered Client.
func (r *Router) Close() {
	if r.isClosed.Swap(true) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for path, c := range r.clients {
		c.inbox.close()
		delete(r.clients, path)
	}
}

func (r *Router) unregister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[c.path] == c {
		delete(r.clients, c.path)
	}
}

func (r *Router) lookup(path ServicePath) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[path]
	return c, ok
}

// route delivers msg. Requests that cannot be delivered are reported to
// the sender with a Failure.
func (r *Router) route(sender *Client, msg Message) {
	kind := bodyKind(msg.Body)
	sentCounter.WithLabelValues(kind).Inc()

	var err error
	if dest, ok := r.lookup(msg.Destination); ok {
		err = dest.inbox.send(msg)
	} else {
		err = cerrors.ErrBusUnreachable.GenWithStackByArgs(msg.Destination.String())
	}
	if err == nil {
		return
	}

	deliveryFailureCounter.WithLabelValues(kind).Inc()
	if _, ok := msg.Body.(*Request); !ok {
		log.Debug("drop undeliverable message",
			zap.Stringer("source", msg.Source),
			zap.Stringer("destination", msg.Destination),
			zap.Stringer("body", msg.Body),
			zap.Error(err))
		return
	}
	sender.inbox.notifyFailure(Message{
		ID:          msg.ID,
		Source:      msg.Destination,
		Destination: msg.Source,
		Body: &Failure{
			RequestID:   msg.ID,
			Destination: msg.Destination,
			Reason:      err.Error(),
		},
	})
}

// Client is an endpoint registered on a Router.
// Client is threadsafe.
type Client struct {
	path   ServicePath
	router *Router
	inbox  *mailbox
}

// Path returns the path c is registered on.
func (c *Client) Path() ServicePath {
	return c.path
}

// Send sends msg and returns its ID. It does not wait for the message to
// be handled. If a request cannot be delivered, a Failure is received
// later by c.
func (c *Client) Send(ctx context.Context, msg OutgoingMessage) (MessageID, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Trace(err)
	}
	if c.inbox.isClosed() {
		return 0, cerrors.ErrBusClosed.GenWithStackByArgs(c.path.String())
	}
	if msg.Body == nil {
		log.Panic("send message without body", zap.Stringer("destination", msg.Destination))
	}
	id := MessageID(c.router.nextID.Inc())
	c.router.route(c, Message{
		ID:          id,
		Source:      c.path,
		Destination: msg.Destination,
		Body:        msg.Body,
	})
	return id, nil
}

// Resend sends msg again under the ID it was first sent with, so that a
// response to any of the copies acknowledges it.
func (c *Client) Resend(ctx context.Context, id MessageID, msg OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	if c.inbox.isClosed() {
		return cerrors.ErrBusClosed.GenWithStackByArgs(c.path.String())
	}
	c.router.route(c, Message{
		ID:          id,
		Source:      c.path,
		Destination: msg.Destination,
		Body:        msg.Body,
	})
	return nil
}

// Recv blocks until a message is received. It returns ErrBusClosed once c
// or its Router is closed.
func (c *Client) Recv(ctx context.Context) (Message, error) {
	return c.inbox.recv(ctx)
}

// Close unregisters c. Pending messages are dropped.
func (c *Client) Close() {
	c.inbox.close()
	c.router.unregister(c)
}

func bodyKind(b Body) string {
	switch b.(type) {
	case *Request:
		return "request"
	case *Response:
		return "response"
	case *Failure:
		return "failure"
	default:
		return "unknown"
	}
}
