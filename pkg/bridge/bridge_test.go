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

package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap/rowactor/pkg/actor"
	"github.com/pingcap/rowactor/pkg/bridge/payload"
	"github.com/pingcap/rowactor/pkg/bus"
	"github.com/pingcap/rowactor/pkg/clock"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
	"github.com/pingcap/rowactor/pkg/table"
	"github.com/stretchr/testify/require"
)

var (
	bridgePath = bus.MustParseServicePath("r.c.n/swss-common-bridge/0/table/DPU_STATE")
	pathA      = bus.MustParseServicePath("r.c.n/hamgrd/0/vdpu/a")
	pathB      = bus.MustParseServicePath("r.c.n/hamgrd/0/vdpu/b")
	pathC      = bus.MustParseServicePath("r.c.n/hamgrd/0/vdpu/c")
	tableID    = swss.NewTableID("DPU_STATE_DB", "DPU_STATE")
)

type harness struct {
	t      *testing.T
	ctx    context.Context
	cancel context.CancelFunc
	router *bus.Router
	clk    *clock.Mock
	src    *table.QueueTable
	bridge *ConsumerBridge
	errCh  chan error
}

func startBridge(t *testing.T) *harness {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	router := bus.NewRouter()
	client, err := router.Register(bridgePath, 64)
	require.Nil(t, err)

	src := table.NewQueueTable(tableID)
	b := NewConsumerBridge(src, 0)
	require.Equal(t, tableID, b.TableID())
	clk := clock.NewMock()
	d := actor.NewDriver(b, client, actor.WithClock(clk))
	h := &harness{
		t:      t,
		ctx:    ctx,
		cancel: cancel,
		router: router,
		clk:    clk,
		src:    src,
		bridge: b,
		errCh:  make(chan error, 1),
	}
	go func() {
		h.errCh <- d.Run(ctx)
	}()
	return h
}

func (h *harness) stop() {
	h.cancel()
	require.True(h.t, cerrors.Is(<-h.errCh, context.Canceled))
	require.Nil(h.t, h.bridge.Close())
	h.router.Close()
}

func (h *harness) register(path bus.ServicePath) *bus.Client {
	c, err := h.router.Register(path, 64)
	require.Nil(h.t, err)
	return c
}

func (h *harness) control(c *bus.Client, data []byte) *bus.Response {
	id, err := c.Send(h.ctx, bus.NewRequest(bridgePath, data))
	require.Nil(h.t, err)
	msg, err := c.Recv(h.ctx)
	require.Nil(h.t, err)
	resp, ok := msg.Body.(*bus.Response)
	require.True(h.t, ok, "unexpected message %v", msg.Body)
	require.Equal(h.t, id, resp.RequestID)
	return resp
}

func (h *harness) waitSubscribers(n int) {
	require.Eventually(h.t, func() bool {
		return h.bridge.NumSubscribers() == n
	}, 5*time.Second, 10*time.Millisecond)
}

func (h *harness) set(row, value string) {
	require.Nil(h.t, h.src.Set(h.ctx, row, swss.FieldValues{"state": value}))
}

func (h *harness) expectChange(c *bus.Client, row, value string) bus.MessageID {
	msg, err := c.Recv(h.ctx)
	require.Nil(h.t, err)
	require.Equal(h.t, bridgePath, msg.Source)
	req, ok := msg.Body.(*bus.Request)
	require.True(h.t, ok, "unexpected message %v", msg.Body)
	kfv, err := payload.DecodeKeyOpFieldValues(req.Payload)
	require.Nil(h.t, err)
	require.Equal(h.t, swss.KeyOpFieldValues{
		Key: row, Operation: swss.OpSet, FieldValues: swss.FieldValues{"state": value},
	}, kfv)
	return msg.ID
}

func (h *harness) expectSilence(c *bus.Client) {
	ctx, cancel := context.WithTimeout(h.ctx, 100*time.Millisecond)
	defer cancel()
	msg, err := c.Recv(ctx)
	require.True(h.t, cerrors.Is(err, context.DeadlineExceeded), "unexpected message %v", msg.Body)
}

func TestBridgeUnsubscribesOnDeliveryFailure(t *testing.T) {
	t.Parallel()

	h := startBridge(t)
	defer h.stop()

	a := h.register(pathA)
	b := h.register(pathB)
	require.True(t, h.control(a, payload.EncodeSubscribe(pathA)).IsOK())
	require.True(t, h.control(b, payload.EncodeSubscribe(pathB)).IsOK())
	h.waitSubscribers(2)

	h.set("vdpu0", "c1")
	h.expectChange(a, "vdpu0", "c1")
	h.expectChange(b, "vdpu0", "c1")

	// delivering c2 to b fails
	b.Close()
	h.set("vdpu0", "c2")
	h.expectChange(a, "vdpu0", "c2")
	h.waitSubscribers(1)

	// b is not sent anything until it subscribes again
	b = h.register(pathB)
	h.set("vdpu0", "c3")
	h.expectChange(a, "vdpu0", "c3")
	h.expectSilence(b)

	require.True(t, h.control(b, payload.EncodeSubscribe(pathB)).IsOK())
	h.waitSubscribers(2)
	h.set("vdpu1", "c4")
	h.expectChange(a, "vdpu1", "c4")
	h.expectChange(b, "vdpu1", "c4")
}

func TestBridgeUnsubscribesBeforePendingChange(t *testing.T) {
	t.Parallel()

	h := startBridge(t)
	defer h.stop()

	a := h.register(pathA)
	require.True(t, h.control(a, payload.EncodeSubscribe(pathA)).IsOK())
	// b never reads, so its single slot inbox fills up
	b, err := h.router.Register(pathB, 1)
	require.Nil(t, err)
	require.True(t, h.control(b, payload.EncodeSubscribe(pathB)).IsOK())
	h.waitSubscribers(2)

	h.set("vdpu0", "c1")
	h.set("vdpu0", "c2")
	h.set("vdpu0", "c3")
	h.expectChange(a, "vdpu0", "c1")
	h.expectChange(a, "vdpu0", "c2")
	h.expectChange(a, "vdpu0", "c3")
	h.waitSubscribers(1)

	h.expectChange(b, "vdpu0", "c1")
	h.expectSilence(b)

	h.set("vdpu0", "c4")
	h.expectChange(a, "vdpu0", "c4")
	h.expectSilence(b)
}

func TestBridgeDoesNotResendChanges(t *testing.T) {
	t.Parallel()

	h := startBridge(t)
	defer h.stop()

	a := h.register(pathA)
	require.True(t, h.control(a, payload.EncodeSubscribe(pathA)).IsOK())
	h.waitSubscribers(1)

	h.set("vdpu0", "c1")
	h.set("vdpu0", "c2")
	h.expectChange(a, "vdpu0", "c1")
	id2 := h.expectChange(a, "vdpu0", "c2")

	// only c2 is acknowledged
	_, err := a.Send(h.ctx, bus.OutgoingMessage{
		Destination: bridgePath,
		Body:        &bus.Response{RequestID: id2, Code: bus.CodeOK},
	})
	require.Nil(t, err)
	for i := 0; i < 5; i++ {
		h.clk.Add(5 * time.Second)
	}
	h.expectSilence(a)
	require.Equal(t, 1, h.bridge.NumSubscribers())
}

func TestBridgeSubscriptionIsIdempotent(t *testing.T) {
	t.Parallel()

	h := startBridge(t)
	defer h.stop()

	a := h.register(pathA)
	c := h.register(pathC)
	require.True(t, h.control(a, payload.EncodeSubscribe(pathA)).IsOK())
	require.True(t, h.control(a, payload.EncodeSubscribe(pathA)).IsOK())
	// unsubscribing an absent subscriber is a no-op
	require.True(t, h.control(c, payload.EncodeUnsubscribe(pathB)).IsOK())
	h.waitSubscribers(1)

	// a subscribed twice but receives every change once
	h.set("vdpu0", "c1")
	h.set("vdpu0", "c2")
	h.expectChange(a, "vdpu0", "c1")
	h.expectChange(a, "vdpu0", "c2")
	h.expectSilence(a)
	h.expectSilence(c)

	// anyone may unsubscribe a subscriber
	require.True(t, h.control(c, payload.EncodeUnsubscribe(pathA)).IsOK())
	require.True(t, h.control(c, payload.EncodeUnsubscribe(pathA)).IsOK())
	h.waitSubscribers(0)
	h.set("vdpu0", "c3")
	h.expectSilence(a)
}

func TestBridgeRejectsMalformedControl(t *testing.T) {
	t.Parallel()

	h := startBridge(t)
	defer h.stop()

	a := h.register(pathA)
	require.True(t, h.control(a, payload.EncodeSubscribe(pathA)).IsOK())
	h.waitSubscribers(1)

	for _, data := range []string{`garbage`, `{"Subscribe":{}}`, `{"Drop":{"subscriber":"r.c.n/a/b"}}`} {
		resp := h.control(a, []byte(data))
		require.False(t, resp.IsOK())
		require.Equal(t, "RA:ErrInvalidPayload", resp.Code)
	}
	require.Equal(t, 1, h.bridge.NumSubscribers())

	h.set("vdpu0", "c1")
	h.expectChange(a, "vdpu0", "c1")
}

func TestBridgeDeletesAreForwarded(t *testing.T) {
	t.Parallel()

	h := startBridge(t)
	defer h.stop()

	a := h.register(pathA)
	require.True(t, h.control(a, payload.EncodeSubscribe(pathA)).IsOK())
	h.waitSubscribers(1)

	require.Nil(t, h.src.Del(h.ctx, "vdpu0"))
	msg, err := a.Recv(h.ctx)
	require.Nil(t, err)
	kfv, err := payload.DecodeKeyOpFieldValues(msg.Body.(*bus.Request).Payload)
	require.Nil(t, err)
	require.Equal(t, swss.KeyOpFieldValues{Key: "vdpu0", Operation: swss.OpDel, FieldValues: swss.FieldValues{}}, kfv)
}

func TestBridgeWithoutOutbox(t *testing.T) {
	t.Parallel()

	src := table.NewQueueTable(tableID)
	b := NewConsumerBridge(src, 1)
	require.Nil(t, src.Set(context.Background(), "vdpu0", swss.FieldValues{"state": "c1"}))

	// the watcher waits for the outbox until it is closed
	select {
	case <-b.Done():
		t.Fatal("watcher exited before close")
	case <-time.After(50 * time.Millisecond):
	}
	require.Nil(t, b.Close())
	require.True(t, cerrors.Is(src.Set(context.Background(), "vdpu0", nil), cerrors.ErrTableClosed))
}

func TestBridgeTableBroken(t *testing.T) {
	t.Parallel()

	src := table.NewQueueTable(tableID)
	b := NewConsumerBridge(src, 1)
	require.Nil(t, src.Close())
	<-b.Done()
	require.True(t, cerrors.Is(b.Err(), cerrors.ErrTableClosed))

	err := b.HandleRequest(context.Background(), nil, nil, pathA, payload.EncodeSubscribe(pathA))
	require.True(t, cerrors.Is(err, cerrors.ErrTableClosed))
	require.True(t, cerrors.Is(b.Close(), cerrors.ErrTableClosed))
}
