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

package actor

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/rowactor/pkg/bridge/payload"
	"github.com/pingcap/rowactor/pkg/bus"
	"github.com/pingcap/rowactor/pkg/clock"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
	"github.com/pingcap/rowactor/pkg/table"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaintenanceInterval is the default period of driver maintenance.
	DefaultMaintenanceInterval = time.Second
	// DefaultResubscribeInterval is the default period at which
	// subscriptions are renewed.
	DefaultResubscribeInterval = 30 * time.Second
)

// Option configures a Driver.
type Option func(d *Driver)

// WithInput feeds the changes of t into the input tables of the actor.
// Only the given rows are tracked; with no rows, every row of t is.
func WithInput(t table.InputTable, rows ...string) Option {
	return func(d *Driver) {
		d.addInput(t, rows)
	}
}

// WithOutput writes the dirty output tables of the actor that belong to
// t.ID() back to t.
func WithOutput(t table.OutputTable) Option {
	return func(d *Driver) {
		d.outputs[t.ID().Owned()] = t
	}
}

// WithOutputRow registers an output table of the actor with its initial
// row. Output tables without a matching WithOutput are internal state.
func WithOutputRow(key swss.Key, fvs swss.FieldValues) Option {
	return func(d *Driver) {
		d.state.AddOutputTable(key, fvs)
	}
}

// WithSubscription subscribes the actor to the consumer bridge at bridge,
// which forwards the changes of table tid. Only the given rows are
// tracked; with no rows, every row is.
func WithSubscription(bridge bus.ServicePath, tid swss.TableID, rows ...string) Option {
	return func(d *Driver) {
		q := table.NewQueueTable(tid)
		d.subscriptions[bridge] = q
		d.addInput(q, rows)
	}
}

// WithClock sets the clock of the maintenance timer and of resends.
func WithClock(clk clock.Clock) Option {
	return func(d *Driver) {
		d.clock = clk
	}
}

// WithMaintenanceInterval sets the period of maintenance.
func WithMaintenanceInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.maintenanceInterval = interval
	}
}

// WithResubscribeInterval sets how often the driver subscribes to its
// bridges again. A bridge drops a subscriber it failed to deliver to, so
// renewing lets the actor recover. With zero, a subscription is only
// renewed after the subscribe request itself failed.
func WithResubscribeInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.resubscribeInterval = interval
	}
}

// WithResendConfig sets how unacknowledged requests are resent.
func WithResendConfig(config ResendConfig) Option {
	return func(d *Driver) {
		d.resendConfig = config
	}
}

type inputBinding struct {
	table table.InputTable
	// all rows of the table are tracked
	trackAll bool
}

// Driver drives a single actor. It owns the actor's State, and invokes
// the actor's callbacks on bus messages, input table changes and periodic
// maintenance, from a single goroutine.
type Driver struct {
	actor  Actor
	client *bus.Client
	state  *State
	outbox *Outbox
	id     string

	clock               clock.Clock
	maintenanceInterval time.Duration
	resendConfig        ResendConfig
	resend              *resendLedger

	inputs        map[swss.TableID]*inputBinding
	outputs       map[swss.TableID]table.OutputTable
	subscriptions map[bus.ServicePath]*table.QueueTable

	resubscribeInterval time.Duration
	lastSubscribe       time.Time
	// bridges to subscribe to again at the next maintenance
	resubscribe         map[bus.ServicePath]struct{}

	// keys of input tables whose last HandleTableUpdate failed
	failedUpdates map[swss.Key]struct{}

	metrics *driverMetrics
}

// NewDriver creates a Driver running actor on client.
func NewDriver(actor Actor, client *bus.Client, opts ...Option) *Driver {
	d := &Driver{
		actor:               actor,
		client:              client,
		state:               NewState(),
		outbox:              newOutbox(),
		id:                  client.Path().String(),
		clock:               clock.New(),
		maintenanceInterval: DefaultMaintenanceInterval,
		resendConfig:        DefaultResendConfig(),
		resubscribeInterval: DefaultResubscribeInterval,
		inputs:              make(map[swss.TableID]*inputBinding),
		outputs:             make(map[swss.TableID]table.OutputTable),
		subscriptions:       make(map[bus.ServicePath]*table.QueueTable),
		resubscribe:         make(map[bus.ServicePath]struct{}),
		failedUpdates:       make(map[swss.Key]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.resend = newResendLedger(d.resendConfig, d.clock)
	d.metrics = newDriverMetrics(d.id)
	return d
}

func (d *Driver) addInput(t table.InputTable, rows []string) {
	tid := t.ID().Owned()
	if _, ok := d.inputs[tid]; ok {
		log.Panic("input table is added twice", zap.Stringer("table", tid))
	}
	d.inputs[tid] = &inputBinding{table: t, trackAll: len(rows) == 0}
	for _, row := range rows {
		d.state.AddInputTable(tid.Key(row), nil)
	}
}

// ID returns the bus path of the actor as a string.
func (d *Driver) ID() string {
	return d.id
}

type recvResult struct {
	msg bus.Message
	err error
}

// Run runs the actor until ctx is done, or an unrecoverable error occurs.
// Errors returned by callbacks are not unrecoverable. Failing to read from
// the bus or from an input table is.
func (d *Driver) Run(ctx context.Context) error {
	defer d.metrics.unregister()
	defer func() {
		for _, q := range d.subscriptions {
			_ = q.Close()
		}
	}()

	eg, ctx := errgroup.WithContext(ctx)
	recvCh := make(chan bus.Message, 16)
	eg.Go(func() error {
		for {
			msg, err := d.client.Recv(ctx)
			if err != nil {
				return errors.Trace(err)
			}
			select {
			case <-ctx.Done():
				return errors.Trace(ctx.Err())
			case recvCh <- msg:
			}
		}
	})
	eg.Go(func() error {
		return d.run(ctx, recvCh)
	})
	return eg.Wait()
}

func (d *Driver) run(ctx context.Context, recvCh <-chan bus.Message) error {
	ticker := d.clock.Ticker(d.maintenanceInterval)
	defer ticker.Stop()

	if err := d.invoke("init", func() error {
		return d.actor.Init(ctx, d.outbox)
	}); err != nil {
		log.Warn("actor init failed", zap.String("actor", d.id), zap.Error(err))
		return errors.Trace(err)
	}
	d.subscribeAll()
	if err := d.flush(ctx); err != nil {
		return errors.Trace(err)
	}

	var (
		readyCh <-chan swss.TableID
		errCh   <-chan error
		mux     *table.Multiplexer
	)
	if len(d.inputs) > 0 {
		tables := make([]table.InputTable, 0, len(d.inputs))
		for _, in := range d.inputs {
			tables = append(tables, in.table)
		}
		mux = table.NewMultiplexer(tables...)
		mux.Start(ctx)
		defer mux.Close()
		readyCh, errCh = mux.Ready(), mux.Err()
	}

	log.Info("actor driver started",
		zap.String("actor", d.id),
		zap.Int("inputTables", len(d.inputs)),
		zap.Int("subscriptions", len(d.subscriptions)),
		zap.Duration("maintenanceInterval", d.maintenanceInterval))

	for {
		var err error
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-ticker.C:
			err = d.maintenance(ctx)
		case msg := <-recvCh:
			err = d.handleMessage(ctx, msg)
		case tid := <-readyCh:
			err = d.handleTableReady(ctx, mux, tid)
		case err = <-errCh:
			log.Warn("input table is broken, stop the actor",
				zap.String("actor", d.id), zap.Error(err))
		case <-d.outbox.notify:
		}
		if err != nil {
			return errors.Trace(err)
		}
		if err := d.flush(ctx); err != nil {
			return errors.Trace(err)
		}
	}
}

// invoke calls a callback of the actor. A panicking callback is reported
// as ErrHandlerPanicked.
func (d *Driver) invoke(callback string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cerrors.ErrHandlerPanicked.GenWithStackByArgs(r)
			log.Error("actor callback panicked",
				zap.String("actor", d.id),
				zap.String("callback", callback),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
		if err != nil {
			d.metrics.handlerFailures.WithLabelValues(callback).Inc()
		}
	}()
	return fn()
}

func (d *Driver) handleMessage(ctx context.Context, msg bus.Message) error {
	switch body := msg.Body.(type) {
	case *bus.Request:
		if q, ok := d.subscriptions[msg.Source]; ok {
			d.outbox.Send(bus.NewResponse(msg, d.handleSubscriptionEvent(q, body.Payload)))
			return nil
		}
		err := d.invoke("request", func() error {
			return d.actor.HandleRequest(ctx, d.state, d.outbox, msg.Source, body.Payload)
		})
		if err != nil {
			log.Debug("actor failed to handle request",
				zap.String("actor", d.id),
				zap.Stringer("source", msg.Source),
				zap.Error(err))
		}
		d.metrics.requests.Inc()
		d.outbox.Send(bus.NewResponse(msg, err))
	case *bus.Response:
		if !d.resend.ack(body.RequestID) {
			return nil
		}
		if !body.IsOK() {
			log.Warn("request is rejected",
				zap.String("actor", d.id),
				zap.Stringer("destination", msg.Source),
				zap.Uint64("requestID", uint64(body.RequestID)),
				zap.String("code", body.Code),
				zap.String("message", body.ErrorMessage))
		}
	case *bus.Failure:
		d.resend.ack(body.RequestID)
		d.handleMessageFailure(ctx, body.RequestID, body.Destination)
	default:
		log.Panic("unknown message body", zap.Any("body", msg.Body))
	}
	return nil
}

func (d *Driver) handleSubscriptionEvent(q *table.QueueTable, data []byte) error {
	kfv, err := payload.DecodeKeyOpFieldValues(data)
	if err != nil {
		log.Warn("drop malformed row change",
			zap.String("actor", d.id),
			zap.Stringer("table", q.ID()),
			zap.Error(err))
		return errors.Trace(err)
	}
	return errors.Trace(q.Push(kfv))
}

func (d *Driver) subscribeAll() {
	for bridge := range d.subscriptions {
		d.subscribe(bridge)
	}
	d.lastSubscribe = d.clock.Now()
}

func (d *Driver) subscribe(bridge bus.ServicePath) {
	d.outbox.Request(bridge, payload.EncodeSubscribe(d.client.Path()))
	delete(d.resubscribe, bridge)
}

func (d *Driver) handleMessageFailure(ctx context.Context, id bus.MessageID, dest bus.ServicePath) {
	d.metrics.deliveryFailures.Inc()
	if _, ok := d.subscriptions[dest]; ok {
		log.Info("subscribe request failed, retry later",
			zap.String("actor", d.id),
			zap.Stringer("bridge", dest))
		d.resubscribe[dest] = struct{}{}
		return
	}
	h, ok := d.actor.(MessageFailureHandler)
	if !ok {
		log.Debug("request is not delivered",
			zap.String("actor", d.id),
			zap.Uint64("requestID", uint64(id)),
			zap.Stringer("destination", dest))
		return
	}
	_ = d.invoke("failure", func() error {
		h.HandleMessageFailure(ctx, d.outbox, id, dest)
		return nil
	})
}

func (d *Driver) handleTableReady(ctx context.Context, mux *table.Multiplexer, tid swss.TableID) error {
	in := d.inputs[tid]
	kfvs, err := in.table.Pops(ctx)
	if err != nil {
		log.Warn("pop changes from input table failed",
			zap.String("actor", d.id), zap.Stringer("table", tid), zap.Error(err))
		return errors.Trace(err)
	}
	mux.Resume(tid)

	for _, kfv := range kfvs {
		key, ok := d.state.applyInput(tid, kfv, in.trackAll)
		if !ok {
			continue
		}
		d.handleTableUpdate(ctx, key)
	}
	return nil
}

func (d *Driver) handleTableUpdate(ctx context.Context, key swss.Key) {
	err := d.invoke("table-update", func() error {
		return d.actor.HandleTableUpdate(ctx, d.state, d.outbox, key)
	})
	if err != nil {
		if _, ok := d.failedUpdates[key]; !ok {
			log.Warn("actor failed to handle table update, retry later",
				zap.String("actor", d.id),
				zap.Stringer("key", key),
				zap.Error(err))
		}
		d.failedUpdates[key] = struct{}{}
	} else {
		delete(d.failedUpdates, key)
	}
	d.metrics.failedUpdates.Set(float64(len(d.failedUpdates)))
}

// maintenance resends unacknowledged requests and retries failed table
// updates. Dirty outputs are retried by the flush that follows.
func (d *Driver) maintenance(ctx context.Context) error {
	resend, exhausted := d.resend.expired()
	for _, m := range resend {
		if err := d.client.Resend(ctx, m.id, m.msg); err != nil {
			return errors.Trace(err)
		}
		d.metrics.resends.Inc()
	}
	for _, m := range exhausted {
		err := cerrors.ErrResendExhausted.GenWithStackByArgs(m.id, m.msg.Destination.String(), m.tries)
		log.Warn("give up resending request", zap.String("actor", d.id), zap.Error(err))
		d.handleMessageFailure(ctx, m.id, m.msg.Destination)
	}

	if d.resubscribeInterval > 0 && d.clock.Since(d.lastSubscribe) >= d.resubscribeInterval {
		d.subscribeAll()
	} else {
		for bridge := range d.resubscribe {
			d.subscribe(bridge)
		}
	}

	if len(d.failedUpdates) > 0 {
		keys := sortedKeys(d.failedUpdates)
		for _, key := range keys {
			d.handleTableUpdate(ctx, key)
		}
	}
	d.metrics.unacked.Set(float64(d.resend.len()))
	return nil
}

// flush writes back dirty output tables and sends queued messages.
func (d *Driver) flush(ctx context.Context) error {
	for _, out := range d.state.DrainDirtyOutputs() {
		sink, ok := d.outputs[out.Key.TableID()]
		if !ok {
			continue
		}
		var err error
		if out.Deleted {
			err = sink.Del(ctx, out.Key.Row)
		} else {
			err = sink.Set(ctx, out.Key.Row, out.FieldValues)
		}
		if err != nil {
			log.Warn("write output table failed, retry later",
				zap.String("actor", d.id),
				zap.Stringer("key", out.Key),
				zap.Error(err))
			d.metrics.writeFailures.Inc()
			d.state.markDirty(out.Key)
		}
	}

	for _, out := range d.outbox.take() {
		id, err := d.client.Send(ctx, out.msg)
		if err != nil {
			return errors.Trace(err)
		}
		if _, ok := out.msg.Body.(*bus.Request); ok && !out.untracked {
			d.resend.track(id, out.msg)
		}
	}
	d.metrics.unacked.Set(float64(d.resend.len()))
	return nil
}
